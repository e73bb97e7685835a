package rest

import (
	"context"

	"github.com/synckairos/synckairos/internal/session"
)

// EngineAPI is the subset of the Session Engine RS depends on.
type EngineAPI interface {
	CreateSession(ctx context.Context, cfg session.CreateConfig) (*session.Session, error)
	GetCurrentState(ctx context.Context, id string) (*session.Session, error)
	DeleteSession(ctx context.Context, id string) error
	StartSession(ctx context.Context, id string) (*session.Session, error)
	SwitchCycle(ctx context.Context, id string, currentPid, nextPid string) (*session.SwitchResult, error)
	PauseSession(ctx context.Context, id string) (*session.Session, error)
	ResumeSession(ctx context.Context, id string) (*session.Session, error)
	CompleteSession(ctx context.Context, id string) (*session.Session, error)
}
