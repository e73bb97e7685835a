package queue

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/synckairos/synckairos/internal/clock"
	"github.com/synckairos/synckairos/internal/session"
)

// Enqueuer adapts Producer to session.AuditEnqueuer: every call is
// fire-and-forget from the engine's perspective ("the engine
// never blocks on or fails because of the audit pipeline").
type Enqueuer struct {
	producer *Producer
	clock    clock.Clock
	log      *zap.SugaredLogger
}

func NewEnqueuer(p *Producer, clk clock.Clock, log *zap.SugaredLogger) *Enqueuer {
	if clk == nil {
		clk = clock.Default
	}
	return &Enqueuer{producer: p, clock: clk, log: log}
}

func (e *Enqueuer) Enqueue(ctx context.Context, sessionID string, state *session.Session, eventType string, participantID string, timeRemainingMs int64) {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		e.log.Errorw("audit enqueue: failed to marshal state", "session_id", sessionID, "err", err)
		return
	}

	job := Job{
		SessionID:       sessionID,
		EventType:       eventType,
		ParticipantID:   participantID,
		TimeRemainingMs: timeRemainingMs,
		StateJSON:       stateJSON,
		EnqueuedAt:      e.clock.Now(),
		Attempt:         0,
	}

	if err := e.producer.Publish(job); err != nil {
		e.log.Errorw("audit enqueue: publish failed", "session_id", sessionID, "event_type", eventType, "err", err)
	}
}
