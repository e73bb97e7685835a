// Package recovery is the Recovery Loader (RL): invoked by the state
// store on a miss, it reconstructs the most recent known session state
// from the audit database and tags it as a recovered, possibly-stale
// snapshot.
package recovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/synckairos/synckairos/internal/clock"
	"github.com/synckairos/synckairos/internal/session"
)

// SnapshotReader is satisfied by the audit database repo.
type SnapshotReader interface {
	LatestSnapshot(ctx context.Context, sessionID string) (*session.Session, error)
}

// Loader implements store.Recoverer.
type Loader struct {
	reader SnapshotReader
	clock  clock.Clock
	log    *zap.SugaredLogger
}

func NewLoader(reader SnapshotReader, clk clock.Clock, log *zap.SugaredLogger) *Loader {
	if clk == nil {
		clk = clock.Default
	}
	return &Loader{reader: reader, clock: clk, log: log}
}

// Recover returns the latest durable snapshot for sessionID tagged with
// recovery metadata ("recovered": true, "recovered_at", and a
// staleness warning bounded at roughly 2 seconds, the audit
// pipeline's typical write lag).
func (l *Loader) Recover(ctx context.Context, sessionID string) (*session.Session, error) {
	s, err := l.reader.LatestSnapshot(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}

	now := l.clock.Now()
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	s.Metadata["recovered"] = true
	s.Metadata["recovered_at"] = now.Format(time.RFC3339Nano)
	s.Metadata["recovery_warning"] = "state reconstructed from the audit log; may be up to 2s stale"

	l.log.Warnw("recovery: reconstructed session from audit log", "session_id", sessionID)
	return s, nil
}
