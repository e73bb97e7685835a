package db

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/synckairos/synckairos/internal/errs"
	"github.com/synckairos/synckairos/internal/session"
)

// Repo is the GORM-backed audit database repository.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// RecordEvent persists one durable audit entry: it upserts the session's
// latest snapshot and inserts an immutable event row in the same
// transaction ("writeAuditEvent"), mirroring this lineage's
// transactional-insert idiom but upserting the session row instead of
// ignoring conflicts, since the snapshot must always reflect the latest
// state.
func (r *Repo) RecordEvent(ctx context.Context, s *session.Session, eventType, participantID string, timeRemainingMs int64, occurredAt time.Time) error {
	stateJSON, err := json.Marshal(s)
	if err != nil {
		return errs.Internal(err)
	}

	var metadataJSON json.RawMessage
	if s.Metadata != nil {
		metadataJSON, err = json.Marshal(s.Metadata)
		if err != nil {
			return errs.Internal(err)
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sessRow := SyncSession{
			SessionID:         s.SessionID,
			SyncMode:          string(s.SyncMode),
			Status:            string(s.Status),
			Version:           s.Version,
			StateJSON:         stateJSON,
			StartedAt:         s.SessionStartedAt,
			CompletedAt:       s.SessionCompletedAt,
			FinalStatus:       string(s.Status),
			TotalParticipants: len(s.Participants),
			Metadata:          metadataJSON,
			CreatedAt:         s.CreatedAt,
			UpdatedAt:         s.UpdatedAt,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"sync_mode", "status", "version", "state_json",
				"started_at", "completed_at", "final_status",
				"total_participants", "metadata", "updated_at",
			}),
		}).Create(&sessRow).Error; err != nil {
			return err
		}

		evt := SyncEvent{
			SessionID:       s.SessionID,
			EventType:       eventType,
			ParticipantID:   participantID,
			TimeRemainingMs: timeRemainingMs,
			StateJSON:       stateJSON,
			Metadata:        metadataJSON,
			OccurredAt:      occurredAt,
		}
		return tx.Create(&evt).Error
	})
}

// LatestSnapshot returns the most recently recorded state for a session,
// used by the Recovery Loader on a store miss.
func (r *Repo) LatestSnapshot(ctx context.Context, sessionID string) (*session.Session, error) {
	var row SyncSession
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errs.StoreUnavailable(err)
	}

	var s session.Session
	if err := json.Unmarshal(row.StateJSON, &s); err != nil {
		return nil, errs.StateDeserialization(err)
	}
	return &s, nil
}

// PutIdempotencyKey records a durable copy of an idempotent response so it
// survives past the Redis cache's 24h TTL.
func (r *Repo) PutIdempotencyKey(ctx context.Context, keyHash, sessionID string, response []byte, now time.Time) error {
	row := IdempotencyKey{Key: keyHash, SessionID: sessionID, ResponseRaw: response, CreatedAt: now}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

// Ping verifies audit-database reachability for /health.
func (r *Repo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return errs.StoreUnavailable(err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errs.StoreUnavailable(err)
	}
	return nil
}
