// Package db is the audit database layer: a durable, append-only event
// log plus a queryable session-snapshot table, used both by the audit
// worker (writer) and the Recovery Loader (reader).
// Grounded on models/recorder/record.go's GORM table/repo shape.
package db

import (
	"encoding/json"
	"time"
)

// SyncSession is the upserted latest-known-snapshot row, carrying the
// full column set spec.md §6 lists for sync_sessions: the lifecycle
// timestamps and participant count are duplicated out of state_json so
// they can be queried/indexed without a JSON path expression.
type SyncSession struct {
	SessionID         string          `gorm:"column:session_id;type:varchar(36);primaryKey"`
	SyncMode          string          `gorm:"column:sync_mode;type:varchar(32);not null"`
	Status            string          `gorm:"column:status;type:varchar(16);not null"`
	Version           int64           `gorm:"column:version;not null"`
	StateJSON         json.RawMessage `gorm:"column:state_json;type:mediumtext;not null"`
	StartedAt         *time.Time      `gorm:"column:started_at;type:datetime(3)"`
	CompletedAt       *time.Time      `gorm:"column:completed_at;type:datetime(3)"`
	FinalStatus       string          `gorm:"column:final_status;type:varchar(16)"`
	TotalParticipants int             `gorm:"column:total_participants;not null"`
	Metadata          json.RawMessage `gorm:"column:metadata;type:mediumtext"`
	CreatedAt         time.Time       `gorm:"column:created_at;type:datetime(3);not null"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;type:datetime(3);not null"`
}

func (SyncSession) TableName() string { return "sync_sessions" }

// SyncEvent is one immutable audit-log row, indexed on
// (session_id, occurred_at desc) for most-recent-event-per-session
// lookups. The Recovery Loader reads the sync_sessions snapshot, not
// this table.
type SyncEvent struct {
	ID              uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	SessionID       string          `gorm:"column:session_id;type:varchar(36);not null;index:idx_session_occurred,priority:1"`
	EventType       string          `gorm:"column:event_type;type:varchar(32);not null"`
	ParticipantID   string          `gorm:"column:participant_id;type:varchar(36)"`
	TimeRemainingMs int64           `gorm:"column:time_remaining_ms"`
	StateJSON       json.RawMessage `gorm:"column:state_json;type:mediumtext;not null"`
	Metadata        json.RawMessage `gorm:"column:metadata;type:mediumtext"`
	OccurredAt      time.Time       `gorm:"column:occurred_at;type:datetime(3);not null;index:idx_session_occurred,priority:2,sort:desc"`
}

func (SyncEvent) TableName() string { return "sync_events" }

// IdempotencyKey is a durable copy of an idempotent switch response,
// written by Repo.PutIdempotencyKey. The REST switch path looks up
// replays in the Redis cache only and does not read this table.
type IdempotencyKey struct {
	Key         string    `gorm:"column:key_hash;type:varchar(128);primaryKey"`
	SessionID   string    `gorm:"column:session_id;type:varchar(36);not null"`
	ResponseRaw []byte    `gorm:"column:response_raw;type:mediumblob"`
	CreatedAt   time.Time `gorm:"column:created_at;type:datetime(3);not null"`
}

func (IdempotencyKey) TableName() string { return "idempotency_keys" }
