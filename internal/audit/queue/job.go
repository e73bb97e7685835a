// Package queue is the Audit Queue (AQ): a durable, at-least-once job
// pipeline between the Session Engine's fire-and-forget Enqueue calls
// and the audit database writer. Grounded on
// infrastructures/mq/kmq's producer/consumer/DLQ shape, simplified from
// partition-gated batch commits to the job-attempt/backoff/DLQ lifecycle
// this spec names explicitly.
package queue

import (
	"encoding/json"
	"time"
)

// Job is the wire payload carried on the audit jobs topic.
type Job struct {
	SessionID       string          `json:"session_id"`
	EventType       string          `json:"event_type"`
	ParticipantID   string          `json:"participant_id,omitempty"`
	TimeRemainingMs int64           `json:"time_remaining_ms"`
	StateJSON       json.RawMessage `json:"state_json"`
	EnqueuedAt      time.Time       `json:"enqueued_at"`
	Attempt         int             `json:"attempt"`
}

// DLQEnvelope wraps a job that exhausted its retry budget ("escalation").
type DLQEnvelope struct {
	Job       Job    `json:"job"`
	LastError string `json:"last_error"`
	FailedAt  time.Time `json:"failed_at"`
}

// Backoff returns the delay before attempt N (1-indexed), doubling from
// baseMs and capped at maxMs (2s base, 32s cap in production).
func Backoff(attempt int, baseMs, maxMs int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := baseMs
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxMs {
			delay = maxMs
			break
		}
	}
	return time.Duration(delay) * time.Millisecond
}
