// Package session implements the session state machine and cycle-switch
// hot path, the Session Engine (SE).
package session

import "time"

// SyncMode selects how time is billed across participants.
type SyncMode string

const (
	ModePerParticipant SyncMode = "per_participant"
	ModePerCycle       SyncMode = "per_cycle"
	ModePerGroup       SyncMode = "per_group"
	ModeGlobal         SyncMode = "global"
	ModeCountUp        SyncMode = "count_up"
)

// Status is the session lifecycle state ( valid transitions).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusExpired   Status = "expired"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Participant is one timed entity within a Session.
type Participant struct {
	ParticipantID    string  `json:"participant_id"`
	GroupID          string  `json:"group_id,omitempty"`
	ParticipantIndex int     `json:"participant_index"`
	TotalTimeMs      int64   `json:"total_time_ms"`
	TimeUsedMs       int64   `json:"time_used_ms"`
	TimeRemainingMs  int64   `json:"time_remaining_ms"`
	CycleCount       int64   `json:"cycle_count"`
	IsActive         bool    `json:"is_active"`
	HasExpired       bool    `json:"has_expired"`
}

// Session is the authoritative, versioned timing state for one
// multi-participant synchronization session.
type Session struct {
	SessionID           string            `json:"session_id"`
	SyncMode            SyncMode          `json:"sync_mode"`
	Status              Status            `json:"status"`
	ActiveParticipantID string            `json:"active_participant_id,omitempty"`
	ActiveGroupID       string            `json:"active_group_id,omitempty"`
	CycleStartedAt      *time.Time        `json:"cycle_started_at"`
	SessionStartedAt    *time.Time        `json:"session_started_at"`
	SessionCompletedAt  *time.Time        `json:"session_completed_at"`
	TimePerCycleMs      int64             `json:"time_per_cycle_ms,omitempty"`
	IncrementMs         int64             `json:"increment_ms,omitempty"`
	MaxTimeMs           int64             `json:"max_time_ms,omitempty"`
	AutoAdvance         bool              `json:"auto_advance"`
	ActionOnTimeout     map[string]any    `json:"action_on_timeout,omitempty"`
	Version             int64             `json:"version"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
	Metadata             map[string]any   `json:"metadata,omitempty"`
	Participants          []Participant   `json:"participants"`

	// ExpiredParticipantID is set on the state when the most recent
	// switch ended the session via the end_session timeout policy;
	// zero value otherwise.
	ExpiredParticipantID string `json:"expired_participant_id,omitempty"`
}

// ActionOnTimeoutType extracts the policy discriminator recognized by the
// engine. Every value other than "end_session", including an absent
// policy, means "continue to the next participant".
func (s *Session) ActionOnTimeoutType() string {
	if s.ActionOnTimeout == nil {
		return ""
	}
	t, _ := s.ActionOnTimeout["type"].(string)
	return t
}

// Clone deep-copies a Session so callers can mutate a working copy before
// attempting a CAS write without aliasing the original.
func (s *Session) Clone() *Session {
	cp := *s
	if s.CycleStartedAt != nil {
		t := *s.CycleStartedAt
		cp.CycleStartedAt = &t
	}
	if s.SessionStartedAt != nil {
		t := *s.SessionStartedAt
		cp.SessionStartedAt = &t
	}
	if s.SessionCompletedAt != nil {
		t := *s.SessionCompletedAt
		cp.SessionCompletedAt = &t
	}
	cp.Participants = make([]Participant, len(s.Participants))
	copy(cp.Participants, s.Participants)
	if s.ActionOnTimeout != nil {
		cp.ActionOnTimeout = make(map[string]any, len(s.ActionOnTimeout))
		for k, v := range s.ActionOnTimeout {
			cp.ActionOnTimeout[k] = v
		}
	}
	if s.Metadata != nil {
		cp.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// ActiveParticipant returns a pointer into s.Participants for the
// currently active participant, or nil if none is active.
func (s *Session) ActiveParticipant() *Participant {
	for i := range s.Participants {
		if s.Participants[i].IsActive {
			return &s.Participants[i]
		}
	}
	return nil
}

// ParticipantByID returns a pointer into s.Participants matching id, or nil.
func (s *Session) ParticipantByID(id string) *Participant {
	for i := range s.Participants {
		if s.Participants[i].ParticipantID == id {
			return &s.Participants[i]
		}
	}
	return nil
}

// ParticipantByIndex returns a pointer into s.Participants matching idx, or nil.
func (s *Session) ParticipantByIndex(idx int) *Participant {
	for i := range s.Participants {
		if s.Participants[i].ParticipantIndex == idx {
			return &s.Participants[i]
		}
	}
	return nil
}

// CreateConfig is the validated input to CreateSession ( creation payload).
type CreateConfig struct {
	SessionID       string
	SyncMode        SyncMode
	Participants    []ParticipantConfig
	TimePerCycleMs  int64
	IncrementMs     int64
	MaxTimeMs       int64
	ActionOnTimeout map[string]any
	AutoAdvance     bool
	Metadata        map[string]any
}

// ParticipantConfig is one entry of CreateConfig.Participants.
type ParticipantConfig struct {
	ParticipantID    string
	ParticipantIndex *int
	TotalTimeMs      int64
	GroupID          string
}

// SwitchResult is returned from SwitchCycle ("Result").
type SwitchResult struct {
	State                *Session
	ExpiredParticipantID string
	ActionApplied        string
}
