package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/synckairos/synckairos/internal/clock"
	"github.com/synckairos/synckairos/internal/errs"
)

// Store is the subset of the State Store Client (SSC) the engine
// depends on. internal/store.Client satisfies it.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Create(ctx context.Context, s *Session) error
	// Update performs a compare-and-set write: it fails with an
	// *errs.Error of KindConcurrentModification if the stored version
	// does not equal expectedVersion, or KindSessionNotFound if the key
	// is absent.
	Update(ctx context.Context, id string, s *Session, expectedVersion int64) error
	Delete(ctx context.Context, id string) error
	// PublishUpdate is fire-and-forget; the engine calls it after a
	// successful CAS write and never fails the caller's request if it
	// errors. A nil state publishes a tombstone for id.
	PublishUpdate(ctx context.Context, id string, s *Session)
	PublishWS(ctx context.Context, sessionID string, typ string, state *Session, expiredParticipantID, action string)
}

// AuditEnqueuer is the subset of the Audit Queue (AQ) the engine depends
// on. Enqueue never blocks the caller and never returns an error that
// fails the request; failures are logged instead.
type AuditEnqueuer interface {
	Enqueue(ctx context.Context, sessionID string, state *Session, eventType string, participantID string, timeRemainingMs int64)
}

// Engine is the Session Engine (SE): it owns the state machine, the
// elapsed-time arithmetic, and the optimistic-lock CAS discipline.
type Engine struct {
	store Store
	audit AuditEnqueuer
	clock clock.Clock
	log   *zap.SugaredLogger
}

func NewEngine(store Store, audit AuditEnqueuer, clk clock.Clock, log *zap.SugaredLogger) *Engine {
	if clk == nil {
		clk = clock.Default
	}
	return &Engine{store: store, audit: audit, clock: clk, log: log}
}

func (e *Engine) now() time.Time { return e.clock.Now() }

func (e *Engine) publish(ctx context.Context, s *Session, eventType string, participantID string, timeRemainingMs int64) {
	e.store.PublishUpdate(ctx, s.SessionID, s)
	e.store.PublishWS(ctx, s.SessionID, "STATE_UPDATE", s, "", "")
	e.audit.Enqueue(ctx, s.SessionID, s, eventType, participantID, timeRemainingMs)
}

// CreateSession validates cfg and persists a brand-new pending session
// ( createSession).
func (e *Engine) CreateSession(ctx context.Context, cfg CreateConfig) (*Session, error) {
	if err := ValidateCreateConfig(cfg); err != nil {
		return nil, err
	}

	now := e.now()
	participants := make([]Participant, len(cfg.Participants))
	for i, pc := range cfg.Participants {
		idx := i
		if pc.ParticipantIndex != nil {
			idx = *pc.ParticipantIndex
		}
		participants[i] = Participant{
			ParticipantID:    pc.ParticipantID,
			GroupID:          pc.GroupID,
			ParticipantIndex: idx,
			TotalTimeMs:      pc.TotalTimeMs,
			TimeUsedMs:       0,
			TimeRemainingMs:  pc.TotalTimeMs,
			CycleCount:       0,
			IsActive:         false,
			HasExpired:       false,
		}
	}

	s := &Session{
		SessionID:       cfg.SessionID,
		SyncMode:        cfg.SyncMode,
		Status:          StatusPending,
		TimePerCycleMs:  cfg.TimePerCycleMs,
		IncrementMs:     cfg.IncrementMs,
		MaxTimeMs:       cfg.MaxTimeMs,
		AutoAdvance:     cfg.AutoAdvance,
		ActionOnTimeout: cfg.ActionOnTimeout,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
		Metadata:        cfg.Metadata,
		Participants:    participants,
	}

	if err := e.store.Create(ctx, s); err != nil {
		return nil, err
	}
	e.publish(ctx, s, "session_created", "", 0)
	return s, nil
}

// StartSession transitions pending→running ( startSession).
func (e *Engine) StartSession(ctx context.Context, id string) (*Session, error) {
	s, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errs.SessionNotFound(id)
	}
	if s.Status != StatusPending {
		return nil, errs.InvalidState("startSession requires status=pending")
	}

	expected := s.Version
	next := s.Clone()
	now := e.now()
	next.Status = StatusRunning
	next.SessionStartedAt = &now
	next.CycleStartedAt = &now
	next.UpdatedAt = now

	if next.SyncMode == ModePerParticipant || next.SyncMode == ModePerGroup || next.SyncMode == ModePerCycle {
		first := next.ParticipantByIndex(0)
		if first != nil {
			first.IsActive = true
			next.ActiveParticipantID = first.ParticipantID
			if first.GroupID != "" {
				next.ActiveGroupID = first.GroupID
			}
		}
	}

	if err := e.store.Update(ctx, id, next, expected); err != nil {
		return nil, err
	}
	e.publish(ctx, next, "session_started", next.ActiveParticipantID, 0)
	return next, nil
}

// applyElapsed bills elapsed time to the active participant, returning
// true if the participant expired.
func applyElapsed(p *Participant, elapsedMs int64, incrementMs, maxTimeMs int64) (expired bool) {
	p.TimeUsedMs += elapsedMs
	p.TotalTimeMs -= elapsedMs
	if p.TotalTimeMs < 0 {
		p.TotalTimeMs = 0
	}
	p.TimeRemainingMs = p.TotalTimeMs

	if p.TotalTimeMs == 0 {
		p.HasExpired = true
		return true
	}
	if incrementMs > 0 {
		p.TotalTimeMs += incrementMs
		if maxTimeMs > 0 && p.TotalTimeMs > maxTimeMs {
			p.TotalTimeMs = maxTimeMs
		}
		p.TimeRemainingMs = p.TotalTimeMs
	}
	return false
}

// SwitchCycle is the hot path, budgeted under 50ms p99.
func (e *Engine) SwitchCycle(ctx context.Context, id string, currentPid, nextPid string) (*SwitchResult, error) {
	s, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errs.SessionNotFound(id)
	}
	if s.Status != StatusRunning {
		return nil, errs.InvalidState("switchCycle requires status=running")
	}

	expected := s.Version
	next := s.Clone()
	now := e.now()

	var elapsedMs int64
	if next.CycleStartedAt != nil {
		elapsedMs = now.Sub(*next.CycleStartedAt).Milliseconds()
	}
	if elapsedMs < 0 {
		elapsedMs = 0
	}

	active := next.ActiveParticipant()
	var expiredID string
	var actionApplied string

	if active != nil {
		wasExpired := applyElapsed(active, elapsedMs, next.IncrementMs, next.MaxTimeMs)
		active.CycleCount++
		active.IsActive = false

		if wasExpired {
			expiredID = active.ParticipantID
		}

		var nextParticipant *Participant
		if nextPid != "" {
			nextParticipant = next.ParticipantByID(nextPid)
			if nextParticipant == nil {
				return nil, errs.ParticipantNotFound(nextPid)
			}
		} else {
			count := len(next.Participants)
			nextIdx := (active.ParticipantIndex + 1) % count
			nextParticipant = next.ParticipantByIndex(nextIdx)
		}

		if wasExpired && next.ActionOnTimeoutType() == "end_session" {
			next.Status = StatusExpired
			next.ExpiredParticipantID = expiredID
			next.CycleStartedAt = nil
			actionApplied = "end_session"
		} else {
			if nextParticipant != nil {
				nextParticipant.IsActive = true
				next.ActiveParticipantID = nextParticipant.ParticipantID
				if nextParticipant.GroupID != "" {
					next.ActiveGroupID = nextParticipant.GroupID
				}
			}
			next.CycleStartedAt = &now
		}
	} else {
		// global/count_up: no active participant to bill; only the cycle
		// clock is reset. MaxTimeMs is not applied on this path.
		next.CycleStartedAt = &now
	}

	next.UpdatedAt = now

	if err := e.store.Update(ctx, id, next, expected); err != nil {
		return nil, err
	}

	eventType := "cycle_switched"
	timeRemaining := int64(0)
	if expiredID != "" {
		eventType = "participant_expired"
		if p := next.ParticipantByID(expiredID); p != nil {
			timeRemaining = p.TimeRemainingMs
		}
		e.store.PublishWS(ctx, next.SessionID, "TIME_EXPIRED", next, expiredID, actionApplied)
	}
	e.store.PublishUpdate(ctx, next.SessionID, next)
	e.store.PublishWS(ctx, next.SessionID, "STATE_UPDATE", next, "", "")
	e.audit.Enqueue(ctx, next.SessionID, next, eventType, expiredID, timeRemaining)

	return &SwitchResult{State: next, ExpiredParticipantID: expiredID, ActionApplied: actionApplied}, nil
}

// PauseSession bills the active participant for elapsed time and halts
// the cycle clock ( pauseSession).
func (e *Engine) PauseSession(ctx context.Context, id string) (*Session, error) {
	s, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errs.SessionNotFound(id)
	}
	if s.Status != StatusRunning {
		return nil, errs.InvalidState("pauseSession requires status=running")
	}

	expected := s.Version
	next := s.Clone()
	now := e.now()

	if active := next.ActiveParticipant(); active != nil && next.CycleStartedAt != nil {
		elapsedMs := now.Sub(*next.CycleStartedAt).Milliseconds()
		if elapsedMs < 0 {
			elapsedMs = 0
		}
		active.TimeUsedMs += elapsedMs
		active.TotalTimeMs -= elapsedMs
		if active.TotalTimeMs < 0 {
			active.TotalTimeMs = 0
		}
		active.TimeRemainingMs = active.TotalTimeMs
	}

	next.CycleStartedAt = nil
	next.Status = StatusPaused
	next.UpdatedAt = now

	if err := e.store.Update(ctx, id, next, expected); err != nil {
		return nil, err
	}
	e.publish(ctx, next, "session_paused", next.ActiveParticipantID, 0)
	return next, nil
}

// ResumeSession resumes the cycle clock ( resumeSession).
func (e *Engine) ResumeSession(ctx context.Context, id string) (*Session, error) {
	s, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errs.SessionNotFound(id)
	}
	if s.Status != StatusPaused {
		return nil, errs.InvalidState("resumeSession requires status=paused")
	}

	expected := s.Version
	next := s.Clone()
	now := e.now()
	next.CycleStartedAt = &now
	next.Status = StatusRunning
	next.UpdatedAt = now

	if err := e.store.Update(ctx, id, next, expected); err != nil {
		return nil, err
	}
	e.publish(ctx, next, "session_resumed", next.ActiveParticipantID, 0)
	return next, nil
}

// CompleteSession moves any status to completed ( completeSession).
func (e *Engine) CompleteSession(ctx context.Context, id string) (*Session, error) {
	s, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errs.SessionNotFound(id)
	}

	expected := s.Version
	next := s.Clone()
	now := e.now()
	next.Status = StatusCompleted
	next.SessionCompletedAt = &now
	next.CycleStartedAt = nil
	next.UpdatedAt = now
	for i := range next.Participants {
		next.Participants[i].IsActive = false
	}
	next.ActiveParticipantID = ""
	next.ActiveGroupID = ""

	if err := e.store.Update(ctx, id, next, expected); err != nil {
		return nil, err
	}
	e.publish(ctx, next, "session_completed", "", 0)
	return next, nil
}

// CancelSession moves any status to cancelled ("any→cancelled").
func (e *Engine) CancelSession(ctx context.Context, id string) (*Session, error) {
	s, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errs.SessionNotFound(id)
	}

	expected := s.Version
	next := s.Clone()
	now := e.now()
	next.Status = StatusCancelled
	next.CycleStartedAt = nil
	next.UpdatedAt = now
	for i := range next.Participants {
		next.Participants[i].IsActive = false
	}
	next.ActiveParticipantID = ""
	next.ActiveGroupID = ""

	if err := e.store.Update(ctx, id, next, expected); err != nil {
		return nil, err
	}
	e.publish(ctx, next, "session_cancelled", "", 0)
	return next, nil
}

// GetCurrentState reads stored anchors without advancing time; clients
// compute live remaining time client-side.
func (e *Engine) GetCurrentState(ctx context.Context, id string) (*Session, error) {
	s, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errs.SessionNotFound(id)
	}
	return s, nil
}

// DeleteSession removes the session from the store ( lifecycle).
func (e *Engine) DeleteSession(ctx context.Context, id string) error {
	s, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if s == nil {
		return errs.SessionNotFound(id)
	}
	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	e.store.PublishUpdate(ctx, id, nil)
	return nil
}
