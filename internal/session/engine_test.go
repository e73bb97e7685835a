package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/synckairos/synckairos/internal/clock"
	"github.com/synckairos/synckairos/internal/errs"
)

type fakeStore struct {
	sessions map[string]*Session
}

func newFakeStore() *fakeStore { return &fakeStore{sessions: map[string]*Session{}} }

func (f *fakeStore) Get(ctx context.Context, id string) (*Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (f *fakeStore) Create(ctx context.Context, s *Session) error {
	f.sessions[s.SessionID] = s.Clone()
	return nil
}

func (f *fakeStore) Update(ctx context.Context, id string, s *Session, expectedVersion int64) error {
	cur, ok := f.sessions[id]
	if !ok {
		return errs.SessionNotFound(id)
	}
	if cur.Version != expectedVersion {
		return errs.ConcurrentModification("version mismatch")
	}
	s.Version = expectedVersion + 1
	f.sessions[id] = s.Clone()
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	delete(f.sessions, id)
	return nil
}

func (f *fakeStore) PublishUpdate(ctx context.Context, id string, s *Session) {}
func (f *fakeStore) PublishWS(ctx context.Context, sessionID string, typ string, state *Session, expiredParticipantID, action string) {
}

type fakeAudit struct {
	events []string
}

func (f *fakeAudit) Enqueue(ctx context.Context, sessionID string, state *Session, eventType string, participantID string, timeRemainingMs int64) {
	f.events = append(f.events, eventType)
}

const (
	p1 = "11111111-1111-4111-8111-111111111111"
	p2 = "22222222-2222-4222-8222-222222222222"
	p3 = "33333333-3333-4333-8333-333333333333"
	sid = "99999999-9999-4999-8999-999999999999"
)

func newTestEngine(now time.Time) (*Engine, *fakeStore, *fakeAudit, *clock.Frozen) {
	st := newFakeStore()
	au := &fakeAudit{}
	clk := &clock.Frozen{At: now}
	return NewEngine(st, au, clk, zap.NewNop().Sugar()), st, au, clk
}

func baseConfig() CreateConfig {
	return CreateConfig{
		SessionID:      sid,
		SyncMode:       ModePerParticipant,
		TimePerCycleMs: 0,
		Participants: []ParticipantConfig{
			{ParticipantID: p1, TotalTimeMs: 60_000},
			{ParticipantID: p2, TotalTimeMs: 60_000},
		},
	}
}

func TestCreateSession_PendingStatusVersion1(t *testing.T) {
	e, _, _, _ := newTestEngine(time.Unix(0, 0).UTC())
	s, err := e.CreateSession(context.Background(), baseConfig())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, s.Status)
	assert.EqualValues(t, 1, s.Version)
	assert.Len(t, s.Participants, 2)
}

func TestCreateSession_RejectsInvalidConfig(t *testing.T) {
	e, _, _, _ := newTestEngine(time.Unix(0, 0).UTC())
	cfg := baseConfig()
	cfg.SyncMode = "not_a_mode"
	_, err := e.CreateSession(context.Background(), cfg)
	require.Error(t, err)
	ke, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindValidation, ke.Kind)
}

func TestStartSession_ActivatesFirstParticipant(t *testing.T) {
	start := time.Unix(1000, 0).UTC()
	e, _, _, _ := newTestEngine(start)
	_, err := e.CreateSession(context.Background(), baseConfig())
	require.NoError(t, err)

	s, err := e.StartSession(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, s.Status)
	assert.Equal(t, p1, s.ActiveParticipantID)
	assert.True(t, s.ParticipantByID(p1).IsActive)
	require.NotNil(t, s.CycleStartedAt)
	assert.Equal(t, start, *s.CycleStartedAt)
}

func TestStartSession_RejectsWhenNotPending(t *testing.T) {
	e, _, _, _ := newTestEngine(time.Unix(0, 0).UTC())
	_, err := e.CreateSession(context.Background(), baseConfig())
	require.NoError(t, err)
	_, err = e.StartSession(context.Background(), sid)
	require.NoError(t, err)

	_, err = e.StartSession(context.Background(), sid)
	require.Error(t, err)
	ke, _ := errs.As(err)
	assert.Equal(t, errs.KindInvalidState, ke.Kind)
}

func TestSwitchCycle_BillsElapsedAndAdvancesParticipant(t *testing.T) {
	start := time.Unix(1000, 0).UTC()
	e, _, audit, clk := newTestEngine(start)
	_, err := e.CreateSession(context.Background(), baseConfig())
	require.NoError(t, err)
	_, err = e.StartSession(context.Background(), sid)
	require.NoError(t, err)

	clk.At = start.Add(10 * time.Second)
	result, err := e.SwitchCycle(context.Background(), sid, p1, "")
	require.NoError(t, err)

	p1State := result.State.ParticipantByID(p1)
	assert.EqualValues(t, 10_000, p1State.TimeUsedMs)
	assert.EqualValues(t, 50_000, p1State.TotalTimeMs)
	assert.False(t, p1State.IsActive)

	p2State := result.State.ParticipantByID(p2)
	assert.True(t, p2State.IsActive)
	assert.Equal(t, p2, result.State.ActiveParticipantID)
	assert.Contains(t, audit.events, "cycle_switched")
}

func TestSwitchCycle_ParticipantExpiresAndAdvancesByDefault(t *testing.T) {
	start := time.Unix(1000, 0).UTC()
	e, _, audit, clk := newTestEngine(start)
	cfg := baseConfig()
	cfg.Participants[0].TotalTimeMs = 5_000
	_, err := e.CreateSession(context.Background(), cfg)
	require.NoError(t, err)
	_, err = e.StartSession(context.Background(), sid)
	require.NoError(t, err)

	clk.At = start.Add(10 * time.Second)
	result, err := e.SwitchCycle(context.Background(), sid, p1, "")
	require.NoError(t, err)

	assert.Equal(t, p1, result.ExpiredParticipantID)
	assert.True(t, result.State.ParticipantByID(p1).HasExpired)
	assert.EqualValues(t, 0, result.State.ParticipantByID(p1).TimeRemainingMs)
	// default action_on_timeout: continue to next participant
	assert.Equal(t, p2, result.State.ActiveParticipantID)
	assert.Equal(t, StatusRunning, result.State.Status)
	assert.Contains(t, audit.events, "participant_expired")
}

func TestSwitchCycle_EndSessionOnTimeoutPolicy(t *testing.T) {
	start := time.Unix(1000, 0).UTC()
	e, _, _, clk := newTestEngine(start)
	cfg := baseConfig()
	cfg.Participants[0].TotalTimeMs = 5_000
	cfg.ActionOnTimeout = map[string]any{"type": "end_session"}
	_, err := e.CreateSession(context.Background(), cfg)
	require.NoError(t, err)
	_, err = e.StartSession(context.Background(), sid)
	require.NoError(t, err)

	clk.At = start.Add(10 * time.Second)
	result, err := e.SwitchCycle(context.Background(), sid, p1, "")
	require.NoError(t, err)

	assert.Equal(t, StatusExpired, result.State.Status)
	assert.Equal(t, p1, result.State.ExpiredParticipantID)
	assert.Equal(t, "end_session", result.ActionApplied)
}

func TestSwitchCycle_ExplicitNextParticipant(t *testing.T) {
	start := time.Unix(1000, 0).UTC()
	e, _, _, _ := newTestEngine(start)
	cfg := baseConfig()
	cfg.Participants = append(cfg.Participants, ParticipantConfig{ParticipantID: p3, TotalTimeMs: 60_000})
	_, err := e.CreateSession(context.Background(), cfg)
	require.NoError(t, err)
	_, err = e.StartSession(context.Background(), sid)
	require.NoError(t, err)

	result, err := e.SwitchCycle(context.Background(), sid, p1, p3)
	require.NoError(t, err)
	assert.Equal(t, p3, result.State.ActiveParticipantID)
}

func TestSwitchCycle_UnknownNextParticipantIsRejected(t *testing.T) {
	start := time.Unix(1000, 0).UTC()
	e, _, _, _ := newTestEngine(start)
	_, err := e.CreateSession(context.Background(), baseConfig())
	require.NoError(t, err)
	_, err = e.StartSession(context.Background(), sid)
	require.NoError(t, err)

	_, err = e.SwitchCycle(context.Background(), sid, p1, "no-such-participant")
	require.Error(t, err)
	ke, _ := errs.As(err)
	assert.Equal(t, errs.KindParticipantNotFound, ke.Kind)
}

func TestSwitchCycle_RejectsWhenNotRunning(t *testing.T) {
	e, _, _, _ := newTestEngine(time.Unix(0, 0).UTC())
	_, err := e.CreateSession(context.Background(), baseConfig())
	require.NoError(t, err)

	_, err = e.SwitchCycle(context.Background(), sid, p1, "")
	require.Error(t, err)
	ke, _ := errs.As(err)
	assert.Equal(t, errs.KindInvalidState, ke.Kind)
}

func TestPauseThenResume_PreservesBilledTime(t *testing.T) {
	start := time.Unix(1000, 0).UTC()
	e, _, _, clk := newTestEngine(start)
	_, err := e.CreateSession(context.Background(), baseConfig())
	require.NoError(t, err)
	_, err = e.StartSession(context.Background(), sid)
	require.NoError(t, err)

	clk.At = start.Add(5 * time.Second)
	paused, err := e.PauseSession(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)
	assert.Nil(t, paused.CycleStartedAt)
	assert.EqualValues(t, 5_000, paused.ParticipantByID(p1).TimeUsedMs)

	clk.At = start.Add(20 * time.Second)
	resumed, err := e.ResumeSession(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, resumed.Status)
	require.NotNil(t, resumed.CycleStartedAt)
	assert.Equal(t, clk.At, *resumed.CycleStartedAt)
	// resuming must not re-bill time already billed at pause
	assert.EqualValues(t, 5_000, resumed.ParticipantByID(p1).TimeUsedMs)
}

func TestCompleteSession_ClearsActiveParticipant(t *testing.T) {
	e, _, _, _ := newTestEngine(time.Unix(0, 0).UTC())
	_, err := e.CreateSession(context.Background(), baseConfig())
	require.NoError(t, err)
	_, err = e.StartSession(context.Background(), sid)
	require.NoError(t, err)

	done, err := e.CompleteSession(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Empty(t, done.ActiveParticipantID)
	for _, p := range done.Participants {
		assert.False(t, p.IsActive)
	}
}

func TestDeleteSession_NotFoundOnMissing(t *testing.T) {
	e, _, _, _ := newTestEngine(time.Unix(0, 0).UTC())
	err := e.DeleteSession(context.Background(), "missing")
	require.Error(t, err)
	ke, _ := errs.As(err)
	assert.Equal(t, errs.KindSessionNotFound, ke.Kind)
}

func TestGetCurrentState_NotFound(t *testing.T) {
	e, _, _, _ := newTestEngine(time.Unix(0, 0).UTC())
	_, err := e.GetCurrentState(context.Background(), "missing")
	require.Error(t, err)
	ke, _ := errs.As(err)
	assert.Equal(t, errs.KindSessionNotFound, ke.Kind)
}

// staleAfterGetStore wraps fakeStore and bumps the stored version
// immediately after the first Get, simulating a second writer racing
// in between the engine's read and its CAS write.
type staleAfterGetStore struct {
	*fakeStore
	bumped bool
}

func (s *staleAfterGetStore) Get(ctx context.Context, id string) (*Session, error) {
	snapshot, err := s.fakeStore.Get(ctx, id)
	if !s.bumped {
		s.bumped = true
		s.fakeStore.sessions[id].Version++
	}
	return snapshot, err
}

func TestSwitchCycle_ConcurrentModificationSurfacesFromStore(t *testing.T) {
	st := newFakeStore()
	racing := &staleAfterGetStore{fakeStore: st}
	audit := &fakeAudit{}
	clk := &clock.Frozen{At: time.Unix(1000, 0).UTC()}
	e := NewEngine(racing, audit, clk, zap.NewNop().Sugar())

	racing.bumped = true // StartSession's own Get must not trigger the race
	_, err := e.CreateSession(context.Background(), baseConfig())
	require.NoError(t, err)
	_, err = e.StartSession(context.Background(), sid)
	require.NoError(t, err)

	racing.bumped = false // arm the race for SwitchCycle's Get
	_, err = e.SwitchCycle(context.Background(), sid, p1, "")
	require.Error(t, err)
	ke, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindConcurrentModification, ke.Kind)
}
