package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/synckairos/synckairos/internal/errs"
	"github.com/synckairos/synckairos/internal/session"
)

func newTestClient(t *testing.T, recoverer Recoverer) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewClient(rdb, recoverer, zap.NewNop().Sugar()), mr
}

func sampleSession() *session.Session {
	return &session.Session{
		SessionID: "s1",
		SyncMode:  session.ModePerParticipant,
		Status:    session.StatusPending,
		Version:   1,
		Participants: []session.Participant{
			{ParticipantID: "p1", TotalTimeMs: 60_000, TimeRemainingMs: 60_000},
		},
	}
}

func TestCreateThenGet_RoundTrips(t *testing.T) {
	c, _ := newTestClient(t, nil)
	ctx := context.Background()

	s := sampleSession()
	require.NoError(t, c.Create(ctx, s))

	got, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "s1", got.SessionID)
	assert.EqualValues(t, 1, got.Version)
}

func TestGet_MissingWithNoRecovererReturnsNil(t *testing.T) {
	c, _ := newTestClient(t, nil)
	got, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

type fakeRecoverer struct {
	s *session.Session
}

func (f *fakeRecoverer) Recover(ctx context.Context, sessionID string) (*session.Session, error) {
	if f.s == nil {
		return nil, nil
	}
	cp := *f.s
	return &cp, nil
}

func TestGet_MissingFallsBackToRecoverer(t *testing.T) {
	recovered := sampleSession()
	recovered.Metadata = map[string]any{"recovered": true}
	c, _ := newTestClient(t, &fakeRecoverer{s: recovered})

	got, err := c.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "s1", got.SessionID)

	// the recovered snapshot should have been written back
	again, err := c.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, again)
}

func TestUpdate_SucceedsOnMatchingVersion(t *testing.T) {
	c, _ := newTestClient(t, nil)
	ctx := context.Background()
	s := sampleSession()
	require.NoError(t, c.Create(ctx, s))

	next := *s
	next.Status = session.StatusRunning
	require.NoError(t, c.Update(ctx, "s1", &next, 1))

	got, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusRunning, got.Status)
	assert.EqualValues(t, 2, got.Version)
}

func TestUpdate_FailsOnVersionMismatch(t *testing.T) {
	c, _ := newTestClient(t, nil)
	ctx := context.Background()
	s := sampleSession()
	require.NoError(t, c.Create(ctx, s))

	next := *s
	err := c.Update(ctx, "s1", &next, 99)
	require.Error(t, err)
	ke, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindConcurrentModification, ke.Kind)
}

func TestUpdate_FailsOnMissingKey(t *testing.T) {
	c, _ := newTestClient(t, nil)
	s := sampleSession()
	err := c.Update(context.Background(), "missing", s, 0)
	require.Error(t, err)
	ke, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindSessionNotFound, ke.Kind)
}

func TestPutAndGetIdempotent_RoundTrips(t *testing.T) {
	c, _ := newTestClient(t, nil)
	ctx := context.Background()

	require.NoError(t, c.PutIdempotent(ctx, "key1", []byte(`{"ok":true}`)))
	got, err := c.GetIdempotent(ctx, "key1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(got))
}

func TestGetIdempotent_MissingReturnsNilNoError(t *testing.T) {
	c, _ := newTestClient(t, nil)
	got, err := c.GetIdempotent(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDelete_ThenGetReturnsNil(t *testing.T) {
	c, _ := newTestClient(t, nil)
	ctx := context.Background()
	s := sampleSession()
	require.NoError(t, c.Create(ctx, s))
	require.NoError(t, c.Delete(ctx, "s1"))

	got, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPing_Succeeds(t *testing.T) {
	c, _ := newTestClient(t, nil)
	require.NoError(t, c.Ping(context.Background()))
}

func TestSessionTTL_ExpiresAfterWindow(t *testing.T) {
	c, mr := newTestClient(t, nil)
	ctx := context.Background()
	s := sampleSession()
	require.NoError(t, c.Create(ctx, s))

	mr.FastForward(2 * time.Hour)
	got, err := c.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
