package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/synckairos/synckairos/internal/wsmsg"
)

func newTestConn(sessionID string) *Conn {
	return NewConn(nil, nil, nil, sessionID, false, zap.NewNop().Sugar())
}

func TestRegister_AddsUnderSession(t *testing.T) {
	h := NewHub(zap.NewNop().Sugar())
	c := newTestConn("s1")
	require.True(t, h.Register("s1", c))
	assert.Equal(t, 1, h.total)
}

func TestUnregister_RemovesAndClearsEmptySession(t *testing.T) {
	h := NewHub(zap.NewNop().Sugar())
	c := newTestConn("s1")
	h.Register("s1", c)

	h.Unregister("s1", c)
	assert.Equal(t, 0, h.total)
	_, exists := h.sessions["s1"]
	assert.False(t, exists)
}

func TestRegister_RejectsOverInstanceQuota(t *testing.T) {
	h := NewHub(zap.NewNop().Sugar())
	h.total = maxSocketsPerInstance

	c := newTestConn("s1")
	assert.False(t, h.Register("s1", c))
}

func TestDispatch_DeliversToAllSocketsOnSession(t *testing.T) {
	h := NewHub(zap.NewNop().Sugar())
	c1 := newTestConn("s1")
	c2 := newTestConn("s1")
	h.Register("s1", c1)
	h.Register("s1", c2)

	h.Dispatch("s1", wsmsg.Envelope{Type: wsmsg.TypeStateUpdate, SessionID: "s1"})

	select {
	case env := <-c1.send:
		assert.Equal(t, wsmsg.TypeStateUpdate, env.Type)
	default:
		t.Fatal("c1 did not receive the dispatched envelope")
	}
	select {
	case env := <-c2.send:
		assert.Equal(t, wsmsg.TypeStateUpdate, env.Type)
	default:
		t.Fatal("c2 did not receive the dispatched envelope")
	}
}

func TestDispatch_FiltersBySubscribedParticipant(t *testing.T) {
	h := NewHub(zap.NewNop().Sugar())
	c := newTestConn("s1")
	c.subscribedParticipant = "p1"
	h.Register("s1", c)

	h.Dispatch("s1", wsmsg.Envelope{Type: wsmsg.TypeTimeExpired, SessionID: "s1", ParticipantID: "p2"})

	select {
	case <-c.send:
		t.Fatal("connection subscribed to p1 should not receive a p2-targeted message")
	default:
	}

	h.Dispatch("s1", wsmsg.Envelope{Type: wsmsg.TypeTimeExpired, SessionID: "s1", ParticipantID: "p1"})
	select {
	case env := <-c.send:
		assert.Equal(t, "p1", env.ParticipantID)
	default:
		t.Fatal("connection should have received the p1-targeted message")
	}
}

func TestDispatch_NoSubscribersIsNoop(t *testing.T) {
	h := NewHub(zap.NewNop().Sugar())
	h.Dispatch("missing-session", wsmsg.Envelope{Type: wsmsg.TypeStateUpdate})
}
