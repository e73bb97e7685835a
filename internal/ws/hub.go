// Package ws is the WebSocket Hub (WH): it maintains a per-instance
// session_id → set<socket> registry, subscribes to the store's ws:*
// fan-out, and dispatches typed messages to local sockets.
// Grounded on the hub-and-spoke pattern (RWMutex-protected map with
// Register/Unregister methods, per-connection read/write pumps)
// shown across the pack's gorilla/websocket handlers, adapted to
// SyncKairos's per-session registry and heartbeat/quota rules.
package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/synckairos/synckairos/internal/metrics"
	"github.com/synckairos/synckairos/internal/wsmsg"
)

const (
	maxSocketsPerInstance = 10_000
	drainTimeout          = 15 * time.Second
)

// Hub owns the per-instance socket registry.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Conn]struct{}
	total    int

	log *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		sessions: make(map[string]map[*Conn]struct{}),
		log:      log,
	}
}

// Register adds a connection under sessionID, rejecting when the
// instance-wide socket quota is exhausted ("≤10000 sockets/instance").
func (h *Hub) Register(sessionID string, c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.total >= maxSocketsPerInstance {
		return false
	}

	set, ok := h.sessions[sessionID]
	if !ok {
		set = make(map[*Conn]struct{})
		h.sessions[sessionID] = set
	}
	set[c] = struct{}{}
	h.total++
	metrics.WSSocketsOpen.Set(float64(h.total))
	return true
}

// Unregister removes a connection, dropping the session entry once empty.
func (h *Hub) Unregister(sessionID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	h.total--
	if len(set) == 0 {
		delete(h.sessions, sessionID)
	}
	metrics.WSSocketsOpen.Set(float64(h.total))
}

// Dispatch delivers env to every local socket subscribed to sessionID
// ("cross-instance fan-out"); it is invoked both for locally
// originated mutations and for messages received over the store's
// ws:* subscription from other instances.
func (h *Hub) Dispatch(sessionID string, env wsmsg.Envelope) {
	h.mu.RLock()
	set := h.sessions[sessionID]
	conns := make([]*Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if env.ParticipantID != "" && c.subscribedParticipant != "" && c.subscribedParticipant != env.ParticipantID {
			continue
		}
		c.Send(env)
	}
}

// Shutdown closes every registered socket with code 1001 (going away),
// giving each write up to drainTimeout combined before returning. It is
// called once from the owning process's SIGTERM handler, after the HTTP
// listener stops accepting new upgrade requests.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	conns := make([]*Conn, 0, h.total)
	for _, set := range h.sessions {
		for c := range set {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, c := range conns {
			c.Close(websocket.CloseGoingAway, "server shutting down")
		}
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		h.log.Warnw("ws hub: drain deadline exceeded, remaining sockets force-closed", "count", len(conns))
	}
}
