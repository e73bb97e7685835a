package ws

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/synckairos/synckairos/internal/metrics"
	"github.com/synckairos/synckairos/internal/session"
	"github.com/synckairos/synckairos/internal/wsmsg"
)

const (
	browserHeartbeat = 15 * time.Second
	mobileHeartbeat  = 30 * time.Second

	maxMessagesPerMinute = 100
	maxPayloadBytes      = 10 * 1024

	sendBufferSize    = 256
	slowConsumerBytes = 64 * 1024
)

// Store is the subset of the state store client the hub needs per
// connection: a fresh read for RECONNECT and the cross-instance publish
// path is owned by the engine, not the hub.
type Store interface {
	Get(ctx context.Context, id string) (*session.Session, error)
}

// Conn wraps one client WebSocket connection.
type Conn struct {
	ws         *websocket.Conn
	hub        *Hub
	store      Store
	log        *zap.SugaredLogger
	sessionID  string

	send chan wsmsg.Envelope

	heartbeat time.Duration

	mu                     sync.Mutex
	missedPongs            int
	subscribedParticipant  string

	rateMu      sync.Mutex
	rateWindow  time.Time
	rateCount   int

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn wraps an upgraded websocket.Conn. isMobile selects the
// heartbeat interval ("15s browsers, 30s mobile").
func NewConn(wsConn *websocket.Conn, hub *Hub, store Store, sessionID string, isMobile bool, log *zap.SugaredLogger) *Conn {
	hb := browserHeartbeat
	if isMobile {
		hb = mobileHeartbeat
	}
	return &Conn{
		ws:        wsConn,
		hub:       hub,
		store:     store,
		log:       log,
		sessionID: sessionID,
		send:      make(chan wsmsg.Envelope, sendBufferSize),
		heartbeat: hb,
		closed:    make(chan struct{}),
	}
}

// Send enqueues env for delivery, dropping the connection as a slow
// consumer if its outbound buffer is saturated, to prevent
// head-of-line blocking.
func (c *Conn) Send(env wsmsg.Envelope) {
	select {
	case c.send <- env:
	default:
		metrics.WSDisconnectsTotal.WithLabelValues("slow_consumer").Inc()
		c.Close(websocket.CloseMessageTooBig, "slow consumer")
	}
}

// Close closes the underlying socket exactly once.
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(2 * time.Second)
		msg := websocket.FormatCloseMessage(code, reason)
		c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		c.ws.Close()
	})
}

// ReadPump reads client frames until the connection closes, enforcing
// per-connection message-rate and payload-size limits.
func (c *Conn) ReadPump(handle func(env wsmsg.Envelope)) {
	defer func() {
		c.hub.Unregister(c.sessionID, c)
		c.Close(websocket.CloseNormalClosure, "")
	}()

	c.ws.SetReadLimit(maxPayloadBytes + 1024)
	c.resetReadDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.missedPongs = 0
		c.mu.Unlock()
		c.resetReadDeadline()
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		metrics.WSMessagesTotal.WithLabelValues("unknown", "in").Inc()

		if len(raw) > maxPayloadBytes {
			c.Close(websocket.CloseMessageTooBig, "payload too large")
			return
		}
		if !c.allowMessage() {
			c.Close(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		var env wsmsg.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		handle(env)
	}
}

func (c *Conn) resetReadDeadline() {
	c.ws.SetReadDeadline(time.Now().Add(2 * c.heartbeat))
}

func (c *Conn) allowMessage() bool {
	c.rateMu.Lock()
	defer c.rateMu.Unlock()
	now := time.Now()
	if now.Sub(c.rateWindow) > time.Minute {
		c.rateWindow = now
		c.rateCount = 0
	}
	c.rateCount++
	return c.rateCount <= maxMessagesPerMinute
}

// WritePump serializes outbound envelopes and drives the heartbeat; a
// socket that misses two consecutive pongs is closed.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case env, ok := <-c.send:
			if !ok {
				return
			}
			b, err := json.Marshal(env)
			if err != nil {
				continue
			}
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
			metrics.WSMessagesTotal.WithLabelValues(string(env.Type), "out").Inc()

		case <-ticker.C:
			c.mu.Lock()
			c.missedPongs++
			missed := c.missedPongs
			c.mu.Unlock()
			if missed > 2 {
				c.Close(websocket.CloseInternalServerErr, "heartbeat timeout")
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// IsMobileUserAgent recognizes common mobile-platform tokens (spec
// §4.4 heartbeat selection); anything unrecognized is treated as a
// browser client.
func IsMobileUserAgent(ua string) bool {
	ua = strings.ToLower(ua)
	for _, tok := range []string{"android", "iphone", "ipad", "mobile"} {
		if strings.Contains(ua, tok) {
			return true
		}
	}
	return false
}
