package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/synckairos/synckairos/internal/wsmsg"
)

const connectionsPerIPPerMinute = 5

// Handler upgrades HTTP requests into hub-registered connections.
type Handler struct {
	hub    *Hub
	store  Store
	auth   *Authenticator
	origin []string
	log    *zap.SugaredLogger

	upgrader websocket.Upgrader

	quotaMu sync.Mutex
	quota   map[string]*ipWindow
}

type ipWindow struct {
	windowStart time.Time
	count       int
}

func NewHandler(hub *Hub, store Store, auth *Authenticator, allowedOrigins []string, log *zap.SugaredLogger) *Handler {
	h := &Handler{
		hub:    hub,
		store:  store,
		auth:   auth,
		origin: allowedOrigins,
		log:    log,
		quota:  make(map[string]*ipWindow),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return OriginAllowed(r, h.origin) },
	}
	return h
}

// Serve handles GET /sessions/{id}/ws?token=<jwt> ( handshake). The
// handshake is served on the /ws sub-path, not on /sessions/{id}
// itself, which is the REST session read.
func (h *Handler) Serve(c *gin.Context) {
	sessionID := c.Param("id")
	token := c.Query("token")

	if _, ok := h.auth.Validate(token); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "unauthorized", "message": "invalid or missing token"}})
		return
	}

	ip := c.ClientIP()
	if !h.allowConnection(ip) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": gin.H{"code": "rate_limit_exceeded", "message": "too many connection attempts"}})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	isMobile := IsMobileUserAgent(c.GetHeader("User-Agent"))
	wsConn := NewConn(conn, h.hub, h.store, sessionID, isMobile, h.log)

	if !h.hub.Register(sessionID, wsConn) {
		wsConn.Close(websocket.ClosePolicyViolation, "instance socket quota exceeded")
		return
	}

	go wsConn.WritePump()
	wsConn.ReadPump(func(env wsmsg.Envelope) { h.dispatchClientMessage(wsConn, env) })
}

func (h *Handler) allowConnection(ip string) bool {
	h.quotaMu.Lock()
	defer h.quotaMu.Unlock()

	now := time.Now()
	w, ok := h.quota[ip]
	if !ok || now.Sub(w.windowStart) > time.Minute {
		w = &ipWindow{windowStart: now}
		h.quota[ip] = w
	}
	w.count++
	return w.count <= connectionsPerIPPerMinute
}

// dispatchClientMessage handles PING, RECONNECT and SUBSCRIBE_PARTICIPANT
// ("Client-initiated messages").
func (h *Handler) dispatchClientMessage(conn *Conn, env wsmsg.Envelope) {
	switch env.Type {
	case wsmsg.TypePing:
		conn.Send(wsmsg.Pong(env.ClientTimestamp, time.Now().UnixMilli()))

	case wsmsg.TypeReconnect:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		current, err := h.store.Get(ctx, conn.sessionID)
		if err != nil || current == nil {
			conn.Send(wsmsg.ReconnectAck(conn.sessionID))
			return
		}
		if current.Version > env.LastKnownVersion {
			conn.Send(wsmsg.StateSync(current))
			return
		}
		conn.Send(wsmsg.ReconnectAck(conn.sessionID))

	case wsmsg.TypeSubscribeParticipant:
		conn.mu.Lock()
		conn.subscribedParticipant = env.ParticipantID
		conn.mu.Unlock()
	}
}
