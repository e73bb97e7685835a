package rest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/synckairos/synckairos/internal/errs"
	"github.com/synckairos/synckairos/internal/session"
	"github.com/synckairos/synckairos/internal/timesync"
)

type createSessionBody struct {
	SessionID       string                     `json:"session_id"`
	SyncMode        session.SyncMode           `json:"sync_mode"`
	Participants    []participantBody          `json:"participants"`
	TimePerCycleMs  int64                      `json:"time_per_cycle_ms"`
	IncrementMs     int64                      `json:"increment_ms"`
	MaxTimeMs       int64                      `json:"max_time_ms"`
	ActionOnTimeout map[string]any             `json:"action_on_timeout"`
	AutoAdvance     bool                       `json:"auto_advance"`
	Metadata        map[string]any             `json:"metadata"`
}

type participantBody struct {
	ParticipantID    string `json:"participant_id"`
	ParticipantIndex *int   `json:"participant_index"`
	TotalTimeMs      int64  `json:"total_time_ms"`
	GroupID          string `json:"group_id"`
}

func (rt *Router) createSession(c *gin.Context) {
	var body createSessionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.Validation("malformed request body"))
		return
	}

	participants := make([]session.ParticipantConfig, len(body.Participants))
	for i, p := range body.Participants {
		participants[i] = session.ParticipantConfig{
			ParticipantID:    p.ParticipantID,
			ParticipantIndex: p.ParticipantIndex,
			TotalTimeMs:      p.TotalTimeMs,
			GroupID:          p.GroupID,
		}
	}

	s, err := rt.engine.CreateSession(c.Request.Context(), session.CreateConfig{
		SessionID:       body.SessionID,
		SyncMode:        body.SyncMode,
		Participants:    participants,
		TimePerCycleMs:  body.TimePerCycleMs,
		IncrementMs:     body.IncrementMs,
		MaxTimeMs:       body.MaxTimeMs,
		ActionOnTimeout: body.ActionOnTimeout,
		AutoAdvance:     body.AutoAdvance,
		Metadata:        body.Metadata,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (rt *Router) getSession(c *gin.Context) {
	s, err := rt.engine.GetCurrentState(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if s == nil {
		writeError(c, errs.SessionNotFound(c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, s)
}

func (rt *Router) deleteSession(c *gin.Context) {
	if err := rt.engine.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (rt *Router) startSession(c *gin.Context) {
	s, err := rt.engine.StartSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

type switchBody struct {
	NextParticipantID string `json:"next_participant_id"`
	CurrentParticipantID string `json:"current_participant_id"`
}

// switchCycle is the hot path: it honors a repeated Idempotency-Key by
// replaying the cached response instead of invoking the engine again.
func (rt *Router) switchCycle(c *gin.Context) {
	sessionID := c.Param("id")
	idemKey := c.GetHeader("Idempotency-Key")

	if idemKey != "" {
		if cached, ok := rt.lookupIdempotent(c, sessionID, idemKey); ok {
			c.Data(http.StatusOK, "application/json", cached)
			return
		}
	}

	var body switchBody
	_ = c.ShouldBindJSON(&body)

	result, err := rt.engine.SwitchCycle(c.Request.Context(), sessionID, body.CurrentParticipantID, body.NextParticipantID)
	if err != nil {
		writeError(c, err)
		return
	}

	respBody, err := json.Marshal(result)
	if err != nil {
		writeError(c, errs.Internal(err))
		return
	}

	if idemKey != "" {
		rt.storeIdempotent(c, sessionID, idemKey, respBody)
	}

	c.Data(http.StatusOK, "application/json", respBody)
}

func idempotencyCacheKey(sessionID, key string) string {
	sum := sha256.Sum256([]byte(sessionID + ":" + key))
	return hex.EncodeToString(sum[:])
}

func (rt *Router) lookupIdempotent(c *gin.Context, sessionID, key string) ([]byte, bool) {
	cached, err := rt.store.GetIdempotent(c.Request.Context(), idempotencyCacheKey(sessionID, key))
	if err != nil || cached == nil {
		return nil, false
	}
	return cached, true
}

func (rt *Router) storeIdempotent(c *gin.Context, sessionID, key string, body []byte) {
	if err := rt.store.PutIdempotent(c.Request.Context(), idempotencyCacheKey(sessionID, key), body); err != nil {
		rt.log.Warnw("rest: failed to cache idempotent response", "session_id", sessionID, "err", err)
	}
}

func (rt *Router) pauseSession(c *gin.Context) {
	s, err := rt.engine.PauseSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (rt *Router) resumeSession(c *gin.Context) {
	s, err := rt.engine.ResumeSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (rt *Router) completeSession(c *gin.Context) {
	s, err := rt.engine.CompleteSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// pollSession returns 304 when the client's ?since_version is already
// current.
func (rt *Router) pollSession(c *gin.Context) {
	s, err := rt.engine.GetCurrentState(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if s == nil {
		writeError(c, errs.SessionNotFound(c.Param("id")))
		return
	}

	if sv := c.Query("since_version"); sv != "" {
		since, err := strconv.ParseInt(sv, 10, 64)
		if err == nil && since >= s.Version {
			c.Status(http.StatusNotModified)
			return
		}
	}
	c.JSON(http.StatusOK, s)
}

const maxBatchIDs = 50

type batchBody struct {
	SessionIDs []string `json:"session_ids"`
}

// batchGet reads up to 50 sessions concurrently ("batch
// session read with bounded concurrency").
func (rt *Router) batchGet(c *gin.Context) {
	var body batchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.Validation("malformed request body"))
		return
	}
	if len(body.SessionIDs) > maxBatchIDs {
		writeError(c, errs.Validation("session_ids must not exceed 50 entries"))
		return
	}

	type result struct {
		id string
		s  *session.Session
	}

	const maxConcurrency = 10
	sem := make(chan struct{}, maxConcurrency)
	results := make(chan result, len(body.SessionIDs))

	for _, id := range body.SessionIDs {
		id := id
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			s, _ := rt.engine.GetCurrentState(c.Request.Context(), id)
			results <- result{id: id, s: s}
		}()
	}

	out := make(map[string]*session.Session, len(body.SessionIDs))
	for range body.SessionIDs {
		r := <-results
		out[r.id] = r.s
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (rt *Router) getTime(c *gin.Context) {
	c.JSON(http.StatusOK, timesync.Now(rt.clock))
}
