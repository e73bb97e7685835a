// Package rest is the REST Surface (RS): a gin router exposing session
// lifecycle endpoints, idempotent switch, batch read, time sync,
// health/ready and metrics scrape.
package rest

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/synckairos/synckairos/internal/clock"
	"github.com/synckairos/synckairos/internal/health"
)

const requestDeadline = 5 * time.Second

// IdempotencyStore is the subset of the state store client RS needs for
// cached idempotent responses.
type IdempotencyStore interface {
	GetIdempotent(ctx context.Context, key string) ([]byte, error)
	PutIdempotent(ctx context.Context, key string, response []byte) error
}

// Router wires every RS endpoint onto a gin engine.
type Router struct {
	engine   EngineAPI
	store    IdempotencyStore
	health   HealthDeps
	clock    clock.Clock
	log      *zap.SugaredLogger
}

func NewRouter(engine EngineAPI, store IdempotencyStore, deps HealthDeps, clk clock.Clock, log *zap.SugaredLogger) *Router {
	if clk == nil {
		clk = clock.Default
	}
	return &Router{engine: engine, store: store, health: deps, clock: clk, log: log}
}

// Mount registers every route on g ( endpoint table).
func (rt *Router) Mount(g *gin.Engine) {
	g.Use(deadlineMiddleware(requestDeadline))

	g.POST("/sessions", rt.createSession)
	g.GET("/sessions/:id", rt.getSession)
	g.DELETE("/sessions/:id", rt.deleteSession)
	g.POST("/sessions/:id/start", rt.startSession)
	g.POST("/sessions/:id/switch", rt.switchCycle)
	g.POST("/sessions/:id/pause", rt.pauseSession)
	g.POST("/sessions/:id/resume", rt.resumeSession)
	g.POST("/sessions/:id/complete", rt.completeSession)
	g.GET("/sessions/:id/poll", rt.pollSession)
	g.POST("/sessions/batch", rt.batchGet)
	g.GET("/time", rt.getTime)
	g.GET("/health", rt.getHealth)
	g.GET("/ready", rt.getReady)
	g.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// HealthDeps bundles the pingers /health and /ready need.
type HealthDeps struct {
	Store   health.Pinger
	AuditDB health.Pinger
	Worker  health.WorkerStatus
}

func (rt *Router) getHealth(c *gin.Context) {
	report := health.Check(c.Request.Context(), rt.health.Store, rt.health.AuditDB)
	status := 200
	if report.Status != "ok" {
		status = 503
	}
	c.JSON(status, report)
}

func (rt *Router) getReady(c *gin.Context) {
	if health.Ready(c.Request.Context(), rt.health.Store, rt.health.Worker) {
		c.JSON(200, gin.H{"status": "ready"})
		return
	}
	c.JSON(503, gin.H{"status": "not_ready"})
}
