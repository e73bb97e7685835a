// Package health backs GET /health and GET /ready, grounded on
// app/recorder/main.go's health gauge + gin handler pattern.
package health

import (
	"context"
	"time"
)

const checkBudget = 1 * time.Second

// Pinger is satisfied by the store client and the audit DB repo.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WorkerStatus reports whether the audit worker pool is running, for /ready.
type WorkerStatus interface {
	Running() bool
}

// Report is the JSON body of GET /health.
type Report struct {
	Status  string `json:"status"`
	Store   string `json:"store"`
	AuditDB string `json:"audit_db"`
}

// Check probes store and auditDB with a 1s budget each.
func Check(ctx context.Context, store, auditDB Pinger) Report {
	storeStatus := probe(ctx, store)
	auditStatus := probe(ctx, auditDB)

	status := "ok"
	if storeStatus != "up" || auditStatus != "up" {
		status = "degraded"
	}
	return Report{Status: status, Store: storeStatus, AuditDB: auditStatus}
}

func probe(ctx context.Context, p Pinger) string {
	cctx, cancel := context.WithTimeout(ctx, checkBudget)
	defer cancel()
	if err := p.Ping(cctx); err != nil {
		return "down"
	}
	return "up"
}

// Ready reports whether store is reachable and the worker is running.
func Ready(ctx context.Context, store Pinger, worker WorkerStatus) bool {
	if worker != nil && !worker.Running() {
		return false
	}
	return probe(ctx, store) == "up"
}
