// Package metrics holds the process-wide Prometheus collectors, grounded
// on observe/prometheus/register.go's MustRegisterAll idiom, adapted to
// track switch latency, queue depth and open socket counts.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SwitchLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "synckairos",
			Subsystem: "engine",
			Name:      "switch_latency_seconds",
			Help:      "Latency of a single switchCycle call, by outcome.",
			Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.5, 1},
		},
		[]string{"outcome"}, // success|concurrent_modification|error
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "synckairos",
			Subsystem: "engine",
			Name:      "sessions_active",
			Help:      "Sessions currently in status=running.",
		},
	)

	AuditQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "synckairos",
			Subsystem: "audit",
			Name:      "queue_depth",
			Help:      "Approximate number of audit jobs awaiting a worker.",
		},
	)

	AuditJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "synckairos",
			Subsystem: "audit",
			Name:      "jobs_total",
			Help:      "Audit jobs processed by result.",
		},
		[]string{"result"}, // written|retried|dlq
	)

	WSSocketsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "synckairos",
			Subsystem: "ws",
			Name:      "sockets_open",
			Help:      "WebSocket connections currently open on this instance.",
		},
	)

	WSMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "synckairos",
			Subsystem: "ws",
			Name:      "messages_total",
			Help:      "WebSocket messages handled, by type and direction.",
		},
		[]string{"type", "direction"}, // direction: in|out
	)

	WSDisconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "synckairos",
			Subsystem: "ws",
			Name:      "disconnects_total",
			Help:      "WebSocket closes by reason.",
		},
		[]string{"reason"}, // slow_consumer
	)

	RESTRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "synckairos",
			Subsystem: "rest",
			Name:      "requests_total",
			Help:      "REST requests by route and status class.",
		},
		[]string{"route", "status"},
	)

	StoreCASTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "synckairos",
			Subsystem: "store",
			Name:      "cas_total",
			Help:      "Compare-and-set attempts by result.",
		},
		[]string{"result"}, // success|lost|conflict
	)
)

var regOnce sync.Once

// MustRegisterAll registers every collector exactly once.
func MustRegisterAll() {
	regOnce.Do(func() {
		prometheus.MustRegister(
			SwitchLatencySeconds,
			SessionsActive,
			AuditQueueDepth,
			AuditJobsTotal,
			WSSocketsOpen,
			WSMessagesTotal,
			WSDisconnectsTotal,
			RESTRequestsTotal,
			StoreCASTotal,
		)
	})
}
