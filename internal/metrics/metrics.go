// Package metrics exposes Prometheus collectors for the engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Set holds the engine's collectors on a dedicated registry.
type Set struct {
	Registry *prometheus.Registry

	IntentsResolved *prometheus.CounterVec
	SettlementJobs  *prometheus.CounterVec
	Bankruptcies    prometheus.Counter
	PendingIntents  prometheus.Gauge
	QueueDepth      prometheus.Gauge
	TickDuration    prometheus.Histogram
}

// New creates and registers the collector set.
func New() *Set {
	reg := prometheus.NewRegistry()

	s := &Set{
		Registry: reg,
		IntentsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "economy_intents_resolved_total",
			Help: "Intents resolved, by terminal status.",
		}, []string{"status"}),
		SettlementJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "economy_settlement_jobs_total",
			Help: "Settlement jobs reaching a terminal state.",
		}, []string{"status"}),
		Bankruptcies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "economy_businesses_bankrupt_total",
			Help: "Businesses force-dissolved by insolvency.",
		}),
		PendingIntents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "economy_pending_intents",
			Help: "Intents waiting for the next tick.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "economy_settlement_queue_depth",
			Help: "Settlement jobs in the queued state.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "economy_tick_duration_seconds",
			Help:    "Wall time per tick.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}

	reg.MustRegister(s.IntentsResolved, s.SettlementJobs, s.Bankruptcies,
		s.PendingIntents, s.QueueDepth, s.TickDuration)
	return s
}

// IntentResolved implements sim.Observer.
func (s *Set) IntentResolved(status string) {
	s.IntentsResolved.WithLabelValues(status).Inc()
}

// TickCompleted implements sim.Observer.
func (s *Set) TickCompleted(d time.Duration, pending int) {
	s.TickDuration.Observe(d.Seconds())
	s.PendingIntents.Set(float64(pending))
}
