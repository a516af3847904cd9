package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "safezone"

// Metrics holds the collectors shared by the api and the worker.
type Metrics struct {
	NotificationAttempts *prometheus.CounterVec
	FanOutDuration       *prometheus.HistogramVec
	Transitions          *prometheus.CounterVec
	StoreConflicts       prometheus.Counter
	OverdueSweeps        prometheus.Counter
	LocationUpdates      *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses a private registry,
// which keeps tests from colliding on the global one.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		NotificationAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "notification_attempts_total",
			Help:      "Notification attempts by channel, notice and outcome",
		}, []string{"channel", "notice", "outcome"}),
		FanOutDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "fanout_duration_seconds",
			Help:      "Wall time of a notice fan-out until the barrier releases",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"notice"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "transitions_total",
			Help:      "Committed alert and trip state transitions",
		}, []string{"entity", "to"}),
		StoreConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "store_conflicts_total",
			Help:      "Optimistic version conflicts observed on update",
		}),
		OverdueSweeps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "overdue_sweeps_total",
			Help:      "Completed overdue sweep cycles",
		}),
		LocationUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "location_updates_total",
			Help:      "Location updates received by source and result",
		}, []string{"source", "result"}),
	}
}
