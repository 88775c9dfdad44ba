package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	enqueued prometheus.Counter
	flushes  *prometheus.CounterVec
	batches  *prometheus.CounterVec
	dropped  prometheus.Counter
}

// newMetrics registers on reg. A nil reg yields working, unregistered metrics.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		enqueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: "learntrace",
			Subsystem: "dispatch",
			Name:      "events_enqueued_total",
			Help:      "Events accepted into the queue.",
		}),
		flushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "learntrace",
			Subsystem: "dispatch",
			Name:      "flushes_total",
			Help:      "Non-empty flushes by trigger.",
		}, []string{"trigger"}),
		batches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "learntrace",
			Subsystem: "dispatch",
			Name:      "batches_total",
			Help:      "Delivered batches by result (sent, failed, beacon).",
		}, []string{"result"}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "learntrace",
			Subsystem: "dispatch",
			Name:      "events_dropped_total",
			Help:      "Events lost to failed deliveries or enqueued after close.",
		}),
	}
}
