package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set bundles the workflow collectors so handlers and services share one
// registration.
type Set struct {
	Submissions   *prometheus.CounterVec
	OracleCalls   *prometheus.CounterVec
	OracleLatency prometheus.Histogram
	Decisions     *prometheus.CounterVec
	IntentsSent   prometheus.Counter
	PendingDepth  prometheus.Gauge
}

// New registers the collectors on reg (pass nil for the default registerer).
func New(reg prometheus.Registerer) *Set {
	factory := promauto.With(reg)
	if reg == nil {
		factory = promauto.With(prometheus.DefaultRegisterer)
	}
	return &Set{
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "attendgate_submissions_total",
			Help: "Submission attempts by terminal outcome.",
		}, []string{"outcome"}),
		OracleCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "attendgate_oracle_calls_total",
			Help: "Oracle verification calls by result.",
		}, []string{"result"}),
		OracleLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "attendgate_oracle_latency_seconds",
			Help:    "Latency of oracle verification calls.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "attendgate_decisions_total",
			Help: "Teacher decisions by kind.",
		}, []string{"decision"}),
		IntentsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "attendgate_attendance_intents_total",
			Help: "Attendance-record intents published to the queue.",
		}),
		PendingDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "attendgate_pending_requests",
			Help: "Verification requests currently awaiting a decision.",
		}),
	}
}
