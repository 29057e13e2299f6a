package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's sync counters. All fields are optional on
// the engine; a nil Metrics disables instrumentation.
type Metrics struct {
	Submissions prometheus.Counter
	Failures    prometheus.Counter
	Retries     prometheus.Counter
	Pending     prometheus.Gauge
}

// NewMetrics creates and, when reg is non-nil, registers the engine's
// collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fieldsync",
			Name:      "submissions_total",
			Help:      "Answer writes confirmed by the remote gateway.",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fieldsync",
			Name:      "submission_failures_total",
			Help:      "Answer writes that degraded to local storage.",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fieldsync",
			Name:      "retries_total",
			Help:      "Flush attempts for fields in local state.",
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fieldsync",
			Name:      "pending_fields",
			Help:      "Fields currently awaiting sync.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Submissions, m.Failures, m.Retries, m.Pending)
	}

	return m
}
