package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the scheduler.
type Metrics struct {
	// Drip batch
	StepsProcessedTotal   prometheus.Counter
	StepsSentTotal        prometheus.Counter
	StepsSkippedTotal     prometheus.Counter
	StepsRateLimitedTotal prometheus.Counter
	DripBatchSeconds      prometheus.Histogram

	// Escalation batch
	EscalationsSentTotal   prometheus.Counter
	EscalationsFailedTotal prometheus.Counter

	registry *prometheus.Registry
}

// New creates a Metrics instance with all metrics registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		StepsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outreachd_steps_processed_total",
			Help: "Total number of due steps evaluated by the drip batch, including rate-limited skips",
		}),
		StepsSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outreachd_steps_sent_total",
			Help: "Total number of drip steps dispatched successfully",
		}),
		StepsSkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outreachd_steps_skipped_total",
			Help: "Total number of drip steps marked skipped after a failed dispatch",
		}),
		StepsRateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outreachd_steps_rate_limited_total",
			Help: "Total number of due steps skipped by the per-owner rate ceiling",
		}),
		DripBatchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outreachd_drip_batch_seconds",
			Help:    "Duration of drip batch invocations",
			Buckets: prometheus.DefBuckets,
		}),
		EscalationsSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outreachd_escalations_sent_total",
			Help: "Total number of records escalated to the secondary channel",
		}),
		EscalationsFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outreachd_escalations_failed_total",
			Help: "Total number of failed escalation attempts",
		}),
		registry: reg,
	}

	reg.MustRegister(
		m.StepsProcessedTotal,
		m.StepsSentTotal,
		m.StepsSkippedTotal,
		m.StepsRateLimitedTotal,
		m.DripBatchSeconds,
		m.EscalationsSentTotal,
		m.EscalationsFailedTotal,
	)

	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
