// Package metrics exposes Prometheus instruments for the automation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine instruments. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	EventsReceived     *prometheus.CounterVec
	FlowsFired         *prometheus.CounterVec
	ExecutionsFinished *prometheus.CounterVec
	StepAttempts       *prometheus.CounterVec
	StepDuration       *prometheus.HistogramVec
	ChainTruncations   prometheus.Counter
	Enrollments        *prometheus.CounterVec
	TickDuration       prometheus.Histogram
	LeaseContention    prometheus.Counter
	LedgerWriteErrors  prometheus.Counter
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crmflow",
			Name:      "events_received_total",
			Help:      "Domain events submitted to the engine.",
		}, []string{"kind", "source"}),
		FlowsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crmflow",
			Name:      "flows_fired_total",
			Help:      "Executions created for matching flows.",
		}, []string{"trigger_type"}),
		ExecutionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crmflow",
			Name:      "executions_finished_total",
			Help:      "Executions that reached a terminal status.",
		}, []string{"source", "status"}),
		StepAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crmflow",
			Name:      "step_attempts_total",
			Help:      "Action attempts by type and outcome.",
		}, []string{"action_type", "outcome"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crmflow",
			Name:      "step_duration_seconds",
			Help:      "Duration of action attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action_type"}),
		ChainTruncations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crmflow",
			Name:      "chain_truncations_total",
			Help:      "Causal chains cut by the depth guard.",
		}),
		Enrollments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crmflow",
			Name:      "enrollment_transitions_total",
			Help:      "Enrollment status transitions.",
		}, []string{"program_kind", "status"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crmflow",
			Name:      "tick_duration_seconds",
			Help:      "Duration of scheduler sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		LeaseContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crmflow",
			Name:      "lease_contention_total",
			Help:      "Lease acquisitions that timed out.",
		}),
		LedgerWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crmflow",
			Name:      "ledger_write_failures_total",
			Help:      "Step attempt records that could not be written.",
		}),
	}

	reg.MustRegister(
		m.EventsReceived, m.FlowsFired, m.ExecutionsFinished, m.StepAttempts,
		m.StepDuration, m.ChainTruncations, m.Enrollments, m.TickDuration, m.LeaseContention,
		m.LedgerWriteErrors,
	)

	return m
}

func (m *Metrics) Event(kind, source string) {
	if m == nil {
		return
	}

	m.EventsReceived.WithLabelValues(kind, source).Inc()
}

func (m *Metrics) FlowFired(triggerType string) {
	if m == nil {
		return
	}

	m.FlowsFired.WithLabelValues(triggerType).Inc()
}

func (m *Metrics) ExecutionFinished(source, status string) {
	if m == nil {
		return
	}

	m.ExecutionsFinished.WithLabelValues(source, status).Inc()
}

func (m *Metrics) StepAttempt(actionType, outcome string, seconds float64) {
	if m == nil {
		return
	}

	m.StepAttempts.WithLabelValues(actionType, outcome).Inc()
	m.StepDuration.WithLabelValues(actionType).Observe(seconds)
}

func (m *Metrics) Truncated() {
	if m == nil {
		return
	}

	m.ChainTruncations.Inc()
}

func (m *Metrics) Enrollment(programKind, status string) {
	if m == nil {
		return
	}

	m.Enrollments.WithLabelValues(programKind, status).Inc()
}

func (m *Metrics) Tick(seconds float64) {
	if m == nil {
		return
	}

	m.TickDuration.Observe(seconds)
}

func (m *Metrics) Contended() {
	if m == nil {
		return
	}

	m.LeaseContention.Inc()
}

func (m *Metrics) LedgerWriteFailed() {
	if m == nil {
		return
	}

	m.LedgerWriteErrors.Inc()
}
