package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionMetrics tracks the session lifecycle. All methods are safe to call
// on a nil receiver.
type SessionMetrics struct {
	Created          *prometheus.CounterVec
	Finalized        *prometheus.CounterVec
	Active           prometheus.Gauge
	ExecutionSeconds *prometheus.HistogramVec
	OrphansRecovered prometheus.Counter
	Interrupts       prometheus.Counter
	Drains           *prometheus.CounterVec
}

func newSessionMetrics(registry *prometheus.Registry) *SessionMetrics {
	m := &SessionMetrics{
		Created: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sessions",
				Name:      "created_total",
				Help:      "Sessions created, by session type.",
			},
			[]string{"session_type"},
		),
		Finalized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sessions",
				Name:      "finalized_total",
				Help:      "Sessions that reached a terminal status, by status.",
			},
			[]string{"status"},
		),
		Active: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sessions",
				Name:      "active",
				Help:      "Sessions currently registered as executing.",
			},
		),
		ExecutionSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sessions",
				Name:      "execution_duration_seconds",
				Help:      "Wall time of executions, by outcome.",
				Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"outcome"},
		),
		OrphansRecovered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sessions",
				Name:      "orphans_recovered_total",
				Help:      "Sessions moved from created to failed at startup.",
			},
		),
		Interrupts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sessions",
				Name:      "interrupts_total",
				Help:      "Interrupt signals delivered to running sessions.",
			},
		),
		Drains: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sessions",
				Name:      "drains_total",
				Help:      "Shutdown drain attempts, by result (drained, timeout).",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.Created,
		m.Finalized,
		m.Active,
		m.ExecutionSeconds,
		m.OrphansRecovered,
		m.Interrupts,
		m.Drains,
	)

	return m
}

// RecordCreated counts a newly created session.
func (m *SessionMetrics) RecordCreated(sessionType string) {
	if m == nil {
		return
	}
	m.Created.WithLabelValues(sessionType).Inc()
}

// RecordFinalized counts a session reaching status.
func (m *SessionMetrics) RecordFinalized(status string) {
	if m == nil {
		return
	}
	m.Finalized.WithLabelValues(status).Inc()
}

// RecordExecution observes an execution's wall time.
func (m *SessionMetrics) RecordExecution(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ExecutionSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// SetActive sets the number of registered sessions.
func (m *SessionMetrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.Active.Set(float64(n))
}

// AddOrphansRecovered counts recovered orphans.
func (m *SessionMetrics) AddOrphansRecovered(n int64) {
	if m == nil {
		return
	}
	m.OrphansRecovered.Add(float64(n))
}

// AddInterrupts counts delivered interrupt signals.
func (m *SessionMetrics) AddInterrupts(n int) {
	if m == nil {
		return
	}
	m.Interrupts.Add(float64(n))
}

// RecordDrain counts a drain attempt.
func (m *SessionMetrics) RecordDrain(drained bool) {
	if m == nil {
		return
	}
	result := "timeout"
	if drained {
		result = "drained"
	}
	m.Drains.WithLabelValues(result).Inc()
}
