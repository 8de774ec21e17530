package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StoreMetrics tracks state store operations. All methods are safe to call
// on a nil receiver.
type StoreMetrics struct {
	OperationSeconds *prometheus.HistogramVec
	Bytes            *prometheus.CounterVec
}

func newStoreMetrics(registry *prometheus.Registry) *StoreMetrics {
	m := &StoreMetrics{
		OperationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "state_store",
				Name:      "operation_duration_seconds",
				Help:      "State store operation latency, by backend, operation and result.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend", "operation", "result"},
		),
		Bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "state_store",
				Name:      "bytes_total",
				Help:      "Encoded bytes moved through the state store, by backend and direction.",
			},
			[]string{"backend", "direction"},
		),
	}

	registry.MustRegister(m.OperationSeconds, m.Bytes)
	return m
}

// ObserveOperation records one store operation.
func (m *StoreMetrics) ObserveOperation(backend, operation string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.OperationSeconds.WithLabelValues(backend, operation, result).Observe(d.Seconds())
}

// AddBytes counts encoded bytes read or written.
func (m *StoreMetrics) AddBytes(backend, direction string, n int) {
	if m == nil {
		return
	}
	m.Bytes.WithLabelValues(backend, direction).Add(float64(n))
}
