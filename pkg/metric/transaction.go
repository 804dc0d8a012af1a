package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var _ Transaction = (*transactionMetrics)(nil)

const (
	_txRetried = "retried"
	_txFailed  = "failed"
)

// transactionMetrics covers writes to the order store. Retries and final
// failures share one counter, split by result.
type transactionMetrics struct {
	duration *prometheus.HistogramVec
	attempts *prometheus.CounterVec
}

func newTransactionMetrics(registry *promRegistry) *transactionMetrics {
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "order_store_transaction_duration_seconds",
			Help:    "Wall time of order store transactions, retries included",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"operation"},
	)

	attempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_store_transaction_attempts_total",
			Help: "Order store transaction attempts that did not commit, by result",
		},
		[]string{"operation", "result"},
	)

	registry.registry.MustRegister(duration, attempts)

	return &transactionMetrics{
		duration: duration,
		attempts: attempts,
	}
}

func (m *transactionMetrics) ObserveDuration(operation string, d time.Duration) {
	m.duration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *transactionMetrics) IncrementRetries(operation string) {
	m.attempts.WithLabelValues(operation, _txRetried).Inc()
}

func (m *transactionMetrics) IncrementFailures(operation string) {
	m.attempts.WithLabelValues(operation, _txFailed).Inc()
}
