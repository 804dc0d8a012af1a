package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

var _ DLQ = (*dlqMetrics)(nil)

type dlqMetrics struct {
	messagesSent *prometheus.CounterVec
	retryCount   *prometheus.HistogramVec
	errors       *prometheus.CounterVec
}

func newDLQMetrics(registry *promRegistry) *dlqMetrics {
	sent := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_sent_total",
			Help: "Order requests parked on the dead-letter topic",
		},
		[]string{"dlq_topic", "original_topic"},
	)

	retryHist := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dlq_retry_count",
			Help:    "Attempts made on an order request before it was dead-lettered",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		},
		[]string{"original_topic"},
	)

	errors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_errors_total",
			Help: "Total number of errors related to DLQ operations (e.g. send failure)",
		},
		[]string{"dlq_topic", "reason"},
	)

	registry.registry.MustRegister(sent, retryHist, errors)

	return &dlqMetrics{
		messagesSent: sent,
		retryCount:   retryHist,
		errors:       errors,
	}
}

func (m *dlqMetrics) DLSent(dlqTopic string, originalTopic string, retryCount int) {
	m.messagesSent.WithLabelValues(dlqTopic, originalTopic).Inc()
	m.retryCount.WithLabelValues(originalTopic).Observe(float64(retryCount))
}

func (m *dlqMetrics) DLError(dlqTopic string, reason string) {
	m.errors.WithLabelValues(dlqTopic, reason).Inc()
}
