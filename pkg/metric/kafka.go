package metric

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var _ Kafka = (*kafkaMetrics)(nil)

type kafkaMetrics struct {
	messagesProcessed *prometheus.CounterVec
	messagesFailed    *prometheus.CounterVec
}

func newKafkaMetrics(registry *promRegistry) *kafkaMetrics {
	processed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_processed_total",
			Help: "Total number of order requests consumed from Kafka and committed",
		},
		[]string{"topic", "partition"},
	)

	failed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_failed_total",
			Help: "Total number of order requests that could not be processed",
		},
		[]string{"topic", "partition", "reason"},
	)

	registry.registry.MustRegister(processed, failed)

	return &kafkaMetrics{
		messagesProcessed: processed,
		messagesFailed:    failed,
	}
}

func (m *kafkaMetrics) MessageProcessed(topic string, partition int) {
	m.messagesProcessed.WithLabelValues(topic, partitionLabel(partition)).Inc()
}

func (m *kafkaMetrics) MessageFailed(topic string, partition int, reason string) {
	m.messagesFailed.WithLabelValues(topic, partitionLabel(partition), reason).Inc()
}

func partitionLabel(partition int) string {
	if partition < 0 {
		return "all"
	}
	return strconv.Itoa(partition)
}
