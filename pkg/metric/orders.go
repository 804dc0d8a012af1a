package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var _ Orders = (*orderMetrics)(nil)

type orderMetrics struct {
	orchestrations *prometheus.CounterVec
	duration       *prometheus.HistogramVec
}

func newOrderMetrics(registry *promRegistry) *orderMetrics {
	orchestrations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_orchestrations_total",
			Help: "Order creation runs by outcome",
		},
		[]string{"result"},
	)

	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "order_orchestration_duration_seconds",
			Help:    "Wall time of order creation runs in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 20.0, 30.0},
		},
		[]string{"result"},
	)

	registry.registry.MustRegister(orchestrations, duration)

	return &orderMetrics{
		orchestrations: orchestrations,
		duration:       duration,
	}
}

func (m *orderMetrics) Orchestration(result string, duration time.Duration) {
	m.orchestrations.WithLabelValues(result).Inc()
	m.duration.WithLabelValues(result).Observe(duration.Seconds())
}
