package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var _ Upstream = (*upstreamMetrics)(nil)

type upstreamMetrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newUpstreamMetrics(registry *promRegistry) *upstreamMetrics {
	calls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_calls_total",
			Help: "Total number of outbound calls by destination, verb and result",
		},
		[]string{"destination", "verb", "result"},
	)

	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_call_duration_seconds",
			Help:    "Outbound call duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"destination", "verb", "result"},
	)

	registry.registry.MustRegister(calls, duration)

	return &upstreamMetrics{
		calls:    calls,
		duration: duration,
	}
}

func (m *upstreamMetrics) Call(destination, verb, result string, duration time.Duration) {
	m.calls.WithLabelValues(destination, verb, result).Inc()
	m.duration.WithLabelValues(destination, verb, result).Observe(duration.Seconds())
}
