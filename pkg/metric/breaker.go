package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

var _ Breaker = (*breakerMetrics)(nil)

type breakerMetrics struct {
	state    *prometheus.GaugeVec
	rejected *prometheus.CounterVec
}

func newBreakerMetrics(registry *promRegistry) *breakerMetrics {
	state := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state per destination: 0 closed, 1 half-open, 2 open",
		},
		[]string{"host", "verb"},
	)

	rejected := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_rejected_total",
			Help: "Calls rejected without a network attempt because the breaker was open",
		},
		[]string{"host", "verb"},
	)

	registry.registry.MustRegister(state, rejected)

	return &breakerMetrics{
		state:    state,
		rejected: rejected,
	}
}

func (m *breakerMetrics) State(host, verb string, state int) {
	m.state.WithLabelValues(host, verb).Set(float64(state))
}

func (m *breakerMetrics) Rejected(host, verb string) {
	m.rejected.WithLabelValues(host, verb).Inc()
}
