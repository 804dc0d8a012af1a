package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

var _ Cache = (*cacheMetrics)(nil)

type cacheMetrics struct {
	lookups   *prometheus.CounterVec
	evictions *prometheus.CounterVec
	entries   *prometheus.GaugeVec
}

func newCacheMetrics(registry *promRegistry) *cacheMetrics {
	lookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_cache_lookups_total",
			Help: "Order read cache lookups by result (hit or miss)",
		},
		[]string{"cache", "result"},
	)

	evictions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_cache_evictions_total",
			Help: "Orders dropped from the read cache, by reason",
		},
		[]string{"cache", "reason"},
	)

	entries := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "order_cache_entries",
			Help: "Orders currently held in the read cache",
		},
		[]string{"cache"},
	)

	registry.registry.MustRegister(lookups, evictions, entries)

	return &cacheMetrics{
		lookups:   lookups,
		evictions: evictions,
		entries:   entries,
	}
}

func (m *cacheMetrics) Hit(name string) {
	m.lookups.WithLabelValues(name, "hit").Inc()
}

func (m *cacheMetrics) Miss(name string) {
	m.lookups.WithLabelValues(name, "miss").Inc()
}

func (m *cacheMetrics) Eviction(name, reason string) {
	m.evictions.WithLabelValues(name, reason).Inc()
}

func (m *cacheMetrics) Size(name string, size int) {
	m.entries.WithLabelValues(name).Set(float64(size))
}
