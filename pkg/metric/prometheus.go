package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ Factory = (*prometheusFactory)(nil)

type prometheusFactory struct {
	registry    *promRegistry
	http        *httpMetrics
	transaction *transactionMetrics
	cache       *cacheMetrics
	kafka       *kafkaMetrics
	dlq         *dlqMetrics
	upstream    *upstreamMetrics
	breaker     *breakerMetrics
	orders      *orderMetrics
}

// NewFactory builds every metric family on a private registry, so several
// factories can coexist in one process.
func NewFactory() Factory {
	registry := newPromRegistry()

	return &prometheusFactory{
		registry:    registry,
		http:        newHTTPMetrics(registry),
		transaction: newTransactionMetrics(registry),
		cache:       newCacheMetrics(registry),
		kafka:       newKafkaMetrics(registry),
		dlq:         newDLQMetrics(registry),
		upstream:    newUpstreamMetrics(registry),
		breaker:     newBreakerMetrics(registry),
		orders:      newOrderMetrics(registry),
	}
}

func (f *prometheusFactory) HTTP() HTTP {
	return f.http
}

func (f *prometheusFactory) Transaction() Transaction {
	return f.transaction
}

func (f *prometheusFactory) Cache() Cache {
	return f.cache
}

func (f *prometheusFactory) Kafka() Kafka {
	return f.kafka
}

func (f *prometheusFactory) DLQ() DLQ {
	return f.dlq
}

func (f *prometheusFactory) Upstream() Upstream {
	return f.upstream
}

func (f *prometheusFactory) Breaker() Breaker {
	return f.breaker
}

func (f *prometheusFactory) Orders() Orders {
	return f.orders
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (f *prometheusFactory) Gatherer() prometheus.Gatherer {
	return f.registry.registry
}

func (f *prometheusFactory) Handler() http.Handler {
	return promhttp.HandlerFor(f.registry.registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		})
}

type promRegistry struct {
	registry *prometheus.Registry
}

func newPromRegistry() *promRegistry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &promRegistry{registry: reg}
}
