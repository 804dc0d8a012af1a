package metric

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusClass(t *testing.T) {
	testCases := map[int]string{
		200: "2xx",
		201: "2xx",
		302: "3xx",
		404: "4xx",
		406: "4xx",
		502: "5xx",
		503: "5xx",
	}
	for status, want := range testCases {
		assert.Equal(t, want, statusClass(status), "status %d", status)
	}
}

func TestFactory_Records(t *testing.T) {
	f := NewFactory().(*prometheusFactory)

	f.HTTP().Request(http.MethodPost, "/orders", 503, 10*time.Millisecond)
	f.Upstream().Call("payment", http.MethodPost, "timeout", time.Second)
	f.Upstream().Call("payment", http.MethodPost, "timeout", time.Second)
	f.Breaker().State("payment", http.MethodPost, 2)
	f.Breaker().Rejected("payment", http.MethodPost)
	f.Orders().Orchestration("completed", 50*time.Millisecond)
	f.Kafka().MessageFailed("orders-requests", 3, "permanent")
	f.DLQ().DLSent("orders-requests-dlq", "orders-requests", 5)
	f.Cache().Hit("order")
	f.Cache().Miss("order")
	f.Cache().Miss("order")
	f.Cache().Size("order", 7)
	f.Transaction().IncrementRetries("SaveOrder")
	f.Transaction().IncrementFailures("SaveOrder")

	assert.InDelta(t, 1, testutil.ToFloat64(f.http.requestCounter.WithLabelValues(http.MethodPost, "/orders", "5xx")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(f.upstream.calls.WithLabelValues("payment", http.MethodPost, "timeout")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.kafka.messagesFailed.WithLabelValues("orders-requests", "3", "permanent")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.dlq.messagesSent.WithLabelValues("orders-requests-dlq", "orders-requests")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.cache.lookups.WithLabelValues("order", "hit")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(f.cache.lookups.WithLabelValues("order", "miss")), 0)
	assert.InDelta(t, 7, testutil.ToFloat64(f.cache.entries.WithLabelValues("order")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.transaction.attempts.WithLabelValues("SaveOrder", "retried")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.transaction.attempts.WithLabelValues("SaveOrder", "failed")), 0)

	rec := httptest.NewRecorder()
	f.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "circuit_breaker_state")
	assert.Contains(t, string(body), "order_orchestrations_total")
}

func TestNewFactory_Independent(t *testing.T) {
	assert.NotPanics(t, func() {
		NewFactory()
		NewFactory()
	})
}
