package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/microservices-demo/orders/internal/config"

	"github.com/stretchr/testify/require"
)

// writeEnvFile registers every variable with t.Setenv as well, because reading
// a .env file exports its variables into the process environment.
func writeEnvFile(t *testing.T, content string) string {
	t.Helper()

	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		key, value, ok := strings.Cut(line, "=")
		if ok {
			t.Setenv(key, value)
		}
	}

	path := filepath.Join(t.TempDir(), "orders.env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const _baseEnv = `DB_HOST=localhost
DB_PORT=5432
DB_NAME=orders
DB_USER=orders
DB_PASSWORD=secret
DB_SSL_MODE=disable
`

func TestLoadPath_Defaults(t *testing.T) {
	cfg, err := config.LoadPath(writeEnvFile(t, _baseEnv))
	require.NoError(t, err)

	require.Equal(t, 5*time.Second, cfg.Upstream.Timeout)
	require.Equal(t, "http://payment/paymentAuth", cfg.Upstream.PaymentURL)
	require.Equal(t, "http://shipping/shipping", cfg.Upstream.ShippingURL)

	require.InDelta(t, 0.5, cfg.Breaker.FailureRatio, 1e-9)
	require.EqualValues(t, 10, cfg.Breaker.MinRequests)
	require.Equal(t, 5*time.Second, cfg.Breaker.CoolDown)
	require.EqualValues(t, 1, cfg.Breaker.HalfOpenRequests)

	require.False(t, cfg.Kafka.Enabled)
	require.Contains(t, cfg.Tracing.Headers, "x-request-id")
}

func TestLoadPath_Overrides(t *testing.T) {
	cfg, err := config.LoadPath(writeEnvFile(t, _baseEnv+`UPSTREAM_TIMEOUT=2s
UPSTREAM_PAYMENT_URL=http://payment.internal:8080/paymentAuth
BREAKER_FAILURE_RATIO=0.25
`))
	require.NoError(t, err)

	require.Equal(t, 2*time.Second, cfg.Upstream.Timeout)
	require.Equal(t, "http://payment.internal:8080/paymentAuth", cfg.Upstream.PaymentURL)
	require.InDelta(t, 0.25, cfg.Breaker.FailureRatio, 1e-9)
}

func TestLoadPath_ValidationErrors(t *testing.T) {
	testCases := []struct {
		desc  string
		extra string
	}{
		{desc: "TimeoutTooLarge", extra: "UPSTREAM_TIMEOUT=5m\n"},
		{desc: "FailureRatioAboveOne", extra: "BREAKER_FAILURE_RATIO=1.5\n"},
		{desc: "KafkaWithoutBrokers", extra: "KAFKA_ENABLED=true\n"},
		{desc: "UnknownEnv", extra: "ENV=qa\n"},
		{desc: "UpstreamOutlastsWriteDeadline", extra: "UPSTREAM_TIMEOUT=10s\n"},
		{desc: "WriteDeadlineTooShort", extra: "HTTP_WRITE_TIMEOUT=5s\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := config.LoadPath(writeEnvFile(t, _baseEnv+tc.extra))
			require.Error(t, err)
		})
	}
}

func TestLoadPath_WriteDeadlineCoversUpstream(t *testing.T) {
	cfg, err := config.LoadPath(writeEnvFile(t, _baseEnv+`UPSTREAM_TIMEOUT=15s
HTTP_WRITE_TIMEOUT=50s
`))
	require.NoError(t, err)
	require.Greater(t, cfg.HTTP.WriteTimeout, 3*cfg.Upstream.Timeout)

	_, err = config.LoadPath(writeEnvFile(t, _baseEnv+`UPSTREAM_TIMEOUT=15s
HTTP_WRITE_TIMEOUT=45s
`))
	require.ErrorContains(t, err, "HTTP_WRITE_TIMEOUT")
}

func TestLoadPath_MissingFile(t *testing.T) {
	_, err := config.LoadPath(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}
