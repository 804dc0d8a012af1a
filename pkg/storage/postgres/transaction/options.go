package transaction

import (
	"errors"
	"fmt"
	"time"

	"github.com/microservices-demo/orders/internal/config"

	"github.com/jackc/pgx/v5"
)

var errInvalidOption = errors.New("invalid option")

type Option func(*manager)

// FromConfig returns the attempt limit and isolation level configured for
// order writes. Backoff keeps its defaults.
func FromConfig(cfg *config.Postgres) []Option {
	return []Option{
		MaxAttempts(cfg.TxMaxAttempts),
		Isolation(pgx.TxIsoLevel(cfg.TxIsolation)),
	}
}

func MaxAttempts(attempts int) Option {
	return func(m *manager) {
		m.maxAttempts = attempts
	}
}

func BaseRetryDelay(delay time.Duration) Option {
	return func(m *manager) {
		m.baseRetryDelay = delay
	}
}

func MaxRetryDelay(delay time.Duration) Option {
	return func(m *manager) {
		m.maxRetryDelay = delay
	}
}

func Isolation(level pgx.TxIsoLevel) Option {
	return func(m *manager) {
		m.isoLevel = level
	}
}

func (m *manager) validate() error {
	switch {
	case m.maxAttempts <= 0:
		return fmt.Errorf("%w: max attempts %d must be > 0", errInvalidOption, m.maxAttempts)
	case m.baseRetryDelay <= 0 || m.maxRetryDelay <= 0:
		return fmt.Errorf("%w: retry delays must be > 0", errInvalidOption)
	case m.baseRetryDelay > m.maxRetryDelay:
		return fmt.Errorf("%w: base retry delay %s exceeds max %s",
			errInvalidOption, m.baseRetryDelay, m.maxRetryDelay)
	}

	switch m.isoLevel {
	case pgx.ReadCommitted, pgx.RepeatableRead, pgx.Serializable:
		return nil
	default:
		return fmt.Errorf("%w: isolation level %q", errInvalidOption, m.isoLevel)
	}
}
