package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/microservices-demo/orders/internal/config"
)

var errInvalidOption = errors.New("invalid option")

type Option func(*Postgres)

// FromConfig turns the pool and connect-retry settings of cfg into options.
func FromConfig(cfg *config.Postgres) []Option {
	return []Option{
		MaxPoolSize(cfg.PoolMax),
		MaxConnAttempts(cfg.ConnAttempts),
		BaseRetryDelay(cfg.BaseRetryDelay),
		MaxRetryDelay(cfg.MaxRetryDelay),
	}
}

func MaxPoolSize(size int32) Option {
	return func(p *Postgres) {
		p.maxPoolSize = size
	}
}

func MaxConnAttempts(attempts int) Option {
	return func(p *Postgres) {
		p.connAttempts = attempts
	}
}

func BaseRetryDelay(delay time.Duration) Option {
	return func(p *Postgres) {
		p.baseRetryDelay = delay
	}
}

func MaxRetryDelay(delay time.Duration) Option {
	return func(p *Postgres) {
		p.maxRetryDelay = delay
	}
}

func (p *Postgres) validate() error {
	switch {
	case p.maxPoolSize <= 0:
		return fmt.Errorf("%w: pool size %d must be > 0", errInvalidOption, p.maxPoolSize)
	case p.connAttempts <= 0:
		return fmt.Errorf("%w: connect attempts %d must be > 0", errInvalidOption, p.connAttempts)
	case p.baseRetryDelay <= 0 || p.maxRetryDelay <= 0:
		return fmt.Errorf("%w: connect retry delays must be > 0", errInvalidOption)
	case p.baseRetryDelay > p.maxRetryDelay:
		return fmt.Errorf("%w: base retry delay %s exceeds max %s",
			errInvalidOption, p.baseRetryDelay, p.maxRetryDelay)
	}
	return nil
}
