package breaker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/microservices-demo/orders/internal/entity"
	"github.com/microservices-demo/orders/pkg/logger"
	"github.com/microservices-demo/orders/pkg/metric"

	"github.com/sony/gobreaker/v2"
)

const (
	_defaultFailureRatio     = 0.5
	_defaultMinRequests      = 10
	_defaultWindow           = 10 * time.Second
	_defaultCoolDown         = 5 * time.Second
	_defaultHalfOpenRequests = 1
)

// Key identifies a destination. Logical services reached through one shared
// host share a breaker.
type Key struct {
	Host string
	Verb string
}

func (k Key) String() string {
	return k.Verb + " " + k.Host
}

// Stats is a point-in-time view of one breaker.
type Stats struct {
	Host                string `json:"host"`
	Verb                string `json:"verb"`
	State               string `json:"state"`
	Requests            uint32 `json:"requests"`
	TotalFailures       uint32 `json:"totalFailures"`
	ConsecutiveFailures uint32 `json:"consecutiveFailures"`
}

// Registry hands out one circuit breaker per Key, created on first use and
// kept for the life of the process.
type Registry struct {
	log     logger.Logger
	metrics metric.Breaker

	failureRatio     float64
	minRequests      uint32
	window           time.Duration
	coolDown         time.Duration
	halfOpenRequests uint32

	mu       sync.Mutex
	breakers map[Key]*gobreaker.CircuitBreaker[any]
}

func New(log logger.Logger, metrics metric.Breaker, opts ...Option) (*Registry, error) {
	const op = "breaker.New"

	r := &Registry{
		log:              log,
		metrics:          metrics,
		failureRatio:     _defaultFailureRatio,
		minRequests:      _defaultMinRequests,
		window:           _defaultWindow,
		coolDown:         _defaultCoolDown,
		halfOpenRequests: _defaultHalfOpenRequests,
		breakers:         make(map[Key]*gobreaker.CircuitBreaker[any]),
	}

	for _, opt := range opts {
		opt(r)
	}
	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("%s: validation: %w", op, err)
	}

	return r, nil
}

// Execute runs fn under the breaker for key. When the breaker is open, or
// half-open with its trial slots taken, fn is not called and the error wraps
// entity.ErrBreakerOpen. Cancellation of ctx is not held against the
// destination.
func (r *Registry) Execute(ctx context.Context, key Key, fn func() (any, error)) (any, error) {
	cb := r.get(key)

	res, err := cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		r.metrics.Rejected(key.Host, key.Verb)
		r.log.LogAttrs(ctx, logger.DebugLevel, "call rejected by circuit breaker",
			logger.String("host", key.Host),
			logger.String("verb", key.Verb),
			logger.String("state", cb.State().String()),
		)
		return nil, fmt.Errorf("%s: %w", key, entity.ErrBreakerOpen)
	}

	return res, err
}

// State reports the current state of the breaker for key, "closed" if it has
// never been used.
func (r *Registry) State(key Key) string {
	r.mu.Lock()
	cb, ok := r.breakers[key]
	r.mu.Unlock()

	if !ok {
		return gobreaker.StateClosed.String()
	}
	return cb.State().String()
}

func (r *Registry) Snapshot() []Stats {
	r.mu.Lock()
	out := make([]Stats, 0, len(r.breakers))
	for key, cb := range r.breakers {
		counts := cb.Counts()
		out = append(out, Stats{
			Host:                key.Host,
			Verb:                key.Verb,
			State:               cb.State().String(),
			Requests:            counts.Requests,
			TotalFailures:       counts.TotalFailures,
			ConsecutiveFailures: counts.ConsecutiveFailures,
		})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Host != out[j].Host {
			return out[i].Host < out[j].Host
		}
		return out[i].Verb < out[j].Verb
	})
	return out
}

func (r *Registry) get(key Key) *gobreaker.CircuitBreaker[any] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[key]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        key.String(),
		MaxRequests: r.halfOpenRequests,
		Interval:    r.window,
		Timeout:     r.coolDown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= r.minRequests &&
				float64(c.TotalFailures)/float64(c.Requests) >= r.failureRatio
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			r.metrics.State(key.Host, key.Verb, stateValue(to))
			r.log.LogAttrs(context.Background(), logger.WarnLevel, "circuit breaker state changed",
				logger.String("host", key.Host),
				logger.String("verb", key.Verb),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	r.breakers[key] = cb
	r.metrics.State(key.Host, key.Verb, stateValue(gobreaker.StateClosed))

	return cb
}

func stateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
