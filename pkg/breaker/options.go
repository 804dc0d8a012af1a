package breaker

import (
	"errors"
	"time"
)

type Option func(*Registry)

// FailureRatio is the share of failed calls in the window that opens a breaker.
func FailureRatio(ratio float64) Option {
	return func(r *Registry) {
		r.failureRatio = ratio
	}
}

// MinRequests is the call volume a breaker must see in the window before the
// failure ratio is evaluated.
func MinRequests(n uint32) Option {
	return func(r *Registry) {
		r.minRequests = n
	}
}

// Window is the period after which closed-state counts are reset.
func Window(d time.Duration) Option {
	return func(r *Registry) {
		r.window = d
	}
}

// CoolDown is how long an open breaker rejects calls before admitting a trial.
func CoolDown(d time.Duration) Option {
	return func(r *Registry) {
		r.coolDown = d
	}
}

// HalfOpenRequests is the number of trial calls admitted while half-open.
func HalfOpenRequests(n uint32) Option {
	return func(r *Registry) {
		r.halfOpenRequests = n
	}
}

func (r *Registry) validate() error {
	if r.failureRatio <= 0 || r.failureRatio > 1 {
		return errors.New("invalid failure ratio: must be in (0, 1]")
	}

	if r.minRequests == 0 {
		return errors.New("invalid min requests: must be > 0")
	}

	if r.window <= 0 {
		return errors.New("invalid window: must be > 0")
	}

	if r.coolDown <= 0 {
		return errors.New("invalid cool down: must be > 0")
	}

	if r.halfOpenRequests == 0 {
		return errors.New("invalid half-open requests: must be > 0")
	}
	return nil
}
