package entity

import (
	"errors"
	"fmt"
)

var (
	ErrDataNotFound     = errors.New("data not found")
	ErrConflictingData  = errors.New("data conflicts with existing data in unique column")
	ErrConfigPathNotSet = errors.New("CONFIG_PATH not set and -config flag not provided")

	ErrInvalidOrder            = errors.New("invalid order")
	ErrInvalidQuery            = errors.New("invalid query")
	ErrBreakerOpen             = errors.New("circuit breaker open")
	ErrRemoteUnavailable       = errors.New("remote unavailable")
	ErrTimeout                 = errors.New("remote call timed out")
	ErrRemoteRejected          = errors.New("remote rejected request")
	ErrMalformed               = errors.New("malformed remote response")
	ErrPaymentDeclined         = errors.New("payment declined")
	ErrShipmentLinkUnparseable = errors.New("customer link has no identifier")
	ErrStorageUnavailable      = errors.New("storage unavailable")
)

// UpstreamError describes a failed call to a named destination. Kind is one of
// ErrBreakerOpen, ErrRemoteUnavailable, ErrTimeout, ErrRemoteRejected or ErrMalformed.
type UpstreamError struct {
	Destination string
	Kind        error
	StatusCode  int
	Err         error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Destination, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *UpstreamError) Is(target error) bool {
	return target == e.Kind
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

type PaymentDeclinedError struct {
	Message string
}

func (e *PaymentDeclinedError) Error() string {
	return fmt.Sprintf("%v: %s", ErrPaymentDeclined, e.Message)
}

func (e *PaymentDeclinedError) Is(target error) bool {
	return target == ErrPaymentDeclined
}

// StageError records where in order creation a failure happened. Committed is
// set once the payment call has been made; from then on the request must not
// be run again, whatever the cause.
type StageError struct {
	Stage     string
	Committed bool
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err came from an unhealthy dependency rather than
// from the request itself, so that redelivering the same request may succeed.
// Failures after payment was attempted are never transient.
func IsTransient(err error) bool {
	var stageErr *StageError
	if errors.As(err, &stageErr) && stageErr.Committed {
		return false
	}
	return errors.Is(err, ErrBreakerOpen) ||
		errors.Is(err, ErrRemoteUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrStorageUnavailable)
}
