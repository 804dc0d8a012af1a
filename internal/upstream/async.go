package upstream

import (
	"context"
	"fmt"
	"time"

	"github.com/microservices-demo/orders/internal/entity"
)

const _defaultCallTimeout = 5 * time.Second

// Executor launches upstream calls concurrently, each bounded by its own
// timeout. Calls are detached from the caller's cancellation: once started
// they run to completion or timeout, so their outcome is always recorded by
// the breaker even when nobody waits for it any more.
type Executor struct {
	timeout time.Duration
}

func NewExecutor(timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = _defaultCallTimeout
	}
	return &Executor{timeout: timeout}
}

func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

// Future is the pending result of one call. The result is written exactly
// once by the call's goroutine; readers only observe it after Done is closed.
type Future[T any] struct {
	destination string
	deadline    time.Time
	done        chan struct{}
	cancel      context.CancelFunc

	val T
	err error
}

// Go starts fn in its own goroutine and returns immediately.
func Go[T any](
	ctx context.Context,
	e *Executor,
	destination string,
	fn func(ctx context.Context) (T, error),
) *Future[T] {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	deadline, _ := callCtx.Deadline()

	f := &Future[T]{
		destination: destination,
		deadline:    deadline,
		done:        make(chan struct{}),
		cancel:      cancel,
	}

	go func() {
		defer cancel()
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("upstream.Go: %s call panicked: %v", destination, r)
			}
		}()

		f.val, f.err = fn(callCtx)
	}()

	return f
}

// GoGet starts a GET of rawURL decoded into T.
func GoGet[T any](ctx context.Context, e *Executor, c *Client, destination, rawURL string) *Future[T] {
	return Go(ctx, e, destination, func(ctx context.Context) (T, error) {
		return Get[T](ctx, c, destination, rawURL)
	})
}

// GoPost starts a POST of body to rawURL with the response decoded into T.
func GoPost[T any](ctx context.Context, e *Executor, c *Client, destination, rawURL string, body any) *Future[T] {
	return Go(ctx, e, destination, func(ctx context.Context) (T, error) {
		return Post[T](ctx, c, destination, rawURL, body)
	})
}

// Done is closed once the call has finished.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Cancel abandons the call. A call already finished is unaffected.
func (f *Future[T]) Cancel() {
	f.cancel()
}

// Await blocks until the call finishes, its timeout elapses, or ctx ends.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	var zero T

	select {
	case <-f.done:
		return f.val, f.err
	default:
	}

	timer := time.NewTimer(time.Until(f.deadline))
	defer timer.Stop()

	select {
	case <-f.done:
		return f.val, f.err
	case <-timer.C:
		return zero, &entity.UpstreamError{Destination: f.destination, Kind: entity.ErrTimeout}
	case <-ctx.Done():
		return zero, fmt.Errorf("upstream.Future.Await: %s: %w", f.destination, ctx.Err())
	}
}

// Wait is Await without the value.
func (f *Future[T]) Wait(ctx context.Context) error {
	_, err := f.Await(ctx)
	return err
}

// Waiter is any pending call that can be joined.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Join waits for every pending call and returns the first error in
// completion order without waiting for the rest. Calls still running when
// Join returns are left to finish on their own.
func Join(ctx context.Context, pending ...Waiter) error {
	results := make(chan error, len(pending))
	for _, p := range pending {
		go func() {
			results <- p.Wait(ctx)
		}()
	}

	for range pending {
		select {
		case err := <-results:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return fmt.Errorf("upstream.Join: %w", ctx.Err())
		}
	}
	return nil
}
