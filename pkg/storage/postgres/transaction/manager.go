package transaction

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/microservices-demo/orders/pkg/logger"
	"github.com/microservices-demo/orders/pkg/metric"
	"github.com/microservices-demo/orders/pkg/storage/postgres"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	_defaultMaxAttempts    = 3
	_defaultBaseRetryDelay = 10 * time.Millisecond
	_defaultMaxRetryDelay  = 100 * time.Millisecond

	_backoffMultiplier = 2
)

type Manager interface {
	ExecuteInTransaction(
		ctx context.Context,
		operation string,
		fn func(ctx context.Context, tx postgres.QueryExecuter) error,
	) error
}

type manager struct {
	db      *postgres.Postgres
	log     logger.Logger
	metrics metric.Transaction

	maxAttempts    int
	baseRetryDelay time.Duration
	maxRetryDelay  time.Duration
	isoLevel       pgx.TxIsoLevel
}

func NewManager(
	db *postgres.Postgres,
	log logger.Logger,
	metrics metric.Transaction,
	opts ...Option,
) (Manager, error) {
	tm := &manager{
		db:      db,
		log:     log,
		metrics: metrics,

		maxAttempts:    _defaultMaxAttempts,
		baseRetryDelay: _defaultBaseRetryDelay,
		maxRetryDelay:  _defaultMaxRetryDelay,
		isoLevel:       pgx.ReadCommitted,
	}

	for _, opt := range opts {
		opt(tm)
	}
	if err := tm.validate(); err != nil {
		return nil, fmt.Errorf("storage.postgres.transaction.NewManager: %w", err)
	}

	return tm, nil
}

// ExecuteInTransaction runs fn in a transaction at the configured isolation
// level and commits it.
// Serialization failures, deadlocks and dropped connections are retried with
// jittered backoff; any other error rolls back and is returned as is.
func (tm *manager) ExecuteInTransaction(
	ctx context.Context,
	operation string,
	fn func(ctx context.Context, tx postgres.QueryExecuter) error,
) error {
	const op = "storage.postgres.transaction.ExecuteInTransaction"

	return tm.withRetry(ctx, operation, func() error {
		tx, err := tm.db.Pool.BeginTx(ctx, pgx.TxOptions{
			IsoLevel:   tm.isoLevel,
			AccessMode: pgx.ReadWrite,
		})
		if err != nil {
			return fmt.Errorf("%s: begin tx: %w", op, err)
		}
		defer tm.safelyRollback(ctx, tx, operation)

		if err = fn(ctx, &postgres.TxQueryExecuter{Tx: tx}); err != nil {
			return fmt.Errorf("%s: %s: %w", op, operation, err)
		}

		if err = tx.Commit(ctx); err != nil {
			return fmt.Errorf("%s: commit: %w", op, err)
		}
		return nil
	})
}

func (tm *manager) safelyRollback(ctx context.Context, tx pgx.Tx, operation string) {
	const op = "storage.postgres.transaction.safelyRollback"

	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		tm.log.LogAttrs(ctx, logger.ErrorLevel, "rollback failed",
			logger.String("op", op),
			logger.String("transaction", operation),
			logger.Err(err),
		)
	}
}

func (tm *manager) withRetry(ctx context.Context, operation string, fn func() error) error {
	const op = "storage.postgres.transaction.withRetry"

	start := time.Now()
	defer func() {
		tm.metrics.ObserveDuration(operation, time.Since(start))
	}()

	var lastErr error
	backoff := tm.baseRetryDelay
	for attempt := 1; attempt <= tm.maxAttempts; attempt++ {
		if attempt > 1 {
			jitter := min(time.Duration(rand.Int64N(int64(backoff*_backoffMultiplier))), tm.maxRetryDelay)

			tm.log.LogAttrs(ctx, logger.InfoLevel, "retrying transaction",
				logger.String("op", op),
				logger.String("transaction", operation),
				logger.Int("attempt", attempt),
				logger.Int("max_attempts", tm.maxAttempts),
				logger.Duration("retry_after", jitter),
				logger.Err(lastErr),
			)

			timer := time.NewTimer(jitter)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				tm.metrics.IncrementFailures(operation)
				return fmt.Errorf("%s: %w", op, ctx.Err())
			}

			backoff = min(backoff*_backoffMultiplier, tm.maxRetryDelay)
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			tm.metrics.IncrementFailures(operation)
			return err
		}

		tm.metrics.IncrementRetries(operation)
		lastErr = err
	}

	tm.metrics.IncrementFailures(operation)
	return fmt.Errorf("%s: max attempts (%d) exceeded for %s: %w", op, tm.maxAttempts, operation, lastErr)
}

// IsRetryable reports whether err is a transient database condition worth
// another attempt.
func IsRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40P01", "40001", "08000", "08003", "08006", "08001", "08004", "08007", "08P01":
			return true
		}
		return false
	}

	return errors.Is(err, pgx.ErrTxClosed) || pgconn.SafeToRetry(err)
}
