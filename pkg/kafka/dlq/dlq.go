package dlq

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/microservices-demo/orders/internal/config"
	"github.com/microservices-demo/orders/pkg/logger"
	"github.com/microservices-demo/orders/pkg/metric"

	"github.com/segmentio/kafka-go"
)

const (
	_defaultMaxAttempts    = 5
	_defaultBaseRetryDelay = 100 * time.Millisecond
	_defaultMaxRetryDelay  = 5 * time.Second
	_defaultSendAttempts   = 3
	_sendRetryDelay        = 100 * time.Millisecond

	_backoffMultiplier = 2
)

// ErrDeadLettered marks a message that was given up on and parked.
var ErrDeadLettered = errors.New("message dead-lettered")

type (
	Writer interface {
		WriteMessages(ctx context.Context, msgs ...kafka.Message) error
		Close() error
	}

	// Handler processes one message. Returning nil acknowledges it.
	Handler func(ctx context.Context, msg kafka.Message) error

	Metadata struct {
		OriginalTopic string `json:"original_topic"`
		Partition     int    `json:"partition"`
		Offset        int64  `json:"offset"`
		RetryCount    int    `json:"retry_count"`
		Redrives      int    `json:"redrives"`
		Permanent     bool   `json:"permanent"`
		Error         string `json:"error"`
		Timestamp     string `json:"timestamp"`
	}

	// Attempt describes how a message came to be parked.
	Attempt struct {
		RetryCount int
		Redrives   int
		Permanent  bool
	}

	Envelope struct {
		Metadata Metadata `json:"metadata"`
		Payload  string   `json:"payload"`
	}
)

type DLQ struct {
	writer  Writer
	topic   string
	log     logger.Logger
	metrics metric.DLQ

	MaxAttempts    int
	baseRetryDelay time.Duration
	maxRetryDelay  time.Duration
	sendAttempts   int
}

func NewDLQ(
	brokers []string,
	cfg *config.DLQ,
	log logger.Logger,
	metrics metric.DLQ,
	opts ...Option,
) (*DLQ, error) {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Async:        false,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			log.LogAttrs(context.Background(), logger.ErrorLevel, "dlq writer error",
				logger.String("error", fmt.Sprintf(msg, args...)),
			)
		}),
	}

	opts = append([]Option{
		MaxAttemptsCount(cfg.MaxRetryCount),
		BaseRetryDelay(cfg.RetryDelay),
	}, opts...)

	return New(writer, cfg.Topic, log, metrics, opts...)
}

// New wraps an existing writer. NewDLQ is the usual constructor.
func New(writer Writer, topic string, log logger.Logger, metrics metric.DLQ, opts ...Option) (*DLQ, error) {
	d := &DLQ{
		writer:  writer,
		topic:   topic,
		log:     log,
		metrics: metrics,

		MaxAttempts:    _defaultMaxAttempts,
		baseRetryDelay: _defaultBaseRetryDelay,
		maxRetryDelay:  _defaultMaxRetryDelay,
		sendAttempts:   _defaultSendAttempts,
	}

	for _, opt := range opts {
		opt(d)
	}

	if err := d.validate(); err != nil {
		return nil, fmt.Errorf("kafka.dlq.New: validation: %w", err)
	}

	return d, nil
}

func (d *DLQ) Close() error {
	if err := d.writer.Close(); err != nil {
		return fmt.Errorf("kafka.dlq.Close: %w", err)
	}
	return nil
}

// Send parks msg on the dead-letter topic together with the reason it failed.
// The write itself is retried a few times before giving up.
func (d *DLQ) Send(
	ctx context.Context,
	originalMsg kafka.Message,
	cause error,
	attempt Attempt,
) error {
	const op = "kafka.dlq.Send"

	value, err := json.Marshal(Envelope{
		Metadata: Metadata{
			OriginalTopic: originalMsg.Topic,
			Partition:     originalMsg.Partition,
			Offset:        originalMsg.Offset,
			RetryCount:    attempt.RetryCount,
			Redrives:      attempt.Redrives,
			Permanent:     attempt.Permanent,
			Error:         cause.Error(),
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
		},
		Payload: string(originalMsg.Value),
	})
	if err != nil {
		d.log.Errorw("failed to marshal dlq message",
			"op", op,
			"error", err,
			"original_offset", originalMsg.Offset,
			"payload_base64", base64.StdEncoding.EncodeToString(originalMsg.Value),
		)
		d.metrics.DLError(d.topic, "marshal_failed")
		return fmt.Errorf("%s: marshal: %w", op, err)
	}

	out := kafka.Message{
		Key:   originalMsg.Key,
		Value: value,
	}

	for try := 1; ; try++ {
		err = d.writer.WriteMessages(ctx, out)
		if err == nil {
			break
		}
		if try >= d.sendAttempts || ctx.Err() != nil {
			d.log.Errorw("failed to send message to dlq",
				"op", op,
				"error", err,
				"offset", originalMsg.Offset,
				"attempts", try,
			)
			d.metrics.DLError(d.topic, "write_failed")
			return fmt.Errorf("%s: write: %w", op, err)
		}

		d.log.Warnw("failed to send to DLQ, retrying",
			"retry", try,
			"error", err)

		select {
		case <-time.After(_sendRetryDelay * time.Duration(try)):
		case <-ctx.Done():
		}
	}

	d.metrics.DLSent(d.topic, originalMsg.Topic, attempt.RetryCount)
	d.log.Infow("message sent to dlq",
		"op", op,
		"topic", d.topic,
		"offset", originalMsg.Offset,
		"retry_count", attempt.RetryCount,
		"redrives", attempt.Redrives,
		"permanent", attempt.Permanent,
	)

	return nil
}

// Process runs handler until it succeeds, fails with an error retryable does
// not accept, or MaxAttempts is reached. Retries back off exponentially with
// full jitter. A message that does not succeed is parked and an error wrapping
// ErrDeadLettered and the last handler error is returned. Cancellation of ctx
// stops processing without parking.
func (d *DLQ) Process(
	ctx context.Context,
	msg kafka.Message,
	handler Handler,
	retryable func(error) bool,
) error {
	const op = "kafka.dlq.Process"

	var err error
	attempt := 0
	currentBackoff := d.baseRetryDelay

	for attempt < d.MaxAttempts {
		attempt++

		err = handler(ctx, msg)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", op, ctxErr)
		}

		d.log.LogAttrs(ctx, logger.WarnLevel, "message processing failed",
			logger.String("op", op),
			logger.Int64("offset", msg.Offset),
			logger.Int("attempt", attempt),
			logger.Err(err),
		)

		if !retryable(err) || attempt == d.MaxAttempts {
			break
		}

		wait := time.Duration(rand.Int64N(int64(currentBackoff*_backoffMultiplier) + 1))
		if wait > d.maxRetryDelay {
			wait = d.maxRetryDelay
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}

		currentBackoff = min(currentBackoff*_backoffMultiplier, d.maxRetryDelay)
	}

	parked := Attempt{RetryCount: attempt, Permanent: !retryable(err)}
	if sendErr := d.Send(ctx, msg, err, parked); sendErr != nil {
		return fmt.Errorf("%s: %w", op, errors.Join(err, sendErr))
	}
	return fmt.Errorf("%s: %w after %d attempts: %w", op, ErrDeadLettered, attempt, err)
}
