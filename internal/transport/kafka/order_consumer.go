package kafkat

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/microservices-demo/orders/internal/entity"
	"github.com/microservices-demo/orders/pkg/kafka/dlq"
	"github.com/microservices-demo/orders/pkg/logger"
	"github.com/microservices-demo/orders/pkg/metric"
	"github.com/microservices-demo/orders/pkg/tracing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/errgroup"
)

type (
	Reader interface {
		FetchMessage(ctx context.Context) (kafka.Message, error)
		CommitMessages(ctx context.Context, msgs ...kafka.Message) error
		Close() error
	}

	OrderCreator interface {
		CreateOrder(ctx context.Context, req *entity.NewOrderRequest) (*entity.CustomerOrder, error)
	}
)

// OrderConsumer feeds order requests from Kafka into the same orchestration
// the HTTP endpoint uses. Transient failures are retried in place; anything
// that still fails is parked on the dead-letter topic and committed.
type OrderConsumer struct {
	reader    Reader
	dlq       *dlq.DLQ
	svc       OrderCreator
	propagate []string
	metric    metric.Kafka
	log       logger.Logger
}

func NewOrderConsumer(
	reader Reader,
	dlq *dlq.DLQ,
	svc OrderCreator,
	propagate []string,
	metric metric.Kafka,
	log logger.Logger,
) *OrderConsumer {
	return &OrderConsumer{
		reader:    reader,
		dlq:       dlq,
		svc:       svc,
		propagate: propagate,
		metric:    metric,
		log:       log,
	}
}

func (c *OrderConsumer) Start(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return c.run(ctx)
	})

	eg.Go(func() error {
		<-ctx.Done()
		c.log.Infow("shutting down consumer")
		return c.reader.Close()
	})

	if err := eg.Wait(); err != nil {
		return fmt.Errorf("transport.kafka.OrderConsumer.Start: %w", err)
	}
	return nil
}

func (c *OrderConsumer) run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Errorw("kafka fetch failed", "error", err)
			continue
		}

		if !c.processMessage(ctx, msg) {
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Errorw("kafka commit failed",
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// processMessage reports whether msg is done with and may be committed.
func (c *OrderConsumer) processMessage(ctx context.Context, msg kafka.Message) bool {
	c.log.Debugw("processing kafka message",
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
	)

	err := c.dlq.Process(ctx, msg, c.handleMessage, entity.IsTransient)
	switch {
	case err == nil:
		c.metric.MessageProcessed(msg.Topic, msg.Partition)
	case ctx.Err() != nil:
		return false
	case errors.Is(err, dlq.ErrDeadLettered):
		c.metric.MessageFailed(msg.Topic, msg.Partition, failureReason(err))
	default:
		sum := sha256.Sum256(msg.Value)
		c.log.Errorw("critical: message neither processed nor dead-lettered",
			"offset", msg.Offset,
			"payload_sha256", hex.EncodeToString(sum[:]),
			"error", err,
		)
		c.metric.MessageFailed(msg.Topic, msg.Partition, "dead_letter_failed")
	}
	return true
}

func (c *OrderConsumer) handleMessage(ctx context.Context, msg kafka.Message) error {
	const op = "transport.kafka.OrderConsumer.handleMessage"

	req, err := decodeRequest(msg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	ctx = c.requestContext(ctx, msg, req.ID)

	order, err := c.svc.CreateOrder(ctx, req)
	if err != nil {
		return fmt.Errorf("%s: create order: %w", op, err)
	}

	c.log.Ctx(ctx).LogAttrs(ctx, logger.InfoLevel, "order created from kafka",
		logger.String("order_id", order.ID.String()),
		logger.Int64("offset", msg.Offset),
	)
	return nil
}

// requestContext gives a message the same correlation context an HTTP request
// would get: its id, the propagated headers and any trace context.
func (c *OrderConsumer) requestContext(ctx context.Context, msg kafka.Message, id uuid.UUID) context.Context {
	headers := make(http.Header, len(msg.Headers))
	for _, h := range msg.Headers {
		headers.Add(h.Key, string(h.Value))
	}
	headers.Set(tracing.RequestIDHeader, id.String())

	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(headers))
	ctx = tracing.WithHeaders(ctx, tracing.Capture(headers, append([]string{tracing.RequestIDHeader}, c.propagate...)))
	return c.log.WithRequestID(ctx, id.String())
}

// decodeRequest parses a message into an order request. A request without an
// id gets one derived from the message key, or from its position in the topic,
// so that redelivery of the same message never creates a second order.
func decodeRequest(msg kafka.Message) (*entity.NewOrderRequest, error) {
	var req entity.NewOrderRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return nil, fmt.Errorf("%w: %w", entity.ErrInvalidOrder, err)
	}

	if req.ID == uuid.Nil {
		switch {
		case len(msg.Key) > 0:
			if id, err := uuid.ParseBytes(msg.Key); err == nil {
				req.ID = id
			} else {
				req.ID = uuid.NewSHA1(uuid.NameSpaceURL, append([]byte("kafka-key:"), msg.Key...))
			}
		default:
			pos := msg.Topic + "/" + strconv.Itoa(msg.Partition) + "/" + strconv.FormatInt(msg.Offset, 10)
			req.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("kafka-offset:"+pos))
		}
	}
	return &req, nil
}

func failureReason(err error) string {
	if entity.IsTransient(err) {
		return "retry_limit_exceeded"
	}
	return "permanent"
}
