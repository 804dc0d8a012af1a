package kafkat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/microservices-demo/orders/internal/entity"
	"github.com/microservices-demo/orders/pkg/kafka/dlq"
	"github.com/microservices-demo/orders/pkg/logger"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

const _defaultDLQHandleTimeout = 30 * time.Second

// DLQProcessor gives parked order requests another chance once their
// dependencies had time to recover. Only requests that failed for transient
// reasons are replayed; each is tried at most maxRedrives times and parked
// again with a higher retry count when it still fails.
type DLQProcessor struct {
	reader      Reader
	dlq         *dlq.DLQ
	consumer    *OrderConsumer
	delay       time.Duration
	maxRedrives int
	log         logger.Logger
	now         func() time.Time
}

func NewDLQProcessor(
	reader Reader,
	dlq *dlq.DLQ,
	consumer *OrderConsumer,
	delay time.Duration,
	maxRedrives int,
	log logger.Logger,
) *DLQProcessor {
	return &DLQProcessor{
		reader:      reader,
		dlq:         dlq,
		consumer:    consumer,
		delay:       delay,
		maxRedrives: maxRedrives,
		log:         log,
		now:         time.Now,
	}
}

func (p *DLQProcessor) Start(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		for {
			msg, err := p.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.log.Errorw("read dlq message", "error", err)
				continue
			}

			if !p.processMessage(ctx, msg) {
				return nil
			}

			if err = p.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				p.log.Errorw("dlq commit failed", "offset", msg.Offset, "error", err)
			}
		}
	})

	eg.Go(func() error {
		<-ctx.Done()
		p.log.Infow("dlq processor shutting down")
		return p.reader.Close()
	})

	if err := eg.Wait(); err != nil {
		return fmt.Errorf("transport.kafka.DLQProcessor.Start: %w", err)
	}
	return nil
}

// processMessage reports whether msg may be committed.
func (p *DLQProcessor) processMessage(ctx context.Context, msg kafka.Message) bool {
	var env dlq.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		p.log.Errorw("unmarshal dlq message",
			"error", err,
			"offset", msg.Offset,
		)
		return true
	}

	if env.Metadata.Permanent {
		p.log.Debugw("skipping permanently failed order request", "offset", msg.Offset)
		return true
	}
	if env.Metadata.Redrives >= p.maxRedrives {
		p.log.Infow("skipping dlq message after max redrives",
			"offset", msg.Offset,
			"redrives", env.Metadata.Redrives,
		)
		return true
	}

	if wait := msg.Time.Add(p.delay).Sub(p.now()); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return false
		}
	}

	original := kafka.Message{
		Topic:     env.Metadata.OriginalTopic,
		Partition: env.Metadata.Partition,
		Offset:    env.Metadata.Offset,
		Key:       msg.Key,
		Value:     []byte(env.Payload),
		Headers:   msg.Headers,
	}

	handleCtx, cancel := context.WithTimeout(ctx, _defaultDLQHandleTimeout)
	defer cancel()

	err := p.consumer.handleMessage(handleCtx, original)
	if err == nil {
		p.log.Infow("dlq message processed successfully",
			"offset", msg.Offset,
			"original_offset", original.Offset,
		)
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	parked := dlq.Attempt{
		RetryCount: env.Metadata.RetryCount + 1,
		Redrives:   env.Metadata.Redrives + 1,
		Permanent:  !entity.IsTransient(err),
	}
	if sendErr := p.dlq.Send(ctx, original, err, parked); sendErr != nil {
		p.log.Errorw("failed to park order request again",
			"offset", msg.Offset,
			"redrives", parked.Redrives,
			"error", errors.Join(err, sendErr),
		)
	}
	return true
}
