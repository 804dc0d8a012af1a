package kafka

import (
	"context"
	"fmt"

	"github.com/microservices-demo/orders/internal/config"
	"github.com/microservices-demo/orders/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// NewReader builds a consumer-group reader for the order request topic after
// checking that every broker accepts connections.
func NewReader(ctx context.Context, cfg *config.Kafka, log logger.Logger) (*kafka.Reader, error) {
	const op = "kafka.NewReader"

	if err := checkConnection(ctx, cfg.Brokers, log); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		Logger:      readerLogger(log, logger.DebugLevel, cfg),
		ErrorLogger: readerLogger(log, logger.ErrorLevel, cfg),
	}), nil
}

// NewWriter builds a synchronous writer; WriteMessages returns once the
// brokers acknowledged the batch.
func NewWriter(brokers []string, topic string, log logger.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Logger: kafka.LoggerFunc(func(msg string, args ...any) {
			log.LogAttrs(context.Background(), logger.DebugLevel, "kafka writer",
				logger.String("topic", topic),
				logger.String("message", fmt.Sprintf(msg, args...)),
			)
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			log.LogAttrs(context.Background(), logger.ErrorLevel, "kafka writer error",
				logger.String("topic", topic),
				logger.String("error", fmt.Sprintf(msg, args...)),
			)
		}),
	}
}

func readerLogger(log logger.Logger, level logger.Level, cfg *config.Kafka) kafka.LoggerFunc {
	return func(msg string, args ...any) {
		log.LogAttrs(context.Background(), level, "kafka reader",
			logger.String("topic", cfg.Topic),
			logger.String("group_id", cfg.GroupID),
			logger.String("message", fmt.Sprintf(msg, args...)),
		)
	}
}

func checkConnection(ctx context.Context, brokers []string, log logger.Logger) error {
	const op = "kafka.checkConnection"

	dialer := &kafka.Dialer{}
	for _, broker := range brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			return fmt.Errorf("%s: connect to %s: %w", op, broker, err)
		}

		if err = conn.Close(); err != nil {
			log.Warnw("failed to close connection",
				"operation", op,
				"broker", broker,
				"error", err)
		}
	}
	return nil
}
