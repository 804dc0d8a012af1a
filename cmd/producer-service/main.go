//nolint:mnd
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/microservices-demo/orders/internal/entity"
	"github.com/microservices-demo/orders/pkg/kafka"
	"github.com/microservices-demo/orders/pkg/logger"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	segkafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

func main() {
	kafkaBrokers := flag.String(
		"brokers",
		"kafka:29092",
		"Kafka bootstrap brokers to connect to, as a comma separated list",
	)
	kafkaTopic := flag.String("topic", "orders-requests", "Kafka topic to write order requests to")
	userURL := flag.String("user", "http://user", "Base URL of the user service")
	cartURL := flag.String("cart", "http://cart", "Base URL of the cart service")
	numMessages := flag.Int("count", 1, "Number of messages to send")
	interval := flag.Duration("interval", 1*time.Second, "Interval between sending messages")

	flag.Parse()

	zl, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewFromZap(zl)

	writer := kafka.NewWriter(strings.Split(*kafkaBrokers, ","), *kafkaTopic, log)
	defer writer.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Infow("starting order request producer",
		"count", *numMessages,
		"topic", *kafkaTopic,
		"brokers", *kafkaBrokers,
		"interval", interval.String(),
	)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for sent := 0; sent < *numMessages; {
		sendMessage(ctx, writer, log, generateFakeRequest(*userURL, *cartURL))
		sent++
		if sent >= *numMessages {
			break
		}

		select {
		case <-ctx.Done():
			log.Infow("shutting down producer")
			return
		case <-ticker.C:
		}
	}

	log.Infow("sent all messages", "count", *numMessages)
}

func sendMessage(ctx context.Context, writer *segkafka.Writer, log logger.Logger, req *entity.NewOrderRequest) {
	value, err := json.Marshal(req)
	if err != nil {
		log.Errorw("failed to marshal order request", "error", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = writer.WriteMessages(writeCtx, segkafka.Message{
		Key:   []byte(req.ID.String()),
		Value: value,
		Headers: []segkafka.Header{
			{Key: "X-Request-ID", Value: []byte(req.ID.String())},
		},
	})
	if err != nil {
		log.Errorw("failed to write message to kafka", "error", err)
		return
	}

	log.Infow("sent order request", "request_id", req.ID.String())
}

func generateFakeRequest(userURL, cartURL string) *entity.NewOrderRequest {
	customerID := strings.ReplaceAll(gofakeit.UUID(), "-", "")[:24]

	return &entity.NewOrderRequest{
		ID:       uuid.New(),
		Customer: fmt.Sprintf("%s/customers/%s", userURL, customerID),
		Address:  fmt.Sprintf("%s/addresses/%s", userURL, gofakeit.LetterN(24)),
		Card:     fmt.Sprintf("%s/cards/%s", userURL, gofakeit.LetterN(24)),
		Items:    fmt.Sprintf("%s/carts/%s/items", cartURL, customerID),
	}
}
