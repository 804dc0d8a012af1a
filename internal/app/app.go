package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/microservices-demo/orders/internal/config"
	"github.com/microservices-demo/orders/internal/entity"
	"github.com/microservices-demo/orders/internal/repository"
	"github.com/microservices-demo/orders/internal/service"
	httpt "github.com/microservices-demo/orders/internal/transport/http"
	kafkat "github.com/microservices-demo/orders/internal/transport/kafka"
	"github.com/microservices-demo/orders/internal/upstream"
	"github.com/microservices-demo/orders/pkg/breaker"
	"github.com/microservices-demo/orders/pkg/cache"
	"github.com/microservices-demo/orders/pkg/idempotency"
	"github.com/microservices-demo/orders/pkg/kafka"
	"github.com/microservices-demo/orders/pkg/kafka/dlq"
	"github.com/microservices-demo/orders/pkg/logger"
	"github.com/microservices-demo/orders/pkg/metric"
	"github.com/microservices-demo/orders/pkg/storage/postgres"
	"github.com/microservices-demo/orders/pkg/storage/postgres/transaction"
	"github.com/microservices-demo/orders/pkg/tracing"

	"github.com/google/uuid"
	segkafka "github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

const _shutdownTimeout = 5 * time.Second

func Run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("app.Run: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), _shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warnw("tracing shutdown failed", "error", err)
		}
	}()

	eg, ctx := errgroup.WithContext(ctx)

	metrics := initMetrics(ctx, eg, &cfg.Metrics, log)

	db, dbErr := initDatabase(ctx, &cfg.Postgres, log)
	if dbErr != nil {
		return dbErr
	}
	defer db.Close()

	txManager, txErr := initTransactionManager(&cfg.Postgres, db, log, metrics)
	if txErr != nil {
		return txErr
	}

	orderCache, cacheErr := initCache(&cfg.Cache, log, metrics)
	if cacheErr != nil {
		return cacheErr
	}
	defer orderCache.StopCleanup()

	breakers, breakerErr := initBreakers(&cfg.Breaker, log, metrics)
	if breakerErr != nil {
		return breakerErr
	}

	idem, closeIdem := initIdempotency(ctx, cfg, log)
	defer closeIdem()

	orderService := initOrderService(cfg, db, txManager, breakers, idem, orderCache, log, metrics)

	if cfg.Kafka.Enabled {
		closeKafka, kafkaErr := initKafkaComponents(ctx, eg, cfg, orderService, log, metrics)
		if kafkaErr != nil {
			return kafkaErr
		}
		defer closeKafka()
	}

	initHTTPServer(ctx, eg, cfg, orderService, breakers, log, metrics)

	return waitForShutdown(eg)
}

func initMetrics(
	ctx context.Context,
	eg *errgroup.Group,
	cfg *config.Metrics,
	log logger.Logger,
) metric.Factory {
	metrics := metric.NewFactory()

	metricsServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:           metrics.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	eg.Go(func() error {
		log.Infow("starting metrics server", "port", cfg.Port)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app.initMetrics: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), _shutdownTimeout)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	return metrics
}

func initDatabase(ctx context.Context, cfg *config.Postgres, log logger.Logger) (*postgres.Postgres, error) {
	db, err := postgres.NewPostgres(
		ctx,
		cfg,
		log.With("component", "database"),
		postgres.FromConfig(cfg)...,
	)
	if err != nil {
		return nil, fmt.Errorf("app.initDatabase: %w", err)
	}
	return db, nil
}

func initTransactionManager(
	cfg *config.Postgres,
	db *postgres.Postgres,
	log logger.Logger,
	metrics metric.Factory,
) (transaction.Manager, error) {
	txManager, err := transaction.NewManager(
		db,
		log.With("component", "transaction manager"),
		metrics.Transaction(),
		transaction.FromConfig(cfg)...,
	)
	if err != nil {
		return nil, fmt.Errorf("app.initTransactionManager: %w", err)
	}
	return txManager, nil
}

func initCache(
	cfg *config.Cache,
	log logger.Logger,
	metrics metric.Factory,
) (cache.Cache[uuid.UUID, *entity.CustomerOrder], error) {
	orderCache, err := cache.NewLRUCache[uuid.UUID, *entity.CustomerOrder](
		"order",
		cfg.Capacity,
		log.With("component", "cache"),
		metrics.Cache(),
	)
	if err != nil {
		return nil, fmt.Errorf("app.initCache: %w", err)
	}
	orderCache.StartCleanup(cfg.CleanupInterval)
	return orderCache, nil
}

func initBreakers(cfg *config.Breaker, log logger.Logger, metrics metric.Factory) (*breaker.Registry, error) {
	registry, err := breaker.New(
		log.With("component", "breaker"),
		metrics.Breaker(),
		breaker.FailureRatio(cfg.FailureRatio),
		breaker.MinRequests(cfg.MinRequests),
		breaker.Window(cfg.Window),
		breaker.CoolDown(cfg.CoolDown),
		breaker.HalfOpenRequests(cfg.HalfOpenRequests),
	)
	if err != nil {
		return nil, fmt.Errorf("app.initBreakers: %w", err)
	}
	return registry, nil
}

// initIdempotency connects the request id store. Without a Redis address, or
// when Redis does not answer at startup, orders are created without replay
// protection.
func initIdempotency(ctx context.Context, cfg *config.Config, log logger.Logger) (service.IdempotencyStore, func()) {
	if cfg.Redis.Addr == "" {
		log.Infow("idempotency store disabled: no redis address")
		return nil, func() {}
	}

	store := idempotency.NewRedisStore(&cfg.Redis, cfg.App.Name)
	closeStore := func() {
		if err := store.Close(); err != nil {
			log.Warnw("redis close failed", "error", err)
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		log.Warnw("idempotency store disabled: redis unreachable",
			"addr", cfg.Redis.Addr,
			"error", err,
		)
		closeStore()
		return nil, func() {}
	}

	return store, closeStore
}

func initOrderService(
	cfg *config.Config,
	db *postgres.Postgres,
	txManager transaction.Manager,
	breakers *breaker.Registry,
	idem service.IdempotencyStore,
	orderCache cache.Cache[uuid.UUID, *entity.CustomerOrder],
	log logger.Logger,
	metrics metric.Factory,
) *service.OrderService {
	orderRepo := repository.NewOrderRepository(db, txManager)

	client := upstream.NewClient(
		&http.Client{Transport: http.DefaultTransport},
		breakers,
		log.With("component", "upstream"),
		metrics.Upstream(),
	)

	orchestrator := service.NewOrchestrator(
		client,
		upstream.NewExecutor(cfg.Upstream.Timeout),
		orderRepo,
		&cfg.Upstream,
		log.With("component", "orchestrator"),
		metrics.Orders(),
	)

	return service.NewOrderService(
		orchestrator,
		orderRepo,
		idem,
		orderCache,
		cfg.Cache.TTL,
		log.With("component", "order service"),
	)
}

func initHTTPServer(
	ctx context.Context,
	eg *errgroup.Group,
	cfg *config.Config,
	orderService *service.OrderService,
	breakers *breaker.Registry,
	log logger.Logger,
	metrics metric.Factory,
) {
	handler := httpt.NewOrderHandler(
		orderService,
		breakers,
		cfg.App.Name,
		cfg.Tracing.Headers,
		log,
		metrics.HTTP(),
	)

	httpServer := httpt.NewHTTPServer(handler.Engine(), &cfg.HTTP, log.With("component", "http server"))

	eg.Go(func() error {
		return httpServer.Start(ctx)
	})
}

func initKafkaComponents(
	ctx context.Context,
	eg *errgroup.Group,
	cfg *config.Config,
	orderService *service.OrderService,
	log logger.Logger,
	metrics metric.Factory,
) (func(), error) {
	const op = "app.initKafkaComponents"

	kafkaReader, err := kafka.NewReader(ctx, &cfg.Kafka, log.With("component", "kafka reader"))
	if err != nil {
		return nil, fmt.Errorf("%s: kafka reader creation: %w", op, err)
	}

	deadLetterQueue, err := dlq.NewDLQ(cfg.Kafka.Brokers, &cfg.DLQ, log.With("component", "dlq"), metrics.DLQ())
	if err != nil {
		_ = kafkaReader.Close()
		return nil, fmt.Errorf("%s: dead letter queue creation: %w", op, err)
	}
	closeDLQ := func() {
		if err := deadLetterQueue.Close(); err != nil {
			log.Warnw("dlq writer close failed", "error", err)
		}
	}

	var redriveReader *segkafka.Reader
	if cfg.DLQ.Redrive {
		redriveCfg := cfg.Kafka
		redriveCfg.Topic = cfg.DLQ.Topic
		redriveCfg.GroupID = cfg.DLQ.RedriveGroup
		redriveReader, err = kafka.NewReader(ctx, &redriveCfg, log.With("component", "dlq reader"))
		if err != nil {
			closeDLQ()
			_ = kafkaReader.Close()
			return nil, fmt.Errorf("%s: dlq reader creation: %w", op, err)
		}
	}

	orderConsumer := kafkat.NewOrderConsumer(
		kafkaReader,
		deadLetterQueue,
		orderService,
		cfg.Tracing.Headers,
		metrics.Kafka(),
		log.With("component", "kafka consumer"),
	)
	eg.Go(func() error {
		return orderConsumer.Start(ctx)
	})

	if !cfg.DLQ.Redrive {
		return closeDLQ, nil
	}

	dlqProcessor := kafkat.NewDLQProcessor(
		redriveReader,
		deadLetterQueue,
		orderConsumer,
		cfg.DLQ.RedriveDelay,
		cfg.DLQ.MaxRedrives,
		log.With("component", "dlq processor"),
	)
	eg.Go(func() error {
		return dlqProcessor.Start(ctx)
	})

	return closeDLQ, nil
}

func waitForShutdown(eg *errgroup.Group) error {
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app.waitForShutdown: application failed: %w", err)
	}
	return nil
}
