package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/microservices-demo/orders/internal/entity"
	"github.com/microservices-demo/orders/pkg/cache"
	"github.com/microservices-demo/orders/pkg/logger"

	"github.com/google/uuid"
)

//go:generate mockgen -source=service.go -destination=mock/service.go -package=mock_service

const (
	_defaultContextTimeout = 2 * time.Second
	_slowOperation         = 200 * time.Millisecond
)

type (
	OrderRepository interface {
		Save(ctx context.Context, order *entity.CustomerOrder) (*entity.CustomerOrder, error)
		GetByID(ctx context.Context, id uuid.UUID) (*entity.CustomerOrder, error)
		ListByCustomerID(ctx context.Context, customerID string) ([]*entity.CustomerOrder, error)
		Ping(ctx context.Context) error
	}

	// IdempotencyStore remembers which order a request id produced.
	IdempotencyStore interface {
		Lookup(ctx context.Context, requestID uuid.UUID) (uuid.UUID, bool, error)
		Remember(ctx context.Context, requestID, orderID uuid.UUID) error
	}

	OrderService struct {
		orchestrator *Orchestrator
		repo         OrderRepository
		idempotency  IdempotencyStore
		cache        cache.Cache[uuid.UUID, *entity.CustomerOrder]
		cacheTTL     time.Duration
		log          logger.Logger
	}
)

// NewOrderService wires order creation and queries. idempotency may be nil, in
// which case repeated requests create repeated orders.
func NewOrderService(
	orchestrator *Orchestrator,
	repo OrderRepository,
	idempotency IdempotencyStore,
	cache cache.Cache[uuid.UUID, *entity.CustomerOrder],
	cacheTTL time.Duration,
	log logger.Logger,
) *OrderService {
	return &OrderService{
		orchestrator: orchestrator,
		repo:         repo,
		idempotency:  idempotency,
		cache:        cache,
		cacheTTL:     cacheTTL,
		log:          log,
	}
}

func (s *OrderService) CreateOrder(
	ctx context.Context,
	req *entity.NewOrderRequest,
) (*entity.CustomerOrder, error) {
	const op = "service.CreateOrder"

	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}

	if existing := s.replay(ctx, req.ID); existing != nil {
		s.log.LogAttrs(ctx, logger.InfoLevel, "order request replayed",
			logger.String("op", op),
			logger.String("order_request_id", req.ID.String()),
			logger.String("order_id", existing.ID.String()),
		)
		return existing, nil
	}

	order, err := s.orchestrator.CreateOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	s.cache.Put(order.ID, order, s.cacheTTL)

	if s.idempotency != nil {
		if err := s.idempotency.Remember(ctx, req.ID, order.ID); err != nil {
			s.log.LogAttrs(ctx, logger.WarnLevel, "idempotency store unavailable",
				logger.String("op", op),
				logger.String("order_request_id", req.ID.String()),
				logger.Err(err),
			)
		}
	}

	return order, nil
}

// replay returns the order a previous run of the same request produced, or
// nil when there is none or it cannot be determined.
func (s *OrderService) replay(ctx context.Context, requestID uuid.UUID) *entity.CustomerOrder {
	const op = "service.replay"

	if s.idempotency == nil {
		return nil
	}

	orderID, found, err := s.idempotency.Lookup(ctx, requestID)
	if err != nil {
		s.log.LogAttrs(ctx, logger.WarnLevel, "idempotency store unavailable",
			logger.String("op", op),
			logger.String("order_request_id", requestID.String()),
			logger.Err(err),
		)
		return nil
	}
	if !found {
		return nil
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		s.log.LogAttrs(ctx, logger.WarnLevel, "remembered order not readable",
			logger.String("op", op),
			logger.String("order_id", orderID.String()),
			logger.Err(err),
		)
		return nil
	}
	return order
}

func (s *OrderService) GetOrder(ctx context.Context, id uuid.UUID) (*entity.CustomerOrder, error) {
	const op = "service.GetOrder"
	log := s.log.Ctx(ctx)

	startTime := time.Now()
	defer func() {
		if d := time.Since(startTime); d > _slowOperation {
			log.LogAttrs(ctx, logger.WarnLevel, "slow service operation",
				logger.String("op", op),
				logger.String("order_id", id.String()),
				logger.Duration("duration", d),
			)
		}
	}()

	if cached, found := s.cache.Get(id); found {
		log.LogAttrs(ctx, logger.DebugLevel, "order served from cache",
			logger.String("op", op),
			logger.String("order_id", id.String()),
		)
		return cached, nil
	}

	ctx, cancel := context.WithTimeout(ctx, _defaultContextTimeout)
	defer cancel()

	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, entity.ErrDataNotFound) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return nil, fmt.Errorf("%s: %w: %w", op, entity.ErrStorageUnavailable, err)
	}

	s.cache.Put(id, order, s.cacheTTL)
	return order, nil
}

// ListOrders returns the orders placed by a customer, newest first.
func (s *OrderService) ListOrders(ctx context.Context, customerID string) ([]*entity.CustomerOrder, error) {
	const op = "service.ListOrders"

	if customerID == "" {
		return nil, fmt.Errorf("%s: %w: customer id is required", op, entity.ErrInvalidQuery)
	}

	ctx, cancel := context.WithTimeout(ctx, _defaultContextTimeout)
	defer cancel()

	orders, err := s.repo.ListByCustomerID(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, entity.ErrStorageUnavailable, err)
	}
	return orders, nil
}

// Ping reports whether the order store answers.
func (s *OrderService) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, _defaultContextTimeout)
	defer cancel()

	return s.repo.Ping(ctx)
}
