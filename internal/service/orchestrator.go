package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/microservices-demo/orders/internal/config"
	"github.com/microservices-demo/orders/internal/entity"
	"github.com/microservices-demo/orders/internal/upstream"
	"github.com/microservices-demo/orders/pkg/logger"
	"github.com/microservices-demo/orders/pkg/metric"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	destinationAddress  = "address"
	destinationCustomer = "customer"
	destinationCard     = "card"
	destinationItems    = "items"
	destinationPayment  = "payment"
	destinationShipping = "shipping"

	_declinedUnparseable = "Unable to parse authorisation packet"
	_tracerName          = "github.com/microservices-demo/orders/internal/service"
)

type stage string

const (
	stageValidating stage = "validating"
	stageFetching   stage = "fetching"
	stagePricing    stage = "pricing"
	stagePaying     stage = "paying"
	stageShipping   stage = "shipping"
	stagePersisting stage = "persisting"
	stageCompleted  stage = "completed"
)

// committed reports whether the payment call has been made by the time a run
// reaches s.
func (s stage) committed() bool {
	switch s {
	case stagePaying, stageShipping, stagePersisting, stageCompleted:
		return true
	default:
		return false
	}
}

// Orchestrator turns a NewOrderRequest into a stored CustomerOrder. A run
// either completes with a fully formed order or fails at the first stage that
// cannot proceed; nothing is written unless payment and shipment succeeded.
type Orchestrator struct {
	client   *upstream.Client
	executor *upstream.Executor
	repo     OrderRepository
	log      logger.Logger
	metrics  metric.Orders
	tracer   trace.Tracer

	paymentURL  string
	shippingURL string
	now         func() time.Time
}

func NewOrchestrator(
	client *upstream.Client,
	executor *upstream.Executor,
	repo OrderRepository,
	cfg *config.Upstream,
	log logger.Logger,
	metrics metric.Orders,
) *Orchestrator {
	return &Orchestrator{
		client:      client,
		executor:    executor,
		repo:        repo,
		log:         log,
		metrics:     metrics,
		tracer:      otel.Tracer(_tracerName),
		paymentURL:  cfg.PaymentURL,
		shippingURL: cfg.ShippingURL,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// run holds the state of one orchestration. It is never shared between
// requests.
type run struct {
	req   *entity.NewOrderRequest
	stage stage

	address  entity.Address
	customer entity.Customer
	card     entity.Card
	items    []entity.Item
	total    float64
	shipment entity.Shipment
}

func (o *Orchestrator) CreateOrder(
	ctx context.Context,
	req *entity.NewOrderRequest,
) (*entity.CustomerOrder, error) {
	const op = "service.Orchestrator.CreateOrder"

	ctx, span := o.tracer.Start(ctx, "Create order",
		trace.WithAttributes(attribute.String("order.request_id", req.ID.String())),
	)
	defer span.End()

	start := time.Now()
	r := &run{req: req}

	order, err := o.execute(ctx, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(r.stage))
		o.metrics.Orchestration(outcome(err), time.Since(start))
		o.log.LogAttrs(ctx, failureLevel(err), "order failed",
			logger.String("op", op),
			logger.String("order_request_id", req.ID.String()),
			logger.String("stage", string(r.stage)),
			logger.Duration("duration", time.Since(start)),
			logger.Err(err),
		)
		return nil, fmt.Errorf("%s: %w", op, &entity.StageError{
			Stage:     string(r.stage),
			Committed: r.stage.committed(),
			Err:       err,
		})
	}

	o.transition(ctx, r, stageCompleted)
	o.metrics.Orchestration(string(stageCompleted), time.Since(start))
	o.log.LogAttrs(ctx, logger.InfoLevel, "order created",
		logger.String("op", op),
		logger.String("order_id", order.ID.String()),
		logger.String("customer_id", order.CustomerID),
		logger.Float64("total", order.Total),
		logger.Duration("duration", time.Since(start)),
	)
	return order, nil
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (*entity.CustomerOrder, error) {
	o.transition(ctx, r, stageValidating)
	if err := r.req.Validate(); err != nil {
		return nil, err
	}

	o.transition(ctx, r, stageFetching)
	if err := o.fetch(ctx, r); err != nil {
		return nil, err
	}

	o.transition(ctx, r, stagePricing)
	r.total = orderTotal(r.items)

	o.transition(ctx, r, stagePaying)
	if err := o.pay(ctx, r); err != nil {
		return nil, err
	}

	o.transition(ctx, r, stageShipping)
	custID, err := customerID(r.customer.SelfHref())
	if err != nil {
		return nil, err
	}
	if err := o.ship(ctx, r, custID); err != nil {
		return nil, err
	}

	o.transition(ctx, r, stagePersisting)
	return o.persist(ctx, r, custID)
}

// fetch resolves the four referenced resources concurrently. The first
// failure ends the stage; calls still in flight finish in the background and
// their results are dropped.
func (o *Orchestrator) fetch(ctx context.Context, r *run) error {
	address := fetch[entity.Address](ctx, o, "Get Address", destinationAddress, r.req.Address)
	customer := fetch[entity.Customer](ctx, o, "Get Customer", destinationCustomer, r.req.Customer)
	card := fetch[entity.Card](ctx, o, "Get Card", destinationCard, r.req.Card)
	items := fetch[[]entity.Item](ctx, o, "Get Items", destinationItems, r.req.Items)

	if err := upstream.Join(ctx, address, customer, card, items); err != nil {
		return err
	}

	// All four are done; Await returns immediately.
	r.address, _ = address.Await(ctx)
	r.customer, _ = customer.Await(ctx)
	r.card, _ = card.Await(ctx)
	r.items, _ = items.Await(ctx)
	return nil
}

func fetch[T any](
	ctx context.Context,
	o *Orchestrator,
	spanName, destination, rawURL string,
) *upstream.Future[T] {
	return upstream.Go(ctx, o.executor, destination, func(ctx context.Context) (T, error) {
		ctx, span := o.tracer.Start(ctx, spanName)
		defer span.End()

		v, err := upstream.Get[T](ctx, o.client, destination, rawURL)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, destination)
		}
		return v, err
	})
}

func (o *Orchestrator) pay(ctx context.Context, r *run) error {
	ctx, span := o.tracer.Start(ctx, "Payment",
		trace.WithAttributes(attribute.Float64("order.total", r.total)),
	)
	defer span.End()

	req := entity.PaymentRequest{
		Address:  r.address,
		Card:     r.card,
		Customer: r.customer,
		Amount:   r.total,
	}
	resp, err := upstream.GoPost[entity.PaymentResponse](
		ctx, o.executor, o.client, destinationPayment, o.paymentURL, req,
	).Await(ctx)

	switch {
	case errors.Is(err, entity.ErrMalformed):
		err = &entity.PaymentDeclinedError{Message: _declinedUnparseable}
	case err == nil && !resp.Authorised:
		err = &entity.PaymentDeclinedError{Message: resp.Message}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment")
		return err
	}
	return nil
}

func (o *Orchestrator) ship(ctx context.Context, r *run, custID string) error {
	ctx, span := o.tracer.Start(ctx, "Shipping",
		trace.WithAttributes(attribute.String("order.customer_id", custID)),
	)
	defer span.End()

	shipment, err := upstream.GoPost[entity.Shipment](
		ctx, o.executor, o.client, destinationShipping, o.shippingURL,
		entity.Shipment{ID: uuid.NewString(), Name: custID},
	).Await(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "shipping")
		return err
	}

	r.shipment = shipment
	return nil
}

func (o *Orchestrator) persist(
	ctx context.Context,
	r *run,
	custID string,
) (*entity.CustomerOrder, error) {
	ctx, span := o.tracer.Start(ctx, "Save order")
	defer span.End()

	order := &entity.CustomerOrder{
		CustomerID: custID,
		Customer:   r.customer,
		Address:    r.address,
		Card:       r.card,
		Items:      r.items,
		Shipment:   r.shipment,
		Date:       o.now(),
		Total:      r.total,
	}

	saved, err := o.repo.Save(ctx, order)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save")
		return nil, fmt.Errorf("%w: %w", entity.ErrStorageUnavailable, err)
	}
	return saved, nil
}

func (o *Orchestrator) transition(ctx context.Context, r *run, next stage) {
	o.log.LogAttrs(ctx, logger.DebugLevel, "order stage",
		logger.String("order_request_id", r.req.ID.String()),
		logger.String("from", string(r.stage)),
		logger.String("to", string(next)),
	)
	r.stage = next
}

func outcome(err error) string {
	switch {
	case errors.Is(err, entity.ErrInvalidOrder):
		return "invalid"
	case errors.Is(err, entity.ErrPaymentDeclined):
		return "payment_declined"
	case errors.Is(err, entity.ErrBreakerOpen):
		return "breaker_open"
	case errors.Is(err, entity.ErrTimeout):
		return "timeout"
	case errors.Is(err, entity.ErrRemoteUnavailable):
		return "unavailable"
	case errors.Is(err, entity.ErrRemoteRejected):
		return "rejected"
	case errors.Is(err, entity.ErrMalformed):
		return "malformed"
	case errors.Is(err, entity.ErrShipmentLinkUnparseable):
		return "illegal_state"
	case errors.Is(err, entity.ErrStorageUnavailable):
		return "storage"
	default:
		return "error"
	}
}

func failureLevel(err error) logger.Level {
	if errors.Is(err, entity.ErrInvalidOrder) || errors.Is(err, entity.ErrPaymentDeclined) {
		return logger.WarnLevel
	}
	return logger.ErrorLevel
}
