package httpt

import (
	"context"

	"github.com/microservices-demo/orders/internal/entity"
	"github.com/microservices-demo/orders/pkg/breaker"
	"github.com/microservices-demo/orders/pkg/logger"
	"github.com/microservices-demo/orders/pkg/metric"
	"github.com/microservices-demo/orders/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type (
	OrderService interface {
		CreateOrder(ctx context.Context, req *entity.NewOrderRequest) (*entity.CustomerOrder, error)
		GetOrder(ctx context.Context, id uuid.UUID) (*entity.CustomerOrder, error)
		ListOrders(ctx context.Context, customerID string) ([]*entity.CustomerOrder, error)
		Ping(ctx context.Context) error
	}

	BreakerSnapshotter interface {
		Snapshot() []breaker.Stats
	}

	OrderHandler struct {
		svc      OrderService
		breakers BreakerSnapshotter
		log      logger.Logger
		metrics  metric.HTTP
		router   *gin.Engine
		service  string
	}
)

// NewOrderHandler builds the gin engine. propagate lists the inbound headers
// that are repeated on every upstream call made for a request.
func NewOrderHandler(
	svc OrderService,
	breakers BreakerSnapshotter,
	serviceName string,
	propagate []string,
	log logger.Logger,
	metrics metric.HTTP,
) *OrderHandler {
	h := &OrderHandler{
		svc:      svc,
		breakers: breakers,
		log:      log,
		metrics:  metrics,
		service:  serviceName,
	}

	router := gin.New()

	router.Use(tracing.Middleware(propagate, log))
	router.Use(h.loggingMiddleware())
	router.Use(gin.Recovery())

	h.router = router
	h.setupRoutes()

	return h
}

func (h *OrderHandler) Engine() *gin.Engine {
	return h.router
}

func (h *OrderHandler) setupRoutes() {
	h.router.GET("/health", h.healthHandler)
	h.router.GET("/breakers", h.breakersHandler)

	orders := h.router.Group("/orders")
	{
		orders.POST("", h.createOrderHandler)
		orders.GET("", h.listOrdersHandler)
		orders.GET("/:id", h.getOrderHandler)
	}
}
