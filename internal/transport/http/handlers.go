package httpt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/microservices-demo/orders/internal/entity"
	"github.com/microservices-demo/orders/pkg/breaker"
	"github.com/microservices-demo/orders/pkg/logger"
	"github.com/microservices-demo/orders/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	_defaultContextTimeout = 2 * time.Second
	_healthTimeout         = time.Second
	_maxBodyBytes          = 1 << 20

	_statusOK  = "OK"
	_statusErr = "err"
)

// createOrderHandler runs one order through the orchestrator. The request id
// is the body id when present, otherwise the X-Request-ID header, so a client
// retrying with the same header gets the same order back.
func (h *OrderHandler) createOrderHandler(c *gin.Context) {
	const op = "transport.createOrderHandler"
	ctx := c.Request.Context()

	var req entity.NewOrderRequest
	body := http.MaxBytesReader(c.Writer, c.Request.Body, _maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		h.handleServiceError(c, fmt.Errorf("%w: %w", entity.ErrInvalidOrder, err), op)
		return
	}

	if req.ID == uuid.Nil {
		req.ID = requestID(c.GetHeader(tracing.RequestIDHeader))
	}

	order, err := h.svc.CreateOrder(ctx, &req)
	if err != nil {
		h.handleServiceError(c, err, op)
		return
	}

	c.Header("Location", "/orders/"+order.ID.String())
	c.JSON(http.StatusCreated, order)
}

func (h *OrderHandler) getOrderHandler(c *gin.Context) {
	const op = "transport.getOrderHandler"

	log := h.log.Ctx(c.Request.Context())
	idStr := c.Param("id")

	id, err := uuid.Parse(idStr)
	if err != nil {
		h.handleInvalidUUID(c, op, idStr)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	order, err := h.svc.GetOrder(ctx, id)
	if err != nil {
		h.handleServiceError(c, err, op)
		return
	}

	log.LogAttrs(ctx, logger.DebugLevel, "order retrieved",
		logger.String("order_id", idStr),
	)

	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) listOrdersHandler(c *gin.Context) {
	const op = "transport.listOrdersHandler"

	ctx, cancel := context.WithTimeout(c.Request.Context(), _defaultContextTimeout)
	defer cancel()

	orders, err := h.svc.ListOrders(ctx, c.Query("custId"))
	if err != nil {
		h.handleServiceError(c, err, op)
		return
	}

	var resp ordersResponse
	resp.Embedded.CustomerOrders = orders
	if resp.Embedded.CustomerOrders == nil {
		resp.Embedded.CustomerOrders = []*entity.CustomerOrder{}
	}
	c.JSON(http.StatusOK, resp)
}

// healthHandler always answers 200; a failing database is reported in the
// body only.
func (h *OrderHandler) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), _healthTimeout)
	defer cancel()

	now := time.Now().UTC().Format(time.RFC3339)

	dbStatus := _statusOK
	if err := h.svc.Ping(ctx); err != nil {
		dbStatus = _statusErr
		h.log.LogAttrs(ctx, logger.WarnLevel, "health check: database unreachable",
			logger.Err(err),
		)
	}

	c.JSON(http.StatusOK, healthResponse{
		Health: []healthStatus{
			{Service: h.service, Status: _statusOK, Date: now},
			{Service: h.service + "-db", Status: dbStatus, Date: now},
		},
	})
}

func (h *OrderHandler) breakersHandler(c *gin.Context) {
	stats := h.breakers.Snapshot()
	if stats == nil {
		stats = []breaker.Stats{}
	}
	c.JSON(http.StatusOK, breakersResponse{Breakers: stats})
}

// requestID turns the inbound X-Request-ID into the order request id. Ids
// that are not UUIDs are hashed so the same header always maps to the same id.
func requestID(header string) uuid.UUID {
	if header == "" {
		return uuid.New()
	}
	if id, err := uuid.Parse(header); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("x-request-id:"+header))
}
