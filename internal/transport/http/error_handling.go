package httpt

import (
	"context"
	"errors"
	"net/http"

	"github.com/microservices-demo/orders/internal/entity"
	"github.com/microservices-demo/orders/pkg/logger"

	"github.com/gin-gonic/gin"
)

type errorMapping struct {
	target  error
	status  int
	message string
}

// Order matters: the first matching entry wins.
var errorMappings = []errorMapping{
	{entity.ErrInvalidOrder, http.StatusBadRequest, "Invalid order request"},
	{entity.ErrInvalidQuery, http.StatusBadRequest, "Invalid query"},
	{entity.ErrDataNotFound, http.StatusNotFound, "Order not found"},
	{entity.ErrPaymentDeclined, http.StatusNotAcceptable, "Payment declined"},
	{entity.ErrBreakerOpen, http.StatusServiceUnavailable, "Dependency unavailable"},
	{entity.ErrRemoteUnavailable, http.StatusServiceUnavailable, "Dependency unavailable"},
	{entity.ErrTimeout, http.StatusServiceUnavailable, "Dependency timed out"},
	{entity.ErrRemoteRejected, http.StatusBadGateway, "Dependency rejected the request"},
	{entity.ErrMalformed, http.StatusBadGateway, "Dependency returned an unreadable response"},
	{entity.ErrShipmentLinkUnparseable, http.StatusInternalServerError, "Customer link has no identifier"},
	{entity.ErrStorageUnavailable, http.StatusInternalServerError, "Order storage unavailable"},
}

func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.message
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "Request timed out"
	}
	return http.StatusInternalServerError, "Internal service error"
}

func (h *OrderHandler) handleServiceError(c *gin.Context, err error, op string) {
	ctx := c.Request.Context()
	status, message := statusFor(err)

	level := logger.WarnLevel
	if status >= http.StatusInternalServerError {
		level = logger.ErrorLevel
	}
	h.log.Ctx(ctx).LogAttrs(ctx, level, op+" failed",
		logger.Int("status", status),
		logger.String("path", c.Request.URL.Path),
		logger.String("client_ip", c.ClientIP()),
		logger.Err(err),
	)

	resp := ErrorResponse{Error: message}
	var declined *entity.PaymentDeclinedError
	if errors.As(err, &declined) {
		resp.Message = declined.Message
	} else if status < http.StatusInternalServerError {
		resp.Message = err.Error()
	}
	c.JSON(status, resp)
}

func (h *OrderHandler) handleInvalidUUID(c *gin.Context, op, value string) {
	ctx := c.Request.Context()

	h.log.Ctx(ctx).LogAttrs(ctx, logger.WarnLevel, "invalid order id format",
		logger.String("op", op),
		logger.String("value", value),
		logger.String("remote_addr", c.ClientIP()),
	)

	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid order id format"})
}
