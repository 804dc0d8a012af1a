package httpt

import (
	"time"

	"github.com/microservices-demo/orders/pkg/logger"

	"github.com/gin-gonic/gin"
)

const _slowRequest = 200 * time.Millisecond

func (h *OrderHandler) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		method := c.Request.Method

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		h.log.Ctx(c.Request.Context()).LogAttrs(c.Request.Context(), logger.InfoLevel, "HTTP request",
			logger.String("method", method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", statusCode),
			logger.Duration("duration", latency),
			logger.String("client_ip", c.ClientIP()),
			logger.String("user_agent", c.Request.UserAgent()),
		)

		h.metrics.Request(method, route, statusCode, latency)

		if latency > _slowRequest {
			h.metrics.SlowRequest(method, route, statusCode, latency)
		}
	}
}
