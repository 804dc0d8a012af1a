package tracing

import (
	"github.com/microservices-demo/orders/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const _tracerName = "github.com/microservices-demo/orders/pkg/tracing"

// Middleware starts a server span for each request, records the propagated
// correlation headers in the request context, and makes sure the request has
// an id that is echoed back and attached to log lines.
func Middleware(names []string, log logger.Logger) gin.HandlerFunc {
	tracer := otel.Tracer(_tracerName)
	propagated := append([]string{RequestIDHeader}, names...)

	return func(c *gin.Context) {
		r := c.Request

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
			r.Header.Set(RequestIDHeader, requestID)
		}
		c.Header(RequestIDHeader, requestID)

		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx = WithHeaders(ctx, Capture(r.Header, propagated))
		ctx = log.WithRequestID(ctx, requestID)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracer.Start(ctx, r.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("request.id", requestID),
			),
		)
		defer span.End()

		c.Request = r.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= 500 {
			span.SetStatus(codes.Error, "server error")
		}
	}
}
