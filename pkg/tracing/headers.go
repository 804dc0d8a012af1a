package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const RequestIDHeader = "X-Request-ID"

type headersKey struct{}

// WithHeaders returns a copy of ctx carrying the correlation headers that
// every outbound call made on its behalf must repeat.
func WithHeaders(ctx context.Context, h http.Header) context.Context {
	return context.WithValue(ctx, headersKey{}, h.Clone())
}

// FromContext returns the correlation headers in ctx, or an empty set.
func FromContext(ctx context.Context) http.Header {
	if h, ok := ctx.Value(headersKey{}).(http.Header); ok {
		return h.Clone()
	}
	return http.Header{}
}

// Capture picks the named headers out of an inbound request. Names are
// matched case-insensitively; absent headers are skipped.
func Capture(src http.Header, names []string) http.Header {
	out := make(http.Header, len(names))
	for _, name := range names {
		if values := src.Values(name); len(values) > 0 {
			out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
		}
	}
	return out
}

// Inject writes the correlation headers from ctx and the active trace
// context onto an outbound header set.
func Inject(ctx context.Context, dst http.Header) {
	for name, values := range FromContext(ctx) {
		dst[name] = values
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(dst))
}
