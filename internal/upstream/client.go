package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/microservices-demo/orders/internal/entity"
	"github.com/microservices-demo/orders/pkg/breaker"
	"github.com/microservices-demo/orders/pkg/logger"
	"github.com/microservices-demo/orders/pkg/metric"
	"github.com/microservices-demo/orders/pkg/tracing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	_maxBodyBytes = 4 << 20
	_accept       = "application/hal+json, application/json"
	_tracerName   = "github.com/microservices-demo/orders/internal/upstream"
)

// Client issues single JSON requests to upstream services. Every call goes
// through the breaker registry keyed by the destination host and verb.
type Client struct {
	http     *http.Client
	breakers *breaker.Registry
	log      logger.Logger
	metrics  metric.Upstream
	tracer   trace.Tracer
}

func NewClient(
	httpClient *http.Client,
	breakers *breaker.Registry,
	log logger.Logger,
	metrics metric.Upstream,
) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		http:     httpClient,
		breakers: breakers,
		log:      log,
		metrics:  metrics,
		tracer:   otel.Tracer(_tracerName),
	}
}

// Get fetches rawURL and decodes the body into out.
func (c *Client) Get(ctx context.Context, destination, rawURL string, out any) error {
	return c.do(ctx, destination, http.MethodGet, rawURL, nil, out)
}

// Post sends body as JSON to rawURL and decodes the response into out.
func (c *Client) Post(ctx context.Context, destination, rawURL string, body, out any) error {
	return c.do(ctx, destination, http.MethodPost, rawURL, body, out)
}

// Get is the typed form of Client.Get.
func Get[T any](ctx context.Context, c *Client, destination, rawURL string) (T, error) {
	var out T
	err := c.Get(ctx, destination, rawURL, &out)
	return out, err
}

// Post is the typed form of Client.Post.
func Post[T any](ctx context.Context, c *Client, destination, rawURL string, body any) (T, error) {
	var out T
	err := c.Post(ctx, destination, rawURL, body, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, destination, method, rawURL string, body, out any) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return &entity.UpstreamError{
			Destination: destination,
			Kind:        entity.ErrRemoteUnavailable,
			Err:         fmt.Errorf("invalid url %q", rawURL),
		}
	}

	ctx, span := c.tracer.Start(ctx, method+" "+destination,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("server.address", u.Host),
			attribute.String("upstream.destination", destination),
		),
	)
	defer span.End()

	start := time.Now()
	key := breaker.Key{Host: u.Host, Verb: method}

	_, err = c.breakers.Execute(ctx, key, func() (any, error) {
		return nil, c.roundTrip(ctx, destination, method, u, body, out)
	})
	if errors.Is(err, entity.ErrBreakerOpen) {
		err = &entity.UpstreamError{Destination: destination, Kind: entity.ErrBreakerOpen}
	}

	c.metrics.Call(destination, method, resultLabel(err), time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, resultLabel(err))
		c.log.LogAttrs(ctx, logger.WarnLevel, "upstream call failed",
			logger.String("destination", destination),
			logger.String("method", method),
			logger.String("url", rawURL),
			logger.Duration("duration", time.Since(start)),
			logger.Err(err),
		)
		return err
	}

	c.log.LogAttrs(ctx, logger.DebugLevel, "upstream call completed",
		logger.String("destination", destination),
		logger.String("method", method),
		logger.String("url", rawURL),
		logger.Duration("duration", time.Since(start)),
	)
	return nil
}

func (c *Client) roundTrip(
	ctx context.Context,
	destination, method string,
	u *url.URL,
	body, out any,
) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("upstream.Client: encode %s request: %w", destination, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return &entity.UpstreamError{Destination: destination, Kind: entity.ErrRemoteUnavailable, Err: err}
	}
	req.Header.Set("Accept", _accept)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	tracing.Inject(ctx, req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError(destination, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, _maxBodyBytes))
	if err != nil {
		return classifyTransportError(destination, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &entity.UpstreamError{
			Destination: destination,
			Kind:        entity.ErrRemoteRejected,
			StatusCode:  resp.StatusCode,
		}
	}

	if out == nil {
		return nil
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return &entity.UpstreamError{
			Destination: destination,
			Kind:        entity.ErrMalformed,
			StatusCode:  resp.StatusCode,
			Err:         errors.New("empty body"),
		}
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return &entity.UpstreamError{
			Destination: destination,
			Kind:        entity.ErrMalformed,
			StatusCode:  resp.StatusCode,
			Err:         err,
		}
	}
	return nil
}

func classifyTransportError(destination string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return &entity.UpstreamError{Destination: destination, Kind: entity.ErrTimeout, Err: err}
	default:
		return &entity.UpstreamError{Destination: destination, Kind: entity.ErrRemoteUnavailable, Err: err}
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, entity.ErrBreakerOpen):
		return "breaker_open"
	case errors.Is(err, entity.ErrTimeout):
		return "timeout"
	case errors.Is(err, entity.ErrRemoteRejected):
		return "rejected"
	case errors.Is(err, entity.ErrMalformed):
		return "malformed"
	default:
		return "unavailable"
	}
}
