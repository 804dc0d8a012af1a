package kafkat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/microservices-demo/orders/internal/entity"
	"github.com/microservices-demo/orders/pkg/kafka/dlq"
	"github.com/microservices-demo/orders/pkg/logger"
	"github.com/microservices-demo/orders/pkg/metric"
	"github.com/microservices-demo/orders/pkg/tracing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	messages  chan kafka.Message
	committed []kafka.Message
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{messages: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.messages <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.messages:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) envelopes(t *testing.T) []dlq.Envelope {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]dlq.Envelope, 0, len(w.messages))
	for _, m := range w.messages {
		var env dlq.Envelope
		require.NoError(t, json.Unmarshal(m.Value, &env))
		out = append(out, env)
	}
	return out
}

type fakeCreator struct {
	mu    sync.Mutex
	errs  []error
	calls []*entity.NewOrderRequest
	ctxs  []context.Context
}

func (f *fakeCreator) CreateOrder(ctx context.Context, req *entity.NewOrderRequest) (*entity.CustomerOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, req)
	f.ctxs = append(f.ctxs, ctx)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &entity.CustomerOrder{ID: uuid.New()}, nil
}

func (f *fakeCreator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestDLQ(t *testing.T, w *fakeWriter) *dlq.DLQ {
	t.Helper()
	d, err := dlq.New(w, "orders-requests-dlq", logger.NewNop(), metric.NewFactory().DLQ(),
		dlq.MaxAttemptsCount(3),
		dlq.BaseRetryDelay(time.Millisecond),
		dlq.MaxRetryDelay(2*time.Millisecond),
	)
	require.NoError(t, err)
	return d
}

func requestMessage(t *testing.T, offset int64, key string) kafka.Message {
	t.Helper()
	value, err := json.Marshal(entity.NewOrderRequest{
		Customer: "http://user/customers/1",
		Address:  "http://user/addresses/1",
		Card:     "http://user/cards/1",
		Items:    "http://cart/carts/1/items",
	})
	require.NoError(t, err)
	return kafka.Message{
		Topic:     "orders-requests",
		Partition: 0,
		Offset:    offset,
		Key:       []byte(key),
		Value:     value,
		Headers:   []kafka.Header{{Key: "X-B3-TraceId", Value: []byte("abc123")}},
		Time:      time.Now(),
	}
}

func runConsumer(t *testing.T, c *OrderConsumer, r *fakeReader, wantCommits int) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool { return r.commits() == wantCommits }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestOrderConsumer(t *testing.T) {
	transient := &entity.UpstreamError{Destination: "payment", Kind: entity.ErrRemoteUnavailable}
	permanent := fmt.Errorf("op: %w", &entity.PaymentDeclinedError{Message: "declined"})
	fetchFailed := fmt.Errorf("op: %w", &entity.StageError{Stage: "fetching", Err: transient})
	saveFailed := fmt.Errorf("op: %w", &entity.StageError{
		Stage:     "persisting",
		Committed: true,
		Err:       fmt.Errorf("%w: connection reset by peer", entity.ErrStorageUnavailable),
	})

	testCases := []struct {
		desc          string
		errs          []error
		wantCalls     int
		wantParked    bool
		wantPermanent bool
	}{
		{desc: "created", errs: nil, wantCalls: 1},
		{desc: "transient then created", errs: []error{transient, nil}, wantCalls: 2},
		{desc: "permanent failure parked", errs: []error{permanent}, wantCalls: 1, wantParked: true, wantPermanent: true},
		{desc: "transient failures parked", errs: []error{transient, transient, transient}, wantCalls: 3, wantParked: true},
		{desc: "fetch failure retried", errs: []error{fetchFailed, nil}, wantCalls: 2},
		{desc: "save failure after payment not retried", errs: []error{saveFailed, nil}, wantCalls: 1, wantParked: true, wantPermanent: true},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			w := &fakeWriter{}
			svc := &fakeCreator{errs: tc.errs}
			r := newFakeReader(requestMessage(t, 7, "checkout-1"))
			c := NewOrderConsumer(r, newTestDLQ(t, w), svc, []string{"x-b3-traceid"},
				metric.NewFactory().Kafka(), logger.NewNop())

			runConsumer(t, c, r, 1)

			assert.Equal(t, tc.wantCalls, svc.callCount())

			ids := map[uuid.UUID]struct{}{}
			for _, req := range svc.calls {
				ids[req.ID] = struct{}{}
			}
			assert.Len(t, ids, 1, "every attempt carries the same request id")

			envs := w.envelopes(t)
			if !tc.wantParked {
				assert.Empty(t, envs)
				return
			}
			require.Len(t, envs, 1)
			assert.Equal(t, tc.wantPermanent, envs[0].Metadata.Permanent)
			assert.Equal(t, int64(7), envs[0].Metadata.Offset)
		})
	}
}

func TestOrderConsumer_InvalidPayloadIsPermanent(t *testing.T) {
	w := &fakeWriter{}
	svc := &fakeCreator{}
	r := newFakeReader(kafka.Message{Topic: "orders-requests", Offset: 3, Value: []byte("not json")})
	c := NewOrderConsumer(r, newTestDLQ(t, w), svc, nil, metric.NewFactory().Kafka(), logger.NewNop())

	runConsumer(t, c, r, 1)

	assert.Zero(t, svc.callCount())
	envs := w.envelopes(t)
	require.Len(t, envs, 1)
	assert.True(t, envs[0].Metadata.Permanent)
	assert.Equal(t, "not json", envs[0].Payload)
}

func TestOrderConsumer_PropagatesHeaders(t *testing.T) {
	svc := &fakeCreator{}
	r := newFakeReader(requestMessage(t, 1, ""))
	c := NewOrderConsumer(r, newTestDLQ(t, &fakeWriter{}), svc, []string{"x-b3-traceid"},
		metric.NewFactory().Kafka(), logger.NewNop())

	runConsumer(t, c, r, 1)

	require.Len(t, svc.ctxs, 1)
	h := tracing.FromContext(svc.ctxs[0])
	assert.Equal(t, "abc123", h.Get("X-B3-Traceid"))
	assert.Equal(t, svc.calls[0].ID.String(), h.Get(tracing.RequestIDHeader))
}

func TestDecodeRequest_StableIDs(t *testing.T) {
	withID := uuid.New()
	body, err := json.Marshal(entity.NewOrderRequest{ID: withID})
	require.NoError(t, err)

	req, err := decodeRequest(kafka.Message{Value: body})
	require.NoError(t, err)
	assert.Equal(t, withID, req.ID)

	keyed := kafka.Message{Key: []byte("checkout-9"), Value: []byte(`{}`)}
	a, err := decodeRequest(keyed)
	require.NoError(t, err)
	b, err := decodeRequest(keyed)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	uuidKey := uuid.New()
	req, err = decodeRequest(kafka.Message{Key: []byte(uuidKey.String()), Value: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, uuidKey, req.ID)

	first, err := decodeRequest(kafka.Message{Topic: "t", Offset: 1, Value: []byte(`{}`)})
	require.NoError(t, err)
	second, err := decodeRequest(kafka.Message{Topic: "t", Offset: 2, Value: []byte(`{}`)})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	_, err = decodeRequest(kafka.Message{Value: []byte(`[`)})
	require.ErrorIs(t, err, entity.ErrInvalidOrder)
}

func TestDLQProcessor(t *testing.T) {
	transient := &entity.UpstreamError{Destination: "shipping", Kind: entity.ErrTimeout}

	parked := func(t *testing.T, meta dlq.Metadata) kafka.Message {
		t.Helper()
		orig := requestMessage(t, meta.Offset, "checkout-5")
		value, err := json.Marshal(dlq.Envelope{Metadata: meta, Payload: string(orig.Value)})
		require.NoError(t, err)
		return kafka.Message{Topic: "orders-requests-dlq", Key: orig.Key, Value: value, Time: time.Now().Add(-time.Hour)}
	}

	testCases := []struct {
		desc         string
		meta         dlq.Metadata
		errs         []error
		wantCalls    int
		wantReparked bool
	}{
		{
			desc:      "transient failure replayed",
			meta:      dlq.Metadata{OriginalTopic: "orders-requests", Offset: 10, RetryCount: 3},
			wantCalls: 1,
		},
		{
			desc:      "permanent failure skipped",
			meta:      dlq.Metadata{OriginalTopic: "orders-requests", Offset: 11, RetryCount: 1, Permanent: true},
			wantCalls: 0,
		},
		{
			desc:      "redrive limit reached",
			meta:      dlq.Metadata{OriginalTopic: "orders-requests", Offset: 12, RetryCount: 3, Redrives: 2},
			wantCalls: 0,
		},
		{
			desc:         "still failing is parked again",
			meta:         dlq.Metadata{OriginalTopic: "orders-requests", Offset: 13, RetryCount: 3},
			errs:         []error{transient},
			wantCalls:    1,
			wantReparked: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			w := &fakeWriter{}
			svc := &fakeCreator{errs: tc.errs}
			d := newTestDLQ(t, w)
			consumer := NewOrderConsumer(newFakeReader(), d, svc, nil, metric.NewFactory().Kafka(), logger.NewNop())
			r := newFakeReader(parked(t, tc.meta))
			p := NewDLQProcessor(r, d, consumer, time.Minute, 2, logger.NewNop())

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- p.Start(ctx) }()

			require.Eventually(t, func() bool { return r.commits() == 1 }, 2*time.Second, 5*time.Millisecond)
			cancel()
			require.NoError(t, <-done)

			assert.Equal(t, tc.wantCalls, svc.callCount())

			envs := w.envelopes(t)
			if !tc.wantReparked {
				assert.Empty(t, envs)
				return
			}
			require.Len(t, envs, 1)
			assert.Equal(t, tc.meta.Redrives+1, envs[0].Metadata.Redrives)
			assert.Equal(t, tc.meta.RetryCount+1, envs[0].Metadata.RetryCount)
			assert.Equal(t, tc.meta.Offset, envs[0].Metadata.Offset)
		})
	}
}

func TestDLQProcessor_WaitsForDelay(t *testing.T) {
	svc := &fakeCreator{}
	d := newTestDLQ(t, &fakeWriter{})
	consumer := NewOrderConsumer(newFakeReader(), d, svc, nil, metric.NewFactory().Kafka(), logger.NewNop())

	value, err := json.Marshal(dlq.Envelope{Metadata: dlq.Metadata{OriginalTopic: "orders-requests"}, Payload: `{}`})
	require.NoError(t, err)
	r := newFakeReader(kafka.Message{Value: value, Time: time.Now()})
	p := NewDLQProcessor(r, d, consumer, time.Hour, 3, logger.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Start(ctx))

	assert.Zero(t, svc.callCount())
	assert.Zero(t, r.commits(), "a message whose delay has not passed is not committed")
}
