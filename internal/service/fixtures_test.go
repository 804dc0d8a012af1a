package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/microservices-demo/orders/internal/config"
	"github.com/microservices-demo/orders/internal/entity"
	"github.com/microservices-demo/orders/internal/service"
	"github.com/microservices-demo/orders/internal/upstream"
	"github.com/microservices-demo/orders/pkg/breaker"
	"github.com/microservices-demo/orders/pkg/logger"
	"github.com/microservices-demo/orders/pkg/metric"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	pathAddress  = "/addresses/57a98d98e4b00679b4a830ad"
	pathCustomer = "/customers/57a98d98e4b00679b4a830af"
	pathCard     = "/cards/57a98d98e4b00679b4a830ae"
	pathItems    = "/carts/57a98d98e4b00679b4a830af/items"
	pathPayment  = "/paymentAuth"
	pathShipping = "/shipping"

	customerIDFromLink = "57a98d98e4b00679b4a830af"
)

// fakeUpstreams serves every resource the orchestrator talks to from one
// host. Handlers can be swapped per test; hits are counted per path.
type fakeUpstreams struct {
	srv *httptest.Server

	mu       sync.Mutex
	hits     map[string]int
	headers  map[string]http.Header
	bodies   map[string][]byte
	handlers map[string]http.HandlerFunc
}

func newFakeUpstreams(t *testing.T) *fakeUpstreams {
	t.Helper()

	f := &fakeUpstreams{
		hits:    make(map[string]int),
		headers: make(map[string]http.Header),
		bodies:  make(map[string][]byte),
	}
	f.handlers = map[string]http.HandlerFunc{
		pathAddress:  jsonHandler(halDoc("http://user/addresses/57a98d98e4b00679b4a830ad", map[string]any{"street": gofakeit.Street(), "city": gofakeit.City()})),
		pathCustomer: jsonHandler(halDoc("http://user/customers/"+customerIDFromLink, map[string]any{"firstName": gofakeit.FirstName(), "lastName": gofakeit.LastName()})),
		pathCard:     jsonHandler(halDoc("http://user/cards/57a98d98e4b00679b4a830ae", map[string]any{"longNum": gofakeit.CreditCardNumber(nil)})),
		pathItems: jsonHandler(`[
			{"id":"i-1","itemId":"03fef6ac-1896-4ce8-bd69-b798f85c6e0b","quantity":2,"unitPrice":10.00},
			{"id":"i-2","itemId":"510a0d7e-8e83-4193-b483-e27e09ddc34d","quantity":1,"unitPrice":5.00}
		]`),
		pathPayment:  jsonHandler(`{"authorised":true,"message":"Payment authorised"}`),
		pathShipping: jsonHandler(`{"id":"s-1","name":"` + customerIDFromLink + `"}`),
	}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		f.mu.Lock()
		f.hits[r.URL.Path]++
		f.headers[r.URL.Path] = r.Header.Clone()
		f.bodies[r.URL.Path] = body
		h, ok := f.handlers[r.URL.Path]
		f.mu.Unlock()

		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeUpstreams) handle(path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[path] = h
}

func (f *fakeUpstreams) hitCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *fakeUpstreams) totalHits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.hits {
		n += c
	}
	return n
}

func (f *fakeUpstreams) lastHeaders(path string) http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers[path]
}

func (f *fakeUpstreams) lastBody(path string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[path]
}

func (f *fakeUpstreams) request() *entity.NewOrderRequest {
	return &entity.NewOrderRequest{
		ID:       uuid.New(),
		Customer: f.srv.URL + pathCustomer,
		Address:  f.srv.URL + pathAddress,
		Card:     f.srv.URL + pathCard,
		Items:    f.srv.URL + pathItems,
	}
}

func (f *fakeUpstreams) upstreamConfig() *config.Upstream {
	return &config.Upstream{
		PaymentURL:  f.srv.URL + pathPayment,
		ShippingURL: f.srv.URL + pathShipping,
		Timeout:     time.Second,
	}
}

type orchestratorOpts struct {
	timeout  time.Duration
	breakers []breaker.Option
}

func newOrchestrator(
	t *testing.T,
	f *fakeUpstreams,
	repo service.OrderRepository,
	opts orchestratorOpts,
) *service.Orchestrator {
	t.Helper()

	factory := metric.NewFactory()
	reg, err := breaker.New(logger.NewNop(), factory.Breaker(), opts.breakers...)
	require.NoError(t, err)

	timeout := opts.timeout
	if timeout == 0 {
		timeout = time.Second
	}

	return service.NewOrchestrator(
		upstream.NewClient(nil, reg, logger.NewNop(), factory.Upstream()),
		upstream.NewExecutor(timeout),
		repo,
		f.upstreamConfig(),
		logger.NewNop(),
		factory.Orders(),
	)
}

func jsonHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/hal+json")
		_, _ = io.WriteString(w, body)
	}
}

func statusHandler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}
}

func slowHandler(d time.Duration, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(d):
			_, _ = io.WriteString(w, body)
		case <-r.Context().Done():
		}
	}
}

func halDoc(self string, fields map[string]any) string {
	doc := map[string]any{"_links": map[string]any{"self": map[string]string{"href": self}}}
	for k, v := range fields {
		doc[k] = v
	}
	b, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("marshal fixture: %v", err))
	}
	return string(b)
}

// savedOrder mimics the repository assigning an id on insert.
func savedOrder(_ context.Context, order *entity.CustomerOrder) (*entity.CustomerOrder, error) {
	out := *order
	out.ID = uuid.New()
	return &out, nil
}
