package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/microservices-demo/orders/internal/app"
	"github.com/microservices-demo/orders/internal/config"
	"github.com/microservices-demo/orders/internal/entity"
	"github.com/microservices-demo/orders/pkg/logger"
	"github.com/microservices-demo/orders/pkg/storage/postgres"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

// E2ETestSuite boots the whole service against the database in CONFIG_PATH
// and fake user, cart, payment and shipping services.
type E2ETestSuite struct {
	suite.Suite

	baseURL   string
	upstreams *httptest.Server
	cancel    context.CancelFunc
	done      chan error
}

func TestE2E(t *testing.T) {
	suite.Run(t, new(E2ETestSuite))
}

func (s *E2ETestSuite) SetupSuite() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		s.T().Skip("CONFIG_PATH not set; skipping end-to-end tests")
	}

	s.upstreams = httptest.NewServer(fakeShop())

	port := freePort(s.T())
	s.T().Setenv("HTTP_HOST", "127.0.0.1")
	s.T().Setenv("HTTP_PORT", port)
	s.T().Setenv("METRICS_PORT", freePort(s.T()))
	s.T().Setenv("KAFKA_ENABLED", "false")
	s.T().Setenv("REDIS_ADDR", "")
	s.T().Setenv("UPSTREAM_PAYMENT_URL", s.upstreams.URL+"/paymentAuth")
	s.T().Setenv("UPSTREAM_SHIPPING_URL", s.upstreams.URL+"/shipping")
	s.T().Setenv("LOGGER_FILENAME", filepath.Join(s.T().TempDir(), "orders.log"))

	cfg, err := config.LoadPath(path)
	s.Require().NoError(err)

	s.applySchema(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() { s.done <- app.Run(ctx, cfg, logger.NewNop()) }()

	s.baseURL = "http://" + net.JoinHostPort("127.0.0.1", port)
	s.waitForApp()
}

func (s *E2ETestSuite) applySchema(cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := postgres.NewPostgres(ctx, &cfg.Postgres, logger.NewNop())
	s.Require().NoError(err)
	defer db.Close()

	schema, err := os.ReadFile(filepath.Join("..", "..", "migrations", "001_orders.sql"))
	s.Require().NoError(err)
	_, err = db.Pool.Exec(ctx, string(schema))
	s.Require().NoError(err)
}

func (s *E2ETestSuite) waitForApp() {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(s.baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	s.FailNow("application did not become healthy")
}

func (s *E2ETestSuite) TearDownSuite() {
	if s.cancel != nil {
		s.cancel()
		s.NoError(<-s.done)
	}
	if s.upstreams != nil {
		s.upstreams.Close()
	}
}

func (s *E2ETestSuite) TestOrderFlow() {
	req := entity.NewOrderRequest{
		Customer: s.upstreams.URL + "/customers/" + _customerID,
		Address:  s.upstreams.URL + "/addresses/a-1",
		Card:     s.upstreams.URL + "/cards/c-1",
		Items:    s.upstreams.URL + "/carts/" + _customerID + "/items",
	}
	body, err := json.Marshal(req)
	s.Require().NoError(err)

	httpReq, err := http.NewRequest(http.MethodPost, s.baseURL+"/orders", bytes.NewReader(body))
	s.Require().NoError(err)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := http.DefaultClient.Do(httpReq)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	var created entity.CustomerOrder
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&created))
	s.InDelta(29.99, created.Total, 0.001)
	s.Equal(_customerID, created.CustomerID)

	got, err := http.Get(s.baseURL + "/orders/" + created.ID.String())
	s.Require().NoError(err)
	defer got.Body.Close()
	s.Require().Equal(http.StatusOK, got.StatusCode)

	var fetched entity.CustomerOrder
	s.Require().NoError(json.NewDecoder(got.Body).Decode(&fetched))
	s.Equal(created.ID, fetched.ID)
	s.Len(fetched.Items, 2)

	list, err := http.Get(s.baseURL + "/orders?custId=" + _customerID)
	s.Require().NoError(err)
	defer list.Body.Close()
	s.Equal(http.StatusOK, list.StatusCode)
}

func (s *E2ETestSuite) TestPaymentDeclined() {
	req := entity.NewOrderRequest{
		Customer: s.upstreams.URL + "/customers/" + _customerID,
		Address:  s.upstreams.URL + "/addresses/a-1",
		Card:     s.upstreams.URL + "/cards/c-1",
		Items:    s.upstreams.URL + "/carts/big-spender/items",
	}
	body, err := json.Marshal(req)
	s.Require().NoError(err)

	resp, err := http.Post(s.baseURL+"/orders", "application/json", bytes.NewReader(body))
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusNotAcceptable, resp.StatusCode)
}

const _customerID = "57a98d98e4b00679b4a830af"

// fakeShop answers like the user, cart, payment and shipping services. Carts
// other than the customer's own hold a single expensive item that payment
// declines.
func fakeShop() http.Handler {
	doc := func(self string, fields map[string]any) map[string]any {
		fields["_links"] = map[string]any{"self": map[string]string{"href": self}}
		return fields
	}
	write := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/hal+json")
		_ = json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /customers/{id}", func(w http.ResponseWriter, r *http.Request) {
		write(w, doc("http://user/customers/"+r.PathValue("id"), map[string]any{"firstName": gofakeit.FirstName()}))
	})
	mux.HandleFunc("GET /addresses/{id}", func(w http.ResponseWriter, r *http.Request) {
		write(w, doc("http://user/addresses/"+r.PathValue("id"), map[string]any{"city": gofakeit.City()}))
	})
	mux.HandleFunc("GET /cards/{id}", func(w http.ResponseWriter, r *http.Request) {
		write(w, doc("http://user/cards/"+r.PathValue("id"), map[string]any{"longNum": gofakeit.CreditCardNumber(nil)}))
	})
	mux.HandleFunc("GET /carts/{id}/items", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != _customerID {
			write(w, []map[string]any{{"id": "x", "itemId": "x", "quantity": 1, "unitPrice": 500.0}})
			return
		}
		write(w, []map[string]any{
			{"id": "1", "itemId": "a", "quantity": 2, "unitPrice": 10.0},
			{"id": "2", "itemId": "b", "quantity": 1, "unitPrice": 5.0},
		})
	})
	mux.HandleFunc("POST /paymentAuth", func(w http.ResponseWriter, r *http.Request) {
		var p struct {
			Amount float64 `json:"amount"`
		}
		_ = json.NewDecoder(r.Body).Decode(&p)
		if p.Amount > 100 {
			write(w, map[string]any{"authorised": false, "message": "Payment declined: amount exceeds 100.00"})
			return
		}
		write(w, map[string]any{"authorised": true, "message": "Payment authorised"})
	})
	mux.HandleFunc("POST /shipping", func(w http.ResponseWriter, r *http.Request) {
		var sh entity.Shipment
		_ = json.NewDecoder(r.Body).Decode(&sh)
		w.WriteHeader(http.StatusCreated)
		write(w, sh)
	})
	return mux
}

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	addr := ln.Addr().String()
	return addr[strings.LastIndex(addr, ":")+1:]
}
