package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abgdnv/tarpets/internal/catalog"
	"github.com/abgdnv/tarpets/internal/config"
	"github.com/abgdnv/tarpets/internal/service"
	"github.com/abgdnv/tarpets/internal/storage"
	restclient "github.com/abgdnv/tarpets/pkg/client/rest"
	"github.com/abgdnv/tarpets/pkg/messaging"
	"github.com/abgdnv/tarpets/pkg/web"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/metric/noop"
)

// fakeBackend serves the catalog, user and order endpoints of the backend API.
type fakeBackend struct {
	mu       sync.Mutex
	products []catalog.Product
	users    map[int64]catalog.UserProfile
	orders   []catalog.CreateOrderRequest
	keys     []string
}

func (b *fakeBackend) handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/products", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, b.products)
	})
	r.Get("/api/products/discounted", func(w http.ResponseWriter, _ *http.Request) {
		discounted := []catalog.Product{}
		for _, p := range b.products {
			if p.IsDiscounted {
				discounted = append(discounted, p)
			}
		}
		writeJSON(w, http.StatusOK, discounted)
	})
	r.Get("/api/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		for _, p := range b.products {
			if p.ID == id {
				writeJSON(w, http.StatusOK, p)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/api/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		user, ok := b.users[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, user)
	})
	r.Post("/api/orders", func(w http.ResponseWriter, r *http.Request) {
		var req catalog.CreateOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		b.orders = append(b.orders, req)
		b.keys = append(b.keys, r.Header.Get(restclient.IdempotencyKeyHeader))
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, true)
	})
	r.Get("/api/orders/user/{id}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, []catalog.Order{{ID: 1, TotalPrice: decimal.NewFromInt(120), CreatedAt: "2025-06-01T10:00:00"}})
	})
	return r
}

func (b *fakeBackend) placedOrders() ([]catalog.CreateOrderRequest, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]catalog.CreateOrderRequest(nil), b.orders...), append([]string(nil), b.keys...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func product(id int64, name, category, price string) catalog.Product {
	return catalog.Product{ID: id, Name: name, Category: category, Price: decimal.RequireFromString(price), Stock: 10}
}

func ptr[T any](v T) *T { return &v }

func testConfig(baseURL string) *config.Config {
	var cfg config.Config
	cfg.Storage.Driver = config.StorageMemory
	cfg.Catalog.BaseURL = baseURL
	cfg.Catalog.Timeout = 2 * time.Second
	cfg.Catalog.Resilience.Retry.MaxAttempts = 1
	cfg.Catalog.Resilience.Retry.InitialBackoff = 10 * time.Millisecond
	cfg.Catalog.Resilience.Retry.MaxBackoff = 20 * time.Millisecond
	cfg.Catalog.Resilience.CircuitBreaker.ConsecutiveFailures = 5
	cfg.Catalog.Resilience.CircuitBreaker.ErrorRatePercent = 50
	cfg.Catalog.Resilience.CircuitBreaker.OpenTimeout = time.Second
	cfg.Catalog.Resilience.CircuitBreaker.HalfOpenRequests = 1
	cfg.Recommend.Timeout = 2 * time.Second
	cfg.Checkout.Bucket = 10 * time.Minute
	cfg.Cart.IdleTTL = time.Hour
	cfg.Cart.SweepInterval = time.Minute
	return &cfg
}

// StorefrontSuite runs the storefront router against a fake backend API and in-memory cart slots.
type StorefrontSuite struct {
	suite.Suite
	backend  *fakeBackend
	upstream *httptest.Server
	server   *httptest.Server
	deps     *Dependencies
	dbDown   atomic.Bool
}

func TestStorefront(t *testing.T) {
	suite.Run(t, new(StorefrontSuite))
}

func (s *StorefrontSuite) SetupTest() {
	s.backend = &fakeBackend{
		products: []catalog.Product{
			product(1, "Dog Food", "Dogs", "120.00"),
			product(2, "Dog Leash", "Dogs", "45.50"),
			product(3, "Dog Bed", "Dogs", "300.00"),
			product(4, "Cat Toy", "Cats", "15.00"),
			product(5, "Cat Litter", "Cats", "60.00"),
			product(6, "Fish Tank", "Fish", "450.00"),
		},
		users: map[int64]catalog.UserProfile{
			7: {ID: 7, FullName: "Ana", Pets: []catalog.Pet{{ID: 1, Name: "Rex", Type: ptr("Dog")}}},
		},
	}
	bed := &s.backend.products[2]
	bed.Subcategory = "Beds"
	bed.IsDiscounted = true
	bed.OldPrice = ptr(decimal.RequireFromString("400.00"))
	s.backend.products[0].Subcategory = "Food"
	s.backend.products[1].Subcategory = "Walking"
	s.upstream = httptest.NewServer(s.backend.handler())
	s.dbDown.Store(false)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	deps, err := SetupDependencies(Infra{
		KV:        storage.NewInMemoryStore(0),
		Publisher: messaging.NewLogPublisher(logger),
		Auth:      web.HeaderAuthMiddleware,
		Ready: func(_ context.Context) error {
			if s.dbDown.Load() {
				return errors.New("database is down")
			}
			return nil
		},
		Meter: noop.NewMeterProvider().Meter("test"),
	}, testConfig(s.upstream.URL), logger)
	require.NoError(s.T(), err)
	s.deps = deps
	s.server = httptest.NewServer(SetupHttpHandler(deps))
}

func (s *StorefrontSuite) TearDownTest() {
	s.server.Close()
	s.deps.Service.Close()
	s.upstream.Close()
}

func (s *StorefrontSuite) do(method, path, session, user string, body any) *http.Response {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.T(), err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	require.NoError(s.T(), err)
	if session != "" {
		req.Header.Set(web.XSessionId, session)
	}
	if user != "" {
		req.Header.Set(web.XUserId, user)
	}
	resp, err := s.server.Client().Do(req)
	require.NoError(s.T(), err)
	s.T().Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (s *StorefrontSuite) decode(resp *http.Response, v any) {
	require.NoError(s.T(), json.NewDecoder(resp.Body).Decode(v))
}

func (s *StorefrontSuite) addItem(session string, id int64) service.CartView {
	resp := s.do(http.MethodPost, "/api/v1/cart/items", session, "", map[string]int64{"product_id": id})
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	var view service.CartView
	s.decode(resp, &view)
	return view
}

func (s *StorefrontSuite) TestBrowseCatalog() {
	// when
	resp := s.do(http.MethodGet, "/api/v1/products?category=Dogs", "", "", nil)

	// then
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	var page service.ProductPage
	s.decode(resp, &page)
	assert.Equal(s.T(), 3, page.Count)
	assert.Equal(s.T(), []string{"Food", "Walking", "Beds"}, page.Subcategories)

	// when
	resp = s.do(http.MethodGet, "/api/v1/products?category=Dogs&subcategory=Beds", "", "", nil)

	// then
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	s.decode(resp, &page)
	require.Len(s.T(), page.Products, 1)
	assert.Equal(s.T(), int64(3), page.Products[0].ID)

	// when
	resp = s.do(http.MethodGet, "/api/v1/products?search=cat", "", "", nil)

	// then
	s.decode(resp, &page)
	assert.Equal(s.T(), 2, page.Count)
	assert.Empty(s.T(), page.Subcategories)

	// when
	resp = s.do(http.MethodGet, "/api/v1/products/discounted", "", "", nil)

	// then
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	var discounted []catalog.Product
	s.decode(resp, &discounted)
	require.Len(s.T(), discounted, 1)
	assert.Equal(s.T(), int64(3), discounted[0].ID)

	// when
	resp = s.do(http.MethodGet, "/api/v1/products/3", "", "", nil)

	// then
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	var details service.ProductDetails
	s.decode(resp, &details)
	assert.Equal(s.T(), 25, details.DiscountPercent)
	assert.True(s.T(), details.InStock)

	// when
	resp = s.do(http.MethodGet, "/api/v1/products/404", "", "", nil)

	// then
	assert.Equal(s.T(), http.StatusNotFound, resp.StatusCode)
}

func (s *StorefrontSuite) TestCartFlow() {
	// given
	session := "session-a"

	// when
	s.addItem(session, 1)
	s.addItem(session, 1)
	view := s.addItem(session, 2)

	// then
	require.Len(s.T(), view.Items, 2)
	assert.Equal(s.T(), 2, view.Items[0].Quantity)
	assert.Equal(s.T(), 3, view.ItemCount)
	assert.True(s.T(), decimal.RequireFromString("285.50").Equal(view.TotalPrice))
	assert.True(s.T(), decimal.RequireFromString("29.90").Equal(view.Summary.Shipping))
	assert.True(s.T(), decimal.RequireFromString("214.50").Equal(view.Summary.RemainingForFree))

	// when
	resp := s.do(http.MethodPost, "/api/v1/cart/items/1/decrease", session, "", nil)
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	resp = s.do(http.MethodPost, "/api/v1/cart/items/1/decrease", session, "", nil)
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	s.decode(resp, &view)

	// then
	assert.Equal(s.T(), 1, view.Items[0].Quantity, "quantity never drops below one")

	// when
	resp = s.do(http.MethodDelete, "/api/v1/cart/items/2", session, "", nil)
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	resp = s.do(http.MethodGet, "/api/v1/cart", session, "", nil)
	s.decode(resp, &view)

	// then
	require.Len(s.T(), view.Items, 1)
	assert.Equal(s.T(), int64(1), view.Items[0].ID)
}

func (s *StorefrontSuite) TestCartsAreIsolatedPerSession() {
	// given
	s.addItem("session-a", 1)

	// when
	resp := s.do(http.MethodGet, "/api/v1/cart", "session-b", "", nil)

	// then
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	var view service.CartView
	s.decode(resp, &view)
	assert.Empty(s.T(), view.Items)
	assert.True(s.T(), view.TotalPrice.IsZero())
}

func (s *StorefrontSuite) TestAddItem_Errors() {
	testCases := []struct {
		name           string
		session        string
		body           any
		expectedStatus int
	}{
		{name: "unknown product", session: "s", body: map[string]int64{"product_id": 99}, expectedStatus: http.StatusNotFound},
		{name: "missing product id", session: "s", body: map[string]int64{}, expectedStatus: http.StatusBadRequest},
		{name: "missing session", session: "", body: map[string]int64{"product_id": 1}, expectedStatus: http.StatusBadRequest},
	}
	for _, tc := range testCases {
		s.Run(tc.name, func() {
			// when
			resp := s.do(http.MethodPost, "/api/v1/cart/items", tc.session, "", tc.body)

			// then
			assert.Equal(s.T(), tc.expectedStatus, resp.StatusCode)
		})
	}
}

func (s *StorefrontSuite) TestCartRecommendations() {
	// given
	session := "session-r"
	s.addItem(session, 1)

	// when
	resp := s.do(http.MethodGet, "/api/v1/cart/recommendations", session, "", nil)

	// then
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	var products []catalog.Product
	s.decode(resp, &products)
	require.Len(s.T(), products, 2)
	for _, p := range products {
		assert.Equal(s.T(), "Dogs", p.Category)
		assert.NotEqual(s.T(), int64(1), p.ID)
	}
}

func (s *StorefrontSuite) TestCartRecommendations_EmptyCart() {
	// when
	resp := s.do(http.MethodGet, "/api/v1/cart/recommendations", "session-empty", "", nil)

	// then
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	var products []catalog.Product
	s.decode(resp, &products)
	assert.Empty(s.T(), products)
}

func (s *StorefrontSuite) TestProfileRecommendations() {
	// when
	resp := s.do(http.MethodGet, "/api/v1/profile/recommendations", "session-p", "7", nil)

	// then
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	var products []catalog.Product
	s.decode(resp, &products)
	require.Len(s.T(), products, 3)
	for _, p := range products {
		assert.Equal(s.T(), "Dogs", p.Category)
	}

	// when
	resp = s.do(http.MethodGet, "/api/v1/profile/recommendations", "session-p", "8", nil)

	// then
	assert.Equal(s.T(), http.StatusNotFound, resp.StatusCode)
}

func (s *StorefrontSuite) TestCheckout() {
	// given
	session := "session-c"
	s.addItem(session, 3)
	s.addItem(session, 6)

	// when
	resp := s.do(http.MethodPost, "/api/v1/checkout", session, "7", nil)

	// then
	require.Equal(s.T(), http.StatusCreated, resp.StatusCode)
	var result struct {
		IdempotencyKey string          `json:"idempotency_key"`
		TotalPrice     decimal.Decimal `json:"total_price"`
		ItemCount      int             `json:"item_count"`
	}
	s.decode(resp, &result)
	assert.Equal(s.T(), 2, result.ItemCount)
	assert.True(s.T(), decimal.NewFromInt(750).Equal(result.TotalPrice))

	orders, keys := s.backend.placedOrders()
	require.Len(s.T(), orders, 1)
	assert.Equal(s.T(), int64(7), orders[0].UserID)
	assert.Len(s.T(), orders[0].Items, 2)
	assert.Equal(s.T(), []string{result.IdempotencyKey}, keys)

	resp = s.do(http.MethodGet, "/api/v1/cart", session, "", nil)
	var view service.CartView
	s.decode(resp, &view)
	assert.Empty(s.T(), view.Items, "cart is cleared after checkout")

	// when the same cart is submitted again within the bucket
	s.addItem(session, 3)
	s.addItem(session, 6)
	resp = s.do(http.MethodPost, "/api/v1/checkout", session, "7", nil)

	// then
	assert.Equal(s.T(), http.StatusConflict, resp.StatusCode)
	orders, _ = s.backend.placedOrders()
	assert.Len(s.T(), orders, 1)
}

func (s *StorefrontSuite) TestCheckout_Errors() {
	testCases := []struct {
		name           string
		user           string
		expectedStatus int
	}{
		{name: "empty cart", user: "7", expectedStatus: http.StatusBadRequest},
		{name: "missing user", user: "", expectedStatus: http.StatusUnauthorized},
		{name: "invalid user", user: "abc", expectedStatus: http.StatusUnauthorized},
	}
	for _, tc := range testCases {
		s.Run(tc.name, func() {
			// when
			resp := s.do(http.MethodPost, "/api/v1/checkout", "session-e", tc.user, nil)

			// then
			assert.Equal(s.T(), tc.expectedStatus, resp.StatusCode)
		})
	}
}

func (s *StorefrontSuite) TestOrders() {
	// when
	resp := s.do(http.MethodGet, "/api/v1/orders", "session-o", "7", nil)

	// then
	require.Equal(s.T(), http.StatusOK, resp.StatusCode)
	var orders []catalog.Order
	s.decode(resp, &orders)
	require.Len(s.T(), orders, 1)
	assert.Equal(s.T(), int64(1), orders[0].ID)
}

func (s *StorefrontSuite) TestProbes() {
	// when
	resp := s.do(http.MethodGet, "/healthz", "", "", nil)

	// then
	assert.Equal(s.T(), http.StatusOK, resp.StatusCode)

	// when
	s.dbDown.Store(true)
	resp = s.do(http.MethodGet, "/readyz", "", "", nil)

	// then
	assert.Equal(s.T(), http.StatusServiceUnavailable, resp.StatusCode)
}

func (s *StorefrontSuite) TestUpstreamDown() {
	// given
	s.upstream.Close()

	// when
	resp := s.do(http.MethodPost, "/api/v1/cart/items", "session-d", "", map[string]int64{"product_id": 1})

	// then
	assert.Equal(s.T(), http.StatusBadGateway, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(s.T(), err)
	assert.Contains(s.T(), string(body), "Catalog is unavailable")
}
