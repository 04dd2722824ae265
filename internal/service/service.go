// Package service orchestrates carts, recommendations and checkout for the HTTP transport.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/abgdnv/tarpets/internal/cart"
	"github.com/abgdnv/tarpets/internal/catalog"
	"github.com/abgdnv/tarpets/internal/checkout"
	"github.com/abgdnv/tarpets/internal/recommend"
	"github.com/abgdnv/tarpets/internal/shipping"
)

// StorefrontService is the set of operations exposed to storefront clients.
type StorefrontService interface {
	Products(ctx context.Context, filter catalog.Filter) (*ProductPage, error)
	DiscountedProducts(ctx context.Context) ([]catalog.Product, error)
	Product(ctx context.Context, productID int64) (*ProductDetails, error)
	GetCart(ctx context.Context, sessionID string) (CartView, error)
	AddItem(ctx context.Context, sessionID string, productID int64) (CartView, error)
	RemoveItem(ctx context.Context, sessionID string, productID int64) (CartView, error)
	IncreaseItem(ctx context.Context, sessionID string, productID int64) (CartView, error)
	DecreaseItem(ctx context.Context, sessionID string, productID int64) (CartView, error)
	ClearCart(ctx context.Context, sessionID string) (CartView, error)
	CartRecommendations(ctx context.Context, sessionID string) ([]catalog.Product, error)
	ProfileRecommendations(ctx context.Context, userID int64) ([]catalog.Product, error)
	Checkout(ctx context.Context, sessionID string, userID int64) (*checkout.Result, error)
	Orders(ctx context.Context, userID int64) ([]catalog.Order, error)
}

// Backend is the part of the backend API the service reads directly.
type Backend interface {
	FetchAllProducts(ctx context.Context) ([]catalog.Product, error)
	FetchDiscountedProducts(ctx context.Context) ([]catalog.Product, error)
	FetchProduct(ctx context.Context, id int64) (*catalog.Product, error)
	FetchUser(ctx context.Context, id int64) (*catalog.UserProfile, error)
	FetchOrders(ctx context.Context, userID int64) ([]catalog.Order, error)
}

// Checkouter places orders.
type Checkouter interface {
	PlaceOrder(ctx context.Context, userID int64, c checkout.Cart) (*checkout.Result, error)
}

type Service struct {
	carts      *cart.Registry
	backend    Backend
	engine     *recommend.Engine
	checkout   Checkouter
	calculator shipping.Calculator
	timeout    time.Duration
	logger     *slog.Logger

	mu         sync.Mutex
	refreshers map[string]*recommend.Refresher
}

// NewService wires a refresher to every cart opened by carts, so that cart recommendations are
// recomputed after each change. The refresher of an evicted cart is closed.
func NewService(carts *cart.Registry, backend Backend, engine *recommend.Engine, co Checkouter,
	calculator shipping.Calculator, recommendTimeout time.Duration, logger *slog.Logger) *Service {
	s := &Service{
		carts:      carts,
		backend:    backend,
		engine:     engine,
		checkout:   co,
		calculator: calculator,
		timeout:    recommendTimeout,
		logger:     logger.With("component", "service"),
		refreshers: make(map[string]*recommend.Refresher),
	}
	carts.OnOpen(s.attachRefresher)
	carts.OnEvict(s.detachRefresher)
	return s
}

func (s *Service) attachRefresher(ctx context.Context, store *cart.Store) {
	r := recommend.NewRefresher(s.engine, s.timeout, s.logger)
	store.Subscribe(r.Trigger)

	s.mu.Lock()
	if old, ok := s.refreshers[store.SessionID()]; ok {
		old.Close()
	}
	s.refreshers[store.SessionID()] = r
	s.mu.Unlock()

	if snapshot := store.Snapshot(); len(snapshot.Items) > 0 {
		r.Trigger(ctx, snapshot)
	}
}

func (s *Service) detachRefresher(sessionID string) {
	s.mu.Lock()
	r, ok := s.refreshers[sessionID]
	delete(s.refreshers, sessionID)
	s.mu.Unlock()
	if ok {
		r.Close()
	}
}

func (s *Service) view(store *cart.Store) CartView {
	items := store.Items()
	if items == nil {
		items = []cart.Item{}
	}
	total := cart.Total(items)
	count := 0
	for _, it := range items {
		count += it.Quantity
	}
	return CartView{
		Items:      items,
		ItemCount:  count,
		TotalPrice: total,
		Summary:    s.calculator.Quote(total),
	}
}

// Products returns the catalog narrowed by filter, together with the subcategories of the
// filtered category. Subcategories are left empty for a search.
func (s *Service) Products(ctx context.Context, filter catalog.Filter) (*ProductPage, error) {
	products, err := s.backend.FetchAllProducts(ctx)
	if err != nil {
		return nil, err
	}
	page := &ProductPage{
		Products:      filter.Apply(products),
		Subcategories: []string{},
	}
	if filter.Search == "" {
		page.Subcategories = catalog.Subcategories(products, filter.Category)
	}
	page.Count = len(page.Products)
	return page, nil
}

// DiscountedProducts returns the products on sale.
func (s *Service) DiscountedProducts(ctx context.Context) ([]catalog.Product, error) {
	products, err := s.backend.FetchDiscountedProducts(ctx)
	if err != nil {
		return nil, err
	}
	if products == nil {
		products = []catalog.Product{}
	}
	return products, nil
}

func (s *Service) Product(ctx context.Context, productID int64) (*ProductDetails, error) {
	product, err := s.backend.FetchProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	return &ProductDetails{
		Product:         *product,
		DiscountPercent: product.DiscountPercent(),
		InStock:         product.Stock > 0,
	}, nil
}

func (s *Service) GetCart(ctx context.Context, sessionID string) (CartView, error) {
	store, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		return CartView{}, err
	}
	return s.view(store), nil
}

// AddItem adds the current catalog snapshot of productID to the cart.
func (s *Service) AddItem(ctx context.Context, sessionID string, productID int64) (CartView, error) {
	product, err := s.backend.FetchProduct(ctx, productID)
	if err != nil {
		return CartView{}, err
	}
	store, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		return CartView{}, err
	}
	store.AddToCart(ctx, *product)
	return s.view(store), nil
}

func (s *Service) RemoveItem(ctx context.Context, sessionID string, productID int64) (CartView, error) {
	return s.withCart(ctx, sessionID, func(store *cart.Store) { store.RemoveFromCart(ctx, productID) })
}

func (s *Service) IncreaseItem(ctx context.Context, sessionID string, productID int64) (CartView, error) {
	return s.withCart(ctx, sessionID, func(store *cart.Store) { store.IncreaseQuantity(ctx, productID) })
}

func (s *Service) DecreaseItem(ctx context.Context, sessionID string, productID int64) (CartView, error) {
	return s.withCart(ctx, sessionID, func(store *cart.Store) { store.DecreaseQuantity(ctx, productID) })
}

func (s *Service) ClearCart(ctx context.Context, sessionID string) (CartView, error) {
	return s.withCart(ctx, sessionID, func(store *cart.Store) { store.ClearCart(ctx) })
}

func (s *Service) withCart(ctx context.Context, sessionID string, op func(store *cart.Store)) (CartView, error) {
	store, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		return CartView{}, err
	}
	op(store)
	return s.view(store), nil
}

// CartRecommendations returns the recommendations of the newest cart state.
func (s *Service) CartRecommendations(ctx context.Context, sessionID string) ([]catalog.Product, error) {
	store, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(store.Items()) == 0 {
		return []catalog.Product{}, nil
	}
	s.mu.Lock()
	r := s.refreshers[sessionID]
	s.mu.Unlock()
	if r == nil {
		return s.engine.ForCart(ctx, store.Items()), nil
	}
	return r.Current(ctx), nil
}

// ProfileRecommendations returns recommendations balanced over the user's pets.
func (s *Service) ProfileRecommendations(ctx context.Context, userID int64) ([]catalog.Product, error) {
	user, err := s.backend.FetchUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.engine.ForPets(ctx, recommend.PetCountsFromProfile(user)), nil
}

func (s *Service) Checkout(ctx context.Context, sessionID string, userID int64) (*checkout.Result, error) {
	store, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.checkout.PlaceOrder(ctx, userID, store)
}

func (s *Service) Orders(ctx context.Context, userID int64) ([]catalog.Order, error) {
	orders, err := s.backend.FetchOrders(ctx, userID)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []catalog.Order{}
	}
	return orders, nil
}

// RunCartEviction drops carts idle for longer than ttl every interval until ctx is done.
func (s *Service) RunCartEviction(ctx context.Context, ttl, interval time.Duration) error {
	return s.carts.RunEviction(ctx, ttl, interval)
}

// Close stops all recomputations in flight.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.refreshers {
		r.Close()
	}
}
