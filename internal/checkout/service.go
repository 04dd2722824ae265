package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/abgdnv/tarpets/internal/cart"
	"github.com/abgdnv/tarpets/internal/catalog"
	storefronterrors "github.com/abgdnv/tarpets/internal/errors"
	"github.com/abgdnv/tarpets/pkg/messaging"
	"github.com/abgdnv/tarpets/pkg/messaging/events"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
)

// OrderClient creates orders on the backend.
type OrderClient interface {
	CreateOrder(ctx context.Context, req catalog.CreateOrderRequest, idempotencyKey string) error
}

// Cart is the part of the cart store checkout needs.
type Cart interface {
	Snapshot() cart.Change
	RemoveOrdered(ctx context.Context, ordered cart.Change)
}

// Result describes a confirmed order.
type Result struct {
	IdempotencyKey string          `json:"idempotency_key"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	ItemCount      int             `json:"item_count"`
}

// Service places orders. It remembers keys of submissions in flight or confirmed during the
// current bucket and refuses to send them again. The backend is not assumed to de-duplicate.
type Service struct {
	orders    OrderClient
	publisher messaging.Publisher
	bucket    time.Duration
	logger    *slog.Logger
	placed    metric.Int64Counter
	now       func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewService(orders OrderClient, publisher messaging.Publisher, bucket time.Duration, logger *slog.Logger, meter metric.Meter) (*Service, error) {
	if bucket <= 0 {
		bucket = DefaultBucket
	}
	placed, err := meter.Int64Counter("orders_placed", metric.WithDescription("Orders confirmed by the backend"))
	if err != nil {
		return nil, err
	}
	return &Service{
		orders:    orders,
		publisher: publisher,
		bucket:    bucket,
		logger:    logger.With("component", "checkout"),
		placed:    placed,
		now:       time.Now,
		seen:      make(map[string]time.Time),
	}, nil
}

// PlaceOrder submits the contents of c for userID. On confirmation the ordered items are taken
// out of the cart and an OrderPlacedEvent is published. Items added while the order was in
// flight stay in the cart.
func (s *Service) PlaceOrder(ctx context.Context, userID int64, c Cart) (*Result, error) {
	snapshot := c.Snapshot()
	items := snapshot.Items
	if len(items) == 0 {
		return nil, storefronterrors.ErrEmptyCart
	}
	now := s.now()
	key := IdempotencyKey(userID, items, now, s.bucket)
	if !s.reserve(key, now) {
		s.logger.WarnContext(ctx, "duplicate checkout suppressed", "idempotency_key", key)
		return nil, storefronterrors.ErrOrderAlreadyPlaced
	}

	total := cart.Total(items)
	req := catalog.CreateOrderRequest{
		UserID:     userID,
		TotalPrice: total,
		Items:      make([]catalog.CreateOrderItem, 0, len(items)),
	}
	for _, it := range items {
		req.Items = append(req.Items, catalog.CreateOrderItem{
			ProductID:   it.ID,
			ProductName: it.Name,
			Price:       it.Price,
			Quantity:    it.Quantity,
		})
	}

	if err := s.orders.CreateOrder(ctx, req, key); err != nil {
		s.release(key)
		return nil, fmt.Errorf("%w: %w", storefronterrors.ErrCheckoutFailed, err)
	}

	c.RemoveOrdered(ctx, snapshot)
	s.placed.Add(ctx, 1)

	carrier := make(propagation.MapCarrier)
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	event := events.OrderPlacedEvent{
		Carrier:        carrier,
		UserID:         userID,
		IdempotencyKey: key,
		TotalPrice:     total,
		ItemCount:      len(items),
		CreatedAt:      now.UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish OrderPlacedEvent", "error", err)
	}

	return &Result{IdempotencyKey: key, TotalPrice: total, ItemCount: len(items)}, nil
}

// reserve records key unless it is already known. Entries older than two buckets are dropped.
func (s *Service) reserve(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, at := range s.seen {
		if now.Sub(at) > 2*s.bucket {
			delete(s.seen, k)
		}
	}
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = now
	return true
}

func (s *Service) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, key)
}
