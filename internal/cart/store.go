package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/abgdnv/tarpets/internal/catalog"
	storefronterrors "github.com/abgdnv/tarpets/internal/errors"
	"github.com/abgdnv/tarpets/internal/storage"
	"github.com/shopspring/decimal"
)

// StorageKey is the slot name under which carts are persisted. Sessions are appended after a colon.
const StorageKey = "tarPetsCart"

// SlotKey returns the storage slot of a session's cart.
func SlotKey(sessionID string) string {
	return StorageKey + ":" + sessionID
}

// Change is a snapshot of the cart contents tagged with the version it was taken at.
// The version grows by one with every change of the contents.
type Change struct {
	Version uint64
	Items   []Item
}

// Listener is called after every change of the cart contents. Listeners of concurrent
// mutations may run in any order; Version tells which change is newer.
type Listener func(ctx context.Context, change Change)

// Store owns the cart of one session. All methods are safe for concurrent use;
// mutations are serialized and each one is persisted before the next one starts.
type Store struct {
	mu        sync.Mutex
	sessionID string
	items     []Item
	version   uint64
	kv        storage.KV
	notifier  Notifier
	logger    *slog.Logger

	lmu       sync.RWMutex
	listeners []Listener
}

// Open rehydrates the cart of sessionID from kv. A missing slot gives an empty cart.
// A slot that cannot be decoded also gives an empty cart, and the slot is cleared.
// Any other read failure is returned wrapped in ErrStorageUnavailable.
func Open(ctx context.Context, sessionID string, kv storage.KV, notifier Notifier, logger *slog.Logger) (*Store, error) {
	s := &Store{
		sessionID: sessionID,
		kv:        kv,
		notifier:  notifier,
		logger:    logger.With("component", "cart", "session_id", sessionID),
	}
	items, err := s.load(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}
	s.items = items
	return s, nil
}

func (s *Store) load(ctx context.Context) ([]Item, error) {
	key := SlotKey(s.sessionID)
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storefronterrors.ErrSlotNotFound) {
			return nil, nil
		}
		if errors.Is(err, storefronterrors.ErrStorageUnavailable) {
			return nil, fmt.Errorf("failed to read cart: %w", err)
		}
		return nil, fmt.Errorf("failed to read cart: %w: %w", storefronterrors.ErrStorageUnavailable, err)
	}
	items, err := decode(raw)
	if err != nil {
		s.logger.WarnContext(ctx, "corrupt cart slot, clearing it", "error", err)
		if delErr := s.kv.Delete(ctx, key); delErr != nil {
			s.logger.WarnContext(ctx, "failed to clear corrupt cart slot", "error", delErr)
		}
		return nil, nil
	}
	return items, nil
}

func decode(raw []byte) ([]Item, error) {
	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{}, len(items))
	for _, it := range items {
		if it.Quantity < 1 {
			return nil, fmt.Errorf("item %d has quantity %d", it.ID, it.Quantity)
		}
		if it.Price.IsNegative() {
			return nil, fmt.Errorf("item %d has negative price", it.ID)
		}
		if _, dup := seen[it.ID]; dup {
			return nil, fmt.Errorf("item %d appears twice", it.ID)
		}
		seen[it.ID] = struct{}{}
	}
	return items, nil
}

// SessionID returns the session owning this cart.
func (s *Store) SessionID() string {
	return s.sessionID
}

// Subscribe registers l to be called after every change of the cart contents.
func (s *Store) Subscribe(l Listener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Items returns a snapshot of the cart in display order.
func (s *Store) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

// Snapshot returns the items together with the current version.
func (s *Store) Snapshot() Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Change{Version: s.version, Items: slices.Clone(s.items)}
}

// TotalPrice is the sum of price × quantity over all items.
func (s *Store) TotalPrice() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Total(s.items)
}

// AddToCart increments the quantity of an existing entry, or appends a new entry with quantity 1.
// The snapshot of an existing entry is kept as it was on first add.
func (s *Store) AddToCart(ctx context.Context, p catalog.Product) {
	s.mutate(ctx, func(items []Item) ([]Item, bool) {
		if i := indexOf(items, p.ID); i >= 0 {
			items[i].Quantity++
			return items, true
		}
		return append(items, itemFromProduct(p)), true
	})
	s.notifier.Notify(ctx, Notification{SessionID: s.sessionID, ProductID: p.ID, Message: addedMessage(p.Name)})
}

// RemoveFromCart deletes the entry with id. Unknown ids are ignored.
func (s *Store) RemoveFromCart(ctx context.Context, id int64) {
	s.mutate(ctx, func(items []Item) ([]Item, bool) {
		i := indexOf(items, id)
		if i < 0 {
			return items, false
		}
		return slices.Delete(items, i, i+1), true
	})
	s.notifier.Notify(ctx, Notification{SessionID: s.sessionID, ProductID: id, Message: removedMessage})
}

// IncreaseQuantity adds one to the entry with id. Unknown ids are ignored.
func (s *Store) IncreaseQuantity(ctx context.Context, id int64) {
	s.mutate(ctx, func(items []Item) ([]Item, bool) {
		i := indexOf(items, id)
		if i < 0 {
			return items, false
		}
		items[i].Quantity++
		return items, true
	})
}

// DecreaseQuantity subtracts one from the entry with id, never going below 1.
// Unknown ids are ignored.
func (s *Store) DecreaseQuantity(ctx context.Context, id int64) {
	s.mutate(ctx, func(items []Item) ([]Item, bool) {
		i := indexOf(items, id)
		if i < 0 || items[i].Quantity <= 1 {
			return items, false
		}
		items[i].Quantity--
		return items, true
	})
}

// ClearCart empties the cart.
func (s *Store) ClearCart(ctx context.Context) {
	s.mutate(ctx, func(items []Item) ([]Item, bool) {
		return nil, len(items) > 0
	})
}

// RemoveOrdered takes an ordered snapshot out of the cart. When the cart has not changed since
// the snapshot it is cleared; otherwise only the ordered quantities are subtracted, so that
// items added in the meantime stay.
func (s *Store) RemoveOrdered(ctx context.Context, ordered Change) {
	s.mutate(ctx, func(items []Item) ([]Item, bool) {
		if s.version == ordered.Version {
			return nil, len(items) > 0
		}
		quantities := make(map[int64]int, len(ordered.Items))
		for _, it := range ordered.Items {
			quantities[it.ID] = it.Quantity
		}
		kept := make([]Item, 0, len(items))
		changed := false
		for _, it := range items {
			if q, ok := quantities[it.ID]; ok {
				changed = true
				it.Quantity -= q
				if it.Quantity < 1 {
					continue
				}
			}
			kept = append(kept, it)
		}
		return kept, changed
	})
}

// mutate applies fn under the lock and, when fn reports a change, bumps the version, persists
// the new contents and calls the listeners with a snapshot.
func (s *Store) mutate(ctx context.Context, fn func([]Item) ([]Item, bool)) {
	s.mu.Lock()
	items, changed := fn(s.items)
	if !changed {
		s.mu.Unlock()
		return
	}
	s.items = items
	s.version++
	s.persist(ctx)
	change := Change{Version: s.version, Items: slices.Clone(s.items)}
	s.mu.Unlock()

	s.lmu.RLock()
	listeners := slices.Clone(s.listeners)
	s.lmu.RUnlock()
	for _, l := range listeners {
		l(ctx, change)
	}
}

// persist writes the cart to its slot. Failures are logged; the in-memory cart stays authoritative.
func (s *Store) persist(ctx context.Context) {
	items := s.items
	if items == nil {
		items = []Item{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to encode cart", "error", err)
		return
	}
	// The write must not be lost when the triggering request goes away.
	if err := s.kv.Put(context.WithoutCancel(ctx), SlotKey(s.sessionID), raw); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist cart", "error", err, "bytes", len(raw))
	}
}

func indexOf(items []Item, id int64) int {
	return slices.IndexFunc(items, func(it Item) bool { return it.ID == id })
}
