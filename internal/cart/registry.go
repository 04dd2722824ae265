package cart

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/abgdnv/tarpets/internal/storage"
	"golang.org/x/sync/singleflight"
)

type entry struct {
	store    *Store
	lastUsed time.Time
}

// Registry opens one Store per session on first use and keeps it until it has been idle
// for longer than the eviction TTL. Evicted carts are reopened from storage on the next use.
type Registry struct {
	mu      sync.Mutex
	stores  map[string]*entry
	opening singleflight.Group

	kv       storage.KV
	notifier Notifier
	logger   *slog.Logger
	onOpen   func(ctx context.Context, s *Store)
	onEvict  func(sessionID string)
	now      func() time.Time
}

func NewRegistry(kv storage.KV, notifier Notifier, logger *slog.Logger) *Registry {
	return &Registry{
		stores:   make(map[string]*entry),
		kv:       kv,
		notifier: notifier,
		logger:   logger.With("component", "cart-registry"),
		now:      time.Now,
	}
}

// OnOpen sets a hook called once for every newly opened store, before it is handed out.
// It must be set before the registry is used.
func (r *Registry) OnOpen(fn func(ctx context.Context, s *Store)) {
	r.onOpen = fn
}

// OnEvict sets a hook called for every store dropped by EvictIdle.
// It must be set before the registry is used.
func (r *Registry) OnEvict(fn func(sessionID string)) {
	r.onEvict = fn
}

// Get returns the store of sessionID, opening it from storage when needed. Concurrent first
// requests of one session share a single read; other sessions are not blocked by it.
// A failed read is not cached, so the next Get tries again.
func (r *Registry) Get(ctx context.Context, sessionID string) (*Store, error) {
	if s := r.lookup(sessionID); s != nil {
		return s, nil
	}
	v, err, _ := r.opening.Do(sessionID, func() (any, error) {
		if s := r.lookup(sessionID); s != nil {
			return s, nil
		}
		s, err := Open(ctx, sessionID, r.kv, r.notifier, r.logger)
		if err != nil {
			return nil, err
		}
		if r.onOpen != nil {
			r.onOpen(ctx, s)
		}
		r.mu.Lock()
		r.stores[sessionID] = &entry{store: s, lastUsed: r.now()}
		r.mu.Unlock()
		return s, nil
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to open cart", "session_id", sessionID, "error", err)
		return nil, err
	}
	return v.(*Store), nil
}

func (r *Registry) lookup(sessionID string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.stores[sessionID]
	if !ok {
		return nil
	}
	e.lastUsed = r.now()
	return e.store
}

// EvictIdle drops the stores not used for longer than ttl and returns how many were dropped.
// Their contents stay in storage.
func (r *Registry) EvictIdle(ttl time.Duration) int {
	now := r.now()
	var evicted []string
	r.mu.Lock()
	for id, e := range r.stores {
		if now.Sub(e.lastUsed) > ttl {
			delete(r.stores, id)
			evicted = append(evicted, id)
		}
	}
	r.mu.Unlock()

	if r.onEvict != nil {
		for _, id := range evicted {
			r.onEvict(id)
		}
	}
	return len(evicted)
}

// RunEviction calls EvictIdle every interval until ctx is done.
func (r *Registry) RunEviction(ctx context.Context, ttl, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.EvictIdle(ttl); n > 0 {
				r.logger.DebugContext(ctx, "evicted idle carts", "count", n, "open", r.Len())
			}
		}
	}
}

// Len returns the number of open stores.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}
