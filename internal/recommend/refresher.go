package recommend

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/abgdnv/tarpets/internal/cart"
	"github.com/abgdnv/tarpets/internal/catalog"
)

// CartRecommender computes recommendations for a cart snapshot.
type CartRecommender interface {
	ForCart(ctx context.Context, items []cart.Item) []catalog.Product
}

// generation is one recomputation started by Trigger.
type generation struct {
	id       uint64
	done     chan struct{}
	products []catalog.Product
}

// Refresher keeps the cart recommendations of one session in step with its cart.
// Each Trigger supersedes the computation in flight: the older one is cancelled and its
// result is never served. A trigger for a cart version not newer than the last accepted one
// arrived out of order and is dropped.
type Refresher struct {
	recommender CartRecommender
	timeout     time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	counter  uint64
	accepted bool
	version  uint64
	cancel   context.CancelFunc
	pending  *generation
	latest   []catalog.Product
}

func NewRefresher(recommender CartRecommender, timeout time.Duration, logger *slog.Logger) *Refresher {
	return &Refresher{
		recommender: recommender,
		timeout:     timeout,
		logger:      logger.With("component", "recommend-refresher"),
		latest:      []catalog.Product{},
	}
}

// Trigger starts a recomputation for the cart change, bounded by the refresher timeout.
// It returns immediately.
func (r *Refresher) Trigger(ctx context.Context, change cart.Change) {
	r.mu.Lock()
	if r.accepted && change.Version <= r.version {
		r.mu.Unlock()
		r.logger.DebugContext(ctx, "dropping stale cart change", "version", change.Version, "accepted", r.version)
		return
	}
	r.accepted = true
	r.version = change.Version
	items := change.Items
	if r.cancel != nil {
		r.cancel()
	}
	r.counter++
	gen := &generation{id: r.counter, done: make(chan struct{})}
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	r.cancel = cancel
	r.pending = gen
	r.mu.Unlock()

	go func() {
		defer cancel()
		products := r.recommender.ForCart(runCtx, items)

		r.mu.Lock()
		if gen.id == r.counter {
			r.latest = products
		} else {
			r.logger.DebugContext(runCtx, "discarding superseded recommendations", "generation", gen.id, "current", r.counter)
		}
		gen.products = products
		r.mu.Unlock()
		close(gen.done)
	}()
}

// Generation returns the number of the newest recomputation.
func (r *Refresher) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counter
}

// Current waits for the newest recomputation and returns its result. If ctx ends first,
// the result of the last completed current generation is returned.
func (r *Refresher) Current(ctx context.Context) []catalog.Product {
	for {
		r.mu.Lock()
		gen := r.pending
		latest := r.latest
		r.mu.Unlock()

		if gen == nil {
			return latest
		}
		select {
		case <-gen.done:
		case <-ctx.Done():
			return latest
		}

		r.mu.Lock()
		superseded := r.pending != gen
		products := gen.products
		r.mu.Unlock()
		if !superseded {
			return products
		}
	}
}

// Close cancels the computation in flight.
func (r *Refresher) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}
