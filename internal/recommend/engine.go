// Package recommend proposes up to four products to show next to the cart or on the profile page.
// Selection is randomized; the random source is injected so tests can fix the seed.
package recommend

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/abgdnv/tarpets/internal/cart"
	"github.com/abgdnv/tarpets/internal/catalog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Variant names label the recommendations_served metric.
const (
	// VariantCart recommends products sharing a category with the cart.
	VariantCart = "cart"
	// VariantPets recommends products balanced over the pets of a profile.
	VariantPets = "pets"
)

// CatalogSource supplies the full product catalog.
type CatalogSource interface {
	FetchAllProducts(ctx context.Context) ([]catalog.Product, error)
}

// Engine computes recommendation sets. Catalog failures yield an empty set, never an error.
type Engine struct {
	catalog CatalogSource
	logger  *slog.Logger
	served  metric.Int64Counter

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandom returns a PCG source seeded from the runtime's random state.
func NewRandom() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

func NewEngine(src CatalogSource, rnd *rand.Rand, logger *slog.Logger, meter metric.Meter) (*Engine, error) {
	served, err := meter.Int64Counter("recommendations_served",
		metric.WithDescription("Recommendation sets served, by variant and outcome"))
	if err != nil {
		return nil, err
	}
	return &Engine{
		catalog: src,
		logger:  logger.With("component", "recommend"),
		served:  served,
		rnd:     rnd,
	}, nil
}

// ForCart returns category-matched products not already in the cart. An empty cart gets no
// recommendations.
func (e *Engine) ForCart(ctx context.Context, items []cart.Item) []catalog.Product {
	if len(items) == 0 {
		e.record(ctx, VariantCart, "empty")
		return []catalog.Product{}
	}
	products, ok := e.fetch(ctx, VariantCart)
	if !ok {
		return []catalog.Product{}
	}

	e.mu.Lock()
	out, fallback := selectForCart(e.rnd, items, products)
	e.mu.Unlock()

	if fallback {
		e.record(ctx, VariantCart, "fallback")
	} else {
		e.record(ctx, VariantCart, "ok")
	}
	return out
}

// ForPets returns products balanced across the given pet types. No pet types means no
// recommendations and no catalog call.
func (e *Engine) ForPets(ctx context.Context, counts PetCounts) []catalog.Product {
	if len(counts) == 0 {
		e.record(ctx, VariantPets, "empty")
		return []catalog.Product{}
	}
	products, ok := e.fetch(ctx, VariantPets)
	if !ok {
		return []catalog.Product{}
	}

	e.mu.Lock()
	out := selectForPets(e.rnd, counts, products)
	e.mu.Unlock()

	e.record(ctx, VariantPets, "ok")
	return out
}

func (e *Engine) fetch(ctx context.Context, variant string) ([]catalog.Product, bool) {
	products, err := e.catalog.FetchAllProducts(ctx)
	if err != nil {
		e.logger.WarnContext(ctx, "catalog fetch failed, serving no recommendations", "variant", variant, "error", err)
		e.record(ctx, variant, "error")
		return nil, false
	}
	return products, true
}

func (e *Engine) record(ctx context.Context, variant, outcome string) {
	e.served.Add(ctx, 1, metric.WithAttributes(
		attribute.String("variant", variant),
		attribute.String("outcome", outcome),
	))
}
