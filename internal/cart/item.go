// Package cart implements the per-session shopping cart: merge-by-id mutations, derived totals,
// persistence to a key-value slot and change notifications.
package cart

import (
	"github.com/abgdnv/tarpets/internal/catalog"
	"github.com/shopspring/decimal"
)

// Item is a product snapshot taken when the product was first added, plus a quantity.
type Item struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	Price       decimal.Decimal  `json:"price"`
	OldPrice    *decimal.Decimal `json:"oldPrice,omitempty"`
	ImageURL    string           `json:"imageUrl"`
	Category    string           `json:"category"`
	Subcategory string           `json:"subcategory,omitempty"`
	Stock       int              `json:"stock"`
	Quantity    int              `json:"quantity"`
}

// Subtotal is Price × Quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func itemFromProduct(p catalog.Product) Item {
	return Item{
		ID:          p.ID,
		Name:        p.Name,
		Price:       p.Price,
		OldPrice:    p.OldPrice,
		ImageURL:    p.ImageURL,
		Category:    p.Category,
		Subcategory: p.Subcategory,
		Stock:       p.Stock,
		Quantity:    1,
	}
}

// Total sums Subtotal over items.
func Total(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}
