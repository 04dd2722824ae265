package catalog

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AllSubcategories selects every subcategory of a category.
const AllSubcategories = "All"

// Filter narrows a product listing. A search term matches product names case-insensitively
// and takes precedence over the category filters. Category and Subcategory match exactly.
type Filter struct {
	Search      string
	Category    string
	Subcategory string
}

// Apply returns the products matching f in catalog order. It never returns nil.
func (f Filter) Apply(products []Product) []Product {
	out := make([]Product, 0, len(products))
	search := strings.ToLower(strings.TrimSpace(f.Search))
	for _, p := range products {
		if search != "" {
			if strings.Contains(strings.ToLower(p.Name), search) {
				out = append(out, p)
			}
			continue
		}
		if f.Category != "" && p.Category != f.Category {
			continue
		}
		if f.Subcategory != "" && f.Subcategory != AllSubcategories && p.Subcategory != f.Subcategory {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Subcategories lists the distinct non-empty subcategories of category in first-seen order.
// An empty category covers the whole catalog.
func Subcategories(products []Product, category string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, p := range products {
		if category != "" && p.Category != category {
			continue
		}
		if p.Subcategory == "" {
			continue
		}
		if _, dup := seen[p.Subcategory]; dup {
			continue
		}
		seen[p.Subcategory] = struct{}{}
		out = append(out, p.Subcategory)
	}
	return out
}

// DiscountPercent is the saving against OldPrice in whole percent, rounded half up.
// It is 0 when the product has no positive old price.
func (p Product) DiscountPercent() int {
	if p.OldPrice == nil || !p.OldPrice.IsPositive() {
		return 0
	}
	saving := p.OldPrice.Sub(p.Price).Div(*p.OldPrice).Mul(decimal.NewFromInt(100))
	return int(saving.Round(0).IntPart())
}
