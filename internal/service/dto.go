package service

import (
	"github.com/abgdnv/tarpets/internal/cart"
	"github.com/abgdnv/tarpets/internal/catalog"
	"github.com/abgdnv/tarpets/internal/shipping"
	"github.com/shopspring/decimal"
)

// CartView is the cart as shown to the shopper.
type CartView struct {
	Items      []cart.Item      `json:"items"`
	ItemCount  int              `json:"item_count"`
	TotalPrice decimal.Decimal  `json:"total_price"`
	Summary    shipping.Summary `json:"summary"`
}

// AddItemDto is the body of POST /cart/items.
type AddItemDto struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
}

// ProductPage is a filtered catalog listing with the subcategory facets of its category.
type ProductPage struct {
	Products      []catalog.Product `json:"products"`
	Count         int               `json:"count"`
	Subcategories []string          `json:"subcategories"`
}

// ProductDetails is a single product with its derived sale information.
type ProductDetails struct {
	catalog.Product
	DiscountPercent int  `json:"discountPercent"`
	InStock         bool `json:"inStock"`
}
