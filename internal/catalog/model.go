// Package catalog holds the read model of the backend catalog and a REST client for it.
package catalog

import (
	"github.com/shopspring/decimal"
)

// Product is a catalog entry as served by the backend.
type Product struct {
	ID           int64            `json:"id"`
	Name         string           `json:"name"`
	Description  string           `json:"description,omitempty"`
	Price        decimal.Decimal  `json:"price"`
	OldPrice     *decimal.Decimal `json:"oldPrice,omitempty"`
	IsDiscounted bool             `json:"isDiscounted,omitempty"`
	Category     string           `json:"category"`
	Subcategory  string           `json:"subcategory,omitempty"`
	ImageURL     string           `json:"imageUrl"`
	Stock        int              `json:"stock"`
}

// Pet belongs to a user profile. Type is nil when the backend has no type recorded.
type Pet struct {
	ID   int64   `json:"id"`
	Name string  `json:"name"`
	Type *string `json:"type"`
}

// UserProfile is the part of the backend user record the storefront reads.
// PetType and PetCount are the legacy single-pet fields.
type UserProfile struct {
	ID       int64  `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Role     string `json:"role,omitempty"`
	Pets     []Pet  `json:"pets"`
	PetType  string `json:"petType,omitempty"`
	PetCount *int   `json:"petCount,omitempty"`
}

// CreateOrderRequest is the payload of POST /api/orders.
type CreateOrderRequest struct {
	UserID     int64             `json:"userId"`
	TotalPrice decimal.Decimal   `json:"totalPrice"`
	Items      []CreateOrderItem `json:"items"`
}

type CreateOrderItem struct {
	ProductID   int64           `json:"productId"`
	ProductName string          `json:"productName"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

// Order is an entry of a user's order history.
type Order struct {
	ID         int64           `json:"id"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	CreatedAt  string          `json:"createdAt"`
	Items      []OrderItem     `json:"items"`
}

type OrderItem struct {
	ID       int64           `json:"id"`
	Product  *Product        `json:"product,omitempty"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}
