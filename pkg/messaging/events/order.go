package events

import (
	"encoding/json"
	"time"

	"github.com/abgdnv/tarpets/pkg/messaging"
	"github.com/shopspring/decimal"
)

// OrderPlacedEvent is published after the backend confirmed an order submitted by the storefront.
type OrderPlacedEvent struct {
	Carrier        map[string]string `json:"carrier,omitempty"`
	UserID         int64             `json:"user_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	TotalPrice     decimal.Decimal   `json:"total_price"`
	ItemCount      int               `json:"item_count"`
	CreatedAt      time.Time         `json:"created_at"`
}

func (e OrderPlacedEvent) Subject() string {
	return messaging.OrdersPlacedSubject
}

func (e OrderPlacedEvent) Payload() ([]byte, error) {
	return json.Marshal(e)
}
