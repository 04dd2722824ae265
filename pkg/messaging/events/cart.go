package events

import (
	"encoding/json"
	"time"

	"github.com/abgdnv/tarpets/pkg/messaging"
)

// CartNotificationEvent is the user-facing message emitted by cart mutations.
type CartNotificationEvent struct {
	SessionID string    `json:"session_id"`
	ProductID int64     `json:"product_id,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func (e CartNotificationEvent) Subject() string {
	return messaging.CartNotificationsSubject
}

func (e CartNotificationEvent) Payload() ([]byte, error) {
	return json.Marshal(e)
}
