package cart

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/abgdnv/tarpets/pkg/messaging"
	"github.com/abgdnv/tarpets/pkg/messaging/events"
)

const removedMessage = "Product removed from cart."

// Notification is a user-facing message produced by a cart mutation.
type Notification struct {
	SessionID string
	ProductID int64
	Message   string
}

func addedMessage(name string) string {
	return fmt.Sprintf("%s added to cart! 🐾", name)
}

// Notifier delivers notifications. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "cart-notifier")}
}

func (n *LogNotifier) Notify(ctx context.Context, msg Notification) {
	n.logger.InfoContext(ctx, msg.Message, "product_id", msg.ProductID)
}

// PublisherNotifier publishes notifications as CartNotificationEvent.
type PublisherNotifier struct {
	publisher messaging.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewPublisherNotifier(publisher messaging.Publisher, logger *slog.Logger) *PublisherNotifier {
	return &PublisherNotifier{
		publisher: publisher,
		logger:    logger.With("component", "cart-notifier"),
		now:       time.Now,
	}
}

func (n *PublisherNotifier) Notify(ctx context.Context, msg Notification) {
	event := events.CartNotificationEvent{
		SessionID: msg.SessionID,
		ProductID: msg.ProductID,
		Message:   msg.Message,
		CreatedAt: n.now().UTC(),
	}
	if err := n.publisher.Publish(ctx, event); err != nil {
		n.logger.WarnContext(ctx, "failed to publish cart notification", "error", err)
	}
}

// MultiNotifier fans a notification out to every notifier in order.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, msg Notification) {
	for _, n := range m {
		n.Notify(ctx, msg)
	}
}
