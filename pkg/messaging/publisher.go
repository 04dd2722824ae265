// Package messaging defines the event publishing contract used by the storefront.
package messaging

import (
	"context"
	"log/slog"
)

const (
	CartNotificationsSubject = "storefront.cart.notifications"
	OrdersPlacedSubject      = "storefront.orders.placed"
)

type Event interface {
	Subject() string
	Payload() ([]byte, error)
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LogPublisher writes events to the log. It is used when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With("component", "log-publisher")}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	data, err := event.Payload()
	if err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "event", "subject", event.Subject(), "payload", string(data))
	return nil
}
