// internal/pkg/notify/types.go
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventKind represents the kind of reconciliation outcome being announced
type EventKind string

const (
	EventOrderPaid           EventKind = "order.paid"
	EventOrderPaymentFailed  EventKind = "order.payment_failed"
	EventOrderRefunded       EventKind = "order.refunded"
	EventSubscriptionChanged EventKind = "subscription.changed"
)

// Event is a reconciliation outcome sent to every configured target
type Event struct {
	Kind        EventKind `json:"kind"`
	UserID      uuid.UUID `json:"user_id"`
	OrderID     uuid.UUID `json:"order_id,omitempty"`
	Status      string    `json:"status,omitempty"`
	AmountMinor int64     `json:"amount_minor,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	Reference   string    `json:"reference,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Notifier delivers one event to one target
type Notifier interface {
	Name() string
	Notify(ctx context.Context, evt Event) error
}

// Publisher is what reconcilers depend on. Publish must never block the caller.
type Publisher interface {
	Publish(evt Event)
}

// Nop discards events
type Nop struct{}

func (Nop) Publish(Event) {}
