// internal/domain/order/entity.go
package order

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderStatus represents the order status
type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "pending"
	OrderStatusPaid              OrderStatus = "paid"
	OrderStatusFailed            OrderStatus = "failed"
	OrderStatusCanceled          OrderStatus = "canceled"
	OrderStatusPartiallyRefunded OrderStatus = "partially_refunded"
	OrderStatusRefunded          OrderStatus = "refunded"
)

// validTransitions lists the statuses reachable from each status. A status
// missing from the map is terminal. partially_refunded may repeat to record a
// larger cumulative refund.
var validTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {
		OrderStatusPaid,
		OrderStatusFailed,
		OrderStatusCanceled,
	},
	OrderStatusPaid: {
		OrderStatusPartiallyRefunded,
		OrderStatusRefunded,
	},
	OrderStatusPartiallyRefunded: {
		OrderStatusPartiallyRefunded,
		OrderStatusRefunded,
	},
}

// Order represents the order entity
type Order struct {
	ID     uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID   `gorm:"type:uuid;not null;index" json:"user_id"`
	CartID *uuid.UUID  `gorm:"type:uuid" json:"cart_id,omitempty"`
	Status OrderStatus `gorm:"not null;size:32;index" json:"status"`

	// Financial Information, in minor units of Currency
	Currency      string `gorm:"not null;size:3" json:"currency"`
	SubtotalMinor int64  `gorm:"not null" json:"subtotal_minor"`
	TotalMinor    int64  `gorm:"not null" json:"total_minor"`
	RefundedMinor int64  `gorm:"not null" json:"refunded_minor"`

	// Gateway references
	StripeCheckoutSessionID *string `gorm:"size:255;uniqueIndex" json:"stripe_checkout_session_id,omitempty"`
	StripePaymentIntentID   *string `gorm:"size:255;index" json:"stripe_payment_intent_id,omitempty"`
	StripeChargeID          *string `gorm:"size:255;index" json:"stripe_charge_id,omitempty"`

	// Timestamps
	PaidAt     *time.Time `json:"paid_at,omitempty"`
	FailedAt   *time.Time `json:"failed_at,omitempty"`
	CanceledAt *time.Time `json:"canceled_at,omitempty"`
	RefundedAt *time.Time `json:"refunded_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	// Relationships
	Items         []OrderItem          `gorm:"foreignKey:OrderID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"items"`
	StatusHistory []OrderStatusHistory `gorm:"foreignKey:OrderID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"status_history,omitempty"`
}

// OrderItem represents items in an order. Immutable once created.
type OrderItem struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID        uuid.UUID `gorm:"type:uuid;not null;index" json:"order_id"`
	ProductID      uuid.UUID `gorm:"type:uuid;not null;index" json:"product_id"`
	Title          string    `gorm:"size:255" json:"title"`
	Quantity       int       `gorm:"not null" json:"quantity"`
	UnitPriceMinor int64     `gorm:"not null" json:"unit_price_minor"`
	LineTotalMinor int64     `gorm:"not null" json:"line_total_minor"` // Quantity * UnitPriceMinor
	Currency       string    `gorm:"not null;size:3" json:"currency"`
	CreatedAt      time.Time `json:"created_at"`
}

// OrderStatusHistory tracks order status changes
type OrderStatusHistory struct {
	ID         uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID    uuid.UUID   `gorm:"type:uuid;not null;index" json:"order_id"`
	FromStatus OrderStatus `gorm:"size:32" json:"from_status"`
	ToStatus   OrderStatus `gorm:"not null;size:32" json:"to_status"`
	Source     string      `gorm:"size:255" json:"source"` // webhook event id or local action
	CreatedAt  time.Time   `json:"created_at"`
}

// TableName overrides
func (Order) TableName() string              { return "orders" }
func (OrderItem) TableName() string          { return "order_items" }
func (OrderStatusHistory) TableName() string { return "order_status_history" }

// BeforeCreate assigns the primary key
func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// BeforeCreate assigns the primary key and line total
func (i *OrderItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	i.LineTotalMinor = int64(i.Quantity) * i.UnitPriceMinor
	return nil
}

// BeforeCreate assigns the primary key
func (h *OrderStatusHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}

// Business methods for Order

// CanTransition reports whether from -> to is allowed
func CanTransition(from, to OrderStatus) bool {
	for _, status := range validTransitions[from] {
		if status == to {
			return true
		}
	}
	return false
}

// Predecessors returns every status from which to can be reached
func Predecessors(to OrderStatus) []OrderStatus {
	var out []OrderStatus
	for from := range validTransitions {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// IsTerminal reports whether no transition leaves status
func IsTerminal(status OrderStatus) bool {
	return len(validTransitions[status]) == 0
}

// RefundStatus derives the status implied by a cumulative refunded amount.
// It returns "" when nothing has been refunded.
func RefundStatus(refunded, total int64) OrderStatus {
	switch {
	case refunded <= 0:
		return ""
	case refunded >= total:
		return OrderStatusRefunded
	default:
		return OrderStatusPartiallyRefunded
	}
}

// ItemsSubtotal sums quantity x unit price over the order items
func (o *Order) ItemsSubtotal() int64 {
	var sum int64
	for _, item := range o.Items {
		sum += int64(item.Quantity) * item.UnitPriceMinor
	}
	return sum
}

// IsPaid reports whether the order has been paid, including after refunds
func (o *Order) IsPaid() bool {
	return o.Status == OrderStatusPaid ||
		o.Status == OrderStatusPartiallyRefunded ||
		o.Status == OrderStatusRefunded
}
