// internal/domain/subscription/entity.go
package subscription

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PlanTarget groups plans that are mutually exclusive for one user
type PlanTarget string

const (
	PlanTargetBuyer   PlanTarget = "buyer"
	PlanTargetCreator PlanTarget = "creator"
	PlanTargetBundle  PlanTarget = "bundle"
)

// Status is the local subscription status
type Status string

const (
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// LiveStatuses count against the one-live-subscription-per-target rule
var LiveStatuses = []Status{StatusActive, StatusPastDue}

// Plan is a purchasable subscription plan. Managed by admins, read-only here.
type Plan struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Code            string     `gorm:"uniqueIndex;not null;size:64" json:"code"`
	Name            string     `gorm:"not null;size:255" json:"name"`
	Target          PlanTarget `gorm:"not null;size:32;index" json:"target"`
	PriceMinor      int64      `gorm:"not null" json:"price_minor"`
	Currency        string     `gorm:"not null;size:3" json:"currency"`
	Interval        string     `gorm:"size:16" json:"interval"`
	StripeProductID *string    `gorm:"size:255;index" json:"stripe_product_id,omitempty"`
	StripePriceID   *string    `gorm:"size:255;uniqueIndex" json:"stripe_price_id,omitempty"`
	IsActive        bool       `gorm:"not null" json:"is_active"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Subscription is a user's subscription to one plan
type Subscription struct {
	ID                   uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID               uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_subscriptions_user_plan" json:"user_id"`
	PlanID               uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_subscriptions_user_plan" json:"plan_id"`
	Plan                 *Plan      `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	Status               Status     `gorm:"not null;size:32;index" json:"status"`
	StripeSubscriptionID *string    `gorm:"size:255;index" json:"stripe_subscription_id,omitempty"`
	StripeCustomerID     *string    `gorm:"size:255" json:"stripe_customer_id,omitempty"`
	CanceledAt           *time.Time `json:"canceled_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// TableName overrides
func (Plan) TableName() string         { return "subscription_plans" }
func (Subscription) TableName() string { return "subscriptions" }

// BeforeCreate assigns the primary key
func (p *Plan) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Currency = strings.ToLower(p.Currency)
	return nil
}

// BeforeCreate assigns the primary key
func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// NormalizeStatus maps a gateway subscription status onto the local status.
// Unknown values become past_due so that they surface instead of passing as paid.
func NormalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active", "trialing":
		return StatusActive
	case "past_due", "unpaid", "incomplete":
		return StatusPastDue
	case "canceled", "cancelled", "incomplete_expired", "paused":
		return StatusCanceled
	default:
		return StatusPastDue
	}
}

// IsLive reports whether status counts as a live subscription
func IsLive(status Status) bool {
	return status == StatusActive || status == StatusPastDue
}

// Score ranks gateway statuses when several subscriptions compete for one target
func Score(raw string) int {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active", "trialing":
		return 3
	case "past_due":
		return 2
	default:
		return 1
	}
}
