// internal/domain/customer/entity.go
package customer

import (
	"time"

	"github.com/google/uuid"
)

// Mapping links a local user to a payment gateway customer
type Mapping struct {
	UserID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	StripeCustomerID string    `gorm:"not null;size:255;index" json:"stripe_customer_id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName overrides
func (Mapping) TableName() string { return "customer_mappings" }
