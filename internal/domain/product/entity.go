// internal/domain/product/entity.go
package product

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Product is the read-only catalog entry used for cart price snapshots
type Product struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name       string    `gorm:"not null;size:255" json:"name"`
	Slug       string    `gorm:"uniqueIndex;not null;size:255" json:"slug"`
	PriceMinor int64     `gorm:"not null" json:"price_minor"` // minor units of Currency
	Currency   string    `gorm:"not null;size:3" json:"currency"`
	IsActive   bool      `gorm:"not null" json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName specifies the table name for Product
func (Product) TableName() string {
	return "products"
}

// BeforeCreate assigns the primary key and normalizes the currency code
func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Currency = strings.ToLower(p.Currency)
	return nil
}
