// internal/domain/cart/entity.go
package cart

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CartStatus represents the cart lifecycle state
type CartStatus string

const (
	CartStatusActive  CartStatus = "active"
	CartStatusOrdered CartStatus = "ordered"
)

// MaxItemQuantity caps a single cart line
const MaxItemQuantity = 99

// ActiveCartIndexSQL enforces one active cart per user where the store supports partial indexes
const ActiveCartIndexSQL = "CREATE UNIQUE INDEX IF NOT EXISTS idx_carts_one_active_per_user ON carts(user_id) WHERE status = 'active'"

// Cart is a user's shopping cart. Carts are never deleted; an ordered cart is replaced by a new one.
type Cart struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	Status    CartStatus `gorm:"not null;size:20;index" json:"status"`
	Currency  string     `gorm:"size:3" json:"currency"` // set by the first item
	OrderedAt *time.Time `json:"ordered_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	Items []CartItem `gorm:"foreignKey:CartID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"items,omitempty"`
}

// CartItem is a cart line with the price snapshotted when the product was first added
type CartItem struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CartID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_cart_items_cart_product" json:"cart_id"`
	ProductID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_cart_items_cart_product" json:"product_id"`
	Title          string    `gorm:"not null;size:255" json:"title"`
	Quantity       int       `gorm:"not null" json:"quantity"`
	UnitPriceMinor int64     `gorm:"not null" json:"unit_price_minor"`
	Currency       string    `gorm:"not null;size:3" json:"currency"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName specifies the table name for Cart
func (Cart) TableName() string {
	return "carts"
}

// TableName specifies the table name for CartItem
func (CartItem) TableName() string {
	return "cart_items"
}

// BeforeCreate assigns the primary key
func (c *Cart) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// BeforeCreate assigns the primary key
func (i *CartItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// LineTotal returns quantity times unit price
func (i CartItem) LineTotal() int64 {
	return int64(i.Quantity) * i.UnitPriceMinor
}
