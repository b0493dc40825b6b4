// internal/domain/cart/service.go
package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/your-org/marketplace-billing/internal/domain/product"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrProductNotFound is returned when adding an unknown or inactive product
	ErrProductNotFound = errors.New("product not found")
	// ErrCurrencyMismatch is returned when a product's currency differs from the cart's
	ErrCurrencyMismatch = errors.New("product currency does not match cart currency")
	// ErrInvalidOperation is returned for an unknown item operation
	ErrInvalidOperation = errors.New("op must be add or set")
)

// Item operations
const (
	OpAdd = "add"
	OpSet = "set"
)

// Service handles cart business logic
type Service struct {
	db       *gorm.DB
	products *product.Service
}

// NewService creates a new cart service
func NewService(db *gorm.DB, products *product.Service) *Service {
	return &Service{
		db:       db,
		products: products,
	}
}

// CartTotals summarizes the cart lines
type CartTotals struct {
	ItemCount     int    `json:"item_count"`
	TotalQuantity int    `json:"total_quantity"`
	SubtotalMinor int64  `json:"subtotal_minor"`
	Currency      string `json:"currency"`
}

// CartResponse represents a shopping cart with items and summary
type CartResponse struct {
	Cart   *Cart      `json:"cart"`
	Items  []CartItem `json:"items"`
	Totals CartTotals `json:"totals"`
}

// AddItemRequest represents an add-to-cart or set-quantity request
type AddItemRequest struct {
	ProductID uuid.UUID `json:"product_id" binding:"required"`
	Quantity  int       `json:"quantity"`
	Op        string    `json:"op"`
}

// GetOrCreateActive returns the user's active cart, creating it if needed
func (s *Service) GetOrCreateActive(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	c, err := s.findActive(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if c != nil {
		return c, nil
	}
	return s.createActive(ctx, userID)
}

// findActive returns the oldest active cart or nil
func (s *Service) findActive(ctx context.Context, db *gorm.DB, userID uuid.UUID) (*Cart, error) {
	var c Cart
	err := db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, CartStatusActive).
		Order("created_at ASC").
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load active cart: %w", err)
	}
	return &c, nil
}

// createActive inserts an active cart. Losing the insert race to a concurrent
// request is not an error: the winner's cart is re-read and returned.
func (s *Service) createActive(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	c := Cart{
		UserID: userID,
		Status: CartStatusActive,
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&c)
	if result.Error != nil {
		if !errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("failed to create cart: %w", result.Error)
		}
	} else if result.RowsAffected == 1 {
		return &c, nil
	}

	existing, err := s.findActive(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("active cart for user %s vanished after conflict", userID)
	}
	return existing, nil
}

// GetCart retrieves the active cart with its items
func (s *Service) GetCart(ctx context.Context, userID uuid.UUID) (*CartResponse, error) {
	c, err := s.GetOrCreateActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.buildResponse(ctx, c)
}

// ActiveItems returns the active cart and its lines for checkout
func (s *Service) ActiveItems(ctx context.Context, userID uuid.UUID) (*Cart, []CartItem, error) {
	c, err := s.GetOrCreateActive(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.items(ctx, c.ID)
	if err != nil {
		return nil, nil, err
	}
	return c, items, nil
}

// AddItem adds to (op=add) or overwrites (op=set) the quantity of a product.
// A resulting quantity of zero or less removes the line.
func (s *Service) AddItem(ctx context.Context, userID uuid.UUID, req *AddItemRequest) (*CartResponse, error) {
	op := req.Op
	if op == "" {
		op = OpAdd
	}
	if op != OpAdd && op != OpSet {
		return nil, ErrInvalidOperation
	}

	c, err := s.GetOrCreateActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	existing, err := s.findItem(ctx, c.ID, req.ProductID)
	if err != nil {
		return nil, err
	}

	next := req.Quantity
	if op == OpAdd && existing != nil {
		next += existing.Quantity
	}

	if next <= 0 {
		if err := s.deleteItem(ctx, c.ID, req.ProductID); err != nil {
			return nil, err
		}
		return s.buildResponse(ctx, c)
	}
	if next > MaxItemQuantity {
		next = MaxItemQuantity
	}

	// Price and currency are snapshotted once, on first add
	item := CartItem{CartID: c.ID, ProductID: req.ProductID, Quantity: next}
	if existing != nil {
		item.Title = existing.Title
		item.UnitPriceMinor = existing.UnitPriceMinor
		item.Currency = existing.Currency
	} else {
		p, err := s.products.GetActive(ctx, req.ProductID)
		if err != nil {
			if errors.Is(err, product.ErrProductNotFound) {
				return nil, ErrProductNotFound
			}
			return nil, err
		}
		item.Title = p.Name
		item.UnitPriceMinor = p.PriceMinor
		item.Currency = strings.ToLower(p.Currency)
	}

	if c.Currency != "" && c.Currency != item.Currency {
		return nil, fmt.Errorf("%w: cart=%s product=%s", ErrCurrencyMismatch, c.Currency, item.Currency)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cart_id"}, {Name: "product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"quantity", "updated_at"}),
		}).Create(&item).Error; err != nil {
			return fmt.Errorf("failed to save cart item: %w", err)
		}

		if c.Currency == "" {
			if err := tx.Model(&Cart{}).Where("id = ?", c.ID).Update("currency", item.Currency).Error; err != nil {
				return fmt.Errorf("failed to set cart currency: %w", err)
			}
			c.Currency = item.Currency
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.buildResponse(ctx, c)
}

// RemoveItem deletes a product line from the active cart
func (s *Service) RemoveItem(ctx context.Context, userID uuid.UUID, productID uuid.UUID) (*CartResponse, error) {
	c, err := s.GetOrCreateActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.deleteItem(ctx, c.ID, productID); err != nil {
		return nil, err
	}
	return s.buildResponse(ctx, c)
}

// CloseActiveCarts marks every active cart of the user as ordered and clears
// their items. It must run inside the caller's transaction. Running it again
// finds nothing to close.
func (s *Service) CloseActiveCarts(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int64, error) {
	var ids []uuid.UUID
	if err := tx.WithContext(ctx).Model(&Cart{}).
		Where("user_id = ? AND status = ?", userID, CartStatusActive).
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("failed to list active carts: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := tx.WithContext(ctx).Where("cart_id IN ?", ids).Delete(&CartItem{}).Error; err != nil {
		return 0, fmt.Errorf("failed to clear cart items: %w", err)
	}

	now := time.Now().UTC()
	result := tx.WithContext(ctx).Model(&Cart{}).
		Where("id IN ? AND status = ?", ids, CartStatusActive).
		Updates(map[string]interface{}{
			"status":     CartStatusOrdered,
			"ordered_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to close carts: %w", result.Error)
	}

	return result.RowsAffected, nil
}

func (s *Service) findItem(ctx context.Context, cartID, productID uuid.UUID) (*CartItem, error) {
	var item CartItem
	err := s.db.WithContext(ctx).Where("cart_id = ? AND product_id = ?", cartID, productID).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load cart item: %w", err)
	}
	return &item, nil
}

func (s *Service) deleteItem(ctx context.Context, cartID, productID uuid.UUID) error {
	if err := s.db.WithContext(ctx).Where("cart_id = ? AND product_id = ?", cartID, productID).Delete(&CartItem{}).Error; err != nil {
		return fmt.Errorf("failed to remove cart item: %w", err)
	}
	return nil
}

func (s *Service) items(ctx context.Context, cartID uuid.UUID) ([]CartItem, error) {
	var items []CartItem
	if err := s.db.WithContext(ctx).Where("cart_id = ?", cartID).Order("created_at ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to load cart items: %w", err)
	}
	return items, nil
}

func (s *Service) buildResponse(ctx context.Context, c *Cart) (*CartResponse, error) {
	items, err := s.items(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	return &CartResponse{
		Cart:   c,
		Items:  items,
		Totals: calculateTotals(c, items),
	}, nil
}

func calculateTotals(c *Cart, items []CartItem) CartTotals {
	totals := CartTotals{
		ItemCount: len(items),
		Currency:  c.Currency,
	}
	for _, item := range items {
		totals.TotalQuantity += item.Quantity
		totals.SubtotalMinor += item.LineTotal()
	}
	return totals
}
