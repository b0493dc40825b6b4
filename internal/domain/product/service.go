// internal/domain/product/service.go
package product

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrProductNotFound is returned for unknown or inactive products
var ErrProductNotFound = errors.New("product not found")

// Service handles catalog lookups
type Service struct {
	db *gorm.DB
}

// NewService creates a new product service
func NewService(db *gorm.DB) *Service {
	return &Service{
		db: db,
	}
}

// GetActive returns an active product by id
func (s *Service) GetActive(ctx context.Context, id uuid.UUID) (*Product, error) {
	var p Product
	err := s.db.WithContext(ctx).Where("id = ? AND is_active = ?", id, true).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to load product: %w", err)
	}
	return &p, nil
}

// ActiveByIDs returns the active products among ids, keyed by id
func (s *Service) ActiveByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error) {
	out := make(map[uuid.UUID]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var products []Product
	if err := s.db.WithContext(ctx).Where("id IN ? AND is_active = ?", ids, true).Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}
