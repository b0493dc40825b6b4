// internal/domain/order/service.go
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrOrderNotFound is returned when no order matches the lookup
	ErrOrderNotFound = errors.New("order not found")
	// ErrNotYetPaid is returned when a refund reaches an order still awaiting payment
	ErrNotYetPaid = errors.New("order not paid yet")
	// ErrNotRefundable is returned for orders that never took a payment
	ErrNotRefundable = errors.New("order cannot be refunded")
)

// Service handles order persistence and guarded status changes
type Service struct {
	db *gorm.DB
}

// NewService creates a new order service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// OrderListRequest represents order list query parameters
type OrderListRequest struct {
	Page   int         `form:"page,default=1"`
	Limit  int         `form:"limit,default=20"`
	Status OrderStatus `form:"status"`
}

// OrderResponse represents order response with pagination
type OrderResponse struct {
	Orders     []Order    `json:"orders"`
	Pagination Pagination `json:"pagination"`
}

// Pagination represents pagination information
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
	HasPrev    bool  `json:"has_prev"`
}

// Refs are the gateway identifiers recorded on an order
type Refs struct {
	SessionID       string
	PaymentIntentID string
	ChargeID        string
}

// conn returns tx when the caller runs inside a transaction
func (s *Service) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		tx = s.db
	}
	return tx.WithContext(ctx)
}

// CreatePending stores a pending order with its items before a checkout session exists
func (s *Service) CreatePending(ctx context.Context, tx *gorm.DB, o *Order) error {
	o.Status = OrderStatusPending
	if err := s.conn(ctx, tx).Create(o).Error; err != nil {
		return fmt.Errorf("failed to create pending order: %w", err)
	}
	return nil
}

// InsertIfAbsent inserts o keyed by its checkout session id. It reports false,
// and writes no items, when an order for that session already exists.
func (s *Service) InsertIfAbsent(ctx context.Context, tx *gorm.DB, o *Order) (bool, error) {
	db := s.conn(ctx, tx)

	items := o.Items
	result := db.Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stripe_checkout_session_id"}},
			DoNothing: true,
		}).
		Create(o)
	if result.Error != nil {
		return false, fmt.Errorf("failed to insert order: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	if len(items) > 0 {
		for i := range items {
			items[i].OrderID = o.ID
		}
		if err := db.Create(&items).Error; err != nil {
			return false, fmt.Errorf("failed to insert order items: %w", err)
		}
		o.Items = items
	}

	if err := db.Create(&OrderStatusHistory{OrderID: o.ID, ToStatus: o.Status, Source: derefString(o.StripeCheckoutSessionID)}).Error; err != nil {
		return false, fmt.Errorf("failed to record order status: %w", err)
	}
	return true, nil
}

// AttachSession records the checkout session opened for a pending order
func (s *Service) AttachSession(ctx context.Context, orderID uuid.UUID, sessionID string) error {
	result := s.db.WithContext(ctx).Model(&Order{}).
		Where("id = ? AND stripe_checkout_session_id IS NULL", orderID).
		Updates(map[string]interface{}{
			"stripe_checkout_session_id": sessionID,
			"updated_at":                 time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to attach session to order: %w", result.Error)
	}
	return nil
}

// GetBySessionID retrieves the order created for a checkout session
func (s *Service) GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID string) (*Order, error) {
	return s.first(s.conn(ctx, tx).Where("stripe_checkout_session_id = ?", sessionID))
}

// GetByID retrieves a single order by ID
func (s *Service) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*Order, error) {
	return s.first(s.conn(ctx, tx).Where("id = ?", id))
}

// FindForRefund correlates a refund with an order, by payment intent first and
// by stored charge id when the payment intent is absent or unknown.
func (s *Service) FindForRefund(ctx context.Context, paymentIntentID, chargeID string) (*Order, error) {
	if paymentIntentID != "" {
		o, err := s.first(s.db.WithContext(ctx).Where("stripe_payment_intent_id = ?", paymentIntentID))
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
	}
	if chargeID != "" {
		return s.first(s.db.WithContext(ctx).Where("stripe_charge_id = ?", chargeID))
	}
	return nil, ErrOrderNotFound
}

// Transition moves an order to status to when the state machine allows it.
// It reports false, without error, when the move is not allowed from the
// current status or the row changed underneath.
func (s *Service) Transition(ctx context.Context, tx *gorm.DB, id uuid.UUID, to OrderStatus, source string) (bool, error) {
	db := s.conn(ctx, tx)

	var current Order
	if err := db.Select("id", "status").Where("id = ?", id).First(&current).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrOrderNotFound
		}
		return false, fmt.Errorf("failed to load order: %w", err)
	}
	if !CanTransition(current.Status, to) {
		return false, nil
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": now,
	}
	switch to {
	case OrderStatusPaid:
		updates["paid_at"] = now
	case OrderStatusFailed:
		updates["failed_at"] = now
	case OrderStatusCanceled:
		updates["canceled_at"] = now
	case OrderStatusRefunded:
		updates["refunded_at"] = now
	}

	// Compare-and-set on the status that was validated
	result := db.Model(&Order{}).
		Where("id = ? AND status = ?", id, current.Status).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update order status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	if err := db.Create(&OrderStatusHistory{OrderID: id, FromStatus: current.Status, ToStatus: to, Source: source}).Error; err != nil {
		return false, fmt.Errorf("failed to record order status: %w", err)
	}
	return true, nil
}

// Backfill fills gateway identifiers that are still empty. Present values are
// never overwritten.
func (s *Service) Backfill(ctx context.Context, tx *gorm.DB, id uuid.UUID, refs Refs) error {
	db := s.conn(ctx, tx)

	columns := map[string]string{
		"stripe_checkout_session_id": refs.SessionID,
		"stripe_payment_intent_id":   refs.PaymentIntentID,
		"stripe_charge_id":           refs.ChargeID,
	}
	for column, value := range columns {
		if value == "" {
			continue
		}
		if err := db.Model(&Order{}).
			Where("id = ? AND "+column+" IS NULL", id).
			Update(column, value).Error; err != nil {
			return fmt.Errorf("failed to backfill %s: %w", column, err)
		}
	}
	return nil
}

// Amounts are the figures the gateway actually charged
type Amounts struct {
	Currency      string
	SubtotalMinor int64
	TotalMinor    int64
}

// SettleAmounts overwrites the cart-time figures of a paid order with what
// the gateway charged. Discounts and shipping make the two differ.
func (s *Service) SettleAmounts(ctx context.Context, tx *gorm.DB, id uuid.UUID, amounts Amounts) error {
	if amounts.Currency == "" {
		return nil
	}
	err := s.conn(ctx, tx).Model(&Order{}).
		Where("id = ? AND status = ?", id, OrderStatusPaid).
		Updates(map[string]interface{}{
			"currency":       amounts.Currency,
			"subtotal_minor": amounts.SubtotalMinor,
			"total_minor":    amounts.TotalMinor,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to settle order amounts: %w", err)
	}
	return nil
}

// ApplyRefund records a cumulative refunded amount. It only ever raises the
// stored amount, so replaying the same or an older figure changes nothing.
// A pending order yields ErrNotYetPaid; failed and canceled orders yield
// ErrNotRefundable.
func (s *Service) ApplyRefund(ctx context.Context, id uuid.UUID, cumulative int64, source string) (bool, *Order, error) {
	var applied bool
	var updated *Order

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := s.GetByID(ctx, tx, id)
		if err != nil {
			return err
		}
		switch o.Status {
		case OrderStatusPending:
			return ErrNotYetPaid
		case OrderStatusFailed, OrderStatusCanceled:
			return ErrNotRefundable
		}

		status := RefundStatus(cumulative, o.TotalMinor)
		if status == "" || !CanTransition(o.Status, status) {
			updated = o
			return nil
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{
			"status":         status,
			"refunded_minor": cumulative,
			"updated_at":     now,
		}
		if status == OrderStatusRefunded {
			updates["refunded_at"] = now
		}

		result := tx.Model(&Order{}).
			Where("id = ? AND status IN ? AND refunded_minor < ?",
				id, Predecessors(status), cumulative).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("failed to apply refund: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			updated = o
			return nil
		}

		if err := tx.Create(&OrderStatusHistory{OrderID: id, FromStatus: o.Status, ToStatus: status, Source: source}).Error; err != nil {
			return fmt.Errorf("failed to record order status: %w", err)
		}

		applied = true
		updated, err = s.GetByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return false, nil, err
	}
	return applied, updated, nil
}

// ListForUser retrieves a user's orders, newest first, with pagination
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, req *OrderListRequest) (*OrderResponse, error) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.Limit < 1 || req.Limit > 100 {
		req.Limit = 20
	}

	query := s.db.WithContext(ctx).Model(&Order{}).Where("user_id = ?", userID)
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}

	var orders []Order
	offset := (req.Page - 1) * req.Limit
	if err := query.Preload("Items").
		Order("created_at DESC").
		Offset(offset).Limit(req.Limit).
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to retrieve orders: %w", err)
	}

	totalPages := int((total + int64(req.Limit) - 1) / int64(req.Limit))
	return &OrderResponse{
		Orders: orders,
		Pagination: Pagination{
			Page:       req.Page,
			Limit:      req.Limit,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    req.Page < totalPages,
			HasPrev:    req.Page > 1,
		},
	}, nil
}

// GetForUser retrieves one of the user's orders
func (s *Service) GetForUser(ctx context.Context, userID, id uuid.UUID) (*Order, error) {
	return s.first(s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID))
}

// LatestForUser retrieves the user's most recent order
func (s *Service) LatestForUser(ctx context.Context, userID uuid.UUID) (*Order, error) {
	return s.first(s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC"))
}

// GetForUserBySession retrieves the user's order for a checkout session
func (s *Service) GetForUserBySession(ctx context.Context, userID uuid.UUID, sessionID string) (*Order, error) {
	return s.first(s.db.WithContext(ctx).Where("stripe_checkout_session_id = ? AND user_id = ?", sessionID, userID))
}

func (s *Service) first(query *gorm.DB) (*Order, error) {
	var o Order
	err := query.
		Preload("Items").
		Preload("StatusHistory", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to retrieve order: %w", err)
	}
	return &o, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
