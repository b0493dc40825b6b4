// internal/domain/subscription/service.go
package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrPlanNotFound is returned when no plan matches the id, code or gateway reference
var ErrPlanNotFound = errors.New("subscription plan not found")

// Service handles plans and subscription rows
type Service struct {
	db *gorm.DB
}

// NewService creates a new subscription service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// ReconcileInput is one observed gateway state for a (user, plan) pair
type ReconcileInput struct {
	UserID               uuid.UUID
	Plan                 *Plan
	RawStatus            string
	StripeSubscriptionID string
	StripeCustomerID     string
}

// ReconcileResult describes what Reconcile wrote
type ReconcileResult struct {
	Subscription *Subscription
	Previous     Status // empty when the row was created
	Changed      bool
	Canceled     int64 // other live rows of the same target forced to canceled
	Stale        bool  // ignored: a cancel for a subscription the row no longer tracks
}

// GetPlan looks a plan up by id or by code
func (s *Service) GetPlan(ctx context.Context, idOrCode string) (*Plan, error) {
	query := s.db.WithContext(ctx)
	if id, err := uuid.Parse(idOrCode); err == nil {
		query = query.Where("id = ?", id)
	} else {
		query = query.Where("code = ?", idOrCode)
	}

	var plan Plan
	if err := query.First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	return &plan, nil
}

// GetPlanByStripeRef finds the plan for a gateway price, falling back to the product
func (s *Service) GetPlanByStripeRef(ctx context.Context, productID, priceID string) (*Plan, error) {
	var plan Plan
	if priceID != "" {
		err := s.db.WithContext(ctx).Where("stripe_price_id = ?", priceID).First(&plan).Error
		if err == nil {
			return &plan, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to load plan by price: %w", err)
		}
	}
	if productID != "" {
		var byProduct Plan
		err := s.db.WithContext(ctx).Where("stripe_product_id = ?", productID).Order("created_at ASC").First(&byProduct).Error
		if err == nil {
			return &byProduct, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to load plan by product: %w", err)
		}
	}
	return nil, ErrPlanNotFound
}

// Reconcile upserts the (user, plan) row with the mapped status. When the
// incoming status is live, every other live row of the same plan target is
// canceled in the same transaction.
func (s *Service) Reconcile(ctx context.Context, in ReconcileInput) (*ReconcileResult, error) {
	if in.Plan == nil {
		return nil, ErrPlanNotFound
	}
	status := NormalizeStatus(in.RawStatus)
	result := &ReconcileResult{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Subscription
		err := tx.Where("user_id = ? AND plan_id = ?", in.UserID, in.Plan.ID).First(&existing).Error
		switch {
		case err == nil:
			result.Previous = existing.Status
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return fmt.Errorf("failed to load subscription: %w", err)
		}

		// A cancel for a replaced gateway subscription must not end the live one
		if result.Previous != "" && !IsLive(status) && IsLive(existing.Status) &&
			in.StripeSubscriptionID != "" && existing.StripeSubscriptionID != nil &&
			*existing.StripeSubscriptionID != in.StripeSubscriptionID {
			result.Stale = true
			result.Subscription = &existing
			return nil
		}

		now := time.Now().UTC()

		if IsLive(status) {
			plansOfTarget := tx.Model(&Plan{}).Select("id").Where("target = ?", in.Plan.Target)
			res := tx.Model(&Subscription{}).
				Where("user_id = ? AND plan_id <> ? AND status IN ? AND plan_id IN (?)",
					in.UserID, in.Plan.ID, LiveStatuses, plansOfTarget).
				Updates(map[string]interface{}{
					"status":      StatusCanceled,
					"canceled_at": now,
					"updated_at":  now,
				})
			if res.Error != nil {
				return fmt.Errorf("failed to cancel competing subscriptions: %w", res.Error)
			}
			result.Canceled = res.RowsAffected
		}

		row := Subscription{
			UserID:               in.UserID,
			PlanID:               in.Plan.ID,
			Status:               status,
			StripeSubscriptionID: optional(in.StripeSubscriptionID),
			StripeCustomerID:     optional(in.StripeCustomerID),
		}
		if status == StatusCanceled {
			row.CanceledAt = &now
		}

		updates := clause.AssignmentColumns([]string{"status", "canceled_at", "updated_at"})
		updates = append(updates, clause.Assignments(map[string]interface{}{
			"stripe_subscription_id": gorm.Expr("COALESCE(excluded.stripe_subscription_id, subscriptions.stripe_subscription_id)"),
			"stripe_customer_id":     gorm.Expr("COALESCE(excluded.stripe_customer_id, subscriptions.stripe_customer_id)"),
		})...)

		if err := tx.Omit("Plan").Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "plan_id"}},
			DoUpdates: updates,
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to upsert subscription: %w", err)
		}

		var saved Subscription
		if err := tx.Preload("Plan").
			Where("user_id = ? AND plan_id = ?", in.UserID, in.Plan.ID).
			First(&saved).Error; err != nil {
			return fmt.Errorf("failed to reload subscription: %w", err)
		}
		result.Subscription = &saved
		result.Changed = result.Previous != saved.Status || result.Canceled > 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SetStatusByStripeID moves the row tracking a gateway subscription to status,
// only when its current status is one of from. It returns nil when no row
// tracks the subscription.
func (s *Service) SetStatusByStripeID(ctx context.Context, stripeSubscriptionID string, status Status, from []Status) (*Subscription, bool, error) {
	var sub Subscription
	err := s.db.WithContext(ctx).Preload("Plan").
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		Order("updated_at DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load subscription: %w", err)
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": now,
	}
	if status == StatusCanceled {
		updates["canceled_at"] = now
	}

	res := s.db.WithContext(ctx).Model(&Subscription{}).
		Where("id = ? AND status IN ? AND status <> ?", sub.ID, from, status).
		Updates(updates)
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to update subscription status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &sub, false, nil
	}
	sub.Status = status
	return &sub, true, nil
}

// GetByStripeID returns the row tracking a gateway subscription, or nil
func (s *Service) GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*Subscription, error) {
	var sub Subscription
	err := s.db.WithContext(ctx).Preload("Plan").
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &sub, nil
}

// LiveForUser returns the user's active and past_due subscriptions with plans
func (s *Service) LiveForUser(ctx context.Context, userID uuid.UUID) ([]Subscription, error) {
	var subs []Subscription
	if err := s.db.WithContext(ctx).Preload("Plan").
		Where("user_id = ? AND status IN ?", userID, LiveStatuses).
		Order("updated_at DESC").
		Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to load subscriptions: %w", err)
	}
	return subs, nil
}

// LiveByTarget groups live subscriptions by plan target
func LiveByTarget(subs []Subscription) map[PlanTarget]Subscription {
	out := make(map[PlanTarget]Subscription, len(subs))
	for _, sub := range subs {
		if sub.Plan == nil {
			continue
		}
		if _, ok := out[sub.Plan.Target]; !ok {
			out[sub.Plan.Target] = sub
		}
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
