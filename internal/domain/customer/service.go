// internal/domain/customer/service.go
package customer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"
	"github.com/your-org/marketplace-billing/internal/config"
	"github.com/your-org/marketplace-billing/internal/pkg/gateway"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service resolves local users to gateway customers
type Service struct {
	db      *gorm.DB
	gateway gateway.Gateway
	verify  bool
	log     logrus.FieldLogger
}

// NewService creates a new customer service
func NewService(db *gorm.DB, gw gateway.Gateway, cfg *config.Config, log logrus.FieldLogger) *Service {
	return &Service{
		db:      db,
		gateway: gw,
		verify:  cfg.External.Stripe.VerifyCustomer,
		log:     log,
	}
}

// Resolve returns the gateway customer id for a user. A stored id is reused
// unless the gateway reports it missing. Otherwise the gateway is searched by
// the user id marker, then by email, and finally a customer is created.
// Each call writes the mapping at most once.
func (s *Service) Resolve(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	log := s.log.WithField("user_id", userID)

	stored, err := s.Lookup(ctx, userID)
	if err != nil {
		return "", err
	}

	if stored != "" {
		if !s.verify {
			return stored, nil
		}
		_, err := s.gateway.GetCustomer(ctx, stored)
		switch {
		case err == nil:
			return stored, nil
		case gateway.IsNotFound(err):
			log.WithField("stripe_customer_id", stored).Warn("Stored customer missing in gateway, discarding mapping")
		default:
			log.WithError(err).Warn("Could not verify stored customer, reusing it")
			return stored, nil
		}
	}

	found, err := s.search(ctx, userID, email)
	if err != nil {
		return "", err
	}
	if found != "" {
		if err := s.save(ctx, userID, found); err != nil {
			return "", err
		}
		return found, nil
	}

	created, err := s.gateway.CreateCustomer(ctx, strings.TrimSpace(email), userID.String())
	if err != nil {
		return "", fmt.Errorf("failed to create gateway customer: %w", err)
	}
	log.WithField("stripe_customer_id", created.ID).Info("Created gateway customer")

	if err := s.save(ctx, userID, created.ID); err != nil {
		return "", err
	}
	return created.ID, nil
}

// search looks for an existing gateway customer by marker, then by email. A
// customer found by email is only adopted when it is not tagged with another user.
func (s *Service) search(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	byMarker, err := s.gateway.FindCustomerByUserID(ctx, userID.String())
	if err != nil {
		return "", fmt.Errorf("failed to search gateway customers: %w", err)
	}
	if byMarker != nil {
		return byMarker.ID, nil
	}

	email = strings.TrimSpace(email)
	if email == "" {
		return "", nil
	}
	byEmail, err := s.gateway.FindCustomerByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("failed to look up gateway customer by email: %w", err)
	}
	if byEmail == nil || !ownedBy(byEmail, userID) {
		return "", nil
	}
	return byEmail.ID, nil
}

func ownedBy(c *stripe.Customer, userID uuid.UUID) bool {
	tagged := c.Metadata[gateway.MetaUserID]
	return tagged == "" || tagged == userID.String()
}

// Lookup returns the stored gateway customer id, or "" when none is stored
func (s *Service) Lookup(ctx context.Context, userID uuid.UUID) (string, error) {
	var m Mapping
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to load customer mapping: %w", err)
	}
	return m.StripeCustomerID, nil
}

// UserIDForCustomer returns the user mapped to a gateway customer
func (s *Service) UserIDForCustomer(ctx context.Context, customerID string) (uuid.UUID, bool, error) {
	if customerID == "" {
		return uuid.Nil, false, nil
	}
	var m Mapping
	err := s.db.WithContext(ctx).
		Where("stripe_customer_id = ?", customerID).
		Order("updated_at DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("failed to load customer mapping: %w", err)
	}
	return m.UserID, true, nil
}

// Remember stores a mapping observed in a gateway event when the user has none
func (s *Service) Remember(ctx context.Context, userID uuid.UUID, customerID string) error {
	if customerID == "" {
		return nil
	}
	m := Mapping{UserID: userID, StripeCustomerID: customerID}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to store customer mapping: %w", err)
	}
	return nil
}

// save upserts the mapping, replacing a stale id in the same statement
func (s *Service) save(ctx context.Context, userID uuid.UUID, customerID string) error {
	m := Mapping{UserID: userID, StripeCustomerID: customerID}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"stripe_customer_id", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("failed to store customer mapping: %w", err)
	}
	return nil
}
