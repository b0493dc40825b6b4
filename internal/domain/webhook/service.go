// internal/domain/webhook/service.go
package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"github.com/your-org/marketplace-billing/internal/domain/reconcile"
)

var (
	// ErrMissingSecret means the endpoint is not configured to verify deliveries
	ErrMissingSecret = errors.New("webhook signing secret not configured")
	// ErrInvalidSignature means the payload could not be authenticated
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Status values reported back to the gateway
const (
	StatusDuplicate = "duplicate"
)

// Ledger is the idempotency store used by the ingress
type Ledger interface {
	Claim(ctx context.Context, eventID, eventType string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, outcome string) error
	MarkError(ctx context.Context, eventID string, cause error) error
}

// Dispatcher handles a verified, claimed event
type Dispatcher interface {
	Dispatch(ctx context.Context, evt *stripe.Event) (reconcile.Outcome, error)
}

// Result is the acknowledgement for a delivery
type Result struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Status    string `json:"status"`
}

// Service verifies deliveries and runs them through the ledger exactly once
type Service struct {
	secret     string
	ledger     Ledger
	dispatcher Dispatcher
	log        logrus.FieldLogger
}

// NewService creates a new webhook service
func NewService(secret string, ledger Ledger, dispatcher Dispatcher, log logrus.FieldLogger) *Service {
	return &Service{
		secret:     secret,
		ledger:     ledger,
		dispatcher: dispatcher,
		log:        log,
	}
}

// Configured reports whether a signing secret is set
func (s *Service) Configured() bool {
	return s.secret != ""
}

// Handle verifies, claims and dispatches one delivery. Nothing is written to
// the ledger for a delivery that fails verification. A dispatch error marks
// the event errored and is returned so the gateway redelivers.
func (s *Service) Handle(ctx context.Context, payload []byte, signature string) (*Result, error) {
	if !s.Configured() {
		return nil, ErrMissingSecret
	}

	evt, err := stripewebhook.ConstructEventWithOptions(payload, signature, s.secret, stripewebhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	log := s.log.WithFields(logrus.Fields{
		"event_id":   evt.ID,
		"event_type": evt.Type,
	})
	result := &Result{EventID: evt.ID, EventType: string(evt.Type)}

	claimed, err := s.ledger.Claim(ctx, evt.ID, string(evt.Type))
	if err != nil {
		return nil, err
	}
	if !claimed {
		log.Info("Duplicate webhook event, already processed")
		result.Status = StatusDuplicate
		return result, nil
	}

	outcome, err := s.dispatcher.Dispatch(ctx, &evt)
	if err != nil {
		log.WithError(err).Error("Webhook event handling failed")
		// The ledger write must land even if the request context is gone
		if markErr := s.ledger.MarkError(context.WithoutCancel(ctx), evt.ID, err); markErr != nil {
			log.WithError(markErr).Error("Failed to record webhook failure")
		}
		return nil, err
	}

	if err := s.ledger.MarkProcessed(context.WithoutCancel(ctx), evt.ID, string(outcome)); err != nil {
		// Left in processing; the redelivery reclaims it and the reconcilers converge
		return nil, err
	}

	log.WithField("outcome", outcome).Info("Webhook event processed")
	result.Status = string(outcome)
	return result, nil
}
