// internal/domain/reconcile/refunds.go
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"
	"github.com/your-org/marketplace-billing/internal/domain/order"
	"github.com/your-org/marketplace-billing/internal/pkg/gateway"
	"github.com/your-org/marketplace-billing/internal/pkg/notify"
)

// RefundReconciler writes gateway refund totals onto orders
type RefundReconciler struct {
	gateway  gateway.Gateway
	orders   *order.Service
	notifier notify.Publisher
	log      logrus.FieldLogger
}

// NewRefundReconciler creates a new refund reconciler
func NewRefundReconciler(gw gateway.Gateway, orders *order.Service, notifier notify.Publisher, log logrus.FieldLogger) *RefundReconciler {
	return &RefundReconciler{
		gateway:  gw,
		orders:   orders,
		notifier: notifier,
		log:      log,
	}
}

// RefundRef is what a charge or refund event says about the refunded payment
type RefundRef struct {
	ChargeID        string
	PaymentIntentID string
}

// ApplyRefund re-reads the charge and writes its cumulative refunded amount to
// the matching order. The event amount is never trusted, so replays and
// out-of-order deliveries converge on the gateway's figure.
func (r *RefundReconciler) ApplyRefund(ctx context.Context, ref RefundRef, source string) (Outcome, error) {
	log := r.log.WithFields(logrus.Fields{
		"charge_id":         ref.ChargeID,
		"payment_intent_id": ref.PaymentIntentID,
		"event_id":          source,
	})

	chargeID := ref.ChargeID
	if chargeID == "" && ref.PaymentIntentID != "" {
		pi, err := r.gateway.GetPaymentIntent(ctx, ref.PaymentIntentID)
		if err != nil {
			if gateway.IsNotFound(err) {
				log.Warn("Payment intent not found in gateway")
				return OutcomeUnresolvable, nil
			}
			return "", fmt.Errorf("failed to retrieve payment intent: %w", err)
		}
		if pi.LatestCharge != nil {
			chargeID = pi.LatestCharge.ID
		}
	}
	if chargeID == "" {
		log.Warn("Refund event carries no charge reference")
		return OutcomeUnresolvable, nil
	}

	ch, err := r.gateway.GetCharge(ctx, chargeID)
	if err != nil {
		if gateway.IsNotFound(err) {
			log.Warn("Charge not found in gateway")
			return OutcomeUnresolvable, nil
		}
		// Left for the ledger to retry
		return "", fmt.Errorf("failed to retrieve charge: %w", err)
	}

	paymentIntentID := ref.PaymentIntentID
	if ch.PaymentIntent != nil && ch.PaymentIntent.ID != "" {
		paymentIntentID = ch.PaymentIntent.ID
	}

	o, err := r.findOrder(ctx, ch, paymentIntentID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			log.Warn("No local order references the refunded charge, acknowledging")
			return OutcomeUnresolvable, nil
		}
		return "", err
	}
	log = log.WithField("order_id", o.ID)

	if err := r.orders.Backfill(ctx, nil, o.ID, order.Refs{PaymentIntentID: paymentIntentID, ChargeID: ch.ID}); err != nil {
		return "", err
	}

	applied, updated, err := r.orders.ApplyRefund(ctx, o.ID, ch.AmountRefunded, source)
	switch {
	case errors.Is(err, order.ErrNotYetPaid):
		// Left for the ledger to retry once the checkout event lands
		log.Warn("Refund arrived before the order was paid")
		return "", fmt.Errorf("refund for order %s: %w", o.ID, err)
	case errors.Is(err, order.ErrNotRefundable):
		log.WithField("status", o.Status).Warn("Refunded charge belongs to an order that never settled, acknowledging")
		return OutcomeUnresolvable, nil
	case err != nil:
		return "", err
	}

	log.WithFields(logrus.Fields{
		"amount_refunded": ch.AmountRefunded,
		"status":          updated.Status,
		"applied":         applied,
	}).Info("Refund reconciled")

	if applied {
		r.notifier.Publish(notify.Event{
			Kind:        notify.EventOrderRefunded,
			UserID:      updated.UserID,
			OrderID:     updated.ID,
			Status:      string(updated.Status),
			AmountMinor: updated.RefundedMinor,
			Currency:    updated.Currency,
			Reference:   ch.ID,
			OccurredAt:  time.Now().UTC(),
		})
	}
	return OutcomeHandled, nil
}

// findOrder correlates by payment intent, then stored charge id, then the
// order id checkout stamped on the payment intent. The last covers refunds
// that arrive before the order carries any gateway ids.
func (r *RefundReconciler) findOrder(ctx context.Context, ch *stripe.Charge, paymentIntentID string) (*order.Order, error) {
	o, err := r.orders.FindForRefund(ctx, paymentIntentID, ch.ID)
	if !errors.Is(err, order.ErrOrderNotFound) {
		return o, err
	}

	ref, err := r.orderRef(ctx, ch, paymentIntentID)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(ref)
	if err != nil {
		return nil, order.ErrOrderNotFound
	}
	return r.orders.GetByID(ctx, nil, id)
}

func (r *RefundReconciler) orderRef(ctx context.Context, ch *stripe.Charge, paymentIntentID string) (string, error) {
	if ref := ch.Metadata[gateway.MetaOrderID]; ref != "" {
		return ref, nil
	}
	if ch.PaymentIntent != nil {
		if ref := ch.PaymentIntent.Metadata[gateway.MetaOrderID]; ref != "" {
			return ref, nil
		}
	}
	if paymentIntentID == "" {
		return "", nil
	}

	pi, err := r.gateway.GetPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		if gateway.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to retrieve payment intent: %w", err)
	}
	return pi.Metadata[gateway.MetaOrderID], nil
}
