// internal/domain/reconcile/dispatcher.go
package reconcile

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"
	"github.com/your-org/marketplace-billing/internal/domain/subscription"
	"github.com/your-org/marketplace-billing/internal/pkg/gateway"
)

// Dispatcher routes verified gateway events to the reconcilers
type Dispatcher struct {
	orders        *OrderReconciler
	subscriptions *SubscriptionReconciler
	refunds       *RefundReconciler
	log           logrus.FieldLogger
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(orders *OrderReconciler, subscriptions *SubscriptionReconciler, refunds *RefundReconciler, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		orders:        orders,
		subscriptions: subscriptions,
		refunds:       refunds,
		log:           log,
	}
}

// Dispatch handles one event. An error means the event should be redelivered;
// every returned Outcome is final.
func (d *Dispatcher) Dispatch(ctx context.Context, evt *stripe.Event) (Outcome, error) {
	kind := Classify(string(evt.Type))
	log := d.log.WithFields(logrus.Fields{
		"event_id":   evt.ID,
		"event_type": evt.Type,
		"kind":       kind,
	})

	switch kind {
	case KindCheckoutCompleted, KindCheckoutAsyncSucceeded:
		var p sessionPayload
		if err := decode(evt, &p); err != nil {
			return malformed(log, err)
		}
		if p.Mode == string(stripe.CheckoutSessionModeSubscription) {
			return d.subscriptions.FromCheckoutSession(ctx, p.ID, evt.ID)
		}
		return d.orders.EnsurePaidFromSession(ctx, p.ID, evt.ID)

	case KindCheckoutAsyncFailed, KindCheckoutExpired:
		var p sessionPayload
		if err := decode(evt, &p); err != nil {
			return malformed(log, err)
		}
		if p.Mode == string(stripe.CheckoutSessionModeSubscription) {
			return OutcomeIgnored, nil
		}
		lookup := OrderLookup{
			SessionID:       p.ID,
			PaymentIntentID: string(p.PaymentIntent),
			OrderID:         p.Metadata[gateway.MetaOrderID],
		}
		if kind == KindCheckoutAsyncFailed {
			return d.orders.MarkFailed(ctx, lookup, evt.ID)
		}
		return d.orders.MarkCanceled(ctx, lookup, evt.ID)

	case KindSubscriptionUpserted, KindSubscriptionDeleted:
		var p subscriptionPayload
		if err := decode(evt, &p); err != nil {
			return malformed(log, err)
		}
		return d.subscriptions.FromSubscriptionEvent(ctx, p, kind == KindSubscriptionDeleted, evt.ID)

	case KindInvoicePaid, KindInvoicePaymentFailed:
		var p invoicePayload
		if err := decode(evt, &p); err != nil {
			return malformed(log, err)
		}
		status := subscription.StatusActive
		if kind == KindInvoicePaymentFailed {
			status = subscription.StatusPastDue
		}
		return d.subscriptions.ApplyInvoice(ctx, p.subscriptionID(), status, evt.ID)

	case KindChargeRefunded:
		var p chargePayload
		if err := decode(evt, &p); err != nil {
			return malformed(log, err)
		}
		return d.refunds.ApplyRefund(ctx, RefundRef{ChargeID: p.ID, PaymentIntentID: string(p.PaymentIntent)}, evt.ID)

	case KindRefundChanged:
		var p refundPayload
		if err := decode(evt, &p); err != nil {
			return malformed(log, err)
		}
		return d.refunds.ApplyRefund(ctx, RefundRef{ChargeID: string(p.Charge), PaymentIntentID: string(p.PaymentIntent)}, evt.ID)

	default:
		log.Debug("Event type not handled")
		return OutcomeIgnored, nil
	}
}

// malformed acknowledges a payload that will never decode
func malformed(log logrus.FieldLogger, err error) (Outcome, error) {
	log.WithError(err).Warn("Malformed event payload, acknowledging")
	return OutcomeUnresolvable, nil
}
