// internal/domain/reconcile/orders.go
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"
	"github.com/your-org/marketplace-billing/internal/domain/cart"
	"github.com/your-org/marketplace-billing/internal/domain/customer"
	"github.com/your-org/marketplace-billing/internal/domain/order"
	"github.com/your-org/marketplace-billing/internal/pkg/gateway"
	"github.com/your-org/marketplace-billing/internal/pkg/notify"
	"gorm.io/gorm"
)

// OrderReconciler materializes and updates orders from checkout sessions
type OrderReconciler struct {
	db        *gorm.DB
	gateway   gateway.Gateway
	orders    *order.Service
	carts     *cart.Service
	customers *customer.Service
	users     userResolver
	notifier  notify.Publisher
	log       logrus.FieldLogger
}

// NewOrderReconciler creates a new order reconciler
func NewOrderReconciler(db *gorm.DB, gw gateway.Gateway, orders *order.Service, carts *cart.Service, customers *customer.Service, notifier notify.Publisher, log logrus.FieldLogger) *OrderReconciler {
	return &OrderReconciler{
		db:        db,
		gateway:   gw,
		orders:    orders,
		carts:     carts,
		customers: customers,
		users:     userResolver{customers: customers},
		notifier:  notifier,
		log:       log,
	}
}

// OrderLookup identifies the order an asynchronous failure or expiry refers to
type OrderLookup struct {
	SessionID       string
	PaymentIntentID string
	OrderID         string // metadata fallback
}

// EnsurePaidFromSession makes sure a paid order exists for a completed
// payment-mode session and that the user's active carts are closed. Replaying
// it for the same session changes nothing.
func (r *OrderReconciler) EnsurePaidFromSession(ctx context.Context, sessionID, source string) (Outcome, error) {
	log := r.log.WithFields(logrus.Fields{"session_id": sessionID, "event_id": source})

	sess, err := r.gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		if gateway.IsNotFound(err) {
			log.Warn("Checkout session not found in gateway")
			return OutcomeUnresolvable, nil
		}
		return "", fmt.Errorf("failed to retrieve checkout session: %w", err)
	}

	if sess.Mode != stripe.CheckoutSessionModePayment || sess.Status != stripe.CheckoutSessionStatusComplete {
		return OutcomeIgnored, nil
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid &&
		sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
		// Delayed methods report through async_payment_succeeded later
		log.WithField("payment_status", sess.PaymentStatus).Info("Checkout session complete but not paid yet")
		return OutcomeIgnored, nil
	}

	customerID := ""
	if sess.Customer != nil {
		customerID = sess.Customer.ID
	}

	userID, err := r.users.resolve(ctx, sess.Metadata, sess.ClientReferenceID, customerID)
	if err != nil && !errors.Is(err, ErrUnresolvableUser) {
		return "", err
	}
	if errors.Is(err, ErrUnresolvableUser) {
		// A pre-created pending order still knows its owner
		existing, lookupErr := r.orders.GetBySessionID(ctx, nil, sessionID)
		if errors.Is(lookupErr, order.ErrOrderNotFound) {
			log.Warn("Cannot resolve user for checkout session, acknowledging")
			return OutcomeUnresolvable, nil
		}
		if lookupErr != nil {
			return "", lookupErr
		}
		userID = existing.UserID
	}
	log = log.WithField("user_id", userID)

	refs := r.paymentRefs(ctx, sess, log)
	refs.SessionID = sessionID

	var (
		paidOrder    *order.Order
		transitioned bool
		closed       int64
	)
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := r.findExisting(ctx, tx, sessionID, sess.Metadata)
		if err != nil {
			return err
		}

		if existing == nil {
			candidate := r.buildOrder(sess, userID, refs, log)
			inserted, err := r.orders.InsertIfAbsent(ctx, tx, candidate)
			if err != nil {
				return err
			}
			if inserted {
				transitioned = true
				paidOrder = candidate
			} else if existing, err = r.orders.GetBySessionID(ctx, tx, sessionID); err != nil {
				return err
			}
		}

		if existing != nil {
			if existing.UserID != userID {
				log.WithField("order_user_id", existing.UserID).Warn("Session metadata user differs from order owner, keeping order owner")
				userID = existing.UserID
			}
			changed, err := r.orders.Transition(ctx, tx, existing.ID, order.OrderStatusPaid, source)
			if err != nil {
				return err
			}
			if err := r.orders.Backfill(ctx, tx, existing.ID, refs); err != nil {
				return err
			}
			if changed {
				charged := sessionAmounts(sess)
				if charged.Currency != existing.Currency || charged.TotalMinor != existing.TotalMinor {
					log.WithFields(logrus.Fields{
						"order_id":         existing.ID,
						"cart_total":       existing.TotalMinor,
						"session_total":    charged.TotalMinor,
						"cart_currency":    existing.Currency,
						"session_currency": charged.Currency,
					}).Warn("Session amounts differ from the pending order, taking the session's")
				}
				if err := r.orders.SettleAmounts(ctx, tx, existing.ID, charged); err != nil {
					return err
				}
				if charged.Currency != "" {
					existing.Currency = charged.Currency
					existing.SubtotalMinor = charged.SubtotalMinor
					existing.TotalMinor = charged.TotalMinor
				}
			}
			transitioned = changed
			paidOrder = existing
		}

		if !transitioned {
			return nil
		}
		closed, err = r.carts.CloseActiveCarts(ctx, tx, userID)
		return err
	})
	if err != nil {
		return "", err
	}

	if !transitioned {
		log.WithField("order_id", paidOrder.ID).Debug("Order already reconciled for session")
		return OutcomeHandled, nil
	}

	if err := r.customers.Remember(ctx, userID, customerID); err != nil {
		log.WithError(err).Warn("Failed to store customer mapping from session")
	}

	log.WithFields(logrus.Fields{
		"order_id":     paidOrder.ID,
		"total_minor":  paidOrder.TotalMinor,
		"carts_closed": closed,
	}).Info("Order paid")

	r.notifier.Publish(notify.Event{
		Kind:        notify.EventOrderPaid,
		UserID:      userID,
		OrderID:     paidOrder.ID,
		Status:      string(order.OrderStatusPaid),
		AmountMinor: paidOrder.TotalMinor,
		Currency:    paidOrder.Currency,
		Reference:   sessionID,
		OccurredAt:  time.Now().UTC(),
	})
	return OutcomeHandled, nil
}

// MarkFailed moves a pending order to failed. Paid and later orders are left alone.
func (r *OrderReconciler) MarkFailed(ctx context.Context, lookup OrderLookup, source string) (Outcome, error) {
	o, changed, err := r.transition(ctx, lookup, order.OrderStatusFailed, source)
	if err != nil || o == nil {
		return outcomeFor(o, err)
	}
	if changed {
		r.notifier.Publish(notify.Event{
			Kind:        notify.EventOrderPaymentFailed,
			UserID:      o.UserID,
			OrderID:     o.ID,
			Status:      string(order.OrderStatusFailed),
			AmountMinor: o.TotalMinor,
			Currency:    o.Currency,
			Reference:   lookup.SessionID,
			OccurredAt:  time.Now().UTC(),
		})
	}
	return OutcomeHandled, nil
}

// MarkCanceled moves a pending order to canceled, for expired sessions
func (r *OrderReconciler) MarkCanceled(ctx context.Context, lookup OrderLookup, source string) (Outcome, error) {
	o, _, err := r.transition(ctx, lookup, order.OrderStatusCanceled, source)
	if err != nil || o == nil {
		return outcomeFor(o, err)
	}
	return OutcomeHandled, nil
}

func outcomeFor(o *order.Order, err error) (Outcome, error) {
	if err != nil {
		return "", err
	}
	// Sessions abandoned before any order was stored
	return OutcomeIgnored, nil
}

func (r *OrderReconciler) transition(ctx context.Context, lookup OrderLookup, to order.OrderStatus, source string) (*order.Order, bool, error) {
	o, err := r.lookup(ctx, lookup)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	changed, err := r.orders.Transition(ctx, nil, o.ID, to, source)
	if err != nil {
		return nil, false, err
	}

	r.log.WithFields(logrus.Fields{
		"order_id": o.ID,
		"from":     o.Status,
		"to":       to,
		"changed":  changed,
		"event_id": source,
	}).Info("Order status reconciled")
	return o, changed, nil
}

func (r *OrderReconciler) lookup(ctx context.Context, lookup OrderLookup) (*order.Order, error) {
	if lookup.SessionID != "" {
		o, err := r.orders.GetBySessionID(ctx, nil, lookup.SessionID)
		if !errors.Is(err, order.ErrOrderNotFound) {
			return o, err
		}
	}
	if lookup.PaymentIntentID != "" {
		o, err := r.orders.FindForRefund(ctx, lookup.PaymentIntentID, "")
		if !errors.Is(err, order.ErrOrderNotFound) {
			return o, err
		}
	}
	if id, err := uuid.Parse(lookup.OrderID); err == nil {
		return r.orders.GetByID(ctx, nil, id)
	}
	return nil, order.ErrOrderNotFound
}

// findExisting finds the order for a session, falling back to the order id in
// metadata for pending orders whose session id was never attached.
func (r *OrderReconciler) findExisting(ctx context.Context, tx *gorm.DB, sessionID string, metadata map[string]string) (*order.Order, error) {
	o, err := r.orders.GetBySessionID(ctx, tx, sessionID)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, order.ErrOrderNotFound) {
		return nil, err
	}

	id, parseErr := uuid.Parse(metadata[gateway.MetaOrderID])
	if parseErr != nil {
		return nil, nil
	}
	o, err = r.orders.GetByID(ctx, tx, id)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if o.StripeCheckoutSessionID != nil && *o.StripeCheckoutSessionID != sessionID {
		// Belongs to a different session
		return nil, nil
	}
	return o, nil
}

// paymentRefs extracts payment intent and charge ids. A missing charge is
// tolerated: refunds can still correlate by payment intent.
func (r *OrderReconciler) paymentRefs(ctx context.Context, sess *stripe.CheckoutSession, log logrus.FieldLogger) order.Refs {
	var refs order.Refs
	if sess.PaymentIntent == nil {
		return refs
	}
	refs.PaymentIntentID = sess.PaymentIntent.ID
	if sess.PaymentIntent.LatestCharge != nil {
		refs.ChargeID = sess.PaymentIntent.LatestCharge.ID
		return refs
	}

	pi, err := r.gateway.GetPaymentIntent(ctx, refs.PaymentIntentID)
	if err != nil {
		log.WithError(err).Warn("Could not retrieve payment intent, continuing without charge id")
		return refs
	}
	if pi.LatestCharge != nil {
		refs.ChargeID = pi.LatestCharge.ID
	}
	return refs
}

func sessionAmounts(sess *stripe.CheckoutSession) order.Amounts {
	return order.Amounts{
		Currency:      strings.ToLower(string(sess.Currency)),
		SubtotalMinor: sess.AmountSubtotal,
		TotalMinor:    sess.AmountTotal,
	}
}

// buildOrder derives a paid order from the session. Line items without a
// local product id in their product metadata are skipped.
func (r *OrderReconciler) buildOrder(sess *stripe.CheckoutSession, userID uuid.UUID, refs order.Refs, log logrus.FieldLogger) *order.Order {
	now := time.Now().UTC()
	charged := sessionAmounts(sess)
	currency := charged.Currency

	o := &order.Order{
		UserID:                  userID,
		Status:                  order.OrderStatusPaid,
		Currency:                currency,
		SubtotalMinor:           charged.SubtotalMinor,
		TotalMinor:              charged.TotalMinor,
		StripeCheckoutSessionID: optional(refs.SessionID),
		StripePaymentIntentID:   optional(refs.PaymentIntentID),
		StripeChargeID:          optional(refs.ChargeID),
		PaidAt:                  &now,
	}
	if cartID, err := uuid.Parse(sess.Metadata[gateway.MetaCartID]); err == nil {
		o.CartID = &cartID
	}

	if sess.LineItems != nil {
		for _, li := range sess.LineItems.Data {
			item, ok := itemFromLine(li, currency)
			if !ok {
				log.WithField("line_item", li.ID).Warn("Line item has no local product id, skipping")
				continue
			}
			o.Items = append(o.Items, item)
		}
	}

	if sum := o.ItemsSubtotal(); sum != o.SubtotalMinor {
		log.WithFields(logrus.Fields{
			"items_subtotal":   sum,
			"session_subtotal": o.SubtotalMinor,
		}).Warn("Recovered items do not add up to the session subtotal")
	}
	return o
}

func itemFromLine(li *stripe.LineItem, currency string) (order.OrderItem, bool) {
	if li == nil || li.Price == nil || li.Price.Product == nil {
		return order.OrderItem{}, false
	}
	productID, err := uuid.Parse(li.Price.Product.Metadata[gateway.MetaProductID])
	if err != nil {
		return order.OrderItem{}, false
	}

	unit := li.Price.UnitAmount
	if unit == 0 && li.Quantity > 0 {
		unit = li.AmountSubtotal / li.Quantity
	}
	if c := strings.ToLower(string(li.Currency)); c != "" {
		currency = c
	}
	title := li.Description
	if title == "" {
		title = li.Price.Product.Name
	}

	return order.OrderItem{
		ProductID:      productID,
		Title:          title,
		Quantity:       int(li.Quantity),
		UnitPriceMinor: unit,
		Currency:       currency,
	}, true
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
