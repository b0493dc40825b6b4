// internal/domain/reconcile/subscriptions.go
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"
	"github.com/your-org/marketplace-billing/internal/domain/customer"
	"github.com/your-org/marketplace-billing/internal/domain/subscription"
	"github.com/your-org/marketplace-billing/internal/pkg/gateway"
	"github.com/your-org/marketplace-billing/internal/pkg/notify"
)

// SubscriptionReconciler keeps local subscription rows in line with the gateway
type SubscriptionReconciler struct {
	gateway   gateway.Gateway
	subs      *subscription.Service
	customers *customer.Service
	users     userResolver
	notifier  notify.Publisher
	log       logrus.FieldLogger
}

// NewSubscriptionReconciler creates a new subscription reconciler
func NewSubscriptionReconciler(gw gateway.Gateway, subs *subscription.Service, customers *customer.Service, notifier notify.Publisher, log logrus.FieldLogger) *SubscriptionReconciler {
	return &SubscriptionReconciler{
		gateway:   gw,
		subs:      subs,
		customers: customers,
		users:     userResolver{customers: customers},
		notifier:  notifier,
		log:       log,
	}
}

// SyncResult lists the subscriptions written by Sync, one per plan target
type SyncResult struct {
	CustomerID    string                      `json:"customer_id,omitempty"`
	Subscriptions []subscription.Subscription `json:"subscriptions"`
}

// FromCheckoutSession reconciles the subscription created by a subscription-mode session
func (r *SubscriptionReconciler) FromCheckoutSession(ctx context.Context, sessionID, source string) (Outcome, error) {
	log := r.log.WithFields(logrus.Fields{"session_id": sessionID, "event_id": source})

	sess, err := r.gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		if gateway.IsNotFound(err) {
			log.Warn("Checkout session not found in gateway")
			return OutcomeUnresolvable, nil
		}
		return "", fmt.Errorf("failed to retrieve checkout session: %w", err)
	}
	if sess.Mode != stripe.CheckoutSessionModeSubscription || sess.Subscription == nil || sess.Subscription.ID == "" {
		return OutcomeIgnored, nil
	}

	sub := sess.Subscription
	if sub.Status == "" {
		// Not expanded
		if sub, err = r.gateway.GetSubscription(ctx, sub.ID); err != nil {
			return "", fmt.Errorf("failed to retrieve subscription: %w", err)
		}
	}

	view := viewFromStripe(sub)
	if view.CustomerID == "" && sess.Customer != nil {
		view.CustomerID = sess.Customer.ID
	}
	// Session metadata is written by our checkout, subscription metadata may be empty
	view.Metadata = mergeMetadata(sess.Metadata, view.Metadata)

	userID, err := r.users.resolve(ctx, view.Metadata, sess.ClientReferenceID, view.CustomerID)
	if err != nil {
		return r.unresolved(log, err)
	}
	return r.apply(ctx, userID, view, source, log)
}

// FromSubscriptionEvent reconciles a created, updated or deleted subscription.
// Upserts re-read the subscription so that late deliveries apply current state.
func (r *SubscriptionReconciler) FromSubscriptionEvent(ctx context.Context, payload subscriptionPayload, deleted bool, source string) (Outcome, error) {
	log := r.log.WithFields(logrus.Fields{"subscription_id": payload.ID, "event_id": source})

	view := viewFromPayload(payload)
	if deleted {
		view.Status = string(stripe.SubscriptionStatusCanceled)
	} else {
		fresh, err := r.gateway.GetSubscription(ctx, payload.ID)
		switch {
		case err == nil:
			view = viewFromStripe(fresh)
			view.Metadata = mergeMetadata(payload.Metadata, view.Metadata)
		case gateway.IsNotFound(err):
			log.Warn("Subscription not found in gateway, using event payload")
		default:
			return "", fmt.Errorf("failed to retrieve subscription: %w", err)
		}
	}

	userID, err := r.users.resolve(ctx, view.Metadata, "", view.CustomerID)
	if errors.Is(err, ErrUnresolvableUser) {
		// Rows written earlier still know their owner
		existing, lookupErr := r.subs.GetByStripeID(ctx, view.ID)
		if lookupErr != nil {
			return "", lookupErr
		}
		if existing != nil {
			userID, err = existing.UserID, nil
		}
	}
	if err != nil {
		return r.unresolved(log, err)
	}
	return r.apply(ctx, userID, view, source, log)
}

// ApplyInvoice moves the row tracking subID to status. Only live rows move, so
// a canceled subscription is never revived by a late invoice.
func (r *SubscriptionReconciler) ApplyInvoice(ctx context.Context, subID string, status subscription.Status, source string) (Outcome, error) {
	if subID == "" {
		return OutcomeIgnored, nil
	}

	sub, changed, err := r.subs.SetStatusByStripeID(ctx, subID, status, subscription.LiveStatuses)
	if err != nil {
		return "", err
	}
	if sub == nil {
		return OutcomeIgnored, nil
	}

	r.log.WithFields(logrus.Fields{
		"subscription_id": subID,
		"status":          status,
		"changed":         changed,
		"event_id":        source,
	}).Info("Subscription invoice reconciled")

	if changed {
		r.publish(sub)
	}
	return OutcomeHandled, nil
}

// Sync pulls every gateway subscription of the user's customer and reconciles
// the best one per plan target. It covers missed webhook deliveries.
func (r *SubscriptionReconciler) Sync(ctx context.Context, userID uuid.UUID) (*SyncResult, error) {
	log := r.log.WithField("user_id", userID)
	result := &SyncResult{Subscriptions: []subscription.Subscription{}}

	customerID, err := r.customers.Lookup(ctx, userID)
	if err != nil {
		return nil, err
	}
	if customerID == "" {
		return result, nil
	}
	result.CustomerID = customerID

	remote, err := r.gateway.ListSubscriptions(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	type pick struct {
		view subscriptionView
		plan *subscription.Plan
	}
	best := map[subscription.PlanTarget]pick{}
	for _, s := range remote {
		view := viewFromStripe(s)
		plan, err := r.planFor(ctx, view)
		if err != nil {
			if errors.Is(err, ErrPlanUnknown) {
				log.WithField("subscription_id", view.ID).Debug("Skipping subscription with unknown plan")
				continue
			}
			return nil, err
		}
		current, ok := best[plan.Target]
		if !ok || better(view, current.view) {
			best[plan.Target] = pick{view: view, plan: plan}
		}
	}

	for _, p := range best {
		res, err := r.subs.Reconcile(ctx, subscription.ReconcileInput{
			UserID:               userID,
			Plan:                 p.plan,
			RawStatus:            p.view.Status,
			StripeSubscriptionID: p.view.ID,
			StripeCustomerID:     customerID,
		})
		if err != nil {
			return nil, err
		}
		if res.Changed && !res.Stale {
			r.publish(res.Subscription)
		}
		result.Subscriptions = append(result.Subscriptions, *res.Subscription)
	}

	log.WithField("synced", len(result.Subscriptions)).Info("Subscriptions synced")
	return result, nil
}

// better ranks by status and then by recency
func better(a, b subscriptionView) bool {
	sa, sb := subscription.Score(a.Status), subscription.Score(b.Status)
	if sa != sb {
		return sa > sb
	}
	return a.Created > b.Created
}

func (r *SubscriptionReconciler) apply(ctx context.Context, userID uuid.UUID, view subscriptionView, source string, log logrus.FieldLogger) (Outcome, error) {
	plan, err := r.planFor(ctx, view)
	if err != nil {
		return r.unresolved(log, err)
	}

	res, err := r.subs.Reconcile(ctx, subscription.ReconcileInput{
		UserID:               userID,
		Plan:                 plan,
		RawStatus:            view.Status,
		StripeSubscriptionID: view.ID,
		StripeCustomerID:     view.CustomerID,
	})
	if err != nil {
		return "", err
	}

	if err := r.customers.Remember(ctx, userID, view.CustomerID); err != nil {
		log.WithError(err).Warn("Failed to store customer mapping from subscription")
	}

	log.WithFields(logrus.Fields{
		"user_id":  userID,
		"plan":     plan.Code,
		"status":   res.Subscription.Status,
		"previous": res.Previous,
		"canceled": res.Canceled,
		"stale":    res.Stale,
	}).Info("Subscription reconciled")

	if res.Changed && !res.Stale {
		r.publish(res.Subscription)
	}
	return OutcomeHandled, nil
}

// planFor resolves the local plan from metadata, then from the gateway price or product
func (r *SubscriptionReconciler) planFor(ctx context.Context, view subscriptionView) (*subscription.Plan, error) {
	for _, key := range []string{gateway.MetaPlanID, gateway.MetaPlanCode} {
		ref := view.Metadata[key]
		if ref == "" {
			continue
		}
		plan, err := r.subs.GetPlan(ctx, ref)
		if err == nil {
			return plan, nil
		}
		if !errors.Is(err, subscription.ErrPlanNotFound) {
			return nil, err
		}
	}

	plan, err := r.subs.GetPlanByStripeRef(ctx, view.ProductID, view.PriceID)
	if err != nil {
		if errors.Is(err, subscription.ErrPlanNotFound) {
			return nil, ErrPlanUnknown
		}
		return nil, err
	}
	return plan, nil
}

func (r *SubscriptionReconciler) unresolved(log logrus.FieldLogger, err error) (Outcome, error) {
	if errors.Is(err, ErrUnresolvableUser) || errors.Is(err, ErrPlanUnknown) {
		log.WithError(err).Warn("Subscription event cannot be tied to local state, acknowledging")
		return OutcomeUnresolvable, nil
	}
	return "", err
}

func (r *SubscriptionReconciler) publish(sub *subscription.Subscription) {
	evt := notify.Event{
		Kind:       notify.EventSubscriptionChanged,
		UserID:     sub.UserID,
		Status:     string(sub.Status),
		OccurredAt: time.Now().UTC(),
	}
	if sub.Plan != nil {
		evt.Reference = sub.Plan.Code
		evt.AmountMinor = sub.Plan.PriceMinor
		evt.Currency = sub.Plan.Currency
	}
	r.notifier.Publish(evt)
}

// mergeMetadata returns primary with gaps filled from secondary
func mergeMetadata(primary, secondary map[string]string) map[string]string {
	out := make(map[string]string, len(primary)+len(secondary))
	for k, v := range secondary {
		out[k] = v
	}
	for k, v := range primary {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
