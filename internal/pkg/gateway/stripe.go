// internal/pkg/gateway/stripe.go
package gateway

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	"github.com/stripe/stripe-go/v82/charge"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/your-org/marketplace-billing/internal/config"
)

// StripeGateway implements Gateway with the stripe-go package-level API
type StripeGateway struct{}

// NewStripeGateway configures the process-wide API key
func NewStripeGateway(cfg *config.Config) *StripeGateway {
	stripe.Key = cfg.External.Stripe.SecretKey
	return &StripeGateway{}
}

// GetCheckoutSession retrieves a session and all of its line items
func (g *StripeGateway) GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent.latest_charge")
	params.AddExpand("subscription")

	sess, err := session.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session %s: %w", id, err)
	}

	// The embedded line_items list is paginated; walk the dedicated endpoint instead.
	itemParams := &stripe.CheckoutSessionListLineItemsParams{
		Session: stripe.String(id),
	}
	itemParams.Context = ctx
	itemParams.AddExpand("data.price.product")

	var items []*stripe.LineItem
	iter := session.ListLineItems(itemParams)
	for iter.Next() {
		items = append(items, iter.LineItem())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list line items for %s: %w", id, err)
	}
	sess.LineItems = &stripe.LineItemList{Data: items}

	return sess, nil
}

// CreateCheckoutSession opens a hosted checkout session
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	params.Context = ctx
	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return sess, nil
}

// GetSubscription retrieves a subscription with its prices and products
func (g *StripeGateway) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("items.data.price.product")

	sub, err := subscription.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve subscription %s: %w", id, err)
	}
	return sub, nil
}

// ListSubscriptions returns every subscription of a customer in any status
func (g *StripeGateway) ListSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.AddExpand("data.items.data.price.product")

	var subs []*stripe.Subscription
	iter := subscription.List(params)
	for iter.Next() {
		subs = append(subs, iter.Subscription())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions for %s: %w", customerID, err)
	}
	return subs, nil
}

// GetCharge retrieves a charge
func (g *StripeGateway) GetCharge(ctx context.Context, id string) (*stripe.Charge, error) {
	params := &stripe.ChargeParams{}
	params.Context = ctx

	ch, err := charge.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve charge %s: %w", id, err)
	}
	return ch, nil
}

// GetPaymentIntent retrieves a payment intent with its latest charge
func (g *StripeGateway) GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")

	pi, err := paymentintent.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve payment intent %s: %w", id, err)
	}
	return pi, nil
}

// GetCustomer retrieves a customer. Deleted customers are reported as not found.
func (g *StripeGateway) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx

	cus, err := customer.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve customer %s: %w", id, err)
	}
	if cus.Deleted {
		return nil, fmt.Errorf("customer %s deleted: %w", id, ErrNotFound)
	}
	return cus, nil
}

// FindCustomerByUserID searches customers tagged with the local user id
func (g *StripeGateway) FindCustomerByUserID(ctx context.Context, userID string) (*stripe.Customer, error) {
	params := &stripe.CustomerSearchParams{}
	params.Context = ctx
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", MetaUserID, userID)
	params.Limit = stripe.Int64(1)

	iter := customer.Search(params)
	if iter.Next() {
		return iter.Customer(), nil
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("search customers: %w", err)
	}
	return nil, nil
}

// FindCustomerByEmail returns the most recent customer with the given email
func (g *StripeGateway) FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error) {
	params := &stripe.CustomerListParams{
		Email: stripe.String(email),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := customer.List(params)
	if iter.Next() {
		return iter.Customer(), nil
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list customers by email: %w", err)
	}
	return nil, nil
}

// CreateCustomer creates a customer tagged with the local user id
func (g *StripeGateway) CreateCustomer(ctx context.Context, email, userID string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.AddMetadata(MetaUserID, userID)

	cus, err := customer.New(params)
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return cus, nil
}

// CreatePortalSession opens a billing portal session for a customer
func (g *StripeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	ps, err := portalsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("create billing portal session: %w", err)
	}
	return ps, nil
}
