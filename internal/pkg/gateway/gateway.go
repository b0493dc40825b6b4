// internal/pkg/gateway/gateway.go
package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v82"
)

// ErrNotFound is returned by gateways that do not speak stripe.Error
var ErrNotFound = errors.New("gateway resource not found")

// Gateway is the subset of the payment provider used by checkout and reconciliation
type Gateway interface {
	// GetCheckoutSession returns the session with its line items, product metadata
	// and payment intent (with latest charge) expanded.
	GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error)
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)

	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	ListSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error)

	GetCharge(ctx context.Context, id string) (*stripe.Charge, error)
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)

	GetCustomer(ctx context.Context, id string) (*stripe.Customer, error)
	// FindCustomerByUserID and FindCustomerByEmail return nil, nil when nothing matches.
	FindCustomerByUserID(ctx context.Context, userID string) (*stripe.Customer, error)
	FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error)
	CreateCustomer(ctx context.Context, email, userID string) (*stripe.Customer, error)

	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error)
}

// IsNotFound reports whether err means the gateway has no such object in the current mode
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound
	}
	return errors.Is(err, ErrNotFound)
}

// Metadata keys shared by checkout and reconciliation
const (
	MetaUserID    = "user_id"
	MetaCartID    = "cart_id"
	MetaOrderID   = "order_id"
	MetaPlanID    = "plan_id"
	MetaPlanCode  = "plan_code"
	MetaProductID = "product_id"
)

// MetaLegacyUserID is written by older checkout flows
const MetaLegacyUserID = "supabase_user_id"
