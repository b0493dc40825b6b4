// internal/domain/checkout/service.go
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"
	"github.com/your-org/marketplace-billing/internal/config"
	"github.com/your-org/marketplace-billing/internal/domain/cart"
	"github.com/your-org/marketplace-billing/internal/domain/customer"
	"github.com/your-org/marketplace-billing/internal/domain/order"
	"github.com/your-org/marketplace-billing/internal/domain/product"
	"github.com/your-org/marketplace-billing/internal/domain/subscription"
	"github.com/your-org/marketplace-billing/internal/pkg/gateway"
)

var (
	ErrEmptyCart          = errors.New("cart is empty")
	ErrMixedCurrency      = errors.New("cart items span more than one currency")
	ErrItemUnavailable    = errors.New("cart contains a product that is no longer available")
	ErrNoCustomer         = errors.New("no billing customer for user")
	ErrPlanNotFound       = errors.New("subscription plan not found")
	ErrPlanNotPurchasable = errors.New("subscription plan is not purchasable")
	ErrSessionNotFound    = errors.New("checkout session not found")
)

// sessionIDPlaceholder is substituted by the gateway on redirect
const sessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

// Service opens hosted checkout and billing portal sessions
type Service struct {
	config    *config.Config
	gateway   gateway.Gateway
	carts     *cart.Service
	products  *product.Service
	orders    *order.Service
	subs      *subscription.Service
	customers *customer.Service
	log       logrus.FieldLogger
}

// Dependencies groups the collaborators of the checkout service
type Dependencies struct {
	Carts     *cart.Service
	Products  *product.Service
	Orders    *order.Service
	Subs      *subscription.Service
	Customers *customer.Service
}

// NewService creates a new checkout service
func NewService(cfg *config.Config, gw gateway.Gateway, deps Dependencies, log logrus.FieldLogger) *Service {
	return &Service{
		config:    cfg,
		gateway:   gw,
		carts:     deps.Carts,
		products:  deps.Products,
		orders:    deps.Orders,
		subs:      deps.Subs,
		customers: deps.Customers,
		log:       log,
	}
}

// StartRequest is the body of a checkout start call
type StartRequest struct {
	ReturnPath string `json:"return_path"`
	PlanID     string `json:"plan_id"`
}

// SessionResponse points the browser at a hosted checkout page
type SessionResponse struct {
	SessionID string     `json:"session_id"`
	URL       string     `json:"url"`
	OrderID   *uuid.UUID `json:"order_id,omitempty"`
}

// PortalResponse points the browser at the billing portal
type PortalResponse struct {
	URL string `json:"url"`
}

// SessionStatus reports a checkout session and the local order it produced
type SessionStatus struct {
	SessionID     string       `json:"session_id"`
	Mode          string       `json:"mode"`
	Status        string       `json:"status"`
	PaymentStatus string       `json:"payment_status"`
	AmountTotal   int64        `json:"amount_total"`
	Currency      string       `json:"currency"`
	Order         *order.Order `json:"order,omitempty"`
}

// StartCheckout turns the user's active cart into a pending order and a
// payment-mode checkout session.
func (s *Service) StartCheckout(ctx context.Context, userID uuid.UUID, email, returnPath string) (*SessionResponse, error) {
	log := s.log.WithField("user_id", userID)

	c, items, err := s.carts.ActiveItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	currency := strings.ToLower(items[0].Currency)
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if strings.ToLower(item.Currency) != currency {
			return nil, ErrMixedCurrency
		}
		ids = append(ids, item.ProductID)
	}

	active, err := s.products.ActiveByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := active[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrItemUnavailable, id)
		}
	}

	customerID, err := s.customers.Resolve(ctx, userID, email)
	if err != nil {
		return nil, err
	}

	pending := &order.Order{
		UserID:   userID,
		CartID:   &c.ID,
		Currency: currency,
	}
	for _, item := range items {
		pending.Items = append(pending.Items, order.OrderItem{
			ProductID:      item.ProductID,
			Title:          item.Title,
			Quantity:       item.Quantity,
			UnitPriceMinor: item.UnitPriceMinor,
			Currency:       currency,
		})
	}
	pending.SubtotalMinor = pending.ItemsSubtotal()
	pending.TotalMinor = pending.SubtotalMinor

	if err := s.orders.CreatePending(ctx, nil, pending); err != nil {
		return nil, err
	}

	metadata := map[string]string{
		gateway.MetaUserID:  userID.String(),
		gateway.MetaCartID:  c.ID.String(),
		gateway.MetaOrderID: pending.ID.String(),
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(userID.String()),
		SuccessURL:        stripe.String(s.successURL(returnPath)),
		CancelURL:         stripe.String(s.config.SiteURLFor(s.config.Checkout.CancelPath)),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	params.Metadata = metadata
	for _, item := range items {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(int64(item.Quantity)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(item.UnitPriceMinor),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:     stripe.String(item.Title),
					Metadata: map[string]string{gateway.MetaProductID: item.ProductID.String()},
				},
			},
		})
	}

	sess, err := s.gateway.CreateCheckoutSession(ctx, params)
	if err != nil {
		if _, cancelErr := s.orders.Transition(ctx, nil, pending.ID, order.OrderStatusCanceled, "checkout_failed"); cancelErr != nil {
			log.WithError(cancelErr).Warn("Failed to cancel pending order after session error")
		}
		return nil, err
	}

	if err := s.orders.AttachSession(ctx, pending.ID, sess.ID); err != nil {
		// Reconciliation still finds the order through the session metadata
		log.WithError(err).Warn("Failed to attach session to pending order")
	}

	log.WithFields(logrus.Fields{
		"session_id":  sess.ID,
		"order_id":    pending.ID,
		"total_minor": pending.TotalMinor,
	}).Info("Checkout session created")

	return &SessionResponse{SessionID: sess.ID, URL: sess.URL, OrderID: &pending.ID}, nil
}

// StartSubscriptionCheckout opens a subscription-mode checkout session for a plan
func (s *Service) StartSubscriptionCheckout(ctx context.Context, userID uuid.UUID, email, planRef, returnPath string) (*SessionResponse, error) {
	if strings.TrimSpace(planRef) == "" {
		return nil, ErrPlanNotFound
	}
	plan, err := s.subs.GetPlan(ctx, strings.TrimSpace(planRef))
	if err != nil {
		if errors.Is(err, subscription.ErrPlanNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	if !plan.IsActive || plan.StripePriceID == nil || *plan.StripePriceID == "" {
		return nil, ErrPlanNotPurchasable
	}

	customerID, err := s.customers.Resolve(ctx, userID, email)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{
		gateway.MetaUserID:   userID.String(),
		gateway.MetaPlanID:   plan.ID.String(),
		gateway.MetaPlanCode: plan.Code,
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(userID.String()),
		SuccessURL:        stripe.String(s.successURL(returnPath)),
		CancelURL:         stripe.String(s.config.SiteURLFor(s.config.Checkout.CancelPath)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: plan.StripePriceID, Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	params.Metadata = metadata

	sess, err := s.gateway.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":    userID,
		"plan":       plan.Code,
		"session_id": sess.ID,
	}).Info("Subscription checkout session created")

	return &SessionResponse{SessionID: sess.ID, URL: sess.URL}, nil
}

// CreatePortalSession opens the billing portal for the user's stored customer
func (s *Service) CreatePortalSession(ctx context.Context, userID uuid.UUID, returnPath string) (*PortalResponse, error) {
	customerID, err := s.customers.Lookup(ctx, userID)
	if err != nil {
		return nil, err
	}
	if customerID == "" {
		return nil, ErrNoCustomer
	}

	if strings.TrimSpace(returnPath) == "" {
		returnPath = s.config.Checkout.PortalReturnPath
	}
	ps, err := s.gateway.CreatePortalSession(ctx, customerID, s.config.SiteURLFor(SafeReturnPath(returnPath)))
	if err != nil {
		if gateway.IsNotFound(err) {
			return nil, ErrNoCustomer
		}
		return nil, err
	}
	return &PortalResponse{URL: ps.URL}, nil
}

// GetSession reports a checkout session owned by the user. Sessions owned by
// someone else are reported as not found.
func (s *Service) GetSession(ctx context.Context, userID uuid.UUID, sessionID string) (*SessionStatus, error) {
	sess, err := s.gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		if gateway.IsNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if !ownedBy(sess, userID) {
		return nil, ErrSessionNotFound
	}

	status := &SessionStatus{
		SessionID:     sess.ID,
		Mode:          string(sess.Mode),
		Status:        string(sess.Status),
		PaymentStatus: string(sess.PaymentStatus),
		AmountTotal:   sess.AmountTotal,
		Currency:      strings.ToLower(string(sess.Currency)),
	}

	o, err := s.orders.GetForUserBySession(ctx, userID, sessionID)
	switch {
	case err == nil:
		status.Order = o
	case errors.Is(err, order.ErrOrderNotFound):
	default:
		return nil, err
	}
	return status, nil
}

func ownedBy(sess *stripe.CheckoutSession, userID uuid.UUID) bool {
	if owner := sess.Metadata[gateway.MetaUserID]; owner != "" {
		return owner == userID.String()
	}
	if owner := sess.Metadata[gateway.MetaLegacyUserID]; owner != "" {
		return owner == userID.String()
	}
	return sess.ClientReferenceID != "" && sess.ClientReferenceID == userID.String()
}

// successURL builds the redirect target with the gateway's session placeholder
func (s *Service) successURL(returnPath string) string {
	path := s.config.Checkout.SuccessPath
	if strings.TrimSpace(returnPath) != "" {
		path = SafeReturnPath(returnPath)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return s.config.SiteURLFor(path) + sep + "stripe=1&session_id=" + sessionIDPlaceholder
}

// SafeReturnPath accepts only site-relative paths. Anything that could leave
// the site becomes "/".
func SafeReturnPath(p string) string {
	p = strings.TrimSpace(p)
	switch {
	case p == "":
		return "/"
	case !strings.HasPrefix(p, "/"):
		return "/"
	case strings.HasPrefix(p, "//"), strings.HasPrefix(p, "/\\"):
		return "/"
	case strings.ContainsAny(p, "\\\r\n\t"):
		return "/"
	}
	return p
}
