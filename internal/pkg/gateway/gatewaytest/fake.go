// Package gatewaytest provides an in-memory payment gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/stripe/stripe-go/v82"
	"github.com/your-org/marketplace-billing/internal/pkg/gateway"
)

// Fake is an in-memory gateway.Gateway. Fail injects an error per method name.
type Fake struct {
	mu sync.Mutex

	Sessions       map[string]*stripe.CheckoutSession
	Subscriptions  map[string]*stripe.Subscription
	Charges        map[string]*stripe.Charge
	PaymentIntents map[string]*stripe.PaymentIntent
	Customers      map[string]*stripe.Customer

	CreatedSessions []*stripe.CheckoutSessionParams
	CreatedCustomer []string
	PortalSessions  []string

	Fail  map[string]error
	Calls map[string]int

	seq int
}

var _ gateway.Gateway = (*Fake)(nil)

// New returns an empty fake
func New() *Fake {
	return &Fake{
		Sessions:       map[string]*stripe.CheckoutSession{},
		Subscriptions:  map[string]*stripe.Subscription{},
		Charges:        map[string]*stripe.Charge{},
		PaymentIntents: map[string]*stripe.PaymentIntent{},
		Customers:      map[string]*stripe.Customer{},
		Fail:           map[string]error{},
		Calls:          map[string]int{},
	}
}

func (f *Fake) enter(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls[method]++
	return f.Fail[method]
}

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_test_%d", prefix, f.seq)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, gateway.ErrNotFound)
}

// AddSession stores a session
func (f *Fake) AddSession(s *stripe.CheckoutSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sessions[s.ID] = s
}

// AddSubscription stores a subscription
func (f *Fake) AddSubscription(s *stripe.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Subscriptions[s.ID] = s
}

// AddCharge stores a charge
func (f *Fake) AddCharge(c *stripe.Charge) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Charges[c.ID] = c
}

// AddPaymentIntent stores a payment intent
func (f *Fake) AddPaymentIntent(pi *stripe.PaymentIntent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PaymentIntents[pi.ID] = pi
}

// AddCustomer stores a customer
func (f *Fake) AddCustomer(c *stripe.Customer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Customers[c.ID] = c
}

func (f *Fake) GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	if err := f.enter("GetCheckoutSession"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Sessions[id]
	if !ok {
		return nil, notFound("checkout session", id)
	}
	return s, nil
}

func (f *Fake) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if err := f.enter("CreateCheckoutSession"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID("cs")
	s := &stripe.CheckoutSession{
		ID:       id,
		URL:      "https://checkout.test/" + id,
		Status:   stripe.CheckoutSessionStatusOpen,
		Metadata: params.Metadata,
	}
	if params.Mode != nil {
		s.Mode = stripe.CheckoutSessionMode(*params.Mode)
	}
	if params.ClientReferenceID != nil {
		s.ClientReferenceID = *params.ClientReferenceID
	}
	if params.Customer != nil {
		s.Customer = &stripe.Customer{ID: *params.Customer}
	}
	f.Sessions[id] = s
	f.CreatedSessions = append(f.CreatedSessions, params)
	return s, nil
}

func (f *Fake) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	if err := f.enter("GetSubscription"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Subscriptions[id]
	if !ok {
		return nil, notFound("subscription", id)
	}
	return s, nil
}

func (f *Fake) ListSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error) {
	if err := f.enter("ListSubscriptions"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*stripe.Subscription
	for _, s := range f.Subscriptions {
		if s.Customer != nil && s.Customer.ID == customerID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *Fake) GetCharge(ctx context.Context, id string) (*stripe.Charge, error) {
	if err := f.enter("GetCharge"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.Charges[id]
	if !ok {
		return nil, notFound("charge", id)
	}
	return c, nil
}

func (f *Fake) GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	if err := f.enter("GetPaymentIntent"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pi, ok := f.PaymentIntents[id]
	if !ok {
		return nil, notFound("payment intent", id)
	}
	return pi, nil
}

func (f *Fake) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	if err := f.enter("GetCustomer"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.Customers[id]
	if !ok || c.Deleted {
		return nil, notFound("customer", id)
	}
	return c, nil
}

func (f *Fake) FindCustomerByUserID(ctx context.Context, userID string) (*stripe.Customer, error) {
	if err := f.enter("FindCustomerByUserID"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Customers {
		if !c.Deleted && c.Metadata[gateway.MetaUserID] == userID {
			return c, nil
		}
	}
	return nil, nil
}

func (f *Fake) FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error) {
	if err := f.enter("FindCustomerByEmail"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Customers {
		if !c.Deleted && email != "" && c.Email == email {
			return c, nil
		}
	}
	return nil, nil
}

func (f *Fake) CreateCustomer(ctx context.Context, email, userID string) (*stripe.Customer, error) {
	if err := f.enter("CreateCustomer"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &stripe.Customer{
		ID:       f.nextID("cus"),
		Email:    email,
		Metadata: map[string]string{gateway.MetaUserID: userID},
	}
	f.Customers[c.ID] = c
	f.CreatedCustomer = append(f.CreatedCustomer, c.ID)
	return c, nil
}

func (f *Fake) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	if err := f.enter("CreatePortalSession"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID("bps")
	f.PortalSessions = append(f.PortalSessions, customerID)
	return &stripe.BillingPortalSession{
		ID:        id,
		Customer:  customerID,
		ReturnURL: returnURL,
		URL:       "https://billing.test/" + id,
	}, nil
}
