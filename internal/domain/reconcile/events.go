// internal/domain/reconcile/events.go
package reconcile

import "errors"

// Kind is the closed set of gateway events the engine acts on
type Kind int

const (
	KindIgnored Kind = iota
	KindCheckoutCompleted
	KindCheckoutAsyncSucceeded
	KindCheckoutAsyncFailed
	KindCheckoutExpired
	KindSubscriptionUpserted
	KindSubscriptionDeleted
	KindInvoicePaid
	KindInvoicePaymentFailed
	KindChargeRefunded
	KindRefundChanged
)

var kindsByType = map[string]Kind{
	"checkout.session.completed":               KindCheckoutCompleted,
	"checkout.session.async_payment_succeeded": KindCheckoutAsyncSucceeded,
	"checkout.session.async_payment_failed":    KindCheckoutAsyncFailed,
	"checkout.session.expired":                 KindCheckoutExpired,
	"customer.subscription.created":            KindSubscriptionUpserted,
	"customer.subscription.updated":            KindSubscriptionUpserted,
	"customer.subscription.deleted":            KindSubscriptionDeleted,
	"invoice.paid":                             KindInvoicePaid,
	"invoice.payment_failed":                   KindInvoicePaymentFailed,
	"charge.refunded":                          KindChargeRefunded,
	"refund.created":                           KindRefundChanged,
	"refund.updated":                           KindRefundChanged,
}

// Classify maps a gateway event type onto a Kind. Unlisted types are KindIgnored.
func Classify(eventType string) Kind {
	return kindsByType[eventType]
}

func (k Kind) String() string {
	switch k {
	case KindCheckoutCompleted:
		return "checkout_completed"
	case KindCheckoutAsyncSucceeded:
		return "checkout_async_succeeded"
	case KindCheckoutAsyncFailed:
		return "checkout_async_failed"
	case KindCheckoutExpired:
		return "checkout_expired"
	case KindSubscriptionUpserted:
		return "subscription_upserted"
	case KindSubscriptionDeleted:
		return "subscription_deleted"
	case KindInvoicePaid:
		return "invoice_paid"
	case KindInvoicePaymentFailed:
		return "invoice_payment_failed"
	case KindChargeRefunded:
		return "charge_refunded"
	case KindRefundChanged:
		return "refund_changed"
	default:
		return "ignored"
	}
}

// Outcome is how a successfully dispatched event ended. Every outcome is
// acknowledged to the gateway; only errors lead to redelivery.
type Outcome string

const (
	OutcomeHandled      Outcome = "handled"
	OutcomeIgnored      Outcome = "ignored"
	OutcomeUnresolvable Outcome = "unresolvable"
)

var (
	// ErrUnresolvableUser means no local user could be tied to the event
	ErrUnresolvableUser = errors.New("no local user for gateway event")
	// ErrPlanUnknown means no local plan matches the gateway subscription
	ErrPlanUnknown = errors.New("no local plan for gateway subscription")
)
