// internal/pkg/notify/format.go
package notify

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Currencies whose minor unit equals the major unit
var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true,
	"kmf": true, "krw": true, "mga": true, "pyg": true, "rwf": true,
	"ugx": true, "vnd": true, "vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// FormatAmount renders a minor-unit amount as "2500 JPY" or "25.00 USD"
func FormatAmount(minor int64, currency string) string {
	code := strings.ToLower(currency)
	exp := int32(2)
	if zeroDecimalCurrencies[code] {
		exp = 0
	}
	amount := decimal.New(minor, -exp)
	return fmt.Sprintf("%s %s", amount.StringFixed(exp), strings.ToUpper(code))
}

// Text renders the chat line for an event
func Text(evt Event) string {
	var b strings.Builder
	switch evt.Kind {
	case EventOrderPaid:
		fmt.Fprintf(&b, "💳 Order paid: %s", FormatAmount(evt.AmountMinor, evt.Currency))
	case EventOrderRefunded:
		fmt.Fprintf(&b, "↩️ Order %s: refunded %s", evt.Status, FormatAmount(evt.AmountMinor, evt.Currency))
	case EventOrderPaymentFailed:
		fmt.Fprintf(&b, "⚠️ Order payment %s", evt.Status)
	case EventSubscriptionChanged:
		fmt.Fprintf(&b, "🔁 Subscription %s", evt.Status)
	default:
		fmt.Fprintf(&b, "%s", evt.Kind)
	}
	if evt.OrderID != uuid.Nil {
		fmt.Fprintf(&b, "\norder: %s", evt.OrderID)
	}
	fmt.Fprintf(&b, "\nuser: %s", evt.UserID)
	if evt.Reference != "" {
		fmt.Fprintf(&b, "\nref: %s", evt.Reference)
	}
	return b.String()
}

// truncate cuts s to at most max runes
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
