// internal/domain/reconcile/payload.go
package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v82"
)

// objectID decodes a gateway reference that is either an id string or an
// expanded object carrying an id.
type objectID string

func (o *objectID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*o = ""
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*o = objectID(s)
		return nil
	default:
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*o = objectID(obj.ID)
		return nil
	}
}

type sessionPayload struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          objectID          `json:"customer"`
	PaymentIntent     objectID          `json:"payment_intent"`
	Subscription      objectID          `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

type subscriptionPayload struct {
	ID       string            `json:"id"`
	Customer objectID          `json:"customer"`
	Status   string            `json:"status"`
	Created  int64             `json:"created"`
	Metadata map[string]string `json:"metadata"`
	Items    struct {
		Data []struct {
			Price struct {
				ID      string   `json:"id"`
				Product objectID `json:"product"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// invoicePayload reads the subscription from either the legacy top-level
// field or the newer parent.subscription_details.
type invoicePayload struct {
	ID           string   `json:"id"`
	Customer     objectID `json:"customer"`
	Subscription objectID `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription objectID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (p invoicePayload) subscriptionID() string {
	if p.Subscription != "" {
		return string(p.Subscription)
	}
	if p.Parent != nil && p.Parent.SubscriptionDetails != nil {
		return string(p.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

type chargePayload struct {
	ID             string   `json:"id"`
	PaymentIntent  objectID `json:"payment_intent"`
	AmountRefunded int64    `json:"amount_refunded"`
}

type refundPayload struct {
	ID            string   `json:"id"`
	Charge        objectID `json:"charge"`
	PaymentIntent objectID `json:"payment_intent"`
}

func decode(evt *stripe.Event, into interface{}) error {
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return fmt.Errorf("event %s has no data object", evt.ID)
	}
	if err := json.Unmarshal(evt.Data.Raw, into); err != nil {
		return fmt.Errorf("decode %s payload: %w", evt.Type, err)
	}
	return nil
}

// subscriptionView is the part of a gateway subscription the reconciler needs,
// whether it came from an event payload or a fresh retrieval.
type subscriptionView struct {
	ID         string
	CustomerID string
	Status     string
	Created    int64
	Metadata   map[string]string
	PriceID    string
	ProductID  string
}

func viewFromPayload(p subscriptionPayload) subscriptionView {
	v := subscriptionView{
		ID:         p.ID,
		CustomerID: string(p.Customer),
		Status:     p.Status,
		Created:    p.Created,
		Metadata:   p.Metadata,
	}
	if len(p.Items.Data) > 0 {
		v.PriceID = p.Items.Data[0].Price.ID
		v.ProductID = string(p.Items.Data[0].Price.Product)
	}
	return v
}

func viewFromStripe(s *stripe.Subscription) subscriptionView {
	v := subscriptionView{
		ID:       s.ID,
		Status:   string(s.Status),
		Created:  s.Created,
		Metadata: s.Metadata,
	}
	if s.Customer != nil {
		v.CustomerID = s.Customer.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0].Price != nil {
		price := s.Items.Data[0].Price
		v.PriceID = price.ID
		if price.Product != nil {
			v.ProductID = price.Product.ID
		}
	}
	return v
}
