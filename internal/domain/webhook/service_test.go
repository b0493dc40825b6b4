package webhook

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"github.com/your-org/marketplace-billing/internal/domain/ledger"
	"github.com/your-org/marketplace-billing/internal/domain/reconcile"
	"github.com/your-org/marketplace-billing/internal/pkg/dbtest"
	"github.com/your-org/marketplace-billing/internal/pkg/logger"
)

const testSecret = "whsec_test_secret"

type stubDispatcher struct {
	calls   int
	outcome reconcile.Outcome
	err     error
}

func (d *stubDispatcher) Dispatch(ctx context.Context, evt *stripe.Event) (reconcile.Outcome, error) {
	d.calls++
	return d.outcome, d.err
}

func setupWebhook(t *testing.T, secret string, d *stubDispatcher) (*Service, *ledger.Service) {
	t.Helper()
	l := ledger.NewService(dbtest.Open(t, &ledger.WebhookEvent{}))
	return NewService(secret, l, d, logger.Discard()), l
}

func signedEvent(id, eventType string) ([]byte, string) {
	payload := []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"api_version":"2020-01-01","data":{"object":{"id":"cs_1","object":"checkout.session"}}}`, id, eventType))
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func TestHandleProcessesOnce(t *testing.T) {
	d := &stubDispatcher{outcome: reconcile.OutcomeHandled}
	svc, l := setupWebhook(t, testSecret, d)
	ctx := context.Background()
	payload, sig := signedEvent("evt_1", "checkout.session.completed")

	res, err := svc.Handle(ctx, payload, sig)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.Status != string(reconcile.OutcomeHandled) || res.EventID != "evt_1" {
		t.Fatalf("unexpected result %+v", res)
	}

	res, err = svc.Handle(ctx, payload, sig)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if res.Status != StatusDuplicate {
		t.Fatalf("expected duplicate, got %s", res.Status)
	}
	if d.calls != 1 {
		t.Fatalf("expected one dispatch, got %d", d.calls)
	}

	evt, _ := l.Get(ctx, "evt_1")
	if evt.Status != ledger.EventStatusProcessed {
		t.Fatalf("expected processed, got %s", evt.Status)
	}
}

func TestHandleRejectsBadSignatureWithoutLedgerWrite(t *testing.T) {
	d := &stubDispatcher{outcome: reconcile.OutcomeHandled}
	svc, l := setupWebhook(t, testSecret, d)
	ctx := context.Background()
	payload, _ := signedEvent("evt_2", "checkout.session.completed")

	_, err := svc.Handle(ctx, payload, "t=1,v1=deadbeef")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if _, err := l.Get(ctx, "evt_2"); !errors.Is(err, ledger.ErrEventNotFound) {
		t.Fatalf("no ledger row expected, got %v", err)
	}
	if d.calls != 0 {
		t.Fatal("dispatcher must not run")
	}
}

func TestHandleMissingSecret(t *testing.T) {
	svc, _ := setupWebhook(t, "", &stubDispatcher{})
	if svc.Configured() {
		t.Fatal("expected unconfigured service")
	}
	payload, sig := signedEvent("evt_3", "invoice.paid")
	if _, err := svc.Handle(context.Background(), payload, sig); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestHandleFailureMarksErrorAndRetries(t *testing.T) {
	d := &stubDispatcher{err: errors.New("charge lookup failed")}
	svc, l := setupWebhook(t, testSecret, d)
	ctx := context.Background()
	payload, sig := signedEvent("evt_4", "charge.refunded")

	if _, err := svc.Handle(ctx, payload, sig); err == nil {
		t.Fatal("expected error")
	}
	evt, _ := l.Get(ctx, "evt_4")
	if evt.Status != ledger.EventStatusError || evt.ErrorDetail != "charge lookup failed" {
		t.Fatalf("unexpected ledger row %+v", evt)
	}

	// The next delivery reclaims and succeeds
	d.err, d.outcome = nil, reconcile.OutcomeHandled
	res, err := svc.Handle(ctx, payload, sig)
	if err != nil || res.Status != string(reconcile.OutcomeHandled) {
		t.Fatalf("retry: %+v %v", res, err)
	}
	evt, _ = l.Get(ctx, "evt_4")
	if evt.Status != ledger.EventStatusProcessed || evt.Attempts != 2 {
		t.Fatalf("unexpected ledger row after retry %+v", evt)
	}
}

func TestHandleIgnoredIsAcknowledged(t *testing.T) {
	d := &stubDispatcher{outcome: reconcile.OutcomeIgnored}
	svc, l := setupWebhook(t, testSecret, d)
	ctx := context.Background()
	payload, sig := signedEvent("evt_5", "customer.created")

	res, err := svc.Handle(ctx, payload, sig)
	if err != nil || res.Status != string(reconcile.OutcomeIgnored) {
		t.Fatalf("unexpected %+v %v", res, err)
	}
	evt, _ := l.Get(ctx, "evt_5")
	if evt.Outcome != string(reconcile.OutcomeIgnored) {
		t.Fatalf("outcome not recorded: %+v", evt)
	}
}
