package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"github.com/your-org/marketplace-billing/internal/config"
	"github.com/your-org/marketplace-billing/internal/domain/ledger"
	"github.com/your-org/marketplace-billing/internal/domain/order"
	"github.com/your-org/marketplace-billing/internal/domain/product"
	"github.com/your-org/marketplace-billing/internal/infrastructure/database/postgres"
	"github.com/your-org/marketplace-billing/internal/pkg/auth"
	"github.com/your-org/marketplace-billing/internal/pkg/dbtest"
	"github.com/your-org/marketplace-billing/internal/pkg/gateway"
	"github.com/your-org/marketplace-billing/internal/pkg/gateway/gatewaytest"
	"github.com/your-org/marketplace-billing/internal/pkg/logger"
	"github.com/your-org/marketplace-billing/internal/pkg/notify"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_server_test"

type testEnv struct {
	server *Server
	db     *gorm.DB
	fake   *gatewaytest.Fake
	cfg    *config.Config
}

func newTestEnv(t *testing.T, webhookSecret string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := dbtest.Open(t, postgres.Models()...)
	fake := gatewaytest.New()

	cfg := &config.Config{
		App: config.AppConfig{Name: "billing-test", Environment: "test"},
		JWT: config.JWTConfig{
			Secret:            "0123456789abcdef0123456789abcdef",
			AccessTokenExpiry: time.Hour,
		},
		Checkout: config.CheckoutConfig{
			SiteURL:     "https://shop.test",
			SuccessPath: "/checkout/success",
			CancelPath:  "/cart",
		},
		Webhook: config.WebhookConfig{MaxBodyBytes: 1 << 20},
		Server:  config.ServerConfig{RequestTimeout: 5 * time.Second},
	}
	cfg.External.Stripe.WebhookSecret = webhookSecret

	srv := NewServer(cfg, db, nil, fake, notify.Nop{}, logger.Discard())
	return &testEnv{server: srv, db: db, fake: fake, cfg: cfg}
}

func (e *testEnv) token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, err := auth.NewJWTManager(e.cfg).GenerateAccessToken(userID, "buyer@example.com", false)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return token
}

func (e *testEnv) call(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)

	var decoded map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &decoded)
	return w, decoded
}

func (e *testEnv) deliver(t *testing.T, payload []byte, signature string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signature)
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)

	var decoded map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &decoded)
	return w, decoded
}

func signed(t *testing.T, eventID, eventType string, object map[string]interface{}) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"id":          eventID,
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]interface{}{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   raw,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return s.Payload, s.Header
}

func (e *testEnv) ledgerRows(t *testing.T) int64 {
	t.Helper()
	var n int64
	e.db.Model(&ledger.WebhookEvent{}).Count(&n)
	return n
}

func TestWebhookWithoutSecretIs500(t *testing.T) {
	env := newTestEnv(t, "")
	payload, sig := signed(t, "evt_nosecret", "checkout.session.completed", map[string]interface{}{"id": "cs_x"})

	w, _ := env.deliver(t, payload, sig)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if env.ledgerRows(t) != 0 {
		t.Fatal("no ledger row expected")
	}
}

func TestWebhookInvalidSignatureIs400WithoutLedgerRow(t *testing.T) {
	env := newTestEnv(t, testWebhookSecret)
	payload, _ := signed(t, "evt_forged", "checkout.session.completed", map[string]interface{}{"id": "cs_x"})

	w, _ := env.deliver(t, payload, fmt.Sprintf("t=%d,v1=%s", time.Now().Unix(), "00ff"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w, _ = env.deliver(t, payload, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing header, got %d", w.Code)
	}

	if env.ledgerRows(t) != 0 {
		t.Fatal("a rejected delivery must not touch the ledger")
	}
}

func TestCheckoutToPaidOrderFlow(t *testing.T) {
	env := newTestEnv(t, testWebhookSecret)
	userID := uuid.New()
	token := env.token(t, userID)

	p := product.Product{Name: "Art Print", Slug: "art-print", PriceMinor: 1000, Currency: "jpy", IsActive: true}
	if err := env.db.Create(&p).Error; err != nil {
		t.Fatalf("product: %v", err)
	}

	w, _ := env.call(t, http.MethodPost, "/api/v1/cart/items", token, map[string]interface{}{"product_id": p.ID, "quantity": 2})
	if w.Code != http.StatusOK {
		t.Fatalf("add item: %d %s", w.Code, w.Body.String())
	}

	w, body := env.call(t, http.MethodPost, "/api/v1/checkout/payment", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("checkout: %d %s", w.Code, w.Body.String())
	}
	sessionID := body["data"].(map[string]interface{})["session_id"].(string)

	// The customer pays on the hosted page
	sess := env.fake.Sessions[sessionID]
	sess.Status = stripe.CheckoutSessionStatusComplete
	sess.PaymentStatus = stripe.CheckoutSessionPaymentStatusPaid
	sess.AmountSubtotal, sess.AmountTotal = 2000, 2000
	sess.Currency = stripe.Currency("jpy")
	sess.PaymentIntent = &stripe.PaymentIntent{ID: "pi_flow", LatestCharge: &stripe.Charge{ID: "ch_flow"}}
	sess.LineItems = &stripe.LineItemList{Data: []*stripe.LineItem{{
		ID:          "li_flow",
		Quantity:    2,
		Description: p.Name,
		Price: &stripe.Price{
			UnitAmount: 1000,
			Currency:   stripe.Currency("jpy"),
			Product:    &stripe.Product{ID: "prod_flow", Metadata: map[string]string{gateway.MetaProductID: p.ID.String()}},
		},
	}}}

	payload, sig := signed(t, "evt_flow", "checkout.session.completed", map[string]interface{}{
		"id": sessionID, "object": "checkout.session", "mode": "payment",
	})
	w, body = env.deliver(t, payload, sig)
	if w.Code != http.StatusOK || body["status"] != "handled" {
		t.Fatalf("delivery: %d %s", w.Code, w.Body.String())
	}

	w, body = env.deliver(t, payload, sig)
	if w.Code != http.StatusOK || body["status"] != "duplicate" {
		t.Fatalf("redelivery: %d %s", w.Code, w.Body.String())
	}

	w, body = env.call(t, http.MethodGet, "/api/v1/orders/by-session/"+sessionID, token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("order by session: %d", w.Code)
	}
	data := body["data"].(map[string]interface{})
	if data["status"] != string(order.OrderStatusPaid) || data["total_minor"].(float64) != 2000 {
		t.Fatalf("unexpected order %v", data)
	}

	w, body = env.call(t, http.MethodGet, "/api/v1/cart", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cart: %d", w.Code)
	}
	totals := body["data"].(map[string]interface{})["totals"].(map[string]interface{})
	if totals["item_count"].(float64) != 0 {
		t.Fatalf("cart should be empty after payment, got %v", totals)
	}

	// Someone else cannot see the session
	other := env.token(t, uuid.New())
	w, _ = env.call(t, http.MethodGet, "/api/v1/checkout/sessions/"+sessionID, other, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a foreign session, got %d", w.Code)
	}
}

func TestUserRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t, testWebhookSecret)
	for _, path := range []string{"/api/v1/cart", "/api/v1/orders", "/api/v1/subscriptions/me"} {
		w, _ := env.call(t, http.MethodGet, path, "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, w.Code)
		}
	}
}

func TestEmptyCartCheckoutIs400(t *testing.T) {
	env := newTestEnv(t, testWebhookSecret)
	w, body := env.call(t, http.MethodPost, "/api/v1/checkout/payment", env.token(t, uuid.New()), nil)
	if w.Code != http.StatusBadRequest || body["error"] == nil {
		t.Fatalf("expected 400, got %d %s", w.Code, w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "")
	w, body := env.call(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK || body["webhooks"] != false {
		t.Fatalf("health: %d %s", w.Code, w.Body.String())
	}
}
