package config

import (
	"testing"
	"time"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("SITE_URL", "https://shop.example.com/")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("NOTIFY_TIMEOUT", "2s")
	t.Setenv("STRIPE_VERIFY_CUSTOMER", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.External.Stripe.WebhookSecret != "whsec_test" {
		t.Fatalf("expected webhook secret, got %q", cfg.External.Stripe.WebhookSecret)
	}
	if cfg.Checkout.SiteURL != "https://shop.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Checkout.SiteURL)
	}
	if got := cfg.Security.CORSAllowedOrigins; len(got) != 2 || got[1] != "https://b.example.com" {
		t.Fatalf("unexpected origins: %#v", got)
	}
	if cfg.External.Notify.Timeout != 2*time.Second {
		t.Fatalf("expected 2s notify timeout, got %s", cfg.External.Notify.Timeout)
	}
	if cfg.External.Stripe.VerifyCustomer {
		t.Fatal("expected customer verification disabled")
	}
	if cfg.Webhook.MaxBodyBytes != 1<<20 {
		t.Fatalf("expected 1MiB default body cap, got %d", cfg.Webhook.MaxBodyBytes)
	}
}

func TestLoadAllowsMissingWebhookSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.External.Stripe.WebhookSecret != "" {
		t.Fatalf("expected empty secret, got %q", cfg.External.Stripe.WebhookSecret)
	}
}

func TestValidateRejectsShortJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for short JWT secret")
	}
}

func TestSiteURLFor(t *testing.T) {
	cfg := &Config{Checkout: CheckoutConfig{SiteURL: "https://shop.example.com"}}

	if got := cfg.SiteURLFor("/cart"); got != "https://shop.example.com/cart" {
		t.Fatalf("unexpected url %q", got)
	}
	if got := cfg.SiteURLFor("account"); got != "https://shop.example.com/account" {
		t.Fatalf("unexpected url %q", got)
	}
}
