package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/your-org/marketplace-billing/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "billing-test"},
		JWT: config.JWTConfig{
			Secret:            "0123456789abcdef0123456789abcdef",
			AccessTokenExpiry: time.Hour,
		},
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	m := NewJWTManager(testConfig())
	userID := uuid.New()

	token, err := m.GenerateAccessToken(userID, "buyer@example.com", false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := m.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	got, err := claims.UserUUID()
	if err != nil {
		t.Fatalf("user uuid: %v", err)
	}
	if got != userID {
		t.Fatalf("expected %s, got %s", userID, got)
	}
	if claims.Email != "buyer@example.com" {
		t.Fatalf("unexpected email %q", claims.Email)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTManager(testConfig()).GenerateAccessToken(uuid.New(), "a@example.com", false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	other := testConfig()
	other.JWT.Secret = "ffffffffffffffffffffffffffffffff"
	if _, err := NewJWTManager(other).ValidateAccessToken(token); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestValidateFallsBackToSubject(t *testing.T) {
	cfg := testConfig()
	userID := uuid.New()
	claims := &Claims{
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWT.Secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	parsed, err := NewJWTManager(cfg).ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if parsed.UserID != userID.String() {
		t.Fatalf("expected subject fallback, got %q", parsed.UserID)
	}
}

func TestExtractTokenFromHeader(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":  "abc",
		"bearer abc ": "abc",
		"Basic abc":   "",
		"Bearer":      "",
		"":            "",
	}
	for header, want := range cases {
		if got := ExtractTokenFromHeader(header); got != want {
			t.Errorf("ExtractTokenFromHeader(%q) = %q, want %q", header, got, want)
		}
	}
}
