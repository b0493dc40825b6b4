package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/your-org/marketplace-billing/internal/config"
	"github.com/your-org/marketplace-billing/internal/pkg/auth"
	"github.com/your-org/marketplace-billing/internal/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "billing-test"},
		JWT: config.JWTConfig{
			Secret:            "0123456789abcdef0123456789abcdef",
			AccessTokenExpiry: time.Hour,
		},
		Security: config.SecurityConfig{
			CORSAllowedOrigins: []string{"https://shop.test", "*.shop.test"},
			CORSAllowedMethods: []string{"GET", "POST"},
			CORSAllowedHeaders: []string{"Authorization"},
		},
	}
}

func TestAuthMiddleware(t *testing.T) {
	cfg := testConfig()
	r := gin.New()
	r.GET("/me", AuthMiddleware(cfg), func(c *gin.Context) {
		id, ok := GetUserIDFromContext(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id.String())
	})

	userID := uuid.New()
	token, err := auth.NewJWTManager(cfg).GenerateAccessToken(userID, "a@example.com", false)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-token", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d", w.Code, tc.want)
			}
			if tc.want == http.StatusOK && w.Body.String() != userID.String() {
				t.Fatalf("unexpected user %s", w.Body.String())
			}
		})
	}
}

func TestCORSOrigins(t *testing.T) {
	allowed := testConfig().Security.CORSAllowedOrigins
	cases := map[string]bool{
		"https://shop.test":         true,
		"https://admin.shop.test":   true,
		"https://evilshop.test":     false,
		"https://shop.test.evil.io": false,
	}
	for origin, want := range cases {
		if got := isOriginAllowed(origin, allowed); got != want {
			t.Errorf("isOriginAllowed(%q) = %v, want %v", origin, got, want)
		}
	}
}

func TestRequestIDAndSizeLimit(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), RequestSizeLimit(16))
	r.POST("/echo", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextRequestID))
	})

	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("small"))
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Body.String() != "req-123" || w.Header().Get("X-Request-ID") != "req-123" {
		t.Fatalf("request id not propagated: %q", w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(strings.Repeat("x", 64)))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

type windowCounter struct {
	hits map[string]int64
	err  error
}

func (w *windowCounter) Hit(ctx context.Context, subject string, window time.Duration) (int64, time.Duration, error) {
	if w.err != nil {
		return 0, 0, w.err
	}
	w.hits[subject]++
	return w.hits[subject], 42 * time.Second, nil
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RateLimitPerMinute = 2
	counter := &windowCounter{hits: map[string]int64{}}

	r := gin.New()
	r.GET("/ping", RateLimit(cfg, counter, logger.Discard()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	var w *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	}
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "42" || w.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("unexpected headers %v", w.Header())
	}

	// An unavailable counter never blocks traffic
	counter.err = errors.New("connection refused")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected pass-through when the counter fails, got %d", w.Code)
	}

	open := gin.New()
	open.GET("/ping", RateLimit(cfg, nil, logger.Discard()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	w = httptest.NewRecorder()
	open.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("nil counter should disable limiting, got %d", w.Code)
	}
}
