package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stripe/stripe-go/v82"
)

func TestIsNotFound(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"resource missing", &stripe.Error{Code: stripe.ErrorCodeResourceMissing}, true},
		{"http 404", &stripe.Error{HTTPStatusCode: http.StatusNotFound}, true},
		{"wrapped", fmt.Errorf("retrieve customer: %w", &stripe.Error{Code: stripe.ErrorCodeResourceMissing}), true},
		{"sentinel", fmt.Errorf("customer deleted: %w", ErrNotFound), true},
		{"rate limited", &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsNotFound(tc.err); got != tc.want {
				t.Fatalf("IsNotFound(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
