// internal/interfaces/http/handlers/response.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/your-org/marketplace-billing/internal/domain/cart"
	"github.com/your-org/marketplace-billing/internal/domain/checkout"
	"github.com/your-org/marketplace-billing/internal/domain/order"
	"github.com/your-org/marketplace-billing/internal/interfaces/http/middleware"
)

// currentUser reads the authenticated user or writes a 401
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "User not authenticated",
		})
		return uuid.Nil, false
	}
	return userID, true
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, checkout.ErrMixedCurrency),
		errors.Is(err, checkout.ErrItemUnavailable),
		errors.Is(err, checkout.ErrNoCustomer),
		errors.Is(err, checkout.ErrPlanNotFound),
		errors.Is(err, checkout.ErrPlanNotPurchasable),
		errors.Is(err, cart.ErrProductNotFound),
		errors.Is(err, cart.ErrCurrencyMismatch),
		errors.Is(err, cart.ErrInvalidOperation):
		return http.StatusBadRequest
	case errors.Is(err, checkout.ErrSessionNotFound),
		errors.Is(err, order.ErrOrderNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the mapped status. Internal details stay in the log.
func respondError(c *gin.Context, log logrus.FieldLogger, err error, fallback string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error(fallback)
		c.JSON(status, gin.H{"error": fallback})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
