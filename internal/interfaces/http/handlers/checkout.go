// internal/interfaces/http/handlers/checkout.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/your-org/marketplace-billing/internal/domain/checkout"
	"github.com/your-org/marketplace-billing/internal/interfaces/http/middleware"
)

// CheckoutHandler handles checkout and billing portal endpoints
type CheckoutHandler struct {
	checkoutService *checkout.Service
	log             logrus.FieldLogger
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(checkoutService *checkout.Service, log logrus.FieldLogger) *CheckoutHandler {
	return &CheckoutHandler{
		checkoutService: checkoutService,
		log:             log,
	}
}

// bindOptional accepts an empty body
func bindOptional(c *gin.Context, req *checkout.StartRequest) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return false
	}
	return true
}

// StartPayment handles POST /checkout/payment
func (h *CheckoutHandler) StartPayment(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req checkout.StartRequest
	if !bindOptional(c, &req) {
		return
	}
	email, _ := middleware.GetUserEmailFromContext(c)

	resp, err := h.checkoutService.StartCheckout(c.Request.Context(), userID, email, req.ReturnPath)
	if err != nil {
		respondError(c, h.log, err, "Failed to start checkout")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Checkout session created",
		"data":    resp,
	})
}

// StartSubscription handles POST /checkout/subscription
func (h *CheckoutHandler) StartSubscription(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req checkout.StartRequest
	if !bindOptional(c, &req) {
		return
	}
	if req.PlanID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "plan_id is required",
		})
		return
	}
	email, _ := middleware.GetUserEmailFromContext(c)

	resp, err := h.checkoutService.StartSubscriptionCheckout(c.Request.Context(), userID, email, req.PlanID, req.ReturnPath)
	if err != nil {
		respondError(c, h.log, err, "Failed to start subscription checkout")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Checkout session created",
		"data":    resp,
	})
}

// Portal handles POST /billing/portal
func (h *CheckoutHandler) Portal(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req checkout.StartRequest
	if !bindOptional(c, &req) {
		return
	}

	resp, err := h.checkoutService.CreatePortalSession(c.Request.Context(), userID, req.ReturnPath)
	if err != nil {
		respondError(c, h.log, err, "Failed to open billing portal")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Billing portal session created",
		"data":    resp,
	})
}

// GetSession handles GET /checkout/sessions/:id
func (h *CheckoutHandler) GetSession(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	status, err := h.checkoutService.GetSession(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, "Failed to retrieve checkout session")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Checkout session retrieved successfully",
		"data":    status,
	})
}
