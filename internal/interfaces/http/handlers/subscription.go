// internal/interfaces/http/handlers/subscription.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/your-org/marketplace-billing/internal/domain/reconcile"
	"github.com/your-org/marketplace-billing/internal/domain/subscription"
)

// SubscriptionHandler handles subscription endpoints
type SubscriptionHandler struct {
	subscriptionService *subscription.Service
	reconciler          *reconcile.SubscriptionReconciler
	log                 logrus.FieldLogger
}

// NewSubscriptionHandler creates a new subscription handler
func NewSubscriptionHandler(subscriptionService *subscription.Service, reconciler *reconcile.SubscriptionReconciler, log logrus.FieldLogger) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionService: subscriptionService,
		reconciler:          reconciler,
		log:                 log,
	}
}

// GetMine handles GET /subscriptions/me
func (h *SubscriptionHandler) GetMine(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	subs, err := h.subscriptionService.LiveForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err, "Failed to retrieve subscriptions")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Subscriptions retrieved successfully",
		"data": gin.H{
			"subscriptions": subs,
			"by_target":     subscription.LiveByTarget(subs),
		},
	})
}

// Sync handles POST /subscriptions/sync
func (h *SubscriptionHandler) Sync(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	result, err := h.reconciler.Sync(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err, "Failed to sync subscriptions")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Subscriptions synced",
		"data":    result,
	})
}
