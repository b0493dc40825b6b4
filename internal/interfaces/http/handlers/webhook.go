// internal/interfaces/http/handlers/webhook.go
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/your-org/marketplace-billing/internal/domain/webhook"
)

const signatureHeader = "Stripe-Signature"

// WebhookHandler receives gateway event deliveries
type WebhookHandler struct {
	service      *webhook.Service
	maxBodyBytes int64
	log          logrus.FieldLogger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(service *webhook.Service, maxBodyBytes int64, log logrus.FieldLogger) *WebhookHandler {
	return &WebhookHandler{
		service:      service,
		maxBodyBytes: maxBodyBytes,
		log:          log,
	}
}

// Stripe handles POST /webhooks/stripe. A 2xx tells the gateway to stop
// redelivering; a 5xx asks for a retry.
func (h *WebhookHandler) Stripe(c *gin.Context) {
	if !h.service.Configured() {
		h.log.Error("Webhook received but no signing secret is configured")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Webhook endpoint not configured",
		})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "Request body too large",
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to read request body",
		})
		return
	}

	result, err := h.service.Handle(c.Request.Context(), body, c.GetHeader(signatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrInvalidSignature):
			h.log.WithError(err).Warn("Rejected webhook with invalid signature")
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid signature",
			})
		case errors.Is(err, webhook.ErrMissingSecret):
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Webhook endpoint not configured",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Webhook processing failed",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received": true,
		"status":   result.Status,
		"event_id": result.EventID,
	})
}
