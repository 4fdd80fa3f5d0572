package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	billingapp "github.com/userstack/backend/internal/application/billing"
	infrabilling "github.com/userstack/backend/internal/infrastructure/billing"
)

// Maximum webhook payload size (64KB, Stripe webhooks are small)
const maxWebhookPayloadSize = 65536

// WebhookHandler receives billing events pushed by Stripe.
// These endpoints are authenticated by signature, not by session.
type WebhookHandler struct {
	normalizer *infrabilling.WebhookNormalizer
	reconciler *billingapp.Reconciler
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(normalizer *infrabilling.WebhookNormalizer, reconciler *billingapp.Reconciler) *WebhookHandler {
	return &WebhookHandler{normalizer: normalizer, reconciler: reconciler}
}

// RegisterRoutes registers webhook routes directly on the engine; the
// billing provider does not use the versioned API prefix
func (h *WebhookHandler) RegisterRoutes(engine *gin.Engine) {
	engine.POST("/webhooks/billing", h.HandleBillingWebhook)
}

// WebhookResponse acknowledges a delivered webhook
type WebhookResponse struct {
	Received bool   `json:"received"`
	EventID  string `json:"event_id,omitempty"`
	Message  string `json:"message,omitempty"`
}

// HandleBillingWebhook verifies and applies one pushed billing event.
// Duplicates, stale events, and unknown event types are acknowledged
// with 200 so the provider stops retrying.
func (h *WebhookHandler) HandleBillingWebhook(c *gin.Context) {
	// Stripe requires the raw body for signature verification
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookPayloadSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, WebhookResponse{Message: "Failed to read request body"})
		return
	}
	if len(payload) > maxWebhookPayloadSize {
		c.JSON(http.StatusRequestEntityTooLarge, WebhookResponse{Message: "Payload too large"})
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if signature == "" {
		c.JSON(http.StatusUnauthorized, WebhookResponse{Message: "Missing Stripe-Signature header"})
		return
	}

	event, err := h.normalizer.Normalize(payload, signature)
	if err != nil {
		c.JSON(http.StatusUnauthorized, WebhookResponse{Message: "Webhook signature verification failed"})
		return
	}

	result, err := h.reconciler.Process(c.Request.Context(), event)
	if err != nil {
		// Processing failed transiently; a non-2xx answer makes the
		// provider redeliver, and idempotency absorbs the repeats.
		c.JSON(http.StatusInternalServerError, WebhookResponse{Message: "Event processing failed"})
		return
	}

	resp := WebhookResponse{Received: true, EventID: result.EventID}
	if result.Skipped {
		resp.Message = result.SkipReason
	}
	c.JSON(http.StatusOK, resp)
}
