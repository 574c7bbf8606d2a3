package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/Carrie-PLH/plus/internal/billing"
	"github.com/Carrie-PLH/plus/internal/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

type BillingHandler struct {
	service *billing.Service
	logger  *zap.Logger
}

func NewBillingHandler(service *billing.Service, logger *zap.Logger) *BillingHandler {
	return &BillingHandler{service: service, logger: nopIfNil(logger)}
}

// Handles POST /v1/billing/checkout
func (h *BillingHandler) Checkout(c *gin.Context) {
	var req struct {
		Tier       string `json:"tier" binding:"required"`
		Interval   string `json:"interval"`
		SuccessURL string `json:"successUrl"`
		CancelURL  string `json:"cancelUrl"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "Provide 'tier'")
		return
	}

	sess, err := h.service.CreateCheckoutSession(c.Request.Context(), billing.CheckoutRequest{
		UID:        callerID(c),
		Email:      c.GetString(middleware.EmailKey),
		Tier:       req.Tier,
		Interval:   req.Interval,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		h.billingError(c, err, "Failed to create checkout session")
		return
	}
	ok(c, http.StatusOK, sess)
}

// Handles POST /v1/billing/portal
func (h *BillingHandler) Portal(c *gin.Context) {
	var req struct {
		ReturnURL string `json:"returnUrl"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		invalid(c, "Request body must be a JSON object")
		return
	}

	url, err := h.service.CreatePortalSession(c.Request.Context(), callerID(c), req.ReturnURL)
	if err != nil {
		h.billingError(c, err, "Failed to create portal session")
		return
	}
	ok(c, http.StatusOK, gin.H{"url": url})
}

// Handles POST /v1/billing/webhook. The raw body is needed for the
// signature check.
func (h *BillingHandler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		invalid(c, "Could not read body")
		return
	}

	ev, err := h.service.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, billing.ErrSignature) {
			h.logger.Warn("webhook signature verification failed", zap.Error(err))
			fail(c, http.StatusBadRequest, "Webhook signature verification failed", "invalid_signature")
			return
		}
		h.billingError(c, err, "Webhook processing failed")
		return
	}
	ok(c, http.StatusOK, gin.H{"received": true, "type": ev.Type})
}

func (h *BillingHandler) billingError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, billing.ErrNotConfigured):
		fail(c, http.StatusServiceUnavailable, "Billing is not available", "billing_unavailable")
	case errors.Is(err, billing.ErrUnknownPrice):
		invalid(c, "No price is configured for this plan")
	case errors.Is(err, billing.ErrNoCustomer):
		fail(c, http.StatusNotFound, "No subscription found", "not_found")
	default:
		h.logger.Error(message, zap.String("user_id", callerID(c)), zap.Error(err))
		fail(c, http.StatusBadGateway, message, "billing_error")
	}
}
