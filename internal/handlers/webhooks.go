package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/httpx"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/services"
)

const (
	maxWebhookBodySize     = 512 * 1024
	stripeSignatureHeader  = "Stripe-Signature"
	webhookRejectMalformed = "malformed"
)

// PaymentWebhookHandlers receives payment gateway deliveries.
type PaymentWebhookHandlers struct {
	payments services.PaymentConfirmationService
}

// NewPaymentWebhookHandlers constructs the webhook handlers.
func NewPaymentWebhookHandlers(payments services.PaymentConfirmationService) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{payments: payments}
}

// Routes registers the webhook endpoints. Deliveries authenticate by signature, not by bearer token.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/stripe", h.handleStripe)
}

type webhookResponse struct {
	Received    bool   `json:"received"`
	Ignored     bool   `json:"ignored,omitempty"`
	Duplicate   bool   `json:"duplicate,omitempty"`
	Rejected    string `json:"rejected,omitempty"`
	OrderNumber string `json:"orderNumber,omitempty"`
}

// handleStripe answers 2xx for anything a redelivery cannot change and 5xx only when a retry can succeed.
func (h *PaymentWebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_not_configured", "payment webhook not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusRequestEntityTooLarge))
		return
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	outcome, err := h.payments.HandleEvent(ctx, body, r.Header.Get(stripeSignatureHeader))
	switch {
	case errors.Is(err, services.ErrPaymentUnauthenticated):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	case errors.Is(err, services.ErrPaymentNotConfigured):
		httpx.WriteError(ctx, w, httpx.NewError("webhook_not_configured", "payment webhook not configured", http.StatusServiceUnavailable))
		return
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("webhook_processing_failed", "webhook could not be processed, retry later", http.StatusInternalServerError))
		return
	}

	resp := webhookResponse{Received: true, OrderNumber: outcome.OrderNumber}
	switch outcome.Kind {
	case services.PaymentIgnored:
		resp.Ignored = true
	case services.PaymentDuplicate:
		resp.Duplicate = true
	case services.PaymentMalformed:
		resp.Rejected = webhookRejectMalformed
	}
	writeJSONResponse(w, http.StatusOK, resp)
}
