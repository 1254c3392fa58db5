package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/auth"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/httpx"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/services"
)

const (
	maxCheckoutBodySize = 32 * 1024
	idempotencyHeader   = "Idempotency-Key"
)

// CheckoutHandlers exposes cart validation and gateway checkout session endpoints.
type CheckoutHandlers struct {
	authn     *auth.Authenticator
	validator services.CheckoutValidator
}

// NewCheckoutHandlers constructs the checkout handlers. authn may be nil, in which case every caller is a guest.
func NewCheckoutHandlers(authn *auth.Authenticator, validator services.CheckoutValidator) *CheckoutHandlers {
	return &CheckoutHandlers{authn: authn, validator: validator}
}

// Routes registers the checkout endpoints against the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	r.Post("/validate", h.validate)
	r.Post("/session", h.openSession)
}

type cartLinePayload struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unitPrice,omitempty"`
}

type checkoutRequest struct {
	Items []cartLinePayload `json:"items"`
	Email string            `json:"email,omitempty"`
}

type validatedLinePayload struct {
	ProductID    string `json:"productId"`
	Name         string `json:"name"`
	Quantity     int64  `json:"quantity"`
	UnitPrice    int64  `json:"unitPrice"`
	Subtotal     int64  `json:"subtotal"`
	PriceChanged bool   `json:"priceChanged,omitempty"`
}

type lineFailurePayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name,omitempty"`
	Reason    string `json:"reason"`
	Requested int64  `json:"requested"`
	Available int64  `json:"available,omitempty"`
	Message   string `json:"message"`
}

type validationResponse struct {
	Valid        bool                   `json:"valid"`
	Items        []validatedLinePayload `json:"items"`
	Failures     []lineFailurePayload   `json:"failures"`
	Total        int64                  `json:"total"`
	Currency     string                 `json:"currency"`
	PriceChanged bool                   `json:"priceChanged"`
}

type sessionResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
	ExpiresAt string `json:"expiresAt,omitempty"`
	Total     int64  `json:"total"`
	Currency  string `json:"currency"`
}

func (h *CheckoutHandlers) validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.validator == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req checkoutRequest
	if !decodeJSONBody(ctx, w, r, maxCheckoutBodySize, false, &req) {
		return
	}

	result, err := h.validator.Validate(ctx, toCartLines(req.Items))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildValidationResponse(result))
}

func (h *CheckoutHandlers) openSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.validator == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req checkoutRequest
	if !decodeJSONBody(ctx, w, r, maxCheckoutBodySize, false, &req) {
		return
	}

	cmd := services.OpenCheckoutSessionCommand{
		Lines:          toCartLines(req.Items),
		Email:          strings.TrimSpace(req.Email),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyHeader)),
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		cmd.PayerID = identity.UID
		if cmd.Email == "" {
			cmd.Email = identity.Email
		}
	}

	result, err := h.validator.OpenSession(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	if result.Session == nil {
		writeJSONResponse(w, http.StatusUnprocessableEntity, buildValidationResponse(result.Validation))
		return
	}

	resp := sessionResponse{
		SessionID: result.Session.ID,
		URL:       result.Session.RedirectURL,
		Total:     result.Validation.Total,
		Currency:  result.Validation.Currency,
	}
	if !result.Session.ExpiresAt.IsZero() {
		resp.ExpiresAt = result.Session.ExpiresAt.UTC().Format(time.RFC3339)
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func toCartLines(items []cartLinePayload) []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, domain.CartLine{
			ProductID:        strings.TrimSpace(item.ProductID),
			Quantity:         item.Quantity,
			ClaimedUnitPrice: item.UnitPrice,
		})
	}
	return lines
}

func buildValidationResponse(result services.CheckoutValidation) validationResponse {
	resp := validationResponse{
		Valid:        result.Valid(),
		Items:        make([]validatedLinePayload, 0, len(result.Lines)),
		Failures:     make([]lineFailurePayload, 0, len(result.Failures)),
		Total:        result.Total,
		Currency:     result.Currency,
		PriceChanged: result.PriceChanged,
	}
	for _, line := range result.Lines {
		resp.Items = append(resp.Items, validatedLinePayload{
			ProductID:    line.ProductID,
			Name:         line.Name,
			Quantity:     line.Quantity,
			UnitPrice:    line.UnitPrice,
			Subtotal:     line.Subtotal(),
			PriceChanged: line.PriceChanged,
		})
	}
	for _, failure := range result.Failures {
		resp.Failures = append(resp.Failures, lineFailurePayload{
			ProductID: failure.ProductID,
			Name:      failure.Name,
			Reason:    string(failure.Reason),
			Requested: failure.Requested,
			Available: failure.Available,
			Message:   failure.Message,
		})
	}
	return resp
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_cart", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutTooManyItems):
		httpx.WriteError(ctx, w, httpx.NewError("too_many_items", "cart has too many items for a single checkout", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_provider_error", "payment provider could not open a checkout", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "checkout failed", http.StatusInternalServerError))
	}
}
