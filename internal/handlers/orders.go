package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/auth"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/httpx"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/requestctx"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/services"
	"go.uber.org/zap"
)

const maxOrderBodySize = 32 * 1024

// OrderHandlers exposes cash-on-delivery order placement.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.CODOrderService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderIdempotency wraps order placement in the given replay middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs the order handlers.
func NewOrderHandlers(authn *auth.Authenticator, orders services.CODOrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{authn: authn, orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the order endpoints against the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	if h.idempotency != nil {
		r.With(h.idempotency).Post("/cod", h.placeCOD)
		return
	}
	r.Post("/cod", h.placeCOD)
}

type addressPayload struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

type codOrderRequest struct {
	Items   []cartLinePayload `json:"items"`
	Name    string            `json:"name"`
	Phone   string            `json:"phone"`
	Email   string            `json:"email,omitempty"`
	Address addressPayload    `json:"address"`
	Notes   string            `json:"notes,omitempty"`
}

type codOrderResponse struct {
	Success     bool              `json:"success"`
	OrderNumber string            `json:"orderNumber,omitempty"`
	Error       string            `json:"error,omitempty"`
	FieldErrors map[string]string `json:"fieldErrors,omitempty"`
}

func (h *OrderHandlers) placeCOD(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req codOrderRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, false, &req) {
		return
	}

	cmd := services.PlaceCODOrderCommand{
		Lines: toCartLines(req.Items),
		Name:  req.Name,
		Phone: req.Phone,
		Email: req.Email,
		Address: domain.Address{
			Line1:      req.Address.Line1,
			Line2:      req.Address.Line2,
			City:       req.Address.City,
			PostalCode: req.Address.PostalCode,
			Country:    req.Address.Country,
		},
		Notes: req.Notes,
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		cmd.Authenticated = true
		cmd.CustomerID = identity.UID
		cmd.CustomerEmail = strings.TrimSpace(identity.Email)
	}

	result, err := h.orders.PlaceOrder(ctx, cmd)
	if err != nil {
		requestctx.Logger(ctx).Error("cod order failed", zap.Error(err))
		writeJSONResponse(w, http.StatusInternalServerError, codOrderResponse{
			Success: false,
			Error:   services.CODGenericFailureMessage,
		})
		return
	}
	if !result.Success {
		writeJSONResponse(w, http.StatusBadRequest, codOrderResponse{
			Success:     false,
			Error:       result.Error,
			FieldErrors: result.FieldErrors,
		})
		return
	}
	writeJSONResponse(w, http.StatusCreated, codOrderResponse{
		Success:     true,
		OrderNumber: result.OrderNumber,
	})
}
