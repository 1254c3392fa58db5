package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/auth"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/httpx"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/requestctx"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/services"
)

const (
	maxSyncBodySize = 4 * 1024

	triggerAdmin     = "admin"
	triggerScheduler = "scheduler"
)

// ShippingHandlers exposes carrier synchronisation to administrators and to the scheduler.
type ShippingHandlers struct {
	authn         *auth.Authenticator
	sync          services.ShippingSyncService
	notifications services.NotificationDispatcher
	relayBatch    int
}

// ShippingHandlersOption customises ShippingHandlers.
type ShippingHandlersOption func(*ShippingHandlers)

// WithNotificationRelay exposes the outbox relay on the internal routes.
func WithNotificationRelay(dispatcher services.NotificationDispatcher, batch int) ShippingHandlersOption {
	return func(h *ShippingHandlers) {
		h.notifications = dispatcher
		h.relayBatch = batch
	}
}

// NewShippingHandlers constructs the shipping handlers.
func NewShippingHandlers(authn *auth.Authenticator, sync services.ShippingSyncService, opts ...ShippingHandlersOption) *ShippingHandlers {
	h := &ShippingHandlers{authn: authn, sync: sync}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// AdminRoutes registers the administrator endpoints under /admin.
func (h *ShippingHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Post("/shipping/sync", h.adminSync)
}

// InternalRoutes registers the scheduler endpoints under /internal. Callers are authenticated by
// the group middleware.
func (h *ShippingHandlers) InternalRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/shipping/sync", h.scheduledSync)
	r.Post("/notifications/relay", h.relayNotifications)
}

type syncRequest struct {
	TrackingNumber string `json:"trackingNumber,omitempty"`
}

type relayResponse struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Parked    int `json:"parked"`
}

func (h *ShippingHandlers) adminSync(w http.ResponseWriter, r *http.Request) {
	actor := ""
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity != nil {
		actor = identity.UID
	}
	h.runSync(requestctx.WithTrigger(r.Context(), triggerAdmin, actor), w, r)
}

func (h *ShippingHandlers) scheduledSync(w http.ResponseWriter, r *http.Request) {
	actor := ""
	if svc, ok := auth.ServiceIdentityFromContext(r.Context()); ok && svc != nil {
		actor = svc.Email
		if actor == "" {
			actor = svc.Subject
		}
	}
	h.runSync(requestctx.WithTrigger(r.Context(), triggerScheduler, actor), w, r)
}

func (h *ShippingHandlers) runSync(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		httpx.WriteError(ctx, w, httpx.NewError("carrier_not_configured", "shipping synchronisation unavailable", http.StatusServiceUnavailable))
		return
	}

	var req syncRequest
	if !decodeJSONBody(ctx, w, r, maxSyncBodySize, true, &req) {
		return
	}
	trackingNumber := strings.TrimSpace(req.TrackingNumber)
	if trackingNumber == "" {
		trackingNumber = strings.TrimSpace(r.URL.Query().Get("trackingNumber"))
	}

	report, err := h.sync.Sync(ctx, services.ShippingSyncCommand{TrackingNumber: trackingNumber})
	if err != nil {
		writeSyncError(ctx, w, err)
		return
	}
	if report.Results == nil {
		report.Results = []services.ShippingSyncResult{}
	}
	writeJSONResponse(w, http.StatusOK, report)
}

func (h *ShippingHandlers) relayNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.notifications == nil {
		httpx.WriteError(ctx, w, httpx.NewError("notifications_not_configured", "notification relay unavailable", http.StatusServiceUnavailable))
		return
	}
	report, err := h.notifications.Relay(ctx, h.relayBatch)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("relay_failed", "notification relay failed", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, relayResponse{
		Attempted: report.Attempted,
		Sent:      report.Sent,
		Failed:    report.Failed,
		Parked:    report.Parked,
	})
}

func writeSyncError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrSyncNotConfigured):
		httpx.WriteError(ctx, w, httpx.NewError("carrier_not_configured", "carrier credentials are not configured", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrSyncCarrierFailed):
		httpx.WriteError(ctx, w, httpx.NewError("carrier_error", "carrier tracking request failed", http.StatusBadGateway))
	case errors.Is(err, services.ErrSyncInProgress):
		httpx.WriteError(ctx, w, httpx.NewError("sync_in_progress", "a synchronisation run is already in progress", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("sync_failed", "shipping synchronisation failed", http.StatusInternalServerError))
	}
}
