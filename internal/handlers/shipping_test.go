package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/services"
)

func newShippingRouter(h *ShippingHandlers) http.Handler {
	r := chi.NewRouter()
	r.Route("/admin", h.AdminRoutes)
	r.Route("/internal", h.InternalRoutes)
	return r
}

func TestAdminSync_RequiresAdmin(t *testing.T) {
	sync := &stubShippingSync{}
	router := newShippingRouter(NewShippingHandlers(testAuthenticator(), sync))

	if rr := doRequest(router, http.MethodPost, "/admin/shipping/sync", "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if rr := doRequest(router, http.MethodPost, "/admin/shipping/sync", "", map[string]string{"Authorization": "Bearer customer-token"}); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if sync.calls != 0 {
		t.Fatalf("sync should not run for rejected callers")
	}
}

func TestAdminSync_SingleTrackingNumber(t *testing.T) {
	sync := &stubShippingSync{report: services.ShippingSyncReport{
		Synced: 1,
		Total:  1,
		Results: []services.ShippingSyncResult{{
			OrderNumber:    "ORD-1-ABCDEF",
			TrackingNumber: "TRK1",
			Status:         "Livré",
			OrderStatus:    domain.OrderStatusDelivered,
			PreviousStatus: domain.OrderStatusShipped,
			Changed:        true,
		}},
	}}
	router := newShippingRouter(NewShippingHandlers(testAuthenticator(), sync))

	rr := doRequest(router, http.MethodPost, "/admin/shipping/sync", `{"trackingNumber":" TRK1 "}`,
		map[string]string{"Authorization": "Bearer admin-token"})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if sync.cmd.TrackingNumber != "TRK1" {
		t.Fatalf("expected trimmed tracking number, got %q", sync.cmd.TrackingNumber)
	}
	if sync.trigger.Source != triggerAdmin || sync.trigger.Actor != "admin-1" {
		t.Fatalf("unexpected trigger %+v", sync.trigger)
	}
	var body services.ShippingSyncReport
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Synced != 1 || len(body.Results) != 1 || body.Results[0].OrderStatus != domain.OrderStatusDelivered {
		t.Fatalf("unexpected report %+v", body)
	}
}

func TestInternalSync_BatchWithoutBody(t *testing.T) {
	sync := &stubShippingSync{report: services.ShippingSyncReport{Message: "no tracked orders to synchronise"}}
	router := newShippingRouter(NewShippingHandlers(nil, sync))

	rr := doRequest(router, http.MethodPost, "/internal/shipping/sync", "", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if sync.cmd.TrackingNumber != "" || sync.trigger.Source != triggerScheduler {
		t.Fatalf("unexpected call %+v %+v", sync.cmd, sync.trigger)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["synced"] != float64(0) || body["message"] != "no tracked orders to synchronise" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestSync_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrSyncNotConfigured, http.StatusServiceUnavailable, "carrier_not_configured"},
		{fmt.Errorf("%w: %w", services.ErrSyncCarrierFailed, errors.New("502 from carrier")), http.StatusBadGateway, "carrier_error"},
		{services.ErrSyncInProgress, http.StatusConflict, "sync_in_progress"},
		{services.ErrSyncUnavailable, http.StatusInternalServerError, "sync_failed"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			router := newShippingRouter(NewShippingHandlers(nil, &stubShippingSync{err: tc.err}))
			rr := doRequest(router, http.MethodPost, "/internal/shipping/sync", "", nil)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestNotificationRelay(t *testing.T) {
	relay := &stubRelay{report: services.RelayReport{Attempted: 3, Sent: 2, Failed: 1, Parked: 1}}
	router := newShippingRouter(NewShippingHandlers(nil, &stubShippingSync{}, WithNotificationRelay(relay, 25)))

	rr := doRequest(router, http.MethodPost, "/internal/notifications/relay", "", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if relay.limit != 25 {
		t.Fatalf("expected batch 25, got %d", relay.limit)
	}
	var body relayResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body != (relayResponse{Attempted: 3, Sent: 2, Failed: 1, Parked: 1}) {
		t.Fatalf("unexpected body %+v", body)
	}

	noRelay := newShippingRouter(NewShippingHandlers(nil, &stubShippingSync{}))
	if rr := doRequest(noRelay, http.MethodPost, "/internal/notifications/relay", "", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without relay, got %d", rr.Code)
	}
}
