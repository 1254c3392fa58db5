package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
)

func TestNewRouter_DefaultMounts(t *testing.T) {
	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	health := NewHealthHandlers(
		WithHealthRepository(&stubHealthRepository{report: domain.HealthReport{
			Status: domain.HealthStatusOK,
			Checks: map[string]domain.HealthCheck{"firestore": {Status: domain.HealthStatusOK}},
		}}),
		WithHealthClock(func() time.Time { return now }),
	)
	router := NewRouter(WithHealthHandlers(health))

	t.Run("healthz", func(t *testing.T) {
		rr := doRequest(router, http.MethodGet, "/healthz", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("expected content-type application/json, got %s", ct)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		rr := doRequest(router, http.MethodGet, "/readyz", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("unregistered group answers not implemented", func(t *testing.T) {
		rr := doRequest(router, http.MethodPost, "/api/v1/orders/cod", "{}", nil)
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("expected status 501, got %d", rr.Code)
		}
	})

	t.Run("unknown route", func(t *testing.T) {
		rr := doRequest(router, http.MethodGet, "/nope", "", nil)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rr.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["error"] != errorNotFoundCode {
			t.Fatalf("expected route_not_found, got %v", body["error"])
		}
	})

	t.Run("metrics not mounted by default", func(t *testing.T) {
		rr := doRequest(router, http.MethodGet, "/metrics", "", nil)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestNewRouter_InternalMiddlewareGuardsGroup(t *testing.T) {
	deny := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Test-Allow") != "yes" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	router := NewRouter(
		WithInternalMiddlewares(deny),
		WithInternalRoutes(func(r chi.Router) {
			r.Post("/ping", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
		}),
		WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })),
	)

	if rr := doRequest(router, http.MethodPost, "/api/v1/internal/ping", "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without allow header, got %d", rr.Code)
	}
	if rr := doRequest(router, http.MethodPost, "/api/v1/internal/ping", "", map[string]string{"X-Test-Allow": "yes"}); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr := doRequest(router, http.MethodGet, "/metrics", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", rr.Code)
	}
}

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{Version: "1.0.0", CommitSHA: "abc123", Environment: "prod", StartedAt: start}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := doRequest(http.HandlerFunc(handlers.Healthz), http.MethodGet, "/healthz", "", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["status"] != string(domain.HealthStatusOK) {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
	if body["version"] != "1.0.0" || body["commitSha"] != "abc123" {
		t.Fatalf("unexpected build info: %v", body)
	}
	if body["uptime"] != "30s" {
		t.Fatalf("expected uptime 30s, got %v", body["uptime"])
	}
}

func TestHealthHandlersReadyz(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 1, 0, 0, time.UTC)

	t.Run("degraded stays ready", func(t *testing.T) {
		handlers := NewHealthHandlers(
			WithHealthRepository(&stubHealthRepository{report: domain.HealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.HealthCheck{
					"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond},
					"redis":     {Status: domain.HealthStatusDegraded, Detail: "not configured"},
				},
			}}),
			WithHealthClock(func() time.Time { return now }),
		)
		rr := doRequest(http.HandlerFunc(handlers.Readyz), http.MethodGet, "/readyz", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var body readyzResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body.Checks) != 2 || body.Checks[0].Name != "firestore" || body.Checks[0].LatencyMS != 12 {
			t.Fatalf("unexpected checks: %+v", body.Checks)
		}
	})

	t.Run("error is unavailable", func(t *testing.T) {
		handlers := NewHealthHandlers(WithHealthRepository(&stubHealthRepository{report: domain.HealthReport{
			Status: domain.HealthStatusError,
			Checks: map[string]domain.HealthCheck{"firestore": {Status: domain.HealthStatusError, Detail: "deadline exceeded"}},
		}}))
		rr := doRequest(http.HandlerFunc(handlers.Readyz), http.MethodGet, "/readyz", "", nil)
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", rr.Code)
		}
	})

	t.Run("collect failure is unavailable", func(t *testing.T) {
		handlers := NewHealthHandlers(WithHealthRepository(&stubHealthRepository{err: errors.New("boom")}))
		rr := doRequest(http.HandlerFunc(handlers.Readyz), http.MethodGet, "/readyz", "", nil)
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", rr.Code)
		}
	})
}
