package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/repositories"
)

const defaultReadinessTimeout = 3 * time.Second

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// HealthHandlers serve liveness and readiness probes.
type HealthHandlers struct {
	build   BuildInfo
	checks  repositories.HealthRepository
	now     func() time.Time
	timeout time.Duration
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo sets the build metadata reported by /healthz.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthRepository sets the dependency probes used by /readyz.
func WithHealthRepository(repo repositories.HealthRepository) HealthOption {
	return func(h *HealthHandlers) {
		h.checks = repo
	}
}

// WithHealthClock injects a clock.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.now = clock
		}
	}
}

// NewHealthHandlers constructs the probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{now: time.Now, timeout: defaultReadinessTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.now()
	}
	return h
}

type healthzResponse struct {
	Status      domain.HealthStatus `json:"status"`
	Version     string              `json:"version,omitempty"`
	CommitSHA   string              `json:"commitSha,omitempty"`
	Environment string              `json:"environment,omitempty"`
	Uptime      string              `json:"uptime"`
	Timestamp   string              `json:"timestamp"`
}

type readinessCheck struct {
	Name      string              `json:"name"`
	Status    domain.HealthStatus `json:"status"`
	Detail    string              `json:"detail,omitempty"`
	LatencyMS int64               `json:"latencyMs"`
}

type readyzResponse struct {
	Status    domain.HealthStatus `json:"status"`
	Checks    []readinessCheck    `json:"checks"`
	Timestamp string              `json:"timestamp"`
}

// Healthz reports liveness. It never touches dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	writeJSONResponse(w, http.StatusOK, healthzResponse{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		Timestamp:   now.Format(time.RFC3339),
	})
}

// Readyz probes dependencies. Degraded optional dependencies keep the instance ready.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	if h.checks == nil {
		writeJSONResponse(w, http.StatusOK, readyzResponse{Status: domain.HealthStatusOK, Checks: []readinessCheck{}, Timestamp: now.Format(time.RFC3339)})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	report, err := h.checks.Collect(ctx)
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, readyzResponse{
			Status:    domain.HealthStatusError,
			Checks:    []readinessCheck{{Name: "health", Status: domain.HealthStatusError, Detail: err.Error()}},
			Timestamp: now.Format(time.RFC3339),
		})
		return
	}

	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]readinessCheck, 0, len(names))
	for _, name := range names {
		c := report.Checks[name]
		checks = append(checks, readinessCheck{
			Name:      name,
			Status:    c.Status,
			Detail:    c.Detail,
			LatencyMS: c.Latency.Milliseconds(),
		})
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, readyzResponse{Status: report.Status, Checks: checks, Timestamp: now.Format(time.RFC3339)})
}
