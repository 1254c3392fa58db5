// Package carrier queries the delivery carrier for parcel statuses.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
)

var (
	// ErrCarrierNotConfigured is returned before any network call when no credential is set.
	ErrCarrierNotConfigured = errors.New("carrier: credentials not configured")
	// ErrCarrierRejected means the carrier answered with a non-success result.
	ErrCarrierRejected = errors.New("carrier: request rejected")
	// ErrCarrierUnavailable means the carrier could not be reached or answered with a server error.
	ErrCarrierUnavailable = errors.New("carrier: unavailable")
)

const (
	resultTypeSuccess = "success"
	trackingPath      = "/api/tracking/status"
	maxResponseBytes  = 4 << 20
)

// Client returns the current status of every tracking number in one request.
type Client interface {
	Statuses(ctx context.Context, trackingNumbers []string) ([]domain.TrackingStatus, error)
}

// HTTPClientConfig configures NewHTTPClient.
type HTTPClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	Backoff    gax.Backoff
}

// HTTPClient talks to the carrier's JSON tracking API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	maxRetries int
	client     *http.Client
	backoff    gax.Backoff
	sleep      func(ctx context.Context, d time.Duration) error
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient constructs the client. A missing API key is accepted here and reported by Statuses.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	backoff := cfg.Backoff
	if backoff.Initial == 0 {
		backoff = gax.Backoff{Initial: 250 * time.Millisecond, Max: 2 * time.Second, Multiplier: 2}
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		maxRetries: max(cfg.MaxRetries, 0),
		client:     httpClient,
		backoff:    backoff,
		sleep:      gax.Sleep,
	}
}

// Configured reports whether the client has the credential and endpoint it needs.
func (c *HTTPClient) Configured() bool {
	return c != nil && c.apiKey != "" && c.baseURL != ""
}

type statusRequest struct {
	Codes []string `json:"codes"`
}

type statusEnvelope struct {
	ResultType    string          `json:"result_type"`
	ResultContent json.RawMessage `json:"result_content"`
}

type statusEntry struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// Statuses implements Client. Transport failures and 5xx answers are retried with backoff.
func (c *HTTPClient) Statuses(ctx context.Context, trackingNumbers []string) ([]domain.TrackingStatus, error) {
	if !c.Configured() {
		return nil, ErrCarrierNotConfigured
	}
	if len(trackingNumbers) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(statusRequest{Codes: trackingNumbers})
	if err != nil {
		return nil, fmt.Errorf("carrier: encode request: %w", err)
	}

	backoff := c.backoff
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, backoff.Pause()); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCarrierUnavailable, err)
			}
		}
		envelope, retry, err := c.do(ctx, body)
		if err == nil {
			return decodeStatuses(envelope, trackingNumbers)
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return nil, lastErr
}

func (c *HTTPClient) do(ctx context.Context, body []byte) (statusEnvelope, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+trackingPath, bytes.NewReader(body))
	if err != nil {
		return statusEnvelope{}, false, fmt.Errorf("carrier: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return statusEnvelope{}, ctx.Err() == nil, fmt.Errorf("%w: %v", ErrCarrierUnavailable, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return statusEnvelope{}, true, fmt.Errorf("%w: read body: %v", ErrCarrierUnavailable, err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return statusEnvelope{}, true, fmt.Errorf("%w: status %d", ErrCarrierUnavailable, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return statusEnvelope{}, false, fmt.Errorf("%w: status %d", ErrCarrierRejected, resp.StatusCode)
	}

	var envelope statusEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return statusEnvelope{}, false, fmt.Errorf("%w: decode response: %v", ErrCarrierRejected, err)
	}
	if !strings.EqualFold(strings.TrimSpace(envelope.ResultType), resultTypeSuccess) {
		return statusEnvelope{}, false, fmt.Errorf("%w: result type %q", ErrCarrierRejected, envelope.ResultType)
	}
	return envelope, false, nil
}

// decodeStatuses accepts either a list of {code,state} or a single object. A single object without
// a code is attributed to the only requested tracking number.
func decodeStatuses(envelope statusEnvelope, requested []string) ([]domain.TrackingStatus, error) {
	content := bytes.TrimSpace(envelope.ResultContent)
	if len(content) == 0 || bytes.Equal(content, []byte("null")) {
		return nil, nil
	}

	var entries []statusEntry
	if content[0] == '[' {
		if err := json.Unmarshal(content, &entries); err != nil {
			return nil, fmt.Errorf("%w: decode result content: %v", ErrCarrierRejected, err)
		}
	} else {
		var single statusEntry
		if err := json.Unmarshal(content, &single); err != nil {
			return nil, fmt.Errorf("%w: decode result content: %v", ErrCarrierRejected, err)
		}
		if single.Code == "" && len(requested) == 1 {
			single.Code = requested[0]
		}
		entries = []statusEntry{single}
	}

	out := make([]domain.TrackingStatus, 0, len(entries))
	for _, entry := range entries {
		code := strings.TrimSpace(entry.Code)
		if code == "" {
			continue
		}
		out = append(out, domain.TrackingStatus{TrackingNumber: code, RawStatus: strings.TrimSpace(entry.State)})
	}
	return out, nil
}
