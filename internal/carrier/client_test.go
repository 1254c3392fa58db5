package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, retries int) (*HTTPClient, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	client := NewHTTPClient(HTTPClientConfig{BaseURL: srv.URL, APIKey: "key", MaxRetries: retries})
	client.sleep = func(context.Context, time.Duration) error { return nil }
	return client, &calls
}

func TestStatusesList(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.Equal(t, trackingPath, r.URL.Path)
		var req statusRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"T1", "T2"}, req.Codes)
		_, _ = w.Write([]byte(`{"result_type":"success","result_content":[{"code":"T1","state":"Livré"},{"code":"T2","state":" En transit "}]}`))
	}, 0)

	statuses, err := client.Statuses(context.Background(), []string{"T1", "T2"})
	require.NoError(t, err)
	assert.Equal(t, []domain.TrackingStatus{
		{TrackingNumber: "T1", RawStatus: "Livré"},
		{TrackingNumber: "T2", RawStatus: "En transit"},
	}, statuses)
}

func TestStatusesSingleObject(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result_type":"success","result_content":{"state":"Retour expéditeur"}}`))
	}, 0)

	statuses, err := client.Statuses(context.Background(), []string{"T9"})
	require.NoError(t, err)
	assert.Equal(t, []domain.TrackingStatus{{TrackingNumber: "T9", RawStatus: "Retour expéditeur"}}, statuses)
}

func TestStatusesErrorResultType(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result_type":"auth_error","result_content":"invalid key"}`))
	}, 2)

	_, err := client.Statuses(context.Background(), []string{"T1"})
	assert.True(t, errors.Is(err, ErrCarrierRejected))
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestStatusesRetriesServerErrors(t *testing.T) {
	var attempt int32
	client, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&attempt, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"result_type":"success","result_content":[]}`))
	}, 2)

	statuses, err := client.Statuses(context.Background(), []string{"T1"})
	require.NoError(t, err)
	assert.Empty(t, statuses)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestStatusesUnavailableAfterRetries(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, 1)

	_, err := client.Statuses(context.Background(), []string{"T1"})
	assert.True(t, errors.Is(err, ErrCarrierUnavailable))
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestStatusesNotConfiguredMakesNoCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { atomic.AddInt32(&calls, 1) }))
	defer srv.Close()

	client := NewHTTPClient(HTTPClientConfig{BaseURL: srv.URL})
	_, err := client.Statuses(context.Background(), []string{"T1"})
	assert.ErrorIs(t, err, ErrCarrierNotConfigured)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestMapStatus(t *testing.T) {
	cases := []struct {
		raw   string
		want  domain.OrderStatus
		known bool
	}{
		{"Livré", domain.OrderStatusDelivered, true},
		{"LIVRE AU DESTINATAIRE", domain.OrderStatusDelivered, true},
		{"En cours de livraison", domain.OrderStatusShipped, true},
		{"Arrivé au dépôt", domain.OrderStatusShipped, true},
		{"Retourné à l'expéditeur", domain.OrderStatusCancelled, true},
		{"Retourné à l’expéditeur", domain.OrderStatusCancelled, true},
		{"Anomalie", domain.OrderStatusCancelled, true},
		{"En attente d'enlèvement", "", true},
		{"Colis en cours de dédouanement", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got := MapStatus(tc.raw)
		assert.Equal(t, tc.want, got.Status, tc.raw)
		assert.Equal(t, tc.known, got.Known, tc.raw)
	}
}
