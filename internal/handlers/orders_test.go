package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/idempotency"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/services"
)

const codBody = `{
	"items":[{"productId":"whey","quantity":2}],
	"name":"Amel Ben Salah",
	"phone":"+216 22 333 444",
	"address":{"line1":"12 rue de Marseille","city":"Tunis","postalCode":"1000","country":"TN"},
	"notes":"ring twice"
}`

func newOrdersRouter(svc services.CODOrderService, opts ...OrderHandlersOption) http.Handler {
	h := NewOrderHandlers(testAuthenticator(), svc, opts...)
	r := chi.NewRouter()
	r.Route("/orders", h.Routes)
	return r
}

func TestPlaceCOD_Created(t *testing.T) {
	svc := &stubCODOrderService{result: services.CODOrderResult{Success: true, OrderNumber: "ORD-1-ABCDEF"}}

	rr := doRequest(newOrdersRouter(svc), http.MethodPost, "/orders/cod", codBody, map[string]string{"Authorization": "Bearer customer-token"})

	require.Equal(t, http.StatusCreated, rr.Code)
	var body codOrderResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "ORD-1-ABCDEF", body.OrderNumber)

	assert.True(t, svc.cmd.Authenticated)
	assert.Equal(t, "user-1", svc.cmd.CustomerID)
	assert.Equal(t, "amel@example.com", svc.cmd.CustomerEmail)
	assert.Equal(t, "Tunis", svc.cmd.Address.City)
	assert.Equal(t, "ring twice", svc.cmd.Notes)
	require.Len(t, svc.cmd.Lines, 1)
	assert.Equal(t, int64(2), svc.cmd.Lines[0].Quantity)
}

func TestPlaceCOD_FieldErrors(t *testing.T) {
	svc := &stubCODOrderService{result: services.CODOrderResult{
		Error:       "phone must be a valid local number",
		FieldErrors: map[string]string{services.FieldPhone: "phone must be a valid local number"},
	}}

	rr := doRequest(newOrdersRouter(svc), http.MethodPost, "/orders/cod", codBody, nil)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	var body codOrderResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "phone must be a valid local number", body.FieldErrors["phone"])
	assert.False(t, svc.cmd.Authenticated)
}

func TestPlaceCOD_PersistenceFailureIsGeneric(t *testing.T) {
	svc := &stubCODOrderService{err: errors.New("cod order: unavailable: deadline exceeded")}

	rr := doRequest(newOrdersRouter(svc), http.MethodPost, "/orders/cod", codBody, nil)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	var body codOrderResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, services.CODGenericFailureMessage, body.Error)
	assert.NotContains(t, rr.Body.String(), "deadline")
}

func TestPlaceCOD_IdempotentReplay(t *testing.T) {
	svc := &stubCODOrderService{result: services.CODOrderResult{Success: true, OrderNumber: "ORD-1-ABCDEF"}}
	router := newOrdersRouter(svc, WithOrderIdempotency(idempotency.Middleware(idempotency.NewMemoryStore())))
	headers := map[string]string{"Idempotency-Key": "submit-1"}

	first := doRequest(router, http.MethodPost, "/orders/cod", codBody, headers)
	second := doRequest(router, http.MethodPost, "/orders/cod", codBody, headers)

	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, svc.calls)
}
