package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/services"
)

func newWebhookRouter(svc services.PaymentConfirmationService) http.Handler {
	r := chi.NewRouter()
	r.Route("/webhooks", NewPaymentWebhookHandlers(svc).Routes)
	return r
}

func TestStripeWebhook_Outcomes(t *testing.T) {
	cases := []struct {
		name    string
		outcome services.PaymentOutcome
		check   func(t *testing.T, body webhookResponse)
	}{
		{
			name:    "materialized",
			outcome: services.PaymentOutcome{Kind: services.PaymentMaterialized, OrderNumber: "ORD-9-QWERTY"},
			check: func(t *testing.T, body webhookResponse) {
				if body.OrderNumber != "ORD-9-QWERTY" || body.Duplicate || body.Ignored {
					t.Fatalf("unexpected body %+v", body)
				}
			},
		},
		{
			name:    "duplicate",
			outcome: services.PaymentOutcome{Kind: services.PaymentDuplicate, OrderNumber: "ORD-9-QWERTY"},
			check: func(t *testing.T, body webhookResponse) {
				if !body.Duplicate {
					t.Fatalf("expected duplicate, got %+v", body)
				}
			},
		},
		{
			name:    "ignored",
			outcome: services.PaymentOutcome{Kind: services.PaymentIgnored},
			check: func(t *testing.T, body webhookResponse) {
				if !body.Ignored {
					t.Fatalf("expected ignored, got %+v", body)
				}
			},
		},
		{
			name:    "malformed",
			outcome: services.PaymentOutcome{Kind: services.PaymentMalformed, Reason: "metadata missing"},
			check: func(t *testing.T, body webhookResponse) {
				if body.Rejected != "malformed" {
					t.Fatalf("expected rejected malformed, got %+v", body)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubPaymentService{outcome: tc.outcome}
			rr := doRequest(newWebhookRouter(svc), http.MethodPost, "/webhooks/payments/stripe", `{"id":"evt_1"}`,
				map[string]string{"Stripe-Signature": "t=1,v1=abc"})

			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rr.Code)
			}
			var body webhookResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !body.Received {
				t.Fatalf("expected received true")
			}
			tc.check(t, body)
			if svc.signature != "t=1,v1=abc" || string(svc.payload) != `{"id":"evt_1"}` {
				t.Fatalf("raw payload or signature not forwarded: %q %q", svc.payload, svc.signature)
			}
		})
	}
}

func TestStripeWebhook_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: bad sig", services.ErrPaymentUnauthenticated), http.StatusBadRequest},
		{services.ErrPaymentNotConfigured, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: persist: deadline exceeded", services.ErrPaymentRetry), http.StatusInternalServerError},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := doRequest(newWebhookRouter(&stubPaymentService{err: tc.err}), http.MethodPost, "/webhooks/payments/stripe", `{}`, nil)
		if rr.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rr.Code)
		}
	}
}

func TestStripeWebhook_BodyLimits(t *testing.T) {
	svc := &stubPaymentService{}
	router := newWebhookRouter(svc)

	if rr := doRequest(router, http.MethodPost, "/webhooks/payments/stripe", "", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", rr.Code)
	}
	large := `{"pad":"` + strings.Repeat("x", maxWebhookBodySize) + `"}`
	if rr := doRequest(router, http.MethodPost, "/webhooks/payments/stripe", large, nil); rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
	if svc.payload != nil {
		t.Fatalf("service should not be called")
	}
}
