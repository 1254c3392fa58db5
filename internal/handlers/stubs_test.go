package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/auth"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/requestctx"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/services"
)

type stubTokenVerifier struct {
	tokens map[string]*firebaseauth.Token
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	if token, ok := s.tokens[idToken]; ok {
		return token, nil
	}
	return nil, errors.New("token rejected")
}

func testAuthenticator() *auth.Authenticator {
	return auth.NewAuthenticator(&stubTokenVerifier{tokens: map[string]*firebaseauth.Token{
		"customer-token": {UID: "user-1", Claims: map[string]any{"email": "amel@example.com"}},
		"admin-token":    {UID: "admin-1", Claims: map[string]any{"admin": true, "email": "ops@example.com"}},
	}})
}

type stubCheckoutValidator struct {
	validation services.CheckoutValidation
	session    *services.CheckoutSessionView
	err        error

	lines      []domain.CartLine
	sessionCmd services.OpenCheckoutSessionCommand
}

func (s *stubCheckoutValidator) Validate(_ context.Context, lines []domain.CartLine) (services.CheckoutValidation, error) {
	s.lines = lines
	return s.validation, s.err
}

func (s *stubCheckoutValidator) OpenSession(_ context.Context, cmd services.OpenCheckoutSessionCommand) (services.CheckoutSessionResult, error) {
	s.lines = cmd.Lines
	s.sessionCmd = cmd
	if s.err != nil {
		return services.CheckoutSessionResult{}, s.err
	}
	return services.CheckoutSessionResult{Validation: s.validation, Session: s.session}, nil
}

type stubCODOrderService struct {
	result services.CODOrderResult
	err    error
	calls  int
	cmd    services.PlaceCODOrderCommand
}

func (s *stubCODOrderService) PlaceOrder(_ context.Context, cmd services.PlaceCODOrderCommand) (services.CODOrderResult, error) {
	s.calls++
	s.cmd = cmd
	return s.result, s.err
}

type stubPaymentService struct {
	outcome   services.PaymentOutcome
	err       error
	payload   []byte
	signature string
}

func (s *stubPaymentService) HandleEvent(_ context.Context, payload []byte, signatureHeader string) (services.PaymentOutcome, error) {
	s.payload = payload
	s.signature = signatureHeader
	return s.outcome, s.err
}

type stubShippingSync struct {
	report  services.ShippingSyncReport
	err     error
	cmd     services.ShippingSyncCommand
	trigger requestctx.Trigger
	calls   int
}

func (s *stubShippingSync) Sync(ctx context.Context, cmd services.ShippingSyncCommand) (services.ShippingSyncReport, error) {
	s.calls++
	s.cmd = cmd
	s.trigger = requestctx.TriggerFrom(ctx)
	return s.report, s.err
}

type stubRelay struct {
	report services.RelayReport
	err    error
	limit  int
}

func (s *stubRelay) Publish(context.Context, domain.Notification) error { return nil }

func (s *stubRelay) Relay(_ context.Context, limit int) (services.RelayReport, error) {
	s.limit = limit
	return s.report, s.err
}

type stubHealthRepository struct {
	report domain.HealthReport
	err    error
}

func (s *stubHealthRepository) Collect(context.Context) (domain.HealthReport, error) {
	return s.report, s.err
}

func doRequest(handler http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
