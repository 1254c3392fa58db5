package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/checkout/session"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
)

const (
	defaultSignatureTolerance = 5 * time.Minute
	lineItemPageSize          = 100
)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	LineItems(params *stripe.CheckoutSessionListLineItemsParams) ([]*stripe.LineItem, error)
}

// stripeSessions adapts the checkout session client, draining the line item iterator across pages.
type stripeSessions struct {
	api *session.Client
}

func (s stripeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return s.api.New(params)
}

func (s stripeSessions) LineItems(params *stripe.CheckoutSessionListLineItemsParams) ([]*stripe.LineItem, error) {
	iter := s.api.ListLineItems(params)
	var items []*stripe.LineItem
	for iter.Next() {
		items = append(items, iter.LineItem())
	}
	return items, iter.Err()
}

// StripeGatewayConfig configures NewStripeGateway.
type StripeGatewayConfig struct {
	APIKey            string
	WebhookSecret     string
	ShippingCountries []string
	Backends          *stripe.Backends
	Logger            func(ctx context.Context, event string, fields map[string]any)
	Clock             func() time.Time
	Sessions          stripeSessionAPI
}

// StripeGateway implements Gateway with Stripe Checkout.
type StripeGateway struct {
	sessions          stripeSessionAPI
	webhookSecret     string
	shippingCountries []string
	clock             func() time.Time
	logger            func(ctx context.Context, event string, fields map[string]any)
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway builds the Stripe adapter. Sessions overrides the API client in tests.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	sessions := cfg.Sessions
	if sessions == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sessions = stripeSessions{api: client.New(apiKey, cfg.Backends).CheckoutSessions}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeGateway{
		sessions:          sessions,
		webhookSecret:     strings.TrimSpace(cfg.WebhookSecret),
		shippingCountries: cfg.ShippingCountries,
		clock:             func() time.Time { return clock().UTC() },
		logger:            logger,
	}, nil
}

// CreateCheckoutSession opens a payment-mode session priced with the given lines.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if len(req.Lines) == 0 {
		return CheckoutSession{}, errors.New("stripe: at least one line is required")
	}
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if len(g.shippingCountries) > 0 {
		params.ShippingAddressCollection = &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(g.shippingCountries),
		}
	}
	currency := strings.ToLower(req.Currency)
	for _, line := range req.Lines {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(line.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(line.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:     stripe.String(line.Name),
					Metadata: map[string]string{"productId": line.ProductID},
				},
			},
		})
	}

	session, err := g.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	g.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"lines":     len(req.Lines),
	})

	expiresAt := g.clock().Add(24 * time.Hour)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return CheckoutSession{ID: session.ID, RedirectURL: session.URL, ExpiresAt: expiresAt}, nil
}

// VerifyEvent checks the Stripe-Signature header against the raw payload before decoding anything.
func (g *StripeGateway) VerifyEvent(payload []byte, signatureHeader string) (Event, error) {
	if g.webhookSecret == "" {
		return Event{}, ErrWebhookNotConfigured
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, signatureHeader, g.webhookSecret, defaultSignatureTolerance); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                defaultSignatureTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	out := Event{ID: evt.ID, Type: string(evt.Type), Payload: payload}
	if evt.Type != stripe.EventTypeCheckoutSessionCompleted {
		return out, nil
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return Event{}, fmt.Errorf("%w: missing data object", ErrMalformedEvent)
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	out.Checkout = completedCheckout(&session)
	return out, nil
}

// SessionLineItems lists every line the session charged, in session order, following pagination.
func (g *StripeGateway) SessionLineItems(ctx context.Context, sessionID string) ([]LineItem, error) {
	params := &stripe.CheckoutSessionListLineItemsParams{Session: stripe.String(sessionID)}
	params.Context = ctx
	params.Limit = stripe.Int64(lineItemPageSize)
	lines, err := g.sessions.LineItems(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: list line items for session %s: %w", sessionID, err)
	}
	items := make([]LineItem, 0, len(lines))
	for _, li := range lines {
		if li == nil {
			continue
		}
		item := LineItem{Description: li.Description, Quantity: li.Quantity, AmountTotal: li.AmountTotal}
		switch {
		case li.Price != nil && li.Price.UnitAmount > 0:
			item.UnitAmount = li.Price.UnitAmount
		case li.Quantity > 0:
			item.UnitAmount = li.AmountSubtotal / li.Quantity
		}
		items = append(items, item)
	}
	return items, nil
}

func completedCheckout(s *stripe.CheckoutSession) *CompletedCheckout {
	out := &CompletedCheckout{
		SessionID:     s.ID,
		PaymentStatus: string(s.PaymentStatus),
		AmountTotal:   s.AmountTotal,
		Currency:      string(s.Currency),
		Metadata:      s.Metadata,
	}
	if s.CustomerDetails != nil {
		out.Email = s.CustomerDetails.Email
		out.Name = s.CustomerDetails.Name
		out.Phone = s.CustomerDetails.Phone
	}
	if out.Email == "" {
		out.Email = s.CustomerEmail
	}
	if s.ShippingDetails != nil && s.ShippingDetails.Address != nil {
		addr := s.ShippingDetails.Address
		out.Shipping = &domain.Address{
			Line1:      addr.Line1,
			Line2:      addr.Line2,
			City:       addr.City,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
		}
		if out.Name == "" {
			out.Name = s.ShippingDetails.Name
		}
	}
	return out
}
