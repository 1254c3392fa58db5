// Package payments adapts the external payment gateway: opening checkout sessions, verifying
// signed webhook deliveries and reading back what the gateway charged.
package payments

import (
	"context"
	"errors"
	"time"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
)

var (
	// ErrInvalidSignature means the webhook body was not signed with the configured secret.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrWebhookNotConfigured means no webhook secret is configured.
	ErrWebhookNotConfigured = errors.New("payments: webhook secret not configured")
	// ErrMalformedEvent means the signed payload could not be decoded.
	ErrMalformedEvent = errors.New("payments: malformed event payload")
)

// EventCheckoutCompleted is the only event type that materialises orders.
const EventCheckoutCompleted = "checkout.session.completed"

// CheckoutLine is one priced line sent to the gateway.
type CheckoutLine struct {
	ProductID  string
	Name       string
	Quantity   int64
	UnitAmount int64
}

// CheckoutSessionRequest opens a hosted checkout.
type CheckoutSessionRequest struct {
	Lines          []CheckoutLine
	Currency       string
	CustomerEmail  string
	Metadata       map[string]string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// CheckoutSession is the hosted checkout the customer is redirected to.
type CheckoutSession struct {
	ID          string
	RedirectURL string
	ExpiresAt   time.Time
}

// LineItem is a line as the gateway recorded and charged it.
type LineItem struct {
	Description string
	Quantity    int64
	UnitAmount  int64
	AmountTotal int64
}

// CompletedCheckout is the payload of a checkout-completed event.
type CompletedCheckout struct {
	SessionID     string
	PaymentStatus string
	AmountTotal   int64
	Currency      string
	Email         string
	Name          string
	Phone         string
	Shipping      *domain.Address
	Metadata      map[string]string
}

// Event is a verified webhook delivery. Checkout is set only for checkout-completed events.
type Event struct {
	ID       string
	Type     string
	Checkout *CompletedCheckout
	Payload  []byte
}

// Gateway is the narrow gateway surface the services depend on.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	VerifyEvent(payload []byte, signatureHeader string) (Event, error)
	SessionLineItems(ctx context.Context, sessionID string) ([]LineItem, error)
}
