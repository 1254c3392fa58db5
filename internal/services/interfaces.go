// Package services implements order fulfillment: checkout validation, cash-on-delivery orders,
// gateway payment confirmation, carrier status synchronisation and confirmation notifications.
package services

import (
	"context"
	"time"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
)

// CheckoutValidator checks a client cart against the authoritative catalogue without writing.
type CheckoutValidator interface {
	Validate(ctx context.Context, lines []domain.CartLine) (CheckoutValidation, error)
	OpenSession(ctx context.Context, cmd OpenCheckoutSessionCommand) (CheckoutSessionResult, error)
}

// CODOrderService places cash-on-delivery orders.
type CODOrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceCODOrderCommand) (CODOrderResult, error)
}

// PaymentConfirmationService turns signed gateway deliveries into paid orders.
type PaymentConfirmationService interface {
	HandleEvent(ctx context.Context, payload []byte, signatureHeader string) (PaymentOutcome, error)
}

// ShippingSyncService pulls carrier statuses onto tracked orders.
type ShippingSyncService interface {
	Sync(ctx context.Context, cmd ShippingSyncCommand) (ShippingSyncReport, error)
}

// NotificationDispatcher publishes order confirmations from the outbox.
type NotificationDispatcher interface {
	Publish(ctx context.Context, notification domain.Notification) error
	Relay(ctx context.Context, limit int) (RelayReport, error)
}

// metricsRecorder is the subset of observability.Metrics the services record to.
type metricsRecorder interface {
	OrderCreated(paymentMethod string)
	PaymentEvent(outcome string)
	StockShortfall(units int64)
	SyncRun(mode, outcome string, changed int)
	Notification(outcome string)
}

type nopMetrics struct{}

func (nopMetrics) OrderCreated(string)         {}
func (nopMetrics) PaymentEvent(string)         {}
func (nopMetrics) StockShortfall(int64)        {}
func (nopMetrics) SyncRun(string, string, int) {}
func (nopMetrics) Notification(string)         {}

// LineFailureReason explains why a cart line cannot be bought.
type LineFailureReason string

const (
	LineProductUnavailable LineFailureReason = "product_unavailable"
	LineOutOfStock         LineFailureReason = "out_of_stock"
	LineInsufficientStock  LineFailureReason = "insufficient_stock"
	LineInvalidQuantity    LineFailureReason = "invalid_quantity"
)

// LineFailure reports one rejected cart line. Available is set for stock failures.
type LineFailure struct {
	ProductID string
	Name      string
	Reason    LineFailureReason
	Requested int64
	Available int64
	Message   string
}

// ValidatedLine is a cart line priced from the catalogue.
type ValidatedLine struct {
	ProductID        string
	Name             string
	Quantity         int64
	UnitPrice        int64
	ClaimedUnitPrice int64
	PriceChanged     bool
}

// Subtotal returns the authoritative line total.
func (l ValidatedLine) Subtotal() int64 {
	return l.Quantity * l.UnitPrice
}

// CheckoutValidation collects every line failure together with the lines that passed.
type CheckoutValidation struct {
	Lines        []ValidatedLine
	Failures     []LineFailure
	Total        int64
	Currency     string
	PriceChanged bool
}

// Valid reports whether the cart can be checked out.
func (v CheckoutValidation) Valid() bool {
	return len(v.Failures) == 0 && len(v.Lines) > 0
}

// OpenCheckoutSessionCommand opens a gateway checkout for a validated cart.
type OpenCheckoutSessionCommand struct {
	Lines          []domain.CartLine
	PayerID        string
	Email          string
	IdempotencyKey string
}

// CheckoutSessionResult carries the validation and, when it passed, the hosted session.
type CheckoutSessionResult struct {
	Validation CheckoutValidation
	Session    *CheckoutSessionView
}

// CheckoutSessionView is what the storefront needs to redirect the customer.
type CheckoutSessionView struct {
	ID          string
	RedirectURL string
	ExpiresAt   time.Time
}

// PlaceCODOrderCommand is the customer's cash-on-delivery submission.
type PlaceCODOrderCommand struct {
	Lines   []domain.CartLine
	Name    string
	Phone   string
	Email   string
	Address domain.Address
	Notes   string
	// CustomerID and Authenticated come from the verified identity, never from the request body.
	CustomerID    string
	CustomerEmail string
	Authenticated bool
}

// CODOrderResult is {success, orderNumber} or {success:false, error} with per-field messages.
type CODOrderResult struct {
	Success     bool
	OrderNumber string
	Error       string
	FieldErrors map[string]string
}

// PaymentOutcomeKind classifies how a delivery was handled.
type PaymentOutcomeKind string

const (
	PaymentMaterialized PaymentOutcomeKind = "materialized"
	PaymentDuplicate    PaymentOutcomeKind = "duplicate"
	PaymentIgnored      PaymentOutcomeKind = "ignored"
	PaymentMalformed    PaymentOutcomeKind = "malformed"
)

// PaymentOutcome reports a handled delivery. Malformed deliveries are acknowledged so the gateway
// stops retrying them.
type PaymentOutcome struct {
	Kind        PaymentOutcomeKind
	EventID     string
	EventType   string
	OrderNumber string
	Reason      string
	ArchiveURI  string
	Shortfalls  []domain.StockShortfall
}

// ShippingSyncCommand selects one tracking number or, when empty, every tracked non-terminal order.
type ShippingSyncCommand struct {
	TrackingNumber string
}

// ShippingSyncResult is one order's outcome.
type ShippingSyncResult struct {
	OrderNumber    string             `json:"orderNumber"`
	TrackingNumber string             `json:"trackingNumber"`
	Status         string             `json:"status"`
	OrderStatus    domain.OrderStatus `json:"orderStatus"`
	PreviousStatus domain.OrderStatus `json:"previousStatus,omitempty"`
	Changed        bool               `json:"changed"`
}

// ShippingSyncReport is {synced, total, results} or {synced:0, message} when nothing was tracked.
type ShippingSyncReport struct {
	Synced  int                  `json:"synced"`
	Total   int                  `json:"total"`
	Results []ShippingSyncResult `json:"results,omitempty"`
	Message string               `json:"message,omitempty"`
}

// RelayReport counts one outbox relay pass.
// Parked counts the failures that exhausted their attempts and left the queue.
type RelayReport struct {
	Attempted int
	Sent      int
	Failed    int
	Parked    int
}
