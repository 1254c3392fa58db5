package repositories

import (
	"context"
	"time"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
)

// RepositoryError categorises persistence failures for services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// StockPolicy selects how a decrement treats lines that exceed current stock.
type StockPolicy int

const (
	// StrictStock aborts the whole decrement when any line is short.
	StrictStock StockPolicy = iota
	// AllowShortfall takes what is available, floors stock at zero and reports the missing units.
	// Products that no longer exist are reported as fully short.
	AllowShortfall
)

func (p StockPolicy) String() string {
	if p == AllowShortfall {
		return "allow_shortfall"
	}
	return "strict"
}

// ProductRepository reads stock-bearing catalogue records. Missing ids are absent from the result.
type ProductRepository interface {
	GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
}

// StockLedgerRepository decrements stock counters for several products in one transaction.
type StockLedgerRepository interface {
	ProductRepository
	Decrement(ctx context.Context, lines []domain.StockLine, policy StockPolicy) ([]domain.StockShortfall, error)
}

// OrderCreateRequest materialises an order together with its stock decrement, optional payment
// reference claim and optional outbox entry.
type OrderCreateRequest struct {
	Order        domain.Order
	Lines        []domain.StockLine
	Policy       StockPolicy
	Notification *domain.Notification
}

// TrackedOrderQuery selects orders with a tracking number.
type TrackedOrderQuery struct {
	TrackingNumber  string
	IncludeTerminal bool
	Limit           int
}

// CarrierObservation is one carrier reading to apply to an order.
type CarrierObservation struct {
	OrderID   string
	RawStatus string
	Mapped    domain.OrderStatus
}

// CarrierUpdateResult reports what committing an observation did to an order.
type CarrierUpdateResult struct {
	Order domain.Order
	Patch domain.CarrierPatch
}

// OrderRepository persists orders.
type OrderRepository interface {
	// Create commits the order, the stock decrement and the outbox entry atomically. When the order
	// carries an external payment reference it is claimed in the same transaction and a second claim
	// fails with ErrDuplicatePaymentReference.
	Create(ctx context.Context, req OrderCreateRequest) (domain.Order, error)
	FindByPaymentReference(ctx context.Context, reference string) (domain.Order, error)
	ListTracked(ctx context.Context, query TrackedOrderQuery) ([]domain.Order, error)
	// ApplyCarrierObservations re-reads every order and commits all changed ones in one transaction.
	ApplyCarrierObservations(ctx context.Context, observations []CarrierObservation, now time.Time) ([]CarrierUpdateResult, error)
}

// NotificationOutbox tracks confirmation messages until they are published.
type NotificationOutbox interface {
	ListPending(ctx context.Context, limit int) ([]domain.Notification, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, reason string, at time.Time) error
	// Park takes an entry out of the pending queue after its last allowed attempt.
	Park(ctx context.Context, id string, reason string, at time.Time) error
}

// HealthRepository reports dependency readiness.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
