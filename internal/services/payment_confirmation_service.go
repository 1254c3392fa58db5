package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/payments"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/storage"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/repositories"
)

const (
	paymentSourceStripe = "stripe"
	paymentStatusUnpaid = "unpaid"
)

var (
	// ErrPaymentUnauthenticated indicates the delivery signature did not verify. Nothing was decoded.
	ErrPaymentUnauthenticated = errors.New("payment confirmation: invalid signature")
	// ErrPaymentNotConfigured indicates no webhook secret is configured.
	ErrPaymentNotConfigured = errors.New("payment confirmation: webhook not configured")
	// ErrPaymentRetry indicates a transient failure; the gateway should redeliver.
	ErrPaymentRetry = errors.New("payment confirmation: retry later")
)

type paymentGateway interface {
	VerifyEvent(payload []byte, signatureHeader string) (payments.Event, error)
	SessionLineItems(ctx context.Context, sessionID string) ([]payments.LineItem, error)
}

type eventArchive interface {
	Enabled() bool
	Put(ctx context.Context, kind storage.ArchiveKind, params storage.PathParams, payload []byte, metadata map[string]string) (string, error)
}

// PaymentConfirmationServiceDeps wires the dependencies required to materialise paid orders.
type PaymentConfirmationServiceDeps struct {
	Gateway       paymentGateway
	Products      repositories.ProductRepository
	Orders        repositories.OrderRepository
	Notifications NotificationDispatcher
	Archive       eventArchive
	OrderNumbers  *OrderNumberGenerator
	Currency      string
	Metrics       metricsRecorder
	IDGenerator   func() string
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type paymentConfirmationService struct {
	gateway       paymentGateway
	products      repositories.ProductRepository
	orders        repositories.OrderRepository
	notifications NotificationDispatcher
	archive       eventArchive
	orderNumbers  *OrderNumberGenerator
	currency      string
	metrics       metricsRecorder
	newID         func() string
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewPaymentConfirmationService constructs a PaymentConfirmationService.
func NewPaymentConfirmationService(deps PaymentConfirmationServiceDeps) (PaymentConfirmationService, error) {
	if deps.Gateway == nil {
		return nil, errors.New("payment confirmation service: gateway is required")
	}
	if deps.Products == nil {
		return nil, errors.New("payment confirmation service: product repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment confirmation service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	var metrics metricsRecorder = nopMetrics{}
	if deps.Metrics != nil {
		metrics = deps.Metrics
	}
	numbers := deps.OrderNumbers
	if numbers == nil {
		numbers = NewOrderNumberGenerator(defaultOrderNumberPrefix, clock, nil)
	}
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCheckoutCurrency
	}
	return &paymentConfirmationService{
		gateway:       deps.Gateway,
		products:      deps.Products,
		orders:        deps.Orders,
		notifications: deps.Notifications,
		archive:       deps.Archive,
		orderNumbers:  numbers,
		currency:      currency,
		metrics:       metrics,
		newID:         newID,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// HandleEvent verifies, deduplicates and materialises one gateway delivery. Returned errors are
// either ErrPaymentUnauthenticated, ErrPaymentNotConfigured or ErrPaymentRetry.
func (s *paymentConfirmationService) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) (PaymentOutcome, error) {
	event, err := s.gateway.VerifyEvent(payload, signatureHeader)
	switch {
	case errors.Is(err, payments.ErrInvalidSignature):
		s.metrics.PaymentEvent("invalid_signature")
		s.logger(ctx, "payments.webhook.signature.warning", map[string]any{"error": err.Error()})
		return PaymentOutcome{}, fmt.Errorf("%w: %v", ErrPaymentUnauthenticated, err)
	case errors.Is(err, payments.ErrWebhookNotConfigured):
		s.logger(ctx, "payments.webhook.failed", map[string]any{"error": err.Error()})
		return PaymentOutcome{}, fmt.Errorf("%w: %v", ErrPaymentNotConfigured, err)
	case errors.Is(err, payments.ErrMalformedEvent):
		return s.reject(ctx, PaymentOutcome{EventType: payments.EventCheckoutCompleted}, payload, err.Error()), nil
	case err != nil:
		s.logger(ctx, "payments.webhook.failed", map[string]any{"error": err.Error()})
		return PaymentOutcome{}, fmt.Errorf("%w: %v", ErrPaymentRetry, err)
	}

	outcome := PaymentOutcome{EventID: event.ID, EventType: event.Type}
	if event.Type != payments.EventCheckoutCompleted || event.Checkout == nil {
		s.metrics.PaymentEvent(string(PaymentIgnored))
		s.logger(ctx, "payments.webhook.ignored", map[string]any{"eventId": event.ID, "type": event.Type})
		outcome.Kind = PaymentIgnored
		outcome.Reason = "unhandled event type"
		return outcome, nil
	}

	checkout := event.Checkout
	if strings.EqualFold(checkout.PaymentStatus, paymentStatusUnpaid) {
		s.metrics.PaymentEvent(string(PaymentIgnored))
		s.logger(ctx, "payments.webhook.unpaid.warning", map[string]any{"eventId": event.ID, "sessionId": checkout.SessionID})
		outcome.Kind = PaymentIgnored
		outcome.Reason = "payment not captured"
		return outcome, nil
	}
	reference := strings.TrimSpace(checkout.SessionID)
	if reference == "" {
		return s.reject(ctx, outcome, event.Payload, "checkout session id missing"), nil
	}

	existing, err := s.orders.FindByPaymentReference(ctx, reference)
	switch {
	case err == nil:
		return s.duplicate(ctx, outcome, reference, existing.OrderNumber), nil
	case !repositories.IsNotFound(err):
		return s.retry(ctx, outcome, "lookup", err)
	}

	purchase, err := parsePurchaseMetadata(checkout.Metadata)
	if err != nil {
		return s.reject(ctx, outcome, event.Payload, err.Error()), nil
	}

	ids := make([]string, 0, len(purchase.Lines))
	for _, line := range purchase.Lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.products.GetProducts(ctx, ids)
	if err != nil {
		return s.retry(ctx, outcome, "products", err)
	}
	charged, err := s.gateway.SessionLineItems(ctx, reference)
	if err != nil {
		return s.retry(ctx, outcome, "line_items", err)
	}

	order, err := s.buildOrder(ctx, checkout, reference, purchase, products, charged)
	if err != nil {
		return s.retry(ctx, outcome, "order_number", err)
	}
	var notification *domain.Notification
	if order.Contact.Email != "" {
		notification = &domain.Notification{
			ID:          s.newID(),
			Kind:        domain.NotificationOrderConfirmation,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			Email:       order.Contact.Email,
			Name:        order.Contact.Name,
			Total:       order.Total,
			Currency:    order.Currency,
			CreatedAt:   order.CreatedAt,
		}
	}

	created, err := s.orders.Create(ctx, repositories.OrderCreateRequest{
		Order:        order,
		Lines:        purchase.Lines,
		Policy:       repositories.AllowShortfall,
		Notification: notification,
	})
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicatePaymentReference) {
			return s.duplicate(ctx, outcome, reference, ""), nil
		}
		if stockErr, ok := repositories.AsStockError(err); ok && stockErr.Code == repositories.StockErrorInvalidLine {
			return s.reject(ctx, outcome, event.Payload, stockErr.Error()), nil
		}
		return s.retry(ctx, outcome, "persist", err)
	}

	outcome.Kind = PaymentMaterialized
	outcome.OrderNumber = created.OrderNumber
	outcome.Shortfalls = created.Shortfalls
	s.metrics.PaymentEvent(string(PaymentMaterialized))
	s.metrics.OrderCreated(string(domain.PaymentMethodGateway))
	s.logger(ctx, "payments.order.created", map[string]any{
		"eventId":     event.ID,
		"sessionId":   reference,
		"orderId":     created.ID,
		"orderNumber": created.OrderNumber,
		"total":       created.Total,
		"payerId":     purchase.PayerID,
	})
	s.recordShortfalls(ctx, created)

	if notification != nil && s.notifications != nil {
		if err := s.notifications.Publish(ctx, *notification); err != nil {
			s.logger(ctx, "payments.notification.warning", map[string]any{
				"orderNumber": created.OrderNumber,
				"error":       err.Error(),
			})
		}
	}
	return outcome, nil
}

// buildOrder reconstructs the purchased lines. Names come from the catalogue; unit prices come from
// what the gateway charged, matched by position.
func (s *paymentConfirmationService) buildOrder(ctx context.Context, checkout *payments.CompletedCheckout, reference string, purchase purchaseMetadata, products map[string]domain.Product, charged []payments.LineItem) (domain.Order, error) {
	number, err := s.orderNumbers.Next()
	if err != nil {
		return domain.Order{}, err
	}
	now := s.now()
	currency := strings.ToLower(strings.TrimSpace(checkout.Currency))
	if currency == "" {
		currency = s.currency
	}

	items := make([]domain.OrderItem, 0, len(purchase.Lines))
	for i, line := range purchase.Lines {
		product, known := products[line.ProductID]
		item := domain.OrderItem{
			ProductID: line.ProductID,
			Name:      product.Name,
			Quantity:  line.Quantity,
		}
		if i < len(charged) && charged[i].Quantity == line.Quantity && charged[i].UnitAmount > 0 {
			item.PriceAtPurchase = charged[i].UnitAmount
			if item.Name == "" {
				item.Name = charged[i].Description
			}
		} else {
			item.PriceAtPurchase = product.Price
			s.logger(ctx, "payments.line_price.warning", map[string]any{
				"sessionId": reference,
				"productId": line.ProductID,
				"position":  i,
				"known":     known,
			})
		}
		if item.Name == "" {
			item.Name = line.ProductID
		}
		items = append(items, item)
	}

	customerID := purchase.PayerID
	if customerID == guestPayerID {
		customerID = ""
	}
	return domain.Order{
		ID:                       s.newID(),
		OrderNumber:              number,
		CustomerID:               customerID,
		Items:                    items,
		Total:                    checkout.AmountTotal,
		Currency:                 currency,
		Status:                   domain.OrderStatusPaid,
		PaymentMethod:            domain.PaymentMethodGateway,
		ExternalPaymentReference: reference,
		Contact: domain.Contact{
			Name:  strings.TrimSpace(checkout.Name),
			Email: strings.ToLower(strings.TrimSpace(checkout.Email)),
			Phone: strings.TrimSpace(checkout.Phone),
		},
		Address:   checkout.Shipping,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *paymentConfirmationService) recordShortfalls(ctx context.Context, order domain.Order) {
	for _, shortfall := range order.Shortfalls {
		missing := shortfall.Missing()
		if missing <= 0 {
			continue
		}
		s.metrics.StockShortfall(missing)
		s.logger(ctx, "fulfillment.shortfall", map[string]any{
			"orderId":     order.ID,
			"orderNumber": order.OrderNumber,
			"productId":   shortfall.ProductID,
			"requested":   shortfall.Requested,
			"taken":       shortfall.Taken,
		})
	}
}

func (s *paymentConfirmationService) duplicate(ctx context.Context, outcome PaymentOutcome, reference, orderNumber string) PaymentOutcome {
	s.metrics.PaymentEvent(string(PaymentDuplicate))
	s.logger(ctx, "payments.webhook.duplicate", map[string]any{
		"eventId":     outcome.EventID,
		"sessionId":   reference,
		"orderNumber": orderNumber,
	})
	outcome.Kind = PaymentDuplicate
	outcome.OrderNumber = orderNumber
	outcome.Reason = "payment reference already processed"
	return outcome
}

func (s *paymentConfirmationService) retry(ctx context.Context, outcome PaymentOutcome, stage string, err error) (PaymentOutcome, error) {
	s.metrics.PaymentEvent("retry")
	s.logger(ctx, "payments.webhook.failed", map[string]any{
		"eventId": outcome.EventID,
		"stage":   stage,
		"error":   err.Error(),
	})
	return PaymentOutcome{}, fmt.Errorf("%w: %s: %v", ErrPaymentRetry, stage, err)
}

// reject acknowledges a delivery that no redelivery can fix, archiving the raw payload when an
// archive bucket is configured.
func (s *paymentConfirmationService) reject(ctx context.Context, outcome PaymentOutcome, payload []byte, reason string) PaymentOutcome {
	outcome.Kind = PaymentMalformed
	outcome.Reason = reason
	s.metrics.PaymentEvent(string(PaymentMalformed))

	if s.archive != nil && s.archive.Enabled() {
		id := outcome.EventID
		if id == "" {
			id = s.newID()
		}
		uri, err := s.archive.Put(ctx, storage.KindPaymentEvent, storage.PathParams{
			ID:         id,
			Source:     paymentSourceStripe,
			RecordedAt: s.now(),
		}, payload, map[string]string{"reason": reason, "eventType": outcome.EventType})
		if err != nil {
			s.logger(ctx, "payments.archive.error", map[string]any{"eventId": id, "error": err.Error()})
		} else {
			outcome.ArchiveURI = uri
		}
	}

	s.logger(ctx, "payments.webhook.malformed.warning", map[string]any{
		"eventId":    outcome.EventID,
		"reason":     reason,
		"archiveUri": outcome.ArchiveURI,
	})
	return outcome
}
