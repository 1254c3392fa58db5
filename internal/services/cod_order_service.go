package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/textutil"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/repositories"
)

const (
	defaultPhoneCountryCode = "216"
	localPhoneDigits        = 8

	maxNameLength    = 120
	maxAddressLength = 200
	maxCityLength    = 80
	maxNotesLength   = 1000
	maxEmailLength   = 254

	// CODGenericFailureMessage is shown to customers when persistence fails.
	CODGenericFailureMessage = "We could not place your order. Please try again."
)

// Field keys used in CODOrderResult.FieldErrors.
const (
	FieldName         = "name"
	FieldPhone        = "phone"
	FieldEmail        = "email"
	FieldAddressLine1 = "address.line1"
	FieldAddressCity  = "address.city"
	FieldItems        = "items"
)

var codFieldOrder = []string{FieldName, FieldPhone, FieldEmail, FieldAddressLine1, FieldAddressCity, FieldItems}

var (
	// ErrCODUnavailable indicates the order could not be persisted. Nothing was written.
	ErrCODUnavailable = errors.New("cod order: unavailable")

	phoneSeparators = strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "")
)

// CODOrderServiceDeps wires the dependencies required by the cash-on-delivery order service.
type CODOrderServiceDeps struct {
	Validator        CheckoutValidator
	Orders           repositories.OrderRepository
	Notifications    NotificationDispatcher
	OrderNumbers     *OrderNumberGenerator
	PhoneCountryCode string
	Metrics          metricsRecorder
	IDGenerator      func() string
	Clock            func() time.Time
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

type codOrderService struct {
	validator     CheckoutValidator
	orders        repositories.OrderRepository
	notifications NotificationDispatcher
	orderNumbers  *OrderNumberGenerator
	phonePattern  *regexp.Regexp
	countryCode   string
	metrics       metricsRecorder
	newID         func() string
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewCODOrderService constructs a CODOrderService. Notifications may be nil, in which case the
// outbox relay delivers confirmations.
func NewCODOrderService(deps CODOrderServiceDeps) (CODOrderService, error) {
	if deps.Validator == nil {
		return nil, errors.New("cod order service: checkout validator is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("cod order service: order repository is required")
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
	code := strings.TrimPrefix(strings.TrimSpace(deps.PhoneCountryCode), "+")
	if code == "" {
		code = defaultPhoneCountryCode
	}
	pattern, err := regexp.Compile(fmt.Sprintf(`^(?:(?:\+|00)?%s)?(\d{%d})$`, regexp.QuoteMeta(code), localPhoneDigits))
	if err != nil {
		return nil, fmt.Errorf("cod order service: phone pattern: %w", err)
	}

	return &codOrderService{
		validator:     deps.Validator,
		orders:        deps.Orders,
		notifications: deps.Notifications,
		orderNumbers:  numbers,
		phonePattern:  pattern,
		countryCode:   code,
		metrics:       metrics,
		newID:         newID,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

type codSubmission struct {
	contact domain.Contact
	address domain.Address
	notes   string
}

// PlaceOrder validates the submission, prices the cart from the catalogue and commits the order with
// its stock decrement. Validation problems come back as a failed result, not an error.
func (s *codOrderService) PlaceOrder(ctx context.Context, cmd PlaceCODOrderCommand) (CODOrderResult, error) {
	fields := make(map[string]string)
	submission := s.validateSubmission(cmd, fields)

	var validation CheckoutValidation
	if len(cmd.Lines) == 0 {
		fields[FieldItems] = "your cart is empty"
	} else {
		var err error
		validation, err = s.validator.Validate(ctx, cmd.Lines)
		switch {
		case errors.Is(err, ErrCheckoutInvalidInput):
			fields[FieldItems] = "your cart contains an invalid item"
		case err != nil:
			s.logger(ctx, "orders.cod.failed", map[string]any{"stage": "validate", "error": err.Error()})
			return CODOrderResult{}, fmt.Errorf("%w: %v", ErrCODUnavailable, err)
		case len(validation.Failures) > 0:
			fields[FieldItems] = lineFailureMessage(validation.Failures)
		}
	}

	if len(fields) > 0 {
		s.logger(ctx, "orders.cod.rejected", map[string]any{"fields": fieldKeys(fields)})
		return failedCODResult(fields), nil
	}

	number, err := s.orderNumbers.Next()
	if err != nil {
		return CODOrderResult{}, fmt.Errorf("%w: %v", ErrCODUnavailable, err)
	}
	now := s.now()
	order := domain.Order{
		ID:            s.newID(),
		OrderNumber:   number,
		CustomerID:    strings.TrimSpace(cmd.CustomerID),
		Items:         make([]domain.OrderItem, 0, len(validation.Lines)),
		Total:         validation.Total,
		Currency:      validation.Currency,
		Status:        domain.OrderStatusPending,
		PaymentMethod: domain.PaymentMethodCOD,
		Contact:       submission.contact,
		Address:       &submission.address,
		Notes:         submission.notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	lines := make([]domain.StockLine, 0, len(validation.Lines))
	for _, line := range validation.Lines {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:       line.ProductID,
			Name:            line.Name,
			Quantity:        line.Quantity,
			PriceAtPurchase: line.UnitPrice,
		})
		lines = append(lines, domain.StockLine{ProductID: line.ProductID, Quantity: line.Quantity})
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
			CreatedAt:   now,
		}
	}

	created, err := s.orders.Create(ctx, repositories.OrderCreateRequest{
		Order:        order,
		Lines:        lines,
		Policy:       repositories.StrictStock,
		Notification: notification,
	})
	if err != nil {
		if stockErr, ok := repositories.AsStockError(err); ok {
			s.logger(ctx, "orders.cod.rejected", map[string]any{"stage": "stock", "code": string(stockErr.Code)})
			return failedCODResult(map[string]string{FieldItems: stockErrorMessage(stockErr)}), nil
		}
		s.logger(ctx, "orders.cod.failed", map[string]any{
			"stage":       "persist",
			"orderNumber": order.OrderNumber,
			"error":       err.Error(),
		})
		return CODOrderResult{}, fmt.Errorf("%w: %v", ErrCODUnavailable, err)
	}

	s.metrics.OrderCreated(string(domain.PaymentMethodCOD))
	s.logger(ctx, "orders.cod.created", map[string]any{
		"orderId":     created.ID,
		"orderNumber": created.OrderNumber,
		"total":       created.Total,
		"items":       len(created.Items),
	})

	if notification != nil && s.notifications != nil {
		if err := s.notifications.Publish(ctx, *notification); err != nil {
			s.logger(ctx, "orders.cod.notification.warning", map[string]any{
				"orderNumber": created.OrderNumber,
				"error":       err.Error(),
			})
		}
	}

	return CODOrderResult{Success: true, OrderNumber: created.OrderNumber}, nil
}

func (s *codOrderService) validateSubmission(cmd PlaceCODOrderCommand, fields map[string]string) codSubmission {
	var sub codSubmission

	sub.contact.Name = textutil.SanitizeText(cmd.Name, maxNameLength)
	if sub.contact.Name == "" {
		fields[FieldName] = "name is required"
	}

	if phone, ok := s.normalizePhone(cmd.Phone); ok {
		sub.contact.Phone = phone
	} else if strings.TrimSpace(cmd.Phone) == "" {
		fields[FieldPhone] = "phone is required"
	} else {
		fields[FieldPhone] = fmt.Sprintf("phone must contain %d digits, optionally prefixed with +%s", localPhoneDigits, s.countryCode)
	}

	email := strings.TrimSpace(cmd.Email)
	switch {
	case email == "" && cmd.Authenticated:
		sub.contact.Email = strings.TrimSpace(cmd.CustomerEmail)
	case email == "":
		fields[FieldEmail] = "email is required"
	default:
		if normalized, ok := normalizeEmail(email); ok {
			sub.contact.Email = normalized
		} else {
			fields[FieldEmail] = "email is not valid"
		}
	}

	sub.address = domain.Address{
		Line1:      textutil.SanitizeText(cmd.Address.Line1, maxAddressLength),
		Line2:      textutil.SanitizeText(cmd.Address.Line2, maxAddressLength),
		City:       textutil.SanitizeText(cmd.Address.City, maxCityLength),
		PostalCode: textutil.SanitizeText(cmd.Address.PostalCode, 20),
		Country:    textutil.SanitizeText(cmd.Address.Country, 56),
	}
	if sub.address.Line1 == "" {
		fields[FieldAddressLine1] = "address is required"
	}
	if sub.address.City == "" {
		fields[FieldAddressCity] = "city is required"
	}

	sub.notes = textutil.SanitizeText(cmd.Notes, maxNotesLength)
	return sub
}

// normalizePhone strips separators and returns +<country code><8 digits>.
func (s *codOrderService) normalizePhone(raw string) (string, bool) {
	compact := phoneSeparators.Replace(strings.TrimSpace(raw))
	match := s.phonePattern.FindStringSubmatch(compact)
	if match == nil {
		return "", false
	}
	return "+" + s.countryCode + match[1], true
}

func normalizeEmail(raw string) (string, bool) {
	if len(raw) > maxEmailLength {
		return "", false
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Name != "" || addr.Address != raw {
		return "", false
	}
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || !strings.Contains(addr.Address[at:], ".") {
		return "", false
	}
	return strings.ToLower(addr.Address), true
}

func failedCODResult(fields map[string]string) CODOrderResult {
	messages := make([]string, 0, len(fields))
	for _, key := range codFieldOrder {
		if msg, ok := fields[key]; ok {
			messages = append(messages, msg)
		}
	}
	return CODOrderResult{
		Success:     false,
		Error:       strings.Join(messages, "; "),
		FieldErrors: fields,
	}
}

func fieldKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for _, key := range codFieldOrder {
		if _, ok := fields[key]; ok {
			keys = append(keys, key)
		}
	}
	return keys
}

func lineFailureMessage(failures []LineFailure) string {
	messages := make([]string, 0, len(failures))
	for _, failure := range failures {
		messages = append(messages, failure.Message)
	}
	return strings.Join(messages, "; ")
}

func stockErrorMessage(err *repositories.StockError) string {
	switch err.Code {
	case repositories.StockErrorInsufficientStock:
		messages := make([]string, 0, len(err.Shortages))
		for _, shortage := range err.Shortages {
			messages = append(messages, fmt.Sprintf("only %d of %s left in stock", shortage.Available, shortage.ProductID))
		}
		return strings.Join(messages, "; ")
	case repositories.StockErrorProductNotFound:
		return "a product in your cart is no longer available"
	default:
		return "your cart contains an invalid item"
	}
}
