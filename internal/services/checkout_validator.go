package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/payments"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/repositories"
)

const (
	guestPayerID = "guest"
	// gateways cap metadata values; the comma-joined item list must fit.
	maxMetadataValueLength  = 500
	defaultCheckoutCurrency = "eur"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied an unusable cart.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates the catalogue could not be read.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutTooManyItems indicates the cart does not fit into gateway metadata.
	ErrCheckoutTooManyItems = errors.New("checkout: too many items for one session")
	// ErrCheckoutPaymentFailed indicates the gateway session could not be opened.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
)

type checkoutSessionOpener interface {
	CreateCheckoutSession(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// CheckoutValidatorDeps wires the dependencies required by the checkout validator.
type CheckoutValidatorDeps struct {
	Products   repositories.ProductRepository
	Payments   checkoutSessionOpener
	Currency   string
	SuccessURL string
	CancelURL  string
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type checkoutValidator struct {
	products   repositories.ProductRepository
	payments   checkoutSessionOpener
	currency   string
	successURL string
	cancelURL  string
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutValidator constructs a CheckoutValidator. Payments may be nil when only validation is served.
func NewCheckoutValidator(deps CheckoutValidatorDeps) (CheckoutValidator, error) {
	if deps.Products == nil {
		return nil, errors.New("checkout validator: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCheckoutCurrency
	}
	return &checkoutValidator{
		products:   deps.Products,
		payments:   deps.Payments,
		currency:   currency,
		successURL: strings.TrimSpace(deps.SuccessURL),
		cancelURL:  strings.TrimSpace(deps.CancelURL),
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Validate prices every line from the catalogue and reports every failing line.
func (s *checkoutValidator) Validate(ctx context.Context, lines []domain.CartLine) (CheckoutValidation, error) {
	if len(lines) == 0 {
		return CheckoutValidation{}, ErrCheckoutInvalidInput
	}

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			return CheckoutValidation{}, fmt.Errorf("%w: product id is required", ErrCheckoutInvalidInput)
		}
		if validProductID(id) {
			ids = append(ids, id)
		}
	}

	products, err := s.products.GetProducts(ctx, ids)
	if err != nil {
		s.logger(ctx, "checkout.validate.failed", map[string]any{"error": err.Error()})
		return CheckoutValidation{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	result := validateCartLines(lines, products)
	result.Currency = s.currency
	if len(result.Failures) > 0 {
		s.logger(ctx, "checkout.validate.rejected", map[string]any{
			"lines":    len(lines),
			"failures": len(result.Failures),
		})
	}
	return result, nil
}

// validateCartLines applies the per-line rules. Requested quantities are accumulated per product so
// two lines for the same product cannot together exceed its stock.
func validateCartLines(lines []domain.CartLine, products map[string]domain.Product) CheckoutValidation {
	var result CheckoutValidation
	requested := make(map[string]int64, len(lines))

	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		product, ok := products[id]
		if line.Quantity < 1 {
			result.Failures = append(result.Failures, LineFailure{
				ProductID: id,
				Name:      product.Name,
				Reason:    LineInvalidQuantity,
				Requested: line.Quantity,
				Message:   "quantity must be at least 1",
			})
			continue
		}
		if !ok || !validProductID(id) {
			result.Failures = append(result.Failures, LineFailure{
				ProductID: id,
				Reason:    LineProductUnavailable,
				Requested: line.Quantity,
				Message:   "product is no longer available",
			})
			continue
		}

		available := product.Stock - requested[id]
		if available < 0 {
			available = 0
		}
		requested[id] += line.Quantity
		switch {
		case available == 0:
			result.Failures = append(result.Failures, LineFailure{
				ProductID: id,
				Name:      product.Name,
				Reason:    LineOutOfStock,
				Requested: line.Quantity,
				Message:   fmt.Sprintf("%s is out of stock", product.Name),
			})
			continue
		case line.Quantity > available:
			result.Failures = append(result.Failures, LineFailure{
				ProductID: id,
				Name:      product.Name,
				Reason:    LineInsufficientStock,
				Requested: line.Quantity,
				Available: available,
				Message:   fmt.Sprintf("only %d of %s left in stock", available, product.Name),
			})
			continue
		}

		validated := ValidatedLine{
			ProductID:        id,
			Name:             product.Name,
			Quantity:         line.Quantity,
			UnitPrice:        product.Price,
			ClaimedUnitPrice: line.ClaimedUnitPrice,
			PriceChanged:     line.ClaimedUnitPrice > 0 && line.ClaimedUnitPrice != product.Price,
		}
		result.Lines = append(result.Lines, validated)
		result.Total += validated.Subtotal()
		result.PriceChanged = result.PriceChanged || validated.PriceChanged
	}
	return result
}

// validProductID reports whether id can be looked up and carried through session metadata intact.
func validProductID(id string) bool {
	return !strings.Contains(id, metadataSeparator) && !strings.Contains(id, "/")
}

// OpenSession validates the cart and, when every line passes, opens a hosted gateway checkout
// priced from the catalogue.
func (s *checkoutValidator) OpenSession(ctx context.Context, cmd OpenCheckoutSessionCommand) (CheckoutSessionResult, error) {
	if s.payments == nil {
		return CheckoutSessionResult{}, fmt.Errorf("%w: payment gateway not configured", ErrCheckoutUnavailable)
	}

	validation, err := s.Validate(ctx, cmd.Lines)
	if err != nil {
		return CheckoutSessionResult{}, err
	}
	result := CheckoutSessionResult{Validation: validation}
	if !validation.Valid() {
		return result, nil
	}

	payerID := strings.TrimSpace(cmd.PayerID)
	if payerID == "" {
		payerID = guestPayerID
	}
	metadata, err := checkoutMetadata(payerID, validation.Lines)
	if err != nil {
		return CheckoutSessionResult{}, err
	}

	req := payments.CheckoutSessionRequest{
		Lines:          make([]payments.CheckoutLine, 0, len(validation.Lines)),
		Currency:       validation.Currency,
		CustomerEmail:  strings.TrimSpace(cmd.Email),
		Metadata:       metadata,
		SuccessURL:     s.successURL,
		CancelURL:      s.cancelURL,
		IdempotencyKey: strings.TrimSpace(cmd.IdempotencyKey),
	}
	for _, line := range validation.Lines {
		req.Lines = append(req.Lines, payments.CheckoutLine{
			ProductID:  line.ProductID,
			Name:       line.Name,
			Quantity:   line.Quantity,
			UnitAmount: line.UnitPrice,
		})
	}

	session, err := s.payments.CreateCheckoutSession(ctx, req)
	if err != nil {
		s.logger(ctx, "checkout.session.failed", map[string]any{
			"payerId": payerID,
			"error":   err.Error(),
		})
		return CheckoutSessionResult{}, fmt.Errorf("%w: %v", ErrCheckoutPaymentFailed, err)
	}

	s.logger(ctx, "checkout.session.created", map[string]any{
		"payerId":   payerID,
		"sessionId": session.ID,
		"total":     validation.Total,
		"lines":     len(validation.Lines),
	})
	result.Session = &CheckoutSessionView{
		ID:          session.ID,
		RedirectURL: session.RedirectURL,
		ExpiresAt:   session.ExpiresAt,
	}
	return result, nil
}

// checkoutMetadata encodes the purchase in the shape the payment confirmation reads back.
func checkoutMetadata(payerID string, lines []ValidatedLine) (map[string]string, error) {
	ids := make([]string, 0, len(lines))
	quantities := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
		quantities = append(quantities, strconv.FormatInt(line.Quantity, 10))
	}
	metadata := map[string]string{
		metadataPayerID:    payerID,
		metadataItemIDs:    strings.Join(ids, metadataSeparator),
		metadataQuantities: strings.Join(quantities, metadataSeparator),
	}
	for _, value := range metadata {
		if len(value) > maxMetadataValueLength {
			return nil, ErrCheckoutTooManyItems
		}
	}
	return metadata, nil
}
