package repositories

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicatePaymentReference signals that an order already claimed the payment reference.
	ErrDuplicatePaymentReference = errors.New("repositories: payment reference already claimed")
	// ErrOrderNotFound is returned by lookups that find nothing.
	ErrOrderNotFound = errors.New("repositories: order not found")
	// ErrTooManyWrites is returned when one transaction would exceed the store's write limit.
	ErrTooManyWrites = errors.New("repositories: transaction exceeds write limit")
)

// StockErrorCode enumerates stock decrement failures.
type StockErrorCode string

const (
	StockErrorProductNotFound   StockErrorCode = "product_not_found"
	StockErrorInsufficientStock StockErrorCode = "insufficient_stock"
	StockErrorInvalidLine       StockErrorCode = "invalid_line"
)

// StockShortage describes one line that cannot be served.
type StockShortage struct {
	ProductID string
	Requested int64
	Available int64
}

// StockError aborts a decrement. No stock changes when it is returned.
type StockError struct {
	Code      StockErrorCode
	ProductID string
	Shortages []StockShortage
}

func (e *StockError) Error() string {
	switch e.Code {
	case StockErrorInsufficientStock:
		ids := make([]string, 0, len(e.Shortages))
		for _, s := range e.Shortages {
			ids = append(ids, fmt.Sprintf("%s (requested %d, available %d)", s.ProductID, s.Requested, s.Available))
		}
		return "stock: insufficient stock for " + strings.Join(ids, ", ")
	case StockErrorProductNotFound:
		return fmt.Sprintf("stock: product %s not found", e.ProductID)
	default:
		return fmt.Sprintf("stock: invalid line for %s", e.ProductID)
	}
}

// AsStockError unwraps err into a *StockError.
func AsStockError(err error) (*StockError, bool) {
	var stockErr *StockError
	if errors.As(err, &stockErr) {
		return stockErr, true
	}
	return nil, false
}

// IsNotFound reports whether err is a not-found repository failure.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrOrderNotFound) {
		return true
	}
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsUnavailable reports whether err is a transient store failure.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
