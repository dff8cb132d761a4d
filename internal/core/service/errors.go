package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest    = errors.New("invalid order request")
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrStoreFault        = errors.New("store fault")
	ErrDuplicateRequest  = errors.New("duplicate request")

	ErrInvalidProductID  = errors.New("invalid product id")
	ErrInvalidEmail      = errors.New("invalid email")
	ErrAlreadySubscribed = errors.New("email already subscribed")
)

// OrderError describes why an order placement failed. Kind is one of the
// sentinel errors above, so callers can match it with errors.Is.
type OrderError struct {
	Kind        error
	ProductID   int64
	ProductName string
	Err         error
}

func (e *OrderError) Error() string {
	switch e.Kind {
	case ErrProductNotFound:
		return fmt.Sprintf("product %d not found", e.ProductID)
	case ErrInsufficientStock:
		return fmt.Sprintf("insufficient stock for %s", e.ProductName)
	}
	if e.Err != nil {
		return e.Kind.Error() + ": " + e.Err.Error()
	}
	return e.Kind.Error()
}

func (e *OrderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func storeFault(err error) *OrderError {
	return &OrderError{Kind: ErrStoreFault, Err: err}
}

// outcome is the low-cardinality label used for metrics and logs.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrDuplicateRequest):
		return "duplicate_request"
	default:
		return "store_fault"
	}
}
