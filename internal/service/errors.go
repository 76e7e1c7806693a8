package service

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks mutation input that cannot be applied, such as a
	// line that would grow past domain.MaxLineQuantity. Nothing is written.
	ErrValidation = errors.New("validation failed")

	ErrCartNotFound       = errors.New("cart not found")
	ErrPricingUnavailable = errors.New("pricing unavailable")
	ErrConcurrentUpdate   = errors.New("cart was modified concurrently, retry the request")
)

// PricingError reports the first item whose price could not be resolved.
// Nothing has been written when it is returned.
type PricingError struct {
	ProductID string
	Err       error
}

func (e *PricingError) Error() string {
	return fmt.Sprintf("price product %s: %v", e.ProductID, e.Err)
}

func (e *PricingError) Unwrap() []error {
	return []error{ErrPricingUnavailable, e.Err}
}

// PersistenceError means the store write failed after pricing succeeded.
// The stored state is unknown; callers should re-read before retrying.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s cart: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
