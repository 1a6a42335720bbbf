package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrConcurrencyConflict is returned when an optimistic-locked update
// affected zero rows: another worker owns the contended row.
var ErrConcurrencyConflict = errors.New("concurrent modification detected")

// ValidationError reports bad input shape or range. It is surfaced
// synchronously to the caller with a descriptive message, never silently
// defaulted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// InsufficientFundsError means the atomic reservation was rejected. It
// carries the amounts so the caller can render an actionable message.
type InsufficientFundsError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("Insufficient funds: requested %s, available %s",
		e.Requested.StringFixed(2), e.Available.StringFixed(2))
}

// NotFoundError means no entity matched the lookup key.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

// StorageError wraps a failed backing-store call. The HTTP layer surfaces it
// as a generic failure; the wrapped cause is logged server-side only.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
