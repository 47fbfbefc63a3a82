/*
errors.go - Centralized error types for the wallet engine

ERROR CATEGORIES:
  1. Authorization - caller role not allowed for the operation
  2. Invalid request - withdrawal missing or no longer pending
  3. Validation - malformed amounts or report window filters
  4. Store - persistence failures, wrapped with context by the stores

The HTTP layer maps these with errors.Is / errors.As; see api/handlers.go.
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrForbidden is returned before any store access when the caller's
	// role is not allowed to run the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrRequestNotFound is returned when a withdrawal request does not exist.
	ErrRequestNotFound = errors.New("withdrawal request not found")

	// ErrRequestNotPending is returned when a withdrawal request was already
	// approved or rejected, including when a concurrent decision won the race.
	ErrRequestNotPending = errors.New("withdrawal request is not pending")

	// ErrTechnicianNotFound is returned when a referenced technician doesn't exist.
	ErrTechnicianNotFound = errors.New("technician not found")

	// ErrInsufficientBalance is returned when a debit exceeds the wallet balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidAmount is returned for zero or negative monetary amounts.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. Expected on retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InsufficientBalanceError carries the numbers behind a refused debit.
type InsufficientBalanceError struct {
	TechnicianID TechnicianID
	Available    decimal.Decimal
	Requested    decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s",
		e.Available.String(), e.Requested.String())
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// FilterError is a report window validation failure. Message is safe to
// show to clients verbatim.
type FilterError struct {
	Field   string
	Message string
}

func (e *FilterError) Error() string { return e.Message }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsInvalidRequest reports whether err means the withdrawal can't be acted
// on. Missing and already-decided requests are not told apart.
func IsInvalidRequest(err error) bool {
	return errors.Is(err, ErrRequestNotFound) || errors.Is(err, ErrRequestNotPending)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	var fe *FilterError
	return IsInvalidRequest(err) ||
		errors.As(err, &fe) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}
