/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All ledger error types in one place for consistency and discoverability.
  The API layer maps these to HTTP statuses; callers use errors.Is().

ERROR CATEGORIES:
  1. Validation errors - Invariant violations (client's fault)
  2. Store errors - Persistence-level failures (server's fault)

SEE ALSO:
  - service.go: Returns these errors
  - api/handlers.go: Maps them to HTTP responses
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when a deposit or withdrawal amount
	// is zero or negative. Amounts are never clamped or truncated.
	ErrInvalidAmount = errors.New("amount must be greater than 0")

	// ErrInsufficientBalance is returned when a withdrawal exceeds the
	// current total. Wrapped by InsufficientBalanceError for detail.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrStoreUnavailable is returned when the persistence layer cannot
	// complete an operation. Fatal for the request, surfaced as 5xx.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports a withdrawal that exceeds the balance.
// A withdraw against an absent balance row reports Current: 0; callers
// do not distinguish "no row yet" from "row with zero points".
type InsufficientBalanceError struct {
	Current   int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance. Current: %d, Requested: %d",
		e.Current, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// rather than a server-side failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientBalance)
}
