/*
types.go - Core types for the point ledger

PURPOSE:
  Defines the fundamental types of the reward-point ledger: the singleton
  Balance, the immutable Transaction record, and the Change event emitted
  after every committed mutation.

KEY DESIGN DECISIONS:
  1. Integer points: Amounts are int64. Points are whole pedal revolutions
     and whole minutes of screen time; there is no fractional unit.
  2. Singleton balance: Exactly one Balance exists per deployment, enforced
     by the store with a fixed well-known row id, not by "first row found".
  3. Balance snapshot per transaction: Every Transaction carries the
     balance that resulted from it, so the log alone can be audited.

INVARIANT:
  Replaying all Transactions in id order, applying kind-signed amounts to
  an initial balance of 0, reproduces every BalanceAfter value and the
  final Balance.TotalPoints.

SEE ALSO:
  - service.go: Operations that produce these types
  - store.go: Persistence interface
*/
package ledger

import "time"

// =============================================================================
// TRANSACTION KINDS
// =============================================================================

// Kind classifies a ledger transaction.
type Kind string

const (
	// KindDeposit adds points to the balance (workouts, bonuses).
	KindDeposit Kind = "deposit"

	// KindWithdraw removes points from the balance (screen time).
	KindWithdraw Kind = "withdraw"
)

// Signed returns amount with the sign implied by the kind:
// positive for deposits, negative for withdrawals.
func (k Kind) Signed(amount int64) int64 {
	if k == KindWithdraw {
		return -amount
	}
	return amount
}

// Valid reports whether k is a known transaction kind.
func (k Kind) Valid() bool {
	return k == KindDeposit || k == KindWithdraw
}

// =============================================================================
// CORE TYPES
// =============================================================================

// Balance is the singleton current-point total.
// Owned exclusively by the ledger Service; no other component writes it.
type Balance struct {
	TotalPoints int64
	UpdatedAt   time.Time
}

// Transaction is one immutable entry in the append-only log.
// Once written it is never updated or deleted.
type Transaction struct {
	ID           int64 // Monotonic, assigned by the store at insert
	Timestamp    time.Time
	Kind         Kind
	Name         string // Free-form activity/source label ("workout", "gaming")
	Amount       int64  // Always > 0; sign is carried by Kind
	BalanceAfter int64  // Balance.TotalPoints immediately after this transaction
	Description  string
}

// Change describes one committed mutation, reported to the notification
// engine after the ledger write is durable.
type Change struct {
	Kind     Kind
	Name     string
	Amount   int64
	Previous int64 // Balance before the mutation
	Current  int64 // Balance after the mutation
}

// =============================================================================
// QUERY FILTER
// =============================================================================

// Filter narrows a transaction listing. Zero values mean "no constraint".
type Filter struct {
	Limit     int        // Max records returned; the store applies no cap itself
	Kind      Kind       // Empty = both kinds
	StartTime *time.Time // Inclusive lower bound on Timestamp
	EndTime   *time.Time // Inclusive upper bound on Timestamp
}
