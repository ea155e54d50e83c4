/*
store.go - Persistence interface for the ledger

PURPOSE:
  Defines what the ledger Service needs from storage. Two implementations
  exist: store/sqlite (production) and store/memory (tests).

ATOMICITY CONTRACT:
  Apply is the single mutating operation and must execute the balance
  check, the balance update, and the log append as one serialized unit.
  The amount check and the read-modify-write are not separated by any
  suspension point, so two concurrent withdrawals can never both observe
  the same stale balance.

APPEND-ONLY ENFORCEMENT:
  Stores never expose update or delete on transactions. Corrections are
  made by appending a compensating transaction of the opposite kind.

SEE ALSO:
  - store/sqlite/sqlite.go: SQLite implementation
  - store/memory/memory.go: In-memory implementation
*/
package ledger

import "context"

// Store persists the balance row and the transaction log.
type Store interface {
	// Balance returns the current balance, or nil if no mutation has
	// ever occurred. The absent state is valid, not an error.
	Balance(ctx context.Context) (*Balance, error)

	// Apply atomically mutates the balance and appends one transaction.
	// For withdrawals it verifies sufficiency inside the same unit of
	// work and returns *InsufficientBalanceError on shortfall, leaving
	// both balance and log untouched. Returns the inserted transaction
	// (with assigned ID and BalanceAfter) and the prior balance.
	Apply(ctx context.Context, kind Kind, name string, amount int64, description string) (Transaction, int64, error)

	// Transactions returns log entries matching the filter, newest first.
	Transactions(ctx context.Context, f Filter) ([]Transaction, error)
}
