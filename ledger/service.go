/*
service.go - Ledger service: the single authority over the balance

PURPOSE:
  Exposes deposit/withdraw/read operations, enforcing the ledger
  invariants before delegating to the store:
  - Amounts must be strictly positive (never clamped)
  - The balance never goes negative
  - Every mutation appends exactly one transaction

NOTIFICATION SEQUENCING:
  The ledger commit and the notification dispatch are strictly ordered:
  commit first, notify second. Changes flow through one buffered channel
  drained by a single goroutine, so the observer sees mutations in commit
  order. A slow or failing notification channel can never make a ledger
  write appear to fail, and a rejected mutation never reaches the
  observer.

SEE ALSO:
  - store.go: Atomicity contract
  - notify/engine.go: The production Observer
*/
package ledger

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/pedalpoints/rewards-engine/metrics"
)

// Observer receives a Change after each committed mutation.
// Implementations must be safe for concurrent use.
type Observer interface {
	BalanceChanged(ctx context.Context, ch Change)
}

// changeBufferSize bounds how far the observer may fall behind before
// mutations start waiting on dispatch.
const changeBufferSize = 64

// Service is the single writer of the balance and the transaction log.
type Service struct {
	store   Store
	changes chan Change
}

// NewService creates a ledger service over the given store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// SetObserver registers the notification observer and starts the dispatch
// loop. Call once during wiring, before the service takes traffic; a nil
// observer means mutations commit silently.
func (s *Service) SetObserver(o Observer) {
	if o == nil {
		return
	}

	s.changes = make(chan Change, changeBufferSize)
	go func() {
		// Detached from any request context: the HTTP response must not
		// wait on chat delivery, and a client disconnect must not cancel
		// an already-committed notification.
		for ch := range s.changes {
			o.BalanceChanged(context.Background(), ch)
		}
	}()
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Deposit adds amount points from the named source.
// Creates the balance row seeded with amount if none exists yet.
func (s *Service) Deposit(ctx context.Context, name string, amount int64, description string) (Transaction, error) {
	return s.apply(ctx, KindDeposit, name, amount, description)
}

// Withdraw removes amount points for the named activity.
// Fails with *InsufficientBalanceError if the balance cannot cover it;
// a rejected withdrawal mutates nothing and appends nothing.
func (s *Service) Withdraw(ctx context.Context, name string, amount int64, description string) (Transaction, error) {
	return s.apply(ctx, KindWithdraw, name, amount, description)
}

func (s *Service) apply(ctx context.Context, kind Kind, name string, amount int64, description string) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}

	tx, previous, err := s.store.Apply(ctx, kind, name, amount, description)
	if err != nil {
		return Transaction{}, err
	}

	log.Info().
		Str("kind", string(kind)).
		Str("name", name).
		Int64("amount", amount).
		Int64("balance", tx.BalanceAfter).
		Msg("ledger mutation committed")

	metrics.TransactionsTotal.WithLabelValues(string(kind)).Inc()
	metrics.BalancePoints.Set(float64(tx.BalanceAfter))

	if s.changes != nil {
		s.changes <- Change{
			Kind:     kind,
			Name:     name,
			Amount:   amount,
			Previous: previous,
			Current:  tx.BalanceAfter,
		}
	}

	return tx, nil
}

// =============================================================================
// READS
// =============================================================================

// Balance returns the current total, or nil if nothing was ever deposited.
func (s *Service) Balance(ctx context.Context) (*Balance, error) {
	return s.store.Balance(ctx)
}

// Transactions returns log entries matching the filter, newest first.
// The ledger applies no cap on Limit; the API layer does.
func (s *Service) Transactions(ctx context.Context, f Filter) ([]Transaction, error) {
	if f.Kind != "" && !f.Kind.Valid() {
		// Unknown kind filters match nothing rather than erroring,
		// mirroring the lenient query behavior of the HTTP contract.
		return []Transaction{}, nil
	}
	return s.store.Transactions(ctx, f)
}
