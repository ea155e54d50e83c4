package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pedalpoints/rewards-engine/ledger"
	"github.com/pedalpoints/rewards-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger() (*ledger.Service, *memory.Store) {
	store := memory.New()
	return ledger.NewService(store), store
}

// recordingObserver captures changes on a channel so tests can wait for
// the detached notification goroutine.
type recordingObserver struct {
	changes chan ledger.Change
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{changes: make(chan ledger.Change, 16)}
}

func (o *recordingObserver) BalanceChanged(_ context.Context, ch ledger.Change) {
	o.changes <- ch
}

func (o *recordingObserver) wait(t *testing.T) ledger.Change {
	t.Helper()
	select {
	case ch := <-o.changes:
		return ch
	case <-time.After(2 * time.Second):
		t.Fatal("no change observed")
		return ledger.Change{}
	}
}

// =============================================================================
// MUTATION TESTS
// =============================================================================

func TestDeposit_CreatesBalance(t *testing.T) {
	// GIVEN: A fresh ledger with no balance row
	// WHEN: Depositing 100 points
	// THEN: The balance is created seeded with 100 and one transaction logged

	svc, _ := newTestLedger()
	ctx := context.Background()

	tx, err := svc.Deposit(ctx, "workout", 100, "first ride")
	require.NoError(t, err)
	assert.Equal(t, int64(100), tx.BalanceAfter)
	assert.Equal(t, ledger.KindDeposit, tx.Kind)

	b, err := svc.Balance(ctx)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, int64(100), b.TotalPoints)
}

func TestWithdraw_InsufficientBalance_MutatesNothing(t *testing.T) {
	// GIVEN: A balance of 30 points
	// WHEN: Withdrawing 50
	// THEN: Rejected with the current/requested amounts, balance untouched,
	//       no transaction appended

	svc, _ := newTestLedger()
	ctx := context.Background()

	_, err := svc.Deposit(ctx, "workout", 30, "")
	require.NoError(t, err)

	_, err = svc.Withdraw(ctx, "gaming", 50, "")
	require.Error(t, err)

	var insufficient *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(30), insufficient.Current)
	assert.Equal(t, int64(50), insufficient.Requested)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	b, err := svc.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(30), b.TotalPoints)

	txs, err := svc.Transactions(ctx, ledger.Filter{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, txs, 1, "rejected withdrawal must leave no trace")
}

func TestWithdraw_EmptyLedger_TreatedAsZeroBalance(t *testing.T) {
	// GIVEN: No balance row at all
	// WHEN: Withdrawing any amount
	// THEN: Insufficient balance with Current 0

	svc, _ := newTestLedger()

	_, err := svc.Withdraw(context.Background(), "gaming", 1, "")
	var insufficient *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(0), insufficient.Current)
}

func TestMutations_RejectNonPositiveAmounts(t *testing.T) {
	svc, _ := newTestLedger()
	ctx := context.Background()

	for _, amount := range []int64{0, -5} {
		_, err := svc.Deposit(ctx, "workout", amount, "")
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

		_, err = svc.Withdraw(ctx, "gaming", amount, "")
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	}
}

func TestWithdraw_ExactBalance_Allowed(t *testing.T) {
	// GIVEN: A balance of 50
	// WHEN: Withdrawing exactly 50
	// THEN: Succeeds and leaves zero

	svc, _ := newTestLedger()
	ctx := context.Background()

	_, err := svc.Deposit(ctx, "workout", 50, "")
	require.NoError(t, err)

	tx, err := svc.Withdraw(ctx, "gaming", 50, "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), tx.BalanceAfter)
}

func TestLedger_DepositWithdrawSequence(t *testing.T) {
	// GIVEN: An empty store
	// WHEN: deposit("workout", 10), withdraw("gaming", 15), withdraw("gaming", 10)
	// THEN: 10 -> rejected (10 < 15) -> 0, with exactly two transactions logged

	svc, _ := newTestLedger()
	ctx := context.Background()

	tx, err := svc.Deposit(ctx, "workout", 10, "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), tx.BalanceAfter)

	_, err = svc.Withdraw(ctx, "gaming", 15, "")
	var insufficient *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(10), insufficient.Current)
	assert.Equal(t, int64(15), insufficient.Requested)

	tx, err = svc.Withdraw(ctx, "gaming", 10, "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), tx.BalanceAfter)

	txs, err := svc.Transactions(ctx, ledger.Filter{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

// =============================================================================
// LOG INVARIANT TESTS
// =============================================================================

func TestTransactionLog_SnapshotsAreConsistent(t *testing.T) {
	// GIVEN: A sequence of deposits and withdrawals
	// THEN: Replaying signed amounts oldest-first reproduces every
	//       balance_after snapshot, and the final snapshot equals the balance

	svc, _ := newTestLedger()
	ctx := context.Background()

	steps := []struct {
		kind   ledger.Kind
		amount int64
	}{
		{ledger.KindDeposit, 100},
		{ledger.KindWithdraw, 30},
		{ledger.KindDeposit, 15},
		{ledger.KindWithdraw, 85},
		{ledger.KindDeposit, 7},
	}
	for _, s := range steps {
		var err error
		if s.kind == ledger.KindDeposit {
			_, err = svc.Deposit(ctx, "workout", s.amount, "")
		} else {
			_, err = svc.Withdraw(ctx, "gaming", s.amount, "")
		}
		require.NoError(t, err)
	}

	txs, err := svc.Transactions(ctx, ledger.Filter{Limit: 100})
	require.NoError(t, err)
	require.Len(t, txs, len(steps))

	// Newest first; replay from the end.
	running := int64(0)
	for i := len(txs) - 1; i >= 0; i-- {
		running += txs[i].Kind.Signed(txs[i].Amount)
		assert.Equal(t, running, txs[i].BalanceAfter, "snapshot mismatch at tx %d", txs[i].ID)
		assert.GreaterOrEqual(t, txs[i].BalanceAfter, int64(0))
	}

	b, err := svc.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, running, b.TotalPoints)
}

func TestTransactions_FilterAndOrder(t *testing.T) {
	svc, _ := newTestLedger()
	ctx := context.Background()

	_, err := svc.Deposit(ctx, "workout", 10, "")
	require.NoError(t, err)
	_, err = svc.Withdraw(ctx, "gaming", 5, "")
	require.NoError(t, err)
	_, err = svc.Deposit(ctx, "workout", 20, "")
	require.NoError(t, err)

	// Newest first
	txs, err := svc.Transactions(ctx, ledger.Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.True(t, txs[0].ID > txs[1].ID)

	// Kind filter
	deposits, err := svc.Transactions(ctx, ledger.Filter{Limit: 10, Kind: ledger.KindDeposit})
	require.NoError(t, err)
	assert.Len(t, deposits, 2)

	// Unknown kinds match nothing
	none, err := svc.Transactions(ctx, ledger.Filter{Limit: 10, Kind: ledger.Kind("transfer")})
	require.NoError(t, err)
	assert.Empty(t, none)
}

// =============================================================================
// OBSERVER TESTS
// =============================================================================

func TestObserver_NotifiedAfterCommit(t *testing.T) {
	// GIVEN: An observer registered on the ledger
	// WHEN: A deposit commits
	// THEN: The observer sees the change with previous and current balances

	svc, _ := newTestLedger()
	obs := newRecordingObserver()
	svc.SetObserver(obs)
	ctx := context.Background()

	_, err := svc.Deposit(ctx, "workout", 40, "")
	require.NoError(t, err)

	ch := obs.wait(t)
	assert.Equal(t, ledger.KindDeposit, ch.Kind)
	assert.Equal(t, int64(0), ch.Previous)
	assert.Equal(t, int64(40), ch.Current)

	_, err = svc.Withdraw(ctx, "gaming", 15, "")
	require.NoError(t, err)

	ch = obs.wait(t)
	assert.Equal(t, ledger.KindWithdraw, ch.Kind)
	assert.Equal(t, int64(40), ch.Previous)
	assert.Equal(t, int64(25), ch.Current)
}

func TestObserver_ChangesArriveInCommitOrder(t *testing.T) {
	// GIVEN: An observer on the ledger
	// WHEN: Many mutations commit in quick succession
	// THEN: The observer sees every change in commit order, each one
	//       chained to the balance the previous change left behind

	svc, _ := newTestLedger()
	obs := newRecordingObserver()
	svc.SetObserver(obs)
	ctx := context.Background()

	const n = 30
	for i := 0; i < n; i++ {
		_, err := svc.Deposit(ctx, "workout", 1, "")
		require.NoError(t, err)
	}

	previous := int64(0)
	for i := 0; i < n; i++ {
		ch := obs.wait(t)
		require.Equal(t, previous, ch.Previous, "change %d out of order", i)
		require.Equal(t, previous+1, ch.Current)
		previous = ch.Current
	}
}

func TestObserver_NotNotifiedOnRejection(t *testing.T) {
	// GIVEN: An observer and an empty ledger
	// WHEN: A withdrawal is rejected
	// THEN: The observer hears nothing

	svc, _ := newTestLedger()
	obs := newRecordingObserver()
	svc.SetObserver(obs)

	_, err := svc.Withdraw(context.Background(), "gaming", 10, "")
	require.Error(t, err)

	select {
	case ch := <-obs.changes:
		t.Fatalf("unexpected change observed: %+v", ch)
	case <-time.After(100 * time.Millisecond):
	}
}
