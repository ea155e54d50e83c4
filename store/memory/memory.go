// Package memory provides in-memory Store implementations (for testing/dev).
// Semantics mirror store/sqlite exactly, including the singleton balance
// and the insufficient-balance check inside the mutation lock.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pedalpoints/rewards-engine/ledger"
	"github.com/pedalpoints/rewards-engine/registry"
	"github.com/pedalpoints/rewards-engine/workout"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Store struct {
	mu sync.RWMutex

	balance *ledger.Balance
	txs     []ledger.Transaction
	nextTx  int64

	regs map[int64]*registry.Registration

	events    []workout.Event
	nextEvent int64

	// Now is the clock used for assigned timestamps. Overridable in tests.
	Now func() time.Time
}

func New() *Store {
	return &Store{
		nextTx:    1,
		nextEvent: 1,
		regs:      make(map[int64]*registry.Registration),
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (m *Store) Balance(_ context.Context) (*ledger.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.balance == nil {
		return nil, nil
	}
	b := *m.balance
	return &b, nil
}

func (m *Store) Apply(_ context.Context, kind ledger.Kind, name string, amount int64, description string) (ledger.Transaction, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var previous int64
	if m.balance != nil {
		previous = m.balance.TotalPoints
	}

	if kind == ledger.KindWithdraw && previous < amount {
		return ledger.Transaction{}, 0, &ledger.InsufficientBalanceError{
			Current:   previous,
			Requested: amount,
		}
	}

	now := m.Now()
	newBalance := previous + kind.Signed(amount)
	if m.balance == nil {
		m.balance = &ledger.Balance{}
	}
	m.balance.TotalPoints = newBalance
	m.balance.UpdatedAt = now

	tx := ledger.Transaction{
		ID:           m.nextTx,
		Timestamp:    now,
		Kind:         kind,
		Name:         name,
		Amount:       amount,
		BalanceAfter: newBalance,
		Description:  description,
	}
	m.nextTx++
	m.txs = append(m.txs, tx)

	return tx, previous, nil
}

func (m *Store) Transactions(_ context.Context, f ledger.Filter) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Transaction
	// Stored oldest first; walk backwards for newest first.
	for i := len(m.txs) - 1; i >= 0; i-- {
		tx := m.txs[i]
		if f.Kind != "" && tx.Kind != f.Kind {
			continue
		}
		if f.StartTime != nil && tx.Timestamp.Before(*f.StartTime) {
			continue
		}
		if f.EndTime != nil && tx.Timestamp.After(*f.EndTime) {
			continue
		}
		result = append(result, tx)
		if f.Limit > 0 && len(result) >= f.Limit {
			break
		}
	}
	return result, nil
}

// =============================================================================
// REGISTRY STORE
// =============================================================================

func (m *Store) Upsert(_ context.Context, chatID int64, meta registry.Metadata, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, ok := m.regs[chatID]
	if !ok {
		m.regs[chatID] = &registry.Registration{
			ChatID:       chatID,
			Username:     meta.Username,
			FirstName:    meta.FirstName,
			LastName:     meta.LastName,
			RegisteredAt: at,
			IsActive:     true,
		}
		return true, nil
	}

	reg.Username = meta.Username
	reg.FirstName = meta.FirstName
	reg.LastName = meta.LastName
	reg.RegisteredAt = at
	reg.IsActive = true
	return false, nil
}

func (m *Store) Deactivate(_ context.Context, chatID int64) (*registry.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, ok := m.regs[chatID]
	if !ok {
		return nil, nil
	}
	prior := *reg
	reg.IsActive = false
	return &prior, nil
}

func (m *Store) ListActive(_ context.Context) ([]registry.Registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var regs []registry.Registration
	for _, reg := range m.regs {
		if reg.IsActive {
			regs = append(regs, *reg)
		}
	}
	sort.Slice(regs, func(i, j int) bool {
		return regs[i].RegisteredAt.Before(regs[j].RegisteredAt)
	})
	return regs, nil
}

func (m *Store) TouchNotified(_ context.Context, chatID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if reg, ok := m.regs[chatID]; ok {
		t := at
		reg.LastNotification = &t
	}
	return nil
}

// =============================================================================
// WORKOUT STORE
// =============================================================================

func (m *Store) AppendEvent(_ context.Context, e workout.Event) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.ID = m.nextEvent
	m.nextEvent++
	m.events = append(m.events, e)
	return e.ID, nil
}

func (m *Store) EventsInRange(_ context.Context, start, end time.Time, deviceID string) ([]workout.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []workout.Event
	for _, e := range m.events {
		if e.Timestamp.Before(start) || e.Timestamp.After(end) {
			continue
		}
		if deviceID != "" && e.DeviceID != deviceID {
			continue
		}
		result = append(result, e)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].WorkoutID != result[j].WorkoutID {
			return result[i].WorkoutID < result[j].WorkoutID
		}
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}
