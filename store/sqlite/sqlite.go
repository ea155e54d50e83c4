/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements all persistence interfaces (ledger.Store, registry.Store,
  workout.Store) using SQLite. A single file database is plenty for a
  single-household deployment; the same patterns apply to PostgreSQL.

SINGLETON BALANCE:
  The balance table is constrained to a single row with a fixed id of 1
  (CHECK (id = 1)). The singleton is enforced by the schema, not by
  "query first row found" convention, so a race can never create a
  second ambiguous row.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements exist for the transactions table.
  Corrections are made by appending a compensating transaction.

CONCURRENCY:
  Mutations take a sync.Mutex and run inside a SQL transaction, so the
  balance check, balance write, and log append of one operation can never
  interleave with another. Reads take an RLock and see committed state
  only.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/rewards.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: Atomicity contract
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pedalpoints/rewards-engine/ledger"
	"github.com/pedalpoints/rewards-engine/registry"
	"github.com/pedalpoints/rewards-engine/workout"
)

// balanceRowID is the fixed key of the singleton balance row.
const balanceRowID = 1

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Singleton balance row (fixed id enforced by CHECK)
	CREATE TABLE IF NOT EXISTS balance (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		total_points INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		amount INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		description TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_timestamp
		ON transactions(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_kind
		ON transactions(kind);
	CREATE INDEX IF NOT EXISTS idx_transactions_name
		ON transactions(name);

	-- Chat registrations (soft-deleted via is_active)
	CREATE TABLE IF NOT EXISTS chat_registrations (
		chat_id INTEGER PRIMARY KEY,
		username TEXT,
		first_name TEXT,
		last_name TEXT,
		registered_at TEXT NOT NULL,
		last_notification TEXT,
		is_active INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_chat_registrations_active
		ON chat_registrations(is_active);

	-- Raw workout telemetry from the device
	CREATE TABLE IF NOT EXISTS workout_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		device_id TEXT NOT NULL,
		workout_id INTEGER NOT NULL,
		event TEXT NOT NULL,
		count INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_workout_events_workout
		ON workout_events(workout_id);
	CREATE INDEX IF NOT EXISTS idx_workout_events_timestamp
		ON workout_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_workout_events_device
		ON workout_events(device_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

// Balance returns the singleton balance, or nil if no mutation has occurred.
func (s *Store) Balance(ctx context.Context) (*ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT total_points, updated_at FROM balance WHERE id = ?`, balanceRowID)

	var total int64
	var updatedAt string
	if err := row.Scan(&total, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, storeErr("read balance", err)
	}

	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt updated_at %q: %w", updatedAt, err)
	}
	return &ledger.Balance{TotalPoints: total, UpdatedAt: t}, nil
}

// Apply atomically mutates the balance and appends one transaction.
// The balance check, the balance write, and the log append share one SQL
// transaction under the write lock, so concurrent withdrawals can never
// both observe a stale balance.
func (s *Store) Apply(ctx context.Context, kind ledger.Kind, name string, amount int64, description string) (ledger.Transaction, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Transaction{}, 0, storeErr("begin", err)
	}
	defer sqlTx.Rollback()

	var previous int64
	exists := true
	err = sqlTx.QueryRowContext(ctx,
		`SELECT total_points FROM balance WHERE id = ?`, balanceRowID).Scan(&previous)
	if err == sql.ErrNoRows {
		exists = false
		previous = 0
	} else if err != nil {
		return ledger.Transaction{}, 0, storeErr("read balance", err)
	}

	if kind == ledger.KindWithdraw && previous < amount {
		// Absent row and zero-point row fail identically; see ledger/errors.go.
		return ledger.Transaction{}, 0, &ledger.InsufficientBalanceError{
			Current:   previous,
			Requested: amount,
		}
	}

	newBalance := previous + kind.Signed(amount)
	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339)

	if exists {
		_, err = sqlTx.ExecContext(ctx,
			`UPDATE balance SET total_points = ?, updated_at = ? WHERE id = ?`,
			newBalance, nowStr, balanceRowID)
	} else {
		_, err = sqlTx.ExecContext(ctx,
			`INSERT INTO balance (id, total_points, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			balanceRowID, newBalance, nowStr, nowStr)
	}
	if err != nil {
		return ledger.Transaction{}, 0, storeErr("write balance", err)
	}

	res, err := sqlTx.ExecContext(ctx,
		`INSERT INTO transactions (timestamp, kind, name, amount, balance_after, description)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		nowStr, string(kind), name, amount, newBalance, nullString(description))
	if err != nil {
		return ledger.Transaction{}, 0, storeErr("append transaction", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return ledger.Transaction{}, 0, storeErr("transaction id", err)
	}

	if err := sqlTx.Commit(); err != nil {
		return ledger.Transaction{}, 0, storeErr("commit", err)
	}

	return ledger.Transaction{
		ID:           id,
		Timestamp:    now,
		Kind:         kind,
		Name:         name,
		Amount:       amount,
		BalanceAfter: newBalance,
		Description:  description,
	}, previous, nil
}

// Transactions returns log entries matching the filter, newest first.
func (s *Store) Transactions(ctx context.Context, f ledger.Filter) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any

	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.StartTime != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, f.StartTime.UTC().Format(time.RFC3339))
	}
	if f.EndTime != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, f.EndTime.UTC().Format(time.RFC3339))
	}

	query := `SELECT id, timestamp, kind, name, amount, balance_after, description FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query transactions", err)
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		var tx ledger.Transaction
		var ts string
		var desc sql.NullString
		if err := rows.Scan(&tx.ID, &ts, &tx.Kind, &tx.Name, &tx.Amount, &tx.BalanceAfter, &desc); err != nil {
			return nil, storeErr("scan transaction", err)
		}
		tx.Timestamp, err = time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("corrupt timestamp %q: %w", ts, err)
		}
		tx.Description = desc.String
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// =============================================================================
// REGISTRY STORE (registry.Store interface)
// =============================================================================

// Upsert creates or refreshes a registration, forcing it active.
func (s *Store) Upsert(ctx context.Context, chatID int64, meta registry.Metadata, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing int64
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id FROM chat_registrations WHERE chat_id = ?`, chatID).Scan(&existing)

	atStr := at.UTC().Format(time.RFC3339)

	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO chat_registrations (chat_id, username, first_name, last_name, registered_at, is_active)
			 VALUES (?, ?, ?, ?, ?, 1)`,
			chatID, nullString(meta.Username), nullString(meta.FirstName), nullString(meta.LastName), atStr)
		if err != nil {
			return false, storeErr("insert registration", err)
		}
		return true, nil

	case err != nil:
		return false, storeErr("read registration", err)

	default:
		_, err = s.db.ExecContext(ctx,
			`UPDATE chat_registrations
			 SET username = ?, first_name = ?, last_name = ?, registered_at = ?, is_active = 1
			 WHERE chat_id = ?`,
			nullString(meta.Username), nullString(meta.FirstName), nullString(meta.LastName), atStr, chatID)
		if err != nil {
			return false, storeErr("update registration", err)
		}
		return false, nil
	}
}

// Deactivate marks a registration inactive, returning its prior state.
func (s *Store) Deactivate(ctx context.Context, chatID int64) (*registry.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := scanRegistration(s.db.QueryRowContext(ctx,
		`SELECT chat_id, username, first_name, last_name, registered_at, last_notification, is_active
		 FROM chat_registrations WHERE chat_id = ?`, chatID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("read registration", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE chat_registrations SET is_active = 0 WHERE chat_id = ?`, chatID); err != nil {
		return nil, storeErr("deactivate registration", err)
	}
	return reg, nil
}

// ListActive returns all active registrations, oldest first.
func (s *Store) ListActive(ctx context.Context) ([]registry.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, username, first_name, last_name, registered_at, last_notification, is_active
		 FROM chat_registrations WHERE is_active = 1 ORDER BY registered_at ASC`)
	if err != nil {
		return nil, storeErr("query registrations", err)
	}
	defer rows.Close()

	var regs []registry.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, storeErr("scan registration", err)
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}

// TouchNotified records a successful delivery time.
func (s *Store) TouchNotified(ctx context.Context, chatID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE chat_registrations SET last_notification = ? WHERE chat_id = ?`,
		at.UTC().Format(time.RFC3339), chatID)
	if err != nil {
		return storeErr("touch registration", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row rowScanner) (*registry.Registration, error) {
	var reg registry.Registration
	var username, firstName, lastName, lastNotification sql.NullString
	var registeredAt string
	var active int

	err := row.Scan(&reg.ChatID, &username, &firstName, &lastName, &registeredAt, &lastNotification, &active)
	if err != nil {
		return nil, err
	}

	reg.Username = username.String
	reg.FirstName = firstName.String
	reg.LastName = lastName.String
	reg.IsActive = active == 1

	reg.RegisteredAt, err = time.Parse(time.RFC3339, registeredAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt registered_at %q: %w", registeredAt, err)
	}
	if lastNotification.Valid {
		t, err := time.Parse(time.RFC3339, lastNotification.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt last_notification %q: %w", lastNotification.String, err)
		}
		reg.LastNotification = &t
	}
	return &reg, nil
}

// =============================================================================
// WORKOUT STORE (workout.Store interface)
// =============================================================================

// AppendEvent stores one telemetry event.
func (s *Store) AppendEvent(ctx context.Context, e workout.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count any
	if e.Count != nil {
		count = *e.Count
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO workout_events (timestamp, device_id, workout_id, event, count)
		 VALUES (?, ?, ?, ?, ?)`,
		e.Timestamp.UTC().Format(time.RFC3339), e.DeviceID, e.WorkoutID, string(e.Event), count)
	if err != nil {
		return 0, storeErr("append event", err)
	}
	return res.LastInsertId()
}

// EventsInRange returns events in [start, end], ordered by workout then time.
func (s *Store) EventsInRange(ctx context.Context, start, end time.Time, deviceID string) ([]workout.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, timestamp, device_id, workout_id, event, count
	          FROM workout_events WHERE timestamp >= ? AND timestamp <= ?`
	args := []any{start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339)}

	if deviceID != "" {
		query += " AND device_id = ?"
		args = append(args, deviceID)
	}
	query += " ORDER BY workout_id ASC, timestamp ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query events", err)
	}
	defer rows.Close()

	var events []workout.Event
	for rows.Next() {
		var e workout.Event
		var ts string
		var count sql.NullInt64
		if err := rows.Scan(&e.ID, &ts, &e.DeviceID, &e.WorkoutID, &e.Event, &count); err != nil {
			return nil, storeErr("scan event", err)
		}
		e.Timestamp, err = time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("corrupt timestamp %q: %w", ts, err)
		}
		if count.Valid {
			c := count.Int64
			e.Count = &c
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

// storeErr wraps a driver error with the ledger's store-failure sentinel.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ledger.ErrStoreUnavailable, err)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
