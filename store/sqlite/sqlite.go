/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Default persistence for single-node deployments and local development.
  PostgreSQL (store/postgres) uses the same schema with native types.

KEY TABLES:
  technicians:  Display snapshot and cached wallet balance
  transactions: Immutable wallet ledger (credits and debits)
  withdrawals:  Withdrawal requests; status changes exactly once
  payments:     Customer payments, read by the reporting aggregator

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on the transactions table
  - idempotency_key is UNIQUE
  - idx_one_withdraw_debit allows a single approval debit per request

ENCODING:
  Money is stored as decimal TEXT and summed in Go, so no float rounding
  ever touches a balance. Times are stored in UTC with a fixed-width layout
  (timeLayout) so that string comparison orders them chronologically.

CONCURRENCY:
  Writes and WithTx are serialized by a sync.RWMutex; transactions begin
  IMMEDIATE. The Store handed to a WithTx callback talks to the *sql.Tx
  only and never takes the mutex.

USAGE:
  store, err := sqlite.New("./data/wallet.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  withdrawals := ledger.NewWithdrawalService(store, nil, logger, ledger.WithdrawalOptions{})

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/wallet-engine/ledger"
)

// timeLayout is fixed width so TEXT comparison matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.TxStore using SQLite.
type Store struct {
	conn
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	if dbPath != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{conn: conn{q: db}, db: db}
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
	CREATE TABLE IF NOT EXISTS technicians (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		mobile_number TEXT NOT NULL DEFAULT '',
		wallet_balance TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	-- Wallet ledger (append-only)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		technician_id TEXT NOT NULL REFERENCES technicians(id),
		amount TEXT NOT NULL,
		tx_type TEXT NOT NULL CHECK (tx_type IN ('credit', 'debit')),
		source TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		reference_id TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_technician
		ON transactions(technician_id, created_at);

	-- At most one approval debit per withdrawal request
	CREATE UNIQUE INDEX IF NOT EXISTS idx_one_withdraw_debit
		ON transactions(reference_id)
		WHERE source = 'withdraw' AND tx_type = 'debit';

	CREATE TABLE IF NOT EXISTS withdrawals (
		id TEXT PRIMARY KEY,
		technician_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
		note TEXT NOT NULL DEFAULT '',
		decided_by TEXT NOT NULL DEFAULT '',
		decided_at TEXT,
		rejection_reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_withdrawals_created
		ON withdrawals(created_at);
	CREATE INDEX IF NOT EXISTS idx_withdrawals_technician
		ON withdrawals(technician_id, created_at);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		commission_amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_status_created
		ON payments(status, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// WRITES - serialized with WithTx
// =============================================================================

func (s *Store) SaveTechnician(ctx context.Context, t ledger.Technician) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.SaveTechnician(ctx, t)
}

// AdjustBalance is a read-modify-write, so outside WithTx it runs in its own
// transaction.
func (s *Store) AdjustBalance(ctx context.Context, id ledger.TechnicianID, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.WithTx(ctx, func(st ledger.Store) error {
		nb, err := st.AdjustBalance(ctx, id, delta)
		balance = nb
		return err
	})
	return balance, err
}

func (s *Store) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.AppendTransaction(ctx, tx)
}

func (s *Store) CreateWithdrawal(ctx context.Context, w ledger.WithdrawalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.CreateWithdrawal(ctx, w)
}

func (s *Store) TransitionWithdrawal(ctx context.Context, t ledger.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.TransitionWithdrawal(ctx, t)
}

func (s *Store) RecordPayment(ctx context.Context, p ledger.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.RecordPayment(ctx, p)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Reset wipes all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM transactions;
		DELETE FROM withdrawals;
		DELETE FROM payments;
		DELETE FROM technicians;
	`)
	return err
}

// =============================================================================
// CONN - queries against either *sql.DB or *sql.Tx
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type conn struct {
	q querier
}

// --- technicians ---

func (c *conn) SaveTechnician(ctx context.Context, t ledger.Technician) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO technicians (id, name, mobile_number, wallet_balance, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			mobile_number = excluded.mobile_number
	`, t.ID, t.Name, t.MobileNumber, t.WalletBalance.String(), formatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save technician: %w", err)
	}
	return nil
}

func (c *conn) GetTechnician(ctx context.Context, id ledger.TechnicianID) (*ledger.Technician, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT id, name, mobile_number, wallet_balance, created_at
		FROM technicians WHERE id = ?
	`, id)
	t, err := scanTechnician(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrTechnicianNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get technician: %w", err)
	}
	return &t, nil
}

func (c *conn) ListTechnicians(ctx context.Context) ([]ledger.Technician, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, name, mobile_number, wallet_balance, created_at
		FROM technicians ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list technicians: %w", err)
	}
	defer rows.Close()

	var result []ledger.Technician
	for rows.Next() {
		t, err := scanTechnician(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (c *conn) AdjustBalance(ctx context.Context, id ledger.TechnicianID, delta decimal.Decimal) (decimal.Decimal, error) {
	var current decimal.Decimal
	err := c.q.QueryRowContext(ctx, `SELECT wallet_balance FROM technicians WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ledger.ErrTechnicianNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read balance: %w", err)
	}

	next := current.Add(delta)
	if _, err := c.q.ExecContext(ctx, `UPDATE technicians SET wallet_balance = ? WHERE id = ?`, next.String(), id); err != nil {
		return decimal.Zero, fmt.Errorf("failed to update balance: %w", err)
	}
	return next, nil
}

// --- transactions ---

func (c *conn) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO transactions
		(id, technician_id, amount, tx_type, source, note, reference_id, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID,
		tx.TechnicianID,
		tx.Amount.String(),
		tx.Type,
		tx.Source,
		tx.Note,
		tx.ReferenceID,
		nullString(tx.IdempotencyKey),
		formatTime(tx.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (c *conn) Transactions(ctx context.Context, id ledger.TechnicianID) ([]ledger.Transaction, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, technician_id, amount, tx_type, source, note, reference_id,
		       COALESCE(idempotency_key, ''), created_at
		FROM transactions
		WHERE technician_id = ?
		ORDER BY created_at, rowid
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	defer rows.Close()

	result := []ledger.Transaction{}
	for rows.Next() {
		var (
			tx      ledger.Transaction
			created string
		)
		if err := rows.Scan(&tx.ID, &tx.TechnicianID, &tx.Amount, &tx.Type, &tx.Source,
			&tx.Note, &tx.ReferenceID, &tx.IdempotencyKey, &created); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if tx.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

// --- withdrawals ---

func (c *conn) CreateWithdrawal(ctx context.Context, w ledger.WithdrawalRequest) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO withdrawals
		(id, technician_id, amount, status, note, decided_by, decided_at, rejection_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		w.ID,
		w.TechnicianID,
		w.Amount.String(),
		w.Status,
		w.Note,
		w.DecidedBy,
		nullTime(w.DecidedAt),
		w.RejectionReason,
		formatTime(w.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create withdrawal: %w", err)
	}
	return nil
}

const withdrawalColumns = `id, technician_id, amount, status, note, decided_by, decided_at, rejection_reason, created_at`

func (c *conn) GetWithdrawal(ctx context.Context, id ledger.RequestID) (*ledger.WithdrawalRequest, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = ?`, id)
	w, err := scanWithdrawal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	return &w, nil
}

func (c *conn) ListWithdrawals(ctx context.Context, f ledger.WithdrawalFilter) ([]ledger.WithdrawalRequest, error) {
	var (
		where []string
		args  []any
	)
	if f.TechnicianID != "" {
		where = append(where, "technician_id = ?")
		args = append(args, f.TechnicianID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Window != nil {
		where = append(where, "created_at >= ? AND created_at <= ?")
		args = append(args, formatTime(f.Window.Start), formatTime(f.Window.End))
	}

	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	defer rows.Close()

	result := []ledger.WithdrawalRequest{}
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

// TransitionWithdrawal is a compare-and-set on status.
func (c *conn) TransitionWithdrawal(ctx context.Context, t ledger.Transition) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE withdrawals
		SET status = ?, decided_by = ?, decided_at = ?, rejection_reason = ?
		WHERE id = ? AND status = ?
	`, t.To, t.DecidedBy, formatTime(t.DecidedAt), t.Reason, t.RequestID, t.From)
	if err != nil {
		return fmt.Errorf("failed to transition withdrawal: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to transition withdrawal: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = c.q.QueryRowContext(ctx, `SELECT 1 FROM withdrawals WHERE id = ?`, t.RequestID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrRequestNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to transition withdrawal: %w", err)
	}
	return ledger.ErrRequestNotPending
}

func (c *conn) WithdrawalStats(ctx context.Context) (ledger.WithdrawalStats, error) {
	stats := ledger.WithdrawalStats{ApprovedAmount: decimal.Zero, PendingAmount: decimal.Zero}

	rows, err := c.q.QueryContext(ctx, `SELECT status, amount FROM withdrawals`)
	if err != nil {
		return stats, fmt.Errorf("failed to load withdrawal stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status ledger.WithdrawalStatus
			amount decimal.Decimal
		)
		if err := rows.Scan(&status, &amount); err != nil {
			return stats, fmt.Errorf("failed to scan withdrawal stats: %w", err)
		}
		switch status {
		case ledger.WithdrawalApproved:
			stats.ApprovedAmount = stats.ApprovedAmount.Add(amount)
			stats.ApprovedCount++
		case ledger.WithdrawalRejected:
			stats.RejectedCount++
		case ledger.WithdrawalPending:
			stats.PendingAmount = stats.PendingAmount.Add(amount)
			stats.PendingCount++
		}
	}
	return stats, rows.Err()
}

// --- payments ---

func (c *conn) RecordPayment(ctx context.Context, p ledger.Payment) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO payments (id, status, total_amount, commission_amount, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.Status, p.TotalAmount.String(), p.CommissionAmount.String(), formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to record payment: %w", err)
	}
	return nil
}

func (c *conn) SummarizePayments(ctx context.Context, starts ...time.Time) (ledger.PaymentTotals, []ledger.PaymentTotals, error) {
	overall := zeroTotals()
	windows := make([]ledger.PaymentTotals, len(starts))
	for i := range windows {
		windows[i] = zeroTotals()
	}

	err := c.eachPayment(ctx, `WHERE status = ?`, []any{ledger.PaymentSuccess}, func(pt ledger.PaymentTotals, at time.Time) {
		overall = overall.Add(pt)
		for i, start := range starts {
			if !at.Before(start) {
				windows[i] = windows[i].Add(pt)
			}
		}
	})
	return overall, windows, err
}

func (c *conn) SumPayments(ctx context.Context, w ledger.Window) (ledger.PaymentTotals, error) {
	total := zeroTotals()
	err := c.eachPayment(ctx,
		`WHERE status = ? AND created_at >= ? AND created_at <= ?`,
		[]any{ledger.PaymentSuccess, formatTime(w.Start), formatTime(w.End)},
		func(pt ledger.PaymentTotals, _ time.Time) { total = total.Add(pt) },
	)
	return total, err
}

func (c *conn) eachPayment(ctx context.Context, where string, args []any, fn func(ledger.PaymentTotals, time.Time)) error {
	rows, err := c.q.QueryContext(ctx,
		`SELECT total_amount, commission_amount, created_at FROM payments `+where, args...)
	if err != nil {
		return fmt.Errorf("failed to load payments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			pt      ledger.PaymentTotals
			created string
		)
		if err := rows.Scan(&pt.Collected, &pt.Commission, &created); err != nil {
			return fmt.Errorf("failed to scan payment: %w", err)
		}
		at, err := parseTime(created)
		if err != nil {
			return err
		}
		fn(pt, at)
	}
	return rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanTechnician(row scanner) (ledger.Technician, error) {
	var (
		t       ledger.Technician
		created string
	)
	if err := row.Scan(&t.ID, &t.Name, &t.MobileNumber, &t.WalletBalance, &created); err != nil {
		return t, err
	}
	var err error
	t.CreatedAt, err = parseTime(created)
	return t, err
}

func scanWithdrawal(row scanner) (ledger.WithdrawalRequest, error) {
	var (
		w       ledger.WithdrawalRequest
		decided sql.NullString
		created string
	)
	if err := row.Scan(&w.ID, &w.TechnicianID, &w.Amount, &w.Status, &w.Note,
		&w.DecidedBy, &decided, &w.RejectionReason, &created); err != nil {
		return w, err
	}

	var err error
	if w.CreatedAt, err = parseTime(created); err != nil {
		return w, err
	}
	if decided.Valid {
		at, err := parseTime(decided.String)
		if err != nil {
			return w, err
		}
		w.DecidedAt = &at
	}
	return w, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func zeroTotals() ledger.PaymentTotals {
	return ledger.PaymentTotals{Collected: decimal.Zero, Commission: decimal.Zero}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
