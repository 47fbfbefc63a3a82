/*
Package postgres provides a PostgreSQL-backed implementation of ledger.TxStore.

PURPOSE:
  Multi-node deployments. Same tables as store/sqlite, with native NUMERIC
  and TIMESTAMPTZ columns, so sums are exact and done in SQL.

CONCURRENCY:
  No process-level locking. Inside WithTx the technician and withdrawal rows
  are read FOR UPDATE, so two approvals touching the same wallet queue on the
  row lock, and the status update stays a compare-and-set.

NUMERIC:
  Amounts are written as text with an explicit ::numeric cast and read back
  with ::text, then parsed into decimal.Decimal.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/warp/wallet-engine/ledger"
)

// Store implements ledger.TxStore using a pgx connection pool.
type Store struct {
	conn
	pool *pgxpool.Pool
}

// New connects, pings and migrates.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{conn: conn{q: pool}, pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS technicians (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		mobile_number TEXT NOT NULL DEFAULT '',
		wallet_balance NUMERIC NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		technician_id TEXT NOT NULL REFERENCES technicians(id),
		amount NUMERIC NOT NULL CHECK (amount > 0),
		tx_type TEXT NOT NULL CHECK (tx_type IN ('credit', 'debit')),
		source TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		reference_id TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT UNIQUE,
		seq BIGSERIAL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_technician ON transactions(technician_id, created_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_one_withdraw_debit
		ON transactions(reference_id) WHERE source = 'withdraw' AND tx_type = 'debit';

	CREATE TABLE IF NOT EXISTS withdrawals (
		id TEXT PRIMARY KEY,
		technician_id TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
		note TEXT NOT NULL DEFAULT '',
		decided_by TEXT NOT NULL DEFAULT '',
		decided_at TIMESTAMPTZ,
		rejection_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_withdrawals_created ON withdrawals(created_at);
	CREATE INDEX IF NOT EXISTS idx_withdrawals_technician ON withdrawals(technician_id, created_at);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		total_amount NUMERIC NOT NULL,
		commission_amount NUMERIC NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_payments_status_created ON payments(status, created_at);
	`)
	return err
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&conn{q: tx, forUpdate: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Reset wipes all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE transactions, withdrawals, payments, technicians`)
	return err
}

// =============================================================================
// CONN - queries against either the pool or a pgx.Tx
// =============================================================================

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type conn struct {
	q         querier
	forUpdate bool
}

func (c *conn) lock() string {
	if c.forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

// --- technicians ---

func (c *conn) SaveTechnician(ctx context.Context, t ledger.Technician) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := c.q.Exec(ctx, `
		INSERT INTO technicians (id, name, mobile_number, wallet_balance, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			mobile_number = EXCLUDED.mobile_number
	`, string(t.ID), t.Name, t.MobileNumber, t.WalletBalance.String(), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save technician: %w", err)
	}
	return nil
}

const technicianColumns = `id, name, mobile_number, wallet_balance::text, created_at`

func (c *conn) GetTechnician(ctx context.Context, id ledger.TechnicianID) (*ledger.Technician, error) {
	row := c.q.QueryRow(ctx, `SELECT `+technicianColumns+` FROM technicians WHERE id = $1`+c.lock(), string(id))
	t, err := scanTechnician(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrTechnicianNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get technician: %w", err)
	}
	return &t, nil
}

func (c *conn) ListTechnicians(ctx context.Context) ([]ledger.Technician, error) {
	rows, err := c.q.Query(ctx, `SELECT `+technicianColumns+` FROM technicians ORDER BY id`)
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
	var raw string
	err := c.q.QueryRow(ctx, `
		UPDATE technicians SET wallet_balance = wallet_balance + $1::numeric
		WHERE id = $2
		RETURNING wallet_balance::text
	`, delta.String(), string(id)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ledger.ErrTechnicianNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to update balance: %w", err)
	}
	return parseDecimal(raw)
}

// --- transactions ---

func (c *conn) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	var key *string
	if tx.IdempotencyKey != "" {
		key = &tx.IdempotencyKey
	}
	_, err := c.q.Exec(ctx, `
		INSERT INTO transactions
		(id, technician_id, amount, tx_type, source, note, reference_id, idempotency_key, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9)
	`,
		string(tx.ID), string(tx.TechnicianID), tx.Amount.String(), string(tx.Type),
		tx.Source, tx.Note, tx.ReferenceID, key, tx.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (c *conn) Transactions(ctx context.Context, id ledger.TechnicianID) ([]ledger.Transaction, error) {
	rows, err := c.q.Query(ctx, `
		SELECT id, technician_id, amount::text, tx_type, source, note, reference_id,
		       COALESCE(idempotency_key, ''), created_at
		FROM transactions
		WHERE technician_id = $1
		ORDER BY created_at, seq
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	defer rows.Close()

	result := []ledger.Transaction{}
	for rows.Next() {
		var (
			tx                           ledger.Transaction
			txID, techID, amount, txType string
		)
		if err := rows.Scan(&txID, &techID, &amount, &txType, &tx.Source, &tx.Note,
			&tx.ReferenceID, &tx.IdempotencyKey, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.ID = ledger.TransactionID(txID)
		tx.TechnicianID = ledger.TechnicianID(techID)
		tx.Type = ledger.TransactionType(txType)
		if tx.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

// --- withdrawals ---

func (c *conn) CreateWithdrawal(ctx context.Context, w ledger.WithdrawalRequest) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO withdrawals
		(id, technician_id, amount, status, note, decided_by, decided_at, rejection_reason, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9)
	`,
		string(w.ID), string(w.TechnicianID), w.Amount.String(), string(w.Status),
		w.Note, w.DecidedBy, w.DecidedAt, w.RejectionReason, w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create withdrawal: %w", err)
	}
	return nil
}

const withdrawalColumns = `id, technician_id, amount::text, status, note, decided_by, decided_at, rejection_reason, created_at`

func (c *conn) GetWithdrawal(ctx context.Context, id ledger.RequestID) (*ledger.WithdrawalRequest, error) {
	row := c.q.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`+c.lock(), string(id))
	w, err := scanWithdrawal(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.TechnicianID != "" {
		where = append(where, "technician_id = "+arg(string(f.TechnicianID)))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if f.Window != nil {
		where = append(where, "created_at >= "+arg(f.Window.Start)+" AND created_at <= "+arg(f.Window.End))
	}

	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := c.q.Query(ctx, query, args...)
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

func (c *conn) TransitionWithdrawal(ctx context.Context, t ledger.Transition) error {
	tag, err := c.q.Exec(ctx, `
		UPDATE withdrawals
		SET status = $1, decided_by = $2, decided_at = $3, rejection_reason = $4
		WHERE id = $5 AND status = $6
	`, string(t.To), t.DecidedBy, t.DecidedAt, t.Reason, string(t.RequestID), string(t.From))
	if err != nil {
		return fmt.Errorf("failed to transition withdrawal: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := c.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM withdrawals WHERE id = $1)`, string(t.RequestID)).Scan(&exists); err != nil {
		return fmt.Errorf("failed to transition withdrawal: %w", err)
	}
	if !exists {
		return ledger.ErrRequestNotFound
	}
	return ledger.ErrRequestNotPending
}

func (c *conn) WithdrawalStats(ctx context.Context) (ledger.WithdrawalStats, error) {
	var (
		stats             ledger.WithdrawalStats
		approved, pending string
	)
	err := c.q.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE status = 'approved'), 0)::text,
			COUNT(*) FILTER (WHERE status = 'approved'),
			COUNT(*) FILTER (WHERE status = 'rejected'),
			COALESCE(SUM(amount) FILTER (WHERE status = 'pending'), 0)::text,
			COUNT(*) FILTER (WHERE status = 'pending')
		FROM withdrawals
	`).Scan(&approved, &stats.ApprovedCount, &stats.RejectedCount, &pending, &stats.PendingCount)
	if err != nil {
		return stats, fmt.Errorf("failed to load withdrawal stats: %w", err)
	}
	if stats.ApprovedAmount, err = parseDecimal(approved); err != nil {
		return stats, err
	}
	stats.PendingAmount, err = parseDecimal(pending)
	return stats, err
}

// --- payments ---

func (c *conn) RecordPayment(ctx context.Context, p ledger.Payment) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO payments (id, status, total_amount, commission_amount, created_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5)
	`, string(p.ID), string(p.Status), p.TotalAmount.String(), p.CommissionAmount.String(), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record payment: %w", err)
	}
	return nil
}

// SummarizePayments builds one SELECT with a FILTER pair per start.
func (c *conn) SummarizePayments(ctx context.Context, starts ...time.Time) (ledger.PaymentTotals, []ledger.PaymentTotals, error) {
	cols := []string{
		`COALESCE(SUM(total_amount), 0)::text`,
		`COALESCE(SUM(commission_amount), 0)::text`,
	}
	args := []any{string(ledger.PaymentSuccess)}
	for _, start := range starts {
		args = append(args, start)
		n := len(args)
		cols = append(cols,
			fmt.Sprintf(`COALESCE(SUM(total_amount) FILTER (WHERE created_at >= $%d), 0)::text`, n),
			fmt.Sprintf(`COALESCE(SUM(commission_amount) FILTER (WHERE created_at >= $%d), 0)::text`, n),
		)
	}

	raw := make([]string, len(cols))
	dest := make([]any, len(cols))
	for i := range raw {
		dest[i] = &raw[i]
	}
	query := `SELECT ` + strings.Join(cols, ", ") + ` FROM payments WHERE status = $1`
	if err := c.q.QueryRow(ctx, query, args...).Scan(dest...); err != nil {
		return ledger.PaymentTotals{}, nil, fmt.Errorf("failed to summarize payments: %w", err)
	}

	totals := make([]ledger.PaymentTotals, 0, len(starts)+1)
	for i := 0; i < len(raw); i += 2 {
		pt, err := parseTotals(raw[i], raw[i+1])
		if err != nil {
			return ledger.PaymentTotals{}, nil, err
		}
		totals = append(totals, pt)
	}
	return totals[0], totals[1:], nil
}

func (c *conn) SumPayments(ctx context.Context, w ledger.Window) (ledger.PaymentTotals, error) {
	var collected, commission string
	err := c.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_amount), 0)::text, COALESCE(SUM(commission_amount), 0)::text
		FROM payments
		WHERE status = $1 AND created_at >= $2 AND created_at <= $3
	`, string(ledger.PaymentSuccess), w.Start, w.End).Scan(&collected, &commission)
	if err != nil {
		return ledger.PaymentTotals{}, fmt.Errorf("failed to sum payments: %w", err)
	}
	return parseTotals(collected, commission)
}

// =============================================================================
// HELPERS
// =============================================================================

func scanTechnician(row pgx.Row) (ledger.Technician, error) {
	var (
		t           ledger.Technician
		id, balance string
	)
	if err := row.Scan(&id, &t.Name, &t.MobileNumber, &balance, &t.CreatedAt); err != nil {
		return t, err
	}
	t.ID = ledger.TechnicianID(id)
	var err error
	t.WalletBalance, err = parseDecimal(balance)
	return t, err
}

func scanWithdrawal(row pgx.Row) (ledger.WithdrawalRequest, error) {
	var (
		w                          ledger.WithdrawalRequest
		id, techID, amount, status string
	)
	if err := row.Scan(&id, &techID, &amount, &status, &w.Note, &w.DecidedBy,
		&w.DecidedAt, &w.RejectionReason, &w.CreatedAt); err != nil {
		return w, err
	}
	w.ID = ledger.RequestID(id)
	w.TechnicianID = ledger.TechnicianID(techID)
	w.Status = ledger.WithdrawalStatus(status)
	var err error
	w.Amount, err = parseDecimal(amount)
	return w, err
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid stored amount %q: %w", s, err)
	}
	return d, nil
}

func parseTotals(collected, commission string) (ledger.PaymentTotals, error) {
	c, err := parseDecimal(collected)
	if err != nil {
		return ledger.PaymentTotals{}, err
	}
	k, err := parseDecimal(commission)
	if err != nil {
		return ledger.PaymentTotals{}, err
	}
	return ledger.PaymentTotals{Collected: c, Commission: k}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
