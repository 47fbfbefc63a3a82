/*
store.go - Persistence interfaces for the wallet engine

KEY INTERFACES:
  TechnicianStore:  Technician snapshot and cached wallet balance
  TransactionStore: Append-only wallet ledger
  WithdrawalStore:  Withdrawal requests and their conditional transition
  PaymentStore:     Customer payments, read by the reporting aggregator
  TxStore:          All of the above plus WithTx for atomic units of work

APPEND-ONLY CONTRACT:
  Transactions have no Update or Delete. Withdrawal requests are never
  deleted and change status exactly once, through TransitionWithdrawal.

ATOMIC UNITS:
  Approving a withdrawal touches three things (balance, ledger, status).
  They are written through the Store handed to the WithTx callback; if the
  callback returns an error nothing is kept.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite, default for single-node deployments
  - store/postgres/postgres.go: PostgreSQL via pgx
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type TechnicianStore interface {
	// SaveTechnician creates or updates the display fields. It never
	// overwrites WalletBalance of an existing technician.
	SaveTechnician(ctx context.Context, t Technician) error

	// GetTechnician returns ErrTechnicianNotFound when missing.
	GetTechnician(ctx context.Context, id TechnicianID) (*Technician, error)

	ListTechnicians(ctx context.Context) ([]Technician, error)

	// AdjustBalance adds delta to the cached balance and returns the new value.
	// Callers must pair it with AppendTransaction inside the same WithTx.
	AdjustBalance(ctx context.Context, id TechnicianID, delta decimal.Decimal) (decimal.Decimal, error)
}

type TransactionStore interface {
	// AppendTransaction is the ONLY write on the ledger.
	// Returns ErrDuplicateIdempotencyKey if the key exists.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// Transactions returns a technician's ledger, oldest first.
	Transactions(ctx context.Context, id TechnicianID) ([]Transaction, error)
}

type WithdrawalStore interface {
	CreateWithdrawal(ctx context.Context, w WithdrawalRequest) error

	// GetWithdrawal returns ErrRequestNotFound when missing.
	GetWithdrawal(ctx context.Context, id RequestID) (*WithdrawalRequest, error)

	// ListWithdrawals returns matching requests, newest first.
	ListWithdrawals(ctx context.Context, f WithdrawalFilter) ([]WithdrawalRequest, error)

	// TransitionWithdrawal applies t only if the stored status equals t.From.
	// Returns ErrRequestNotPending when it doesn't (or ErrRequestNotFound).
	TransitionWithdrawal(ctx context.Context, t Transition) error

	WithdrawalStats(ctx context.Context) (WithdrawalStats, error)
}

type PaymentStore interface {
	RecordPayment(ctx context.Context, p Payment) error

	// SummarizePayments totals successful payments in one read: overall,
	// and for each start the subset with CreatedAt >= start.
	SummarizePayments(ctx context.Context, starts ...time.Time) (PaymentTotals, []PaymentTotals, error)

	// SumPayments totals successful payments with CreatedAt in [w.Start, w.End].
	SumPayments(ctx context.Context, w Window) (PaymentTotals, error)
}

// Store is the full set of persistence operations.
type Store interface {
	TechnicianStore
	TransactionStore
	WithdrawalStore
	PaymentStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Resetter is implemented by stores that can wipe all data (demo scenarios).
type Resetter interface {
	Reset(ctx context.Context) error
}
