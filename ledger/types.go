/*
Package ledger provides the technician wallet engine.

PURPOSE:
  This package contains the wallet types and algorithms for a service
  marketplace: the append-only ledger of wallet transactions, the cached
  per-technician balance, the withdrawal request state machine and the
  admin reporting aggregator. Persistence is behind the interfaces in
  store.go; transport lives in package api.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: An immutable credit or debit against a technician wallet
  - Technician: Display snapshot plus the cached wallet balance
  - WithdrawalRequest: A technician's ask to be paid out, decided once
  - Payment: A customer payment (read-only here) used for reporting

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified or deleted
  2. Precision: Money is decimal.Decimal, rounded only when reported
  3. Type Safety: Strong typing for IDs prevents mixing technician/request IDs
  4. Auditability: Every balance change has a source, note and idempotency key

INVARIANT:
  For every technician, after any completed operation:

    WalletBalance == Σ credit.Amount − Σ debit.Amount

USAGE:
  tx := ledger.Transaction{
      TechnicianID: "tech-1",
      Amount:       decimal.NewFromInt(300),
      Type:         ledger.TxDebit,
      Source:       ledger.SourceWithdraw,
  }

SEE ALSO:
  - withdrawal.go: Approve/Reject state machine
  - report.go: Summary and filtered summary
  - store.go: Persistence interfaces
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TechnicianID string
type RequestID string
type TransactionID string
type PaymentID string

// =============================================================================
// TRANSACTION - Append-only wallet ledger entry
// =============================================================================

type TransactionType string

const (
	TxCredit TransactionType = "credit" // Earnings added to the wallet
	TxDebit  TransactionType = "debit"  // Money leaving the wallet (approved withdrawal)
)

// Transaction sources.
const (
	SourceWithdraw = "withdraw"
	SourceJob      = "job"
	SourceAdjust   = "adjustment"
)

type Transaction struct {
	ID             TransactionID
	TechnicianID   TechnicianID
	Amount         decimal.Decimal // Always positive; Type carries the sign
	Type           TransactionType
	Source         string
	Note           string
	ReferenceID    string
	IdempotencyKey string
	CreatedAt      time.Time
}

// Signed returns the amount with the sign implied by the transaction type.
func (t Transaction) Signed() decimal.Decimal {
	if t.Type == TxDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// =============================================================================
// TECHNICIAN - Cached balance and display snapshot
// =============================================================================

type Technician struct {
	ID            TechnicianID
	Name          string
	MobileNumber  string
	WalletBalance decimal.Decimal
	CreatedAt     time.Time
}

// =============================================================================
// WITHDRAWAL REQUEST
// =============================================================================

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

// IsTerminal reports whether no further transition is allowed.
func (s WithdrawalStatus) IsTerminal() bool {
	return s == WithdrawalApproved || s == WithdrawalRejected
}

type WithdrawalRequest struct {
	ID              RequestID
	TechnicianID    TechnicianID
	Amount          decimal.Decimal
	Status          WithdrawalStatus
	Note            string
	DecidedBy       string
	DecidedAt       *time.Time
	RejectionReason string
	CreatedAt       time.Time
}

// Transition is a single pending -> terminal decision, applied conditionally
// by the store: it only succeeds while the stored status still equals From.
type Transition struct {
	RequestID RequestID
	From      WithdrawalStatus
	To        WithdrawalStatus
	DecidedBy string
	DecidedAt time.Time
	Reason    string
}

// WithdrawalFilter narrows ListWithdrawals. Zero values mean "any".
type WithdrawalFilter struct {
	TechnicianID TechnicianID
	Status       WithdrawalStatus
	Window       *Window
}

// WithdrawalStats are all-time counters over every withdrawal request.
type WithdrawalStats struct {
	ApprovedAmount decimal.Decimal
	ApprovedCount  int
	RejectedCount  int
	PendingAmount  decimal.Decimal
	PendingCount   int
}

// =============================================================================
// PAYMENT - Customer payments (read-only for the engine)
// =============================================================================

type PaymentStatus string

const (
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
	PaymentPending PaymentStatus = "pending"
)

type Payment struct {
	ID               PaymentID
	Status           PaymentStatus
	TotalAmount      decimal.Decimal
	CommissionAmount decimal.Decimal
	CreatedAt        time.Time
}

// PaymentTotals is the sum of successful payments inside one window.
type PaymentTotals struct {
	Collected  decimal.Decimal
	Commission decimal.Decimal
}

// Add returns the component-wise sum.
func (p PaymentTotals) Add(o PaymentTotals) PaymentTotals {
	return PaymentTotals{
		Collected:  p.Collected.Add(o.Collected),
		Commission: p.Commission.Add(o.Commission),
	}
}
