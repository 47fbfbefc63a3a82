/*
ledger.go - Wallet ledger: earnings credits, history and reconciliation

PURPOSE:
  The transaction log is the system of record for every technician wallet.
  The cached Technician.WalletBalance exists for fast reads, and is only
  ever changed in the same WithTx as the ledger entry that explains it.

CORRECTIONS:
  Entries are never edited. A mistaken credit is corrected with a debit
  (source "adjustment"); both stay in the ledger.

RECONCILIATION:
  Reconcile replays the ledger and compares the result with the cached
  balance. Any drift means some write bypassed the engine.

SEE ALSO:
  - withdrawal.go: the only debit path (approved withdrawals)
  - store.go: AdjustBalance / AppendTransaction contract
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store TxStore
	clock Clock
	log   *zap.Logger
}

func NewLedger(store TxStore, clock Clock, log *zap.Logger) *Ledger {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{store: store, clock: clock, log: log}
}

// CreditRequest describes earnings being added to a wallet.
type CreditRequest struct {
	TechnicianID   TechnicianID
	Amount         decimal.Decimal
	Source         string
	Note           string
	ReferenceID    string
	IdempotencyKey string
}

// Credit appends a credit entry and raises the cached balance atomically.
// This is the entry point for whatever process pays technicians their
// earnings; a retry with the same IdempotencyKey changes nothing.
func (l *Ledger) Credit(ctx context.Context, req CreditRequest) (*Transaction, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if req.Source == "" {
		req.Source = SourceJob
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = "credit:" + uuid.NewString()
	}

	tx := Transaction{
		ID:             TransactionID(uuid.NewString()),
		TechnicianID:   req.TechnicianID,
		Amount:         req.Amount,
		Type:           TxCredit,
		Source:         req.Source,
		Note:           req.Note,
		ReferenceID:    req.ReferenceID,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      l.clock.Now(),
	}

	var balance decimal.Decimal
	err := l.store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetTechnician(ctx, req.TechnicianID); err != nil {
			return err
		}
		if err := s.AppendTransaction(ctx, tx); err != nil {
			return err
		}
		nb, err := s.AdjustBalance(ctx, req.TechnicianID, req.Amount)
		if err != nil {
			return err
		}
		balance = nb
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("credit %s: %w", req.TechnicianID, err)
	}

	l.log.Info("wallet credited",
		zap.String("technician_id", string(req.TechnicianID)),
		zap.String("amount", req.Amount.String()),
		zap.String("source", req.Source),
		zap.String("balance", balance.String()),
	)
	return &tx, nil
}

// Balance returns the calling technician's wallet snapshot.
func (l *Ledger) Balance(ctx context.Context, caller Caller) (*Technician, error) {
	if err := requireTechnician(caller); err != nil {
		return nil, err
	}
	return l.store.GetTechnician(ctx, TechnicianID(caller.ID))
}

// History returns the calling technician's transactions, newest first.
func (l *Ledger) History(ctx context.Context, caller Caller) ([]Transaction, error) {
	if err := requireTechnician(caller); err != nil {
		return nil, err
	}
	txs, err := l.store.Transactions(ctx, TechnicianID(caller.ID))
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(txs)-1; i < j; i, j = i+1, j-1 {
		txs[i], txs[j] = txs[j], txs[i]
	}
	return txs, nil
}

// =============================================================================
// RECONCILIATION
// =============================================================================

type ReconciliationReport struct {
	TechnicianID  TechnicianID
	Credits       decimal.Decimal
	Debits        decimal.Decimal
	LedgerBalance decimal.Decimal // Credits - Debits
	CachedBalance decimal.Decimal
	Drift         decimal.Decimal // CachedBalance - LedgerBalance
	Entries       int
}

// Consistent reports whether the cached balance matches the ledger.
func (r ReconciliationReport) Consistent() bool { return r.Drift.IsZero() }

// Reconcile replays one technician's ledger against the cached balance.
func (l *Ledger) Reconcile(ctx context.Context, id TechnicianID) (*ReconciliationReport, error) {
	tech, err := l.store.GetTechnician(ctx, id)
	if err != nil {
		return nil, err
	}
	txs, err := l.store.Transactions(ctx, id)
	if err != nil {
		return nil, err
	}
	return reconcile(tech, txs), nil
}

// ReconcileAll reconciles every technician. Admin/Owner only.
func (l *Ledger) ReconcileAll(ctx context.Context, caller Caller) ([]ReconciliationReport, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	return l.reconcileAll(ctx)
}

func (l *Ledger) reconcileAll(ctx context.Context) ([]ReconciliationReport, error) {
	techs, err := l.store.ListTechnicians(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]ReconciliationReport, 0, len(techs))
	for i := range techs {
		txs, err := l.store.Transactions(ctx, techs[i].ID)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *reconcile(&techs[i], txs))
	}
	return reports, nil
}

// Audit reconciles every technician without a caller, for the background
// auditor, and logs any drift.
func (l *Ledger) Audit(ctx context.Context) ([]ReconciliationReport, error) {
	reports, err := l.reconcileAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range reports {
		if !r.Consistent() {
			l.log.Error("wallet balance drift",
				zap.String("technician_id", string(r.TechnicianID)),
				zap.String("cached", r.CachedBalance.String()),
				zap.String("ledger", r.LedgerBalance.String()),
				zap.String("drift", r.Drift.String()),
			)
		}
	}
	return reports, nil
}

func reconcile(tech *Technician, txs []Transaction) *ReconciliationReport {
	r := &ReconciliationReport{
		TechnicianID:  tech.ID,
		Credits:       decimal.Zero,
		Debits:        decimal.Zero,
		CachedBalance: tech.WalletBalance,
		Entries:       len(txs),
	}
	for _, tx := range txs {
		switch tx.Type {
		case TxCredit:
			r.Credits = r.Credits.Add(tx.Amount)
		case TxDebit:
			r.Debits = r.Debits.Add(tx.Amount)
		}
	}
	r.LedgerBalance = r.Credits.Sub(r.Debits)
	r.Drift = r.CachedBalance.Sub(r.LedgerBalance)
	return r
}
