/*
withdrawal.go - Withdrawal request lifecycle

REQUEST FLOW:
  ┌──────────────────────────────────────────────────────────────────┐
  │                                                                  │
  │  Technician        Pending           Admin decision              │
  │  requests    ──▶   request    ──▶  ┌──────────┐                  │
  │                                    │ Approved │──▶ TxDebit       │
  │                                    └──────────┘    balance -= amt│
  │                                    ┌──────────┐                  │
  │                                    │ Rejected │──▶ (nothing)     │
  │                                    └──────────┘                  │
  └──────────────────────────────────────────────────────────────────┘

NO ESCROW:
  Creating a request reserves nothing. The balance is only debited when an
  admin approves, so several pending requests may add up to more than the
  balance. Approve re-checks the balance at decision time.

ATOMICITY:
  Approve runs balance update, ledger append and status transition in one
  WithTx. The transition is the last write and is conditional on the stored
  status still being pending, so of two racing approvals exactly one
  commits; the other gets ErrRequestNotPending and its writes roll back.
  The debit's idempotency key ("withdraw:<request id>") is unique as well.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const approvedNote = "Withdraw approved"

type WithdrawalOptions struct {
	// AllowNegativeBalance disables the balance check on request and approve.
	AllowNegativeBalance bool
}

type WithdrawalService struct {
	store TxStore
	clock Clock
	log   *zap.Logger
	opts  WithdrawalOptions
}

func NewWithdrawalService(store TxStore, clock Clock, log *zap.Logger, opts WithdrawalOptions) *WithdrawalService {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WithdrawalService{store: store, clock: clock, log: log, opts: opts}
}

// Request creates a pending withdrawal for the calling technician.
func (ws *WithdrawalService) Request(ctx context.Context, caller Caller, amount decimal.Decimal, note string) (*WithdrawalRequest, error) {
	if err := requireTechnician(caller); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	techID := TechnicianID(caller.ID)
	tech, err := ws.store.GetTechnician(ctx, techID)
	if err != nil {
		return nil, err
	}
	if !ws.opts.AllowNegativeBalance && tech.WalletBalance.LessThan(amount) {
		return nil, &InsufficientBalanceError{TechnicianID: techID, Available: tech.WalletBalance, Requested: amount}
	}

	w := WithdrawalRequest{
		ID:           RequestID(uuid.NewString()),
		TechnicianID: techID,
		Amount:       amount,
		Status:       WithdrawalPending,
		Note:         note,
		CreatedAt:    ws.clock.Now(),
	}
	if err := ws.store.CreateWithdrawal(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to create withdrawal request: %w", err)
	}

	ws.log.Info("withdrawal requested",
		zap.String("request_id", string(w.ID)),
		zap.String("technician_id", string(techID)),
		zap.String("amount", amount.String()),
	)
	return &w, nil
}

// ListForTechnician returns the calling technician's requests, newest first.
func (ws *WithdrawalService) ListForTechnician(ctx context.Context, caller Caller) ([]WithdrawalRequest, error) {
	if err := requireTechnician(caller); err != nil {
		return nil, err
	}
	return ws.store.ListWithdrawals(ctx, WithdrawalFilter{TechnicianID: TechnicianID(caller.ID)})
}

// Approve debits the technician and marks the request approved, as one unit.
func (ws *WithdrawalService) Approve(ctx context.Context, caller Caller, id RequestID) (*WithdrawalRequest, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}

	now := ws.clock.Now()
	var approved WithdrawalRequest

	err := ws.store.WithTx(ctx, func(s Store) error {
		w, err := pendingWithdrawal(ctx, s, id)
		if err != nil {
			return err
		}

		tech, err := s.GetTechnician(ctx, w.TechnicianID)
		if err != nil {
			return err
		}
		if !ws.opts.AllowNegativeBalance && tech.WalletBalance.LessThan(w.Amount) {
			return &InsufficientBalanceError{TechnicianID: tech.ID, Available: tech.WalletBalance, Requested: w.Amount}
		}

		if _, err := s.AdjustBalance(ctx, w.TechnicianID, w.Amount.Neg()); err != nil {
			return err
		}

		err = s.AppendTransaction(ctx, Transaction{
			ID:             TransactionID(uuid.NewString()),
			TechnicianID:   w.TechnicianID,
			Amount:         w.Amount,
			Type:           TxDebit,
			Source:         SourceWithdraw,
			Note:           approvedNote,
			ReferenceID:    string(w.ID),
			IdempotencyKey: "withdraw:" + string(w.ID),
			CreatedAt:      now,
		})
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			// A debit for this request already exists: it was decided before.
			return ErrRequestNotPending
		}
		if err != nil {
			return err
		}

		// Last write, conditional on status = pending.
		if err := s.TransitionWithdrawal(ctx, Transition{
			RequestID: w.ID,
			From:      WithdrawalPending,
			To:        WithdrawalApproved,
			DecidedBy: caller.ID,
			DecidedAt: now,
		}); err != nil {
			return err
		}

		approved = *w
		return nil
	})
	if err != nil {
		ws.logRefused("approve", id, err)
		return nil, err
	}

	approved.Status = WithdrawalApproved
	approved.DecidedBy = caller.ID
	approved.DecidedAt = &now

	ws.log.Info("withdrawal approved",
		zap.String("request_id", string(id)),
		zap.String("technician_id", string(approved.TechnicianID)),
		zap.String("amount", approved.Amount.String()),
		zap.String("decided_by", caller.ID),
	)
	return &approved, nil
}

// Reject marks a pending request rejected. Balance and ledger are untouched.
func (ws *WithdrawalService) Reject(ctx context.Context, caller Caller, id RequestID, reason string) (*WithdrawalRequest, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}

	now := ws.clock.Now()
	var rejected WithdrawalRequest

	err := ws.store.WithTx(ctx, func(s Store) error {
		w, err := pendingWithdrawal(ctx, s, id)
		if err != nil {
			return err
		}
		if err := s.TransitionWithdrawal(ctx, Transition{
			RequestID: w.ID,
			From:      WithdrawalPending,
			To:        WithdrawalRejected,
			DecidedBy: caller.ID,
			DecidedAt: now,
			Reason:    reason,
		}); err != nil {
			return err
		}
		rejected = *w
		return nil
	})
	if err != nil {
		ws.logRefused("reject", id, err)
		return nil, err
	}

	rejected.Status = WithdrawalRejected
	rejected.DecidedBy = caller.ID
	rejected.DecidedAt = &now
	rejected.RejectionReason = reason

	ws.log.Info("withdrawal rejected",
		zap.String("request_id", string(id)),
		zap.String("decided_by", caller.ID),
	)
	return &rejected, nil
}

func pendingWithdrawal(ctx context.Context, s Store, id RequestID) (*WithdrawalRequest, error) {
	w, err := s.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Status != WithdrawalPending {
		return nil, ErrRequestNotPending
	}
	return w, nil
}

func (ws *WithdrawalService) logRefused(action string, id RequestID, err error) {
	if IsClientError(err) {
		ws.log.Warn("withdrawal decision refused",
			zap.String("action", action),
			zap.String("request_id", string(id)),
			zap.Error(err),
		)
		return
	}
	ws.log.Error("withdrawal decision failed",
		zap.String("action", action),
		zap.String("request_id", string(id)),
		zap.Error(err),
	)
}
