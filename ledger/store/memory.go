// Package store provides an in-memory ledger.TxStore.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/wallet-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is safe for concurrent use. WithTx holds the write lock for the
// whole callback, so units of work are serialized.
type Memory struct {
	mu sync.RWMutex
	d  *data
}

func NewMemory() *Memory {
	return &Memory{d: newData()}
}

func (m *Memory) SaveTechnician(ctx context.Context, t ledger.Technician) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.SaveTechnician(ctx, t)
}

func (m *Memory) GetTechnician(ctx context.Context, id ledger.TechnicianID) (*ledger.Technician, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetTechnician(ctx, id)
}

func (m *Memory) ListTechnicians(ctx context.Context) ([]ledger.Technician, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListTechnicians(ctx)
}

func (m *Memory) AdjustBalance(ctx context.Context, id ledger.TechnicianID, delta decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.AdjustBalance(ctx, id, delta)
}

func (m *Memory) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.AppendTransaction(ctx, tx)
}

func (m *Memory) Transactions(ctx context.Context, id ledger.TechnicianID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.Transactions(ctx, id)
}

func (m *Memory) CreateWithdrawal(ctx context.Context, w ledger.WithdrawalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.CreateWithdrawal(ctx, w)
}

func (m *Memory) GetWithdrawal(ctx context.Context, id ledger.RequestID) (*ledger.WithdrawalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetWithdrawal(ctx, id)
}

func (m *Memory) ListWithdrawals(ctx context.Context, f ledger.WithdrawalFilter) ([]ledger.WithdrawalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListWithdrawals(ctx, f)
}

func (m *Memory) TransitionWithdrawal(ctx context.Context, t ledger.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.TransitionWithdrawal(ctx, t)
}

func (m *Memory) WithdrawalStats(ctx context.Context) (ledger.WithdrawalStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.WithdrawalStats(ctx)
}

func (m *Memory) RecordPayment(ctx context.Context, p ledger.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.RecordPayment(ctx, p)
}

func (m *Memory) SummarizePayments(ctx context.Context, starts ...time.Time) (ledger.PaymentTotals, []ledger.PaymentTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.SummarizePayments(ctx, starts...)
}

func (m *Memory) SumPayments(ctx context.Context, w ledger.Window) (ledger.PaymentTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.SumPayments(ctx, w)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction, simulated with a snapshot that is
// restored if fn fails.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.d.clone()
	if err := fn(m.d); err != nil {
		m.d = snapshot
		return err
	}
	return nil
}

// Reset wipes all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d = newData()
	return nil
}

// =============================================================================
// DATA - unlocked state; also the Store handed to WithTx callbacks
// =============================================================================

type data struct {
	technicians  map[ledger.TechnicianID]ledger.Technician
	transactions map[ledger.TechnicianID][]ledger.Transaction
	idempotency  map[string]bool
	withdrawals  map[ledger.RequestID]ledger.WithdrawalRequest
	payments     []ledger.Payment
}

func newData() *data {
	return &data{
		technicians:  make(map[ledger.TechnicianID]ledger.Technician),
		transactions: make(map[ledger.TechnicianID][]ledger.Transaction),
		idempotency:  make(map[string]bool),
		withdrawals:  make(map[ledger.RequestID]ledger.WithdrawalRequest),
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.technicians {
		c.technicians[k] = v
	}
	for k, v := range d.transactions {
		c.transactions[k] = append([]ledger.Transaction(nil), v...)
	}
	for k, v := range d.idempotency {
		c.idempotency[k] = v
	}
	for k, v := range d.withdrawals {
		c.withdrawals[k] = v
	}
	c.payments = append([]ledger.Payment(nil), d.payments...)
	return c
}

func (d *data) SaveTechnician(_ context.Context, t ledger.Technician) error {
	if existing, ok := d.technicians[t.ID]; ok {
		existing.Name = t.Name
		existing.MobileNumber = t.MobileNumber
		d.technicians[t.ID] = existing
		return nil
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	d.technicians[t.ID] = t
	return nil
}

func (d *data) GetTechnician(_ context.Context, id ledger.TechnicianID) (*ledger.Technician, error) {
	t, ok := d.technicians[id]
	if !ok {
		return nil, ledger.ErrTechnicianNotFound
	}
	return &t, nil
}

func (d *data) ListTechnicians(_ context.Context) ([]ledger.Technician, error) {
	result := make([]ledger.Technician, 0, len(d.technicians))
	for _, t := range d.technicians {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (d *data) AdjustBalance(_ context.Context, id ledger.TechnicianID, delta decimal.Decimal) (decimal.Decimal, error) {
	t, ok := d.technicians[id]
	if !ok {
		return decimal.Zero, ledger.ErrTechnicianNotFound
	}
	t.WalletBalance = t.WalletBalance.Add(delta)
	d.technicians[id] = t
	return t.WalletBalance, nil
}

func (d *data) AppendTransaction(_ context.Context, tx ledger.Transaction) error {
	if tx.IdempotencyKey != "" {
		if d.idempotency[tx.IdempotencyKey] {
			return ledger.ErrDuplicateIdempotencyKey
		}
		d.idempotency[tx.IdempotencyKey] = true
	}
	d.transactions[tx.TechnicianID] = append(d.transactions[tx.TechnicianID], tx)
	return nil
}

func (d *data) Transactions(_ context.Context, id ledger.TechnicianID) ([]ledger.Transaction, error) {
	result := append([]ledger.Transaction{}, d.transactions[id]...)
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (d *data) CreateWithdrawal(_ context.Context, w ledger.WithdrawalRequest) error {
	d.withdrawals[w.ID] = w
	return nil
}

func (d *data) GetWithdrawal(_ context.Context, id ledger.RequestID) (*ledger.WithdrawalRequest, error) {
	w, ok := d.withdrawals[id]
	if !ok {
		return nil, ledger.ErrRequestNotFound
	}
	return &w, nil
}

func (d *data) ListWithdrawals(_ context.Context, f ledger.WithdrawalFilter) ([]ledger.WithdrawalRequest, error) {
	result := []ledger.WithdrawalRequest{}
	for _, w := range d.withdrawals {
		if f.TechnicianID != "" && w.TechnicianID != f.TechnicianID {
			continue
		}
		if f.Status != "" && w.Status != f.Status {
			continue
		}
		if f.Window != nil && !f.Window.Contains(w.CreatedAt) {
			continue
		}
		result = append(result, w)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (d *data) TransitionWithdrawal(_ context.Context, t ledger.Transition) error {
	w, ok := d.withdrawals[t.RequestID]
	if !ok {
		return ledger.ErrRequestNotFound
	}
	if w.Status != t.From {
		return ledger.ErrRequestNotPending
	}
	at := t.DecidedAt
	w.Status = t.To
	w.DecidedBy = t.DecidedBy
	w.DecidedAt = &at
	w.RejectionReason = t.Reason
	d.withdrawals[t.RequestID] = w
	return nil
}

func (d *data) WithdrawalStats(_ context.Context) (ledger.WithdrawalStats, error) {
	s := ledger.WithdrawalStats{ApprovedAmount: decimal.Zero, PendingAmount: decimal.Zero}
	for _, w := range d.withdrawals {
		switch w.Status {
		case ledger.WithdrawalApproved:
			s.ApprovedAmount = s.ApprovedAmount.Add(w.Amount)
			s.ApprovedCount++
		case ledger.WithdrawalRejected:
			s.RejectedCount++
		case ledger.WithdrawalPending:
			s.PendingAmount = s.PendingAmount.Add(w.Amount)
			s.PendingCount++
		}
	}
	return s, nil
}

func (d *data) RecordPayment(_ context.Context, p ledger.Payment) error {
	d.payments = append(d.payments, p)
	return nil
}

func (d *data) SummarizePayments(_ context.Context, starts ...time.Time) (ledger.PaymentTotals, []ledger.PaymentTotals, error) {
	overall := zeroTotals()
	windows := make([]ledger.PaymentTotals, len(starts))
	for i := range windows {
		windows[i] = zeroTotals()
	}
	for _, p := range d.payments {
		if p.Status != ledger.PaymentSuccess {
			continue
		}
		pt := ledger.PaymentTotals{Collected: p.TotalAmount, Commission: p.CommissionAmount}
		overall = overall.Add(pt)
		for i, start := range starts {
			if !p.CreatedAt.Before(start) {
				windows[i] = windows[i].Add(pt)
			}
		}
	}
	return overall, windows, nil
}

func (d *data) SumPayments(_ context.Context, w ledger.Window) (ledger.PaymentTotals, error) {
	total := zeroTotals()
	for _, p := range d.payments {
		if p.Status == ledger.PaymentSuccess && w.Contains(p.CreatedAt) {
			total = total.Add(ledger.PaymentTotals{Collected: p.TotalAmount, Commission: p.CommissionAmount})
		}
	}
	return total, nil
}

func zeroTotals() ledger.PaymentTotals {
	return ledger.PaymentTotals{Collected: decimal.Zero, Commission: decimal.Zero}
}
