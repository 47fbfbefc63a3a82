/*
report.go - Admin reporting aggregator

PURPOSE:
  Read-only financial views for the admin dashboard. Nothing here writes.

WINDOWS (Summary):
  overall  every successful payment
  today    CreatedAt >= local midnight
  month    CreatedAt >= 1st of the month, 00:00
  year     CreatedAt >= Jan 1, 00:00

  All four come from a single SummarizePayments read, open-ended at "now",
  so today <= month <= year <= overall whenever amounts are non-negative.

ROUNDING:
  Money is rounded to whole units the way the dashboard always has
  (half rounds up), and differences are taken after rounding so that
  netPayout == collected - commission in every response.

PLATFORM BALANCE:
  AvailableBalance is overall collected minus everything ever paid out by
  approved withdrawals. It is a platform figure, unrelated to any single
  technician's wallet balance.
*/
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var half = decimal.NewFromFloat(0.5)

// RoundUnit rounds to the nearest whole unit, halves toward +∞.
func RoundUnit(d decimal.Decimal) int64 {
	return d.Add(half).Floor().IntPart()
}

// =============================================================================
// REPORT TYPES
// =============================================================================

type WindowTotals struct {
	Collected  int64
	Commission int64
	NetPayout  int64
}

func newWindowTotals(t PaymentTotals) WindowTotals {
	c, k := RoundUnit(t.Collected), RoundUnit(t.Commission)
	return WindowTotals{Collected: c, Commission: k, NetPayout: c - k}
}

type Summary struct {
	Overall WindowTotals
	Today   WindowTotals
	Month   WindowTotals
	Year    WindowTotals

	TotalWithdrawn          int64
	ApprovedWithdrawCount   int
	RejectedWithdrawCount   int
	TotalPendingWithdrawals int64
	PendingWithdrawCount    int
	AvailableBalance        int64

	GeneratedAt time.Time
}

type FilteredSummary struct {
	Type   FilterType
	Range  Window
	Totals WindowTotals
}

// WithdrawalView is a withdrawal joined with the technician's current
// snapshot. Technician is nil if the technician record is gone.
type WithdrawalView struct {
	WithdrawalRequest
	Technician *Technician
}

// =============================================================================
// REPORTER
// =============================================================================

type ReporterOptions struct {
	// Location for window boundaries; time.Local when nil.
	Location *time.Location

	// LenientListFilters restores the legacy list behaviour: a malformed
	// window filter is dropped instead of reported.
	LenientListFilters bool
}

type Reporter struct {
	store Store
	clock Clock
	opts  ReporterOptions
}

func NewReporter(store Store, clock Clock, opts ReporterOptions) *Reporter {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if clock == nil {
		clock = SystemClock{Location: opts.Location}
	}
	return &Reporter{store: store, clock: clock, opts: opts}
}

// Summary computes dashboard totals for the fixed windows.
func (r *Reporter) Summary(ctx context.Context, caller Caller) (*Summary, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}

	now := r.clock.Now().In(r.opts.Location)
	overall, windows, err := r.store.SummarizePayments(ctx,
		StartOfDay(now),
		StartOfMonth(now),
		StartOfYear(now),
	)
	if err != nil {
		return nil, err
	}

	stats, err := r.store.WithdrawalStats(ctx)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		Overall:                 newWindowTotals(overall),
		Today:                   newWindowTotals(windows[0]),
		Month:                   newWindowTotals(windows[1]),
		Year:                    newWindowTotals(windows[2]),
		TotalWithdrawn:          RoundUnit(stats.ApprovedAmount),
		ApprovedWithdrawCount:   stats.ApprovedCount,
		RejectedWithdrawCount:   stats.RejectedCount,
		TotalPendingWithdrawals: RoundUnit(stats.PendingAmount),
		PendingWithdrawCount:    stats.PendingCount,
		GeneratedAt:             now,
	}
	s.AvailableBalance = s.Overall.Collected - s.TotalWithdrawn
	return s, nil
}

// FilteredSummary totals successful payments inside an explicit day, month
// or year window. The filter is validated strictly.
func (r *Reporter) FilteredSummary(ctx context.Context, caller Caller, q FilterQuery) (*FilteredSummary, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}

	w, err := ResolveWindow(q, r.opts.Location)
	if err != nil {
		return nil, err
	}

	totals, err := r.store.SumPayments(ctx, w)
	if err != nil {
		return nil, err
	}

	return &FilteredSummary{
		Type:   FilterType(q.Type),
		Range:  w,
		Totals: newWindowTotals(totals),
	}, nil
}

// ListWithdrawals returns withdrawal requests, newest first, each joined
// with the technician's name, mobile number and current balance.
func (r *Reporter) ListWithdrawals(ctx context.Context, caller Caller, q FilterQuery) ([]WithdrawalView, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}

	var f WithdrawalFilter
	if !q.IsEmpty() {
		w, err := ResolveWindow(q, r.opts.Location)
		switch {
		case err == nil:
			f.Window = &w
		case !r.opts.LenientListFilters:
			return nil, err
		}
	}

	requests, err := r.store.ListWithdrawals(ctx, f)
	if err != nil {
		return nil, err
	}

	techs := make(map[TechnicianID]*Technician)
	views := make([]WithdrawalView, 0, len(requests))
	for _, req := range requests {
		tech, seen := techs[req.TechnicianID]
		if !seen {
			tech, err = r.store.GetTechnician(ctx, req.TechnicianID)
			if err != nil && !errors.Is(err, ErrTechnicianNotFound) {
				return nil, err
			}
			techs[req.TechnicianID] = tech
		}
		views = append(views, WithdrawalView{WithdrawalRequest: req, Technician: tech})
	}
	return views, nil
}
