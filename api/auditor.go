/*
auditor.go - Periodic wallet reconciliation audit

PURPOSE:
  Replays every technician's ledger on a timer and logs any technician
  whose cached balance differs from Σcredits − Σdebits. Read-only: drift
  is reported, never repaired.

CONFIGURATION:
  - Interval: How often to audit (WALLET_AUDIT_INTERVAL, 0 disables)

USAGE:
  auditor := NewReconciliationAuditor(l, time.Hour, logger)
  auditor.Start()
  // ... later
  auditor.Stop()

SEE ALSO:
  - ledger/ledger.go: Audit, ReconcileAll
  - handlers.go: GetReconciliation (on-demand report)
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/wallet-engine/ledger"
	"go.uber.org/zap"
)

// AuditResult summarizes one audit run.
type AuditResult struct {
	At           time.Time
	Technicians  int
	Inconsistent int
	Err          error
}

// ReconciliationAuditor runs ledger.Audit periodically.
type ReconciliationAuditor struct {
	Ledger   *ledger.Ledger
	Interval time.Duration
	Log      *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	last   AuditResult
}

func NewReconciliationAuditor(l *ledger.Ledger, interval time.Duration, log *zap.Logger) *ReconciliationAuditor {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReconciliationAuditor{Ledger: l, Interval: interval, Log: log}
}

// Start begins auditing. It does nothing when Interval is not positive.
func (ra *ReconciliationAuditor) Start() {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	if ra.Interval <= 0 {
		ra.Log.Info("reconciliation auditor disabled")
		return
	}
	if ra.ticker != nil {
		return
	}

	ra.ticker = time.NewTicker(ra.Interval)
	ra.stop = make(chan struct{})
	ra.wg.Add(1)
	go ra.run(ra.ticker, ra.stop)

	ra.Log.Info("reconciliation auditor started", zap.Duration("interval", ra.Interval))
}

// Stop stops the auditor and waits for a running audit to finish.
func (ra *ReconciliationAuditor) Stop() {
	ra.mu.Lock()
	if ra.ticker == nil {
		ra.mu.Unlock()
		return
	}
	ra.ticker.Stop()
	close(ra.stop)
	ra.ticker = nil
	ra.mu.Unlock()

	ra.wg.Wait()
	ra.Log.Info("reconciliation auditor stopped")
}

func (ra *ReconciliationAuditor) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer ra.wg.Done()

	ra.RunNow(context.Background())
	for {
		select {
		case <-ticker.C:
			ra.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow performs one audit synchronously.
func (ra *ReconciliationAuditor) RunNow(ctx context.Context) AuditResult {
	result := AuditResult{At: time.Now()}

	reports, err := ra.Ledger.Audit(ctx)
	if err != nil {
		ra.Log.Error("reconciliation audit failed", zap.Error(err))
		result.Err = err
	} else {
		result.Technicians = len(reports)
		for _, r := range reports {
			if !r.Consistent() {
				result.Inconsistent++
			}
		}
		ra.Log.Info("reconciliation audit finished",
			zap.Int("technicians", result.Technicians),
			zap.Int("inconsistent", result.Inconsistent),
		)
	}

	ra.mu.Lock()
	ra.last = result
	ra.mu.Unlock()
	return result
}

// LastResult returns the most recent audit.
func (ra *ReconciliationAuditor) LastResult() AuditResult {
	ra.mu.Lock()
	defer ra.mu.Unlock()
	return ra.last
}
