/*
dto.go - Data Transfer Objects for the HTTP API

PURPOSE:
  Wire shapes for requests and responses. Domain types never leave the
  ledger package; handlers convert at the edge.

ENVELOPE:
  Every response is {"success": bool, "result"?: any, "message"?: string}.

MONEY:
  Report figures are integers (already rounded by the Reporter). Balances
  and request amounts are JSON numbers converted from decimal.Decimal.
  Incoming amounts are parsed straight into decimal.Decimal, so "12.30"
  and 12.3 are both accepted.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/wallet-engine/ledger"
)

// Envelope wraps every JSON response.
type Envelope struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Message string `json:"message,omitempty"`
}

// =============================================================================
// REPORTS
// =============================================================================

type WindowTotalsDTO struct {
	Collected  int64 `json:"collected"`
	Commission int64 `json:"commission"`
	NetPayout  int64 `json:"netPayout"`
}

type SummaryDTO struct {
	TotalPendingWithdrawals int64 `json:"totalPendingWithdrawals"`
	PendingWithdrawCount    int   `json:"pendingWithdrawCount"`
	TotalCollected          int64 `json:"totalCollected"`
	TotalCommission         int64 `json:"totalCommission"`
	AvailableBalance        int64 `json:"availableBalance"`
	TotalWithdrawn          int64 `json:"totalWithdrawn"`
	ApprovedWithdrawCount   int   `json:"approvedWithdrawCount"`
	RejectedWithdrawCount   int   `json:"rejectedWithdrawCount"`

	Overall WindowTotalsDTO `json:"overall"`
	Today   WindowTotalsDTO `json:"today"`
	Month   WindowTotalsDTO `json:"month"`
	Year    WindowTotalsDTO `json:"year"`

	GeneratedAt time.Time `json:"generatedAt"`
}

type RangeDTO struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type FilteredSummaryDTO struct {
	Type       string   `json:"type"`
	Range      RangeDTO `json:"range"`
	Collected  int64    `json:"collected"`
	Commission int64    `json:"commission"`
	NetPayout  int64    `json:"netPayout"`
}

func toWindowTotalsDTO(t ledger.WindowTotals) WindowTotalsDTO {
	return WindowTotalsDTO{Collected: t.Collected, Commission: t.Commission, NetPayout: t.NetPayout}
}

func toSummaryDTO(s *ledger.Summary) SummaryDTO {
	return SummaryDTO{
		TotalPendingWithdrawals: s.TotalPendingWithdrawals,
		PendingWithdrawCount:    s.PendingWithdrawCount,
		TotalCollected:          s.Overall.Collected,
		TotalCommission:         s.Overall.Commission,
		AvailableBalance:        s.AvailableBalance,
		TotalWithdrawn:          s.TotalWithdrawn,
		ApprovedWithdrawCount:   s.ApprovedWithdrawCount,
		RejectedWithdrawCount:   s.RejectedWithdrawCount,
		Overall:                 toWindowTotalsDTO(s.Overall),
		Today:                   toWindowTotalsDTO(s.Today),
		Month:                   toWindowTotalsDTO(s.Month),
		Year:                    toWindowTotalsDTO(s.Year),
		GeneratedAt:             s.GeneratedAt,
	}
}

func toFilteredSummaryDTO(f *ledger.FilteredSummary) FilteredSummaryDTO {
	return FilteredSummaryDTO{
		Type:       string(f.Type),
		Range:      RangeDTO{Start: f.Range.Start, End: f.Range.End},
		Collected:  f.Totals.Collected,
		Commission: f.Totals.Commission,
		NetPayout:  f.Totals.NetPayout,
	}
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

type TechnicianDTO struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	MobileNumber  string  `json:"mobileNumber"`
	WalletBalance float64 `json:"walletBalance"`
}

type WithdrawalDTO struct {
	ID              string     `json:"id"`
	TechnicianID    string     `json:"technicianId"`
	Amount          float64    `json:"amount"`
	Status          string     `json:"status"`
	Note            string     `json:"note,omitempty"`
	DecidedBy       string     `json:"decidedBy,omitempty"`
	DecidedAt       *time.Time `json:"decidedAt,omitempty"`
	RejectionReason string     `json:"rejectionReason,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// AdminWithdrawalDTO is a withdrawal joined with the technician snapshot;
// technician is null when the technician record no longer exists.
type AdminWithdrawalDTO struct {
	WithdrawalDTO
	Technician *TechnicianDTO `json:"technician"`
}

type WithdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

func toTechnicianDTO(t *ledger.Technician) *TechnicianDTO {
	if t == nil {
		return nil
	}
	return &TechnicianDTO{
		ID:            string(t.ID),
		Name:          t.Name,
		MobileNumber:  t.MobileNumber,
		WalletBalance: t.WalletBalance.InexactFloat64(),
	}
}

func toWithdrawalDTO(w ledger.WithdrawalRequest) WithdrawalDTO {
	return WithdrawalDTO{
		ID:              string(w.ID),
		TechnicianID:    string(w.TechnicianID),
		Amount:          w.Amount.InexactFloat64(),
		Status:          string(w.Status),
		Note:            w.Note,
		DecidedBy:       w.DecidedBy,
		DecidedAt:       w.DecidedAt,
		RejectionReason: w.RejectionReason,
		CreatedAt:       w.CreatedAt,
	}
}

func toWithdrawalDTOs(ws []ledger.WithdrawalRequest) []WithdrawalDTO {
	result := make([]WithdrawalDTO, 0, len(ws))
	for _, w := range ws {
		result = append(result, toWithdrawalDTO(w))
	}
	return result
}

func toAdminWithdrawalDTOs(views []ledger.WithdrawalView) []AdminWithdrawalDTO {
	result := make([]AdminWithdrawalDTO, 0, len(views))
	for _, v := range views {
		result = append(result, AdminWithdrawalDTO{
			WithdrawalDTO: toWithdrawalDTO(v.WithdrawalRequest),
			Technician:    toTechnicianDTO(v.Technician),
		})
	}
	return result
}

// =============================================================================
// WALLET
// =============================================================================

type WalletDTO struct {
	TechnicianID  string  `json:"technicianId"`
	Name          string  `json:"name"`
	WalletBalance float64 `json:"walletBalance"`
}

type TransactionDTO struct {
	ID          string    `json:"id"`
	Amount      float64   `json:"amount"`
	Type        string    `json:"type"`
	Source      string    `json:"source"`
	Note        string    `json:"note,omitempty"`
	ReferenceID string    `json:"referenceId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type ReconciliationDTO struct {
	TechnicianID  string  `json:"technicianId"`
	Credits       float64 `json:"credits"`
	Debits        float64 `json:"debits"`
	LedgerBalance float64 `json:"ledgerBalance"`
	CachedBalance float64 `json:"cachedBalance"`
	Drift         float64 `json:"drift"`
	Entries       int     `json:"entries"`
	Consistent    bool    `json:"consistent"`
}

func toWalletDTO(t *ledger.Technician) WalletDTO {
	return WalletDTO{
		TechnicianID:  string(t.ID),
		Name:          t.Name,
		WalletBalance: t.WalletBalance.InexactFloat64(),
	}
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	result := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		result = append(result, TransactionDTO{
			ID:          string(tx.ID),
			Amount:      tx.Amount.InexactFloat64(),
			Type:        string(tx.Type),
			Source:      tx.Source,
			Note:        tx.Note,
			ReferenceID: tx.ReferenceID,
			CreatedAt:   tx.CreatedAt,
		})
	}
	return result
}

func toReconciliationDTOs(reports []ledger.ReconciliationReport) []ReconciliationDTO {
	result := make([]ReconciliationDTO, 0, len(reports))
	for _, r := range reports {
		result = append(result, ReconciliationDTO{
			TechnicianID:  string(r.TechnicianID),
			Credits:       r.Credits.InexactFloat64(),
			Debits:        r.Debits.InexactFloat64(),
			LedgerBalance: r.LedgerBalance.InexactFloat64(),
			CachedBalance: r.CachedBalance.InexactFloat64(),
			Drift:         r.Drift.InexactFloat64(),
			Entries:       r.Entries,
			Consistent:    r.Consistent(),
		})
	}
	return result
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId"`
}

// LoadedScenarioDTO carries bearer tokens for the seeded callers so a demo
// client can drive the API right away.
type LoadedScenarioDTO struct {
	Scenario string            `json:"scenario"`
	Tokens   map[string]string `json:"tokens"`
}
