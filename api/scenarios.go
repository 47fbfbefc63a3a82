/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Populates the store with realistic wallet data: technicians, earnings
	credits, customer payments across the report windows, and withdrawal
	requests in every state. Loaders go through the same services the API
	uses, so the seeded data satisfies every ledger invariant (except the
	"balance-drift" scenario, which breaks one on purpose).

AVAILABLE SCENARIOS:

	busy-month:      Two technicians, payments today/this month/last year,
	                 one approved, one rejected and one pending withdrawal
	pending-backlog: Several pending requests adding up to more than the
	                 balance (nothing is reserved until approval)
	balance-drift:   A cached balance with no ledger entries behind it,
	                 for the reconciliation report and auditor

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "busy-month"}

	The response carries bearer tokens for the seeded admin and technicians.

NOTE:

	Scenarios reset the database. Only mounted when WALLET_ENABLE_SCENARIOS
	is set.
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/wallet-engine/ledger"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "busy-month",
		Name:        "Busy Month",
		Description: "Payments across all report windows and withdrawals in every state",
	},
	{
		ID:          "pending-backlog",
		Name:        "Pending Backlog",
		Description: "Pending requests that together exceed the wallet balance",
	},
	{
		ID:          "balance-drift",
		Name:        "Balance Drift",
		Description: "Cached balance out of sync with the ledger, for reconciliation",
	},
}

const demoAdminID = "admin-demo"

var demoAdmin = ledger.Caller{ID: demoAdminID, Role: ledger.RoleAdmin}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeResult(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var load func(context.Context) ([]ledger.TechnicianID, error)
	switch req.ScenarioID {
	case "busy-month":
		load = h.loadBusyMonthScenario
	case "pending-backlog":
		load = h.loadPendingBacklogScenario
	case "balance-drift":
		load = h.loadBalanceDriftScenario
	default:
		writeMessage(w, http.StatusBadRequest, "Unknown scenario")
		return
	}

	resetter, ok := h.Store.(ledger.Resetter)
	if !ok {
		writeMessage(w, http.StatusNotImplemented, "Store does not support reset")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := resetter.Reset(ctx); err != nil {
		h.writeDomainError(w, r, fmt.Errorf("reset store: %w", err), msgAdminOnly)
		return
	}
	h.currentScenario = ""

	techs, err := load(ctx)
	if err != nil {
		h.writeDomainError(w, r, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err), msgAdminOnly)
		return
	}
	h.currentScenario = req.ScenarioID

	tokens, err := h.demoTokens(techs)
	if err != nil {
		h.writeDomainError(w, r, err, msgAdminOnly)
		return
	}

	h.Log.Info("scenario loaded", zap.String("scenario", req.ScenarioID), zap.Int("technicians", len(techs)))
	writeResult(w, http.StatusOK, LoadedScenarioDTO{Scenario: req.ScenarioID, Tokens: tokens})
}

func (h *Handler) demoTokens(techs []ledger.TechnicianID) (map[string]string, error) {
	tokens := make(map[string]string, len(techs)+1)
	admin, err := IssueToken(h.JWTSecret, demoAdminID, ledger.RoleAdmin, 24*time.Hour)
	if err != nil {
		return nil, err
	}
	tokens[demoAdminID] = admin
	for _, id := range techs {
		tok, err := IssueToken(h.JWTSecret, string(id), ledger.RoleTechnician, 24*time.Hour)
		if err != nil {
			return nil, err
		}
		tokens[string(id)] = tok
	}
	return tokens, nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadBusyMonthScenario(ctx context.Context) ([]ledger.TechnicianID, error) {
	now := time.Now()

	rahim, err := h.seedTechnician(ctx, "tech-rahim", "Rahim Uddin", "01711000001", 4200, 1800)
	if err != nil {
		return nil, err
	}
	karim, err := h.seedTechnician(ctx, "tech-karim", "Karim Hossain", "01711000002", 950)
	if err != nil {
		return nil, err
	}

	// Customer payments: today, earlier this month, earlier this year, last year.
	payments := []struct {
		at                time.Time
		total, commission int64
		status            ledger.PaymentStatus
	}{
		{now.Add(-time.Hour), 1200, 120, ledger.PaymentSuccess},
		{ledger.StartOfMonth(now), 3000, 300, ledger.PaymentSuccess},
		{ledger.StartOfYear(now), 2500, 250, ledger.PaymentSuccess},
		{ledger.StartOfYear(now).AddDate(0, 0, -10), 4000, 400, ledger.PaymentSuccess},
		{now.Add(-2 * time.Hour), 9999, 999, ledger.PaymentFailed},
	}
	for _, p := range payments {
		if err := h.Store.RecordPayment(ctx, ledger.Payment{
			ID:               ledger.PaymentID(uuid.NewString()),
			Status:           p.status,
			TotalAmount:      decimal.NewFromInt(p.total),
			CommissionAmount: decimal.NewFromInt(p.commission),
			CreatedAt:        p.at,
		}); err != nil {
			return nil, err
		}
	}

	approved, err := h.Withdrawals.Request(ctx, technician(rahim), decimal.NewFromInt(1500), "Monthly payout")
	if err != nil {
		return nil, err
	}
	if _, err := h.Withdrawals.Approve(ctx, demoAdmin, approved.ID); err != nil {
		return nil, err
	}

	rejected, err := h.Withdrawals.Request(ctx, technician(karim), decimal.NewFromInt(900), "")
	if err != nil {
		return nil, err
	}
	if _, err := h.Withdrawals.Reject(ctx, demoAdmin, rejected.ID, "Bank details missing"); err != nil {
		return nil, err
	}

	if _, err := h.Withdrawals.Request(ctx, technician(rahim), decimal.NewFromInt(2000), "Rent"); err != nil {
		return nil, err
	}

	return []ledger.TechnicianID{rahim, karim}, nil
}

func (h *Handler) loadPendingBacklogScenario(ctx context.Context) ([]ledger.TechnicianID, error) {
	id, err := h.seedTechnician(ctx, "tech-nadia", "Nadia Akter", "01711000003", 1000)
	if err != nil {
		return nil, err
	}
	for _, amount := range []int64{600, 500, 400} {
		if _, err := h.Withdrawals.Request(ctx, technician(id), decimal.NewFromInt(amount), ""); err != nil {
			return nil, err
		}
	}
	return []ledger.TechnicianID{id}, nil
}

func (h *Handler) loadBalanceDriftScenario(ctx context.Context) ([]ledger.TechnicianID, error) {
	ok, err := h.seedTechnician(ctx, "tech-sumon", "Sumon Das", "01711000004", 700)
	if err != nil {
		return nil, err
	}

	// Written straight to the store, bypassing the ledger.
	drifted := ledger.TechnicianID("tech-legacy")
	if err := h.Store.SaveTechnician(ctx, ledger.Technician{
		ID:            drifted,
		Name:          "Imported Account",
		MobileNumber:  "01711000005",
		WalletBalance: decimal.NewFromInt(500),
	}); err != nil {
		return nil, err
	}
	return []ledger.TechnicianID{ok, drifted}, nil
}

// seedTechnician creates a technician with a zero balance and credits each
// amount as job earnings.
func (h *Handler) seedTechnician(ctx context.Context, id, name, mobile string, earnings ...int64) (ledger.TechnicianID, error) {
	techID := ledger.TechnicianID(id)
	if err := h.Store.SaveTechnician(ctx, ledger.Technician{
		ID:            techID,
		Name:          name,
		MobileNumber:  mobile,
		WalletBalance: decimal.Zero,
	}); err != nil {
		return "", err
	}
	for i, amount := range earnings {
		if _, err := h.Ledger.Credit(ctx, ledger.CreditRequest{
			TechnicianID:   techID,
			Amount:         decimal.NewFromInt(amount),
			Source:         ledger.SourceJob,
			Note:           "Job completed",
			ReferenceID:    fmt.Sprintf("job-%s-%d", id, i+1),
			IdempotencyKey: fmt.Sprintf("job:%s:%d", id, i+1),
		}); err != nil {
			return "", err
		}
	}
	return techID, nil
}

func technician(id ledger.TechnicianID) ledger.Caller {
	return ledger.Caller{ID: string(id), Role: ledger.RoleTechnician}
}
