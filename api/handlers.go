/*
handlers.go - HTTP API handlers for the wallet engine

PURPOSE:
  Exposes withdrawals, wallet reads and admin reports over REST. Handlers
  parse input, call the ledger services with the authenticated Caller, and
  map results and errors onto the response envelope.

ENDPOINTS:
  Admin (Admin/Owner):
    GET    /api/admin/wallet/summary                    Dashboard totals
    GET    /api/admin/wallet/summary/filter             Totals for a day/month/year
    GET    /api/admin/wallet/withdrawals                All requests, newest first
    POST   /api/admin/wallet/withdrawals/{id}/approve   Approve and debit
    POST   /api/admin/wallet/withdrawals/{id}/reject    Reject
    GET    /api/admin/wallet/reconciliation             Ledger vs cached balance

  Technician:
    GET    /api/technician/wallet                       Own balance
    GET    /api/technician/wallet/transactions          Own ledger, newest first
    POST   /api/technician/wallet/withdraw              Request a withdrawal
    GET    /api/technician/wallet/withdraws             Own requests

ERROR HANDLING:
  403  role not allowed ("Admin or Owner access only" / "Technician access only")
  400  "Invalid request" (missing or already-decided withdrawal),
       filter validation message, insufficient balance, bad amount or body
  401  missing or invalid token (auth.go)
  404  technician not found
  500  "Internal server error"; the cause is logged, never returned

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/wallet-engine/ledger"
	"go.uber.org/zap"
)

const (
	msgAdminOnly      = "Admin or Owner access only"
	msgTechnicianOnly = "Technician access only"
	msgInvalidRequest = "Invalid request"
	msgInternal       = "Internal server error"
)

// Handler holds the services behind the HTTP API.
type Handler struct {
	Store       ledger.TxStore
	Withdrawals *ledger.WithdrawalService
	Reporter    *ledger.Reporter
	Ledger      *ledger.Ledger
	Log         *zap.Logger

	// JWTSecret signs the demo tokens handed out by LoadScenario.
	JWTSecret []byte

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. A nil logger discards output.
func NewHandler(store ledger.TxStore, ws *ledger.WithdrawalService, rep *ledger.Reporter, l *ledger.Ledger, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Store: store, Withdrawals: ws, Reporter: rep, Ledger: l, Log: log}
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// GetSummary returns overall/today/month/year totals and withdrawal counters.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Reporter.Summary(r.Context(), CallerFrom(r.Context()))
	if err != nil {
		h.writeDomainError(w, r, err, msgAdminOnly)
		return
	}
	writeResult(w, http.StatusOK, toSummaryDTO(s))
}

// GetFilteredSummary returns totals for ?type=day&date=… / month / year.
func (h *Handler) GetFilteredSummary(w http.ResponseWriter, r *http.Request) {
	f, err := h.Reporter.FilteredSummary(r.Context(), CallerFrom(r.Context()), filterQuery(r))
	if err != nil {
		h.writeDomainError(w, r, err, msgAdminOnly)
		return
	}
	writeResult(w, http.StatusOK, toFilteredSummaryDTO(f))
}

// ListWithdrawals returns all requests with their technician snapshot.
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	views, err := h.Reporter.ListWithdrawals(r.Context(), CallerFrom(r.Context()), filterQuery(r))
	if err != nil {
		h.writeDomainError(w, r, err, msgAdminOnly)
		return
	}
	writeResult(w, http.StatusOK, toAdminWithdrawalDTOs(views))
}

// ApproveWithdrawal debits the technician and marks the request approved.
func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	id := ledger.RequestID(chi.URLParam(r, "id"))
	req, err := h.Withdrawals.Approve(r.Context(), CallerFrom(r.Context()), id)
	if err != nil {
		h.writeDomainError(w, r, err, msgAdminOnly)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Result: toWithdrawalDTO(*req), Message: "Withdraw approved"})
}

// RejectWithdrawal marks the request rejected. The body is optional.
func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	var body RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := ledger.RequestID(chi.URLParam(r, "id"))
	req, err := h.Withdrawals.Reject(r.Context(), CallerFrom(r.Context()), id, body.Reason)
	if err != nil {
		h.writeDomainError(w, r, err, msgAdminOnly)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Result: toWithdrawalDTO(*req), Message: "Withdraw rejected"})
}

// GetReconciliation replays every technician's ledger against the cached balance.
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	reports, err := h.Ledger.ReconcileAll(r.Context(), CallerFrom(r.Context()))
	if err != nil {
		h.writeDomainError(w, r, err, msgAdminOnly)
		return
	}
	writeResult(w, http.StatusOK, toReconciliationDTOs(reports))
}

// =============================================================================
// TECHNICIAN ENDPOINTS
// =============================================================================

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	tech, err := h.Ledger.Balance(r.Context(), CallerFrom(r.Context()))
	if err != nil {
		h.writeDomainError(w, r, err, msgTechnicianOnly)
		return
	}
	writeResult(w, http.StatusOK, toWalletDTO(tech))
}

func (h *Handler) GetWalletTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Ledger.History(r.Context(), CallerFrom(r.Context()))
	if err != nil {
		h.writeDomainError(w, r, err, msgTechnicianOnly)
		return
	}
	writeResult(w, http.StatusOK, toTransactionDTOs(txs))
}

func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var body WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req, err := h.Withdrawals.Request(r.Context(), CallerFrom(r.Context()), body.Amount, body.Note)
	if err != nil {
		h.writeDomainError(w, r, err, msgTechnicianOnly)
		return
	}
	writeJSON(w, http.StatusCreated, Envelope{Success: true, Result: toWithdrawalDTO(*req), Message: "Withdraw request submitted"})
}

func (h *Handler) GetMyWithdrawals(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Withdrawals.ListForTechnician(r.Context(), CallerFrom(r.Context()))
	if err != nil {
		h.writeDomainError(w, r, err, msgTechnicianOnly)
		return
	}
	writeResult(w, http.StatusOK, toWithdrawalDTOs(reqs))
}

// Health is the unauthenticated liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func filterQuery(r *http.Request) ledger.FilterQuery {
	q := r.URL.Query()
	return ledger.FilterQuery{
		Type:  q.Get("type"),
		Date:  q.Get("date"),
		Month: q.Get("month"),
		Year:  q.Get("year"),
	}
}

// writeDomainError maps ledger errors onto status codes. forbidden is the
// message for ErrForbidden on this route group.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error, forbidden string) {
	var filterErr *ledger.FilterError

	switch {
	case errors.Is(err, ledger.ErrForbidden):
		writeMessage(w, http.StatusForbidden, forbidden)
	case ledger.IsInvalidRequest(err):
		writeMessage(w, http.StatusBadRequest, msgInvalidRequest)
	case errors.As(err, &filterErr):
		writeMessage(w, http.StatusBadRequest, filterErr.Message)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeMessage(w, http.StatusBadRequest, "Insufficient wallet balance")
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeMessage(w, http.StatusBadRequest, "Amount must be greater than zero")
	case errors.Is(err, ledger.ErrTechnicianNotFound):
		writeMessage(w, http.StatusNotFound, "Technician not found")
	default:
		h.Log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeMessage(w, http.StatusInternalServerError, msgInternal)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeResult(w http.ResponseWriter, status int, result any) {
	writeJSON(w, status, Envelope{Success: true, Result: result})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Envelope{Success: status < 400, Message: message})
}
