/*
handlers_test.go - HTTP tests for the wallet API

Tests for:
- Authentication (401) and role mapping (403 messages per route group)
- Envelope shape and status mapping for ledger errors
- Withdrawal approve/reject round trip through the router
- Report endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/wallet-engine/ledger"
	memstore "github.com/warp/wallet-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	testSecret = []byte("test-secret")
	testNow    = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)
)

type testEnv struct {
	handler *Handler
	router  http.Handler
	store   *memstore.Memory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := memstore.NewMemory()
	clock := ledger.FixedClock{At: testNow}
	l := ledger.NewLedger(st, clock, nil)
	ws := ledger.NewWithdrawalService(st, clock, nil, ledger.WithdrawalOptions{})
	rep := ledger.NewReporter(st, clock, ledger.ReporterOptions{Location: time.UTC})

	h := NewHandler(st, ws, rep, l, nil)
	h.JWTSecret = testSecret
	router := NewRouter(h, RouterOptions{
		JWTSecret:       testSecret,
		CORSOrigins:     []string{"*"},
		EnableScenarios: true,
	})
	return &testEnv{handler: h, router: router, store: st}
}

func token(t *testing.T, id string, role ledger.Role) string {
	t.Helper()
	tok, err := IssueToken(testSecret, id, role, time.Hour)
	require.NoError(t, err)
	return tok
}

type response struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Message string          `json:"message"`
}

func (e *testEnv) do(t *testing.T, method, path, tok string, body any) (int, response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func (e *testEnv) seedTechnician(t *testing.T, id string, balance int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.SaveTechnician(ctx, ledger.Technician{
		ID:            ledger.TechnicianID(id),
		Name:          "Tech " + id,
		MobileNumber:  "01700000000",
		WalletBalance: decimal.Zero,
	}))
	if balance > 0 {
		_, err := e.handler.Ledger.Credit(ctx, ledger.CreditRequest{
			TechnicianID: ledger.TechnicianID(id),
			Amount:       decimal.NewFromInt(balance),
		})
		require.NoError(t, err)
	}
}

// =============================================================================
// AUTH
// =============================================================================

func TestAPI_MissingOrBadToken_Unauthorized(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodGet, "/api/admin/wallet/summary", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, resp.Success)
	assert.Equal(t, "Unauthorized", resp.Message)

	bad, err := IssueToken([]byte("other-secret"), "admin-1", ledger.RoleAdmin, time.Hour)
	require.NoError(t, err)
	code, _ = env.do(t, http.MethodGet, "/api/admin/wallet/summary", bad, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: string(ledger.RoleAdmin),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString(testSecret)
	require.NoError(t, err)
	code, _ = env.do(t, http.MethodGet, "/api/admin/wallet/summary", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role:             string(ledger.RoleAdmin),
		RegisteredClaims: jwt.RegisteredClaims{Subject: "admin-1"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	code, _ = env.do(t, http.MethodGet, "/api/admin/wallet/summary", none, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAPI_TechnicianOnAdminRoute_Forbidden(t *testing.T) {
	env := newTestEnv(t)
	tech := token(t, "tech-1", ledger.RoleTechnician)

	for _, path := range []string{
		"/api/admin/wallet/summary",
		"/api/admin/wallet/summary/filter?type=day&date=2024-03-15",
		"/api/admin/wallet/withdrawals",
		"/api/admin/wallet/reconciliation",
	} {
		code, resp := env.do(t, http.MethodGet, path, tech, nil)
		assert.Equal(t, http.StatusForbidden, code, path)
		assert.Equal(t, "Admin or Owner access only", resp.Message, path)
		assert.False(t, resp.Success, path)
	}

	code, resp := env.do(t, http.MethodPost, "/api/admin/wallet/withdrawals/w-1/approve", tech, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Admin or Owner access only", resp.Message)
}

func TestAPI_AdminOnTechnicianRoute_Forbidden(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodGet, "/api/technician/wallet", token(t, "admin-1", ledger.RoleAdmin), nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Technician access only", resp.Message)
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

func TestAPI_WithdrawalRoundTrip(t *testing.T) {
	// GIVEN: A technician with 1000 in the wallet
	// WHEN: They request 300 and an admin approves it twice
	// THEN: First approve debits 300; second gets "Invalid request"

	env := newTestEnv(t)
	env.seedTechnician(t, "tech-1", 1000)
	tech := token(t, "tech-1", ledger.RoleTechnician)
	admin := token(t, "admin-1", ledger.RoleAdmin)

	code, resp := env.do(t, http.MethodPost, "/api/technician/wallet/withdraw", tech, map[string]any{"amount": 300, "note": "rent"})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var created WithdrawalDTO
	require.NoError(t, json.Unmarshal(resp.Result, &created))
	assert.Equal(t, "pending", created.Status)

	code, resp = env.do(t, http.MethodPost, "/api/admin/wallet/withdrawals/"+created.ID+"/approve", admin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Equal(t, "Withdraw approved", resp.Message)

	code, resp = env.do(t, http.MethodPost, "/api/admin/wallet/withdrawals/"+created.ID+"/approve", admin, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid request", resp.Message)

	code, resp = env.do(t, http.MethodGet, "/api/technician/wallet", tech, nil)
	require.Equal(t, http.StatusOK, code)
	var wallet WalletDTO
	require.NoError(t, json.Unmarshal(resp.Result, &wallet))
	assert.Equal(t, 700.0, wallet.WalletBalance)

	code, resp = env.do(t, http.MethodGet, "/api/technician/wallet/transactions", tech, nil)
	require.Equal(t, http.StatusOK, code)
	var txs []TransactionDTO
	require.NoError(t, json.Unmarshal(resp.Result, &txs))
	require.Len(t, txs, 2)
	assert.Equal(t, "debit", txs[0].Type)
	assert.Equal(t, "withdraw", txs[0].Source)
	assert.Equal(t, created.ID, txs[0].ReferenceID)

	code, resp = env.do(t, http.MethodGet, "/api/technician/wallet/withdraws", tech, nil)
	require.Equal(t, http.StatusOK, code)
	var mine []WithdrawalDTO
	require.NoError(t, json.Unmarshal(resp.Result, &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, "approved", mine[0].Status)
	assert.Equal(t, "admin-1", mine[0].DecidedBy)
}

func TestAPI_ApproveUnknownRequest_InvalidRequest(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodPost, "/api/admin/wallet/withdrawals/nope/approve", token(t, "owner-1", ledger.RoleOwner), nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, resp.Success)
	assert.Equal(t, "Invalid request", resp.Message)
}

func TestAPI_Reject_WithReason(t *testing.T) {
	env := newTestEnv(t)
	env.seedTechnician(t, "tech-1", 500)
	admin := token(t, "admin-1", ledger.RoleAdmin)

	req, err := env.handler.Withdrawals.Request(context.Background(),
		ledger.Caller{ID: "tech-1", Role: ledger.RoleTechnician}, decimal.NewFromInt(200), "")
	require.NoError(t, err)

	code, resp := env.do(t, http.MethodPost, "/api/admin/wallet/withdrawals/"+string(req.ID)+"/reject", admin, RejectRequest{Reason: "duplicate"})
	require.Equal(t, http.StatusOK, code)
	var rejected WithdrawalDTO
	require.NoError(t, json.Unmarshal(resp.Result, &rejected))
	assert.Equal(t, "rejected", rejected.Status)
	assert.Equal(t, "duplicate", rejected.RejectionReason)

	tech, err := env.store.GetTechnician(context.Background(), "tech-1")
	require.NoError(t, err)
	assert.True(t, tech.WalletBalance.Equal(decimal.NewFromInt(500)))
}

func TestAPI_RequestWithdrawal_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.seedTechnician(t, "tech-1", 100)
	tech := token(t, "tech-1", ledger.RoleTechnician)

	code, resp := env.do(t, http.MethodPost, "/api/technician/wallet/withdraw", tech, map[string]any{"amount": 0})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Amount must be greater than zero", resp.Message)

	code, resp = env.do(t, http.MethodPost, "/api/technician/wallet/withdraw", tech, map[string]any{"amount": "150.50"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Insufficient wallet balance", resp.Message)

	code, _ = env.do(t, http.MethodGet, "/api/technician/wallet", token(t, "ghost", ledger.RoleTechnician), nil)
	assert.Equal(t, http.StatusNotFound, code)
}

// =============================================================================
// REPORTS
// =============================================================================

func TestAPI_Summary(t *testing.T) {
	// GIVEN: 1000 collected with 100 commission, and an approved 300 withdrawal
	// THEN: netPayout 900, totalWithdrawn 300, availableBalance 700

	env := newTestEnv(t)
	ctx := context.Background()
	env.seedTechnician(t, "tech-1", 500)

	require.NoError(t, env.store.RecordPayment(ctx, ledger.Payment{
		ID:               "p-1",
		Status:           ledger.PaymentSuccess,
		TotalAmount:      decimal.NewFromInt(1000),
		CommissionAmount: decimal.NewFromInt(100),
		CreatedAt:        testNow.Add(-time.Hour),
	}))
	req, err := env.handler.Withdrawals.Request(ctx, ledger.Caller{ID: "tech-1", Role: ledger.RoleTechnician}, decimal.NewFromInt(300), "")
	require.NoError(t, err)
	_, err = env.handler.Withdrawals.Approve(ctx, ledger.Caller{ID: "admin-1", Role: ledger.RoleAdmin}, req.ID)
	require.NoError(t, err)

	code, resp := env.do(t, http.MethodGet, "/api/admin/wallet/summary", token(t, "admin-1", ledger.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)

	var s SummaryDTO
	require.NoError(t, json.Unmarshal(resp.Result, &s))
	assert.Equal(t, WindowTotalsDTO{Collected: 1000, Commission: 100, NetPayout: 900}, s.Overall)
	assert.Equal(t, s.Overall, s.Today)
	assert.Equal(t, int64(1000), s.TotalCollected)
	assert.Equal(t, int64(300), s.TotalWithdrawn)
	assert.Equal(t, int64(700), s.AvailableBalance)
	assert.Equal(t, 1, s.ApprovedWithdrawCount)
	assert.Equal(t, 0, s.RejectedWithdrawCount)
}

func TestAPI_FilteredSummary_ValidationMessages(t *testing.T) {
	env := newTestEnv(t)
	admin := token(t, "admin-1", ledger.RoleAdmin)

	cases := map[string]string{
		"/api/admin/wallet/summary/filter?type=day":                 "Date is required for 'day' filter",
		"/api/admin/wallet/summary/filter?type=month":               "Month is required for 'month' filter",
		"/api/admin/wallet/summary/filter?type=year":                "Year is required for 'year' filter",
		"/api/admin/wallet/summary/filter?type=week":                "Invalid filter type",
		"/api/admin/wallet/summary/filter":                          "Invalid filter type",
		"/api/admin/wallet/summary/filter?type=month&month=2024-13": "Invalid month format, expected YYYY-MM",
	}
	for path, msg := range cases {
		code, resp := env.do(t, http.MethodGet, path, admin, nil)
		assert.Equal(t, http.StatusBadRequest, code, path)
		assert.Equal(t, msg, resp.Message, path)
	}
}

func TestAPI_FilteredSummary_Month(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.RecordPayment(context.Background(), ledger.Payment{
		ID:               "p-1",
		Status:           ledger.PaymentSuccess,
		TotalAmount:      decimal.RequireFromString("250.5"),
		CommissionAmount: decimal.RequireFromString("25.4"),
		CreatedAt:        time.Date(2024, time.March, 31, 23, 0, 0, 0, time.UTC),
	}))

	code, resp := env.do(t, http.MethodGet, "/api/admin/wallet/summary/filter?type=month&month=2024-03", token(t, "owner-1", ledger.RoleOwner), nil)
	require.Equal(t, http.StatusOK, code)

	var f FilteredSummaryDTO
	require.NoError(t, json.Unmarshal(resp.Result, &f))
	assert.Equal(t, "month", f.Type)
	assert.True(t, f.Range.Start.Equal(time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, f.Range.End.Equal(time.Date(2024, time.March, 31, 23, 59, 59, 999_000_000, time.UTC)))
	assert.Equal(t, int64(251), f.Collected)
	assert.Equal(t, int64(25), f.Commission)
	assert.Equal(t, int64(226), f.NetPayout)
}

func TestAPI_ListWithdrawals_TechnicianSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedTechnician(t, "tech-1", 800)

	require.NoError(t, env.store.CreateWithdrawal(ctx, ledger.WithdrawalRequest{
		ID: "w-old", TechnicianID: "tech-1", Amount: decimal.NewFromInt(100),
		Status: ledger.WithdrawalPending, CreatedAt: testNow.Add(-48 * time.Hour),
	}))
	require.NoError(t, env.store.CreateWithdrawal(ctx, ledger.WithdrawalRequest{
		ID: "w-orphan", TechnicianID: "gone", Amount: decimal.NewFromInt(50),
		Status: ledger.WithdrawalPending, CreatedAt: testNow,
	}))

	code, resp := env.do(t, http.MethodGet, "/api/admin/wallet/withdrawals", token(t, "admin-1", ledger.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, code)

	var rows []AdminWithdrawalDTO
	require.NoError(t, json.Unmarshal(resp.Result, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "w-orphan", rows[0].ID)
	assert.Nil(t, rows[0].Technician)
	require.NotNil(t, rows[1].Technician)
	assert.Equal(t, "Tech tech-1", rows[1].Technician.Name)
	assert.Equal(t, 800.0, rows[1].Technician.WalletBalance)

	code, resp = env.do(t, http.MethodGet, "/api/admin/wallet/withdrawals?type=day&date=2024-03-15", token(t, "admin-1", ledger.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Result, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "w-orphan", rows[0].ID)

	code, resp = env.do(t, http.MethodGet, "/api/admin/wallet/withdrawals?type=day&date=15-03-2024", token(t, "admin-1", ledger.RoleAdmin), nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid date format, expected YYYY-MM-DD", resp.Message)
}

func TestAPI_Reconciliation(t *testing.T) {
	env := newTestEnv(t)
	env.seedTechnician(t, "tech-1", 400)

	code, resp := env.do(t, http.MethodGet, "/api/admin/wallet/reconciliation", token(t, "admin-1", ledger.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, code)

	var reports []ReconciliationDTO
	require.NoError(t, json.Unmarshal(resp.Result, &reports))
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Consistent)
	assert.Equal(t, 400.0, reports[0].LedgerBalance)
}

func TestAPI_Health(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
}
