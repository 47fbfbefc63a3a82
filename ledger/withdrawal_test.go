package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/wallet-engine/ledger"
	"github.com/warp/wallet-engine/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	now   = time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC)
	clock = ledger.FixedClock{At: now}

	admin = ledger.Caller{ID: "admin-1", Role: ledger.RoleAdmin}
	owner = ledger.Caller{ID: "owner-1", Role: ledger.RoleOwner}
)

func amount(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func techCaller(id ledger.TechnicianID) ledger.Caller {
	return ledger.Caller{ID: string(id), Role: ledger.RoleTechnician}
}

// newFunded creates a technician whose balance comes from one credit.
func newFunded(t *testing.T, s ledger.TxStore, id ledger.TechnicianID, balance int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveTechnician(ctx, ledger.Technician{ID: id, Name: "Tech " + string(id), WalletBalance: decimal.Zero}))
	if balance > 0 {
		_, err := ledger.NewLedger(s, clock, nil).Credit(ctx, ledger.CreditRequest{TechnicianID: id, Amount: amount(balance)})
		require.NoError(t, err)
	}
}

func assertReconciles(t *testing.T, s ledger.TxStore, id ledger.TechnicianID) {
	t.Helper()
	r, err := ledger.NewLedger(s, clock, nil).Reconcile(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, r.Consistent(), "cached %s vs ledger %s", r.CachedBalance, r.LedgerBalance)
}

// failingTxStore runs every WithTx against a view whose status transition
// fails, to exercise rollback of the earlier writes.
type failingTxStore struct {
	*store.Memory
}

type failingTransition struct {
	ledger.Store
}

var errDiskFull = errors.New("disk full")

func (failingTransition) TransitionWithdrawal(context.Context, ledger.Transition) error {
	return errDiskFull
}

func (f failingTxStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return f.Memory.WithTx(ctx, func(s ledger.Store) error {
		return fn(failingTransition{s})
	})
}

// =============================================================================
// REQUEST
// =============================================================================

func TestRequest_CreatesPendingWithoutDebit(t *testing.T) {
	s := store.NewMemory()
	newFunded(t, s, "tech-1", 1000)
	ws := ledger.NewWithdrawalService(s, clock, nil, ledger.WithdrawalOptions{})

	w, err := ws.Request(context.Background(), techCaller("tech-1"), amount(300), "rent")
	require.NoError(t, err)
	assert.Equal(t, ledger.WithdrawalPending, w.Status)
	assert.Equal(t, now, w.CreatedAt)

	tech, err := s.GetTechnician(context.Background(), "tech-1")
	require.NoError(t, err)
	assert.True(t, tech.WalletBalance.Equal(amount(1000)), "nothing is reserved until approval")
}

func TestRequest_Validation(t *testing.T) {
	s := store.NewMemory()
	newFunded(t, s, "tech-1", 100)
	ws := ledger.NewWithdrawalService(s, clock, nil, ledger.WithdrawalOptions{})
	ctx := context.Background()

	_, err := ws.Request(ctx, techCaller("tech-1"), decimal.Zero, "")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = ws.Request(ctx, techCaller("tech-1"), amount(-5), "")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = ws.Request(ctx, techCaller("tech-1"), amount(101), "")
	var ibe *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.True(t, ibe.Available.Equal(amount(100)))
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	_, err = ws.Request(ctx, admin, amount(10), "")
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	_, err = ws.Request(ctx, techCaller("ghost"), amount(10), "")
	assert.ErrorIs(t, err, ledger.ErrTechnicianNotFound)
}

func TestRequest_AllowNegativeBalance(t *testing.T) {
	s := store.NewMemory()
	newFunded(t, s, "tech-1", 100)
	ws := ledger.NewWithdrawalService(s, clock, nil, ledger.WithdrawalOptions{AllowNegativeBalance: true})
	ctx := context.Background()

	w, err := ws.Request(ctx, techCaller("tech-1"), amount(250), "")
	require.NoError(t, err)
	_, err = ws.Approve(ctx, admin, w.ID)
	require.NoError(t, err)

	tech, err := s.GetTechnician(ctx, "tech-1")
	require.NoError(t, err)
	assert.True(t, tech.WalletBalance.Equal(amount(-150)))
	assertReconciles(t, s, "tech-1")
}

// =============================================================================
// APPROVE
// =============================================================================

func TestApprove_DebitsOnceAndRecordsDecision(t *testing.T) {
	// GIVEN: A technician with 1000 and a pending request for 300
	// WHEN: An owner approves it
	// THEN: Balance is 700, one debit references the request, status is approved

	s := store.NewMemory()
	newFunded(t, s, "tech-1", 1000)
	ws := ledger.NewWithdrawalService(s, clock, nil, ledger.WithdrawalOptions{})
	ctx := context.Background()

	w, err := ws.Request(ctx, techCaller("tech-1"), amount(300), "")
	require.NoError(t, err)

	approved, err := ws.Approve(ctx, owner, w.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.WithdrawalApproved, approved.Status)
	assert.Equal(t, "owner-1", approved.DecidedBy)
	require.NotNil(t, approved.DecidedAt)

	stored, err := s.GetWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.WithdrawalApproved, stored.Status)
	assert.Equal(t, "owner-1", stored.DecidedBy)

	tech, err := s.GetTechnician(ctx, "tech-1")
	require.NoError(t, err)
	assert.True(t, tech.WalletBalance.Equal(amount(700)))

	txs, err := s.Transactions(ctx, "tech-1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	debit := txs[1]
	assert.Equal(t, ledger.TxDebit, debit.Type)
	assert.Equal(t, ledger.SourceWithdraw, debit.Source)
	assert.Equal(t, string(w.ID), debit.ReferenceID)
	assert.Equal(t, "Withdraw approved", debit.Note)
	assert.True(t, debit.Amount.Equal(amount(300)))

	assertReconciles(t, s, "tech-1")
}

func TestApprove_SecondDecisionIsInvalid(t *testing.T) {
	s := store.NewMemory()
	newFunded(t, s, "tech-1", 1000)
	ws := ledger.NewWithdrawalService(s, clock, nil, ledger.WithdrawalOptions{})
	ctx := context.Background()

	w, err := ws.Request(ctx, techCaller("tech-1"), amount(300), "")
	require.NoError(t, err)
	_, err = ws.Approve(ctx, admin, w.ID)
	require.NoError(t, err)

	_, err = ws.Approve(ctx, admin, w.ID)
	assert.ErrorIs(t, err, ledger.ErrRequestNotPending)
	assert.True(t, ledger.IsInvalidRequest(err))

	_, err = ws.Reject(ctx, admin, w.ID, "")
	assert.ErrorIs(t, err, ledger.ErrRequestNotPending)

	_, err = ws.Approve(ctx, admin, "missing")
	assert.ErrorIs(t, err, ledger.ErrRequestNotFound)
	assert.True(t, ledger.IsInvalidRequest(err))

	tech, err := s.GetTechnician(ctx, "tech-1")
	require.NoError(t, err)
	assert.True(t, tech.WalletBalance.Equal(amount(700)))
	txs, err := s.Transactions(ctx, "tech-1")
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestApprove_ConcurrentOnlyOneWins(t *testing.T) {
	// GIVEN: One pending request
	// WHEN: 20 admins approve it at the same time
	// THEN: Exactly one succeeds and exactly one debit exists

	s := store.NewMemory()
	newFunded(t, s, "tech-1", 1000)
	ws := ledger.NewWithdrawalService(s, clock, nil, ledger.WithdrawalOptions{})
	ctx := context.Background()

	w, err := ws.Request(ctx, techCaller("tech-1"), amount(300), "")
	require.NoError(t, err)

	const n = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		notReady int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ws.Approve(ctx, admin, w.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ledger.ErrRequestNotPending):
				notReady++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, notReady)

	tech, err := s.GetTechnician(ctx, "tech-1")
	require.NoError(t, err)
	assert.True(t, tech.WalletBalance.Equal(amount(700)))
	assertReconciles(t, s, "tech-1")
}

func TestApprove_InsufficientBalanceAtDecisionTime(t *testing.T) {
	s := store.NewMemory()
	newFunded(t, s, "tech-1", 500)
	ws := ledger.NewWithdrawalService(s, clock, nil, ledger.WithdrawalOptions{})
	ctx := context.Background()

	first, err := ws.Request(ctx, techCaller("tech-1"), amount(400), "")
	require.NoError(t, err)
	second, err := ws.Request(ctx, techCaller("tech-1"), amount(400), "")
	require.NoError(t, err)

	_, err = ws.Approve(ctx, admin, first.ID)
	require.NoError(t, err)

	_, err = ws.Approve(ctx, admin, second.ID)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	stored, err := s.GetWithdrawal(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.WithdrawalPending, stored.Status)
	assertReconciles(t, s, "tech-1")
}

func TestApprove_RollsBackOnStoreFailure(t *testing.T) {
	// GIVEN: A store whose status transition fails
	// WHEN: Approving
	// THEN: The balance change and the debit are rolled back

	mem := store.NewMemory()
	newFunded(t, mem, "tech-1", 1000)
	ctx := context.Background()

	w, err := ledger.NewWithdrawalService(mem, clock, nil, ledger.WithdrawalOptions{}).
		Request(ctx, techCaller("tech-1"), amount(300), "")
	require.NoError(t, err)

	ws := ledger.NewWithdrawalService(failingTxStore{mem}, clock, nil, ledger.WithdrawalOptions{})
	_, err = ws.Approve(ctx, admin, w.ID)
	assert.ErrorIs(t, err, errDiskFull)

	tech, err := mem.GetTechnician(ctx, "tech-1")
	require.NoError(t, err)
	assert.True(t, tech.WalletBalance.Equal(amount(1000)))

	txs, err := mem.Transactions(ctx, "tech-1")
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	stored, err := mem.GetWithdrawal(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.WithdrawalPending, stored.Status)
}

func TestDecisions_ForbiddenBeforeStoreAccess(t *testing.T) {
	// A nil embedded store panics on any call, so these must fail first.
	untouched := struct{ ledger.TxStore }{}
	ws := ledger.NewWithdrawalService(untouched, clock, nil, ledger.WithdrawalOptions{})
	ctx := context.Background()

	for _, c := range []ledger.Caller{techCaller("tech-1"), {ID: "x", Role: "Support"}, {}} {
		_, err := ws.Approve(ctx, c, "w-1")
		assert.ErrorIs(t, err, ledger.ErrForbidden)

		_, err = ws.Reject(ctx, c, "w-1", "")
		assert.ErrorIs(t, err, ledger.ErrForbidden)
	}

	_, err := ws.ListForTechnician(ctx, admin)
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	_, err = ws.ListForTechnician(ctx, ledger.Caller{Role: ledger.RoleTechnician})
	assert.ErrorIs(t, err, ledger.ErrForbidden)
}

// =============================================================================
// REJECT
// =============================================================================

func TestReject_LeavesBalanceAndLedger(t *testing.T) {
	s := store.NewMemory()
	newFunded(t, s, "tech-1", 1000)
	ws := ledger.NewWithdrawalService(s, clock, nil, ledger.WithdrawalOptions{})
	ctx := context.Background()

	w, err := ws.Request(ctx, techCaller("tech-1"), amount(300), "")
	require.NoError(t, err)

	rejected, err := ws.Reject(ctx, admin, w.ID, "bank details missing")
	require.NoError(t, err)
	assert.Equal(t, ledger.WithdrawalRejected, rejected.Status)
	assert.Equal(t, "bank details missing", rejected.RejectionReason)

	tech, err := s.GetTechnician(ctx, "tech-1")
	require.NoError(t, err)
	assert.True(t, tech.WalletBalance.Equal(amount(1000)))

	txs, err := s.Transactions(ctx, "tech-1")
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	_, err = ws.Approve(ctx, admin, w.ID)
	assert.ErrorIs(t, err, ledger.ErrRequestNotPending)

	mine, err := ws.ListForTechnician(ctx, techCaller("tech-1"))
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, ledger.WithdrawalRejected, mine[0].Status)
}
