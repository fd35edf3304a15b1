package query_test

import (
	"RedirectLedger/internal/core"
	"RedirectLedger/internal/ledger"
	"RedirectLedger/internal/projection"
	"RedirectLedger/internal/query"
	"RedirectLedger/internal/testutil"
	"context"
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	bob   = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
)

func setup(t *testing.T) (*testutil.Ledger, *query.QueryService, *projection.InterestHistory) {
	t.Helper()
	l := testutil.NewLedger(t, sdkmath.ZeroUint())
	history := projection.NewInterestHistory(100)
	return l, query.NewQueryService(nil, l.Dispatcher, history), history
}

// onLedger runs fn on the dispatcher goroutine.
func onLedger(t *testing.T, l *testutil.Ledger, fn func(f *core.LedgerFacade) error) {
	t.Helper()
	require.NoError(t, l.Dispatcher.Read(context.Background(), fn))
}

func TestGetBalanceReadsLiveState(t *testing.T) {
	l, qs, _ := setup(t)
	ctx := context.Background()
	l.Fund(alice, 1000)

	var hatID uint64
	onLedger(t, l, func(f *core.LedgerFacade) error {
		var err error
		hatID, err = f.DepositWithNewHat(ctx, alice, sdkmath.NewUint(1000), []uuid.UUID{bob}, []uint32{1})
		return err
	})

	a, err := qs.GetBalance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, hatID, a.HatID)
	assert.Equal(t, "1000", a.Balance.String())
	assert.Equal(t, "0", a.ReceivedLoan.String())
	assert.Equal(t, int64(0), a.AsOfSequence)

	b, err := qs.GetBalance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, "0", b.Balance.String())
	assert.Equal(t, "1000", b.ReceivedLoan.String())
	assert.Equal(t, "1000", b.ReceivedSavings.String())
	assert.Equal(t, "0", b.InterestPayable.String())
	assert.Equal(t, ledger.NoHatID, b.HatID)
}

func TestGetHatQueries(t *testing.T) {
	l, qs, _ := setup(t)
	ctx := context.Background()

	var hatID uint64
	onLedger(t, l, func(f *core.LedgerFacade) error {
		var err error
		hatID, err = f.CreateHat(ctx, alice, []uuid.UUID{bob}, []uint32{7}, true)
		return err
	})

	hat, err := qs.GetHat(ctx, hatID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{bob}, hat.Recipients)
	assert.Equal(t, []uint32{0xFFFFFFFF}, hat.Weights)

	worn, err := qs.GetHatByAddress(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, hatID, worn.HatID)

	_, err = qs.GetHat(ctx, hatID+10)
	assert.True(t, errors.Is(err, ledger.ErrUnknownHat))
}

func TestGetAllowanceAndGlobalStats(t *testing.T) {
	l, qs, _ := setup(t)
	ctx := context.Background()
	l.Fund(alice, 500)

	onLedger(t, l, func(f *core.LedgerFacade) error {
		if err := f.Deposit(ctx, alice, sdkmath.NewUint(500)); err != nil {
			return err
		}
		return f.Approve(ctx, alice, bob, sdkmath.NewUint(40))
	})

	allowance, err := qs.GetAllowance(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, "40", allowance.Amount.String())

	stats, err := qs.GetGlobalStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "500", stats.TotalSupply.String())
	assert.Equal(t, "500", stats.TotalSavingsAmount.String())
	assert.Len(t, stats.StateHash, 64)
	assert.Equal(t, int64(1), stats.AsOfSequence)
}

func TestInterestHistoryWithoutEntries(t *testing.T) {
	_, qs, history := setup(t)
	history.Observe(0, "Deposit", time.Now(), alice, sdkmath.ZeroUint())
	history.Observe(1, "PayInterest", time.Now(), alice, sdkmath.NewUint(3))

	resp := qs.GetInterestHistory(alice, 0)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "3", resp.Entries[0].Amount.String())

	assert.Empty(t, qs.GetInterestHistory(bob, 10).Entries)
}

func TestProjectionQueriesNeedDatabase(t *testing.T) {
	_, qs, _ := setup(t)
	ctx := context.Background()

	_, err := qs.GetLoansTo(ctx, bob, 10)
	assert.ErrorIs(t, err, query.ErrNoDatabase)
	_, err = qs.GetEventHistory(ctx, alice, 10, nil)
	assert.ErrorIs(t, err, query.ErrNoDatabase)
}

func TestVerifyIntegrityLiveOnly(t *testing.T) {
	l, qs, _ := setup(t)
	ctx := context.Background()
	l.Fund(alice, 10)
	onLedger(t, l, func(f *core.LedgerFacade) error {
		return f.Deposit(ctx, alice, sdkmath.NewUint(10))
	})

	report, err := qs.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.IsHealthy)
	assert.Empty(t, report.LiveSupplyError)
}
