package protocol_test

import (
	fpmath "RedirectLedger/internal/math"
	"RedirectLedger/internal/protocol"
	"context"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pool = uuid.MustParse("10000000-0000-0000-0000-000000000001")

func newMarket(t *testing.T, funded uint64) (*protocol.MemoryToken, *protocol.MemoryMarket) {
	t.Helper()
	token := protocol.NewMemoryToken()
	token.Mint(pool, sdkmath.NewUint(funded))
	// 1% per accrual
	market := protocol.NewMemoryMarket(token, pool, fpmath.RateScale, sdkmath.NewUint(10_000_000_000_000_000))
	return token, market
}

func TestOracle_InvestMeasuresMintedShares(t *testing.T) {
	ctx := context.Background()
	token, market := newMarket(t, 1000)
	oracle := protocol.NewExchangeOracle(market)

	minted, err := oracle.Invest(ctx, sdkmath.NewUint(600))
	require.NoError(t, err)
	assert.Equal(t, "600", minted.String())

	bal, _ := token.BalanceOf(ctx, pool)
	assert.Equal(t, "400", bal.String())
	total, _ := oracle.TotalInvestedShares(ctx)
	assert.Equal(t, "600", total.String())
}

func TestOracle_InvestFailsOnNonZeroStatus(t *testing.T) {
	ctx := context.Background()
	_, market := newMarket(t, 10)
	oracle := protocol.NewExchangeOracle(market)

	_, err := oracle.Invest(ctx, sdkmath.NewUint(11))
	assert.ErrorIs(t, err, protocol.ErrProtocolFailure)
}

func TestOracle_WithdrawAfterAccrual(t *testing.T) {
	ctx := context.Background()
	token, market := newMarket(t, 1000)
	oracle := protocol.NewExchangeOracle(market)

	_, err := oracle.Invest(ctx, sdkmath.NewUint(1000))
	require.NoError(t, err)
	require.NoError(t, oracle.Accrue(ctx))

	rate, err := oracle.Rate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1010000000000000000", rate.String())

	// 1010 underlying is now redeemable; taking 505 burns 500 shares
	burned, err := oracle.Withdraw(ctx, sdkmath.NewUint(505))
	require.NoError(t, err)
	assert.Equal(t, "500", burned.String())

	bal, _ := token.BalanceOf(ctx, pool)
	assert.Equal(t, "505", bal.String())
}

func TestOracle_WithdrawMoreThanHeld(t *testing.T) {
	ctx := context.Background()
	_, market := newMarket(t, 100)
	oracle := protocol.NewExchangeOracle(market)

	_, err := oracle.Invest(ctx, sdkmath.NewUint(100))
	require.NoError(t, err)

	_, err = oracle.Withdraw(ctx, sdkmath.NewUint(101))
	assert.ErrorIs(t, err, protocol.ErrProtocolFailure)
}

func TestMemoryToken_TransferFromUsesAllowance(t *testing.T) {
	ctx := context.Background()
	token := protocol.NewMemoryToken()
	owner, spender := uuid.New(), uuid.New()
	token.Mint(owner, sdkmath.NewUint(50))

	err := token.TransferFrom(ctx, spender, owner, spender, sdkmath.NewUint(10))
	assert.ErrorIs(t, err, protocol.ErrTokenInsufficientAllowance)

	require.NoError(t, token.Approve(ctx, owner, spender, sdkmath.NewUint(20)))
	require.NoError(t, token.TransferFrom(ctx, spender, owner, spender, sdkmath.NewUint(10)))

	left, _ := token.Allowance(ctx, owner, spender)
	assert.Equal(t, "10", left.String())
	bal, _ := token.BalanceOf(ctx, spender)
	assert.Equal(t, "10", bal.String())
}

func TestMemoryMarket_SeedBacksRestoredShares(t *testing.T) {
	ctx := context.Background()
	token, market := newMarket(t, 0)
	market.SetRate(sdkmath.NewUint(2_000_000_000_000_000_000))
	market.Seed(sdkmath.NewUint(300))

	oracle := protocol.NewExchangeOracle(market)
	total, err := oracle.TotalInvestedShares(ctx)
	require.NoError(t, err)
	assert.Equal(t, "300", total.String())

	reserve, _ := token.BalanceOf(ctx, market.Address())
	assert.Equal(t, "600", reserve.String())

	// the pool can take out everything the seeded shares are worth
	burned, err := oracle.Withdraw(ctx, sdkmath.NewUint(600))
	require.NoError(t, err)
	assert.Equal(t, "300", burned.String())
}

func TestFaucet_FundApprovesPool(t *testing.T) {
	ctx := context.Background()
	token := protocol.NewMemoryToken()
	faucet := protocol.NewFaucet(token, pool)
	user := uuid.New()

	require.NoError(t, faucet.Fund(ctx, user, sdkmath.NewUint(75)))
	require.NoError(t, faucet.Fund(ctx, user, sdkmath.NewUint(25)))

	bal, _ := token.BalanceOf(ctx, user)
	assert.Equal(t, "100", bal.String())
	allowed, _ := token.Allowance(ctx, user, pool)
	assert.True(t, allowed.Equal(fpmath.MaxUint256))
}
