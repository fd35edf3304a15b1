package protocol

import (
	fpmath "RedirectLedger/internal/math"
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// ExchangeOracle wraps a LendingProtocol with the operations the ledger
// needs: rate reads, investing and withdrawing with share deltas measured
// from the protocol's own supply.
type ExchangeOracle struct {
	market LendingProtocol
}

func NewExchangeOracle(market LendingProtocol) *ExchangeOracle {
	return &ExchangeOracle{market: market}
}

// Accrue brings the exchange rate up to date.
func (o *ExchangeOracle) Accrue(ctx context.Context) error {
	if err := o.market.AccrueInterest(ctx); err != nil {
		return fmt.Errorf("%w: accrue interest: %v", ErrProtocolFailure, err)
	}
	return nil
}

// Rate returns the stored exchange rate (1e18 scale).
func (o *ExchangeOracle) Rate(ctx context.Context) (sdkmath.Uint, error) {
	rate, err := o.market.ExchangeRateStored(ctx)
	if err != nil {
		return sdkmath.ZeroUint(), fmt.Errorf("%w: exchange rate: %v", ErrProtocolFailure, err)
	}
	return rate, nil
}

// TotalInvestedShares returns the shares the pool holds.
func (o *ExchangeOracle) TotalInvestedShares(ctx context.Context) (sdkmath.Uint, error) {
	shares, err := o.market.TotalSupply(ctx)
	if err != nil {
		return sdkmath.ZeroUint(), fmt.Errorf("%w: total supply: %v", ErrProtocolFailure, err)
	}
	return shares, nil
}

// Invest mints shares for amount of underlying already held by the pool
// and returns the shares actually minted.
func (o *ExchangeOracle) Invest(ctx context.Context, amount sdkmath.Uint) (sdkmath.Uint, error) {
	before, err := o.TotalInvestedShares(ctx)
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	status, err := o.market.Mint(ctx, amount)
	if err != nil {
		return sdkmath.ZeroUint(), fmt.Errorf("%w: mint %s: %v", ErrProtocolFailure, amount, err)
	}
	if status != StatusOK {
		return sdkmath.ZeroUint(), fmt.Errorf("%w: mint %s: status %d", ErrProtocolFailure, amount, status)
	}
	after, err := o.TotalInvestedShares(ctx)
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	return fpmath.SaturatingSub(after, before), nil
}

// Withdraw redeems amount of underlying into the pool and returns the
// shares actually burned, floored at zero.
func (o *ExchangeOracle) Withdraw(ctx context.Context, amount sdkmath.Uint) (sdkmath.Uint, error) {
	before, err := o.TotalInvestedShares(ctx)
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	status, err := o.market.RedeemUnderlying(ctx, amount)
	if err != nil {
		return sdkmath.ZeroUint(), fmt.Errorf("%w: redeem %s: %v", ErrProtocolFailure, amount, err)
	}
	if status != StatusOK {
		return sdkmath.ZeroUint(), fmt.Errorf("%w: redeem %s: status %d", ErrProtocolFailure, amount, status)
	}
	after, err := o.TotalInvestedShares(ctx)
	if err != nil {
		return sdkmath.ZeroUint(), err
	}
	return fpmath.SaturatingSub(before, after), nil
}

// Token returns the underlying asset.
func (o *ExchangeOracle) Token() Token {
	return o.market.Underlying()
}
