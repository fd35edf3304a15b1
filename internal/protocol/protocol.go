package protocol

import (
	"context"
	"errors"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// ErrProtocolFailure is returned when the lending protocol reports a
// non-zero status or cannot be reached.
var ErrProtocolFailure = errors.New("protocol: external lending protocol failure")

// StatusOK is the lending protocol's success code. Any other value is a
// failure.
const StatusOK uint64 = 0

// LendingProtocol is the external money market the pool invests through.
// It is bound to the pool's custody address: Mint pulls underlying from the
// pool and credits shares to it; RedeemUnderlying burns the pool's shares and
// returns underlying to it.
type LendingProtocol interface {
	// AccrueInterest updates the exchange rate to the current block.
	AccrueInterest(ctx context.Context) error

	// ExchangeRateStored returns underlying-per-share scaled by 1e18.
	ExchangeRateStored(ctx context.Context) (sdkmath.Uint, error)

	Mint(ctx context.Context, amount sdkmath.Uint) (status uint64, err error)
	RedeemUnderlying(ctx context.Context, amount sdkmath.Uint) (status uint64, err error)

	// TotalSupply returns the shares held by the pool.
	TotalSupply(ctx context.Context) (sdkmath.Uint, error)

	// Underlying returns the asset the protocol accepts.
	Underlying() Token
}

// Token is a fungible underlying asset.
type Token interface {
	// TransferFrom moves amount from src to dst using the allowance src
	// granted to spender.
	TransferFrom(ctx context.Context, spender, src, dst uuid.UUID, amount sdkmath.Uint) error

	// Transfer moves amount from src to dst on src's own authority.
	Transfer(ctx context.Context, src, dst uuid.UUID, amount sdkmath.Uint) error

	Approve(ctx context.Context, owner, spender uuid.UUID, amount sdkmath.Uint) error
	Allowance(ctx context.Context, owner, spender uuid.UUID) (sdkmath.Uint, error)
	BalanceOf(ctx context.Context, addr uuid.UUID) (sdkmath.Uint, error)
}
