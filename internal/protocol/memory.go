package protocol

import (
	fpmath "RedirectLedger/internal/math"
	"context"
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

var (
	ErrTokenInsufficientBalance   = errors.New("token: insufficient balance")
	ErrTokenInsufficientAllowance = errors.New("token: insufficient allowance")
)

// MemoryToken is an in-process fungible asset used by the simulator and by
// tests. Safe for concurrent use.
type MemoryToken struct {
	mu         sync.Mutex
	balances   map[uuid.UUID]sdkmath.Uint
	allowances map[[2]uuid.UUID]sdkmath.Uint
}

func NewMemoryToken() *MemoryToken {
	return &MemoryToken{
		balances:   make(map[uuid.UUID]sdkmath.Uint),
		allowances: make(map[[2]uuid.UUID]sdkmath.Uint),
	}
}

// Mint creates amount out of thin air for addr.
func (t *MemoryToken) Mint(addr uuid.UUID, amount sdkmath.Uint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[addr] = t.balanceLocked(addr).Add(amount)
}

func (t *MemoryToken) TransferFrom(_ context.Context, spender, src, dst uuid.UUID, amount sdkmath.Uint) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := [2]uuid.UUID{src, spender}
	allowed, ok := t.allowances[key]
	if !ok || allowed.LT(amount) {
		return fmt.Errorf("%w: %s may spend %s", ErrTokenInsufficientAllowance, spender, src)
	}
	if err := t.moveLocked(src, dst, amount); err != nil {
		return err
	}
	if !allowed.Equal(fpmath.MaxUint256) {
		t.allowances[key] = allowed.Sub(amount)
	}
	return nil
}

func (t *MemoryToken) Transfer(_ context.Context, src, dst uuid.UUID, amount sdkmath.Uint) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.moveLocked(src, dst, amount)
}

func (t *MemoryToken) Approve(_ context.Context, owner, spender uuid.UUID, amount sdkmath.Uint) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowances[[2]uuid.UUID{owner, spender}] = amount
	return nil
}

func (t *MemoryToken) Allowance(_ context.Context, owner, spender uuid.UUID) (sdkmath.Uint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.allowances[[2]uuid.UUID{owner, spender}]; ok {
		return v, nil
	}
	return sdkmath.ZeroUint(), nil
}

func (t *MemoryToken) BalanceOf(_ context.Context, addr uuid.UUID) (sdkmath.Uint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balanceLocked(addr), nil
}

func (t *MemoryToken) balanceLocked(addr uuid.UUID) sdkmath.Uint {
	if v, ok := t.balances[addr]; ok {
		return v
	}
	return sdkmath.ZeroUint()
}

func (t *MemoryToken) moveLocked(src, dst uuid.UUID, amount sdkmath.Uint) error {
	have := t.balanceLocked(src)
	if have.LT(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrTokenInsufficientBalance, src, have, amount)
	}
	t.balances[src] = have.Sub(amount)
	t.balances[dst] = t.balanceLocked(dst).Add(amount)
	return nil
}

// Status codes returned by MemoryMarket.
const (
	StatusInsufficientCash   uint64 = 14
	StatusInsufficientShares uint64 = 15
	StatusTransferFailed     uint64 = 16
)

// MemoryMarket simulates a lending market bound to one pool address. Each
// AccrueInterest call raises the exchange rate by RatePerAccrual (1e18
// scale) and mints the matching underlying into the market's reserve so
// redemptions stay fully backed.
type MemoryMarket struct {
	mu sync.Mutex

	token  *MemoryToken
	pool   uuid.UUID
	market uuid.UUID

	rate           sdkmath.Uint
	ratePerAccrual sdkmath.Uint
	shares         sdkmath.Uint
}

// NewMemoryMarket creates a market for pool. Both rates use the 1e18
// scale; a zero initial rate starts at 1.0.
func NewMemoryMarket(token *MemoryToken, pool uuid.UUID, initialRate, ratePerAccrual sdkmath.Uint) *MemoryMarket {
	if initialRate.IsZero() {
		initialRate = fpmath.RateScale
	}
	return &MemoryMarket{
		token:          token,
		pool:           pool,
		market:         uuid.NewSHA1(pool, []byte("market")),
		rate:           initialRate,
		ratePerAccrual: ratePerAccrual,
		shares:         sdkmath.ZeroUint(),
	}
}

// Address returns the market's own custody address on the token.
func (m *MemoryMarket) Address() uuid.UUID {
	return m.market
}

func (m *MemoryMarket) AccrueInterest(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ratePerAccrual.IsZero() {
		return nil
	}
	before := fpmath.UnderlyingForShares(m.shares, m.rate)
	growth := fpmath.MulDiv(m.rate, m.ratePerAccrual, fpmath.RateScale, fpmath.RoundDown)
	m.rate = m.rate.Add(growth)
	after := fpmath.UnderlyingForShares(m.shares, m.rate)
	if after.GT(before) {
		m.token.Mint(m.market, after.Sub(before))
	}
	return nil
}

// SetRate overrides the exchange rate. The reserve is topped up when the
// rate rises.
func (m *MemoryMarket) SetRate(rate sdkmath.Uint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := fpmath.UnderlyingForShares(m.shares, m.rate)
	m.rate = rate
	after := fpmath.UnderlyingForShares(m.shares, m.rate)
	if after.GT(before) {
		m.token.Mint(m.market, after.Sub(before))
	}
}

func (m *MemoryMarket) ExchangeRateStored(_ context.Context) (sdkmath.Uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate, nil
}

func (m *MemoryMarket) Mint(ctx context.Context, amount sdkmath.Uint) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.token.Transfer(ctx, m.pool, m.market, amount); err != nil {
		return StatusTransferFailed, nil
	}
	m.shares = m.shares.Add(fpmath.SharesForUnderlying(amount, m.rate))
	return StatusOK, nil
}

func (m *MemoryMarket) RedeemUnderlying(ctx context.Context, amount sdkmath.Uint) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	burn := fpmath.SharesForUnderlying(amount, m.rate)
	if burn.GT(m.shares) {
		return StatusInsufficientShares, nil
	}
	if err := m.token.Transfer(ctx, m.market, m.pool, amount); err != nil {
		return StatusInsufficientCash, nil
	}
	m.shares = m.shares.Sub(burn)
	return StatusOK, nil
}

func (m *MemoryMarket) TotalSupply(_ context.Context) (sdkmath.Uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shares, nil
}

func (m *MemoryMarket) Underlying() Token {
	return m.token
}

// Seed gives the pool shares it held before a restart, minting the
// underlying that backs them at the current rate. Used when a simulated
// ledger is restored from a snapshot.
func (m *MemoryMarket) Seed(shares sdkmath.Uint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shares = m.shares.Add(shares)
	m.token.Mint(m.market, fpmath.UnderlyingForShares(shares, m.rate))
}

// Faucet hands out simulated underlying so local users can deposit.
type Faucet struct {
	token *MemoryToken
	pool  uuid.UUID
}

func NewFaucet(token *MemoryToken, pool uuid.UUID) *Faucet {
	return &Faucet{token: token, pool: pool}
}

// Fund mints amount to account and lets the pool pull any amount from it.
func (f *Faucet) Fund(ctx context.Context, account uuid.UUID, amount sdkmath.Uint) error {
	f.token.Mint(account, amount)
	return f.token.Approve(ctx, account, f.pool, fpmath.MaxUint256)
}
