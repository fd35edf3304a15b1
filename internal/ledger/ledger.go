package ledger

import (
	fpmath "RedirectLedger/internal/math"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// AllowanceKey identifies a delegated-transfer allowance.
type AllowanceKey struct {
	Owner   uuid.UUID `json:"owner"`
	Spender uuid.UUID `json:"spender"`
}

// AccountLedger is the in-memory account store. It is not safe for
// concurrent use; the facade serializes every access.
type AccountLedger struct {
	accounts    map[uuid.UUID]*Account
	allowances  map[AllowanceKey]sdkmath.Uint
	totalSupply sdkmath.Uint

	journal *Journal // non-nil while a transaction is open
}

func NewAccountLedger() *AccountLedger {
	return &AccountLedger{
		accounts:    make(map[uuid.UUID]*Account),
		allowances:  make(map[AllowanceKey]sdkmath.Uint),
		totalSupply: sdkmath.ZeroUint(),
	}
}

// Get returns the mutable account for addr, creating it on first access.
// Inside a transaction the pre-image is journaled before the caller can
// mutate it.
func (l *AccountLedger) Get(addr uuid.UUID) *Account {
	acct, ok := l.accounts[addr]
	if l.journal != nil {
		l.journal.recordAccount(addr, acct, ok)
	}
	if !ok {
		acct = NewAccount()
		l.accounts[addr] = acct
	}
	return acct
}

// Peek returns the account without creating it. Callers must not mutate it.
func (l *AccountLedger) Peek(addr uuid.UUID) (*Account, bool) {
	acct, ok := l.accounts[addr]
	return acct, ok
}

// HatOf returns the account's hat id (NoHatID for unknown accounts).
func (l *AccountLedger) HatOf(addr uuid.UUID) uint64 {
	if acct, ok := l.accounts[addr]; ok {
		return acct.HatID
	}
	return NoHatID
}

// BalanceOf returns the redeemable balance (zero for unknown accounts).
func (l *AccountLedger) BalanceOf(addr uuid.UUID) sdkmath.Uint {
	if acct, ok := l.accounts[addr]; ok {
		return acct.Redeemable
	}
	return sdkmath.ZeroUint()
}

// SetHat assigns a hat id. No redistribution happens here.
func (l *AccountLedger) SetHat(addr uuid.UUID, hatID uint64) {
	l.Get(addr).HatID = hatID
}

// TotalSupply returns the sum of all redeemable balances.
func (l *AccountLedger) TotalSupply() sdkmath.Uint {
	return l.totalSupply
}

// Credit mints redeemable units to addr.
func (l *AccountLedger) Credit(addr uuid.UUID, amount sdkmath.Uint) {
	acct := l.Get(addr)
	acct.Redeemable = acct.Redeemable.Add(amount)
	l.setSupply(l.totalSupply.Add(amount))
}

// Debit burns redeemable units from addr and clamps the interest-sourced
// portion to the new balance.
func (l *AccountLedger) Debit(addr uuid.UUID, amount sdkmath.Uint) error {
	if l.BalanceOf(addr).LT(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s",
			ErrInsufficientBalance, addr, l.BalanceOf(addr), amount)
	}
	acct := l.Get(addr)
	acct.Redeemable = acct.Redeemable.Sub(amount)
	clampInterest(acct)
	l.setSupply(l.totalSupply.Sub(amount))
	return nil
}

// Move transfers redeemable units between two accounts. Total supply is
// unchanged. Only the source's interest-sourced portion is clamped; the
// destination receives plain principal.
func (l *AccountLedger) Move(src, dst uuid.UUID, amount sdkmath.Uint) error {
	if l.BalanceOf(src).LT(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s",
			ErrInsufficientBalance, src, l.BalanceOf(src), amount)
	}
	from := l.Get(src)
	from.Redeemable = from.Redeemable.Sub(amount)
	clampInterest(from)

	to := l.Get(dst)
	to.Redeemable = to.Redeemable.Add(amount)
	return nil
}

// ComputeInterestPayable returns the interest owed to addr at the given
// exchange rate:
//
//	investedShare * rate / 1e18 - loanedDebt - redeemableFromInterest
//
// floored at zero.
func (l *AccountLedger) ComputeInterestPayable(addr uuid.UUID, rate sdkmath.Uint) sdkmath.Uint {
	acct, ok := l.accounts[addr]
	if !ok {
		return sdkmath.ZeroUint()
	}
	gross := fpmath.UnderlyingForShares(acct.InvestedShare, rate)
	owed := acct.LoanedDebt.Add(acct.RedeemableFromInterest)
	return fpmath.SaturatingSub(gross, owed)
}

// ApplyInterest books realized interest: redeemable, the interest-sourced
// portion, total supply and cumulative interest all rise by amount.
func (l *AccountLedger) ApplyInterest(addr uuid.UUID, amount sdkmath.Uint) {
	if amount.IsZero() {
		return
	}
	acct := l.Get(addr)
	acct.Redeemable = acct.Redeemable.Add(amount)
	acct.RedeemableFromInterest = acct.RedeemableFromInterest.Add(amount)
	acct.Stats.CumulativeInterest = acct.Stats.CumulativeInterest.Add(amount)
	l.setSupply(l.totalSupply.Add(amount))
}

// Allowance returns how much spender may move on behalf of owner.
func (l *AccountLedger) Allowance(owner, spender uuid.UUID) sdkmath.Uint {
	if v, ok := l.allowances[AllowanceKey{Owner: owner, Spender: spender}]; ok {
		return v
	}
	return sdkmath.ZeroUint()
}

// Approve sets the allowance. A zero amount removes the entry.
func (l *AccountLedger) Approve(owner, spender uuid.UUID, amount sdkmath.Uint) {
	key := AllowanceKey{Owner: owner, Spender: spender}
	if l.journal != nil {
		l.journal.recordAllowance(key, l.allowances)
	}
	if amount.IsZero() {
		delete(l.allowances, key)
		return
	}
	l.allowances[key] = amount
}

// SpendAllowance consumes amount from the allowance. The max-uint allowance
// is infinite and never decremented.
func (l *AccountLedger) SpendAllowance(owner, spender uuid.UUID, amount sdkmath.Uint) error {
	current := l.Allowance(owner, spender)
	if current.Equal(fpmath.MaxUint256) {
		return nil
	}
	if current.LT(amount) {
		return fmt.Errorf("%w: %s may spend %s of %s, needs %s",
			ErrInsufficientAllowance, spender, current, owner, amount)
	}
	l.Approve(owner, spender, current.Sub(amount))
	return nil
}

// Addresses returns every known account address in byte order.
func (l *AccountLedger) Addresses() []uuid.UUID {
	addrs := make([]uuid.UUID, 0, len(l.accounts))
	for addr := range l.accounts {
		addrs = append(addrs, addr)
	}
	SortAddresses(addrs)
	return addrs
}

// Len returns the number of known accounts.
func (l *AccountLedger) Len() int {
	return len(l.accounts)
}

func (l *AccountLedger) setSupply(v sdkmath.Uint) {
	if l.journal != nil {
		l.journal.recordSupply(l.totalSupply)
	}
	l.totalSupply = v
}

func clampInterest(acct *Account) {
	if acct.RedeemableFromInterest.GT(acct.Redeemable) {
		acct.RedeemableFromInterest = acct.Redeemable
	}
}
