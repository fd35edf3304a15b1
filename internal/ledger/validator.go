package ledger

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	state *State
}

func NewInvariantValidator(state *State) *InvariantValidator {
	return &InvariantValidator{
		state: state,
	}
}

// ValidateInterestPortion verifies redeemableFromInterest <= redeemable.
func (v *InvariantValidator) ValidateInterestPortion(addr uuid.UUID) error {
	acct, ok := v.state.Accounts.Peek(addr)
	if !ok {
		return nil
	}
	if acct.RedeemableFromInterest.GT(acct.Redeemable) {
		return fmt.Errorf("account %s: interest portion %s exceeds redeemable %s",
			addr, acct.RedeemableFromInterest, acct.Redeemable)
	}
	return nil
}

// ValidateLoanCoverage verifies sum(loanedTo) <= redeemable.
//
// Recollect clamps each per-recipient decrement at zero and drops the
// excess. Once the last recipient's entry is exhausted, later recollects
// stop reducing the loan map while the balance keeps falling, so the sum
// can exceed redeemable. Callers report a failure here as drift.
func (v *InvariantValidator) ValidateLoanCoverage(addr uuid.UUID) error {
	acct, ok := v.state.Accounts.Peek(addr)
	if !ok {
		return nil
	}
	loaned := acct.TotalLoanedOut()
	if loaned.GT(acct.Redeemable) {
		return fmt.Errorf("account %s: loaned out %s exceeds redeemable %s",
			addr, loaned, acct.Redeemable)
	}
	return nil
}

// ValidateTotalSupply verifies sum(redeemable) == totalSupply.
func (v *InvariantValidator) ValidateTotalSupply() error {
	sum := sdkmath.ZeroUint()
	for _, addr := range v.state.Accounts.Addresses() {
		acct, _ := v.state.Accounts.Peek(addr)
		sum = sum.Add(acct.Redeemable)
	}
	if supply := v.state.Accounts.TotalSupply(); !sum.Equal(supply) {
		return fmt.Errorf("balances sum to %s but total supply is %s", sum, supply)
	}
	return nil
}

// ShareReserve compares the shares assigned to accounts with the shares the
// protocol reports for the pool. reserve is the unassigned remainder;
// deficit is non-zero when accounts claim more shares than exist.
func (v *InvariantValidator) ShareReserve(totalInvestedShares sdkmath.Uint) (reserve, deficit sdkmath.Uint) {
	assigned := sdkmath.ZeroUint()
	for _, addr := range v.state.Accounts.Addresses() {
		acct, _ := v.state.Accounts.Peek(addr)
		assigned = assigned.Add(acct.InvestedShare)
	}
	if assigned.GT(totalInvestedShares) {
		return sdkmath.ZeroUint(), assigned.Sub(totalInvestedShares)
	}
	return totalInvestedShares.Sub(assigned), sdkmath.ZeroUint()
}
