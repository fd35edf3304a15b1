package ledger

import (
	"bytes"
	stdmath "math"
	"sort"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

const (
	// NoHatID marks an account that has never chosen a hat. Its yield accrues
	// to itself, and it can inherit a hat on its first incoming transfer.
	NoHatID uint64 = 0

	// SelfHatID marks an account that explicitly opted out of redirection.
	// It behaves like NoHatID for accrual but is never inherited.
	SelfHatID uint64 = stdmath.MaxUint64
)

// AccountStats holds per-account statistics that never feed back into
// balance computations.
type AccountStats struct {
	CumulativeInterest sdkmath.Uint `json:"cumulative_interest"`
}

// Account is the per-address ledger record.
//
// LoanedTo is keyed by recipient and tracks the principal this account has
// directed to each recipient. LoanedDebt is the aggregate principal the
// account has received, from others or from itself. The two maps are
// independent: recipient-side accounting never reads LoanedTo.
type Account struct {
	HatID                  uint64                     `json:"hat_id"`
	Redeemable             sdkmath.Uint               `json:"redeemable"`
	RedeemableFromInterest sdkmath.Uint               `json:"redeemable_from_interest"`
	LoanedTo               map[uuid.UUID]sdkmath.Uint `json:"loaned_to"`
	LoanedDebt             sdkmath.Uint               `json:"loaned_debt"`
	InvestedShare          sdkmath.Uint               `json:"invested_share"`
	Stats                  AccountStats               `json:"stats"`
}

// NewAccount returns a zero-valued account with hat 0.
func NewAccount() *Account {
	return &Account{
		HatID:                  NoHatID,
		Redeemable:             sdkmath.ZeroUint(),
		RedeemableFromInterest: sdkmath.ZeroUint(),
		LoanedTo:               make(map[uuid.UUID]sdkmath.Uint),
		LoanedDebt:             sdkmath.ZeroUint(),
		InvestedShare:          sdkmath.ZeroUint(),
		Stats:                  AccountStats{CumulativeInterest: sdkmath.ZeroUint()},
	}
}

// LoanedToRecipient returns the principal loaned to recipient (zero if none).
func (a *Account) LoanedToRecipient(recipient uuid.UUID) sdkmath.Uint {
	if v, ok := a.LoanedTo[recipient]; ok {
		return v
	}
	return sdkmath.ZeroUint()
}

// AddLoanedTo increases the principal loaned to recipient.
func (a *Account) AddLoanedTo(recipient uuid.UUID, amount sdkmath.Uint) {
	if amount.IsZero() {
		return
	}
	a.LoanedTo[recipient] = a.LoanedToRecipient(recipient).Add(amount)
}

// ReduceLoanedTo decreases the principal loaned to recipient, clamped at
// zero. Zero entries are removed.
func (a *Account) ReduceLoanedTo(recipient uuid.UUID, amount sdkmath.Uint) {
	current := a.LoanedToRecipient(recipient)
	if amount.GTE(current) {
		delete(a.LoanedTo, recipient)
		return
	}
	a.LoanedTo[recipient] = current.Sub(amount)
}

// TotalLoanedOut sums LoanedTo over all recipients.
func (a *Account) TotalLoanedOut() sdkmath.Uint {
	total := sdkmath.ZeroUint()
	for _, v := range a.LoanedTo {
		total = total.Add(v)
	}
	return total
}

// Recipients returns the LoanedTo keys in byte order.
func (a *Account) Recipients() []uuid.UUID {
	keys := make([]uuid.UUID, 0, len(a.LoanedTo))
	for k := range a.LoanedTo {
		keys = append(keys, k)
	}
	SortAddresses(keys)
	return keys
}

// Clone returns a deep copy. Uint values are immutable so only the map needs
// copying.
func (a *Account) Clone() *Account {
	c := *a
	c.LoanedTo = make(map[uuid.UUID]sdkmath.Uint, len(a.LoanedTo))
	for k, v := range a.LoanedTo {
		c.LoanedTo[k] = v
	}
	return &c
}

// IsEmpty reports whether the account carries no balances and no hat.
func (a *Account) IsEmpty() bool {
	return a.HatID == NoHatID &&
		a.Redeemable.IsZero() &&
		a.RedeemableFromInterest.IsZero() &&
		len(a.LoanedTo) == 0 &&
		a.LoanedDebt.IsZero() &&
		a.InvestedShare.IsZero() &&
		a.Stats.CumulativeInterest.IsZero()
}

// SortAddresses orders addresses by their byte representation.
func SortAddresses(addrs []uuid.UUID) {
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})
}
