package ledger

import (
	"bytes"
	"fmt"
	"sort"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// State is the ledger context object handed to the redistribution engine:
// the account store and the hat registry, plus transaction control over
// both.
type State struct {
	Accounts *AccountLedger
	Hats     *HatRegistry
}

func NewState() *State {
	return &State{
		Accounts: NewAccountLedger(),
		Hats:     NewHatRegistry(),
	}
}

// InTransaction reports whether Begin has been called without a matching
// Commit or Rollback.
func (s *State) InTransaction() bool {
	return s.Accounts.journal != nil
}

// Begin opens a transaction. Transactions do not nest.
func (s *State) Begin() error {
	if s.Accounts.journal != nil {
		return fmt.Errorf("begin: transaction already open")
	}
	s.Accounts.journal = newJournal(s.Hats.MaxID())
	return nil
}

// Commit closes the transaction and reports what it touched.
func (s *State) Commit() (*ChangeSet, error) {
	j := s.Accounts.journal
	if j == nil {
		return nil, ErrNoTransaction
	}
	s.Accounts.journal = nil

	cs := &ChangeSet{
		Accounts: append([]uuid.UUID(nil), j.order...),
		NewHats:  s.Hats.Since(j.hatMaxID),
	}
	SortAddresses(cs.Accounts)

	for key := range j.allowances {
		cs.Allowances = append(cs.Allowances, key)
	}
	sort.Slice(cs.Allowances, func(a, b int) bool {
		return allowanceLess(cs.Allowances[a], cs.Allowances[b])
	})

	return cs, nil
}

// Rollback restores every pre-image recorded since Begin.
func (s *State) Rollback() error {
	j := s.Accounts.journal
	if j == nil {
		return ErrNoTransaction
	}
	s.Accounts.journal = nil

	for addr, pre := range j.accounts {
		if pre == nil {
			delete(s.Accounts.accounts, addr)
			continue
		}
		s.Accounts.accounts[addr] = pre
	}
	for key, pre := range j.allowances {
		if pre == nil {
			delete(s.Accounts.allowances, key)
			continue
		}
		s.Accounts.allowances[key] = *pre
	}
	if j.supplyRecorded {
		s.Accounts.totalSupply = j.totalSupply
	}
	s.Hats.truncate(j.hatMaxID)
	return nil
}

// --- Snapshot export / import ---

// AllowanceEntry is the serialized form of one allowance.
type AllowanceEntry struct {
	Owner   uuid.UUID    `json:"owner"`
	Spender uuid.UUID    `json:"spender"`
	Amount  sdkmath.Uint `json:"amount"`
}

// Snapshot is the full serializable ledger state.
type Snapshot struct {
	TotalSupply sdkmath.Uint           `json:"total_supply"`
	Accounts    map[uuid.UUID]*Account `json:"accounts"`
	Allowances  []AllowanceEntry       `json:"allowances"`
	Hats        []BeneficiarySet       `json:"hats"`
}

// Export deep-copies the current state. Must not be called inside a
// transaction.
func (s *State) Export() *Snapshot {
	snap := &Snapshot{
		TotalSupply: s.Accounts.totalSupply,
		Accounts:    make(map[uuid.UUID]*Account, len(s.Accounts.accounts)),
		Hats:        s.Hats.All(),
	}
	for addr, acct := range s.Accounts.accounts {
		snap.Accounts[addr] = acct.Clone()
	}
	for key, amount := range s.Accounts.allowances {
		snap.Allowances = append(snap.Allowances, AllowanceEntry{
			Owner:   key.Owner,
			Spender: key.Spender,
			Amount:  amount,
		})
	}
	sort.Slice(snap.Allowances, func(a, b int) bool {
		ka := AllowanceKey{Owner: snap.Allowances[a].Owner, Spender: snap.Allowances[a].Spender}
		kb := AllowanceKey{Owner: snap.Allowances[b].Owner, Spender: snap.Allowances[b].Spender}
		return allowanceLess(ka, kb)
	})
	return snap
}

// Import replaces the state with a snapshot and verifies that the recorded
// total supply matches the sum of balances.
func (s *State) Import(snap *Snapshot) error {
	if s.InTransaction() {
		return fmt.Errorf("import: transaction open")
	}

	accounts := NewAccountLedger()
	sum := sdkmath.ZeroUint()
	for addr, acct := range snap.Accounts {
		c := acct.Clone()
		if c.LoanedTo == nil {
			c.LoanedTo = make(map[uuid.UUID]sdkmath.Uint)
		}
		accounts.accounts[addr] = c
		sum = sum.Add(c.Redeemable)
	}
	if !sum.Equal(snap.TotalSupply) {
		return fmt.Errorf("import: balances sum to %s but total supply is %s", sum, snap.TotalSupply)
	}
	accounts.totalSupply = snap.TotalSupply
	for _, a := range snap.Allowances {
		accounts.allowances[AllowanceKey{Owner: a.Owner, Spender: a.Spender}] = a.Amount
	}

	hats := NewHatRegistry()
	if err := hats.Restore(snap.Hats); err != nil {
		return fmt.Errorf("import: %w", err)
	}

	s.Accounts = accounts
	s.Hats = hats
	return nil
}

func allowanceLess(a, b AllowanceKey) bool {
	if c := bytes.Compare(a.Owner[:], b.Owner[:]); c != 0 {
		return c < 0
	}
	return bytes.Compare(a.Spender[:], b.Spender[:]) < 0
}
