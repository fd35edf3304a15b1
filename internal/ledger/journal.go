package ledger

import (
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// Journal is the undo log of one ledger transaction. It holds the
// pre-image of everything the transaction touched so Rollback can restore
// it exactly.
type Journal struct {
	accounts   map[uuid.UUID]*Account         // nil value: account did not exist
	allowances map[AllowanceKey]*sdkmath.Uint // nil value: no allowance entry
	order      []uuid.UUID                    // touch order, for change sets

	supplyRecorded bool
	totalSupply    sdkmath.Uint
	hatMaxID       uint64
}

func newJournal(hatMaxID uint64) *Journal {
	return &Journal{
		accounts:   make(map[uuid.UUID]*Account),
		allowances: make(map[AllowanceKey]*sdkmath.Uint),
		hatMaxID:   hatMaxID,
	}
}

func (j *Journal) recordAccount(addr uuid.UUID, acct *Account, existed bool) {
	if _, seen := j.accounts[addr]; seen {
		return
	}
	j.order = append(j.order, addr)
	if !existed {
		j.accounts[addr] = nil
		return
	}
	j.accounts[addr] = acct.Clone()
}

func (j *Journal) recordAllowance(key AllowanceKey, current map[AllowanceKey]sdkmath.Uint) {
	if _, seen := j.allowances[key]; seen {
		return
	}
	if v, ok := current[key]; ok {
		j.allowances[key] = &v
		return
	}
	j.allowances[key] = nil
}

func (j *Journal) recordSupply(v sdkmath.Uint) {
	if j.supplyRecorded {
		return
	}
	j.supplyRecorded = true
	j.totalSupply = v
}

// ChangeSet lists what a committed transaction touched.
type ChangeSet struct {
	Accounts   []uuid.UUID      // sorted by byte order
	Allowances []AllowanceKey   // sorted by owner, then spender
	NewHats    []BeneficiarySet // hats created by the transaction
}

// IsEmpty reports whether nothing was touched.
func (c *ChangeSet) IsEmpty() bool {
	return len(c.Accounts) == 0 && len(c.Allowances) == 0 && len(c.NewHats) == 0
}
