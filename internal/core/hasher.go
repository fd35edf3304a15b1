package core

import (
	"RedirectLedger/internal/ledger"
	"crypto/sha256"
	"encoding/binary"

	sdkmath "cosmossdk.io/math"
)

const GenesisHashSeed = "RedirectLedger:genesis:v1"

// StateHasher computes deterministic state hashes
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	genesis := sha256.Sum256([]byte(GenesisHashSeed))
	return &StateHasher{
		prevHash: genesis,
	}
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || state_digest)
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))

	h.prevHash = hash

	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash resets the chain tip (snapshot restore)
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}

func (c *LedgerFacade) computeStateDigest(changes *ledger.ChangeSet) []byte {
	return ComputeStateDigest(c.state, changes)
}

// ComputeStateDigest creates canonical bytes for the accounts, allowances
// and hats a change set touched, in their post-operation state.
func ComputeStateDigest(st *ledger.State, changes *ledger.ChangeSet) []byte {
	digest := make([]byte, 0, len(changes.Accounts)*128)

	// changes.Accounts is already in byte order
	for _, addr := range changes.Accounts {
		digest = append(digest, addr[:]...)

		acct, ok := st.Accounts.Peek(addr)
		if !ok {
			digest = append(digest, 0)
			continue
		}
		digest = append(digest, 1)
		digest = appendUint64LE(digest, acct.HatID)
		digest = appendUint(digest, acct.Redeemable)
		digest = appendUint(digest, acct.RedeemableFromInterest)
		digest = appendUint(digest, acct.LoanedDebt)
		digest = appendUint(digest, acct.InvestedShare)
		digest = appendUint(digest, acct.Stats.CumulativeInterest)

		recipients := acct.Recipients()
		digest = appendUint64LE(digest, uint64(len(recipients)))
		for _, r := range recipients {
			digest = append(digest, r[:]...)
			digest = appendUint(digest, acct.LoanedTo[r])
		}
	}

	for _, key := range changes.Allowances {
		digest = append(digest, key.Owner[:]...)
		digest = append(digest, key.Spender[:]...)
		digest = appendUint(digest, st.Accounts.Allowance(key.Owner, key.Spender))
	}

	for _, hat := range changes.NewHats {
		digest = appendUint64LE(digest, hat.ID)
		digest = appendUint64LE(digest, uint64(len(hat.Recipients)))
		for i, r := range hat.Recipients {
			digest = append(digest, r[:]...)
			digest = binary.LittleEndian.AppendUint32(digest, hat.Weights[i])
		}
	}

	digest = appendUint(digest, st.Accounts.TotalSupply())
	return digest
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, v)
}

// appendUint writes a length-prefixed big-endian magnitude.
func appendUint(buf []byte, v sdkmath.Uint) []byte {
	b := v.BigInt().Bytes()
	buf = append(buf, byte(len(b)))
	return append(buf, b...)
}
