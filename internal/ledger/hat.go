package ledger

import (
	fpmath "RedirectLedger/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// MaxHatRecipients caps the fan-out of a single beneficiary set.
const MaxHatRecipients = 50

// BeneficiarySet ("hat") is an immutable weighted recipient list. Weights are
// stored normalized so they sum to at most fpmath.WeightBase. Recipients need
// not be unique.
type BeneficiarySet struct {
	ID         uint64      `json:"id"`
	Recipients []uuid.UUID `json:"recipients"`
	Weights    []uint32    `json:"weights"`
}

// IsEmpty reports whether the set has no recipients (hat 0 and SelfHatID).
func (s BeneficiarySet) IsEmpty() bool {
	return len(s.Recipients) == 0
}

// Lists reports whether addr appears among the recipients.
func (s BeneficiarySet) Lists(addr uuid.UUID) bool {
	for _, r := range s.Recipients {
		if r == addr {
			return true
		}
	}
	return false
}

func (s BeneficiarySet) clone() BeneficiarySet {
	return BeneficiarySet{
		ID:         s.ID,
		Recipients: append([]uuid.UUID(nil), s.Recipients...),
		Weights:    append([]uint32(nil), s.Weights...),
	}
}

// HatRegistry is the append-only store of beneficiary sets. Index 0 is the
// reserved empty set; issued ids start at 1.
type HatRegistry struct {
	hats []BeneficiarySet
}

func NewHatRegistry() *HatRegistry {
	return &HatRegistry{
		hats: []BeneficiarySet{{ID: NoHatID}},
	}
}

// ValidateRecipients checks a recipient/weight pair without registering it.
func ValidateRecipients(recipients []uuid.UUID, weights []uint32) error {
	if len(recipients) == 0 {
		return fmt.Errorf("%w: no recipients", ErrInvalidBeneficiarySet)
	}
	if len(recipients) != len(weights) {
		return fmt.Errorf("%w: %d recipients but %d weights",
			ErrInvalidBeneficiarySet, len(recipients), len(weights))
	}
	if len(recipients) > MaxHatRecipients {
		return fmt.Errorf("%w: %d recipients exceeds limit %d",
			ErrInvalidBeneficiarySet, len(recipients), MaxHatRecipients)
	}
	for i, w := range weights {
		if w == 0 {
			return fmt.Errorf("%w: zero weight at index %d", ErrInvalidBeneficiarySet, i)
		}
		if recipients[i] == uuid.Nil {
			return fmt.Errorf("%w: nil recipient at index %d", ErrInvalidBeneficiarySet, i)
		}
	}
	return nil
}

// Create validates, normalizes and appends a new set, returning its id.
func (r *HatRegistry) Create(recipients []uuid.UUID, weights []uint32) (uint64, error) {
	if err := ValidateRecipients(recipients, weights); err != nil {
		return 0, err
	}

	id := uint64(len(r.hats))
	r.hats = append(r.hats, BeneficiarySet{
		ID:         id,
		Recipients: append([]uuid.UUID(nil), recipients...),
		Weights:    fpmath.NormalizeWeights(weights),
	})
	return id, nil
}

// Get returns a copy of the set with the given id. Ids 0 and SelfHatID
// resolve to the empty set.
func (r *HatRegistry) Get(id uint64) (BeneficiarySet, error) {
	if id == NoHatID || id == SelfHatID {
		return BeneficiarySet{ID: id}, nil
	}
	if id >= uint64(len(r.hats)) {
		return BeneficiarySet{}, fmt.Errorf("%w: %d", ErrUnknownHat, id)
	}
	return r.hats[id].clone(), nil
}

// Exists reports whether id may be selected by an account.
func (r *HatRegistry) Exists(id uint64) bool {
	return id == NoHatID || id == SelfHatID || id < uint64(len(r.hats))
}

// MaxID returns the highest issued hat id (0 when none issued).
func (r *HatRegistry) MaxID() uint64 {
	return uint64(len(r.hats) - 1)
}

// All returns copies of every issued set, excluding the reserved slot.
func (r *HatRegistry) All() []BeneficiarySet {
	out := make([]BeneficiarySet, 0, len(r.hats)-1)
	for _, h := range r.hats[1:] {
		out = append(out, h.clone())
	}
	return out
}

// Since returns copies of sets with id > after.
func (r *HatRegistry) Since(after uint64) []BeneficiarySet {
	var out []BeneficiarySet
	for id := after + 1; id < uint64(len(r.hats)); id++ {
		out = append(out, r.hats[id].clone())
	}
	return out
}

// Restore replaces the registry contents with already-normalized sets,
// which must carry contiguous ids starting at 1.
func (r *HatRegistry) Restore(sets []BeneficiarySet) error {
	hats := []BeneficiarySet{{ID: NoHatID}}
	for i, s := range sets {
		if s.ID != uint64(i+1) {
			return fmt.Errorf("restore hats: expected id %d, got %d", i+1, s.ID)
		}
		hats = append(hats, s.clone())
	}
	r.hats = hats
	return nil
}

func (r *HatRegistry) truncate(maxID uint64) {
	r.hats = r.hats[:maxID+1]
}
