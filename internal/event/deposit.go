package event

import (
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// HatSpec describes a beneficiary set to create inline.
type HatSpec struct {
	Recipients []uuid.UUID `json:"recipients"`
	Weights    []uint32    `json:"weights"`
}

// Deposit pulls Amount of underlying from Account and credits the same
// amount of redeemable balance. Optionally selects an existing hat (HatID)
// or creates and selects a new one (NewHat) first; at most one of the two
// may be set.
type Deposit struct {
	Meta
	Account uuid.UUID    `json:"account"`
	Amount  sdkmath.Uint `json:"amount"`
	HatID   *uint64      `json:"hat_id,omitempty"`
	NewHat  *HatSpec     `json:"new_hat,omitempty"`
}

func (d *Deposit) EventType() EventType {
	return EventTypeDeposit
}

func (d *Deposit) Initiator() uuid.UUID {
	return d.Account
}

// PayInterest realizes the interest payable to Account.
type PayInterest struct {
	Meta
	Account uuid.UUID `json:"account"`
}

func (p *PayInterest) EventType() EventType {
	return EventTypePayInterest
}

func (p *PayInterest) Initiator() uuid.UUID {
	return p.Account
}
