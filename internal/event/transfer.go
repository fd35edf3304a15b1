package event

import (
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// Transfer moves redeemable balance from Src to Dst. When Spender is set
// and differs from Src, the move consumes Src's allowance to Spender.
type Transfer struct {
	Meta
	Spender uuid.UUID    `json:"spender,omitempty"`
	Src     uuid.UUID    `json:"src"`
	Dst     uuid.UUID    `json:"dst"`
	Amount  sdkmath.Uint `json:"amount"`
	All     bool         `json:"all,omitempty"`
}

func (t *Transfer) EventType() EventType {
	return EventTypeTransfer
}

func (t *Transfer) Initiator() uuid.UUID {
	if t.Spender != uuid.Nil {
		return t.Spender
	}
	return t.Src
}

// Delegated reports whether the transfer runs on an allowance.
func (t *Transfer) Delegated() bool {
	return t.Spender != uuid.Nil && t.Spender != t.Src
}

// Approve sets Owner's allowance for Spender.
type Approve struct {
	Meta
	Owner   uuid.UUID    `json:"owner"`
	Spender uuid.UUID    `json:"spender"`
	Amount  sdkmath.Uint `json:"amount"`
}

func (a *Approve) EventType() EventType {
	return EventTypeApprove
}

func (a *Approve) Initiator() uuid.UUID {
	return a.Owner
}
