package event

import (
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// Withdraw burns redeemable balance from Account and sends the same amount
// of underlying to Recipient (Account itself when Recipient is nil). All
// withdraws the full balance and ignores Amount.
type Withdraw struct {
	Meta
	Account   uuid.UUID    `json:"account"`
	Amount    sdkmath.Uint `json:"amount"`
	All       bool         `json:"all,omitempty"`
	Recipient uuid.UUID    `json:"recipient,omitempty"`
}

func (w *Withdraw) EventType() EventType {
	return EventTypeWithdraw
}

func (w *Withdraw) Initiator() uuid.UUID {
	return w.Account
}

// Destination returns where the underlying goes.
func (w *Withdraw) Destination() uuid.UUID {
	if w.Recipient == uuid.Nil {
		return w.Account
	}
	return w.Recipient
}
