package event

import "github.com/google/uuid"

// CreateHat registers a beneficiary set. With Apply set, Creator switches
// to the new hat in the same operation.
type CreateHat struct {
	Meta
	Creator uuid.UUID `json:"creator"`
	HatSpec
	Apply bool `json:"apply,omitempty"`
}

func (c *CreateHat) EventType() EventType {
	return EventTypeCreateHat
}

func (c *CreateHat) Initiator() uuid.UUID {
	return c.Creator
}

// ChangeHat switches Account to an existing hat.
type ChangeHat struct {
	Meta
	Account uuid.UUID `json:"account"`
	HatID   uint64    `json:"hat_id"`
}

func (c *ChangeHat) EventType() EventType {
	return EventTypeChangeHat
}

func (c *ChangeHat) Initiator() uuid.UUID {
	return c.Account
}
