package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for command payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDeposit
	EventTypeWithdraw
	EventTypeTransfer
	EventTypeApprove
	EventTypeCreateHat
	EventTypeChangeHat
	EventTypePayInterest
)

// EventEnvelope wraps every applied operation in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key (operation id)
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Account that initiated the operation
	Account uuid.UUID

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream producer and its ordering key (empty / 0 when unsequenced)
	Source         string
	SourceSequence int64

	// JSON-encoded command
	Payload []byte

	// SHA-256 of state AFTER applying this operation
	StateHash [32]byte

	// Previous operation's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface every ledger command implements
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Initiator returns the account on whose authority the command runs
	Initiator() uuid.UUID

	// SourceName returns the upstream producer ("" for direct calls)
	SourceName() string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// OccurredAt returns the versioned input timestamp
	OccurredAt() time.Time
}

// Meta carries the fields shared by every command.
type Meta struct {
	OperationID uuid.UUID `json:"operation_id"`
	Source      string    `json:"source,omitempty"`
	Sequence    int64     `json:"sequence,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func (m *Meta) IdempotencyKey() string {
	return m.OperationID.String()
}

func (m *Meta) SourceName() string {
	return m.Source
}

func (m *Meta) SourceSequence() int64 {
	return m.Sequence
}

func (m *Meta) OccurredAt() time.Time {
	return m.Timestamp
}

func (et EventType) String() string {
	switch et {
	case EventTypeDeposit:
		return "Deposit"
	case EventTypeWithdraw:
		return "Withdraw"
	case EventTypeTransfer:
		return "Transfer"
	case EventTypeApprove:
		return "Approve"
	case EventTypeCreateHat:
		return "CreateHat"
	case EventTypeChangeHat:
		return "ChangeHat"
	case EventTypePayInterest:
		return "PayInterest"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(s string) EventType {
	for et := EventTypeDeposit; et <= EventTypePayInterest; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}
