package query

import (
	"RedirectLedger/internal/projection"
	"encoding/json"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// HatResponse describes a beneficiary set. Weights are the stored,
// normalized weights.
type HatResponse struct {
	HatID        uint64      `json:"hat_id"`
	Recipients   []uuid.UUID `json:"recipients"`
	Weights      []uint32    `json:"weights"`
	AsOfSequence int64       `json:"as_of_sequence"`
}

// GlobalStatsResponse is the pool-wide view.
type GlobalStatsResponse struct {
	TotalSupply        sdkmath.Uint `json:"total_supply"`
	TotalSavingsAmount sdkmath.Uint `json:"total_savings_amount"`
	InvestedShares     sdkmath.Uint `json:"invested_shares"`
	MaximumHatID       uint64       `json:"maximum_hat_id"`
	StateHash          string       `json:"state_hash"`
	AsOfSequence       int64        `json:"as_of_sequence"`
}

// EventHistoryEntry is one persisted operation initiated by an account.
type EventHistoryEntry struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Source         string          `json:"source,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// InterestHistoryResponse lists recently realized interest for an account.
type InterestHistoryResponse struct {
	Account uuid.UUID                  `json:"account"`
	Entries []projection.InterestEntry `json:"entries"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`

	// Set when the persisted supply projection disagrees with live state.
	SupplyMismatch *SupplyMismatch `json:"supply_mismatch,omitempty"`

	// Set when the in-memory ledger fails its own supply check.
	LiveSupplyError string `json:"live_supply_error,omitempty"`
}

type SupplyMismatch struct {
	Live      sdkmath.Uint `json:"live"`
	Projected sdkmath.Uint `json:"projected"`
}
