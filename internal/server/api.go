package server

import (
	"RedirectLedger/internal/query"
	"encoding/json"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// Empty is the request of parameterless methods.
type Empty struct{}

type AccountRequest struct {
	Account string `json:"account"`
}

type AllowanceRequest struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
}

type HatRequest struct {
	HatID uint64 `json:"hat_id"`
}

// HistoryRequest pages through an account's history. BeforeSequence is a
// cursor: only entries below it are returned.
type HistoryRequest struct {
	Account        string `json:"account"`
	Limit          int    `json:"limit,omitempty"`
	BeforeSequence *int64 `json:"before_sequence,omitempty"`
}

type ListLoansResponse struct {
	Loans []query.LoanEntry `json:"loans"`
}

type ListEventsResponse struct {
	Events []query.EventHistoryEntry `json:"events"`
	// NextBeforeSequence continues the listing; absent on the last page.
	NextBeforeSequence *int64 `json:"next_before_sequence,omitempty"`
}

// SubmitCommandRequest carries one command in its wire JSON form.
type SubmitCommandRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

type TakeSnapshotResponse struct {
	Sequence int64 `json:"sequence"`
}

type RebuildProjectionsResponse struct {
	Watermark int64 `json:"watermark"`
}

type EventLogInfoResponse struct {
	LastSequence       int64 `json:"last_sequence"`
	LiveSequence       int64 `json:"live_sequence"`
	ProjectionSequence int64 `json:"projection_sequence"`
	SnapshotSequence   int64 `json:"snapshot_sequence"`
	UptimeSeconds      int64 `json:"uptime_seconds"`
}

// FaucetRequest asks for Amount (a decimal string) of simulated underlying.
type FaucetRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type FaucetResponse struct {
	Account uuid.UUID    `json:"account"`
	Amount  sdkmath.Uint `json:"amount"`
}
