package query

import (
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// BalanceResponse is an account's redeemable balance plus the derived
// redirection figures, all read from live state at AsOfSequence.
type BalanceResponse struct {
	Account uuid.UUID `json:"account"`
	HatID   uint64    `json:"hat_id"`

	// Ledger values
	Balance            sdkmath.Uint `json:"balance"`
	ReceivedLoan       sdkmath.Uint `json:"received_loan"`
	CumulativeInterest sdkmath.Uint `json:"cumulative_interest"`

	// Derived at query time from the stored exchange rate
	ReceivedSavings sdkmath.Uint `json:"received_savings"`
	InterestPayable sdkmath.Uint `json:"interest_payable"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// LoanEntry is one directed loan from the loans projection.
type LoanEntry struct {
	Owner     uuid.UUID    `json:"owner"`
	Recipient uuid.UUID    `json:"recipient"`
	Amount    sdkmath.Uint `json:"amount"`
	Sequence  int64        `json:"last_sequence"`
}

// AllowanceResponse is the live allowance for one owner/spender pair.
type AllowanceResponse struct {
	Owner        uuid.UUID    `json:"owner"`
	Spender      uuid.UUID    `json:"spender"`
	Amount       sdkmath.Uint `json:"amount"`
	AsOfSequence int64        `json:"as_of_sequence"`
}
