package persistence

import (
	"RedirectLedger/internal/core"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// CoreOutput is one operation's worth of rows, written in a single
// transaction with the rest of its batch.
type CoreOutput struct {
	EventRow      EventRow
	AccountRows   []AccountChangeRow
	AllowanceRows []AllowanceChangeRow
	HatRows       []HatRow
}

// RowsFromOutput converts a facade output into event log rows.
func RowsFromOutput(out core.CoreOutput) CoreOutput {
	env := out.Envelope
	rows := CoreOutput{
		EventRow: EventRow{
			Sequence:       env.Sequence,
			EventType:      env.EventType.String(),
			IdempotencyKey: env.IdempotencyKey,
			Account:        env.Account.String(),
			Source:         env.Source,
			Payload:        env.Payload,
			StateHash:      append([]byte(nil), env.StateHash[:]...),
			PrevHash:       append([]byte(nil), env.PrevHash[:]...),
			Timestamp:      env.Timestamp,
			SourceSequence: env.SourceSequence,
		},
	}

	if out.Changes == nil {
		return rows
	}

	for _, addr := range out.Changes.Accounts {
		acct, ok := out.Accounts[addr]
		if !ok {
			continue
		}
		loanedTo := make(map[string]string, len(acct.LoanedTo))
		for r, amt := range acct.LoanedTo {
			loanedTo[r.String()] = amt.String()
		}
		rows.AccountRows = append(rows.AccountRows, AccountChangeRow{
			Sequence:               env.Sequence,
			Account:                addr.String(),
			HatID:                  acct.HatID,
			Redeemable:             acct.Redeemable.String(),
			RedeemableFromInterest: acct.RedeemableFromInterest.String(),
			LoanedDebt:             acct.LoanedDebt.String(),
			InvestedShare:          acct.InvestedShare.String(),
			CumulativeInterest:     acct.Stats.CumulativeInterest.String(),
			LoanedTo:               MarshalPayload(loanedTo),
		})
	}

	for _, a := range out.Allowances {
		rows.AllowanceRows = append(rows.AllowanceRows, AllowanceChangeRow{
			Sequence: env.Sequence,
			Owner:    a.Owner.String(),
			Spender:  a.Spender.String(),
			Amount:   a.Amount.String(),
		})
	}

	for _, hat := range out.Changes.NewHats {
		rows.HatRows = append(rows.HatRows, HatRow{
			HatID:      hat.ID,
			Sequence:   env.Sequence,
			Recipients: MarshalPayload(addressStrings(hat.Recipients)),
			Weights:    MarshalPayload(hat.Weights),
		})
	}
	return rows
}

func addressStrings(addrs []uuid.UUID) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

// MarshalPayload JSON-encodes v, falling back to "{}" on failure.
func MarshalPayload(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Msg("failed to marshal payload")
		return []byte("{}")
	}
	return data
}
