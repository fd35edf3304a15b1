package persistence

import (
	"RedirectLedger/internal/core"
	"RedirectLedger/internal/event"
	"RedirectLedger/internal/ledger"
	"encoding/json"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	bob   = uuid.MustParse("00000000-0000-0000-0000-0000000000b0")
)

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "($1, $2, $3)", placeholders(0, 3))
	assert.Equal(t, "($5, $6)", placeholders(4, 2))
}

func TestRowsFromOutput(t *testing.T) {
	acct := ledger.NewAccount()
	acct.HatID = 3
	acct.Redeemable = sdkmath.NewUint(100)
	acct.LoanedTo[bob] = sdkmath.NewUint(100)

	hat := ledger.BeneficiarySet{ID: 3, Recipients: []uuid.UUID{bob}, Weights: []uint32{0xFFFFFFFF}}
	out := core.CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:       7,
			IdempotencyKey: "op-7",
			EventType:      event.EventTypeDeposit,
			Account:        alice,
			Timestamp:      time.Unix(1700000000, 0).UTC(),
			Source:         "nats",
			SourceSequence: 12,
			Payload:        []byte(`{"amount":"100"}`),
			StateHash:      [32]byte{1},
			PrevHash:       [32]byte{2},
		},
		Changes: &ledger.ChangeSet{
			Accounts:   []uuid.UUID{alice},
			Allowances: []ledger.AllowanceKey{{Owner: alice, Spender: bob}},
			NewHats:    []ledger.BeneficiarySet{hat},
		},
		Accounts:   map[uuid.UUID]*ledger.Account{alice: acct},
		Allowances: []ledger.AllowanceEntry{{Owner: alice, Spender: bob, Amount: sdkmath.ZeroUint()}},
	}

	rows := RowsFromOutput(out)

	assert.Equal(t, int64(7), rows.EventRow.Sequence)
	assert.Equal(t, "Deposit", rows.EventRow.EventType)
	assert.Equal(t, alice.String(), rows.EventRow.Account)
	assert.Equal(t, int64(12), rows.EventRow.SourceSequence)
	assert.Len(t, rows.EventRow.StateHash, 32)
	assert.Equal(t, byte(2), rows.EventRow.PrevHash[0])

	require.Len(t, rows.AccountRows, 1)
	ar := rows.AccountRows[0]
	assert.Equal(t, uint64(3), ar.HatID)
	assert.Equal(t, "100", ar.Redeemable)
	assert.Equal(t, "0", ar.LoanedDebt)
	assert.JSONEq(t, `{"`+bob.String()+`":"100"}`, string(ar.LoanedTo))

	require.Len(t, rows.AllowanceRows, 1)
	assert.Equal(t, "0", rows.AllowanceRows[0].Amount)

	require.Len(t, rows.HatRows, 1)
	assert.JSONEq(t, `["`+bob.String()+`"]`, string(rows.HatRows[0].Recipients))
	assert.JSONEq(t, `[4294967295]`, string(rows.HatRows[0].Weights))
}

func TestRowsFromOutputWithoutChanges(t *testing.T) {
	rows := RowsFromOutput(core.CoreOutput{Envelope: &event.EventEnvelope{Sequence: 1}})
	assert.Empty(t, rows.AccountRows)
	assert.Empty(t, rows.HatRows)
}

func TestAccountRowRoundTrip(t *testing.T) {
	acct := ledger.NewAccount()
	acct.HatID = ledger.SelfHatID
	acct.Redeemable = sdkmath.NewUint(250)
	acct.RedeemableFromInterest = sdkmath.NewUint(50)
	acct.LoanedDebt = sdkmath.NewUint(200)
	acct.InvestedShare = sdkmath.NewUint(240)
	acct.Stats.CumulativeInterest = sdkmath.NewUint(50)
	acct.LoanedTo[alice] = sdkmath.NewUint(200)

	rows := RowsFromOutput(core.CoreOutput{
		Envelope: &event.EventEnvelope{Sequence: 1},
		Changes:  &ledger.ChangeSet{Accounts: []uuid.UUID{alice}},
		Accounts: map[uuid.UUID]*ledger.Account{alice: acct},
	})
	require.Len(t, rows.AccountRows, 1)

	// The hat id travels through a signed BIGINT column.
	row := rows.AccountRows[0]
	row.HatID = uint64(int64(row.HatID))

	addr, got, err := accountFromRow(row)
	require.NoError(t, err)
	assert.Equal(t, alice, addr)

	want, _ := json.Marshal(acct)
	have, _ := json.Marshal(got)
	assert.JSONEq(t, string(want), string(have))
}

func TestAccountFromRowRejectsGarbage(t *testing.T) {
	_, _, err := accountFromRow(AccountChangeRow{Account: "nope"})
	assert.Error(t, err)

	_, _, err = accountFromRow(AccountChangeRow{
		Account: alice.String(), Redeemable: "-1", RedeemableFromInterest: "0",
		LoanedDebt: "0", InvestedShare: "0", CumulativeInterest: "0",
	})
	assert.Error(t, err)
}

func TestHatFromRow(t *testing.T) {
	hat, err := hatFromRow(HatRow{
		HatID:      2,
		Recipients: []byte(`["` + alice.String() + `","` + bob.String() + `"]`),
		Weights:    []byte(`[2147483647,2147483648]`),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), hat.ID)
	assert.Equal(t, []uuid.UUID{alice, bob}, hat.Recipients)
	assert.Equal(t, []uint32{2147483647, 2147483648}, hat.Weights)

	_, err = hatFromRow(HatRow{HatID: 3, Recipients: []byte(`["` + alice.String() + `"]`), Weights: []byte(`[]`)})
	assert.Error(t, err)
}
