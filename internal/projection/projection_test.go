package projection_test

import (
	"RedirectLedger/internal/core"
	"RedirectLedger/internal/event"
	"RedirectLedger/internal/ledger"
	"RedirectLedger/internal/projection"
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	bob   = uuid.MustParse("00000000-0000-0000-0000-0000000000b0")
	ts    = time.Unix(1700000000, 0).UTC()
)

func TestFromCoreOutput(t *testing.T) {
	acct := ledger.NewAccount()
	acct.HatID = 1
	acct.Redeemable = sdkmath.NewUint(100)
	acct.LoanedTo[bob] = sdkmath.NewUint(100)

	out := core.CoreOutput{
		Envelope: &event.EventEnvelope{Sequence: 4, EventType: event.EventTypeDeposit, Timestamp: ts},
		Changes: &ledger.ChangeSet{
			Accounts: []uuid.UUID{alice, bob},
			NewHats:  []ledger.BeneficiarySet{{ID: 1, Recipients: []uuid.UUID{bob}, Weights: []uint32{0xFFFFFFFF}}},
		},
		Accounts:    map[uuid.UUID]*ledger.Account{alice: acct},
		TotalSupply: sdkmath.NewUint(100),
	}

	po := projection.FromCoreOutput(out)
	assert.Equal(t, int64(4), po.Sequence)
	assert.Equal(t, "Deposit", po.EventType)
	assert.Equal(t, "100", po.TotalSupply.String())

	// bob is in the change set but has no post-state copy.
	require.Len(t, po.Accounts, 1)
	assert.Equal(t, alice, po.Accounts[0].Account)
	assert.Equal(t, "100", po.Accounts[0].LoanedTo[bob].String())

	// The view owns its map.
	acct.LoanedTo[bob] = sdkmath.NewUint(1)
	assert.Equal(t, "100", po.Accounts[0].LoanedTo[bob].String())

	require.Len(t, po.Hats, 1)
	assert.Equal(t, uint64(1), po.Hats[0].HatID)
}

func TestInterestHistoryBaselineAndGrowth(t *testing.T) {
	h := projection.NewInterestHistory(10)

	h.Observe(1, "Deposit", ts, alice, sdkmath.NewUint(5))
	assert.Zero(t, h.Len())

	h.Observe(2, "PayInterest", ts, alice, sdkmath.NewUint(12))
	h.Observe(3, "Transfer", ts, alice, sdkmath.NewUint(12))
	h.Observe(4, "PayInterest", ts, alice, sdkmath.NewUint(20))

	entries := h.QueryByAccount(alice, 10)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(4), entries[0].Sequence)
	assert.Equal(t, "8", entries[0].Amount.String())
	assert.Equal(t, "7", entries[1].Amount.String())

	assert.Len(t, h.QueryByAccount(alice, 1), 1)
	assert.Empty(t, h.QueryByAccount(bob, 10))
}

func TestInterestHistoryEvictsOldest(t *testing.T) {
	h := projection.NewInterestHistory(2)
	h.Observe(0, "Deposit", ts, alice, sdkmath.ZeroUint())
	for i := int64(1); i <= 3; i++ {
		h.Observe(i, "PayInterest", ts, alice, sdkmath.NewUint(uint64(i)))
	}

	entries := h.QueryByAccount(alice, 10)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(3), entries[0].Sequence)
	assert.Equal(t, int64(2), entries[1].Sequence)
}

func TestWorkerWithoutDatabaseFeedsHistory(t *testing.T) {
	in := make(chan projection.ProjectionOutput, 2)
	history := projection.NewInterestHistory(10)
	w := projection.NewProjectionWorker(nil, in, history, nil, zerolog.Nop())

	in <- projection.ProjectionOutput{Sequence: 0, EventType: "Deposit", Timestamp: ts,
		Accounts: []projection.AccountView{{Account: bob, CumulativeInterest: sdkmath.ZeroUint()}}}
	in <- projection.ProjectionOutput{Sequence: 1, EventType: "PayInterest", Timestamp: ts,
		Accounts: []projection.AccountView{{Account: bob, CumulativeInterest: sdkmath.NewUint(9)}}}
	close(in)

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, int64(1), w.LastSequence())

	entries := history.QueryByAccount(bob, 10)
	require.Len(t, entries, 1)
	assert.Equal(t, "9", entries[0].Amount.String())
}
