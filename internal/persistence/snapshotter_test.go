package persistence_test

import (
	"RedirectLedger/internal/core"
	"RedirectLedger/internal/observability"
	"RedirectLedger/internal/persistence"
	"RedirectLedger/internal/testutil"
	"context"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	holder = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	friend = uuid.MustParse("00000000-0000-0000-0000-0000000000b2")
)

func TestSnapshotter_EmptyLedger(t *testing.T) {
	l := testutil.NewLedger(t, sdkmath.ZeroUint())
	s := persistence.NewSnapshotter(l.Dispatcher, nil, openStore(t), persistence.SnapshotterConfig{}, nil, zerolog.Nop())

	_, err := s.TakeSnapshot(context.Background())
	assert.ErrorIs(t, err, persistence.ErrNothingToSnapshot)
	assert.Equal(t, int64(-1), s.LastSequence())
}

func TestSnapshotter_LocalRoundTripRestores(t *testing.T) {
	ctx := context.Background()
	l := testutil.NewLedger(t, sdkmath.ZeroUint())
	l.Fund(holder, 500)
	require.NoError(t, l.Dispatcher.Read(ctx, func(f *core.LedgerFacade) error {
		_, err := f.DepositWithNewHat(ctx, holder, sdkmath.NewUint(500), []uuid.UUID{friend}, []uint32{1})
		return err
	}))

	store := openStore(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	s := persistence.NewSnapshotter(l.Dispatcher, nil, store, persistence.SnapshotterConfig{KeepLocal: 1}, metrics, zerolog.Nop())

	seq, err := s.TakeSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)
	assert.Equal(t, int64(0), s.LastSequence())

	loaded, err := store.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	// A fresh ledger restored from the stored snapshot matches the original.
	restored := testutil.NewLedger(t, sdkmath.ZeroUint())
	var hash, want [32]byte
	var balance, loan string
	require.NoError(t, restored.Dispatcher.Read(ctx, func(f *core.LedgerFacade) error {
		if err := f.RestoreFromSnapshot(loaded); err != nil {
			return err
		}
		hash = f.GetStateHash()
		balance = f.BalanceOf(holder).String()
		loan = f.ReceivedLoanOf(friend).String()
		return nil
	}))
	require.NoError(t, l.Dispatcher.Read(ctx, func(f *core.LedgerFacade) error {
		want = f.GetStateHash()
		return nil
	}))

	assert.Equal(t, want, hash)
	assert.Equal(t, "500", balance)
	assert.Equal(t, "500", loan)
}

func TestSnapshotter_PrunesLocalCopies(t *testing.T) {
	ctx := context.Background()
	l := testutil.NewLedger(t, sdkmath.ZeroUint())
	l.Fund(holder, 30)

	store := openStore(t)
	s := persistence.NewSnapshotter(l.Dispatcher, nil, store, persistence.SnapshotterConfig{KeepLocal: 2}, nil, zerolog.Nop())

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Dispatcher.Read(ctx, func(f *core.LedgerFacade) error {
			return f.Deposit(ctx, holder, sdkmath.NewUint(10))
		}))
		_, err := s.TakeSnapshot(ctx)
		require.NoError(t, err)
	}

	removed, err := store.Prune(2)
	require.NoError(t, err)
	assert.Zero(t, removed, "snapshotter already pruned down to KeepLocal")

	latest, err := store.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest.Sequence)
}
