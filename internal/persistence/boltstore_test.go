package persistence_test

import (
	"RedirectLedger/internal/core"
	"RedirectLedger/internal/ledger"
	"RedirectLedger/internal/persistence"
	"context"
	"path/filepath"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *persistence.BoltSnapshotStore {
	t.Helper()
	store, err := persistence.OpenBoltSnapshotStore(filepath.Join(t.TempDir(), "nested", "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func snapshotAt(t *testing.T, seq int64, balance uint64) *core.SnapshotState {
	t.Helper()
	st := ledger.NewState()
	require.NoError(t, st.Begin())
	st.Accounts.Credit(uuid.MustParse("00000000-0000-0000-0000-00000000000a"), sdkmath.NewUint(balance))
	_, err := st.Commit()
	require.NoError(t, err)

	return &core.SnapshotState{
		Sequence:        seq,
		StateHash:       [32]byte{byte(seq)},
		Ledger:          st.Export(),
		SequenceState:   map[string]int64{"nats": seq + 1},
		IdempotencyKeys: []string{"Deposit:k"},
	}
}

func TestBoltSnapshotStoreEmpty(t *testing.T) {
	store := openStore(t)

	snap, err := store.LoadLatestSnapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestBoltSnapshotStoreLoadsHighestSequence(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	// Stored out of order; the key encoding keeps them sorted.
	require.NoError(t, store.SaveSnapshot(ctx, snapshotAt(t, 300, 30)))
	require.NoError(t, store.SaveSnapshot(ctx, snapshotAt(t, 5, 1)))
	require.NoError(t, store.SaveSnapshot(ctx, snapshotAt(t, 42, 4)))

	snap, err := store.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(300), snap.Sequence)
	assert.Equal(t, byte(300%256), snap.StateHash[0])
	assert.Equal(t, "30", snap.Ledger.TotalSupply.String())
	assert.Equal(t, int64(301), snap.SequenceState["nats"])
	assert.Equal(t, []string{"Deposit:k"}, snap.IdempotencyKeys)

	restored := ledger.NewState()
	require.NoError(t, restored.Import(snap.Ledger))
	assert.Equal(t, "30", restored.Accounts.TotalSupply().String())
}

func TestBoltSnapshotStoreRejectsGenesis(t *testing.T) {
	store := openStore(t)
	assert.Error(t, store.SaveSnapshot(context.Background(), persistence.GenesisSnapshot()))
}

func TestBoltSnapshotStorePrune(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	for seq := int64(1); seq <= 5; seq++ {
		require.NoError(t, store.SaveSnapshot(ctx, snapshotAt(t, seq, uint64(seq))))
	}

	removed, err := store.Prune(2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	removed, err = store.Prune(2)
	require.NoError(t, err)
	assert.Zero(t, removed)

	snap, err := store.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.Sequence)
}
