package commands

import (
	"RedirectLedger/internal/core"
	"RedirectLedger/internal/event"
	"RedirectLedger/internal/ingestion"
	"RedirectLedger/internal/observability"
	"RedirectLedger/internal/persistence"
	"RedirectLedger/internal/projection"
	"RedirectLedger/internal/testutil"
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	bob   = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
)

// appliedOutputs runs two deposits through a live ledger and returns what
// the facade emitted.
func appliedOutputs(t *testing.T) []core.CoreOutput {
	t.Helper()
	l := testutil.NewLedger(t, sdkmath.ZeroUint())
	l.Fund(alice, 500)

	ctx := context.Background()
	for _, amount := range []uint64{200, 300} {
		out, err := l.Dispatcher.Submit(ctx, &event.Deposit{
			Meta:    event.Meta{OperationID: uuid.New(), Timestamp: time.Now()},
			Account: alice,
			Amount:  sdkmath.NewUint(amount),
			NewHat:  &event.HatSpec{Recipients: []uuid.UUID{bob}, Weights: []uint32{1}},
		})
		require.NoError(t, err)
		require.NotNil(t, out)
	}
	outs := l.Drain()
	require.Len(t, outs, 2)
	return outs
}

func feed(outs []core.CoreOutput) chan core.CoreOutput {
	in := make(chan core.CoreOutput, len(outs))
	for _, o := range outs {
		in <- o
	}
	close(in)
	return in
}

func TestBridgePersist_ConvertsAndClosesOutputs(t *testing.T) {
	outs := appliedOutputs(t)
	persistOut := make(chan persistence.CoreOutput, 8)
	publishOut := make(chan ingestion.PublishableEvent, 8)

	bridgePersist(feed(outs), persistOut, publishOut, nil)

	var rows []persistence.CoreOutput
	for r := range persistOut {
		rows = append(rows, r)
	}
	require.Len(t, rows, 2)
	assert.Equal(t, int64(0), rows[0].EventRow.Sequence)
	assert.Equal(t, int64(1), rows[1].EventRow.Sequence)
	assert.Equal(t, "Deposit", rows[0].EventRow.EventType)
	assert.NotEmpty(t, rows[0].AccountRows)

	var published []ingestion.PublishableEvent
	for p := range publishOut {
		published = append(published, p)
	}
	require.Len(t, published, 2)
	assert.Equal(t, int64(1), published[1].Sequence)
}

func TestBridgePersist_DropsWhenPublisherIsFull(t *testing.T) {
	outs := appliedOutputs(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	publishOut := make(chan ingestion.PublishableEvent, 1)

	bridgePersist(feed(outs), nil, publishOut, metrics)

	assert.Len(t, publishOut, 1)
	assert.Equal(t, float64(1), promtest.ToFloat64(metrics.PublishDrops))
}

func TestBridgeProjections_DropsWhenFull(t *testing.T) {
	outs := appliedOutputs(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	out := make(chan projection.ProjectionOutput, 1)

	bridgeProjections(feed(outs), out, metrics)

	first, ok := <-out
	require.True(t, ok)
	assert.Equal(t, int64(0), first.Sequence)
	_, ok = <-out
	assert.False(t, ok, "output must be closed")
	assert.Equal(t, float64(1), promtest.ToFloat64(metrics.ProjectionDropped))
}

func TestMonitorChannels_ReportsUsage(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	ch := make(chan int, 4)
	ch <- 1
	ch <- 2

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		monitorChannels(ctx, metrics, 5*time.Millisecond, gaugeOf("test", ch))
	}()

	assert.Eventually(t, func() bool {
		return promtest.ToFloat64(metrics.ChannelUtilization.WithLabelValues("test")) == 0.5
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, float64(4), promtest.ToFloat64(metrics.ChannelCapacity.WithLabelValues("test")))
	assert.Equal(t, float64(2), promtest.ToFloat64(metrics.ChannelSize.WithLabelValues("test")))
}

func TestInvestedShares(t *testing.T) {
	assert.True(t, investedShares(nil).IsZero())

	l := testutil.NewLedger(t, sdkmath.ZeroUint())
	l.Fund(alice, 700)
	_, err := l.Dispatcher.Submit(context.Background(), &event.Deposit{
		Meta:    event.Meta{OperationID: uuid.New(), Timestamp: time.Now()},
		Account: alice,
		Amount:  sdkmath.NewUint(700),
	})
	require.NoError(t, err)

	var snap *core.SnapshotState
	require.NoError(t, l.Dispatcher.Read(context.Background(), func(f *core.LedgerFacade) error {
		snap = f.CreateSnapshotState()
		return nil
	}))
	// at rate 1.0 one unit of underlying buys one share
	assert.Equal(t, "700", investedShares(snap).String())
}
