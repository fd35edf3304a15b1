package commands

import (
	"RedirectLedger/internal/core"
	"RedirectLedger/internal/ingestion"
	"RedirectLedger/internal/observability"
	"RedirectLedger/internal/persistence"
	"RedirectLedger/internal/projection"
	"context"
	"time"

	sdkmath "cosmossdk.io/math"
)

// bridgePersist converts facade outputs into event log rows and outbound
// events. The persist send blocks so nothing is lost; the publish send
// drops when the publisher is behind. persistOut and publishOut may be nil.
// Both are closed once in is closed and drained.
func bridgePersist(
	in <-chan core.CoreOutput,
	persistOut chan<- persistence.CoreOutput,
	publishOut chan<- ingestion.PublishableEvent,
	metrics *observability.Metrics,
) {
	defer func() {
		if persistOut != nil {
			close(persistOut)
		}
		if publishOut != nil {
			close(publishOut)
		}
	}()

	for out := range in {
		if persistOut != nil {
			persistOut <- persistence.RowsFromOutput(out)
		}
		if publishOut == nil {
			continue
		}
		select {
		case publishOut <- ingestion.PublishableFromOutput(out):
		default:
			if metrics != nil {
				metrics.PublishDrops.Inc()
			}
		}
	}
}

// bridgeProjections feeds the projection worker. Projections are
// rebuildable, so a full channel drops the output.
func bridgeProjections(
	in <-chan core.CoreOutput,
	out chan<- projection.ProjectionOutput,
	metrics *observability.Metrics,
) {
	defer close(out)
	for o := range in {
		select {
		case out <- projection.FromCoreOutput(o):
		default:
			if metrics != nil {
				metrics.ProjectionDropped.Inc()
			}
		}
	}
}

// channelGauge reports a channel's length and capacity.
type channelGauge struct {
	name string
	len  func() int
	cap  int
}

func gaugeOf[T any](name string, ch chan T) channelGauge {
	return channelGauge{name: name, len: func() int { return len(ch) }, cap: cap(ch)}
}

// monitorChannels samples buffer usage every interval until ctx is done.
func monitorChannels(ctx context.Context, metrics *observability.Metrics, interval time.Duration, gauges ...channelGauge) {
	for _, g := range gauges {
		metrics.ChannelCapacity.WithLabelValues(g.name).Set(float64(g.cap))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, g := range gauges {
				n := g.len()
				metrics.ChannelSize.WithLabelValues(g.name).Set(float64(n))
				if g.cap > 0 {
					metrics.ChannelUtilization.WithLabelValues(g.name).Set(float64(n) / float64(g.cap))
				}
			}
		}
	}
}

// investedShares is what the money market must hold for snap to be fully
// backed.
func investedShares(snap *core.SnapshotState) sdkmath.Uint {
	total := sdkmath.ZeroUint()
	if snap == nil || snap.Ledger == nil {
		return total
	}
	for _, acct := range snap.Ledger.Accounts {
		total = total.Add(acct.InvestedShare)
	}
	return total
}
