package observability

import (
	"math/big"

	sdkmath "cosmossdk.io/math"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ledger service.
type Metrics struct {
	// --- Core Processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreSequence       prometheus.Gauge

	// --- Ledger State ---
	LedgerTotalSupply    prometheus.Gauge
	LedgerAccounts       prometheus.Gauge
	LedgerHats           prometheus.Gauge
	LoanCoverageDrift    prometheus.Counter
	HatInheritances      prometheus.Counter
	InheritanceTruncated prometheus.Counter
	ShareReserve         prometheus.Gauge
	ShareDeficit         prometheus.Gauge

	// --- Channel & Backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	ProjectionDropped  prometheus.Counter
	PublishDrops       prometheus.Counter

	// --- Ingestion ---
	IngestReceived    *prometheus.CounterVec
	IngestParseErrors *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten  prometheus.Counter
	PersistChangesWritten prometheus.Counter
	PersistBatchSize      prometheus.Histogram
	PersistBatchDur       prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistRetry          prometheus.Counter
	PersistLastSequence   prometheus.Gauge

	// --- Projection ---
	ProjectionUpdateDur prometheus.Histogram
	ProjectionErrors    prometheus.Counter
	ProjectionLastSeq   prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	latencyBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01, 0.05,
	}
	ioBuckets := []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

	return &Metrics{
		// Core Processing
		CoreEventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "redirect_core_events_applied_total",
			Help: "Operations successfully applied by the facade",
		}, []string{"event_type"}),

		CoreEventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "redirect_core_events_rejected_total",
			Help: "Operations rejected (dedup, sequence, validation, protocol)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redirect_core_event_apply_duration_seconds",
			Help:    "Time to apply a single operation, including protocol calls",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "redirect_core_sequence",
			Help: "Next global sequence to assign",
		}),

		// Ledger State
		LedgerTotalSupply: factory.NewGauge(prometheus.GaugeOpts{
			Name: "redirect_ledger_total_supply",
			Help: "Sum of redeemable balances (approximate float)",
		}),

		LedgerAccounts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "redirect_ledger_accounts",
			Help: "Accounts with a ledger record",
		}),

		LedgerHats: factory.NewGauge(prometheus.GaugeOpts{
			Name: "redirect_ledger_hats",
			Help: "Highest registered hat id",
		}),

		LoanCoverageDrift: factory.NewCounter(prometheus.CounterOpts{
			Name: "redirect_ledger_loan_coverage_drift_total",
			Help: "Post-checks where loaned principal did not match the balance",
		}),

		HatInheritances: factory.NewCounter(prometheus.CounterOpts{
			Name: "redirect_ledger_hat_inheritances_total",
			Help: "Hat-less recipients that inherited a hat during distribution",
		}),

		InheritanceTruncated: factory.NewCounter(prometheus.CounterOpts{
			Name: "redirect_ledger_inheritance_truncated_total",
			Help: "Inheritance chains stopped at the depth limit",
		}),

		ShareReserve: factory.NewGauge(prometheus.GaugeOpts{
			Name: "redirect_ledger_share_reserve",
			Help: "Protocol shares held beyond booked invested shares",
		}),

		ShareDeficit: factory.NewGauge(prometheus.GaugeOpts{
			Name: "redirect_ledger_share_deficit",
			Help: "Booked invested shares not backed by the protocol",
		}),

		// Channel & Backpressure
		ChannelSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "redirect_channel_size",
			Help: "Current channel buffer usage",
		}, []string{"channel"}),

		ChannelCapacity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "redirect_channel_capacity",
			Help: "Channel buffer capacity",
		}, []string{"channel"}),

		ChannelUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "redirect_channel_utilization",
			Help: "Channel usage ratio (0.0-1.0)",
		}, []string{"channel"}),

		ProjectionDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "redirect_projection_drops_total",
			Help: "Outputs dropped because the projection channel was full",
		}),

		PublishDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "redirect_publish_drops_total",
			Help: "Outbound events dropped because the publish channel was full",
		}),

		// Ingestion
		IngestReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "redirect_ingest_received_total",
			Help: "Commands received per transport",
		}, []string{"transport", "event_type"}),

		IngestParseErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "redirect_ingest_parse_errors_total",
			Help: "Commands that failed to parse",
		}, []string{"transport"}),

		// Persistence
		PersistEventsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "redirect_persist_events_written_total",
			Help: "Events persisted to the event log",
		}),

		PersistChangesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "redirect_persist_account_changes_written_total",
			Help: "Account change rows persisted",
		}),

		PersistBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "redirect_persist_batch_size",
			Help:    "Events per persistence batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),

		PersistBatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "redirect_persist_batch_duration_seconds",
			Help:    "Time to write one persistence batch",
			Buckets: ioBuckets,
		}),

		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "redirect_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"operation"}),

		PersistRetry: factory.NewCounter(prometheus.CounterOpts{
			Name: "redirect_persist_retry_total",
			Help: "Persistence batch retries",
		}),

		PersistLastSequence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "redirect_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Projection
		ProjectionUpdateDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "redirect_projection_update_duration_seconds",
			Help:    "Time to apply one output to the projections",
			Buckets: ioBuckets,
		}),

		ProjectionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "redirect_projection_errors_total",
			Help: "Projection update failures",
		}),

		ProjectionLastSeq: factory.NewGauge(prometheus.GaugeOpts{
			Name: "redirect_projection_last_sequence",
			Help: "Last sequence reflected in the projections",
		}),

		// Snapshot
		SnapshotTaken: factory.NewCounter(prometheus.CounterOpts{
			Name: "redirect_snapshot_taken_total",
			Help: "Snapshots taken",
		}),

		SnapshotDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "redirect_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: ioBuckets,
		}),

		SnapshotSizeBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "redirect_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		SnapshotLastSeq: factory.NewGauge(prometheus.GaugeOpts{
			Name: "redirect_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		// Query API
		QueryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "redirect_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "redirect_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "redirect_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}

// UintToFloat converts an amount for gauges. Precision loss is accepted.
func UintToFloat(v sdkmath.Uint) float64 {
	f, _ := new(big.Float).SetInt(v.BigInt()).Float64()
	return f
}
