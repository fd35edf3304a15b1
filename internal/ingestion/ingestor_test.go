package ingestion_test

import (
	"RedirectLedger/internal/core"
	"RedirectLedger/internal/event"
	"RedirectLedger/internal/ingestion"
	"RedirectLedger/internal/ledger"
	"RedirectLedger/internal/observability"
	"RedirectLedger/internal/protocol"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubmitter struct {
	mu   sync.Mutex
	err  error
	out  *core.CoreOutput
	seen []event.Event
}

func (f *fakeSubmitter) Submit(_ context.Context, evt event.Event) (*core.CoreOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, evt)
	return f.out, f.err
}

type ackRecorder struct {
	acked, naked int
}

func (r *ackRecorder) raw(t *testing.T, eventType string, payload map[string]interface{}) ingestion.RawEvent {
	raw := rawFromJSON(t, payload)
	raw.EventType = eventType
	raw.AckFunc = func() { r.acked++ }
	raw.NakFunc = func() { r.naked++ }
	return raw
}

func runIngestor(t *testing.T, sub ingestion.Submitter, metrics *observability.Metrics, raws ...ingestion.RawEvent) {
	t.Helper()
	in := make(chan ingestion.RawEvent, len(raws))
	for _, r := range raws {
		in <- r
	}
	close(in)

	ing := ingestion.NewIngestor(sub, in, "nats", metrics, zerolog.Nop())
	require.NoError(t, ing.Run(context.Background()))
}

func payInterest() map[string]interface{} {
	return map[string]interface{}{"operation_id": opID, "account": alice}
}

func TestIngestor_AcksOutcomes(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		acked int
		naked int
	}{
		{"applied", nil, 1, 0},
		{"ledger rejection", ledger.ErrInsufficientBalance, 1, 0},
		{"protocol outage", fmt.Errorf("mint: %w", protocol.ErrProtocolFailure), 0, 1},
		{"sequence gap", fmt.Errorf("%w: bank", core.ErrSequenceGap), 0, 1},
		{"shutdown", core.ErrDispatcherStopped, 0, 1},
		{"deadline", context.DeadlineExceeded, 0, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &ackRecorder{}
			sub := &fakeSubmitter{err: tc.err}
			runIngestor(t, sub, nil, rec.raw(t, "PayInterest", payInterest()))

			assert.Equal(t, tc.acked, rec.acked)
			assert.Equal(t, tc.naked, rec.naked)
			require.Len(t, sub.seen, 1)
		})
	}
}

func TestIngestor_MalformedIsAckedAndCounted(t *testing.T) {
	rec := &ackRecorder{}
	sub := &fakeSubmitter{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	runIngestor(t, sub, metrics,
		rec.raw(t, "PayInterest", map[string]interface{}{"operation_id": "bad"}),
		rec.raw(t, "PayInterest", payInterest()),
	)

	assert.Equal(t, 2, rec.acked)
	assert.Zero(t, rec.naked)
	assert.Len(t, sub.seen, 1, "malformed command never reaches the ledger")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IngestParseErrors.WithLabelValues("nats")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.IngestReceived.WithLabelValues("nats", "PayInterest")))
}

func TestIngestor_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ing := ingestion.NewIngestor(&fakeSubmitter{}, make(chan ingestion.RawEvent), "nats", nil, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- ing.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("ingestor did not stop")
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, ingestion.Retryable(protocol.ErrProtocolFailure))
	assert.True(t, ingestion.Retryable(context.Canceled))
	assert.False(t, ingestion.Retryable(ledger.ErrInsufficientBalance))
	assert.False(t, ingestion.Retryable(core.ErrOutOfOrder))
	assert.False(t, ingestion.Retryable(errors.New("boom")))
}

func TestGRPCIngestService_Submit(t *testing.T) {
	env := &event.EventEnvelope{Sequence: 3, StateHash: [32]byte{0xab}}
	sub := &fakeSubmitter{out: &core.CoreOutput{
		Envelope: env,
		Result:   core.Result{HatID: 2, Amount: sdkmath.NewUint(9)},
	}}
	svc := ingestion.NewGRPCIngestService(sub, nil, zerolog.Nop())

	res, err := svc.Submit(context.Background(), "PayInterest", []byte(fmt.Sprintf(`{"operation_id":%q,"account":%q}`, opID, alice)))
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Sequence)
	assert.False(t, res.Duplicate)
	assert.Equal(t, uint64(2), res.HatID)
	assert.Equal(t, "9", res.Amount.String())
	assert.Equal(t, "ab", res.StateHash[:2])

	require.Len(t, sub.seen, 1)
	assert.False(t, sub.seen[0].OccurredAt().IsZero(), "receive time stamps the command")
}

func TestGRPCIngestService_Duplicate(t *testing.T) {
	svc := ingestion.NewGRPCIngestService(&fakeSubmitter{}, nil, zerolog.Nop())

	res, err := svc.Submit(context.Background(), "PayInterest", []byte(fmt.Sprintf(`{"operation_id":%q,"account":%q}`, opID, alice)))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, int64(-1), res.Sequence)
}

func TestGRPCIngestService_Malformed(t *testing.T) {
	sub := &fakeSubmitter{}
	svc := ingestion.NewGRPCIngestService(sub, nil, zerolog.Nop())

	_, err := svc.Submit(context.Background(), "Deposit", []byte(`{}`))
	assert.ErrorIs(t, err, ingestion.ErrMalformed)
	assert.Empty(t, sub.seen)
}
