package ingestion

import (
	"RedirectLedger/internal/observability"
	"context"
	"encoding/hex"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"
)

// TransportGRPC labels commands submitted through the RPC and HTTP APIs.
const TransportGRPC = "grpc"

// GRPCIngestService submits commands synchronously on behalf of the RPC
// and HTTP APIs. High-throughput producers should use NATS instead.
type GRPCIngestService struct {
	submitter Submitter
	metrics   *observability.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

// SubmitResult is the outcome of a synchronously submitted command.
type SubmitResult struct {
	// Sequence is -1 for duplicates.
	Sequence  int64        `json:"sequence"`
	Duplicate bool         `json:"duplicate"`
	HatID     uint64       `json:"hat_id"`
	Amount    sdkmath.Uint `json:"amount"`
	StateHash string       `json:"state_hash,omitempty"`
}

func NewGRPCIngestService(submitter Submitter, metrics *observability.Metrics, logger zerolog.Logger) *GRPCIngestService {
	return &GRPCIngestService{
		submitter: submitter,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit parses payload as eventType and applies it. Commands without an
// explicit timestamp_us are stamped with the receive time. Errors wrap
// ErrMalformed for bad input, or the ledger's rejection.
func (s *GRPCIngestService) Submit(ctx context.Context, eventType string, payload []byte) (*SubmitResult, error) {
	if s.metrics != nil {
		s.metrics.IngestReceived.WithLabelValues(TransportGRPC, eventType).Inc()
	}

	raw := RawEvent{
		Subject:   TransportGRPC,
		EventType: eventType,
		Data:      payload,
		Timestamp: s.now(),
	}
	evt, err := ParseRawEvent(raw, eventType)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IngestParseErrors.WithLabelValues(TransportGRPC).Inc()
		}
		return nil, err
	}

	out, err := s.submitter.Submit(ctx, evt)
	if err != nil {
		return nil, err
	}
	if out == nil {
		s.logger.Debug().Str("key", evt.IdempotencyKey()).Msg("duplicate command skipped")
		return &SubmitResult{Sequence: -1, Duplicate: true, Amount: sdkmath.ZeroUint()}, nil
	}

	return &SubmitResult{
		Sequence:  out.Envelope.Sequence,
		HatID:     out.Result.HatID,
		Amount:    out.Result.Amount,
		StateHash: hex.EncodeToString(out.Envelope.StateHash[:]),
	}, nil
}
