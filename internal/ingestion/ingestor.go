package ingestion

import (
	"RedirectLedger/internal/core"
	"RedirectLedger/internal/event"
	"RedirectLedger/internal/observability"
	"RedirectLedger/internal/protocol"
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Submitter applies one command. core.Dispatcher satisfies it.
type Submitter interface {
	Submit(ctx context.Context, evt event.Event) (*core.CoreOutput, error)
}

// Ingestor drains raw commands from a transport, parses them and submits
// them to the ledger, then acknowledges or requests redelivery.
type Ingestor struct {
	submitter Submitter
	input     <-chan RawEvent
	transport string
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewIngestor(submitter Submitter, input <-chan RawEvent, transport string, metrics *observability.Metrics, logger zerolog.Logger) *Ingestor {
	return &Ingestor{
		submitter: submitter,
		input:     input,
		transport: transport,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run processes commands until ctx is cancelled or the input closes.
func (in *Ingestor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in.input:
			if !ok {
				return nil
			}
			in.handle(ctx, raw)
		}
	}
}

func (in *Ingestor) handle(ctx context.Context, raw RawEvent) {
	if in.metrics != nil {
		in.metrics.IngestReceived.WithLabelValues(in.transport, raw.EventType).Inc()
	}

	evt, err := ParseRawEvent(raw, raw.EventType)
	if err != nil {
		// Poison message: redelivery cannot fix it.
		in.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed command")
		if in.metrics != nil {
			in.metrics.IngestParseErrors.WithLabelValues(in.transport).Inc()
		}
		ack(raw)
		return
	}

	out, err := in.submitter.Submit(ctx, evt)
	switch {
	case err == nil:
		if out == nil {
			in.logger.Debug().Str("key", evt.IdempotencyKey()).Msg("duplicate command skipped")
		}
		ack(raw)
	case Retryable(err):
		in.logger.Warn().Err(err).Str("key", evt.IdempotencyKey()).Msg("command failed, requesting redelivery")
		nak(raw)
	default:
		in.logger.Info().Err(err).Str("key", evt.IdempotencyKey()).
			Str("reason", core.RejectionReason(err)).Msg("command rejected")
		ack(raw)
	}
}

// Retryable reports whether a failed command may succeed if redelivered.
// Ledger rule violations are final; protocol outages, sequence gaps and
// shutdowns are not.
func Retryable(err error) bool {
	return errors.Is(err, protocol.ErrProtocolFailure) ||
		errors.Is(err, core.ErrSequenceGap) ||
		errors.Is(err, core.ErrDispatcherStopped) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func ack(raw RawEvent) {
	if raw.AckFunc != nil {
		raw.AckFunc()
	}
}

func nak(raw RawEvent) {
	if raw.NakFunc != nil {
		raw.NakFunc()
	}
}
