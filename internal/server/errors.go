package server

import (
	"RedirectLedger/internal/core"
	"RedirectLedger/internal/ingestion"
	"RedirectLedger/internal/ledger"
	"RedirectLedger/internal/persistence"
	"RedirectLedger/internal/protocol"
	"RedirectLedger/internal/query"
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// statusCode classifies a ledger error for gRPC and, through the gateway,
// for HTTP.
func statusCode(err error) codes.Code {
	switch {
	case errors.Is(err, ingestion.ErrMalformed),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidBeneficiarySet),
		errors.Is(err, ledger.ErrSelfReferencingHat),
		errors.Is(err, ledger.ErrSameAccountTransfer):
		return codes.InvalidArgument
	case errors.Is(err, ledger.ErrUnknownHat):
		return codes.NotFound
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientAllowance),
		errors.Is(err, core.ErrOutOfOrder),
		errors.Is(err, persistence.ErrNothingToSnapshot):
		return codes.FailedPrecondition
	case errors.Is(err, core.ErrSequenceGap):
		return codes.Aborted
	case errors.Is(err, query.ErrNoDatabase):
		return codes.Unimplemented
	case errors.Is(err, protocol.ErrProtocolFailure),
		errors.Is(err, core.ErrDispatcherStopped):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(statusCode(err), err.Error())
}
