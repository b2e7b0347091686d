package server

import (
	"InsureLedger/internal/core"
	"InsureLedger/internal/query"
	"InsureLedger/internal/state"
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// statusCode maps a domain error onto a gRPC code.
func statusCode(err error) codes.Code {
	switch {
	case errors.Is(err, state.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, state.ErrPolicyNotActive),
		errors.Is(err, state.ErrPolicyExpired),
		errors.Is(err, state.ErrInsufficientFunds):
		return codes.FailedPrecondition
	case errors.Is(err, state.ErrOverflow), errors.Is(err, state.ErrInvalidArgument):
		return codes.InvalidArgument
	case errors.Is(err, state.ErrPoolExists), errors.Is(err, state.ErrGovernanceExists):
		return codes.AlreadyExists
	case errors.Is(err, query.ErrEventLogDisabled):
		return codes.Unimplemented
	case errors.Is(err, core.ErrEngineStopped):
		return codes.Unavailable
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
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
