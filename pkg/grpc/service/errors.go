package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/KevoDB/chainlog/pkg/chain"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errorDomain tags the ErrorInfo detail attached to chain errors
const errorDomain = "chainlog"

// statusCode picks the gRPC code for a chain error
func statusCode(err error) codes.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, chain.ErrInvalidInput):
		return codes.InvalidArgument
	case errors.Is(err, chain.ErrNotFound), errors.Is(err, chain.ErrFileNotFound):
		return codes.NotFound
	case errors.Is(err, chain.ErrLocked):
		return codes.Aborted
	case errors.Is(err, chain.ErrCorruptChain):
		return codes.FailedPrecondition
	case errors.Is(err, chain.ErrBrokenLink),
		errors.Is(err, chain.ErrTruncatedBlock),
		errors.Is(err, chain.ErrMalformedHeader),
		errors.Is(err, chain.ErrMissingIndexFile),
		errors.Is(err, chain.ErrCorruptIndex),
		errors.Is(err, chain.ErrInvalidPosition),
		errors.Is(err, chain.ErrInvalidOffset):
		return codes.DataLoss
	default:
		return codes.Internal
	}
}

// ToStatus converts a chain error to a gRPC status error. The error kind is
// attached as an ErrorInfo detail so that FromStatus can restore the sentinel.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	st := status.New(statusCode(err), err.Error())
	detailed, detailErr := st.WithDetails(&errdetails.ErrorInfo{
		Reason: chain.ErrorKind(err),
		Domain: errorDomain,
	})
	if detailErr != nil {
		return st.Err()
	}
	return detailed.Err()
}

// FromStatus converts a status error from the server back into an error
// wrapping the matching chain sentinel. Errors without a chain ErrorInfo
// detail are returned unchanged.
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.OK {
		return err
	}

	var kind string
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.Domain == errorDomain {
			kind = info.Reason
			break
		}
	}

	sentinel := chain.ErrorForKind(kind)
	if sentinel == nil {
		return err
	}
	if st.Code() == codes.FailedPrecondition && sentinel != chain.ErrCorruptChain {
		return fmt.Errorf("%w: %w: %s", chain.ErrCorruptChain, sentinel, st.Message())
	}
	return fmt.Errorf("%w: %s", sentinel, st.Message())
}
