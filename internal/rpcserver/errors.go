package rpcserver

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lnswap/swapd/internal/chain"
	"github.com/lnswap/swapd/internal/lightning"
	"github.com/lnswap/swapd/internal/payswap"
	"github.com/lnswap/swapd/internal/swap"
)

// toStatus classifies a domain error into the RPC status taxonomy of spec
// §7: malformed-input errors become InvalidArgument, violated invariants
// become FailedPrecondition, duplicates become AlreadyExists, missing
// lookups become NotFound, and anything else is an opaque Internal — never
// leaking its underlying message to the caller.
func toStatus(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, swap.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "swap already exists for this payment hash")
	case errors.Is(err, swap.ErrSwapNotFound):
		return status.Error(codes.NotFound, "swap not found")
	case errors.Is(err, swap.ErrPreimageMismatch),
		errors.Is(err, swap.ErrAmountTooLow),
		errors.Is(err, swap.ErrInvalidWeight),
		errors.Is(err, swap.ErrNoClaimables),
		errors.Is(err, swap.ErrTaprootBuild),
		errors.Is(err, swap.ErrInvalidBlockHeight):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, payswap.ErrInvalidPaymentRequest):
		return status.Error(codes.InvalidArgument, "malformed payment request")
	case errors.Is(err, payswap.ErrAlreadyPaid):
		return status.Error(codes.AlreadyExists, "swap already paid")
	case errors.Is(err, payswap.ErrAmountRequired),
		errors.Is(err, payswap.ErrNonRoundSatoshiAmount),
		errors.Is(err, payswap.ErrAmountExceedsMax),
		errors.Is(err, payswap.ErrSwapExpired),
		errors.Is(err, payswap.ErrCltvDeltaTooHigh),
		errors.Is(err, payswap.ErrNoUtxos),
		errors.Is(err, payswap.ErrAmountMismatch),
		errors.Is(err, payswap.ErrNotClaimable):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, chain.ErrFeeUnavailable):
		return status.Error(codes.Unavailable, "fee estimate unavailable")
	case errors.Is(err, chain.ErrBlockNotFound):
		return status.Error(codes.NotFound, "block not found")

	case errors.Is(err, lightning.ErrPaymentNotFound):
		return status.Error(codes.NotFound, "payment not found")

	default:
		return status.Error(codes.Internal, "internal error")
	}
}
