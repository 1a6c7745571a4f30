package rpcserver

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lnswap/swapd/internal/chain"
	"github.com/lnswap/swapd/internal/payswap"
	"github.com/lnswap/swapd/internal/swap"
)

func TestToStatus_MapsKnownSentinels(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"already exists", swap.ErrAlreadyExists, codes.AlreadyExists},
		{"swap not found", swap.ErrSwapNotFound, codes.NotFound},
		{"preimage mismatch", swap.ErrPreimageMismatch, codes.FailedPrecondition},
		{"already paid", payswap.ErrAlreadyPaid, codes.AlreadyExists},
		{"invalid payment request", payswap.ErrInvalidPaymentRequest, codes.InvalidArgument},
		{"amount exceeds max", payswap.ErrAmountExceedsMax, codes.FailedPrecondition},
		{"fee unavailable", chain.ErrFeeUnavailable, codes.Unavailable},
		{"block not found", chain.ErrBlockNotFound, codes.NotFound},
		{"unknown error", errors.New("boom"), codes.Internal},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			st, ok := status.FromError(toStatus(c.err))
			if !ok {
				t.Fatalf("toStatus(%v) did not return a status error", c.err)
			}
			if st.Code() != c.code {
				t.Errorf("toStatus(%v) code = %v, want %v", c.err, st.Code(), c.code)
			}
		})
	}
}

func TestToStatus_WrappedErrorStillMatches(t *testing.T) {
	wrapped := fmt.Errorf("payswap: %w: got 100, want 200", payswap.ErrAmountMismatch)
	st, ok := status.FromError(toStatus(wrapped))
	if !ok || st.Code() != codes.FailedPrecondition {
		t.Errorf("wrapped ErrAmountMismatch should map to FailedPrecondition, got %v", toStatus(wrapped))
	}
}

func TestToStatus_Nil(t *testing.T) {
	if toStatus(nil) != nil {
		t.Error("toStatus(nil) should return nil")
	}
}
