package bitcoind

import (
	"context"
	"log/slog"

	"github.com/lnswap/swapd/internal/chain"
)

// FallbackFeeEstimator tries a primary estimator (typically whatthefee) and
// falls back to a secondary (typically the bitcoind node's own
// estimatesmartfee) when the primary is unavailable or stale.
type FallbackFeeEstimator struct {
	primary   chain.FeeEstimator
	secondary chain.FeeEstimator
}

// NewFallbackFeeEstimator composes two estimators, primary tried first.
func NewFallbackFeeEstimator(primary, secondary chain.FeeEstimator) *FallbackFeeEstimator {
	return &FallbackFeeEstimator{primary: primary, secondary: secondary}
}

var _ chain.FeeEstimator = (*FallbackFeeEstimator)(nil)

// EstimateFee returns the primary's estimate, or the secondary's if the
// primary errors, or chain.ErrFeeUnavailable if both do.
func (f *FallbackFeeEstimator) EstimateFee(ctx context.Context, confTarget int32) (chain.FeeEstimate, error) {
	est, err := f.primary.EstimateFee(ctx, confTarget)
	if err == nil {
		return est, nil
	}
	slog.Warn("primary fee estimator failed, falling back", "error", err)

	est, err = f.secondary.EstimateFee(ctx, confTarget)
	if err == nil {
		return est, nil
	}
	slog.Warn("fallback fee estimator also failed", "error", err)

	return chain.FeeEstimate{}, chain.ErrFeeUnavailable
}
