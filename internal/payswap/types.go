// Package payswap is the pay-swap coordinator: it turns a bolt11 invoice and
// a funded swap address into a dispatched Lightning payment, enforcing every
// invariant that stands between "funds deposited" and "safe to pay out" —
// and hands back the MuSig2 half-signature a cooperative refund needs.
package payswap

import (
	"context"
	"errors"

	"github.com/lnswap/swapd/internal/chain"
)

// Sentinel errors. Callers (the RPC surface) map these onto status codes;
// payswap itself knows nothing about gRPC.
var (
	ErrInvalidPaymentRequest = errors.New("payswap: invalid payment request")
	ErrAmountRequired        = errors.New("payswap: payment request must have an amount")
	ErrNonRoundSatoshiAmount = errors.New("payswap: invoice amount must be a round satoshi amount")
	ErrAmountExceedsMax      = errors.New("payswap: amount exceeds maximum allowed deposit")
	ErrAlreadyPaid           = errors.New("payswap: swap already paid")
	ErrSwapExpired           = errors.New("payswap: swap expired")
	ErrCltvDeltaTooHigh      = errors.New("payswap: min_final_cltv_expiry_delta too high")
	ErrNoUtxos               = errors.New("payswap: no utxos found")
	ErrAmountMismatch        = errors.New("payswap: confirmed utxo values don't match invoice value")
	ErrNotClaimable          = errors.New("payswap: swap is not claimable at current fee levels")
)

// ChainFilter is the ancestor-sender filter pass. Implemented by
// *chainfilter.Service; defined here so tests can fake it without pulling in
// the real sender-lookup machinery.
type ChainFilter interface {
	FilterUtxos(ctx context.Context, utxos []chain.Utxo) []chain.Utxo
}

// Params are the deployment-specific limits a Service enforces. They come
// straight from config (spec §6): swap size cap, confirmation/CLTV safety
// margins, and the fee budget pay_swap is willing to spend routing.
type Params struct {
	MaxSwapAmountSat    uint64
	MinConfirmations    int64
	MinClaimBlocks      uint32
	MinViableCltv       uint32
	PayFeeLimitBaseMsat uint64
	PayFeeLimitPpm      uint64
	PayTimeoutSeconds   uint16
}
