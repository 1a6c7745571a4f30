package swap

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// SwapState is a persisted swap together with its preimage, once known.
type SwapState struct {
	Swap     Swap
	Preimage *[32]byte
}

// PaidOutpoint names one utxo a PaymentAttempt's snapshot covered, together
// with the bolt11 request that attempt paid.
type PaidOutpoint struct {
	Outpoint       wire.OutPoint
	PaymentRequest string
}

// SwapStateWithPaidOutpoints is a SwapState annotated with which of its
// address's utxos are known to have been paid for by a Lightning payment
// (invariant I5 in the claim scheduler: an outpoint is only claimable once
// some PaymentAttempt's snapshot names it and that attempt's swap has a
// known preimage).
type SwapStateWithPaidOutpoints struct {
	State         SwapState
	PaidOutpoints []PaidOutpoint
}

// Sentinel errors for SwapRepository.
var (
	ErrAlreadyExists    = errors.New("swap: already exists")
	ErrSwapNotFound     = errors.New("swap: not found")
	ErrPreimageMismatch = errors.New("swap: preimage does not match payment hash")
)

// SwapRepository persists swaps, payment attempts/results, and the
// address-filter deny set. add_payment_attempt enforces the single
// concurrency primitive in the whole system: at most one active (unresolved)
// attempt may exist per payment hash.
type SwapRepository interface {
	AddSwap(ctx context.Context, swp *Swap) error
	AddPaymentAttempt(ctx context.Context, attempt *PaymentAttempt) error
	UnlockAddPaymentResult(ctx context.Context, hash chainhash.Hash, label string, result *PaymentResult) error

	GetSwapByHash(ctx context.Context, hash chainhash.Hash) (*SwapState, error)
	GetSwapByAddress(ctx context.Context, address string) (*SwapState, error)
	GetSwapByPaymentRequest(ctx context.Context, bolt11 string) (*SwapState, error)
	GetSwaps(ctx context.Context, addresses []string) (map[string]*SwapState, error)
	GetSwapsWithPaidOutpoints(ctx context.Context, addresses []string) (map[string]*SwapStateWithPaidOutpoints, error)
	GetUnhandledPaymentAttempts(ctx context.Context) ([]*PaymentAttempt, error)

	AddFilterAddresses(ctx context.Context, addresses []string) error
	HasFilteredAddress(ctx context.Context, addresses []string) (bool, error)
}
