// Package swap holds the submarine-swap domain types and the cryptography
// that builds a swap's taproot output, its claim transaction, and its
// cooperative-refund MuSig2 partial signature.
package swap

import (
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/lnswap/swapd/internal/chain"
)

// SwapPublicData is everything about a swap that is safe to hand back to a
// client or persist in plaintext.
type SwapPublicData struct {
	Address      string
	ClaimPubkey  *btcec.PublicKey
	ClaimScript  []byte
	Hash         chainhash.Hash // sha256 of the payment preimage
	LockHeight   uint32
	RefundPubkey *btcec.PublicKey
	RefundScript []byte
}

// SwapPrivateData is the half of a swap that must never leave the server —
// the ephemeral claim private key swapd generates on the server's behalf.
type SwapPrivateData struct {
	ClaimPrivkey *btcec.PrivateKey
}

// Swap is one submarine swap: a taproot output the client funds on-chain,
// claimable by swapd with the Lightning preimage or refundable cooperatively
// (MuSig2 key-spend) or unilaterally (script-spend) after LockHeight.
type Swap struct {
	CreationTime time.Time
	Public       SwapPublicData
	Private      SwapPrivateData
}

// BlocksLeft returns how many blocks remain until the refund path unlocks,
// negative once it already has.
func (s *Swap) BlocksLeft(currentHeight int64) int32 {
	return int32(int64(s.Public.LockHeight) - currentHeight)
}

// ClaimableUtxo pairs a confirmed on-chain utxo with the swap and preimage
// needed to spend it via the claim script path.
type ClaimableUtxo struct {
	Swap            Swap
	Utxo            chain.Utxo
	PaidWithRequest string // bolt11 invoice this utxo's payment corresponds to, if known
	Preimage        [32]byte
}

// PaymentAttempt records one dispatched Lightning payment for a swap.
type PaymentAttempt struct {
	Label        string
	PaymentHash  chainhash.Hash
	Bolt11       string
	Destination  []byte
	AmountMsat   int64
	UtxoSnapshot []wire.OutPoint
	CreationTime time.Time
}

// PaymentResult is the terminal outcome of a PaymentAttempt.
type PaymentResult struct {
	Label       string
	PaymentHash chainhash.Hash
	Success     bool
	Preimage    *[32]byte
	Error       string
	RecordedAt  time.Time
}

// Sentinel errors for the swap cryptography.
var (
	ErrAmountTooLow       = errors.New("swap: amount too low to cover fee above dust limit")
	ErrInvalidWeight      = errors.New("swap: computed transaction weight overflowed")
	ErrNoClaimables       = errors.New("swap: no claimable utxos supplied")
	ErrTaprootBuild       = errors.New("swap: failed to build taproot spend info")
	ErrInvalidBlockHeight = errors.New("swap: value is not a legal block-height locktime")
)

// maxBlockHeightLockTime is the boundary between a height-based and a
// time-based nLockTime/CHECKLOCKTIMEVERIFY value (BIP 65/113): values below
// it are interpreted as a block height, values at or above it as a Unix
// timestamp. Every locktime this package produces must stay below it.
const maxBlockHeightLockTime = 500_000_000
