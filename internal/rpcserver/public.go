// Package rpcserver implements the application logic behind swapd's public
// and internal RPC surfaces (spec §6). The concrete service definitions are
// generated from a .proto this module does not own; PublicService and
// InternalService are the plain-Go services a generated server stub calls
// into, with every domain error already collapsed to the grpc/status
// taxonomy of spec §7 so wiring in the generated bindings is a direct
// pass-through.
package rpcserver

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/lnswap/swapd/internal/payswap"
)

// PublicService backs the client-facing swap surface: create a swap,
// notify the server a Lightning payment was made, and cooperatively refund.
type PublicService struct {
	payswap *payswap.Service
}

// NewPublicService constructs a PublicService.
func NewPublicService(payswapService *payswap.Service) *PublicService {
	return &PublicService{payswap: payswapService}
}

// CreateSwapResponse is what CreateSwap hands back to the client: the
// deposit address to fund, the server's claim pubkey (half of the
// cooperative-refund MuSig2 key), and the block height the refund path
// unlocks at.
type CreateSwapResponse struct {
	Address     string
	ClaimPubkey *btcec.PublicKey
	LockHeight  uint32
}

// CreateSwap mints a new submarine swap for refundPubkey/hash.
func (s *PublicService) CreateSwap(ctx context.Context, refundPubkey *btcec.PublicKey, hash chainhash.Hash) (*CreateSwapResponse, error) {
	swp, err := s.payswap.CreateSwap(ctx, refundPubkey, hash)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CreateSwapResponse{
		Address:     swp.Public.Address,
		ClaimPubkey: swp.Public.ClaimPubkey,
		LockHeight:  swp.Public.LockHeight,
	}, nil
}

// PaySwap notifies the server that paymentRequest was paid for an existing
// swap, dispatching the Lightning payment synchronously.
func (s *PublicService) PaySwap(ctx context.Context, paymentRequest string) error {
	if err := s.payswap.PaySwap(ctx, paymentRequest); err != nil {
		return toStatus(err)
	}
	return nil
}

// RefundSwapResponse carries the server's half of a cooperative MuSig2
// refund signature back to the client, who combines it with their own.
type RefundSwapResponse struct {
	PartialSig *musig2.PartialSignature
	PubNonce   [musig2.PubNonceSize]byte
}

// RefundSwap signs the client-supplied refund transaction cooperatively.
func (s *PublicService) RefundSwap(
	ctx context.Context,
	hash chainhash.Hash,
	tx *wire.MsgTx,
	prevOuts map[wire.OutPoint]*wire.TxOut,
	inputIndex int,
	theirPubNonce [musig2.PubNonceSize]byte,
) (*RefundSwapResponse, error) {
	partialSig, pubNonce, err := s.payswap.RefundSwap(ctx, hash, tx, prevOuts, inputIndex, theirPubNonce)
	if err != nil {
		return nil, toStatus(err)
	}
	return &RefundSwapResponse{PartialSig: partialSig, PubNonce: pubNonce}, nil
}
