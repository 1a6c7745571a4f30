// Package chain holds the in-memory chain view, the capability interfaces
// the rest of the server depends on (ChainSource, ChainRepository,
// FeeEstimator), and the chain monitor that keeps the persisted chain in
// sync with a Bitcoin node.
package chain

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// BlockHeader is the minimal header this package tracks: enough to walk the
// chain backwards/forwards and detect reorgs. Immutable once constructed.
type BlockHeader struct {
	Hash   chainhash.Hash
	Height int64
	Prev   chainhash.Hash
}

// Equal reports whether two headers identify the same block.
func (h BlockHeader) Equal(other BlockHeader) bool {
	return h.Hash == other.Hash
}

// Utxo is a transaction output observed in a block, independent of whether
// it pays a watched address.
type Utxo struct {
	BlockHash   chainhash.Hash
	BlockHeight int64
	Outpoint    wire.OutPoint
	Value       int64
	PkScript    []byte
}

// AddressUtxo pairs a Utxo with the address it was recognized as paying.
type AddressUtxo struct {
	Address string
	Utxo    Utxo
}

// SpentTxo records that an outpoint was consumed by a transaction input.
type SpentTxo struct {
	SpendingTxid       chainhash.Hash
	SpendingInputIndex uint32
	Outpoint           wire.OutPoint
}

// ConfirmedAtDepth reports whether a UTXO confirmed at blockHeight has at
// least depth confirmations given the current tip height.
func ConfirmedAtDepth(tipHeight, blockHeight int64, depth int64) bool {
	return tipHeight+1-blockHeight >= depth
}

// Sentinel errors for the chain view and its dependents.
var (
	ErrEmptyChain      = errors.New("chain: empty chain")
	ErrInvalidChain    = errors.New("chain: invalid chain")
	ErrBlockNotFound   = errors.New("chain: block not found")
	ErrMultipleTips    = errors.New("chain: multiple tips")
	ErrFeeUnavailable  = errors.New("chain: fee estimate unavailable")

	// ErrInsufficientFeeReplacement is returned by BroadcastTx when the node
	// rejected a rebroadcast because a competing transaction already in its
	// mempool pays at least as much fee — the claim scheduler treats this as
	// success rather than failure (spec §4.I).
	ErrInsufficientFeeReplacement = errors.New("chain: insufficient fee to replace existing mempool transaction")
)

// FeeEstimate is a fee rate expressed in satoshis per kilo-weight-unit.
type FeeEstimate struct {
	SatPerKw int64
}

// FeeEstimator produces a fee estimate for a given confirmation target
// (number of blocks until the caller wants the transaction to confirm).
type FeeEstimator interface {
	EstimateFee(ctx context.Context, confTarget int32) (FeeEstimate, error)
}

// ChainSource is the capability a chain monitor needs from a full node:
// tip/height lookups, header/block fetches, broadcast, and a node-native
// fallback fee estimate.
type ChainSource interface {
	GetTipHash(ctx context.Context) (chainhash.Hash, error)
	GetBlockHeader(ctx context.Context, hash chainhash.Hash) (BlockHeader, error)
	GetBlock(ctx context.Context, hash chainhash.Hash) (*wire.MsgBlock, error)
	GetBlockHeight(ctx context.Context) (int64, error)
	BroadcastTx(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error)
	EstimateSmartFee(ctx context.Context, confTarget int32) (FeeEstimate, error)

	// GetSenderAddresses resolves the addresses that funded outpoint's
	// transaction — the scriptPubKey address of each of that transaction's
	// own inputs' prevouts. Used by the address-filter service to reject
	// utxos whose ancestor senders are on the filter list.
	GetSenderAddresses(ctx context.Context, outpoint wire.OutPoint) ([]string, error)
}

// ChainRepository is the persistence contract the chain monitor drives.
// Implementations must make add_block atomic and undo_block's effect
// immediately visible to subsequent queries (spec invariant 4).
type ChainRepository interface {
	AddBlock(ctx context.Context, header BlockHeader, utxos []AddressUtxo, spent []SpentTxo) error
	UndoBlock(ctx context.Context, hash chainhash.Hash) error
	AddWatchAddress(ctx context.Context, address string) error
	AddWatchAddresses(ctx context.Context, addresses []string) error
	FilterWatchAddresses(ctx context.Context, addresses []string) ([]string, error)
	GetBlockHeaders(ctx context.Context) ([]BlockHeader, error)
	GetUtxosForAddress(ctx context.Context, address string) ([]AddressUtxo, error)
	GetUtxosForAddresses(ctx context.Context, addresses []string) ([]AddressUtxo, error)
	GetUtxos(ctx context.Context) ([]AddressUtxo, error)
	GetTip(ctx context.Context) (*BlockHeader, error)
}
