// Package bitcoind implements chain.ChainSource and a node-native fallback
// chain.FeeEstimator against a bitcoind JSON-RPC endpoint.
package bitcoind

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/lnswap/swapd/internal/chain"
)

// Client wraps rpcclient.Client to implement chain.ChainSource. Every call
// also accepts a context so callers can cancel a stuck RPC round-trip, even
// though rpcclient itself is synchronous — cancellation is checked before
// issuing the call.
type Client struct {
	rpc *rpcclient.Client
}

// Config holds the bitcoind RPC connection parameters.
type Config struct {
	Host   string
	User   string
	Pass   string
	UseTLS bool
}

// New dials a bitcoind JSON-RPC endpoint in HTTP POST mode (no notification
// support needed — the chain monitor polls rather than subscribes).
func New(cfg Config) (*Client, error) {
	rpc, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   !cfg.UseTLS,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("bitcoind: dial rpc: %w", err)
	}
	return &Client{rpc: rpc}, nil
}

// Shutdown releases the underlying RPC client's resources.
func (c *Client) Shutdown() {
	c.rpc.Shutdown()
}

var _ chain.ChainSource = (*Client)(nil)

// GetTipHash returns the node's best block hash.
func (c *Client) GetTipHash(ctx context.Context) (chainhash.Hash, error) {
	if err := ctx.Err(); err != nil {
		return chainhash.Hash{}, err
	}
	h, err := c.rpc.GetBestBlockHash()
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("bitcoind: getbestblockhash: %w", err)
	}
	return *h, nil
}

// GetBlockHeader fetches and parses a header by hash.
func (c *Client) GetBlockHeader(ctx context.Context, hash chainhash.Hash) (chain.BlockHeader, error) {
	if err := ctx.Err(); err != nil {
		return chain.BlockHeader{}, err
	}
	resp, err := c.rpc.GetBlockHeaderVerbose(&hash)
	if err != nil {
		return chain.BlockHeader{}, fmt.Errorf("bitcoind: getblockheader %s: %w", hash, err)
	}
	prev, err := chainhash.NewHashFromStr(resp.PreviousHash)
	if err != nil {
		// The genesis block has no previous hash; treat it as the zero hash.
		if resp.PreviousHash == "" {
			prev = &chainhash.Hash{}
		} else {
			return chain.BlockHeader{}, fmt.Errorf("bitcoind: parse prev hash: %w", err)
		}
	}
	return chain.BlockHeader{Hash: hash, Height: int64(resp.Height), Prev: *prev}, nil
}

// GetBlock fetches the full block by hash.
func (c *Client) GetBlock(ctx context.Context, hash chainhash.Hash) (*wire.MsgBlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	block, err := c.rpc.GetBlock(&hash)
	if err != nil {
		return nil, fmt.Errorf("bitcoind: getblock %s: %w", hash, err)
	}
	return block, nil
}

// GetBlockHeight returns the node's current block count.
func (c *Client) GetBlockHeight(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	h, err := c.rpc.GetBlockCount()
	if err != nil {
		return 0, fmt.Errorf("bitcoind: getblockcount: %w", err)
	}
	return h, nil
}

// BroadcastTx relays a signed transaction to the network. A rejection
// because a competing transaction already occupies the mempool at an equal
// or higher fee rate is reported as chain.ErrInsufficientFeeReplacement
// rather than a generic error, so callers doing fee-bump rebroadcasts (the
// claim scheduler) can treat it as success.
func (c *Client) BroadcastTx(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error) {
	if err := ctx.Err(); err != nil {
		return chainhash.Hash{}, err
	}
	hash, err := c.rpc.SendRawTransaction(tx, false)
	if err != nil {
		var rpcErr *btcjson.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == btcjson.ErrRPCTxRejected &&
			strings.Contains(strings.ToLower(rpcErr.Message), "insufficient fee") {
			return chainhash.Hash{}, chain.ErrInsufficientFeeReplacement
		}
		return chainhash.Hash{}, fmt.Errorf("bitcoind: sendrawtransaction: %w", err)
	}
	return *hash, nil
}

// EstimateSmartFee asks bitcoind's own fee estimator, clamped to the range it
// accepts (1..1008 blocks), and converts btc/kvb to sat/kw.
func (c *Client) EstimateSmartFee(ctx context.Context, confTarget int32) (chain.FeeEstimate, error) {
	if err := ctx.Err(); err != nil {
		return chain.FeeEstimate{}, err
	}
	target := clamp(confTarget, 1, 1008)
	mode := btcjson.EstimateModeConservative
	resp, err := c.rpc.EstimateSmartFee(int64(target), &mode)
	if err != nil {
		return chain.FeeEstimate{}, fmt.Errorf("bitcoind: estimatesmartfee: %w", err)
	}
	if resp.FeeRate == nil {
		slog.Warn("bitcoind: estimatesmartfee returned no feerate", "confTarget", target, "errors", resp.Errors)
		return chain.FeeEstimate{}, chain.ErrFeeUnavailable
	}
	// feerate is BTC/kvB; *100_000_000 sat/BTC / 4 weight-units per vbyte.
	satPerKw := int64(math.Ceil(*resp.FeeRate * 25_000_000.0))
	return chain.FeeEstimate{SatPerKw: satPerKw}, nil
}

// EstimateFee satisfies chain.FeeEstimator by delegating to
// EstimateSmartFee, so *Client can serve as the fallback estimator's
// secondary alongside whatthefee's primary.
func (c *Client) EstimateFee(ctx context.Context, confTarget int32) (chain.FeeEstimate, error) {
	return c.EstimateSmartFee(ctx, confTarget)
}

var _ chain.FeeEstimator = (*Client)(nil)

// GetSenderAddresses resolves outpoint's own transaction, then for each of
// that transaction's inputs resolves the prevout's scriptPubKey address —
// the set of addresses that funded it. Coinbase inputs contribute nothing.
func (c *Client) GetSenderAddresses(ctx context.Context, outpoint wire.OutPoint) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := c.rpc.GetRawTransactionVerbose(&outpoint.Hash)
	if err != nil {
		return nil, fmt.Errorf("bitcoind: getrawtransaction %s: %w", outpoint.Hash, err)
	}

	var addresses []string
	for _, vin := range tx.Vin {
		if vin.Txid == "" {
			continue // coinbase input, no prevout to attribute
		}
		prevHash, err := chainhash.NewHashFromStr(vin.Txid)
		if err != nil {
			return nil, fmt.Errorf("bitcoind: parse prevout txid: %w", err)
		}
		prevTx, err := c.rpc.GetRawTransactionVerbose(prevHash)
		if err != nil {
			return nil, fmt.Errorf("bitcoind: getrawtransaction (prevout) %s: %w", prevHash, err)
		}
		if int(vin.Vout) >= len(prevTx.Vout) {
			continue
		}
		spk := prevTx.Vout[vin.Vout].ScriptPubKey
		switch {
		case spk.Address != "":
			addresses = append(addresses, spk.Address)
		case len(spk.Addresses) > 0:
			addresses = append(addresses, spk.Addresses...)
		}
	}
	return addresses, nil
}

func clamp(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
