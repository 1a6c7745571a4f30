package chain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Monitor drives two cooperative loops against a ChainSource/ChainRepository
// pair: a frequent tip sync and an infrequent full sync starting from the
// repository's birthday header. Both loops share the caller's context for
// cancellation.
type Monitor struct {
	params      *chaincfg.Params
	source      ChainSource
	repo        ChainRepository
	tipInterval  time.Duration
	fullInterval time.Duration
}

// NewMonitor constructs a Monitor. tipInterval and fullInterval default to
// 60s/24h respectively when zero.
func NewMonitor(params *chaincfg.Params, source ChainSource, repo ChainRepository, tipInterval, fullInterval time.Duration) *Monitor {
	if tipInterval == 0 {
		tipInterval = 60 * time.Second
	}
	if fullInterval == 0 {
		fullInterval = 24 * time.Hour
	}
	return &Monitor{
		params:       params,
		source:       source,
		repo:         repo,
		tipInterval:  tipInterval,
		fullInterval: fullInterval,
	}
}

// Run bootstraps the chain view and blocks until ctx is cancelled, running
// the tip-sync and full-sync loops concurrently.
func (m *Monitor) Run(ctx context.Context) error {
	headers, err := m.repo.GetBlockHeaders(ctx)
	if err != nil {
		return fmt.Errorf("chain monitor: load headers: %w", err)
	}

	tipChain, err := ChainFromHeaders(headers)
	if err != nil {
		if err != ErrEmptyChain {
			return fmt.Errorf("chain monitor: build chain: %w", err)
		}
		birthday, err := m.fetchBirthday(ctx)
		if err != nil {
			return fmt.Errorf("chain monitor: fetch birthday: %w", err)
		}
		if err := m.repo.AddBlock(ctx, birthday, nil, nil); err != nil {
			return fmt.Errorf("chain monitor: persist birthday: %w", err)
		}
		tipChain = NewChain(birthday)
	}

	fullSyncChain := NewChain(tipChain.Base())

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := m.runTipSync(ctx, tipChain); err != nil && ctx.Err() == nil {
			slog.Error("chain tip sync exited with error", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := m.runFullSync(ctx, fullSyncChain); err != nil && ctx.Err() == nil {
			slog.Error("chain full sync exited with error", "error", err)
		}
	}()

	wg.Wait()
	return nil
}

// fetchBirthday walks back 20 blocks from the node's current tip.
func (m *Monitor) fetchBirthday(ctx context.Context) (BlockHeader, error) {
	tipHash, err := m.source.GetTipHash(ctx)
	if err != nil {
		return BlockHeader{}, err
	}
	h, err := m.source.GetBlockHeader(ctx, tipHash)
	if err != nil {
		return BlockHeader{}, err
	}
	for i := 0; i < 20; i++ {
		h, err = m.source.GetBlockHeader(ctx, h.Prev)
		if err != nil {
			return BlockHeader{}, err
		}
	}
	return h, nil
}

func (m *Monitor) runTipSync(ctx context.Context, c *Chain) error {
	ticker := time.NewTicker(m.tipInterval)
	defer ticker.Stop()

	for {
		if err := m.doSync(ctx, c); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("tip sync pass failed, will retry", "error", err)
		}

		select {
		case <-ctx.Done():
			slog.Debug("chain monitor tip sync shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) runFullSync(ctx context.Context, birthdayChain *Chain) error {
	ticker := time.NewTicker(m.fullInterval)
	defer ticker.Stop()

	for {
		c := birthdayChain.Clone()
		if err := m.doSync(ctx, c); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("full sync pass failed, will retry", "error", err)
		}

		select {
		case <-ctx.Done():
			slog.Debug("chain monitor full sync shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

// doSync is one pass: walk backward from the node tip to the common
// ancestor with existingChain, undo any reorged blocks, walk forward
// re-processing (process_block is idempotent by repo design), then retip.
func (m *Monitor) doSync(ctx context.Context, existingChain *Chain) error {
	slog.Debug("chain sync starting", "from", existingChain.Tip().Hash)

	tipHash, err := m.source.GetTipHash(ctx)
	if err != nil {
		return err
	}
	current, err := m.source.GetBlockHeader(ctx, tipHash)
	if err != nil {
		return err
	}
	newChain := NewChain(current)

	for !existingChain.Contains(current.Hash) {
		if ctx.Err() != nil {
			return nil
		}
		current, err = m.source.GetBlockHeader(ctx, current.Prev)
		if err != nil {
			return err
		}
		if err := newChain.Prepend(current); err != nil {
			return err
		}
	}

	slog.Debug("headers caught up", "newBase", newChain.Base().Hash, "existingTip", existingChain.Tip().Hash)

	if newChain.Base().Hash != existingChain.Tip().Hash {
		for _, reorged := range existingChain.IterBackwards() {
			if ctx.Err() != nil {
				return nil
			}
			if newChain.Contains(reorged.Hash) {
				break
			}
			slog.Debug("block reorged out, undoing", "hash", reorged.Hash)
			if err := m.repo.UndoBlock(ctx, reorged.Hash); err != nil {
				return err
			}
		}
	}

	for _, h := range newChain.IterForwards() {
		if ctx.Err() != nil {
			return nil
		}
		slog.Debug("processing block", "hash", h.Hash, "height", h.Height)
		block, err := m.source.GetBlock(ctx, h.Hash)
		if err != nil {
			return err
		}
		if err := m.processBlock(ctx, block); err != nil {
			return err
		}
	}

	return existingChain.Retip(newChain)
}

// processBlock extracts every output paying a recognized address and every
// spent outpoint, intersects addresses with the watched set, then persists
// the block as one atomic unit.
func (m *Monitor) processBlock(ctx context.Context, block *wire.MsgBlock) error {
	blockHash := block.BlockHash()
	height, err := bip34Height(block)
	if err != nil {
		return fmt.Errorf("chain monitor: extract block height: %w", err)
	}

	var spent []SpentTxo
	addressUtxos := map[string][]AddressUtxo{}
	var addresses []string
	seen := map[string]bool{}

	for _, tx := range block.Transactions {
		txid := tx.TxHash()
		for vout, out := range tx.TxOut {
			_, addrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, m.params)
			if err != nil || len(addrs) == 0 {
				continue
			}
			addr := addrs[0].EncodeAddress()
			if !seen[addr] {
				seen[addr] = true
				addresses = append(addresses, addr)
			}
			addressUtxos[addr] = append(addressUtxos[addr], AddressUtxo{
				Address: addr,
				Utxo: Utxo{
					BlockHash:   blockHash,
					BlockHeight: height,
					Outpoint:    wire.OutPoint{Hash: txid, Index: uint32(vout)},
					Value:       out.Value,
					PkScript:    out.PkScript,
				},
			})
		}

		for vin, in := range tx.TxIn {
			spent = append(spent, SpentTxo{
				SpendingTxid:       txid,
				SpendingInputIndex: uint32(vin),
				Outpoint:           in.PreviousOutPoint,
			})
		}
	}

	watched, err := m.repo.FilterWatchAddresses(ctx, addresses)
	if err != nil {
		return err
	}

	var watchUtxos []AddressUtxo
	for _, a := range watched {
		watchUtxos = append(watchUtxos, addressUtxos[a]...)
	}

	slog.Debug("block contains utxos to watched addresses", "hash", blockHash, "count", len(watchUtxos))

	return m.repo.AddBlock(ctx, BlockHeader{
		Hash:   blockHash,
		Height: height,
		Prev:   block.Header.PrevBlock,
	}, watchUtxos, spent)
}

// bip34Height extracts the block height encoded in the coinbase scriptSig
// per BIP-34. Every block the monitor processes is past the BIP-34
// activation height on all supported networks.
func bip34Height(block *wire.MsgBlock) (int64, error) {
	if len(block.Transactions) == 0 {
		return 0, fmt.Errorf("block has no coinbase transaction")
	}
	height, err := txscript.ExtractCoinbaseHeight(block.Transactions[0])
	if err != nil {
		return 0, err
	}
	return int64(height), nil
}
