// Package preimage watches for Lightning payments settling out from under
// swapd: either a live payment whose preimage the node has learned before
// swapd's own pay call returned, or one dispatched by a prior process
// instance that never recorded its outcome.
package preimage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/lnswap/swapd/internal/chain"
	"github.com/lnswap/swapd/internal/lightning"
	"github.com/lnswap/swapd/internal/swap"
)

// Monitor polls every watched address that holds an unspent utxo for swaps
// still missing a preimage and
// asks the Lightning node directly whether any of them have since settled.
// This catches a payment whose outcome never made it back through PaySwap's
// own return path — a crash between dispatch and UnlockAddPaymentResult, or
// a payment that settled on an entirely separate code path.
type Monitor struct {
	chainRepo    chain.ChainRepository
	lightning    lightning.Node
	swapRepo     swap.SwapRepository
	pollInterval time.Duration
}

// NewMonitor constructs a Monitor. pollInterval defaults to 30s when zero.
func NewMonitor(chainRepo chain.ChainRepository, lightningNode lightning.Node, swapRepo swap.SwapRepository, pollInterval time.Duration) *Monitor {
	if pollInterval == 0 {
		pollInterval = 30 * time.Second
	}
	return &Monitor{
		chainRepo:    chainRepo,
		lightning:    lightningNode,
		swapRepo:     swapRepo,
		pollInterval: pollInterval,
	}
}

// Run polls doQueryPreimages on pollInterval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		slog.Debug("starting preimage query pass")
		if err := m.doQueryPreimages(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("preimage query pass failed", "error", err)
		} else {
			slog.Debug("preimage query pass completed")
		}

		select {
		case <-ctx.Done():
			slog.Debug("preimage monitor shutting down")
			return nil
		case <-time.After(m.pollInterval):
		}
	}
}

// doQueryPreimages finds every swap whose address holds an unspent utxo and
// has no known preimage yet, then queries the Lightning node for each payment hash
// concurrently. A settled preimage is persisted via UnlockAddPaymentResult;
// a lookup failure for one hash is logged and doesn't block the rest.
func (m *Monitor) doQueryPreimages(ctx context.Context) error {
	utxos, err := m.chainRepo.GetUtxos(ctx)
	if err != nil {
		return fmt.Errorf("preimage monitor: get utxos: %w", err)
	}

	addresses := make([]string, 0, len(utxos))
	for _, u := range utxos {
		addresses = append(addresses, u.Address)
	}

	swaps, err := m.swapRepo.GetSwaps(ctx, addresses)
	if err != nil {
		return fmt.Errorf("preimage monitor: get swaps: %w", err)
	}

	var pending []chainhash.Hash
	for _, state := range swaps {
		if state.Preimage != nil {
			continue
		}
		pending = append(pending, state.Swap.Public.Hash)
	}

	var wg sync.WaitGroup
	wg.Add(len(pending))
	for _, hash := range pending {
		hash := hash
		go func() {
			defer wg.Done()
			if err := m.queryOne(ctx, hash); err != nil {
				slog.Error("failed to query preimage", "hash", hash, "error", err)
			}
		}()
	}
	wg.Wait()

	return nil
}

func (m *Monitor) queryOne(ctx context.Context, hash chainhash.Hash) error {
	result, err := m.lightning.GetPreimage(ctx, hash)
	if err != nil {
		return fmt.Errorf("get preimage: %w", err)
	}
	if result == nil {
		return nil
	}

	slog.Info("found settled preimage", "hash", hash, "label", result.Label)
	if err := m.swapRepo.UnlockAddPaymentResult(ctx, hash, result.Label, &swap.PaymentResult{
		Label:       result.Label,
		PaymentHash: hash,
		Success:     true,
		Preimage:    &result.Preimage,
		RecordedAt:  time.Now(),
	}); err != nil {
		return fmt.Errorf("persist payment result: %w", err)
	}
	return nil
}
