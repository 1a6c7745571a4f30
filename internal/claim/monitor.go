package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/lnswap/swapd/internal/chain"
	"github.com/lnswap/swapd/internal/swap"
)

// minReplacementDiffSatPerKw is the fee-rate margin a claim must still clear
// before the scheduler leaves it alone instead of replacing it: rebroadcast
// the same tx unless the network has moved the estimate at least this far
// past what the claim already pays.
const minReplacementDiffSatPerKw = 250

// Monitor polls for claimable utxos, keeps one claim transaction in flight
// per swap, and bumps its fee as confirmation targets tighten.
type Monitor struct {
	chainSource  chain.ChainSource
	feeEstimator chain.FeeEstimator
	claimRepo    ClaimRepository
	claimService *Service
	wallet       Wallet
	pollInterval time.Duration
}

// NewMonitor constructs a Monitor. pollInterval defaults to 30s when zero.
func NewMonitor(chainSource chain.ChainSource, feeEstimator chain.FeeEstimator, claimRepo ClaimRepository, claimService *Service, wallet Wallet, pollInterval time.Duration) *Monitor {
	if pollInterval == 0 {
		pollInterval = 30 * time.Second
	}
	return &Monitor{
		chainSource:  chainSource,
		feeEstimator: feeEstimator,
		claimRepo:    claimRepo,
		claimService: claimService,
		wallet:       wallet,
		pollInterval: pollInterval,
	}
}

// Run polls doClaim on pollInterval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		slog.Debug("starting claim pass")
		if err := m.doClaim(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("claim pass failed", "error", err)
		} else {
			slog.Debug("claim pass completed")
		}

		select {
		case <-ctx.Done():
			slog.Debug("claim monitor shutting down")
			return nil
		case <-time.After(m.pollInterval):
		}
	}
}

type recheckJob struct {
	claim      *Claim
	claimables []swap.ClaimableUtxo
}

// doClaim is one pass: it partitions currently claimable utxos into those
// already covered by an in-flight claim (rechecked for fee adequacy) and
// those newly discovered (grouped per swap and claimed fresh), then runs
// every resulting unit of work concurrently.
func (m *Monitor) doClaim(ctx context.Context) error {
	currentHeight, err := m.chainSource.GetBlockHeight(ctx)
	if err != nil {
		return fmt.Errorf("claim monitor: get block height: %w", err)
	}

	claimableList, err := m.claimService.ListClaimable(ctx)
	if err != nil {
		return fmt.Errorf("claim monitor: list claimable: %w", err)
	}

	claimables := make(map[wire.OutPoint]swap.ClaimableUtxo, len(claimableList))
	outpoints := make([]wire.OutPoint, 0, len(claimableList))
	for _, c := range claimableList {
		claimables[c.Utxo.Outpoint] = c
		outpoints = append(outpoints, c.Utxo.Outpoint)
	}

	claims, err := m.claimRepo.GetClaims(ctx, outpoints)
	if err != nil {
		return fmt.Errorf("claim monitor: get claims: %w", err)
	}

	unhandled := make(map[wire.OutPoint]bool, len(claimables))
	for op := range claimables {
		unhandled[op] = true
	}

	var recheckJobs []recheckJob
	for _, c := range claims {
		inputs := make([]wire.OutPoint, len(c.Tx.TxIn))
		for i, in := range c.Tx.TxIn {
			inputs[i] = in.PreviousOutPoint
		}

		allClaimable := true
		for _, op := range inputs {
			if _, ok := claimables[op]; !ok {
				allClaimable = false
				break
			}
		}
		if !allClaimable {
			continue
		}

		current := make([]swap.ClaimableUtxo, len(inputs))
		for i, op := range inputs {
			delete(unhandled, op)
			current[i] = claimables[op]
		}
		recheckJobs = append(recheckJobs, recheckJob{claim: c, claimables: current})
	}

	// Group the rest by swap. Don't claim funds that arrived over an
	// unexpected extra on-chain payment rather than Lightning — the snapshot
	// that paid for them is unknown, so there's no proof they're safe to sweep.
	swaps := make(map[chainhash.Hash][]swap.ClaimableUtxo)
	for op := range unhandled {
		c := claimables[op]
		if c.PaidWithRequest == "" {
			continue
		}
		swaps[c.Swap.Public.Hash] = append(swaps[c.Swap.Public.Hash], c)
	}

	var wg sync.WaitGroup
	wg.Add(len(recheckJobs) + len(swaps))

	for _, job := range recheckJobs {
		job := job
		go func() {
			defer wg.Done()
			if err := m.recheckClaim(ctx, currentHeight, job.claim, job.claimables); err != nil {
				ops := outpointStrings(job.claimables)
				slog.Error("failed to recheck claim", "txid", job.claim.Tx.TxHash(), "outpoints", ops, "error", err)
			}
		}()
	}
	for _, group := range swaps {
		group := group
		go func() {
			defer wg.Done()
			if err := m.claimFresh(ctx, currentHeight, group); err != nil {
				slog.Error("failed to create claim", "outpoints", outpointStrings(group), "error", err)
			}
		}()
	}
	wg.Wait()

	return nil
}

func (m *Monitor) recheckClaim(ctx context.Context, currentHeight int64, c *Claim, claimables []swap.ClaimableUtxo) error {
	blocksLeft, ok := minBlocksLeft(claimables, currentHeight)
	if !ok {
		return fmt.Errorf("claim monitor: recheck with no claimables")
	}

	feeEstimate, err := m.feeEstimator.EstimateFee(ctx, blocksLeft)
	if err != nil {
		return fmt.Errorf("claim monitor: estimate fee: %w", err)
	}

	if c.FeePerKw+minReplacementDiffSatPerKw > feeEstimate.SatPerKw {
		_, err := m.chainSource.BroadcastTx(ctx, c.Tx)
		if err == nil {
			slog.Debug("rebroadcast claim tx", "txid", c.Tx.TxHash())
			return nil
		}
		if errors.Is(err, chain.ErrInsufficientFeeReplacement) {
			slog.Debug("rebroadcast claim tx superseded by higher-fee mempool entry", "txid", c.Tx.TxHash())
			return nil
		}
		return fmt.Errorf("claim monitor: rebroadcast: %w", err)
	}

	replacement, err := m.claimService.Claim(ctx, claimables, feeEstimate, currentHeight, c.DestinationAddress, c.AutoBump)
	if err != nil {
		return fmt.Errorf("claim monitor: build replacement: %w", err)
	}
	slog.Debug("broadcast replacement claim tx", "txid", replacement.TxHash(), "prevTxid", c.Tx.TxHash())
	return nil
}

func (m *Monitor) claimFresh(ctx context.Context, currentHeight int64, claimables []swap.ClaimableUtxo) error {
	blocksLeft, ok := minBlocksLeft(claimables, currentHeight)
	if !ok {
		return fmt.Errorf("claim monitor: claim with no claimables")
	}

	var (
		wg          sync.WaitGroup
		feeEstimate chain.FeeEstimate
		feeErr      error
		address     string
		addressErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		feeEstimate, feeErr = m.feeEstimator.EstimateFee(ctx, blocksLeft)
	}()
	go func() {
		defer wg.Done()
		address, addressErr = m.wallet.NewAddress(ctx)
	}()
	wg.Wait()

	if feeErr != nil {
		return fmt.Errorf("claim monitor: estimate fee: %w", feeErr)
	}
	if addressErr != nil {
		return fmt.Errorf("claim monitor: new address: %w", addressErr)
	}

	if _, err := m.claimService.Claim(ctx, claimables, feeEstimate, currentHeight, address, true); err != nil {
		return fmt.Errorf("claim monitor: claim: %w", err)
	}
	return nil
}

func minBlocksLeft(claimables []swap.ClaimableUtxo, currentHeight int64) (int32, bool) {
	if len(claimables) == 0 {
		return 0, false
	}
	min := claimables[0].Swap.BlocksLeft(currentHeight)
	for _, c := range claimables[1:] {
		if bl := c.Swap.BlocksLeft(currentHeight); bl < min {
			min = bl
		}
	}
	return min, true
}

func outpointStrings(claimables []swap.ClaimableUtxo) []string {
	out := make([]string, len(claimables))
	for i, c := range claimables {
		out[i] = c.Utxo.Outpoint.String()
	}
	return out
}
