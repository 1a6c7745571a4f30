package claim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/lnswap/swapd/internal/chain"
	"github.com/lnswap/swapd/internal/swap"
)

// Service finds claimable utxos and builds, broadcasts and records the
// transaction that sweeps them to a destination address.
type Service struct {
	network     *chaincfg.Params
	chainSource chain.ChainSource
	chainRepo   chain.ChainRepository
	claimRepo   ClaimRepository
	swapRepo    swap.SwapRepository
	swapService *swap.Service
}

// NewService constructs a Service.
func NewService(
	network *chaincfg.Params,
	chainSource chain.ChainSource,
	chainRepo chain.ChainRepository,
	claimRepo ClaimRepository,
	swapRepo swap.SwapRepository,
	swapService *swap.Service,
) *Service {
	return &Service{
		network:     network,
		chainSource: chainSource,
		chainRepo:   chainRepo,
		claimRepo:   claimRepo,
		swapRepo:    swapRepo,
		swapService: swapService,
	}
}

// ListClaimable returns every confirmed utxo paid to a swap address whose
// preimage is known. A utxo whose payment attempt snapshot doesn't name it
// still comes back (PaidWithRequest empty) — the caller decides whether to
// act on it; this method only reports what's confirmed and unlocked.
func (s *Service) ListClaimable(ctx context.Context) ([]swap.ClaimableUtxo, error) {
	utxos, err := s.chainRepo.GetUtxos(ctx)
	if err != nil {
		return nil, fmt.Errorf("claim service: get utxos: %w", err)
	}

	addresses := make([]string, 0, len(utxos))
	for _, u := range utxos {
		addresses = append(addresses, u.Address)
	}

	swaps, err := s.swapRepo.GetSwapsWithPaidOutpoints(ctx, addresses)
	if err != nil {
		return nil, fmt.Errorf("claim service: get swaps: %w", err)
	}

	var claimables []swap.ClaimableUtxo
	for _, u := range utxos {
		state, ok := swaps[u.Address]
		if !ok {
			continue
		}
		if state.State.Preimage == nil {
			continue
		}

		var paidWithRequest string
		for _, po := range state.PaidOutpoints {
			if po.Outpoint == u.Utxo.Outpoint {
				paidWithRequest = po.PaymentRequest
				break
			}
		}

		claimables = append(claimables, swap.ClaimableUtxo{
			Swap:            state.State.Swap,
			Utxo:            u.Utxo,
			PaidWithRequest: paidWithRequest,
			Preimage:        *state.State.Preimage,
		})
	}

	return claimables, nil
}

// Claim builds a claim transaction spending claimables to destination,
// broadcasts it, persists it, and registers destination as a watch address —
// in that order, so a crash before the watch address is added still leaves
// the claim discoverable by its own txid on the next chain sync pass.
func (s *Service) Claim(
	ctx context.Context,
	claimables []swap.ClaimableUtxo,
	fee chain.FeeEstimate,
	currentHeight int64,
	destination string,
	autoBump bool,
) (*wire.MsgTx, error) {
	addr, err := btcutil.DecodeAddress(destination, s.network)
	if err != nil {
		return nil, fmt.Errorf("claim service: decode destination address: %w", err)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("claim service: build destination script: %w", err)
	}

	tx, err := s.swapService.CreateClaimTx(claimables, fee, currentHeight, pkScript)
	if err != nil {
		return nil, fmt.Errorf("claim service: create claim tx: %w", err)
	}

	outpoints := make([]string, len(claimables))
	for i, c := range claimables {
		outpoints[i] = c.Utxo.Outpoint.String()
	}
	slog.Debug("broadcasting claim tx", "feePerKw", fee.SatPerKw, "outpoints", outpoints, "txid", tx.TxHash())

	if _, err := s.chainSource.BroadcastTx(ctx, tx); err != nil {
		return nil, fmt.Errorf("claim service: broadcast: %w", err)
	}

	if err := s.claimRepo.AddClaim(ctx, &Claim{
		CreationTime:       time.Now(),
		Tx:                 tx,
		DestinationAddress: destination,
		FeePerKw:           fee.SatPerKw,
		AutoBump:           autoBump,
	}); err != nil {
		return nil, fmt.Errorf("claim service: add claim: %w", err)
	}

	if err := s.chainRepo.AddWatchAddress(ctx, destination); err != nil {
		return nil, fmt.Errorf("claim service: add watch address: %w", err)
	}

	return tx, nil
}
