package rpcserver

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lnswap/swapd/internal/chain"
	"github.com/lnswap/swapd/internal/claim"
	"github.com/lnswap/swapd/internal/swap"
)

// Stopper is the single capability InternalService.Stop needs from the
// supervisor: cancel the shared token that every background loop and RPC
// server watches.
type Stopper interface {
	Stop()
}

// InternalService backs the operator-facing surface: address-filter
// maintenance, swap/claim introspection, and manual claim dispatch.
type InternalService struct {
	network     *chaincfg.Params
	swapRepo    swap.SwapRepository
	chainRepo   chain.ChainRepository
	feeEstimator chain.FeeEstimator
	claimService *claim.Service
	wallet       claim.Wallet
	supervisor   Stopper
}

// NewInternalService constructs an InternalService.
func NewInternalService(
	network *chaincfg.Params,
	swapRepo swap.SwapRepository,
	chainRepo chain.ChainRepository,
	feeEstimator chain.FeeEstimator,
	claimService *claim.Service,
	wallet claim.Wallet,
	supervisor Stopper,
) *InternalService {
	return &InternalService{
		network:      network,
		swapRepo:     swapRepo,
		chainRepo:    chainRepo,
		feeEstimator: feeEstimator,
		claimService: claimService,
		wallet:       wallet,
		supervisor:   supervisor,
	}
}

// AddAddressFilters adds addresses to the filter-address deny list (spec
// §4.G): a confirmed utxo whose funding transaction was sent by one of
// these addresses is excluded from being treated as a paid swap deposit.
func (s *InternalService) AddAddressFilters(ctx context.Context, addresses []string) error {
	if err := s.swapRepo.AddFilterAddresses(ctx, addresses); err != nil {
		return toStatus(err)
	}
	return nil
}

// GetInfoResponse reports the server's current chain view.
type GetInfoResponse struct {
	Network     string
	BlockHeight int64
	TipHash     chainhash.Hash
}

// GetInfo reports the network this server is running on and its current
// synced chain tip.
func (s *InternalService) GetInfo(ctx context.Context) (*GetInfoResponse, error) {
	tip, err := s.chainRepo.GetTip(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &GetInfoResponse{Network: s.network.Name}
	if tip != nil {
		resp.BlockHeight = tip.Height
		resp.TipHash = tip.Hash
	}
	return resp, nil
}

// GetSwapRequest selects a swap by exactly one of its lookup keys; all
// three resolve to the same underlying swap.SwapState.
type GetSwapRequest struct {
	Address        string
	PaymentRequest string
	PaymentHash    *chainhash.Hash
}

// GetSwap looks a swap up by address, bolt11 payment request, or payment
// hash — whichever field of req is set.
func (s *InternalService) GetSwap(ctx context.Context, req GetSwapRequest) (*swap.SwapState, error) {
	switch {
	case req.PaymentHash != nil:
		state, err := s.swapRepo.GetSwapByHash(ctx, *req.PaymentHash)
		if err != nil {
			return nil, toStatus(err)
		}
		return state, nil
	case req.Address != "":
		state, err := s.swapRepo.GetSwapByAddress(ctx, req.Address)
		if err != nil {
			return nil, toStatus(err)
		}
		return state, nil
	case req.PaymentRequest != "":
		state, err := s.swapRepo.GetSwapByPaymentRequest(ctx, req.PaymentRequest)
		if err != nil {
			return nil, toStatus(err)
		}
		return state, nil
	default:
		return nil, status.Error(codes.InvalidArgument, "exactly one of address, payment_request, payment_hash is required")
	}
}

// ListClaimable reports every confirmed, preimage-unlocked utxo the claim
// scheduler would consider on its next pass.
func (s *InternalService) ListClaimable(ctx context.Context) ([]swap.ClaimableUtxo, error) {
	claimables, err := s.claimService.ListClaimable(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return claimables, nil
}

// ClaimRequest names which claimable outpoints to sweep and how.
// FeePerKw and DestinationAddress are optional: a zero FeePerKw asks the
// caller's configured fee estimator for a fresh estimate, and an empty
// DestinationAddress asks the wallet for a fresh address — mirroring the
// claim scheduler's own fresh-group handling (spec §4.I step 6).
type ClaimRequest struct {
	Outpoints          []wire.OutPoint
	FeePerKw           int64
	DestinationAddress string
	AutoBump           bool
}

// ClaimResponse reports the dispatched claim transaction.
type ClaimResponse struct {
	TxID     chainhash.Hash
	FeePerKw int64
}

// Claim builds, broadcasts, and persists a claim transaction spending
// exactly the requested outpoints (a subset of ListClaimable's output).
func (s *InternalService) Claim(ctx context.Context, req ClaimRequest) (*ClaimResponse, error) {
	if len(req.Outpoints) == 0 {
		return nil, status.Error(codes.InvalidArgument, "at least one outpoint is required")
	}

	claimables, err := s.claimService.ListClaimable(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	wanted := make(map[wire.OutPoint]bool, len(req.Outpoints))
	for _, op := range req.Outpoints {
		wanted[op] = true
	}
	var selected []swap.ClaimableUtxo
	for _, c := range claimables {
		if wanted[c.Utxo.Outpoint] {
			selected = append(selected, c)
			delete(wanted, c.Utxo.Outpoint)
		}
	}
	if len(wanted) > 0 {
		return nil, status.Error(codes.NotFound, "one or more requested outpoints are not currently claimable")
	}

	currentHeight, err := s.chainRepo.GetTip(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	var height int64
	if currentHeight != nil {
		height = currentHeight.Height
	}

	feePerKw := req.FeePerKw
	if feePerKw == 0 {
		estimate, err := s.feeEstimator.EstimateFee(ctx, 1)
		if err != nil {
			return nil, toStatus(err)
		}
		feePerKw = estimate.SatPerKw
	}

	destination := req.DestinationAddress
	if destination == "" {
		destination, err = s.wallet.NewAddress(ctx)
		if err != nil {
			return nil, status.Error(codes.Internal, fmt.Sprintf("failed to obtain destination address: %v", err))
		}
	}

	tx, err := s.claimService.Claim(ctx, selected, chain.FeeEstimate{SatPerKw: feePerKw}, height, destination, req.AutoBump)
	if err != nil {
		return nil, toStatus(err)
	}

	return &ClaimResponse{TxID: tx.TxHash(), FeePerKw: feePerKw}, nil
}

// Stop requests an orderly shutdown of the whole process.
func (s *InternalService) Stop(ctx context.Context) error {
	s.supervisor.Stop()
	return nil
}
