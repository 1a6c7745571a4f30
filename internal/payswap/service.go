package payswap

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/zpay32"

	"github.com/lnswap/swapd/internal/chain"
	"github.com/lnswap/swapd/internal/lightning"
	"github.com/lnswap/swapd/internal/swap"
)

// Service is the pay-swap coordinator: CreateSwap and PaySwap wrap
// swap.Service/swap.SwapRepository with the confirmation, expiry, and
// amount invariants a raw RPC handler must never skip; RefundSwap hands the
// cooperative MuSig2 half-signature a depositor needs to sweep their own
// deposit back after the timelock.
type Service struct {
	params Params

	network      *chaincfg.Params
	chainSource  chain.ChainSource
	chainRepo    chain.ChainRepository
	chainFilter  ChainFilter
	feeEstimator chain.FeeEstimator
	lightning    lightning.Node
	swapService  *swap.Service
	swapRepo     swap.SwapRepository
}

// NewService constructs a Service.
func NewService(
	params Params,
	network *chaincfg.Params,
	chainSource chain.ChainSource,
	chainRepo chain.ChainRepository,
	chainFilter ChainFilter,
	feeEstimator chain.FeeEstimator,
	lightningNode lightning.Node,
	swapService *swap.Service,
	swapRepo swap.SwapRepository,
) *Service {
	return &Service{
		params:       params,
		network:      network,
		chainSource:  chainSource,
		chainRepo:    chainRepo,
		chainFilter:  chainFilter,
		feeEstimator: feeEstimator,
		lightning:    lightningNode,
		swapService:  swapService,
		swapRepo:     swapRepo,
	}
}

// CreateSwap mints a fresh swap for refundPubkey/hash, registers its address
// as a watched address, and persists it before returning — so a crash right
// after return still leaves the deposit address discoverable by the chain
// monitor on its next sync pass.
func (s *Service) CreateSwap(ctx context.Context, refundPubkey *btcec.PublicKey, hash chainhash.Hash) (*swap.Swap, error) {
	currentHeight, err := s.chainSource.GetBlockHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("payswap: get block height: %w", err)
	}

	swp, err := s.swapService.CreateSwap(refundPubkey, hash, currentHeight)
	if err != nil {
		return nil, fmt.Errorf("payswap: create swap: %w", err)
	}

	if err := s.chainRepo.AddWatchAddress(ctx, swp.Public.Address); err != nil {
		return nil, fmt.Errorf("payswap: watch address: %w", err)
	}
	if err := s.swapRepo.AddSwap(ctx, swp); err != nil {
		return nil, fmt.Errorf("payswap: persist swap: %w", err)
	}

	slog.Info("new swap created", "hash", hash, "address", swp.Public.Address)
	return swp, nil
}

// PaySwap validates a bolt11 invoice against a funded, unpaid, unexpired
// swap, dispatches the Lightning payment, and records the attempt and its
// result. Once the payment succeeds the on-chain sweep is the claim
// scheduler's job, not this call's: PaySwap only needs to prove, before it
// pays, that the deposit can eventually be claimed.
func (s *Service) PaySwap(ctx context.Context, bolt11 string) error {
	invoice, err := zpay32.Decode(bolt11, s.network)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPaymentRequest, err)
	}
	if invoice.MilliSat == nil {
		return ErrAmountRequired
	}
	amountMsat := int64(*invoice.MilliSat)
	amountSat := amountMsat / 1000
	if amountSat*1000 != amountMsat {
		return ErrNonRoundSatoshiAmount
	}
	if uint64(amountSat) > s.params.MaxSwapAmountSat {
		return ErrAmountExceedsMax
	}

	hash := chainhash.Hash(*invoice.PaymentHash)
	swapState, err := s.swapRepo.GetSwapByHash(ctx, hash)
	if err != nil {
		return fmt.Errorf("payswap: lookup swap: %w", err)
	}
	if swapState.Preimage != nil {
		return ErrAlreadyPaid
	}

	currentHeight, err := s.chainSource.GetBlockHeight(ctx)
	if err != nil {
		return fmt.Errorf("payswap: get block height: %w", err)
	}
	rawBlocksLeft := swapState.Swap.BlocksLeft(currentHeight)
	if rawBlocksLeft < 0 {
		return ErrSwapExpired
	}
	blocksLeft := saturatingSubU32(uint32(rawBlocksLeft), s.params.MinClaimBlocks)

	minFinalCLTVExpiryDelta := invoice.MinFinalCLTVExpiry()
	if minFinalCLTVExpiryDelta > uint64(^uint32(0)) {
		return ErrCltvDeltaTooHigh
	}
	if blocksLeft == 0 || saturatingSubU32(blocksLeft, uint32(minFinalCLTVExpiryDelta)) < s.params.MinViableCltv {
		return ErrSwapExpired
	}

	addressUtxos, err := s.chainRepo.GetUtxosForAddress(ctx, swapState.Swap.Public.Address)
	if err != nil {
		return fmt.Errorf("payswap: get utxos: %w", err)
	}
	if len(addressUtxos) == 0 {
		return ErrNoUtxos
	}

	confirmed := make([]chain.Utxo, 0, len(addressUtxos))
	for _, au := range addressUtxos {
		confirmations := currentHeight + 1 - au.Utxo.BlockHeight
		if confirmations < s.params.MinConfirmations {
			slog.Debug("utxo has less than min confirmations", "outpoint", au.Utxo.Outpoint, "confirmations", confirmations)
			continue
		}
		confirmed = append(confirmed, au.Utxo)
	}

	// Best-effort: chainFilter already falls back to passing a utxo through
	// on any lookup failure, so there's nothing to catch here.
	filtered := s.chainFilter.FilterUtxos(ctx, confirmed)

	var amountSumSat int64
	for _, u := range filtered {
		amountSumSat += u.Value
	}
	if amountSumSat != amountSat {
		return fmt.Errorf("%w: got %d, want %d", ErrAmountMismatch, amountSumSat, amountSat)
	}

	// Fee-estimate-at-6-blocks probe: if a claim tx can't be built against a
	// throwaway destination with today's fee rate, this deposit isn't
	// reliably claimable and the swap shouldn't be paid.
	feeEstimate, err := s.feeEstimator.EstimateFee(ctx, 6)
	if err != nil {
		return fmt.Errorf("payswap: estimate fee: %w", err)
	}
	claimables := make([]swap.ClaimableUtxo, len(filtered))
	for i, u := range filtered {
		claimables[i] = swap.ClaimableUtxo{Swap: swapState.Swap, Utxo: u}
	}
	if err := s.swapService.ProbeDestination(claimables, feeEstimate, currentHeight); err != nil {
		return fmt.Errorf("%w: %v", ErrNotClaimable, err)
	}

	now := time.Now()
	label := fmt.Sprintf("%s-%d", hash, now.UnixNano())

	var destination []byte
	if invoice.Destination != nil {
		destination = invoice.Destination.SerializeCompressed()
	}
	utxoSnapshot := make([]wire.OutPoint, len(filtered))
	for i, u := range filtered {
		utxoSnapshot[i] = u.Outpoint
	}

	// Persisted before paying, so a crash mid-payment still leaves a record
	// bounding how many utxos this attempt is allowed to claim later.
	attempt := &swap.PaymentAttempt{
		Label:        label,
		PaymentHash:  hash,
		Bolt11:       bolt11,
		Destination:  destination,
		AmountMsat:   amountMsat,
		UtxoSnapshot: utxoSnapshot,
		CreationTime: now,
	}
	if err := s.swapRepo.AddPaymentAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("payswap: persist payment attempt: %w", err)
	}

	feeLimitMsat := int64(s.params.PayFeeLimitBaseMsat) + saturatingMulDiv(amountMsat, int64(s.params.PayFeeLimitPpm), 1_000_000)

	slog.Debug("about to pay", "label", label, "hash", hash)
	outcome, err := s.lightning.Pay(ctx, lightning.PaymentRequest{
		Bolt11:         bolt11,
		PaymentHash:    hash,
		Label:          label,
		CltvLimit:      blocksLeft,
		FeeLimitMsat:   feeLimitMsat,
		TimeoutSeconds: s.params.PayTimeoutSeconds,
	})
	if err != nil {
		return fmt.Errorf("payswap: dispatch payment: %w", err)
	}

	slog.Info("successfully paid", "label", label, "hash", hash, "address", swapState.Swap.Public.Address)

	// Persisted right away, but a failure here is logged, not returned: a
	// background catch-up pass reconciles the preimage if this write is lost.
	result := &swap.PaymentResult{
		Label:       label,
		PaymentHash: hash,
		Success:     outcome.Success,
		Preimage:    outcome.Preimage,
		Error:       outcome.Error,
		RecordedAt:  time.Now(),
	}
	if err := s.swapRepo.UnlockAddPaymentResult(ctx, hash, label, result); err != nil {
		slog.Error("failed to persist pay result", "hash", hash, "label", label, "error", err)
	}

	return nil
}

// RefundSwap produces swapd's half of a cooperative MuSig2 refund: given the
// depositor's own refund transaction, the prevouts it spends, and the
// depositor's public nonce, it returns swapd's partial signature and public
// nonce. swapd holds no state across the exchange beyond the swap record.
func (s *Service) RefundSwap(ctx context.Context, hash chainhash.Hash, tx *wire.MsgTx, prevOuts map[wire.OutPoint]*wire.TxOut, inputIndex int, theirPubNonce [musig2.PubNonceSize]byte) (*musig2.PartialSignature, [musig2.PubNonceSize]byte, error) {
	var zero [musig2.PubNonceSize]byte

	swapState, err := s.swapRepo.GetSwapByHash(ctx, hash)
	if err != nil {
		return nil, zero, fmt.Errorf("payswap: lookup swap: %w", err)
	}
	if swapState.Preimage != nil {
		return nil, zero, ErrAlreadyPaid
	}

	partialSig, ourPubNonce, err := s.swapService.PartialSignRefundTx(&swapState.Swap, tx, prevOuts, inputIndex, theirPubNonce)
	if err != nil {
		return nil, zero, fmt.Errorf("payswap: partial sign refund: %w", err)
	}
	return partialSig, ourPubNonce, nil
}

func saturatingSubU32(a, b uint32) uint32 {
	if b >= a {
		return 0
	}
	return a - b
}

// saturatingMulDiv computes (a*b)/div for non-negative a, b, clamping the
// intermediate product to math.MaxInt64 on overflow instead of wrapping —
// matching the original's saturating_mul/saturating_div chain for the
// fee-limit calculation, where a wrapped product would otherwise turn into a
// tiny or negative fee limit instead of an enormous one.
func saturatingMulDiv(a, b, div int64) int64 {
	if a != 0 && b > math.MaxInt64/a {
		return math.MaxInt64 / div
	}
	return (a * b) / div
}
