package swap

import (
	"fmt"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/lnswap/swapd/internal/chain"
)

// claimInputWitnessWeightUnit approximates one claim-path input's witness
// weight (schnorr sig + preimage + claim script + control block), since an
// exact per-input weight would require signing before knowing the fee.
const claimInputWitnessWeightUnit = 247

// Service builds taproot swap outputs, claim transactions, and cooperative
// refund partial signatures. Holds no persistent state of its own — swaps
// themselves live in SwapRepository.
type Service struct {
	network   *chaincfg.Params
	privkeys  PrivateKeyProvider
	lockTime  uint32
	dustLimit int64
}

// NewService constructs a Service. lockTime is the number of blocks a swap's
// refund path takes to unlock, relative to the height at swap creation.
func NewService(network *chaincfg.Params, privkeys PrivateKeyProvider, lockTime uint32, dustLimit int64) *Service {
	return &Service{
		network:   network,
		privkeys:  privkeys,
		lockTime:  lockTime,
		dustLimit: dustLimit,
	}
}

// CreateSwap mints a fresh claim keypair, builds the claim/refund scripts
// and the taproot output they spend from, and returns the fully-populated
// swap.
func (s *Service) CreateSwap(refundPubkey *btcec.PublicKey, hash chainhash.Hash, currentHeight int64) (*Swap, error) {
	claimPrivkey, err := s.privkeys.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("swap: create claim key: %w", err)
	}
	claimPubkey := claimPrivkey.PubKey()

	claimScript, err := buildClaimScript(hash, claimPubkey)
	if err != nil {
		return nil, fmt.Errorf("swap: build claim script: %w", err)
	}

	lockHeight := uint32(currentHeight) + s.lockTime
	if lockHeight >= maxBlockHeightLockTime {
		return nil, fmt.Errorf("swap: lock height %d: %w", lockHeight, ErrInvalidBlockHeight)
	}
	refundScript, err := buildRefundScript(refundPubkey, lockHeight)
	if err != nil {
		return nil, fmt.Errorf("swap: build refund script: %w", err)
	}

	swp := &Swap{
		CreationTime: time.Now(),
		Public: SwapPublicData{
			ClaimPubkey:  claimPubkey,
			ClaimScript:  claimScript,
			Hash:         hash,
			LockHeight:   lockHeight,
			RefundPubkey: refundPubkey,
			RefundScript: refundScript,
		},
		Private: SwapPrivateData{ClaimPrivkey: claimPrivkey},
	}

	info, err := s.taprootSpendInfo(swp)
	if err != nil {
		return nil, fmt.Errorf("swap: %w", ErrTaprootBuild)
	}

	addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(info.outputKey), s.network)
	if err != nil {
		return nil, fmt.Errorf("swap: derive taproot address: %w", err)
	}
	swp.Public.Address = addr.EncodeAddress()

	return swp, nil
}

// buildClaimScript is the claim leaf: OP_HASH160 <ripemd160(sha256(preimage))>
// OP_EQUALVERIFY <x-only claim pubkey> OP_CHECKSIG.
func buildClaimScript(hash chainhash.Hash, claimPubkey *btcec.PublicKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(hash[:])).
		AddOp(txscript.OP_EQUALVERIFY).
		AddData(schnorr.SerializePubKey(claimPubkey)).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// buildRefundScript is the refund leaf: <x-only refund pubkey>
// OP_CHECKSIGVERIFY <lock_height> OP_CLTV.
func buildRefundScript(refundPubkey *btcec.PublicKey, lockHeight uint32) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddData(schnorr.SerializePubKey(refundPubkey)).
		AddOp(txscript.OP_CHECKSIGVERIFY).
		AddInt64(int64(lockHeight)).
		AddOp(txscript.OP_CHECKLOCKTIMEVERIFY).
		Script()
}

// taprootInfo is the reusable shape built from a swap's two leaves.
type taprootInfo struct {
	tree        *txscript.IndexedTapScriptTree
	internalKey *btcec.PublicKey
	outputKey   *btcec.PublicKey
	scriptRoot  chainhash.Hash
}

// taprootSpendInfo aggregates claim_pubkey + refund_pubkey into the internal
// key (no tweak yet), builds the two-leaf script tree, and tweaks the
// internal key with the tree's root to get the output key — BIP-341's
// "Pay to Taproot" construction applied to a MuSig2 internal key.
func (s *Service) taprootSpendInfo(swp *Swap) (*taprootInfo, error) {
	agg, err := musig2.AggregateKeys(
		[]*btcec.PublicKey{swp.Public.ClaimPubkey, swp.Public.RefundPubkey}, true,
	)
	if err != nil {
		return nil, fmt.Errorf("swap: aggregate musig2 keys: %w", err)
	}

	claimLeaf := txscript.NewBaseTapLeaf(swp.Public.ClaimScript)
	refundLeaf := txscript.NewBaseTapLeaf(swp.Public.RefundScript)
	tree := txscript.AssembleTaprootScriptTree(claimLeaf, refundLeaf)

	scriptRoot := tree.RootNode.TapHash()
	outputKey := txscript.ComputeTaprootOutputKey(agg.FinalKey, scriptRoot[:])

	return &taprootInfo{
		tree:        tree,
		internalKey: agg.FinalKey,
		outputKey:   outputKey,
		scriptRoot:  scriptRoot,
	}, nil
}

// CreateClaimTx spends every claimable utxo via its claim script path to a
// single destination output, net of a fee computed from the estimate and
// the approximate claim-path witness weight.
func (s *Service) CreateClaimTx(claimables []ClaimableUtxo, fee chain.FeeEstimate, currentHeight int64, destination []byte) (*wire.MsgTx, error) {
	if len(claimables) == 0 {
		return nil, ErrNoClaimables
	}
	if currentHeight < 0 || uint32(currentHeight) >= maxBlockHeightLockTime {
		return nil, fmt.Errorf("swap: lock time %d: %w", currentHeight, ErrInvalidBlockHeight)
	}

	// Sort by outpoint so the same input set always produces the same tx.
	sorted := make([]ClaimableUtxo, len(claimables))
	copy(sorted, claimables)
	sort.Slice(sorted, func(i, j int) bool {
		oi, oj := sorted[i].Utxo.Outpoint, sorted[j].Utxo.Outpoint
		if oi.Hash != oj.Hash {
			return oi.Hash.String() < oj.Hash.String()
		}
		return oi.Index < oj.Index
	})

	var totalValue int64
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(sorted))

	tx := wire.NewMsgTx(2)
	tx.LockTime = uint32(currentHeight)
	for _, c := range sorted {
		totalValue += c.Utxo.Value
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: c.Utxo.Outpoint,
			Sequence:         0,
		})
		prevOuts[c.Utxo.Outpoint] = &wire.TxOut{Value: c.Utxo.Value, PkScript: c.Utxo.PkScript}
	}
	tx.AddTxOut(&wire.TxOut{Value: totalValue, PkScript: destination})

	weightWu := int64(tx.SerializeSizeStripped())*4 + claimInputWitnessWeightUnit*int64(len(sorted))
	feeSat := (weightWu*fee.SatPerKw + 999) / 1000
	afterFees := totalValue - feeSat
	if afterFees < s.dustLimit {
		return nil, ErrAmountTooLow
	}
	tx.TxOut[0].Value = afterFees

	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for n, c := range sorted {
		info, err := s.taprootSpendInfo(&c.Swap)
		if err != nil {
			return nil, fmt.Errorf("swap: %w", ErrTaprootBuild)
		}

		claimLeaf := txscript.NewBaseTapLeaf(c.Swap.Public.ClaimScript)
		sigHash, err := txscript.CalcTapscriptSignaturehash(sigHashes, txscript.SigHashDefault, tx, n, fetcher, claimLeaf)
		if err != nil {
			return nil, fmt.Errorf("swap: compute claim sighash: %w", err)
		}

		sig, err := schnorr.Sign(c.Swap.Private.ClaimPrivkey, sigHash)
		if err != nil {
			return nil, fmt.Errorf("swap: sign claim input %d: %w", n, err)
		}

		leafIndex, ok := leafProofIndex(info.tree, claimLeaf)
		if !ok {
			return nil, fmt.Errorf("swap: claim leaf not found in tap tree for input %d: %w", n, ErrTaprootBuild)
		}
		controlBlock := info.tree.LeafMerkleProofs[leafIndex].ToControlBlock(info.internalKey)
		controlBlockBytes, err := controlBlock.ToBytes()
		if err != nil {
			return nil, fmt.Errorf("swap: serialize control block: %w", err)
		}

		preimage := c.Preimage
		tx.TxIn[n].Witness = wire.TxWitness{
			sig.Serialize(),
			preimage[:],
			c.Swap.Public.ClaimScript,
			controlBlockBytes,
		}
	}

	return tx, nil
}

func leafProofIndex(tree *txscript.IndexedTapScriptTree, leaf txscript.TapLeaf) (int, bool) {
	leafHash := leaf.TapHash()
	for i, proof := range tree.LeafMerkleProofs {
		if proof.TapLeaf.TapHash() == leafHash {
			return i, true
		}
	}
	return 0, false
}

// PartialSignRefundTx produces swapd's MuSig2 partial signature over a
// cooperative refund transaction's key-spend path, given the counterparty's
// public nonce. The caller combines this with the counterparty's own
// partial signature to finalize the taproot key-spend witness.
func (s *Service) PartialSignRefundTx(swp *Swap, tx *wire.MsgTx, prevOuts map[wire.OutPoint]*wire.TxOut, inputIndex int, theirPubNonce [musig2.PubNonceSize]byte) (*musig2.PartialSignature, [musig2.PubNonceSize]byte, error) {
	var zero [musig2.PubNonceSize]byte

	info, err := s.taprootSpendInfo(swp)
	if err != nil {
		return nil, zero, fmt.Errorf("swap: %w", ErrTaprootBuild)
	}

	musigCtx, err := musig2.NewContext(
		swp.Private.ClaimPrivkey, true,
		musig2.WithKnownSigners([]*btcec.PublicKey{swp.Public.ClaimPubkey, swp.Public.RefundPubkey}),
		musig2.WithTaprootTweakCtx(info.scriptRoot[:]),
	)
	if err != nil {
		return nil, zero, fmt.Errorf("swap: build musig2 context: %w", err)
	}

	session, err := musigCtx.NewSession()
	if err != nil {
		return nil, zero, fmt.Errorf("swap: start musig2 session: %w", err)
	}
	ourPubNonce := session.PublicNonce()

	if _, err := session.RegisterPubNonce(theirPubNonce); err != nil {
		return nil, zero, fmt.Errorf("swap: register counterparty nonce: %w", err)
	}

	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	sigHash, err := txscript.CalcTaprootSignatureHash(sigHashes, txscript.SigHashDefault, tx, inputIndex, fetcher)
	if err != nil {
		return nil, zero, fmt.Errorf("swap: compute refund sighash: %w", err)
	}
	var msg [32]byte
	copy(msg[:], sigHash)

	partialSig, err := session.Sign(msg)
	if err != nil {
		return nil, zero, fmt.Errorf("swap: musig2 partial sign: %w", err)
	}

	return partialSig, ourPubNonce, nil
}

// ProbeDestination mirrors public_server.rs's fake-address/FAKE_PREIMAGE
// pattern: it exercises CreateClaimTx's fee/dust math against a throwaway
// destination and an all-zero preimage so pay_swap can validate invariant 8
// before committing to a real claim destination.
func (s *Service) ProbeDestination(claimables []ClaimableUtxo, fee chain.FeeEstimate, currentHeight int64) error {
	probeScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(make([]byte, 20)).
		Script()
	if err != nil {
		return fmt.Errorf("swap: build probe script: %w", err)
	}

	probed := make([]ClaimableUtxo, len(claimables))
	for i, c := range claimables {
		c.Preimage = [32]byte{} // never a real preimage, only used to size the witness
		probed[i] = c
	}

	_, err = s.CreateClaimTx(probed, fee, currentHeight, probeScript)
	return err
}
