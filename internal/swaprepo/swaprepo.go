// Package swaprepo implements swap.SwapRepository against the sqlite
// swaps/payment_attempts/payment_results/filter_addresses tables.
package swaprepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/lnswap/swapd/internal/dbutil"
	"github.com/lnswap/swapd/internal/swap"
)

// Repository is a sqlite-backed swap.SwapRepository.
type Repository struct {
	db      *dbutil.DB
	network *chaincfg.Params
}

// New wraps an already-migrated database handle. network is needed to
// re-derive the taproot address when scanning a swap back out of storage.
func New(db *dbutil.DB, network *chaincfg.Params) *Repository {
	return &Repository{db: db, network: network}
}

var _ swap.SwapRepository = (*Repository)(nil)

// outpointJSON is the wire shape stored in payment_attempts.utxo_snapshot.
type outpointJSON struct {
	Txid string `json:"txid"`
	Vout uint32 `json:"vout"`
}

func encodeSnapshot(outpoints []wire.OutPoint) (string, error) {
	rows := make([]outpointJSON, len(outpoints))
	for i, o := range outpoints {
		rows[i] = outpointJSON{Txid: o.Hash.String(), Vout: o.Index}
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeSnapshot(raw string) ([]wire.OutPoint, error) {
	var rows []outpointJSON
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil, err
	}
	out := make([]wire.OutPoint, len(rows))
	for i, r := range rows {
		h, err := chainhash.NewHashFromStr(r.Txid)
		if err != nil {
			return nil, err
		}
		out[i] = wire.OutPoint{Hash: *h, Index: r.Vout}
	}
	return out, nil
}

// AddSwap inserts a new swap. Re-adding a known payment_hash or address
// yields ErrAlreadyExists.
func (r *Repository) AddSwap(ctx context.Context, swp *swap.Swap) error {
	_, err := r.db.Conn().ExecContext(ctx,
		`INSERT INTO swaps (payment_hash, address, claim_pubkey, claim_privkey, claim_script,
		                     refund_pubkey, refund_script, lock_height)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		swp.Public.Hash[:], swp.Public.Address,
		swp.Public.ClaimPubkey.SerializeCompressed(), swp.Private.ClaimPrivkey.Serialize(),
		swp.Public.ClaimScript, swp.Public.RefundPubkey.SerializeCompressed(), swp.Public.RefundScript,
		swp.Public.LockHeight,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return swap.ErrAlreadyExists
		}
		return fmt.Errorf("swaprepo: add_swap: %w", err)
	}
	slog.Debug("swaprepo: swap added", "hash", swp.Public.Hash, "address", swp.Public.Address)
	return nil
}

// AddPaymentAttempt persists a payment attempt, taking the per-hash active
// lock. Fails with ErrAlreadyExists if the label is already used or if an
// unresolved attempt already exists for this payment hash.
func (r *Repository) AddPaymentAttempt(ctx context.Context, attempt *swap.PaymentAttempt) error {
	tx, err := r.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("swaprepo: begin add_payment_attempt tx: %w", err)
	}
	defer tx.Rollback()

	var active int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payment_attempts pa
		 WHERE pa.payment_hash = ?
		 AND NOT EXISTS (SELECT 1 FROM payment_results pr WHERE pr.label = pa.label)`,
		attempt.PaymentHash[:],
	).Scan(&active)
	if err != nil {
		return fmt.Errorf("swaprepo: check active attempt: %w", err)
	}
	if active > 0 {
		return swap.ErrAlreadyExists
	}

	snapshot, err := encodeSnapshot(attempt.UtxoSnapshot)
	if err != nil {
		return fmt.Errorf("swaprepo: encode utxo snapshot: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO payment_attempts (label, payment_hash, bolt11, destination, amount_msat, utxo_snapshot)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		attempt.Label, attempt.PaymentHash[:], attempt.Bolt11, attempt.Destination, attempt.AmountMsat, snapshot,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return swap.ErrAlreadyExists
		}
		return fmt.Errorf("swaprepo: insert payment_attempt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("swaprepo: commit add_payment_attempt tx: %w", err)
	}
	slog.Debug("swaprepo: payment attempt added", "label", attempt.Label, "hash", attempt.PaymentHash)
	return nil
}

// UnlockAddPaymentResult atomically records a PaymentAttempt's terminal
// result, releasing the active lock AddPaymentAttempt took. Idempotent on
// (hash,label): a second call with the same label is a no-op.
func (r *Repository) UnlockAddPaymentResult(ctx context.Context, hash chainhash.Hash, label string, result *swap.PaymentResult) error {
	var preimage []byte
	if result.Preimage != nil {
		preimage = result.Preimage[:]
	}
	_, err := r.db.Conn().ExecContext(ctx,
		`INSERT INTO payment_results (label, payment_hash, success, preimage, error)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (label) DO NOTHING`,
		label, hash[:], boolToInt(result.Success), preimage, result.Error,
	)
	if err != nil {
		return fmt.Errorf("swaprepo: unlock_add_payment_result: %w", err)
	}

	if result.Success && preimage != nil {
		if _, err := r.db.Conn().ExecContext(ctx,
			`UPDATE swaps SET preimage = ? WHERE payment_hash = ? AND preimage IS NULL`,
			preimage, hash[:],
		); err != nil {
			return fmt.Errorf("swaprepo: record preimage: %w", err)
		}
	}

	slog.Debug("swaprepo: payment result recorded", "label", label, "hash", hash, "success", result.Success)
	return nil
}

const swapSelectColumns = `s.payment_hash, s.address, s.claim_pubkey, s.claim_privkey, s.claim_script,
	s.refund_pubkey, s.refund_script, s.lock_height, s.preimage, s.creation_time`

func (r *Repository) scanSwapState(rows interface {
	Scan(dest ...any) error
}) (*swap.SwapState, error) {
	var (
		hashBytes, claimPub, claimPriv, claimScript []byte
		refundPub, refundScript, preimage           []byte
		address, creationTime                       string
		lockHeight                                  uint32
	)
	if err := rows.Scan(&hashBytes, &address, &claimPub, &claimPriv, &claimScript,
		&refundPub, &refundScript, &lockHeight, &preimage, &creationTime); err != nil {
		return nil, err
	}

	var hash chainhash.Hash
	copy(hash[:], hashBytes)

	claimPubkey, err := btcec.ParsePubKey(claimPub)
	if err != nil {
		return nil, fmt.Errorf("parse claim pubkey: %w", err)
	}
	claimPrivkey, _ := btcec.PrivKeyFromBytes(claimPriv)
	refundPubkey, err := btcec.ParsePubKey(refundPub)
	if err != nil {
		return nil, fmt.Errorf("parse refund pubkey: %w", err)
	}

	created, err := time.Parse("2006-01-02 15:04:05", creationTime)
	if err != nil {
		return nil, fmt.Errorf("parse creation_time: %w", err)
	}

	if _, err := btcutil.DecodeAddress(address, r.network); err != nil {
		return nil, fmt.Errorf("stored address %q invalid for configured network: %w", address, err)
	}

	swp := swap.Swap{
		CreationTime: created,
		Public: swap.SwapPublicData{
			Address:      address,
			ClaimPubkey:  claimPubkey,
			ClaimScript:  claimScript,
			Hash:         hash,
			LockHeight:   lockHeight,
			RefundPubkey: refundPubkey,
			RefundScript: refundScript,
		},
		Private: swap.SwapPrivateData{ClaimPrivkey: claimPrivkey},
	}

	var preimagePtr *[32]byte
	if preimage != nil {
		var p [32]byte
		copy(p[:], preimage)
		preimagePtr = &p
	}

	return &swap.SwapState{Swap: swp, Preimage: preimagePtr}, nil
}

// GetSwapByHash returns the swap for a payment hash, or ErrSwapNotFound.
func (r *Repository) GetSwapByHash(ctx context.Context, hash chainhash.Hash) (*swap.SwapState, error) {
	row := r.db.Conn().QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM swaps s WHERE s.payment_hash = ?`, swapSelectColumns), hash[:])
	state, err := r.scanSwapState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, swap.ErrSwapNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("swaprepo: get_swap_by_hash: %w", err)
	}
	return state, nil
}

// GetSwapByAddress returns the swap funded at address, or ErrSwapNotFound.
func (r *Repository) GetSwapByAddress(ctx context.Context, address string) (*swap.SwapState, error) {
	row := r.db.Conn().QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM swaps s WHERE s.address = ?`, swapSelectColumns), address)
	state, err := r.scanSwapState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, swap.ErrSwapNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("swaprepo: get_swap_by_address: %w", err)
	}
	return state, nil
}

// GetSwapByPaymentRequest returns the swap whose most recent payment attempt
// carries bolt11, or ErrSwapNotFound.
func (r *Repository) GetSwapByPaymentRequest(ctx context.Context, bolt11 string) (*swap.SwapState, error) {
	row := r.db.Conn().QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM swaps s
		             INNER JOIN payment_attempts pa ON pa.payment_hash = s.payment_hash
		             WHERE pa.bolt11 = ?
		             ORDER BY pa.creation_time DESC LIMIT 1`, swapSelectColumns), bolt11)
	state, err := r.scanSwapState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, swap.ErrSwapNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("swaprepo: get_swap_by_payment_request: %w", err)
	}
	return state, nil
}

// GetSwaps returns the swaps funded at any of addresses, keyed by address.
func (r *Repository) GetSwaps(ctx context.Context, addresses []string) (map[string]*swap.SwapState, error) {
	out := make(map[string]*swap.SwapState, len(addresses))
	if len(addresses) == 0 {
		return out, nil
	}

	placeholders := placeholdersFor(len(addresses))
	args := toAnySlice(addresses)
	rows, err := r.db.Conn().QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM swaps s WHERE s.address IN (%s)`, swapSelectColumns, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("swaprepo: get_swaps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		state, err := r.scanSwapState(rows)
		if err != nil {
			return nil, fmt.Errorf("swaprepo: scan swap: %w", err)
		}
		out[state.Swap.Public.Address] = state
	}
	return out, rows.Err()
}

// GetSwapsWithPaidOutpoints is GetSwaps enriched with, per address, which of
// its utxos a PaymentAttempt snapshot names — the set list_claimable (§4.I)
// intersects against confirmed utxos to decide what is actually claimable.
func (r *Repository) GetSwapsWithPaidOutpoints(ctx context.Context, addresses []string) (map[string]*swap.SwapStateWithPaidOutpoints, error) {
	states, err := r.GetSwaps(ctx, addresses)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*swap.SwapStateWithPaidOutpoints, len(states))
	for address, state := range states {
		rows, err := r.db.Conn().QueryContext(ctx,
			`SELECT bolt11, utxo_snapshot FROM payment_attempts WHERE payment_hash = ?`, state.Swap.Public.Hash[:])
		if err != nil {
			return nil, fmt.Errorf("swaprepo: get_swaps_with_paid_outpoints: %w", err)
		}

		var paid []swap.PaidOutpoint
		for rows.Next() {
			var bolt11, raw string
			if err := rows.Scan(&bolt11, &raw); err != nil {
				rows.Close()
				return nil, fmt.Errorf("swaprepo: scan utxo_snapshot: %w", err)
			}
			outpoints, err := decodeSnapshot(raw)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("swaprepo: decode utxo_snapshot: %w", err)
			}
			for _, o := range outpoints {
				paid = append(paid, swap.PaidOutpoint{Outpoint: o, PaymentRequest: bolt11})
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()

		out[address] = &swap.SwapStateWithPaidOutpoints{State: *state, PaidOutpoints: paid}
	}
	return out, nil
}

// GetUnhandledPaymentAttempts returns every attempt with no recorded result —
// the crash-recovery set the historical payment catcher resolves at startup.
func (r *Repository) GetUnhandledPaymentAttempts(ctx context.Context) ([]*swap.PaymentAttempt, error) {
	rows, err := r.db.Conn().QueryContext(ctx,
		`SELECT pa.label, pa.payment_hash, pa.bolt11, pa.destination, pa.amount_msat, pa.utxo_snapshot, pa.creation_time
		 FROM payment_attempts pa
		 WHERE NOT EXISTS (SELECT 1 FROM payment_results pr WHERE pr.label = pa.label)`)
	if err != nil {
		return nil, fmt.Errorf("swaprepo: get_unhandled_payment_attempts: %w", err)
	}
	defer rows.Close()

	var out []*swap.PaymentAttempt
	for rows.Next() {
		var (
			label, bolt11, snapshot, creationTime string
			hashBytes, destination                []byte
			amountMsat                             int64
		)
		if err := rows.Scan(&label, &hashBytes, &bolt11, &destination, &amountMsat, &snapshot, &creationTime); err != nil {
			return nil, fmt.Errorf("swaprepo: scan payment_attempt: %w", err)
		}
		outpoints, err := decodeSnapshot(snapshot)
		if err != nil {
			return nil, fmt.Errorf("swaprepo: decode utxo_snapshot: %w", err)
		}
		var hash chainhash.Hash
		copy(hash[:], hashBytes)
		created, err := time.Parse("2006-01-02 15:04:05", creationTime)
		if err != nil {
			return nil, fmt.Errorf("swaprepo: parse creation_time: %w", err)
		}
		out = append(out, &swap.PaymentAttempt{
			Label:        label,
			PaymentHash:  hash,
			Bolt11:       bolt11,
			Destination:  destination,
			AmountMsat:   amountMsat,
			UtxoSnapshot: outpoints,
			CreationTime: created,
		})
	}
	return out, rows.Err()
}

// AddFilterAddresses upserts addresses into the address-filter deny set.
func (r *Repository) AddFilterAddresses(ctx context.Context, addresses []string) error {
	if len(addresses) == 0 {
		return nil
	}
	tx, err := r.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("swaprepo: begin add_filter_addresses tx: %w", err)
	}
	defer tx.Rollback()

	for _, a := range addresses {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO filter_addresses (address) VALUES (?) ON CONFLICT (address) DO NOTHING`, a); err != nil {
			return fmt.Errorf("swaprepo: insert filter_address: %w", err)
		}
	}
	return tx.Commit()
}

// HasFilteredAddress reports whether any of addresses is in the filter set.
func (r *Repository) HasFilteredAddress(ctx context.Context, addresses []string) (bool, error) {
	if len(addresses) == 0 {
		return false, nil
	}
	placeholders := placeholdersFor(len(addresses))
	args := toAnySlice(addresses)

	var count int
	err := r.db.Conn().QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM filter_addresses WHERE address IN (%s)`, placeholders), args...,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("swaprepo: has_filtered_address: %w", err)
	}
	return count > 0, nil
}

func placeholdersFor(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation detects a sqlite UNIQUE constraint failure. modernc.org/sqlite
// surfaces sqlite's native error text rather than a typed sentinel, so string
// matching is the only option here.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
