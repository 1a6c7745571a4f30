// Package claimrepo implements claim.ClaimRepository against the sqlite
// claims/claim_inputs tables.
package claimrepo

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/lnswap/swapd/internal/claim"
	"github.com/lnswap/swapd/internal/dbutil"
)

const timeLayout = "2006-01-02 15:04:05"

// Repository implements claim.ClaimRepository.
type Repository struct {
	db      *dbutil.DB
	network *chaincfg.Params
}

// New constructs a Repository.
func New(db *dbutil.DB, network *chaincfg.Params) *Repository {
	return &Repository{db: db, network: network}
}

var _ claim.ClaimRepository = (*Repository)(nil)

// AddClaim persists a claim transaction and the outpoints it spends.
func (r *Repository) AddClaim(ctx context.Context, c *claim.Claim) error {
	var raw bytes.Buffer
	if err := c.Tx.Serialize(&raw); err != nil {
		return fmt.Errorf("claimrepo: serialize tx: %w", err)
	}
	txid := c.Tx.TxHash()

	tx, err := r.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("claimrepo: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO claims (txid, raw_tx, destination, fee_per_kw, auto_bump, creation_time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		txid.String(), raw.Bytes(), c.DestinationAddress, c.FeePerKw, boolToInt(c.AutoBump), c.CreationTime.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("claimrepo: insert claim: %w", err)
	}
	claimID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("claimrepo: get claim id: %w", err)
	}

	for _, in := range c.Tx.TxIn {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO claim_inputs (claim_id, outpoint_txid, outpoint_vout) VALUES (?, ?, ?)`,
			claimID, in.PreviousOutPoint.Hash.String(), in.PreviousOutPoint.Index); err != nil {
			return fmt.Errorf("claimrepo: insert claim input: %w", err)
		}
	}

	return tx.Commit()
}

// GetClaims returns every claim that spends at least one of outpoints and
// none of whose inputs have yet been observed spent in a confirmed block,
// sorted by fee rate descending then creation time descending.
func (r *Repository) GetClaims(ctx context.Context, outpoints []wire.OutPoint) ([]*claim.Claim, error) {
	if len(outpoints) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(outpoints))
	args := make([]any, 0, len(outpoints)*2)
	for i, op := range outpoints {
		placeholders[i] = "(?, ?)"
		args = append(args, op.Hash.String(), op.Index)
	}

	query := fmt.Sprintf(`
		SELECT c.raw_tx, c.destination, c.fee_per_kw, c.auto_bump, c.creation_time
		FROM claims c
		WHERE c.id IN (
			SELECT ci.claim_id FROM claim_inputs ci
			WHERE (ci.outpoint_txid, ci.outpoint_vout) IN (%s)
		)
		AND c.id NOT IN (
			SELECT ci.claim_id FROM claim_inputs ci
			JOIN spent_txos st ON st.outpoint_txid = ci.outpoint_txid AND st.outpoint_vout = ci.outpoint_vout
		)
		ORDER BY c.fee_per_kw DESC, c.creation_time DESC`,
		strings.Join(placeholders, ", "))

	rows, err := r.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("claimrepo: query claims: %w", err)
	}
	defer rows.Close()

	var claims []*claim.Claim
	for rows.Next() {
		c, err := r.scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

func (r *Repository) scanClaim(row interface{ Scan(dest ...any) error }) (*claim.Claim, error) {
	var (
		rawTx        []byte
		destination  string
		feePerKw     int64
		autoBump     int
		creationTime string
	)
	if err := row.Scan(&rawTx, &destination, &feePerKw, &autoBump, &creationTime); err != nil {
		return nil, fmt.Errorf("claimrepo: scan claim: %w", err)
	}

	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return nil, fmt.Errorf("claimrepo: deserialize tx: %w", err)
	}

	ts, err := time.Parse(timeLayout, creationTime)
	if err != nil {
		return nil, fmt.Errorf("claimrepo: parse creation time: %w", err)
	}

	if _, err := btcutil.DecodeAddress(destination, r.network); err != nil {
		return nil, fmt.Errorf("claimrepo: destination address %q invalid for network: %w", destination, err)
	}

	return &claim.Claim{
		CreationTime:       ts,
		Tx:                 &tx,
		DestinationAddress: destination,
		FeePerKw:           feePerKw,
		AutoBump:           autoBump != 0,
	}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
