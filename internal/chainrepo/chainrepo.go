// Package chainrepo implements chain.ChainRepository against the sqlite
// blocks/watch_addresses/address_utxos/spent_txos tables.
package chainrepo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/lnswap/swapd/internal/chain"
	"github.com/lnswap/swapd/internal/dbutil"
)

// Repository is a sqlite-backed chain.ChainRepository.
type Repository struct {
	db *dbutil.DB
}

// New wraps an already-migrated database handle.
func New(db *dbutil.DB) *Repository {
	return &Repository{db: db}
}

var _ chain.ChainRepository = (*Repository)(nil)

// AddBlock persists the header and every watched-address utxo/spent-txo it
// contains as one atomic unit. Re-adding an already-known block is a no-op
// (ON CONFLICT on the hash primary key).
func (r *Repository) AddBlock(ctx context.Context, header chain.BlockHeader, utxos []chain.AddressUtxo, spent []chain.SpentTxo) error {
	tx, err := r.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("chainrepo: begin add_block tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO blocks (hash, height, prev_hash) VALUES (?, ?, ?)
		 ON CONFLICT (hash) DO NOTHING`,
		header.Hash.String(), header.Height, header.Prev.String(),
	)
	if err != nil {
		return fmt.Errorf("chainrepo: insert block: %w", err)
	}

	for _, u := range utxos {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO address_utxos (txid, vout, block_hash, address, value_sat, script_pubkey)
			 SELECT ?, ?, ?, ?, ?, ?
			 WHERE EXISTS (SELECT 1 FROM watch_addresses WHERE address = ?)
			 ON CONFLICT (txid, vout) DO NOTHING`,
			u.Utxo.Outpoint.Hash.String(), u.Utxo.Outpoint.Index, header.Hash.String(),
			u.Address, u.Utxo.Value, u.Utxo.PkScript, u.Address,
		)
		if err != nil {
			return fmt.Errorf("chainrepo: insert address_utxo: %w", err)
		}
	}

	for _, s := range spent {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO spent_txos (spending_txid, spending_input_index, outpoint_txid, outpoint_vout, block_hash)
			 SELECT ?, ?, ?, ?, ?
			 WHERE EXISTS (SELECT 1 FROM address_utxos WHERE txid = ? AND vout = ?)
			 ON CONFLICT (spending_txid, spending_input_index) DO NOTHING`,
			s.SpendingTxid.String(), s.SpendingInputIndex,
			s.Outpoint.Hash.String(), s.Outpoint.Index, header.Hash.String(),
			s.Outpoint.Hash.String(), s.Outpoint.Index,
		)
		if err != nil {
			return fmt.Errorf("chainrepo: insert spent_txo: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("chainrepo: commit add_block tx: %w", err)
	}

	slog.Debug("chainrepo: block added", "hash", header.Hash, "height", header.Height, "utxos", len(utxos), "spent", len(spent))
	return nil
}

// UndoBlock removes a block and everything it recorded — the children must
// go first since address_utxos/spent_txos carry a foreign key to blocks.
func (r *Repository) UndoBlock(ctx context.Context, hash chainhash.Hash) error {
	tx, err := r.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("chainrepo: begin undo_block tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM address_utxos WHERE block_hash = ?`, hash.String()); err != nil {
		return fmt.Errorf("chainrepo: undo address_utxos: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM spent_txos WHERE block_hash = ?`, hash.String()); err != nil {
		return fmt.Errorf("chainrepo: undo spent_txos: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE hash = ?`, hash.String()); err != nil {
		return fmt.Errorf("chainrepo: undo block: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("chainrepo: commit undo_block tx: %w", err)
	}

	slog.Debug("chainrepo: block undone", "hash", hash)
	return nil
}

// AddWatchAddress registers one address for future AddBlock/FilterWatchAddresses calls.
func (r *Repository) AddWatchAddress(ctx context.Context, address string) error {
	_, err := r.db.Conn().ExecContext(ctx,
		`INSERT INTO watch_addresses (address) VALUES (?) ON CONFLICT (address) DO NOTHING`, address)
	if err != nil {
		return fmt.Errorf("chainrepo: add_watch_address: %w", err)
	}
	return nil
}

// AddWatchAddresses registers a batch of addresses in one statement per address,
// inside a single transaction — sqlite has no array-bind equivalent to Postgres UNNEST.
func (r *Repository) AddWatchAddresses(ctx context.Context, addresses []string) error {
	if len(addresses) == 0 {
		return nil
	}
	tx, err := r.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("chainrepo: begin add_watch_addresses tx: %w", err)
	}
	defer tx.Rollback()

	for _, a := range addresses {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO watch_addresses (address) VALUES (?) ON CONFLICT (address) DO NOTHING`, a); err != nil {
			return fmt.Errorf("chainrepo: add_watch_addresses: %w", err)
		}
	}
	return tx.Commit()
}

// FilterWatchAddresses returns the subset of addresses already registered as watched.
func (r *Repository) FilterWatchAddresses(ctx context.Context, addresses []string) ([]string, error) {
	if len(addresses) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(addresses)), ",")
	args := make([]any, len(addresses))
	for i, a := range addresses {
		args[i] = a
	}

	rows, err := r.db.Conn().QueryContext(ctx,
		fmt.Sprintf(`SELECT address FROM watch_addresses WHERE address IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("chainrepo: filter_watch_addresses: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("chainrepo: scan watch address: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetBlockHeaders returns every known header, newest first — the order
// chain.ChainFromHeaders expects.
func (r *Repository) GetBlockHeaders(ctx context.Context) ([]chain.BlockHeader, error) {
	rows, err := r.db.Conn().QueryContext(ctx,
		`SELECT hash, height, prev_hash FROM blocks ORDER BY height DESC`)
	if err != nil {
		return nil, fmt.Errorf("chainrepo: get_block_headers: %w", err)
	}
	defer rows.Close()

	var out []chain.BlockHeader
	for rows.Next() {
		var hashStr, prevStr string
		var height int64
		if err := rows.Scan(&hashStr, &height, &prevStr); err != nil {
			return nil, fmt.Errorf("chainrepo: scan block header: %w", err)
		}
		h, err := chainhash.NewHashFromStr(hashStr)
		if err != nil {
			return nil, fmt.Errorf("chainrepo: parse block hash: %w", err)
		}
		prev, err := chainhash.NewHashFromStr(prevStr)
		if err != nil {
			return nil, fmt.Errorf("chainrepo: parse prev hash: %w", err)
		}
		out = append(out, chain.BlockHeader{Hash: *h, Height: height, Prev: *prev})
	}
	return out, rows.Err()
}

// GetUtxosForAddress returns every unspent recorded utxo paying address,
// oldest block first.
func (r *Repository) GetUtxosForAddress(ctx context.Context, address string) ([]chain.AddressUtxo, error) {
	rows, err := r.queryUtxos(ctx, `u.address = ?`, address)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// GetUtxosForAddresses returns every unspent recorded utxo paying any of addresses.
func (r *Repository) GetUtxosForAddresses(ctx context.Context, addresses []string) ([]chain.AddressUtxo, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(addresses)), ",")
	args := make([]any, len(addresses))
	for i, a := range addresses {
		args[i] = a
	}
	return r.queryUtxos(ctx, fmt.Sprintf(`u.address IN (%s)`, placeholders), args...)
}

// GetUtxos returns every unspent recorded watched-address utxo.
func (r *Repository) GetUtxos(ctx context.Context) ([]chain.AddressUtxo, error) {
	return r.queryUtxos(ctx, "")
}

// queryUtxos always excludes utxos already recorded as spent in spent_txos —
// callers never want a swept deposit back, whether they're scoping to one
// address, a set of addresses, or every watched utxo. extraCondition, if
// non-empty, is ANDed onto that exclusion.
func (r *Repository) queryUtxos(ctx context.Context, extraCondition string, args ...any) ([]chain.AddressUtxo, error) {
	where := `WHERE NOT EXISTS (
		SELECT 1 FROM spent_txos s
		WHERE s.outpoint_txid = u.txid AND s.outpoint_vout = u.vout
	)`
	if extraCondition != "" {
		where += " AND " + extraCondition
	}

	query := fmt.Sprintf(
		`SELECT u.txid, u.vout, u.block_hash, b.height, u.address, u.value_sat, u.script_pubkey
		 FROM address_utxos u
		 INNER JOIN blocks b ON u.block_hash = b.hash
		 %s
		 ORDER BY b.height, u.txid, u.vout`, where)

	rows, err := r.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chainrepo: query utxos: %w", err)
	}
	defer rows.Close()

	var out []chain.AddressUtxo
	for rows.Next() {
		var txidStr, blockHashStr, address string
		var vout uint32
		var height, value int64
		var pkScript []byte
		if err := rows.Scan(&txidStr, &vout, &blockHashStr, &height, &address, &value, &pkScript); err != nil {
			return nil, fmt.Errorf("chainrepo: scan utxo: %w", err)
		}
		txid, err := chainhash.NewHashFromStr(txidStr)
		if err != nil {
			return nil, fmt.Errorf("chainrepo: parse txid: %w", err)
		}
		blockHash, err := chainhash.NewHashFromStr(blockHashStr)
		if err != nil {
			return nil, fmt.Errorf("chainrepo: parse block hash: %w", err)
		}
		out = append(out, chain.AddressUtxo{
			Address: address,
			Utxo: chain.Utxo{
				BlockHash:   *blockHash,
				BlockHeight: height,
				Outpoint:    wire.OutPoint{Hash: *txid, Index: vout},
				Value:       value,
				PkScript:    pkScript,
			},
		})
	}
	return out, rows.Err()
}

// GetTip returns the one known block with no child (no other block's
// prev_hash points at it). Returns nil if the chain view is empty, and
// chain.ErrMultipleTips if more than one such block exists — a real,
// queryable integrity condition rather than a theoretical case, since a
// reorg that the monitor failed to fully retip would leave exactly this
// shape behind.
func (r *Repository) GetTip(ctx context.Context) (*chain.BlockHeader, error) {
	rows, err := r.db.Conn().QueryContext(ctx,
		`SELECT b.hash, b.height, b.prev_hash
		 FROM blocks b
		 WHERE NOT EXISTS (SELECT 1 FROM blocks c WHERE c.prev_hash = b.hash)`,
	)
	if err != nil {
		return nil, fmt.Errorf("chainrepo: get_tip: %w", err)
	}
	defer rows.Close()

	var tips []chain.BlockHeader
	for rows.Next() {
		var hashStr, prevStr string
		var height int64
		if err := rows.Scan(&hashStr, &height, &prevStr); err != nil {
			return nil, fmt.Errorf("chainrepo: scan tip candidate: %w", err)
		}
		h, err := chainhash.NewHashFromStr(hashStr)
		if err != nil {
			return nil, fmt.Errorf("chainrepo: parse tip hash: %w", err)
		}
		prev, err := chainhash.NewHashFromStr(prevStr)
		if err != nil {
			return nil, fmt.Errorf("chainrepo: parse tip prev hash: %w", err)
		}
		tips = append(tips, chain.BlockHeader{Hash: *h, Height: height, Prev: *prev})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(tips) {
	case 0:
		return nil, nil
	case 1:
		return &tips[0], nil
	default:
		return nil, chain.ErrMultipleTips
	}
}
