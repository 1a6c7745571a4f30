// Package lndrepo implements lnd.Repository against the sqlite
// lightning_payment_index table, scoped to the "lnd" backend.
package lndrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/lnswap/swapd/internal/dbutil"
	"github.com/lnswap/swapd/internal/lnd"
)

const backend = "lnd"

// Repository implements lnd.Repository.
type Repository struct {
	db *dbutil.DB
}

// New constructs a Repository.
func New(db *dbutil.DB) *Repository {
	return &Repository{db: db}
}

var _ lnd.Repository = (*Repository)(nil)

// AddLabel records the lnd payment_index a label was assigned once the
// first update for that payment arrives.
func (r *Repository) AddLabel(ctx context.Context, label string, paymentIndex uint64) error {
	_, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO lightning_payment_index (label, backend, native_index)
		VALUES (?, ?, ?)`,
		label, backend, strconv.FormatUint(paymentIndex, 10))
	if err != nil {
		return fmt.Errorf("lndrepo: insert label: %w", err)
	}
	return nil
}

// GetLabel resolves an lnd payment_index back to the label swapd recorded
// it under, for the "lnd" backend only.
func (r *Repository) GetLabel(ctx context.Context, paymentIndex uint64) (string, error) {
	var label string
	err := r.db.Conn().QueryRowContext(ctx, `
		SELECT label FROM lightning_payment_index WHERE backend = ? AND native_index = ?`,
		backend, strconv.FormatUint(paymentIndex, 10)).Scan(&label)
	if errors.Is(err, sql.ErrNoRows) {
		return "", lnd.ErrLabelNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lndrepo: get label: %w", err)
	}
	return label, nil
}

// GetPaymentIndex resolves a label to the lnd payment_index it was recorded
// under.
func (r *Repository) GetPaymentIndex(ctx context.Context, label string) (uint64, error) {
	var nativeIndex string
	err := r.db.Conn().QueryRowContext(ctx, `
		SELECT native_index FROM lightning_payment_index WHERE backend = ? AND label = ?`,
		backend, label).Scan(&nativeIndex)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, lnd.ErrLabelNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lndrepo: get payment index: %w", err)
	}
	paymentIndex, err := strconv.ParseUint(nativeIndex, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("lndrepo: parse payment index: %w", err)
	}
	return paymentIndex, nil
}
