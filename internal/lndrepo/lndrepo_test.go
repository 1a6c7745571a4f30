package lndrepo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/lnswap/swapd/internal/dbutil"
	"github.com/lnswap/swapd/internal/lnd"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.sqlite")
	d, err := dbutil.New(dbPath)
	if err != nil {
		t.Fatalf("dbutil.New() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	return New(d)
}

func TestAddLabel_AndResolveBothWays(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if err := r.AddLabel(ctx, "hash1-123", 42); err != nil {
		t.Fatalf("AddLabel() error = %v", err)
	}

	label, err := r.GetLabel(ctx, 42)
	if err != nil {
		t.Fatalf("GetLabel() error = %v", err)
	}
	if label != "hash1-123" {
		t.Errorf("GetLabel() = %q, want %q", label, "hash1-123")
	}

	paymentIndex, err := r.GetPaymentIndex(ctx, "hash1-123")
	if err != nil {
		t.Fatalf("GetPaymentIndex() error = %v", err)
	}
	if paymentIndex != 42 {
		t.Errorf("GetPaymentIndex() = %d, want 42", paymentIndex)
	}
}

func TestGetLabel_NotFound(t *testing.T) {
	r := newTestRepo(t)
	if _, err := r.GetLabel(context.Background(), 999); !errors.Is(err, lnd.ErrLabelNotFound) {
		t.Errorf("GetLabel() error = %v, want ErrLabelNotFound", err)
	}
}

func TestGetPaymentIndex_NotFound(t *testing.T) {
	r := newTestRepo(t)
	if _, err := r.GetPaymentIndex(context.Background(), "missing"); !errors.Is(err, lnd.ErrLabelNotFound) {
		t.Errorf("GetPaymentIndex() error = %v, want ErrLabelNotFound", err)
	}
}
