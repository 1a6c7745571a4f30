package chainrepo

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/lnswap/swapd/internal/chain"
	"github.com/lnswap/swapd/internal/dbutil"
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

func testHash(b byte) chainhash.Hash {
	var h chainhash.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

func TestAddBlock_AndGetBlockHeaders(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	genesis := chain.BlockHeader{Hash: testHash(1), Height: 1, Prev: testHash(0)}
	if err := r.AddBlock(ctx, genesis, nil, nil); err != nil {
		t.Fatalf("AddBlock() error = %v", err)
	}

	next := chain.BlockHeader{Hash: testHash(2), Height: 2, Prev: genesis.Hash}
	if err := r.AddBlock(ctx, next, nil, nil); err != nil {
		t.Fatalf("AddBlock() error = %v", err)
	}

	headers, err := r.GetBlockHeaders(ctx)
	if err != nil {
		t.Fatalf("GetBlockHeaders() error = %v", err)
	}
	if len(headers) != 2 || headers[0].Hash != next.Hash {
		t.Fatalf("GetBlockHeaders() = %v, want newest-first [next, genesis]", headers)
	}
}

func TestAddBlock_Idempotent(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	genesis := chain.BlockHeader{Hash: testHash(1), Height: 1}
	if err := r.AddBlock(ctx, genesis, nil, nil); err != nil {
		t.Fatalf("AddBlock() error = %v", err)
	}
	if err := r.AddBlock(ctx, genesis, nil, nil); err != nil {
		t.Fatalf("AddBlock() (re-add) error = %v", err)
	}

	headers, err := r.GetBlockHeaders(ctx)
	if err != nil {
		t.Fatalf("GetBlockHeaders() error = %v", err)
	}
	if len(headers) != 1 {
		t.Fatalf("expected 1 header after idempotent re-add, got %d", len(headers))
	}
}

func TestAddBlock_WithWatchedUtxo(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if err := r.AddWatchAddress(ctx, "tb1qswap"); err != nil {
		t.Fatalf("AddWatchAddress() error = %v", err)
	}

	genesis := chain.BlockHeader{Hash: testHash(1), Height: 1}
	utxo := chain.AddressUtxo{
		Address: "tb1qswap",
		Utxo: chain.Utxo{
			BlockHash:   genesis.Hash,
			BlockHeight: genesis.Height,
			Outpoint:    wire.OutPoint{Hash: testHash(9), Index: 0},
			Value:       100000,
			PkScript:    []byte{0x00, 0x14},
		},
	}
	if err := r.AddBlock(ctx, genesis, []chain.AddressUtxo{utxo}, nil); err != nil {
		t.Fatalf("AddBlock() error = %v", err)
	}

	got, err := r.GetUtxosForAddress(ctx, "tb1qswap")
	if err != nil {
		t.Fatalf("GetUtxosForAddress() error = %v", err)
	}
	if len(got) != 1 || got[0].Utxo.Value != 100000 {
		t.Fatalf("GetUtxosForAddress() = %v", got)
	}

	all, err := r.GetUtxos(ctx)
	if err != nil {
		t.Fatalf("GetUtxos() error = %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("GetUtxos() = %v, want 1 entry", all)
	}
}

func TestGetUtxos_ExcludesSpent(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if err := r.AddWatchAddress(ctx, "tb1qswap"); err != nil {
		t.Fatalf("AddWatchAddress() error = %v", err)
	}

	genesis := chain.BlockHeader{Hash: testHash(1), Height: 1}
	depositOutpoint := wire.OutPoint{Hash: testHash(9), Index: 0}
	utxo := chain.AddressUtxo{
		Address: "tb1qswap",
		Utxo: chain.Utxo{
			BlockHash:   genesis.Hash,
			BlockHeight: genesis.Height,
			Outpoint:    depositOutpoint,
			Value:       100000,
			PkScript:    []byte{0x00, 0x14},
		},
	}
	if err := r.AddBlock(ctx, genesis, []chain.AddressUtxo{utxo}, nil); err != nil {
		t.Fatalf("AddBlock() error = %v", err)
	}

	claimBlock := chain.BlockHeader{Hash: testHash(2), Height: 2, Prev: genesis.Hash}
	spend := chain.SpentTxo{
		SpendingTxid:       testHash(10),
		SpendingInputIndex: 0,
		Outpoint:           depositOutpoint,
	}
	if err := r.AddBlock(ctx, claimBlock, nil, []chain.SpentTxo{spend}); err != nil {
		t.Fatalf("AddBlock() (claim) error = %v", err)
	}

	byAddress, err := r.GetUtxosForAddress(ctx, "tb1qswap")
	if err != nil {
		t.Fatalf("GetUtxosForAddress() error = %v", err)
	}
	if len(byAddress) != 0 {
		t.Fatalf("GetUtxosForAddress() = %v, want no entries once spent", byAddress)
	}

	byAddresses, err := r.GetUtxosForAddresses(ctx, []string{"tb1qswap"})
	if err != nil {
		t.Fatalf("GetUtxosForAddresses() error = %v", err)
	}
	if len(byAddresses) != 0 {
		t.Fatalf("GetUtxosForAddresses() = %v, want no entries once spent", byAddresses)
	}

	all, err := r.GetUtxos(ctx)
	if err != nil {
		t.Fatalf("GetUtxos() error = %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("GetUtxos() = %v, want no entries once spent", all)
	}
}

func TestUndoBlock_RemovesBlockAndChildren(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if err := r.AddWatchAddress(ctx, "tb1qswap"); err != nil {
		t.Fatalf("AddWatchAddress() error = %v", err)
	}
	genesis := chain.BlockHeader{Hash: testHash(1), Height: 1}
	utxo := chain.AddressUtxo{
		Address: "tb1qswap",
		Utxo: chain.Utxo{
			BlockHash: genesis.Hash,
			Outpoint:  wire.OutPoint{Hash: testHash(9), Index: 0},
			Value:     100000,
			PkScript:  []byte{0x00},
		},
	}
	if err := r.AddBlock(ctx, genesis, []chain.AddressUtxo{utxo}, nil); err != nil {
		t.Fatalf("AddBlock() error = %v", err)
	}

	if err := r.UndoBlock(ctx, genesis.Hash); err != nil {
		t.Fatalf("UndoBlock() error = %v", err)
	}

	headers, err := r.GetBlockHeaders(ctx)
	if err != nil {
		t.Fatalf("GetBlockHeaders() error = %v", err)
	}
	if len(headers) != 0 {
		t.Fatalf("expected no headers after undo, got %d", len(headers))
	}

	utxos, err := r.GetUtxos(ctx)
	if err != nil {
		t.Fatalf("GetUtxos() error = %v", err)
	}
	if len(utxos) != 0 {
		t.Fatalf("expected no utxos after undo, got %d", len(utxos))
	}
}

func TestFilterWatchAddresses(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if err := r.AddWatchAddresses(ctx, []string{"tb1qa", "tb1qb"}); err != nil {
		t.Fatalf("AddWatchAddresses() error = %v", err)
	}

	got, err := r.FilterWatchAddresses(ctx, []string{"tb1qa", "tb1qc"})
	if err != nil {
		t.Fatalf("FilterWatchAddresses() error = %v", err)
	}
	if len(got) != 1 || got[0] != "tb1qa" {
		t.Fatalf("FilterWatchAddresses() = %v, want [tb1qa]", got)
	}
}

func TestGetTip_EmptyAndPopulated(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	tip, err := r.GetTip(ctx)
	if err != nil {
		t.Fatalf("GetTip() error = %v", err)
	}
	if tip != nil {
		t.Fatalf("GetTip() on empty repo = %v, want nil", tip)
	}

	genesis := chain.BlockHeader{Hash: testHash(1), Height: 1}
	next := chain.BlockHeader{Hash: testHash(2), Height: 2, Prev: genesis.Hash}
	if err := r.AddBlock(ctx, genesis, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := r.AddBlock(ctx, next, nil, nil); err != nil {
		t.Fatal(err)
	}

	tip, err = r.GetTip(ctx)
	if err != nil {
		t.Fatalf("GetTip() error = %v", err)
	}
	if tip == nil || tip.Hash != next.Hash {
		t.Fatalf("GetTip() = %v, want %v", tip, next.Hash)
	}
}

func TestGetTip_MultipleTipsIsAnError(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	genesis := chain.BlockHeader{Hash: testHash(1), Height: 1}
	if err := r.AddBlock(ctx, genesis, nil, nil); err != nil {
		t.Fatal(err)
	}
	forkA := chain.BlockHeader{Hash: testHash(2), Height: 2, Prev: genesis.Hash}
	forkB := chain.BlockHeader{Hash: testHash(3), Height: 2, Prev: genesis.Hash}
	if err := r.AddBlock(ctx, forkA, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := r.AddBlock(ctx, forkB, nil, nil); err != nil {
		t.Fatal(err)
	}

	if _, err := r.GetTip(ctx); err != chain.ErrMultipleTips {
		t.Errorf("GetTip() error = %v, want ErrMultipleTips", err)
	}
}
