package claimrepo

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/lnswap/swapd/internal/claim"
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
	return New(d, &chaincfg.RegressionNetParams)
}

func testAddress(t *testing.T) string {
	t.Helper()
	var hash160 [20]byte
	hash160[0] = 0x42
	addr, err := btcutil.NewAddressWitnessPubKeyHash(hash160[:], &chaincfg.RegressionNetParams)
	if err != nil {
		t.Fatal(err)
	}
	return addr.EncodeAddress()
}

func testClaimTx(outpoints ...wire.OutPoint) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	for _, op := range outpoints {
		op := op
		tx.AddTxIn(&wire.TxIn{PreviousOutPoint: op})
	}
	tx.AddTxOut(&wire.TxOut{Value: 100000, PkScript: []byte{0x00, 0x14}})
	return tx
}

func TestAddClaim_AndGetClaims(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	outpoint := wire.OutPoint{Hash: chainhash.Hash{1}, Index: 0}

	c := &claim.Claim{
		Tx:                 testClaimTx(outpoint),
		DestinationAddress: testAddress(t),
		FeePerKw:           1000,
		AutoBump:           true,
	}
	if err := r.AddClaim(ctx, c); err != nil {
		t.Fatalf("AddClaim() error = %v", err)
	}

	claims, err := r.GetClaims(ctx, []wire.OutPoint{outpoint})
	if err != nil {
		t.Fatalf("GetClaims() error = %v", err)
	}
	if len(claims) != 1 {
		t.Fatalf("GetClaims() = %d claims, want 1", len(claims))
	}
	if claims[0].FeePerKw != 1000 || claims[0].DestinationAddress != c.DestinationAddress || !claims[0].AutoBump {
		t.Errorf("GetClaims()[0] = %+v, want matching fields to %+v", claims[0], c)
	}
	if claims[0].Tx.TxHash() != c.Tx.TxHash() {
		t.Errorf("GetClaims()[0].Tx round-trip mismatch")
	}
}

func TestGetClaims_UnknownOutpointReturnsEmpty(t *testing.T) {
	r := newTestRepo(t)
	claims, err := r.GetClaims(context.Background(), []wire.OutPoint{{Hash: chainhash.Hash{9}, Index: 3}})
	if err != nil {
		t.Fatalf("GetClaims() error = %v", err)
	}
	if len(claims) != 0 {
		t.Errorf("GetClaims() = %v, want empty", claims)
	}
}

func TestGetClaims_ExcludesClaimsWhoseInputWasSpentInABlock(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	outpoint := wire.OutPoint{Hash: chainhash.Hash{2}, Index: 1}

	c := &claim.Claim{
		Tx:                 testClaimTx(outpoint),
		DestinationAddress: testAddress(t),
		FeePerKw:           500,
		AutoBump:           false,
	}
	if err := r.AddClaim(ctx, c); err != nil {
		t.Fatal(err)
	}

	// Simulate the chain monitor having observed this outpoint spent in a
	// confirmed block — some other transaction (not necessarily this claim)
	// consumed it, so this claim is no longer "live".
	conn := r.db.Conn()
	if _, err := conn.ExecContext(ctx, `INSERT INTO blocks (hash, height, prev_hash) VALUES (?, ?, ?)`,
		chainhash.Hash{3}.String(), 100, chainhash.Hash{}.String()); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.ExecContext(ctx, `
		INSERT INTO spent_txos (spending_txid, spending_input_index, outpoint_txid, outpoint_vout, block_hash)
		VALUES (?, 0, ?, ?, ?)`,
		chainhash.Hash{4}.String(), outpoint.Hash.String(), outpoint.Index, chainhash.Hash{3}.String()); err != nil {
		t.Fatal(err)
	}

	claims, err := r.GetClaims(ctx, []wire.OutPoint{outpoint})
	if err != nil {
		t.Fatalf("GetClaims() error = %v", err)
	}
	if len(claims) != 0 {
		t.Errorf("GetClaims() = %v, want empty once input is spent-confirmed", claims)
	}
}

func TestGetClaims_SortedByFeeRateThenCreationTime(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	op1 := wire.OutPoint{Hash: chainhash.Hash{5}, Index: 0}
	op2 := wire.OutPoint{Hash: chainhash.Hash{6}, Index: 0}

	low := &claim.Claim{Tx: testClaimTx(op1), DestinationAddress: testAddress(t), FeePerKw: 100}
	high := &claim.Claim{Tx: testClaimTx(op2), DestinationAddress: testAddress(t), FeePerKw: 900}
	if err := r.AddClaim(ctx, low); err != nil {
		t.Fatal(err)
	}
	if err := r.AddClaim(ctx, high); err != nil {
		t.Fatal(err)
	}

	claims, err := r.GetClaims(ctx, []wire.OutPoint{op1, op2})
	if err != nil {
		t.Fatalf("GetClaims() error = %v", err)
	}
	if len(claims) != 2 {
		t.Fatalf("GetClaims() = %d claims, want 2", len(claims))
	}
	if claims[0].FeePerKw != 900 || claims[1].FeePerKw != 100 {
		t.Errorf("GetClaims() fee order = [%d, %d], want [900, 100]", claims[0].FeePerKw, claims[1].FeePerKw)
	}
}
