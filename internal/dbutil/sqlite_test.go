package dbutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewDB(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.sqlite")

	d, err := New(dbPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer d.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("expected database file to be created")
	}

	var mode string
	if err := d.Conn().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("failed to query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected journal_mode=wal, got %q", mode)
	}
}

func TestRunMigrations(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.sqlite")

	d, err := New(dbPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer d.Close()

	if err := d.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}

	tables := []string{
		"blocks", "watch_addresses", "address_utxos", "spent_txos",
		"filter_addresses", "swaps", "payment_attempts", "payment_results",
		"claims", "claim_inputs", "lightning_payment_index", "schema_migrations",
	}
	for _, table := range tables {
		var name string
		err := d.Conn().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestRunMigrationsIdempotent(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.sqlite")

	d, err := New(dbPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer d.Close()

	if err := d.RunMigrations(); err != nil {
		t.Fatalf("first RunMigrations() error = %v", err)
	}
	if err := d.RunMigrations(); err != nil {
		t.Fatalf("second RunMigrations() error = %v", err)
	}

	var count int
	if err := d.Conn().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}

	entries, _ := migrationsFS.ReadDir("migrations")
	expectedCount := 0
	for _, e := range entries {
		if !e.IsDir() {
			expectedCount++
		}
	}
	if count != expectedCount {
		t.Errorf("expected %d migration records, got %d", expectedCount, count)
	}
}

func TestForeignKeysEnforced(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.sqlite")

	d, err := New(dbPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer d.Close()

	if err := d.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}

	// address_utxos.block_hash references blocks(hash); inserting without
	// a parent block must fail.
	_, err = d.Conn().Exec(
		`INSERT INTO address_utxos (txid, vout, block_hash, address, value_sat, script_pubkey)
		 VALUES ('deadbeef', 0, 'missing-block', 'tb1qtest', 1000, x'00')`,
	)
	if err == nil {
		t.Fatal("expected foreign key violation inserting address_utxo with unknown block_hash")
	}
}
