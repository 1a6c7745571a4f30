package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
)

func TestReadAddressFile_SkipsBlankLinesAndComments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "addresses.txt")
	content := "bc1qfirst\n\n# a comment\nbc1qsecond\n   \nbc1qthird\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	addresses, err := readAddressFile(path)
	if err != nil {
		t.Fatalf("readAddressFile: %v", err)
	}

	want := []string{"bc1qfirst", "bc1qsecond", "bc1qthird"}
	if len(addresses) != len(want) {
		t.Fatalf("got %d addresses, want %d: %v", len(addresses), len(want), addresses)
	}
	for i, addr := range want {
		if addresses[i] != addr {
			t.Errorf("addresses[%d] = %q, want %q", i, addresses[i], addr)
		}
	}
}

func TestReadAddressFile_MissingFile(t *testing.T) {
	if _, err := readAddressFile(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestResolveNetwork(t *testing.T) {
	cases := map[string]*chaincfg.Params{
		"bitcoin": &chaincfg.MainNetParams,
		"mainnet": &chaincfg.MainNetParams,
		"testnet": &chaincfg.TestNet3Params,
		"signet":  &chaincfg.SigNetParams,
		"regtest": &chaincfg.RegressionNetParams,
	}
	for name, want := range cases {
		got, err := resolveNetwork(name)
		if err != nil {
			t.Fatalf("resolveNetwork(%q): %v", name, err)
		}
		if got.Name != want.Name {
			t.Errorf("resolveNetwork(%q) = %s, want %s", name, got.Name, want.Name)
		}
	}
}

func TestResolveNetwork_Unknown(t *testing.T) {
	if _, err := resolveNetwork("dogecoin"); err == nil {
		t.Fatal("expected an error for an unknown network")
	}
}
