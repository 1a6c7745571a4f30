package swap

import (
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// PrivateKeyProvider mints fresh secp256k1 private keys, one per claim
// script and one per nonce/blind-rand needed during signing. Split out as
// an interface so tests can supply deterministic keys.
type PrivateKeyProvider interface {
	NewPrivateKey() (*btcec.PrivateKey, error)
}

// RandomPrivateKeyProvider draws keys from crypto/rand.
type RandomPrivateKeyProvider struct{}

// NewRandomPrivateKeyProvider returns the default, crypto/rand-backed provider.
func NewRandomPrivateKeyProvider() RandomPrivateKeyProvider {
	return RandomPrivateKeyProvider{}
}

// NewPrivateKey generates a uniformly random secp256k1 private key.
func (RandomPrivateKeyProvider) NewPrivateKey() (*btcec.PrivateKey, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, fmt.Errorf("swap: generate private key: %w", err)
	}
	priv, _ := btcec.PrivKeyFromBytes(buf[:])
	return priv, nil
}
