// Package claim schedules and rebroadcasts on-chain claim transactions: it
// turns paid, confirmed swap utxos into a spend to a wallet address, and
// keeps that spend's fee rate ahead of the network as blocks pass.
package claim

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/wire"
)

// Claim is one broadcast claim transaction. A swap outpoint may accumulate
// several Claims over its lifetime as the scheduler replaces it for fee
// reasons (RBF); only the highest fee-rate / most recent one is "current".
type Claim struct {
	CreationTime       time.Time
	Tx                 *wire.MsgTx
	DestinationAddress string
	FeePerKw           int64
	AutoBump           bool
}

// ClaimRepository persists broadcast claims and answers which of an
// outpoint's claims are still live (not yet confirmed as spent).
type ClaimRepository interface {
	AddClaim(ctx context.Context, claim *Claim) error

	// GetClaims returns every claim spending at least one of outpoints whose
	// inputs haven't been observed spent in a confirmed block, sorted by fee
	// rate descending then creation time descending.
	GetClaims(ctx context.Context, outpoints []wire.OutPoint) ([]*Claim, error)
}

// Wallet is the minimal capability the claim scheduler needs to pick a
// destination for a freshly discovered claim: a fresh receive address.
type Wallet interface {
	NewAddress(ctx context.Context) (string, error)
}
