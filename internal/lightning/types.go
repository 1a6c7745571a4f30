// Package lightning holds the capability interface and shared payment types
// the pay-swap coordinator and the preimage monitors drive, independent of
// which node backend (lnd, CLN) actually carries a payment out.
package lightning

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// PaymentRequest is everything a Node needs to attempt one bolt11 payment.
type PaymentRequest struct {
	Bolt11         string
	PaymentHash    chainhash.Hash
	Label          string
	CltvLimit      uint32
	FeeLimitMsat   int64
	TimeoutSeconds uint16
}

// PaymentOutcome is the terminal result of a dispatched payment. Success is
// false with Error set when the node gave up (routing failure, timeout);
// Preimage is only populated on success.
type PaymentOutcome struct {
	Success  bool
	Preimage *[32]byte
	Error    string
}

// PreimageResult is what GetPreimage returns for a payment hash the node
// has since settled, independent of whether swapd itself dispatched it.
type PreimageResult struct {
	Label    string
	Preimage [32]byte
}

// PaymentState is the status of a previously dispatched payment, as known
// to the node that sent it.
type PaymentState int

const (
	PaymentStatePending PaymentState = iota
	PaymentStateSuccess
	PaymentStateFailure
)

// PaymentStateResult is the outcome of a GetPaymentState query.
type PaymentStateResult struct {
	State    PaymentState
	Preimage *[32]byte // set when State == PaymentStateSuccess
	Error    string    // set when State == PaymentStateFailure
}

// ErrPaymentNotFound is returned by GetPaymentState when the node has no
// record of ever dispatching a payment under that label.
var ErrPaymentNotFound = errors.New("lightning: payment not found")

// Node is the capability swapd needs from a Lightning backend: send a
// payment, and query the terminal state of one already sent by label or by
// hash (the latter covers payments a prior process instance dispatched but
// never recorded the result of).
type Node interface {
	Pay(ctx context.Context, req PaymentRequest) (*PaymentOutcome, error)

	// GetPreimage reports whether paymentHash has since been settled,
	// regardless of which attempt/label paid it. Returns (nil, nil) if
	// unknown or still pending.
	GetPreimage(ctx context.Context, paymentHash chainhash.Hash) (*PreimageResult, error)

	// GetPaymentState reports the status of the payment dispatched under
	// label for paymentHash. Returns ErrPaymentNotFound if the node has no
	// record of it at all (e.g. it was never actually sent, or has aged out
	// of the node's payment history).
	GetPaymentState(ctx context.Context, paymentHash chainhash.Hash, label string) (*PaymentStateResult, error)
}
