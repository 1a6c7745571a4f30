// Package cln implements lightning.Node against a running Core Lightning
// node over its JSON-RPC interface.
//
// Unlike lnd, CLN attaches no caller-chosen label to an outgoing payment —
// only to invoices it issues as a receiver — so there is no native cursor
// to resolve an arbitrary payment hash back to the label swapd dispatched
// it under. The upstream client this is ported from reflects that gap: its
// CLN backend implements only pay, leaving get_preimage/get_payment_state
// unimplemented. This port keeps pay faithful and adds GetPaymentState
// (the historical monitor already carries the label it needs from its own
// PaymentAttempt record, so no resolution is required there); GetPreimage
// stays a deliberate no-op for the reason above.
package cln

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/elementsproject/glightning/glightning"

	"github.com/lnswap/swapd/internal/lightning"
)

// Config points at a CLN node's JSON-RPC socket.
type Config struct {
	LightningDir string
	RPCFile      string // defaults to "lightning-rpc" when empty
}

// Client is a lightning.Node and claim.Wallet backed by a running CLN node.
type Client struct {
	network *chaincfg.Params
	rpc     *glightning.Lightning
}

var _ lightning.Node = (*Client)(nil)

// NewClient connects to CLN's RPC socket under cfg.LightningDir.
func NewClient(cfg Config, network *chaincfg.Params) (*Client, error) {
	rpcFile := cfg.RPCFile
	if rpcFile == "" {
		rpcFile = "lightning-rpc"
	}

	rpc := glightning.NewLightning()
	if err := rpc.StartUp(rpcFile, cfg.LightningDir); err != nil {
		return nil, fmt.Errorf("cln: connect: %w", err)
	}
	return &Client{network: network, rpc: rpc}, nil
}

// Pay dispatches bolt11 via CLN's native pay command, which blocks for up
// to RetryFor seconds retrying routes on its own before giving up.
func (c *Client) Pay(ctx context.Context, req lightning.PaymentRequest) (*lightning.PaymentOutcome, error) {
	resp, err := c.rpc.Pay(&glightning.PayRequest{
		Bolt11:   req.Bolt11,
		RetryFor: uint(req.TimeoutSeconds),
		MaxDelay: uint(req.CltvLimit),
	})
	if err != nil {
		return nil, fmt.Errorf("cln: pay: %w", err)
	}

	return paymentOutcome(resp.Status, resp.PaymentPreimage)
}

// GetPreimage always reports unknown: CLN has no caller-assigned label on
// outgoing payments for this to resolve against. See the package doc.
func (c *Client) GetPreimage(ctx context.Context, paymentHash chainhash.Hash) (*lightning.PreimageResult, error) {
	return nil, nil
}

// GetPaymentState looks paymentHash up directly via listpays; label is
// unused here (the caller already has it) but kept in the signature to
// satisfy lightning.Node.
func (c *Client) GetPaymentState(ctx context.Context, paymentHash chainhash.Hash, label string) (*lightning.PaymentStateResult, error) {
	payments, err := c.rpc.ListPaymentsHash(paymentHash.String())
	if err != nil {
		return nil, fmt.Errorf("cln: list payments: %w", err)
	}
	if len(payments) == 0 {
		return nil, lightning.ErrPaymentNotFound
	}

	// listpayments can return more than one attempt for a hash (retries);
	// the most recent entry is the one that reflects the current state.
	latest := payments[len(payments)-1]
	outcome, err := paymentOutcome(latest.Status, latest.PaymentPreimage)
	if err != nil {
		return nil, err
	}

	if outcome.Success {
		return &lightning.PaymentStateResult{State: lightning.PaymentStateSuccess, Preimage: outcome.Preimage}, nil
	}
	if latest.Status == "pending" {
		return &lightning.PaymentStateResult{State: lightning.PaymentStatePending}, nil
	}
	return &lightning.PaymentStateResult{State: lightning.PaymentStateFailure, Error: outcome.Error}, nil
}

func paymentOutcome(status, preimageHex string) (*lightning.PaymentOutcome, error) {
	if status != "complete" {
		return &lightning.PaymentOutcome{Success: false, Error: status}, nil
	}
	preimage, err := decodePreimageHex(preimageHex)
	if err != nil {
		return nil, fmt.Errorf("cln: %w", err)
	}
	return &lightning.PaymentOutcome{Success: true, Preimage: &preimage}, nil
}

func decodePreimageHex(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid preimage %q: %w", s, err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("invalid preimage length %q: got %d bytes, want 32", s, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
