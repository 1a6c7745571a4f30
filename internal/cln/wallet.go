package cln

import (
	"context"
	"fmt"
)

// NewAddress satisfies claim.Wallet against CLN's own on-chain wallet.
func (c *Client) NewAddress(ctx context.Context) (string, error) {
	addr, err := c.rpc.NewAddr()
	if err != nil {
		return "", fmt.Errorf("cln: new address: %w", err)
	}
	return addr, nil
}
