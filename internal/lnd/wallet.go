package lnd

import (
	"context"
	"fmt"

	"github.com/lightningnetwork/lnd/lnrpc"
)

// NewAddress satisfies claim.Wallet: lnd's on-chain wallet supplies the
// destination address claim sweeps pay out to, rather than swapd keeping a
// wallet of its own.
func (c *Client) NewAddress(ctx context.Context) (string, error) {
	resp, err := c.lightningClient().NewAddress(ctx, &lnrpc.NewAddressRequest{
		Type: lnrpc.AddressType_WITNESS_PUBKEY_HASH,
	})
	if err != nil {
		return "", fmt.Errorf("lnd: new address: %w", err)
	}
	return resp.Address, nil
}
