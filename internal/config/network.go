package config

import "github.com/btcsuite/btcd/chaincfg"

// ChainParams resolves the configured network name to its btcd chain
// parameters. Validate already rejects any other value, so the default
// case here is unreachable in a validated Config.
func (c *Config) ChainParams() *chaincfg.Params {
	switch c.Network {
	case NetworkMainnet:
		return &chaincfg.MainNetParams
	case NetworkTestnet:
		return &chaincfg.TestNet3Params
	case NetworkSignet:
		return &chaincfg.SigNetParams
	case NetworkRegtest:
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}
