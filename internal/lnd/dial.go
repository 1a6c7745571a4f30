package lnd

import (
	"fmt"
	"os"

	"github.com/lightningnetwork/lnd/macaroons"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	macaroon "gopkg.in/macaroon.v2"
)

// Config is everything needed to dial an lnd node's gRPC interface.
type Config struct {
	Address      string // host:port of lnd's RPC listener
	TLSCertPath  string
	MacaroonPath string // path to a binary macaroon file, e.g. admin.macaroon
}

// dial opens a TLS+macaroon-authenticated gRPC connection to lnd.
func dial(cfg Config) (*grpc.ClientConn, error) {
	creds, err := credentials.NewClientTLSFromFile(cfg.TLSCertPath, "")
	if err != nil {
		return nil, fmt.Errorf("lnd: load tls cert: %w", err)
	}

	macBytes, err := os.ReadFile(cfg.MacaroonPath)
	if err != nil {
		return nil, fmt.Errorf("lnd: read macaroon: %w", err)
	}
	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(macBytes); err != nil {
		return nil, fmt.Errorf("lnd: parse macaroon: %w", err)
	}
	macCred, err := macaroons.NewMacaroonCredential(mac)
	if err != nil {
		return nil, fmt.Errorf("lnd: build macaroon credential: %w", err)
	}

	conn, err := grpc.Dial(
		cfg.Address,
		grpc.WithTransportCredentials(creds),
		grpc.WithPerRPCCredentials(macCred),
	)
	if err != nil {
		return nil, fmt.Errorf("lnd: dial %s: %w", cfg.Address, err)
	}
	return conn, nil
}
