package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Network  string `envconfig:"SWAPD_NETWORK" default:"testnet"`
	DBPath   string `envconfig:"SWAPD_DB_PATH" default:"./data/swapd.sqlite"`
	AutoMigrate bool `envconfig:"SWAPD_AUTO_MIGRATE" default:"true"`

	LogLevel string `envconfig:"SWAPD_LOG_LEVEL" default:"info"`
	LogDir   string `envconfig:"SWAPD_LOG_DIR" default:"./logs"`

	PublicListenAddr   string `envconfig:"SWAPD_PUBLIC_LISTEN_ADDR" default:"0.0.0.0:8080"`
	InternalListenAddr string `envconfig:"SWAPD_INTERNAL_LISTEN_ADDR" default:"127.0.0.1:8081"`

	// Swap parameters (spec §2, §6)
	MaxSwapAmountSat int64 `envconfig:"SWAPD_MAX_SWAP_AMOUNT_SAT" default:"4000000"`
	LockTimeBlocks   int32 `envconfig:"SWAPD_LOCK_TIME_BLOCKS" default:"288"`
	MinConfirmations int32 `envconfig:"SWAPD_MIN_CONFIRMATIONS" default:"1"`
	MinClaimBlocks   int32 `envconfig:"SWAPD_MIN_CLAIM_BLOCKS" default:"72"`
	MinViableCLTV    int32 `envconfig:"SWAPD_MIN_VIABLE_CLTV" default:"50"`
	DustLimitSat     int64 `envconfig:"SWAPD_DUST_LIMIT_SAT" default:"546"`

	// Lightning payment limits applied by the pay-swap coordinator (spec §4.J)
	PayFeeLimitBaseMsat int64 `envconfig:"SWAPD_PAY_FEE_LIMIT_BASE_MSAT" default:"5000"`
	PayFeeLimitPPM      int64 `envconfig:"SWAPD_PAY_FEE_LIMIT_PPM" default:"10000"`
	PayTimeoutSeconds   int   `envconfig:"SWAPD_PAY_TIMEOUT_SECONDS" default:"60"`

	// Bitcoin Core RPC (ChainSource / fallback fee estimator)
	BitcoindRPCHost string `envconfig:"SWAPD_BITCOIND_RPC_HOST" default:"127.0.0.1:8332"`
	BitcoindRPCUser string `envconfig:"SWAPD_BITCOIND_RPC_USER"`
	BitcoindRPCPass string `envconfig:"SWAPD_BITCOIND_RPC_PASS"`
	BitcoindUseTLS  bool   `envconfig:"SWAPD_BITCOIND_USE_TLS" default:"false"`

	// Fee-curve poller (whatthefee)
	FeeCurveURL             string `envconfig:"SWAPD_FEE_CURVE_URL" default:"https://whatthefee.io/data.json"`
	FeeCurvePollInterval    int    `envconfig:"SWAPD_FEE_CURVE_POLL_INTERVAL_SECONDS" default:"600"`
	FeeCurveStalenessSecond int    `envconfig:"SWAPD_FEE_CURVE_STALENESS_SECONDS" default:"720"`

	// Chain monitor cadence
	TipSyncIntervalSeconds  int    `envconfig:"SWAPD_TIP_SYNC_INTERVAL_SECONDS" default:"60"`
	FullSyncIntervalHours   int    `envconfig:"SWAPD_FULL_SYNC_INTERVAL_HOURS" default:"24"`
	ChainBirthdayBlockHash  string `envconfig:"SWAPD_CHAIN_BIRTHDAY_BLOCK_HASH"`

	// Claim scheduler
	ClaimIntervalSeconds int `envconfig:"SWAPD_CLAIM_INTERVAL_SECONDS" default:"60"`

	// Lightning node backend selection (spec §3)
	LightningBackend string `envconfig:"SWAPD_LIGHTNING_BACKEND" default:"lnd"`

	// LND connection
	LNDAddress      string `envconfig:"SWAPD_LND_ADDRESS" default:"127.0.0.1:10009"`
	LNDTLSCertPath  string `envconfig:"SWAPD_LND_TLS_CERT_PATH"`
	LNDMacaroonPath string `envconfig:"SWAPD_LND_MACAROON_PATH"`

	// CLN connection
	CLNSocketPath string `envconfig:"SWAPD_CLN_SOCKET_PATH" default:"/root/.lightning/lightning-rpc"`
}

// Load reads configuration from .env file (if present) then from environment variables.
// Environment variables override .env values.
func Load() (*Config, error) {
	// Load .env file if it exists. godotenv does NOT override already-set env vars,
	// so real environment variables take precedence over .env values.
	envFiles := []string{".env"}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				slog.Warn("failed to load .env file", "file", f, "error", err)
			} else {
				slog.Info("loaded .env file", "file", f)
			}
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	switch c.Network {
	case NetworkMainnet, NetworkTestnet, NetworkSignet, NetworkRegtest:
	default:
		return fmt.Errorf("%w: network must be one of bitcoin/testnet/signet/regtest, got %q", ErrInvalidNetwork, c.Network)
	}

	if c.MaxSwapAmountSat <= 0 {
		return fmt.Errorf("%w: max swap amount must be positive, got %d", ErrInvalidConfig, c.MaxSwapAmountSat)
	}
	if c.LockTimeBlocks <= 0 {
		return fmt.Errorf("%w: lock time blocks must be positive, got %d", ErrInvalidLockTime, c.LockTimeBlocks)
	}
	if c.MinClaimBlocks <= 0 || c.MinClaimBlocks >= c.LockTimeBlocks {
		return fmt.Errorf("%w: min claim blocks must be positive and less than lock time blocks, got %d", ErrInvalidLockTime, c.MinClaimBlocks)
	}
	if c.MinConfirmations < 0 {
		return fmt.Errorf("%w: min confirmations cannot be negative, got %d", ErrInvalidConfig, c.MinConfirmations)
	}
	if c.DustLimitSat <= 0 {
		return fmt.Errorf("%w: dust limit must be positive, got %d", ErrInvalidConfig, c.DustLimitSat)
	}

	if c.PayFeeLimitBaseMsat < 0 || c.PayFeeLimitPPM < 0 {
		return fmt.Errorf("%w: pay fee limits cannot be negative", ErrInvalidFeeLimit)
	}
	if c.PayTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: pay timeout seconds must be positive, got %d", ErrInvalidConfig, c.PayTimeoutSeconds)
	}

	if err := validateListenAddr(c.PublicListenAddr); err != nil {
		return err
	}
	if err := validateListenAddr(c.InternalListenAddr); err != nil {
		return err
	}

	switch c.LightningBackend {
	case LightningBackendLND:
		if c.LNDAddress == "" || c.LNDMacaroonPath == "" {
			return fmt.Errorf("%w: lnd backend requires address and macaroon path", ErrInvalidLightningNode)
		}
	case LightningBackendCLN:
		if c.CLNSocketPath == "" {
			return fmt.Errorf("%w: cln backend requires a socket path", ErrInvalidLightningNode)
		}
	default:
		return fmt.Errorf("%w: lightning backend must be \"lnd\" or \"cln\", got %q", ErrInvalidLightningNode, c.LightningBackend)
	}

	if c.DBPath == "" {
		return ErrMissingDatabaseURL
	}

	return nil
}

func validateListenAddr(addr string) error {
	if addr == "" {
		return fmt.Errorf("%w: listen address must not be empty", ErrInvalidListenAddr)
	}
	return nil
}
