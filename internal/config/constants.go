package config

import "time"

// Swap amount and timelock defaults (spec §2 / §6)
const (
	DefaultMaxSwapAmountSat = 4_000_000
	DefaultLockTimeBlocks   = 288
	DefaultMinConfirmations = 1
	DefaultMinClaimBlocks   = 72
	DefaultDustLimitSat     = 546
)

// Payment limits applied when dispatching a Lightning payment for a swap (spec §4.J)
const (
	DefaultPayFeeLimitBaseMsat = 5_000
	DefaultPayFeeLimitPPM      = 10_000 // 1%
	DefaultPayTimeoutSeconds   = 60
)

// Chain monitor poll cadence (spec §4.A/§4.D)
const (
	DefaultTipSyncInterval  = 60 * time.Second
	DefaultFullSyncInterval = 24 * time.Hour
)

// Claim scheduler (spec §4.F)
const (
	DefaultClaimInterval        = 60 * time.Second
	MinReplacementDiffSatPerKw  = 250
	ClaimInputWitnessWeightUnit = 247 // wu/input, documented approximation
)

// whatthefee fee-curve poller (spec §4.B)
const (
	DefaultFeeCurveURL       = "https://whatthefee.io/data.json"
	FeeCurveStalenessSeconds = 720
	FeeCurveVByteRateDivisor = 100.0
	FeeCurveSatPerVByteScale = 250.0
)

// Logging
const (
	LogDir         = "./logs"
	LogFilePattern = "swapd-%s-%s.log" // %s = YYYY-MM-DD, %s = level
	LogMaxAgeDays  = 30
)

// Database
const (
	DBPath        = "./data/swapd.sqlite"
	DBTestPath    = "./data/swapd_test.sqlite"
	DBWALMode     = true
	DBBusyTimeout = 5000 // milliseconds
)

// Server
const (
	PublicListenPort   = 8080
	InternalListenPort = 8081
	ServerReadTimeout  = 30 * time.Second
	ServerWriteTimeout = 60 * time.Second
)

// Network identifiers accepted by SWAPD_NETWORK
const (
	NetworkMainnet = "bitcoin"
	NetworkTestnet = "testnet"
	NetworkSignet  = "signet"
	NetworkRegtest = "regtest"
)

// Lightning node backend kinds accepted by SWAPD_LIGHTNING_BACKEND
const (
	LightningBackendLND = "lnd"
	LightningBackendCLN = "cln"
)
