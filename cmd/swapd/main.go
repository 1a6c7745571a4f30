// Command swapd runs the submarine-swap server: it loads configuration,
// opens the database, wires every collaborator together, and runs the
// background loops and RPC listeners under a single supervisor until a
// SIGINT/SIGTERM or an internal Stop request brings it down.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/lnswap/swapd/internal/bitcoind"
	"github.com/lnswap/swapd/internal/chain"
	"github.com/lnswap/swapd/internal/chainfilter"
	"github.com/lnswap/swapd/internal/chainrepo"
	"github.com/lnswap/swapd/internal/claim"
	"github.com/lnswap/swapd/internal/claimrepo"
	"github.com/lnswap/swapd/internal/cln"
	"github.com/lnswap/swapd/internal/config"
	"github.com/lnswap/swapd/internal/dbutil"
	"github.com/lnswap/swapd/internal/lightning"
	"github.com/lnswap/swapd/internal/lnd"
	"github.com/lnswap/swapd/internal/lndrepo"
	"github.com/lnswap/swapd/internal/logging"
	"github.com/lnswap/swapd/internal/payswap"
	"github.com/lnswap/swapd/internal/preimage"
	"github.com/lnswap/swapd/internal/rpcserver"
	"github.com/lnswap/swapd/internal/supervisor"
	"github.com/lnswap/swapd/internal/swap"
	"github.com/lnswap/swapd/internal/swaprepo"
	"github.com/lnswap/swapd/internal/whatthefee"
)

func main() {
	if err := run(); err != nil {
		slog.Error("swapd exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logCloser.Close()

	network := cfg.ChainParams()

	db, err := dbutil.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := db.RunMigrations(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	chainRepo := chainrepo.New(db)
	swapRepo := swaprepo.New(db, network)
	claimRepo := claimrepo.New(db, network)

	chainSource, err := bitcoind.New(bitcoind.Config{
		Host:   cfg.BitcoindRPCHost,
		User:   cfg.BitcoindRPCUser,
		Pass:   cfg.BitcoindRPCPass,
		UseTLS: cfg.BitcoindUseTLS,
	})
	if err != nil {
		return fmt.Errorf("connect to bitcoind: %w", err)
	}

	feeCurveEstimator := whatthefee.NewEstimator(cfg.FeeCurveURL, cfg.LockTimeBlocks, &http.Client{Timeout: 30 * time.Second})
	feeEstimator := bitcoind.NewFallbackFeeEstimator(feeCurveEstimator, chainSource)

	chainFilter := chainfilter.New(chainSource, swapRepo)

	lndRepo := lndrepo.New(db)
	lightningNode, err := dialLightningNode(cfg, network, lndRepo)
	if err != nil {
		return fmt.Errorf("connect to lightning node: %w", err)
	}
	wallet := lightningNode

	swapService := swap.NewService(network, swap.NewRandomPrivateKeyProvider(), uint32(cfg.LockTimeBlocks), cfg.DustLimitSat)

	payswapService := payswap.NewService(
		payswap.Params{
			MaxSwapAmountSat:    uint64(cfg.MaxSwapAmountSat),
			MinConfirmations:    int64(cfg.MinConfirmations),
			MinClaimBlocks:      uint32(cfg.MinClaimBlocks),
			MinViableCltv:       uint32(cfg.MinViableCLTV),
			PayFeeLimitBaseMsat: uint64(cfg.PayFeeLimitBaseMsat),
			PayFeeLimitPpm:      uint64(cfg.PayFeeLimitPPM),
			PayTimeoutSeconds:   uint16(cfg.PayTimeoutSeconds),
		},
		network,
		chainSource,
		chainRepo,
		chainFilter,
		feeEstimator,
		lightningNode,
		swapService,
		swapRepo,
	)

	claimService := claim.NewService(network, chainSource, chainRepo, claimRepo, swapRepo, swapService)
	claimMonitor := claim.NewMonitor(chainSource, feeEstimator, claimRepo, claimService, wallet, time.Duration(cfg.ClaimIntervalSeconds)*time.Second)

	chainMonitor := chain.NewMonitor(network, chainSource, chainRepo,
		time.Duration(cfg.TipSyncIntervalSeconds)*time.Second,
		time.Duration(cfg.FullSyncIntervalHours)*time.Hour)

	preimageMonitor := preimage.NewMonitor(chainRepo, lightningNode, swapRepo, time.Duration(cfg.TipSyncIntervalSeconds)*time.Second)
	historicalMonitor := preimage.NewHistoricalMonitor(lightningNode, swapRepo, time.Duration(cfg.TipSyncIntervalSeconds)*time.Second)

	super := supervisor.New()

	if err := historicalMonitor.Initialize(super.Context()); err != nil {
		return fmt.Errorf("initialize historical payment monitor: %w", err)
	}

	publicService := rpcserver.NewPublicService(payswapService)
	internalService := rpcserver.NewInternalService(network, swapRepo, chainRepo, feeEstimator, claimService, wallet, super)

	publicServer, err := rpcserver.NewServer("public", cfg.PublicListenAddr)
	if err != nil {
		return fmt.Errorf("start public rpc listener: %w", err)
	}
	internalServer, err := rpcserver.NewServer("internal", cfg.InternalListenAddr)
	if err != nil {
		return fmt.Errorf("start internal rpc listener: %w", err)
	}
	// The generated swap/internal protobuf service bindings register
	// publicService and internalService on publicServer.GRPCServer() and
	// internalServer.GRPCServer() here; that registration call lives outside
	// this module's scope (see DESIGN.md).
	mountRPCServices(publicServer, publicService, internalServer, internalService)

	super.WatchSignals()
	super.RunLoop("fee curve poller", feeCurveEstimator.Run)
	super.RunLoop("chain monitor", chainMonitor.Run)
	super.RunLoop("claim scheduler", claimMonitor.Run)
	super.RunLoop("preimage monitor", preimageMonitor.Run)
	// HistoricalMonitor.Run returns once its startup backlog drains; the loop
	// then waits for shutdown, so a clean drain does not cancel the shared
	// context the other loops run under.
	super.RunLoop("historical payment monitor", func(ctx context.Context) error {
		if err := historicalMonitor.Run(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	})
	super.RunServer("public rpc server", publicServer)
	super.RunServer("internal rpc server", internalServer)

	slog.Info("swapd started", "network", cfg.Network, "publicAddr", cfg.PublicListenAddr, "internalAddr", cfg.InternalListenAddr)
	super.Wait()
	slog.Info("shutdown complete")
	return nil
}

// mountRPCServices logs that the public and internal application services
// are ready to be mounted on their listeners. The actual mounting call —
// pb.RegisterPublicServiceServer(publicServer.GRPCServer(), publicService)
// and its internal counterpart — is generated from the .proto definitions,
// which this module does not generate; see DESIGN.md.
func mountRPCServices(publicServer *rpcserver.Server, publicService *rpcserver.PublicService, internalServer *rpcserver.Server, internalService *rpcserver.InternalService) {
	slog.Info("public rpc service ready to mount", "service", fmt.Sprintf("%T", publicService), "grpcServer", publicServer.GRPCServer() != nil)
	slog.Info("internal rpc service ready to mount", "service", fmt.Sprintf("%T", internalService), "grpcServer", internalServer.GRPCServer() != nil)
}

// lightningWallet is satisfied by both *lnd.Client and *cln.Client: each is
// simultaneously the lightning.Node used to pay/track invoices and the
// claim.Wallet used to mint a fresh on-chain address for claim sweeps, since
// both node types expose their own wallets rather than this service running
// a separate one.
type lightningWallet interface {
	lightning.Node
	claim.Wallet
}

// dialLightningNode connects to whichever Lightning backend cfg selects.
func dialLightningNode(cfg *config.Config, network *chaincfg.Params, lndRepo *lndrepo.Repository) (lightningWallet, error) {
	switch cfg.LightningBackend {
	case config.LightningBackendLND:
		client, err := lnd.NewClient(lnd.Config{
			Address:      cfg.LNDAddress,
			TLSCertPath:  cfg.LNDTLSCertPath,
			MacaroonPath: cfg.LNDMacaroonPath,
		}, network, lndRepo)
		if err != nil {
			return nil, fmt.Errorf("dial lnd: %w", err)
		}
		return client, nil
	case config.LightningBackendCLN:
		client, err := cln.NewClient(cln.Config{
			LightningDir: filepath.Dir(cfg.CLNSocketPath),
			RPCFile:      filepath.Base(cfg.CLNSocketPath),
		}, network)
		if err != nil {
			return nil, fmt.Errorf("dial cln: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown lightning backend %q", cfg.LightningBackend)
	}
}
