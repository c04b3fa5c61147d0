// Command cerberus is the decision brain's entrypoint: it wires
// RpcFacade, PositionStore, SwapBuilder, BundleExecutor, the audit
// ledger, and CommandListener together and runs Brain's tick loop until
// signaled to stop. Grounded on cmd/bot/main.go's component construction
// order (config -> wallet -> rpc -> blockhash cache -> tx builder ->
// trading engine) and cmd/realtest/main.go's priority-fee convention.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"solana-pump-bot/internal/audit"
	"solana-pump-bot/internal/blockchain"
	"solana-pump-bot/internal/brain"
	"solana-pump-bot/internal/command"
	"solana-pump-bot/internal/config"
	"solana-pump-bot/internal/decision"
	"solana-pump-bot/internal/execution"
	"solana-pump-bot/internal/metrics"
	"solana-pump-bot/internal/rpcfacade"
	"solana-pump-bot/internal/store"
	"solana-pump-bot/internal/swap"
	"solana-pump-bot/internal/websocket"
)

// defaultPriorityFeeLamports mirrors cmd/realtest/main.go's hardcoded
// 0.0001 SOL priority fee. spec.md's environment table has no dedicated
// priority-fee knob, so this stays a named constant rather than a config
// field invented for the occasion.
const defaultPriorityFeeLamports = 100_000

// rpcRatePerSec bounds the request rate RpcFacade issues against each of
// its two endpoints independently.
const rpcRatePerSec = 20.0

// marketPollInterval is how often RPCPollMarketSource re-quotes each
// tracked mint; FailoverMarketSource reads those quotes once the websocket
// feed for the mint has gone stale.
const marketPollInterval = 3 * time.Second

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	configPath := os.Getenv("CERBERUS_CONFIG")
	if configPath == "" {
		configPath = "config/cerberus.yaml"
	}

	mgr, err := config.NewManager(configPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		os.Exit(1)
	}
	cfg := mgr.Get()

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	wallet, err := blockchain.NewWalletFromSigningKey(cfg.SigningKey)
	if err != nil {
		log.Error().Err(err).Msg("failed to load wallet from SIGNING_KEY")
		os.Exit(1)
	}
	log.Info().Str("address", wallet.Address()).Msg("wallet loaded")

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	facade, err := rpcfacade.New(rootCtx, cfg.PrimaryRPCURL, cfg.FallbackRPCURL, rpcRatePerSec)
	if err != nil {
		log.Error().Err(err).Msg("both rpc endpoints unreachable at startup")
		os.Exit(3)
	}
	defer facade.Close()

	st, err := store.NewStore(rootCtx, cfg.StoreURL)
	if err != nil {
		log.Error().Err(err).Msg("position store unreachable at startup")
		os.Exit(2)
	}
	defer st.Close()

	// The tx builder and Jupiter builder need their own RPCClient +
	// BlockhashCache: RpcFacade's cache is kept private since its two
	// endpoints don't share one blockhash lineage. A single client against
	// the primary (with the fallback wired in as blockchain.RPCClient's own
	// retry target) is enough for blockhash refresh and token-account reads
	// this path needs directly.
	rpc := blockchain.NewRPCClient(cfg.PrimaryRPCURL, cfg.FallbackRPCURL, "")
	blockhashCache := blockchain.NewBlockhashCache(rpc, 400*time.Millisecond, 2*time.Second)
	if err := blockhashCache.Start(); err != nil {
		log.Error().Err(err).Msg("failed to start blockhash cache")
		os.Exit(2)
	}
	defer blockhashCache.Stop()

	txBuilder := blockchain.NewTransactionBuilder(wallet, blockhashCache, defaultPriorityFeeLamports)

	apiKeys := splitNonEmpty(os.Getenv("JUPITER_API_KEYS"))
	jupiterBuilder := swap.NewJupiterBuilder(txBuilder, wallet.Address(), apiKeys, 10*time.Second)

	executor := execution.NewExecutor(facade, txBuilder, cfg.BundleRelayURL, os.Getenv("JITO_TIP_ACCOUNT"), execution.MultiplicativeTipPolicy{})

	met := metrics.New()

	var auditor brain.Auditor
	if auditPath := os.Getenv("AUDIT_DB_PATH"); auditPath != "" {
		ledger, err := audit.Open(auditPath)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open audit ledger, continuing without one")
		} else {
			defer ledger.Close()
			auditor = ledger
		}
	}

	market := buildMarketSource(cfg, wallet, jupiterBuilder)
	seedTracking(rootCtx, st, market)

	balanceTracker := blockchain.NewBalanceTracker(wallet, rpc)

	b := brain.New(brain.Config{
		Store:         st,
		Markets:       market,
		Balances:      facade,
		Builder:       jupiterBuilder,
		Executor:      executor,
		Metrics:       met,
		Audit:         auditor,
		WalletAddress: wallet.Address(),
		LoopInterval:  cfg.LoopInterval(),
		MaxConcurrent: cfg.MaxConcurrentPositions,
		FreeBalanceFn: func(ctx context.Context) float64 {
			if err := balanceTracker.Refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("failed to refresh wallet balance")
				return 0
			}
			return balanceTracker.BalanceSOL()
		},
	})

	listener := command.New(st, b, cfg.EmergencyStopEnabled)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received, draining in-flight work")
		cancel()
	}()

	go func() {
		if err := listener.Run(rootCtx); err != nil {
			log.Error().Err(err).Msg("command listener exited")
		}
	}()

	log.Info().Dur("interval", cfg.LoopInterval()).Int("max_concurrent", cfg.MaxConcurrentPositions).Msg("cerberus starting")
	b.Run(rootCtx)
	log.Info().Msg("cerberus stopped")
}

// buildMarketSource composes the push/poll market-data adapter pair spec.md
// §4.1 requires: a websocket feed preferred, falling back to Jupiter
// quote-only polling once the feed for a mint goes stale.
func buildMarketSource(cfg *config.Config, wallet *blockchain.Wallet, jupiterBuilder *swap.JupiterBuilder) *rpcfacade.FailoverMarketSource {
	wsClient := websocket.NewClient(wsURLFromRPC(cfg.PrimaryRPCURL), 3*time.Second, 20*time.Second)
	if err := wsClient.Connect(); err != nil {
		log.Warn().Err(err).Msg("websocket feed unavailable at startup, relying on RPC polling")
	}
	priceFeed := websocket.NewPriceFeed(wsClient, wallet.Address())
	wsSource := rpcfacade.NewWebsocketMarketSource(priceFeed)

	pollFn := func(ctx context.Context, mint string) (decision.Market, error) {
		price, err := jupiterBuilder.Price(ctx, mint)
		if err != nil {
			return decision.Market{}, err
		}
		return decision.Market{Mint: mint, Price: price, Timestamp: time.Now()}, nil
	}
	pollSource := rpcfacade.NewRPCPollMarketSource(pollFn, marketPollInterval)

	return rpcfacade.NewFailoverMarketSource(wsSource, pollSource)
}

// seedTracking starts both market sources tracking every position already
// open in the store, so a restart picks up price updates immediately
// instead of waiting for some future open-position event this repository
// doesn't model (Cerberus manages positions other components open, it
// doesn't discover pools itself). Pool addresses aren't part of
// PositionState; a Track failure here is logged, not fatal, since the poll
// source still works off the mint alone.
func seedTracking(ctx context.Context, st *store.Store, market *rpcfacade.FailoverMarketSource) {
	positions, err := st.AllOpen(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to list open positions for initial market tracking")
		return
	}
	for _, pos := range positions {
		if err := market.Track(pos.Mint, ""); err != nil {
			log.Warn().Err(err).Str("mint", pos.Mint).Msg("failed to start tracking position")
		}
	}
}

func wsURLFromRPC(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	default:
		return httpURL
	}
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
