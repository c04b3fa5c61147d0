// Package brain implements the decision loop (C6): on every tick it lists
// open positions, refreshes each against its market snapshot, evaluates
// decision.Decide, and dispatches the result through SwapBuilder and
// BundleExecutor. Grounded on internal/trading/executor.go's
// StartMonitoring/monitorPositions ticker loop (per-iteration fan-out over
// a bounded worker pool) and src/cerberus/mod.rs::process_all_positions /
// process_single_position for the per-mint control flow itself.
package brain

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"solana-pump-bot/internal/blockchain"
	"solana-pump-bot/internal/decision"
	"solana-pump-bot/internal/execution"
	"solana-pump-bot/internal/metrics"
	"solana-pump-bot/internal/store"
	"solana-pump-bot/internal/swap"
)

// Store is the subset of *store.Store the brain depends on, narrowed to
// an interface so tests drive the tick loop against an in-memory double
// instead of a live Redis instance.
type Store interface {
	AllOpen(ctx context.Context) ([]*store.PositionState, error)
	Get(ctx context.Context, mint string) (*store.PositionState, error)
	Update(ctx context.Context, p *store.PositionState) error
	MarkPending(ctx context.Context, mint, reason string) (store.CASResult, error)
	FinalizePending(ctx context.Context, mint, reason string) (store.CASResult, error)
	RevertPending(ctx context.Context, mint string) (store.CASResult, error)
	ReopenPending(ctx context.Context, mint string) (store.CASResult, error)
}

// MarketSource supplies the latest market snapshot for a tracked mint.
// Satisfied by *rpcfacade.FailoverMarketSource (or any of its component
// sources directly).
type MarketSource interface {
	Latest(mint string) (decision.Market, bool)
}

// BalanceFetcher resolves the real on-chain token balance backing a
// position, since PositionSize is a quote-asset notional rather than a
// token count. Satisfied by *rpcfacade.Facade.
type BalanceFetcher interface {
	GetTokenAccountsByOwner(ctx context.Context, owner, mint string) ([]blockchain.TokenAccountInfo, error)
}

// Executor is the subset of *execution.Executor the brain dispatches
// through.
type Executor interface {
	Submit(ctx context.Context, tradeLamports uint64, signedSwapTx string) (execution.SubmitResult, error)
	WaitForConfirmation(ctx context.Context, swapTxSignature string, deadline time.Duration) execution.BundleStatus
}

// Auditor records terminal events to the write-only ledger (C8). Optional:
// a nil Auditor simply means nothing is recorded.
type Auditor interface {
	RecordClosedPosition(ctx context.Context, pos *store.PositionState)
	RecordBundleSubmission(ctx context.Context, mint, bundleID string, tipLamports uint64)
}

// Config collects Brain's dependencies and tuning knobs. FreeBalanceFn is
// queried fresh on every processed position since the wallet's spendable
// balance changes with every fill; nil disables decision.Decide's rule 9
// (scale-in) without a special case, per that rule's zero-value contract.
type Config struct {
	Store         Store
	Markets       MarketSource
	Balances      BalanceFetcher
	Builder       swap.Builder
	Executor      Executor
	Metrics       *metrics.Metrics
	Audit         Auditor
	WalletAddress string
	LoopInterval  time.Duration
	MaxConcurrent int
	FreeBalanceFn func(ctx context.Context) float64
}

// Brain is the decision loop (C6).
type Brain struct {
	store         Store
	markets       MarketSource
	balances      BalanceFetcher
	builder       swap.Builder
	executor      Executor
	metrics       *metrics.Metrics
	audit         Auditor
	walletAddress string
	interval      time.Duration
	confirmWindow time.Duration
	freeBalanceFn func(ctx context.Context) float64

	paused   atomic.Bool
	inFlight sync.Map // mint -> struct{}
	sem      chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Brain. confirmWindow (how long an exit waits to
// confirm before it is reverted) is fixed at 2x the loop interval, the
// Open Question resolution recorded in SPEC_FULL.md §9.
func New(cfg Config) *Brain {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 50
	}
	return &Brain{
		store:         cfg.Store,
		markets:       cfg.Markets,
		balances:      cfg.Balances,
		builder:       cfg.Builder,
		executor:      cfg.Executor,
		metrics:       cfg.Metrics,
		audit:         cfg.Audit,
		walletAddress: cfg.WalletAddress,
		interval:      cfg.LoopInterval,
		confirmWindow: 2 * cfg.LoopInterval,
		freeBalanceFn: cfg.FreeBalanceFn,
		sem:           make(chan struct{}, maxConcurrent),
	}
}

// Run drives the tick loop until ctx is canceled. A ticker, not a sleep
// loop, is used deliberately: if a tick overruns the interval the ticker
// simply drops the missed ticks rather than queuing a catch-up burst,
// giving the back-pressure behavior spec.md §4.6 wants for free.
func (b *Brain) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.drain()
			return
		case <-ticker.C:
			b.tick(ctx)
		}
	}
}

// drain waits up to 5 seconds for in-flight dispatches to finish before
// Run returns, per spec.md §6's graceful-shutdown grace period.
func (b *Brain) drain() {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("shutdown grace period elapsed with dispatches still in flight")
	}
}

// Pause makes every subsequent tick skip all non-exit decisions, per
// spec.md §4.7's PAUSE_TRADING semantics. Exit rules (timeout, stop-loss,
// take-profit, stale data, and the rest of the hard-sell rules) still
// fire; only scale-in is suppressed.
func (b *Brain) Pause() { b.paused.Store(true) }

// Resume reverses Pause.
func (b *Brain) Resume() { b.paused.Store(false) }

func (b *Brain) tick(ctx context.Context) {
	tickID := uuid.NewString()

	positions, err := b.store.AllOpen(ctx)
	if err != nil {
		log.Error().Err(err).Str("tick_id", tickID).Msg("failed to list open positions")
		return
	}
	if len(positions) == 0 {
		return
	}
	if b.metrics != nil {
		b.metrics.SetOpenPositions(len(positions))
	}

	paused := b.paused.Load()

	for _, pos := range positions {
		pos := pos
		if _, busy := b.inFlight.LoadOrStore(pos.Mint, struct{}{}); busy {
			continue // already being processed by a prior tick or a command
		}

		select {
		case b.sem <- struct{}{}:
		case <-ctx.Done():
			b.inFlight.Delete(pos.Mint)
			continue
		}

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer func() { <-b.sem; b.inFlight.Delete(pos.Mint) }()
			b.processPosition(ctx, pos, tickID, paused)
		}()
	}

	if b.metrics != nil {
		b.metrics.RecordTick()
	}
}

func (b *Brain) processPosition(ctx context.Context, pos *store.PositionState, tickID string, paused bool) {
	start := time.Now()

	market, ok := b.markets.Latest(pos.Mint)
	if !ok {
		log.Warn().Str("mint", pos.Mint).Str("tick_id", tickID).Msg("no market data available, skipping")
		return
	}

	now := time.Now()
	pos.ApplyMarket(market.Price, now)

	var freeBalance float64
	if b.freeBalanceFn != nil {
		freeBalance = b.freeBalanceFn(ctx)
	}

	d := decision.Decide(pos.ToDecisionPosition(), market, now, freeBalance)

	if paused {
		if _, isSell := d.(decision.Sell); !isSell {
			b.persistHold(ctx, pos)
			return
		}
	}

	latency := time.Since(start)

	switch dec := d.(type) {
	case decision.Sell:
		b.logDecision(pos, "SELL", dec.Reason, tickID, latency)
		b.executeSell(ctx, pos, dec.Reason)
	case decision.BuyMore:
		b.logDecision(pos, "BUY_MORE", "", tickID, latency)
		b.executeBuyMore(ctx, pos, dec.ExtraSize)
	case decision.Hold:
		b.logDecision(pos, "HOLD", "", tickID, latency)
		b.persistHold(ctx, pos)
	}
}

func (b *Brain) persistHold(ctx context.Context, pos *store.PositionState) {
	if err := b.store.Update(ctx, pos); err != nil {
		log.Warn().Err(err).Str("mint", pos.Mint).Msg("failed to persist refreshed runtime fields")
	}
}

func (b *Brain) logDecision(pos *store.PositionState, dec, reason, tickID string, latency time.Duration) {
	log.Info().
		Str("mint", pos.Mint).
		Str("decision", dec).
		Str("reason", reason).
		Float64("pnl_pct", pos.PnLUnrealizedPct).
		Str("tick_id", tickID).
		Int64("latency_ms", latency.Milliseconds()).
		Msg("position analyzed")
}

func quoteToLamports(quoteAmount float64) uint64 {
	if quoteAmount <= 0 {
		return 0
	}
	return uint64(quoteAmount * 1e9)
}

func slippageBps(pct float64) int {
	if pct <= 0 {
		return 100 // 1% default for positions that never set one
	}
	return int(pct * 100)
}
