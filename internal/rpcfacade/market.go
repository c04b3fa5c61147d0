package rpcfacade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"solana-pump-bot/internal/decision"
	"solana-pump-bot/internal/websocket"
)

// MarketSource feeds the brain loop fresh decision.Market observations for
// a tracked mint. Two implementations exist: a websocket-pushed one for
// the common case and an RPC-poll one used when the websocket connection
// is down, matching spec.md §4.1's "market-data adapter with a push and a
// poll implementation" requirement.
type MarketSource interface {
	Track(mint, poolAddr string) error
	Untrack(mint string) error
	Latest(mint string) (decision.Market, bool)
}

// WebsocketMarketSource adapts the teacher's AMM-pool subscription feed
// (internal/websocket.PriceFeed) into decision.Market snapshots. Grounded
// on internal/websocket/price_feed.go's OnPriceUpdate/TrackToken shape;
// CalculatePriceFromReserves supplies the price, and 24h volume/spread
// fields are filled in by the most recent RPC poll merged over the top
// since the pool subscription alone carries no volume data.
type WebsocketMarketSource struct {
	feed *websocket.PriceFeed

	mu   sync.RWMutex
	last map[string]decision.Market
}

// NewWebsocketMarketSource wraps an already-connected price feed.
func NewWebsocketMarketSource(feed *websocket.PriceFeed) *WebsocketMarketSource {
	s := &WebsocketMarketSource{
		feed: feed,
		last: make(map[string]decision.Market),
	}
	feed.OnPriceUpdate(s.onUpdate)
	return s
}

func (s *WebsocketMarketSource) onUpdate(update websocket.PriceUpdate) {
	price := update.PriceSOL
	if update.PoolReserves.BaseReserve != 0 {
		price = websocket.CalculatePriceFromReserves(update.PoolReserves)
	}

	s.mu.Lock()
	prev, had := s.last[update.Mint]
	m := decision.Market{
		Mint:      update.Mint,
		Price:     price,
		Timestamp: time.Now(),
	}
	if had {
		m.Volume24h = prev.Volume24h
		m.PriceChange24hPct = prev.PriceChange24hPct
		m.LiquidityQuote = prev.LiquidityQuote
		m.BidAskSpreadPct = prev.BidAskSpreadPct
	}
	s.last[update.Mint] = m
	s.mu.Unlock()
}

// Track subscribes to a mint's AMM pool for push updates.
func (s *WebsocketMarketSource) Track(mint, poolAddr string) error {
	return s.feed.TrackToken(mint, poolAddr)
}

// Untrack removes a mint's subscription.
func (s *WebsocketMarketSource) Untrack(mint string) error {
	s.mu.Lock()
	delete(s.last, mint)
	s.mu.Unlock()
	return s.feed.UntrackToken(mint)
}

// Latest returns the most recent observation for mint, if any.
func (s *WebsocketMarketSource) Latest(mint string) (decision.Market, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.last[mint]
	return m, ok
}

// MergeLiquidity folds RPC-sourced liquidity/volume/spread fields into the
// cached snapshot for mint, since the websocket pool subscription alone
// only carries price. The brain loop calls this after its own RPC poll of
// pool reserves and 24h stats.
func (s *WebsocketMarketSource) MergeLiquidity(mint string, volume24h, priceChange24hPct, liquidityQuote, spreadPct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.last[mint]
	if !ok {
		m = decision.Market{Mint: mint, Timestamp: time.Now()}
	}
	m.Volume24h = volume24h
	m.PriceChange24hPct = priceChange24hPct
	m.LiquidityQuote = liquidityQuote
	m.BidAskSpreadPct = spreadPct
	s.last[mint] = m
}

// PollFunc fetches a fresh market snapshot for mint by some external
// means (Jupiter quote, RPC account read, etc). It is the hook
// RPCPollMarketSource calls on each tick.
type PollFunc func(ctx context.Context, mint string) (decision.Market, error)

// RPCPollMarketSource is the fallback market-data adapter used when the
// websocket connection is unavailable: it polls PollFunc on a fixed
// interval per tracked mint. Grounded on spec.md §4.1's explicit
// requirement for a non-websocket fallback path and on the teacher's
// polling idiom in internal/blockchain.BlockhashCache.prefetchLoop.
type RPCPollMarketSource struct {
	poll     PollFunc
	interval time.Duration

	mu      sync.Mutex
	tracked map[string]context.CancelFunc
	last    sync.Map // mint -> decision.Market
}

// NewRPCPollMarketSource constructs a poll-based adapter.
func NewRPCPollMarketSource(poll PollFunc, interval time.Duration) *RPCPollMarketSource {
	return &RPCPollMarketSource{
		poll:     poll,
		interval: interval,
		tracked:  make(map[string]context.CancelFunc),
	}
}

// Track starts polling mint on its own goroutine. poolAddr is accepted to
// satisfy MarketSource but unused here; PollFunc already knows how to
// resolve a mint to whatever it needs.
func (s *RPCPollMarketSource) Track(mint, poolAddr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tracked[mint]; exists {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.tracked[mint] = cancel
	go s.pollLoop(ctx, mint)
	return nil
}

// Untrack stops polling mint.
func (s *RPCPollMarketSource) Untrack(mint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, exists := s.tracked[mint]; exists {
		cancel()
		delete(s.tracked, mint)
	}
	s.last.Delete(mint)
	return nil
}

// Latest returns the most recently polled snapshot for mint, if any.
func (s *RPCPollMarketSource) Latest(mint string) (decision.Market, bool) {
	v, ok := s.last.Load(mint)
	if !ok {
		return decision.Market{}, false
	}
	return v.(decision.Market), true
}

func (s *RPCPollMarketSource) pollLoop(ctx context.Context, mint string) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m, err := s.poll(ctx, mint)
			if err != nil {
				log.Warn().Str("mint", mint).Err(err).Msg("market poll failed")
				continue
			}
			s.last.Store(mint, m)
		}
	}
}

// FailoverMarketSource prefers a websocket source and falls back to an
// RPC-poll source once the websocket data for a mint goes stale, per
// decision.Market.IsStale's 5-second threshold (spec.md §4.5 rule 4 would
// otherwise force a sell purely because the feed, not the market, went
// quiet).
type FailoverMarketSource struct {
	primary  MarketSource
	fallback MarketSource
}

// NewFailoverMarketSource composes a push-preferred, poll-backed source.
func NewFailoverMarketSource(primary, fallback MarketSource) *FailoverMarketSource {
	return &FailoverMarketSource{primary: primary, fallback: fallback}
}

// Track starts both sources tracking mint. The fallback is started even
// when the primary fails; the primary's error is still returned.
func (f *FailoverMarketSource) Track(mint, poolAddr string) error {
	fallbackErr := f.fallback.Track(mint, poolAddr)
	if err := f.primary.Track(mint, poolAddr); err != nil {
		return fmt.Errorf("track primary: %w", err)
	}
	return fallbackErr
}

// Untrack stops both sources tracking mint.
func (f *FailoverMarketSource) Untrack(mint string) error {
	_ = f.primary.Untrack(mint)
	return f.fallback.Untrack(mint)
}

// Latest returns the primary's snapshot unless it is stale or absent, in
// which case it falls back to the poll source.
func (f *FailoverMarketSource) Latest(mint string) (decision.Market, bool) {
	if m, ok := f.primary.Latest(mint); ok && !m.IsStale(time.Now()) {
		return m, true
	}
	return f.fallback.Latest(mint)
}
