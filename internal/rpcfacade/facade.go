// Package rpcfacade implements RpcFacade (C1): a dual-endpoint Solana RPC
// client that tracks the primary and fallback endpoints' health
// independently, rather than the single shared circuit breaker
// internal/blockchain.RPCClient uses internally. Grounded on
// internal/blockchain/rpc.go's call/callURL split (reused here as the
// per-endpoint transport) and on src/cerberus/rpc_facade.rs's two
// AtomicBool health flags and periodic probe loop.
package rpcfacade

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"solana-pump-bot/internal/blockchain"
)

// ErrBothUnreachable is returned when neither endpoint answers a probe.
// Propagated to cmd/cerberus/main.go as exit code 3 at startup, per
// spec.md §6.
var ErrBothUnreachable = errors.New("both rpc endpoints unreachable")

const (
	healthRefreshInterval = 30 * time.Second
	probeTimeout          = 5 * time.Second
)

// endpoint bundles a single-URL RPC transport with its own health flag and
// rate limiter. Constructing blockchain.RPCClient with the same URL in
// both the primary and fallback slots disables its internal primary/
// fallback retry so each endpoint's failures are attributable to it alone.
type endpoint struct {
	name    string
	client  *blockchain.RPCClient
	limiter *rate.Limiter
	healthy atomic.Bool
}

func newEndpoint(name, url string, ratePerSec float64) *endpoint {
	e := &endpoint{
		name:    name,
		client:  blockchain.NewRPCClient(url, url, ""),
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), int(ratePerSec)+1),
	}
	e.healthy.Store(true)
	return e
}

func (e *endpoint) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	_, err := e.client.GetLatestBlockhash(ctx)
	wasHealthy := e.healthy.Load()
	e.healthy.Store(err == nil)

	if err != nil && wasHealthy {
		log.Warn().Str("endpoint", e.name).Err(err).Msg("rpc endpoint marked unhealthy")
	} else if err == nil && !wasHealthy {
		log.Info().Str("endpoint", e.name).Msg("rpc endpoint recovered")
	}
}

// Facade is the RpcFacade (C1): RPC calls and blockhash caching behind one
// handle that can be cloned across goroutines. Market data is served by the
// MarketSource types in market.go, not by Facade.
type Facade struct {
	primary  *endpoint
	fallback *endpoint

	blockhash *blockchain.BlockhashCache

	stopCh chan struct{}
}

// New constructs a Facade and verifies at least one endpoint is reachable.
// ratePerSec bounds the request rate to each endpoint independently
// (golang.org/x/time/rate, the teacher's dependency for this concern).
func New(ctx context.Context, primaryURL, fallbackURL string, ratePerSec float64) (*Facade, error) {
	f := &Facade{
		primary:  newEndpoint("primary", primaryURL, ratePerSec),
		fallback: newEndpoint("fallback", fallbackURL, ratePerSec),
		stopCh:   make(chan struct{}),
	}

	f.primary.probe(ctx)
	if !f.primary.healthy.Load() {
		f.fallback.probe(ctx)
		if !f.fallback.healthy.Load() {
			return nil, ErrBothUnreachable
		}
	}

	active := f.primary.client
	if !f.primary.healthy.Load() {
		active = f.fallback.client
	}

	f.blockhash = blockchain.NewBlockhashCache(active, 400*time.Millisecond, 2*time.Second)
	if err := f.blockhash.Start(); err != nil {
		return nil, err
	}

	go f.healthLoop()

	return f, nil
}

// Close stops background refresh goroutines.
func (f *Facade) Close() {
	close(f.stopCh)
	f.blockhash.Stop()
}

func (f *Facade) healthLoop() {
	ticker := time.NewTicker(healthRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			ctx := context.Background()
			f.primary.probe(ctx)
			f.fallback.probe(ctx)
		}
	}
}

// Healthy reports whether at least one endpoint currently answers probes.
func (f *Facade) Healthy() bool {
	return f.primary.healthy.Load() || f.fallback.healthy.Load()
}

// Blockhash returns the current cached blockhash.
func (f *Facade) Blockhash() (string, error) {
	return f.blockhash.Get()
}

// active picks the endpoint to try first: the primary if healthy,
// otherwise the fallback, matching spec.md §4.1's "prefer primary, use
// fallback only when primary is unhealthy" policy.
func (f *Facade) active() (*endpoint, *endpoint) {
	if f.primary.healthy.Load() {
		return f.primary, f.fallback
	}
	return f.fallback, f.primary
}

// call runs fn against the preferred endpoint, falling back to the other
// only if the preferred one errors, and returns the final error unwrapped
// (blockchain.ClassifyError can be applied to it directly).
func (f *Facade) call(ctx context.Context, fn func(*blockchain.RPCClient) error) error {
	first, second := f.active()

	if err := first.limiter.Wait(ctx); err != nil {
		return err
	}
	err := fn(first.client)
	if err == nil {
		return nil
	}
	first.healthy.Store(false)
	log.Warn().Str("endpoint", first.name).Err(err).Msg("rpc call failed, trying other endpoint")

	if err := second.limiter.Wait(ctx); err != nil {
		return err
	}
	err2 := fn(second.client)
	if err2 != nil {
		return err2
	}
	second.healthy.Store(true)
	return nil
}

// GetBalance fetches SOL balance via the healthy endpoint.
func (f *Facade) GetBalance(ctx context.Context, pubkey string) (uint64, error) {
	var bal uint64
	err := f.call(ctx, func(c *blockchain.RPCClient) error {
		v, err := c.GetBalance(ctx, pubkey)
		bal = v
		return err
	})
	return bal, err
}

// SendTransaction submits a signed transaction via the healthy endpoint.
func (f *Facade) SendTransaction(ctx context.Context, signedTx string, skipPreflight bool) (string, error) {
	var sig string
	err := f.call(ctx, func(c *blockchain.RPCClient) error {
		v, err := c.SendTransaction(ctx, signedTx, skipPreflight)
		sig = v
		return err
	})
	return sig, err
}

// CheckTransaction polls confirmation status via the healthy endpoint.
func (f *Facade) CheckTransaction(ctx context.Context, signature string) (*blockchain.TxCheckResult, error) {
	var res *blockchain.TxCheckResult
	err := f.call(ctx, func(c *blockchain.RPCClient) error {
		v, err := c.CheckTransaction(ctx, signature)
		res = v
		return err
	})
	return res, err
}

// GetTokenAccountsByOwner fetches SPL token accounts via the healthy endpoint.
func (f *Facade) GetTokenAccountsByOwner(ctx context.Context, owner, mint string) ([]blockchain.TokenAccountInfo, error) {
	var accounts []blockchain.TokenAccountInfo
	err := f.call(ctx, func(c *blockchain.RPCClient) error {
		v, err := c.GetTokenAccountsByOwner(ctx, owner, mint)
		accounts = v
		return err
	})
	return accounts, err
}
