package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"

	"solana-pump-bot/internal/blockchain"
)

// MetisSwapURL is Jupiter's hosted swap API. Grounded on
// internal/jupiter/client.go::MetisSwapURL.
const MetisSwapURL = "https://api.jup.ag/swap/v1"

type httpClientPool struct {
	clients []*http.Client
	mu      sync.Mutex
	idx     uint32
}

// newHTTPClientPool builds an HTTP/2 connection pool, reused verbatim from
// internal/jupiter/client.go::NewHTTPClientPool — a round-robin pool of
// pre-warmed HTTP/2 transports is the teacher's answer to Jupiter's
// per-request TLS handshake cost under high swap frequency.
func newHTTPClientPool(size int, timeout time.Duration) *httpClientPool {
	pool := &httpClientPool{clients: make([]*http.Client, size)}
	for i := 0; i < size; i++ {
		transport := &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		http2.ConfigureTransport(transport)
		pool.clients[i] = &http.Client{Transport: transport, Timeout: timeout}
	}
	return pool
}

func (p *httpClientPool) get() *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.clients[p.idx%uint32(len(p.clients))]
	p.idx++
	return c
}

// quoteResponse is Jupiter's /quote response, trimmed to the fields this
// package reads.
type quoteResponse struct {
	InputMint      string `json:"inputMint"`
	InAmount       string `json:"inAmount"`
	OutputMint     string `json:"outputMint"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
}

type swapResponse struct {
	SwapTransaction           string `json:"swapTransaction"`
	PrioritizationFeeLamports uint64 `json:"prioritizationFeeLamports"`
}

type priorityFeeConfig struct {
	PriorityLevelWithMaxLamports struct {
		PriorityLevel string `json:"priorityLevel"`
		MaxLamports   uint64 `json:"maxLamports"`
		Global        bool   `json:"global,omitempty"`
	} `json:"priorityLevelWithMaxLamports"`
}

// JupiterBuilder implements Builder against Jupiter's Metis swap API,
// signing the returned transaction with the node's own wallet. Grounded
// on internal/jupiter/client.go (HTTP/2 pool, quote+swap round trip, API
// key rotation) and internal/blockchain/transaction.go's
// SignSerializedTransaction for splicing the signature onto Jupiter's
// unsigned versioned transaction.
type JupiterBuilder struct {
	pool        *httpClientPool
	apiKeys     []string
	keyIdx      atomic.Uint32
	maxLamports uint64
	txBuilder   *blockchain.TransactionBuilder
	userPubkey  string
}

// NewJupiterBuilder constructs a builder that signs with wallet's key via
// txBuilder.
func NewJupiterBuilder(txBuilder *blockchain.TransactionBuilder, userPubkey string, apiKeys []string, timeout time.Duration) *JupiterBuilder {
	if len(apiKeys) == 0 {
		apiKeys = []string{"public-key"}
	}
	return &JupiterBuilder{
		pool:        newHTTPClientPool(4, timeout),
		apiKeys:     apiKeys,
		maxLamports: 1_250_000,
		txBuilder:   txBuilder,
		userPubkey:  userPubkey,
	}
}

func (j *JupiterBuilder) apiKey() string {
	idx := j.keyIdx.Add(1) % uint32(len(j.apiKeys))
	return j.apiKeys[idx]
}

func (j *JupiterBuilder) getQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*quoteResponse, error) {
	url := fmt.Sprintf("%s/quote?inputMint=%s&outputMint=%s&amount=%d&slippageBps=%d",
		MetisSwapURL, inputMint, outputMint, amount, slippageBps)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("create quote request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", j.apiKey())

	resp, err := j.pool.get().Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("quote failed (%d): %s", resp.StatusCode, string(body))
	}

	var q quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	return &q, nil
}

func (j *JupiterBuilder) getSwapTransaction(ctx context.Context, quote *quoteResponse) (string, uint64, error) {
	feeCfg := &priorityFeeConfig{}
	feeCfg.PriorityLevelWithMaxLamports.PriorityLevel = "veryHigh"
	feeCfg.PriorityLevelWithMaxLamports.MaxLamports = j.maxLamports

	reqBody := struct {
		QuoteResponse             *quoteResponse     `json:"quoteResponse"`
		UserPublicKey             string             `json:"userPublicKey"`
		WrapAndUnwrapSol          bool               `json:"wrapAndUnwrapSol"`
		DynamicComputeUnitLimit   bool               `json:"dynamicComputeUnitLimit"`
		SkipUserAccountsRpcCalls  bool               `json:"skipUserAccountsRpcCalls"`
		PrioritizationFeeLamports *priorityFeeConfig `json:"prioritizationFeeLamports"`
	}{
		QuoteResponse:             quote,
		UserPublicKey:             j.userPubkey,
		WrapAndUnwrapSol:          true,
		DynamicComputeUnitLimit:   true,
		SkipUserAccountsRpcCalls:  true,
		PrioritizationFeeLamports: feeCfg,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", 0, fmt.Errorf("marshal swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", MetisSwapURL+"/swap", bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("create swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", j.apiKey())

	resp, err := j.pool.get().Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("swap request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", 0, fmt.Errorf("swap failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var sr swapResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", 0, fmt.Errorf("decode swap response: %w", err)
	}
	return sr.SwapTransaction, sr.PrioritizationFeeLamports, nil
}

func (j *JupiterBuilder) build(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (string, Quote, error) {
	start := time.Now()
	quote, err := j.getQuote(ctx, inputMint, outputMint, amount, slippageBps)
	if err != nil {
		return "", Quote{}, fmt.Errorf("get quote: %w", err)
	}

	unsignedTx, priorityFee, err := j.getSwapTransaction(ctx, quote)
	if err != nil {
		return "", Quote{}, fmt.Errorf("get swap transaction: %w", err)
	}

	signedTx, err := j.txBuilder.SignSerializedTransaction(unsignedTx)
	if err != nil {
		return "", Quote{}, fmt.Errorf("sign swap transaction: %w", err)
	}

	outAmt, _ := strconv.ParseUint(quote.OutAmount, 10, 64)
	inAmt, _ := strconv.ParseUint(quote.InAmount, 10, 64)
	impact, _ := strconv.ParseFloat(quote.PriceImpactPct, 64)

	log.Info().
		Dur("latency", time.Since(start)).
		Uint64("priorityFee", priorityFee).
		Str("outAmount", quote.OutAmount).
		Msg("jupiter swap built")

	return signedTx, Quote{
		InputMint:      inputMint,
		OutputMint:     outputMint,
		InAmount:       inAmt,
		OutAmount:      outAmt,
		PriceImpactPct: impact,
	}, nil
}

// BuildSell swaps tokenAmount of mint back to SOL.
func (j *JupiterBuilder) BuildSell(ctx context.Context, mint string, tokenAmount uint64, slippageBps int) (string, Quote, error) {
	return j.build(ctx, mint, SOLMint, tokenAmount, slippageBps)
}

// BuildBuyMore swaps solLamports of SOL into mint.
func (j *JupiterBuilder) BuildBuyMore(ctx context.Context, mint string, solLamports uint64, slippageBps int) (string, Quote, error) {
	return j.build(ctx, SOLMint, mint, solLamports, slippageBps)
}

// referencePriceLamports is the notional SOL amount quoted to derive a
// reference price, not an actual trade.
const referencePriceLamports = 1_000_000_000

// Price fetches mint's current SOL price via a quote-only round trip (no
// swap transaction is built or signed). Used as the RPCPollMarketSource
// fallback when the websocket feed is unavailable.
func (j *JupiterBuilder) Price(ctx context.Context, mint string) (float64, error) {
	quote, err := j.getQuote(ctx, SOLMint, mint, referencePriceLamports, 50)
	if err != nil {
		return 0, fmt.Errorf("get price quote: %w", err)
	}
	outAmt, _ := strconv.ParseUint(quote.OutAmount, 10, 64)
	if outAmt == 0 {
		return 0, fmt.Errorf("quote returned zero output amount")
	}
	return float64(referencePriceLamports) / float64(outAmt), nil
}
