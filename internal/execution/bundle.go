package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"solana-pump-bot/internal/blockchain"
)

const (
	defaultMaxRetries   = 3
	retryBaseDelay      = 100 * time.Millisecond
	retryMaxDelay       = 30 * time.Second
	confirmPollInterval = 500 * time.Millisecond
)

// DefaultTipAccount is Jito's mainnet tip account, matching
// src/cerberus/execution.rs::CerberusExecutor::new's hardcoded pubkey.
const DefaultTipAccount = "96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5"

// bundleRequest is the JSON-RPC 2.0 envelope for the relay's sendBundle
// method, per spec.md §6.
type bundleRequest struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      int        `json:"id"`
	Method  string     `json:"method"`
	Params  [][]string `json:"params"`
}

type bundleResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  string          `json:"result"`
	Error   *bundleRPCError `json:"error"`
}

type bundleRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *bundleRPCError) Error() string {
	return fmt.Sprintf("relay error %d: %s", e.Code, e.Message)
}

// BundleStatus is the outcome of a wait_for_confirmation poll, per
// spec.md §4.4.
type BundleStatus int

const (
	StatusPendingConfirmation BundleStatus = iota
	StatusConfirmed
	StatusFailed
	StatusTimeout
)

func (s BundleStatus) String() string {
	switch s {
	case StatusConfirmed:
		return "Confirmed"
	case StatusFailed:
		return "Failed"
	case StatusTimeout:
		return "Timeout"
	default:
		return "Pending"
	}
}

// Executor is the BundleExecutor (C4): builds [tip_tx, swap_tx] pairs and
// submits them to a Jito-style relay. Grounded on
// src/cerberus/execution.rs::CerberusExecutor (bundle assembly order,
// dynamic tip) and src/execution/jito.rs::JitoExecutor (sendBundle
// request shape, retry/backoff, status polling), adapted from Rust's
// reqwest+tokio to net/http+context.
type Executor struct {
	facade     blockchainFacade
	txBuilder  *blockchain.TransactionBuilder
	relayURL   string
	tipAccount string
	tipPolicy  TipPolicy
	httpClient *http.Client
	maxRetries int
}

// blockchainFacade is the subset of rpcfacade.Facade this package needs,
// kept as a narrow interface so tests can supply a stub instead of a live
// dual-endpoint client.
type blockchainFacade interface {
	CheckTransaction(ctx context.Context, signature string) (*blockchain.TxCheckResult, error)
}

// NewExecutor constructs an Executor against relayURL's sendBundle
// endpoint, using tipAccount (DefaultTipAccount if empty) and policy for
// tip sizing.
func NewExecutor(facade blockchainFacade, txBuilder *blockchain.TransactionBuilder, relayURL, tipAccount string, policy TipPolicy) *Executor {
	if tipAccount == "" {
		tipAccount = DefaultTipAccount
	}
	return &Executor{
		facade:     facade,
		txBuilder:  txBuilder,
		relayURL:   relayURL,
		tipAccount: tipAccount,
		tipPolicy:  policy,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: defaultMaxRetries,
	}
}

// SubmitResult is what Submit returns on success.
type SubmitResult struct {
	BundleID    string
	TipLamports uint64
	SubmittedAt time.Time
}

// Submit builds the tip transaction for tradeLamports, pairs it ahead of
// signedSwapTx, and POSTs the bundle to the relay, retrying transient
// failures with the spec's exponential backoff. 4xx responses are
// permanent and returned immediately without retry.
func (e *Executor) Submit(ctx context.Context, tradeLamports uint64, signedSwapTx string) (SubmitResult, error) {
	tip := e.tipPolicy.Tip(tradeLamports)

	signedTipTx, err := e.txBuilder.BuildAndSignTipTransfer(e.tipAccount, tip)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("build tip transfer: %w", err)
	}

	params := [][]string{{signedTipTx, signedSwapTx}}

	var lastErr error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		bundleID, err := e.postBundle(ctx, params)
		if err == nil {
			return SubmitResult{BundleID: bundleID, TipLamports: tip, SubmittedAt: time.Now()}, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return SubmitResult{}, err
		}

		lastErr = err
		if attempt == e.maxRetries {
			break
		}

		delay := time.Duration(float64(retryBaseDelay) * math.Pow(2, float64(attempt-1)))
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("bundle submission failed, retrying")

		select {
		case <-ctx.Done():
			return SubmitResult{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	return SubmitResult{}, fmt.Errorf("bundle submission exhausted %d retries: %w", e.maxRetries, lastErr)
}

// permanentError wraps a 4xx relay response, signaling Submit to stop
// retrying.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

func (e *Executor) postBundle(ctx context.Context, params [][]string) (string, error) {
	reqBody := bundleRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "sendBundle",
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal bundle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.relayURL+"/api/v1/bundles", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create bundle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("bundle http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return "", &permanentError{err: fmt.Errorf("bundle rejected (%d): %s", resp.StatusCode, string(respBody))}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bundle submission http %d: %s", resp.StatusCode, string(respBody))
	}

	var bundleResp bundleResponse
	if err := json.Unmarshal(respBody, &bundleResp); err != nil {
		return "", fmt.Errorf("decode bundle response: %w", err)
	}
	if bundleResp.Error != nil {
		return "", bundleResp.Error
	}
	if bundleResp.Result == "" {
		return "", fmt.Errorf("bundle response missing result")
	}

	return bundleResp.Result, nil
}

// WaitForConfirmation polls the swap transaction's signature status every
// 500ms until deadline, returning the terminal BundleStatus. It never
// blocks the core decision loop itself — callers invoke it from a
// separate goroutine per spec.md §4.4's "observed asynchronously"
// requirement.
func (e *Executor) WaitForConfirmation(ctx context.Context, swapTxSignature string, deadline time.Duration) BundleStatus {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return StatusTimeout
		case <-ticker.C:
			result, err := e.facade.CheckTransaction(ctx, swapTxSignature)
			if err != nil {
				log.Warn().Err(err).Str("signature", swapTxSignature).Msg("confirmation poll failed")
				continue
			}
			switch result.Status {
			case "SUCCESS":
				return StatusConfirmed
			case "FAILED":
				return StatusFailed
			}
		}
	}
}
