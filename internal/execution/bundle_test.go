package execution

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mr-tron/base58"

	"solana-pump-bot/internal/blockchain"
)

func newTestExecutor(t *testing.T, relayURL string, facade blockchainFacade) *Executor {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	wallet, err := blockchain.NewWallet(base58.Encode(priv))
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}

	rpc := blockchain.NewRPCClient("http://127.0.0.1:1", "http://127.0.0.1:1", "")
	cache := blockchain.NewBlockhashCache(rpc, time.Hour, time.Hour)
	cache.Seed(base58.Encode(make([]byte, 32)), 0)

	txBuilder := blockchain.NewTransactionBuilder(wallet, cache, 0)
	return NewExecutor(facade, txBuilder, relayURL, "", MultiplicativeTipPolicy{})
}

type stubFacade struct {
	status string
	err    error
}

func (s *stubFacade) CheckTransaction(ctx context.Context, signature string) (*blockchain.TxCheckResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &blockchain.TxCheckResult{Signature: signature, Status: s.status}, nil
}

func TestExecutor_Submit_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req bundleRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Method != "sendBundle" {
			t.Errorf("method = %q, want sendBundle", req.Method)
		}
		if len(req.Params) != 1 || len(req.Params[0]) != 2 {
			t.Fatalf("params shape = %#v, want [[tip, swap]]", req.Params)
		}
		json.NewEncoder(w).Encode(bundleResponse{JSONRPC: "2.0", ID: 1, Result: "bundle-123"})
	}))
	defer srv.Close()

	e := newTestExecutor(t, srv.URL, &stubFacade{status: "SUCCESS"})
	result, err := e.Submit(context.Background(), 10_000_000_000, "dummy-swap-tx-b64")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if result.BundleID != "bundle-123" {
		t.Errorf("BundleID = %q, want bundle-123", result.BundleID)
	}
	if result.TipLamports == 0 {
		t.Error("expected a nonzero tip")
	}
}

func TestExecutor_Submit_PermanentFailureNoRetry(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad bundle"))
	}))
	defer srv.Close()

	e := newTestExecutor(t, srv.URL, &stubFacade{status: "SUCCESS"})
	_, err := e.Submit(context.Background(), 1_000_000_000, "dummy-swap-tx-b64")
	if err == nil {
		t.Fatal("expected error for 4xx response")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on permanent failure)", attempts)
	}
}

func TestExecutor_Submit_RetriesTransientThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(bundleResponse{JSONRPC: "2.0", ID: 1, Result: "bundle-456"})
	}))
	defer srv.Close()

	e := newTestExecutor(t, srv.URL, &stubFacade{status: "SUCCESS"})
	result, err := e.Submit(context.Background(), 1_000_000_000, "dummy-swap-tx-b64")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if result.BundleID != "bundle-456" {
		t.Errorf("BundleID = %q, want bundle-456", result.BundleID)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestExecutor_WaitForConfirmation_Confirmed(t *testing.T) {
	e := newTestExecutor(t, "http://unused", &stubFacade{status: "SUCCESS"})
	status := e.WaitForConfirmation(context.Background(), "sig", time.Second)
	if status != StatusConfirmed {
		t.Errorf("status = %v, want Confirmed", status)
	}
}

func TestExecutor_WaitForConfirmation_TimesOut(t *testing.T) {
	e := newTestExecutor(t, "http://unused", &stubFacade{status: "NOT_FOUND"})
	status := e.WaitForConfirmation(context.Background(), "sig", 700*time.Millisecond)
	if status != StatusTimeout {
		t.Errorf("status = %v, want Timeout", status)
	}
}
