package blockchain

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/mr-tron/base58"
)

func TestBuildAndSignTipTransfer(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	w, err := NewWallet(base58.Encode(priv))
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}

	cache := &BlockhashCache{}
	cache.current.Store(&CachedBlockhash{Hash: base58.Encode(make([]byte, 32))})

	tb := NewTransactionBuilder(w, cache, 0)

	tipAccount := base58.Encode(make([]byte, 32))
	txBase64, err := tb.BuildAndSignTipTransfer(tipAccount, 1_000_000)
	if err != nil {
		t.Fatalf("BuildAndSignTipTransfer failed: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		t.Fatalf("decode tx: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("empty transaction bytes")
	}
	if raw[0] != 1 {
		t.Errorf("signature count = %d, want 1", raw[0])
	}
}
