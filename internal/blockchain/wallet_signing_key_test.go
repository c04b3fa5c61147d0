package blockchain

import (
	"crypto/ed25519"
	"encoding/json"
	"testing"
)

func TestNewWalletFromSigningKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	ints := make([]int, len(priv))
	for i, b := range priv {
		ints[i] = int(b)
	}
	raw, err := json.Marshal(ints)
	if err != nil {
		t.Fatalf("marshal signing key: %v", err)
	}

	wallet, err := NewWalletFromSigningKey(string(raw))
	if err != nil {
		t.Fatalf("NewWalletFromSigningKey failed: %v", err)
	}

	if len(wallet.PublicKey()) != ed25519.PublicKeySize {
		t.Errorf("public key size = %d, want %d", len(wallet.PublicKey()), ed25519.PublicKeySize)
	}
}

func TestNewWalletFromSigningKey_InvalidJSON(t *testing.T) {
	if _, err := NewWalletFromSigningKey("not json"); err == nil {
		t.Error("expected error for invalid signing key json")
	}
}
