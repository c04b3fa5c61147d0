package swap

import (
	"context"
	"testing"
)

func TestSimulatedBuilder_BuildSell(t *testing.T) {
	s := NewSimulatedBuilder()
	s.OutPerIn = 2.0

	tx, quote, err := s.BuildSell(context.Background(), "MintA", 1000, 50)
	if err != nil {
		t.Fatalf("BuildSell failed: %v", err)
	}
	if tx == "" {
		t.Error("expected a non-empty signed transaction")
	}
	if quote.OutAmount != 2000 {
		t.Errorf("OutAmount = %d, want 2000", quote.OutAmount)
	}
	if quote.OutputMint != SOLMint {
		t.Errorf("OutputMint = %s, want %s", quote.OutputMint, SOLMint)
	}
}

func TestSimulatedBuilder_BuildBuyMore(t *testing.T) {
	s := NewSimulatedBuilder()

	tx, quote, err := s.BuildBuyMore(context.Background(), "MintA", 5000, 50)
	if err != nil {
		t.Fatalf("BuildBuyMore failed: %v", err)
	}
	if tx == "" {
		t.Error("expected a non-empty signed transaction")
	}
	if quote.InAmount != 5000 {
		t.Errorf("InAmount = %d, want 5000", quote.InAmount)
	}
}

func TestSimulatedBuilder_FailMints(t *testing.T) {
	s := NewSimulatedBuilder()
	s.FailMints["RugMint"] = true

	if _, _, err := s.BuildSell(context.Background(), "RugMint", 100, 50); err == nil {
		t.Fatal("expected an error for a mint in FailMints")
	}
}

func TestSimulatedBuilder_ImplementsBuilder(t *testing.T) {
	var _ Builder = NewSimulatedBuilder()
}
