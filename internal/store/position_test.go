package store

import (
	"testing"
	"time"
)

func TestPositionState_RoundTrip(t *testing.T) {
	p := NewPositionState("MintA", 0.001, 0.1, "strategy-1", "wallet-1")
	p.ApplyMarket(0.0012, time.Unix(5000, 0))

	raw, err := p.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}

	got, err := PositionFromJSON(raw)
	if err != nil {
		t.Fatalf("PositionFromJSON failed: %v", err)
	}

	if got.Mint != p.Mint || got.EntryPrice != p.EntryPrice ||
		got.PositionSize != p.PositionSize || got.TakeProfitPct != p.TakeProfitPct ||
		got.StopLossPct != p.StopLossPct || got.CurrentPrice != p.CurrentPrice ||
		got.PnLUnrealizedPct != p.PnLUnrealizedPct || !got.EntryTimestamp.Equal(p.EntryTimestamp) {
		t.Errorf("round-trip mismatch: got %#v, want %#v", got, p)
	}
}

func TestNewPositionState_Defaults(t *testing.T) {
	p := NewPositionState("MintA", 0.001, 0.1, "strategy-1", "wallet-1")
	if p.TakeProfitPct != DefaultTakeProfitPct {
		t.Errorf("TakeProfitPct = %v, want %v", p.TakeProfitPct, DefaultTakeProfitPct)
	}
	if p.StopLossPct != DefaultStopLossPct {
		t.Errorf("StopLossPct = %v, want %v", p.StopLossPct, DefaultStopLossPct)
	}
	if p.TimeoutSeconds != DefaultTimeoutSeconds {
		t.Errorf("TimeoutSeconds = %v, want %v", p.TimeoutSeconds, DefaultTimeoutSeconds)
	}
	if p.Status != StatusOpen {
		t.Errorf("Status = %v, want Open", p.Status)
	}
}

func TestApplyMarket_UpdatesRuntimeFieldsOnly(t *testing.T) {
	p := NewPositionState("MintA", 0.001, 0.1, "strategy-1", "wallet-1")
	before := p.PositionSize

	p.ApplyMarket(0.0021, time.Unix(9000, 0))

	if p.PositionSize != before {
		t.Errorf("PositionSize changed by ApplyMarket: got %v, want %v", p.PositionSize, before)
	}
	if p.PnLUnrealizedPct <= 100 {
		t.Errorf("PnLUnrealizedPct = %v, want > 100 for a more-than-double price", p.PnLUnrealizedPct)
	}
	if !p.LastAnalysisTimestamp.Equal(time.Unix(9000, 0)) {
		t.Errorf("LastAnalysisTimestamp not updated")
	}
}

func TestPositionKey_Format(t *testing.T) {
	if got := PositionKey("MintA"); got != "position:MintA" {
		t.Errorf("PositionKey = %q, want %q", got, "position:MintA")
	}
}
