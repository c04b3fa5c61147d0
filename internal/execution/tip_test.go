package execution

import "testing"

func TestMultiplicativeTipPolicy_UsesTradeBasedWhenLarger(t *testing.T) {
	p := MultiplicativeTipPolicy{}
	// 50 SOL trade: 50e9 * 0.0001 = 5,000,000 lamports, above MinTipLamports
	// and uncapped — a larger trade must pay a proportionally larger tip.
	tip := p.Tip(50_000_000_000)
	want := uint64(5_000_000)
	if tip != want {
		t.Errorf("Tip = %d, want %d", tip, want)
	}
}

func TestMultiplicativeTipPolicy_ScalesPastLegacyMax(t *testing.T) {
	// A trade large enough that the trade-based tip exceeds
	// AdditiveTipPolicy's MaxTipLamports must NOT be capped: P4 requires
	// tip >= floor(trade_quote * TipRate) for every trade size.
	p := MultiplicativeTipPolicy{}
	tradeLamports := uint64(200_000_000_000) // 200 SOL
	tip := p.Tip(tradeLamports)
	want := uint64(float64(tradeLamports) * TipRate)
	if tip != want {
		t.Errorf("Tip = %d, want %d (uncapped)", tip, want)
	}
	if tip <= MaxTipLamports {
		t.Errorf("expected tip %d to exceed MaxTipLamports %d for a large trade", tip, MaxTipLamports)
	}
}

func TestMultiplicativeTipPolicy_FloorsToMinForSmallTrade(t *testing.T) {
	p := MultiplicativeTipPolicy{}
	tip := p.Tip(1000) // negligible trade, trade-based tip ~0
	if tip != MinTipLamports {
		t.Errorf("Tip = %d, want MinTipLamports %d", tip, MinTipLamports)
	}
}

func TestAdditiveTipPolicy_ScalesWithBundleAndPriority(t *testing.T) {
	p := AdditiveTipPolicy{Base: 10_000, BundleSize: 2, AvgPriority: 5}
	tip := p.Tip(0)
	want := clamp(10_000 + 2*1000 + 5*1000)
	if tip != want {
		t.Errorf("Tip = %d, want %d", tip, want)
	}
}

func TestClamp_BoundsBothWays(t *testing.T) {
	if got := clamp(0); got != MinTipLamports {
		t.Errorf("clamp(0) = %d, want MinTipLamports", got)
	}
	if got := clamp(MaxTipLamports + 1); got != MaxTipLamports {
		t.Errorf("clamp(overflow) = %d, want MaxTipLamports", got)
	}
}
