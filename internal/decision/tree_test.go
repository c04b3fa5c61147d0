package decision

import (
	"math"
	"testing"
	"time"
)

func basePosition(now time.Time) Position {
	return Position{
		Mint:           "M1",
		EntryPrice:     0.001,
		EntryTimestamp: now,
		PositionSize:   0.1,
		Status:         StatusOpen,
		TakeProfitPct:  100,
		StopLossPct:    -25,
		TimeoutSeconds: 600,
	}
}

func freshMarket(now time.Time, price float64) Market {
	return Market{
		Mint:              "M1",
		Price:             price,
		Volume24h:         5000,
		PriceChange24hPct: 1,
		LiquidityQuote:    10,
		BidAskSpreadPct:   1,
		Timestamp:         now,
	}
}

func TestDecide_TakeProfit(t *testing.T) {
	now := time.Unix(1000, 0)
	pos := basePosition(now)
	pos.CurrentPrice = 0.0021
	pos.PnLUnrealizedPct = CalculatePnL(pos.EntryPrice, pos.CurrentPrice)

	got := Decide(pos, freshMarket(now, pos.CurrentPrice), now, 0)
	sell, ok := got.(Sell)
	if !ok || sell.Reason != "TAKE_PROFIT" {
		t.Fatalf("got %#v, want Sell(TAKE_PROFIT)", got)
	}
}

func TestDecide_StopLoss(t *testing.T) {
	now := time.Unix(1000, 0)
	pos := basePosition(now)
	pos.CurrentPrice = 0.00074
	pos.PnLUnrealizedPct = CalculatePnL(pos.EntryPrice, pos.CurrentPrice)

	got := Decide(pos, freshMarket(now, pos.CurrentPrice), now, 0)
	sell, ok := got.(Sell)
	if !ok || sell.Reason != "STOP_LOSS" {
		t.Fatalf("got %#v, want Sell(STOP_LOSS)", got)
	}
}

func TestDecide_Timeout(t *testing.T) {
	entry := time.Unix(0, 0)

	t.Run("age exactly equal to timeout holds", func(t *testing.T) {
		now := entry.Add(100 * time.Second)
		pos := basePosition(entry)
		pos.TimeoutSeconds = 100
		got := Decide(pos, freshMarket(now, pos.EntryPrice), now, 0)
		if _, ok := got.(Hold); !ok {
			t.Fatalf("got %#v, want Hold at age==timeout", got)
		}
	})

	t.Run("age past timeout sells", func(t *testing.T) {
		now := entry.Add(101 * time.Second)
		pos := basePosition(entry)
		pos.TimeoutSeconds = 100
		got := Decide(pos, freshMarket(now, pos.EntryPrice), now, 0)
		sell, ok := got.(Sell)
		if !ok || sell.Reason != "TIMEOUT" {
			t.Fatalf("got %#v, want Sell(TIMEOUT)", got)
		}
	})
}

func TestDecide_StopLossBoundaryUsesLTE(t *testing.T) {
	now := time.Unix(1000, 0)
	pos := basePosition(now)
	pos.PnLUnrealizedPct = pos.StopLossPct // exactly equal

	got := Decide(pos, freshMarket(now, pos.EntryPrice), now, 0)
	sell, ok := got.(Sell)
	if !ok || sell.Reason != "STOP_LOSS" {
		t.Fatalf("got %#v, want Sell(STOP_LOSS) at pnl==stop_loss", got)
	}
}

func TestDecide_LiquidityBoundaryUsesLT(t *testing.T) {
	now := time.Unix(1000, 0)
	pos := basePosition(now)
	pos.PnLUnrealizedPct = 1
	market := freshMarket(now, pos.EntryPrice)
	market.LiquidityQuote = 10 * pos.PositionSize // exactly equal

	got := Decide(pos, market, now, 0)
	if _, ok := got.(Hold); !ok {
		t.Fatalf("got %#v, want Hold when liquidity == 10x size", got)
	}
}

func TestDecide_StaleData(t *testing.T) {
	now := time.Unix(1000, 0)
	pos := basePosition(now)
	pos.PnLUnrealizedPct = 1
	market := freshMarket(now, pos.EntryPrice)
	market.Timestamp = now.Add(-6 * time.Second)

	got := Decide(pos, market, now, 0)
	sell, ok := got.(Sell)
	if !ok || sell.Reason != "STALE_DATA" {
		t.Fatalf("got %#v, want Sell(STALE_DATA)", got)
	}
}

func TestDecide_RulePriority_StopLossBeatsStale(t *testing.T) {
	// P2: when multiple hard rules could fire, the lowest-numbered wins.
	now := time.Unix(1000, 0)
	pos := basePosition(now)
	pos.PnLUnrealizedPct = -30 // below stop-loss
	market := freshMarket(now, pos.EntryPrice)
	market.Timestamp = now.Add(-10 * time.Second) // also stale

	got := Decide(pos, market, now, 0)
	sell, ok := got.(Sell)
	if !ok || sell.Reason != "STOP_LOSS" {
		t.Fatalf("got %#v, want Sell(STOP_LOSS) (rule 2 beats rule 4)", got)
	}
}

func TestDecide_TimeBasedStopTightensAfterTwoHours(t *testing.T) {
	entry := time.Unix(0, 0)
	now := entry.Add(3 * time.Hour)
	pos := basePosition(entry)
	// Raise the timeout past the 3h age so rule 1 (TIMEOUT) does not fire
	// first.
	pos.TimeoutSeconds = 4 * 3600
	// -25 * 0.8 = -20; pnl of -22 is above the base stop-loss (-25) but
	// below the tightened one (-20).
	pos.PnLUnrealizedPct = -22

	got := Decide(pos, freshMarket(now, pos.EntryPrice), now, 0)
	sell, ok := got.(Sell)
	if !ok || sell.Reason != "TIME_BASED_STOP" {
		t.Fatalf("got %#v, want Sell(TIME_BASED_STOP)", got)
	}
}

func TestDecide_ScaleIn(t *testing.T) {
	now := time.Unix(1000, 0)
	pos := basePosition(now)
	pos.PnLUnrealizedPct = -6
	market := freshMarket(now, pos.EntryPrice)
	market.Volume24h = 2000
	market.BidAskSpreadPct = 1

	got := Decide(pos, market, now, 1.0)
	buy, ok := got.(BuyMore)
	if !ok || buy.ExtraSize != 0.05 {
		t.Fatalf("got %#v, want BuyMore(0.05)", got)
	}
}

func TestDecide_ScaleInDisabledWithoutFreeBalance(t *testing.T) {
	now := time.Unix(1000, 0)
	pos := basePosition(now)
	pos.PnLUnrealizedPct = -6
	market := freshMarket(now, pos.EntryPrice)
	market.Volume24h = 2000
	market.BidAskSpreadPct = 1

	got := Decide(pos, market, now, 0)
	if _, ok := got.(Hold); !ok {
		t.Fatalf("got %#v, want Hold when free balance omitted", got)
	}
}

func TestDecide_NaNNeverFires(t *testing.T) {
	now := time.Unix(1000, 0)
	pos := basePosition(now)
	pos.PnLUnrealizedPct = math.NaN()

	got := Decide(pos, freshMarket(now, pos.EntryPrice), now, 0)
	if _, ok := got.(Hold); !ok {
		t.Fatalf("got %#v, want Hold when pnl is NaN", got)
	}
}

func TestDecide_Hold(t *testing.T) {
	now := time.Unix(1000, 0)
	pos := basePosition(now)
	pos.PnLUnrealizedPct = 1

	got := Decide(pos, freshMarket(now, pos.EntryPrice), now, 0)
	if _, ok := got.(Hold); !ok {
		t.Fatalf("got %#v, want Hold", got)
	}
}

func TestDecideEmergency(t *testing.T) {
	now := time.Unix(1000, 0)
	pos := basePosition(now)

	got := DecideEmergency(pos, ReasonRugPullDetected)
	sell, ok := got.(Sell)
	if !ok || sell.Reason != "EMERGENCY_RUG_PULL_DETECTED" {
		t.Fatalf("got %#v, want Sell(EMERGENCY_RUG_PULL_DETECTED)", got)
	}
}

func TestDecide_Deterministic(t *testing.T) {
	now := time.Unix(1000, 0)
	pos := basePosition(now)
	pos.PnLUnrealizedPct = 10
	market := freshMarket(now, pos.EntryPrice)

	a := Decide(pos, market, now, 0)
	b := Decide(pos, market, now, 0)
	if a != b {
		t.Fatalf("Decide is not deterministic: %#v != %#v", a, b)
	}
}
