package decision

import (
	"math"
	"time"
)

// Decide evaluates the prioritized rule set against position and market and
// returns the first matching Decision. It is pure and total: the same
// inputs and the same now always produce the same output, and IEEE-754
// comparisons make a NaN operand simply fail to match any rule rather than
// panicking or short-circuiting the rest of the tree.
//
// freeBalanceQuote is the caller-supplied spendable balance the soft
// scale-in rule (9) needs; a zero or negative value can never satisfy the
// rule's "≥ 0.5 × position_size" requirement (position_size is always
// positive per the Open invariant), so omitting it disables rule 9 without
// any special-case branch.
//
// Grounded on src/cerberus/decision_tree.rs::run_decision_tree /
// check_market_conditions / check_risk_conditions / check_scaling_opportunities.
func Decide(pos Position, market Market, now time.Time, freeBalanceQuote float64) Decision {
	pnlPct := pos.PnLUnrealizedPct

	// 1. Timeout
	if now.Sub(pos.EntryTimestamp).Seconds() > float64(pos.TimeoutSeconds) {
		return Sell{Reason: "TIMEOUT"}
	}

	// 2. Stop-loss
	if pnlPct <= pos.StopLossPct {
		return Sell{Reason: "STOP_LOSS"}
	}

	// 3. Take-profit
	if pnlPct >= pos.TakeProfitPct {
		return Sell{Reason: "TAKE_PROFIT"}
	}

	// 4. Stale data
	if market.IsStale(now) {
		return Sell{Reason: "STALE_DATA"}
	}

	// 5. Insufficient liquidity
	if market.LiquidityQuote < 10*pos.PositionSize {
		return Sell{Reason: "LOW_LIQUIDITY"}
	}

	// 6. Excess spread
	if market.BidAskSpreadPct > 5 {
		return Sell{Reason: "HIGH_SPREAD"}
	}

	// 7. Extreme volatility
	if math.Abs(market.PriceChange24hPct) > 50 {
		return Sell{Reason: "HIGH_VOLATILITY"}
	}

	// 8. Time-decayed stop
	ageHours := now.Sub(pos.EntryTimestamp).Hours()
	if ageHours > 2 {
		tightened := pos.StopLossPct * 0.8
		if pnlPct <= tightened {
			return Sell{Reason: "TIME_BASED_STOP"}
		}
	}

	// 9. Scale-in (soft, only reached when no hard rule fired). "Above SL"
	// means pnlPct hasn't hit stop_loss_pct yet (pnlPct is less negative),
	// confirmed against check_scaling_opportunities in the original source.
	if pnlPct > pos.StopLossPct &&
		pnlPct < -5 &&
		market.Volume24h > 1000 &&
		market.BidAskSpreadPct <= 3 &&
		freeBalanceQuote >= 0.5*pos.PositionSize {
		return BuyMore{ExtraSize: 0.5 * pos.PositionSize}
	}

	return Hold{}
}

// Known emergency reasons, per spec.md §4.5. DecideEmergency accepts any
// reason string, these are just the documented ones.
const (
	ReasonGlobalMarketCrash = "GLOBAL_MARKET_CRASH"
	ReasonRugPullDetected   = "RUG_PULL_DETECTED"
	ReasonExchangeIssues    = "EXCHANGE_ISSUES"
	ReasonAccountCompromise = "ACCOUNT_COMPROMISE"
)

// DecideEmergency unconditionally sells, independent of position/market
// state. Grounded on src/cerberus/decision_tree.rs::run_emergency_decision_tree.
func DecideEmergency(pos Position, reason string) Decision {
	return Sell{Reason: "EMERGENCY_" + reason}
}
