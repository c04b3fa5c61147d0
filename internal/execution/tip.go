// Package execution implements BundleExecutor (C4): tip-policy selection,
// [tip_tx, swap_tx] bundle assembly, submission to a Jito-style relay, and
// confirmation polling.
package execution

// Tip policy defaults, per spec.md §4.4/§9. MinTipLamports/MaxTipLamports
// mirror src/execution/jito.rs::JitoConfig's default() impl
// (min_tip_lamports: 10_000, max_tip_lamports: 1_000_000). Both bound the
// additive, bundle-composition-aware policy; MinTipLamports is also the
// multiplicative policy's floor, which has no upper bound. TipRate mirrors
// src/cerberus/execution.rs::calculate_dynamic_tip's 0.0001 trade-size
// fraction.
const (
	MinTipLamports = 10_000
	MaxTipLamports = 1_000_000
	TipRate        = 0.0001
)

// clamp bounds tip between MinTipLamports and MaxTipLamports. Used only by
// AdditiveTipPolicy: calculate_dynamic_tip in the original source applies
// no upper bound, since a larger exit is supposed to pay a proportionally
// larger tip (spec.md §4.4, §8 P4) rather than flatten out past some cap.
func clamp(tip uint64) uint64 {
	if tip < MinTipLamports {
		return MinTipLamports
	}
	if tip > MaxTipLamports {
		return MaxTipLamports
	}
	return tip
}

// TipPolicy computes the Jito tip, in lamports, to attach to a bundle.
// spec.md §9 resolves the original's two competing tip formulas (additive
// in src/execution/jito.rs, multiplicative in
// src/cerberus/execution.rs::calculate_dynamic_tip) by keeping both as
// named strategies rather than picking one: exits always use the
// multiplicative policy (mandatory, scales with the money actually at
// risk), while the additive, bundle-composition-aware policy remains
// available for non-exit submissions.
type TipPolicy interface {
	Tip(tradeLamports uint64) uint64
}

// MultiplicativeTipPolicy computes tip = max(MinTipLamports,
// floor(tradeLamports * TipRate)), with no upper bound: a larger exit
// must pay a proportionally larger tip (spec.md §4.4, §8 invariant P4:
// tip >= floor(trade_quote * TipRate)). This is the mandatory exit-path
// policy, grounded on src/cerberus/execution.rs::calculate_dynamic_tip,
// which applies the same floor-only comparison with no cap.
type MultiplicativeTipPolicy struct{}

// Tip implements TipPolicy.
func (MultiplicativeTipPolicy) Tip(tradeLamports uint64) uint64 {
	tradeBased := uint64(float64(tradeLamports) * TipRate)
	tip := uint64(MinTipLamports)
	if tradeBased > tip {
		tip = tradeBased
	}
	return tip
}

// AdditiveTipPolicy computes tip = base + len(bundle)*1000 +
// avgPriority*1000, clamped. Grounded on
// src/execution/jito.rs::JitoExecutor::calculate_tip_amount. Not used on
// the exit path (spec.md §4.4 requires the multiplicative policy there)
// but kept available for non-exit bundle submissions that carry more than
// one swap transaction, where the original's per-transaction-count
// scaling applies.
type AdditiveTipPolicy struct {
	Base        uint64
	BundleSize  int
	AvgPriority uint8
}

// Tip implements TipPolicy. tradeLamports is accepted to satisfy the
// interface but unused: the additive formula scales with bundle shape,
// not trade size.
func (p AdditiveTipPolicy) Tip(tradeLamports uint64) uint64 {
	tip := p.Base
	if tip == 0 {
		tip = MinTipLamports
	}
	tip += uint64(p.BundleSize) * 1000
	tip += uint64(p.AvgPriority) * 1000
	return clamp(tip)
}
