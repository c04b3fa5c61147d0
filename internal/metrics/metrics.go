// Package metrics tracks brain-loop counters in memory. There is no
// exposition endpoint: spec.md scopes metrics surfaces out of this
// repository, so these counters are read in-process through Snapshot,
// not served to a scrape target.
package metrics

import "sync/atomic"

// Metrics is an atomic-counter set, grounded on
// internal/trading/metrics.go's Metrics struct — the same all-atomics,
// no-locks-on-the-hot-path shape, with exits-by-reason counters in place
// of the teacher's latency-percentile sampling (Cerberus has no
// comparable per-trade pipeline stage breakdown to sample).
type Metrics struct {
	exitsTimeout        atomic.Int64
	exitsStopLoss       atomic.Int64
	exitsTakeProfit     atomic.Int64
	exitsStaleData      atomic.Int64
	exitsLowLiquidity   atomic.Int64
	exitsHighSpread     atomic.Int64
	exitsHighVolatility atomic.Int64
	exitsTimeBasedStop  atomic.Int64
	exitsEmergency      atomic.Int64
	exitsOther          atomic.Int64

	buyMores     atomic.Int64
	ticksRun     atomic.Int64
	bundleFailed atomic.Int64
	openGauge    atomic.Int64
}

// New constructs an empty counter set.
func New() *Metrics {
	return &Metrics{}
}

// RecordExit increments the counter matching reason, falling back to a
// catch-all for unrecognized reasons (e.g. a future EMERGENCY_* variant).
func (m *Metrics) RecordExit(reason string) {
	switch {
	case reason == "TIMEOUT":
		m.exitsTimeout.Add(1)
	case reason == "STOP_LOSS":
		m.exitsStopLoss.Add(1)
	case reason == "TAKE_PROFIT":
		m.exitsTakeProfit.Add(1)
	case reason == "STALE_DATA":
		m.exitsStaleData.Add(1)
	case reason == "LOW_LIQUIDITY":
		m.exitsLowLiquidity.Add(1)
	case reason == "HIGH_SPREAD":
		m.exitsHighSpread.Add(1)
	case reason == "HIGH_VOLATILITY":
		m.exitsHighVolatility.Add(1)
	case reason == "TIME_BASED_STOP":
		m.exitsTimeBasedStop.Add(1)
	case len(reason) >= 9 && reason[:9] == "EMERGENCY":
		m.exitsEmergency.Add(1)
	default:
		m.exitsOther.Add(1)
	}
}

// RecordBuyMore increments the scale-in counter.
func (m *Metrics) RecordBuyMore() { m.buyMores.Add(1) }

// RecordTick increments the completed-tick counter.
func (m *Metrics) RecordTick() { m.ticksRun.Add(1) }

// RecordBundleFailure increments the failed-submission counter.
func (m *Metrics) RecordBundleFailure() { m.bundleFailed.Add(1) }

// SetOpenPositions sets the current open-position gauge.
func (m *Metrics) SetOpenPositions(n int) { m.openGauge.Store(int64(n)) }

// Snapshot is a point-in-time read of every counter, for logging.
type Snapshot struct {
	ExitsByReason  map[string]int64
	BuyMores       int64
	TicksRun       int64
	BundleFailures int64
	OpenPositions  int64
}

// Snapshot reads every counter without resetting them.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		ExitsByReason: map[string]int64{
			"TIMEOUT":         m.exitsTimeout.Load(),
			"STOP_LOSS":       m.exitsStopLoss.Load(),
			"TAKE_PROFIT":     m.exitsTakeProfit.Load(),
			"STALE_DATA":      m.exitsStaleData.Load(),
			"LOW_LIQUIDITY":   m.exitsLowLiquidity.Load(),
			"HIGH_SPREAD":     m.exitsHighSpread.Load(),
			"HIGH_VOLATILITY": m.exitsHighVolatility.Load(),
			"TIME_BASED_STOP": m.exitsTimeBasedStop.Load(),
			"EMERGENCY":       m.exitsEmergency.Load(),
			"OTHER":           m.exitsOther.Load(),
		},
		BuyMores:       m.buyMores.Load(),
		TicksRun:       m.ticksRun.Load(),
		BundleFailures: m.bundleFailed.Load(),
		OpenPositions:  m.openGauge.Load(),
	}
}
