// Package store implements the durable mint → PositionState mapping (C2):
// a Redis-backed key-value store with pub/sub for the external command
// channel, grounded on the subscribe/fan-out shape of the ares_api
// RedisEventBus and on src/cerberus/position.rs for the record itself.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"solana-pump-bot/internal/decision"
)

// Status mirrors decision.Status; kept as its own type so the store package
// does not need to import decision for anything but conversions, and so
// JSON field names are chosen independently of the decision package's
// internal representation.
type Status string

const (
	StatusOpen    Status = "Open"
	StatusPending Status = "Pending"
	StatusClosed  Status = "Closed"
	StatusFailed  Status = "Failed"
)

func (s Status) toDecision() decision.Status {
	switch s {
	case StatusOpen:
		return decision.StatusOpen
	case StatusPending:
		return decision.StatusPending
	case StatusClosed:
		return decision.StatusClosed
	case StatusFailed:
		return decision.StatusFailed
	default:
		return decision.StatusOpen
	}
}

// Default field values, per spec.md §3.
const (
	DefaultTakeProfitPct  = 100.0
	DefaultStopLossPct    = -25.0
	DefaultTimeoutSeconds = 600
)

// PositionState is the sole mutable entity the brain operates on.
// Grounded field-for-field on src/cerberus/position.rs::PositionState.
type PositionState struct {
	Mint                   string    `json:"mint"`
	EntryPrice             float64   `json:"entry_price"`
	EntryTimestamp         time.Time `json:"entry_timestamp"`
	PositionSize           float64   `json:"position_size"`
	StrategyID             string    `json:"strategy_id"`
	Wallet                 string    `json:"wallet"`
	Status                 Status    `json:"status"`
	TakeProfitPct          float64   `json:"take_profit_pct"`
	StopLossPct            float64   `json:"stop_loss_pct"`
	TimeoutSeconds         int       `json:"timeout_seconds"`
	RiskScoreAtEntry       int       `json:"risk_score_at_entry"`
	CurrentPrice           float64   `json:"current_price"`
	PnLUnrealizedPct       float64   `json:"pnl_unrealized_pct"`
	LastAnalysisTimestamp  time.Time `json:"last_analysis_timestamp"`
	DexUsed               string    `json:"dex_used"`
	SlippageTolerancePct  float64   `json:"slippage_tolerance_pct"`
	CloseReason           string    `json:"close_reason,omitempty"`

	// FailureCount tracks consecutive unconfirmed-exit reversions
	// (Pending→Open). Not part of the distilled spec's field list; added
	// per the confirmation-semantics Open Question resolution in
	// SPEC_FULL.md §9 so a position that keeps failing to confirm its exit
	// eventually becomes Failed instead of retrying forever.
	FailureCount int `json:"failure_count"`
}

// RedisKey returns the key under which this position is stored, per
// spec.md §6's "position:<mint>" format.
func (p *PositionState) RedisKey() string {
	return PositionKey(p.Mint)
}

// PositionKey formats the store key for a mint.
func PositionKey(mint string) string {
	return fmt.Sprintf("position:%s", mint)
}

// NewPositionState constructs a position with the documented defaults.
func NewPositionState(mint string, entryPrice, positionSize float64, strategyID, wallet string) *PositionState {
	now := time.Now()
	return &PositionState{
		Mint:                  mint,
		EntryPrice:            entryPrice,
		EntryTimestamp:        now,
		PositionSize:          positionSize,
		StrategyID:            strategyID,
		Wallet:                wallet,
		Status:                StatusOpen,
		TakeProfitPct:         DefaultTakeProfitPct,
		StopLossPct:           DefaultStopLossPct,
		TimeoutSeconds:        DefaultTimeoutSeconds,
		CurrentPrice:          entryPrice,
		LastAnalysisTimestamp: now,
	}
}

// ToJSON serializes the position for storage.
func (p *PositionState) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// PositionFromJSON deserializes a stored position.
func PositionFromJSON(raw []byte) (*PositionState, error) {
	var p PositionState
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unmarshal position: %w", err)
	}
	return &p, nil
}

// ToDecisionPosition projects the store's record onto the read view the
// pure decision tree operates on.
func (p *PositionState) ToDecisionPosition() decision.Position {
	return decision.Position{
		Mint:             p.Mint,
		EntryPrice:       p.EntryPrice,
		EntryTimestamp:   p.EntryTimestamp,
		PositionSize:     p.PositionSize,
		Status:           p.Status.toDecision(),
		TakeProfitPct:    p.TakeProfitPct,
		StopLossPct:      p.StopLossPct,
		TimeoutSeconds:   p.TimeoutSeconds,
		CurrentPrice:     p.CurrentPrice,
		PnLUnrealizedPct: p.PnLUnrealizedPct,
	}
}

// ApplyMarket updates the runtime fields from a fresh price observation,
// the field set spec.md §4.6 step 2.b requires the loop to refresh every
// tick: current_price, pnl_unrealized_pct, last_analysis_timestamp.
func (p *PositionState) ApplyMarket(currentPrice float64, now time.Time) {
	p.CurrentPrice = currentPrice
	p.PnLUnrealizedPct = decision.CalculatePnL(p.EntryPrice, currentPrice)
	p.LastAnalysisTimestamp = now
}
