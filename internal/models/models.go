// Package models provides domain models for the ensemble engine.
package models

import (
	"time"
)

// Action represents a trade direction emitted by a strategy.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Valid reports whether the action is one of the known values.
func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell || a == ActionHold
}

// OrderSide represents the side of a sized order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// StrategySignal is a single strategy's vote for the current cycle.
// Signals are ephemeral: they feed one EnsembleDecision and are not
// persisted individually.
type StrategySignal struct {
	StrategyID string
	Action     Action
	Confidence float64 // [0, 1]
	Timestamp  time.Time
}

// Valid reports whether the signal is well formed. Malformed signals are
// treated as abstains at the aggregator boundary, never as errors.
func (s StrategySignal) Valid() bool {
	if s.StrategyID == "" || !s.Action.Valid() {
		return false
	}
	if s.Confidence < 0 || s.Confidence > 1 || s.Confidence != s.Confidence {
		return false
	}
	return true
}

// CombineMethod selects how strategy signals are merged into one decision.
type CombineMethod string

const (
	CombineWeightedAverage CombineMethod = "weighted_average"
	CombineMajorityVote    CombineMethod = "majority_vote"
	CombineConfidenceBlend CombineMethod = "confidence_blend"
)

// EnsembleDecision is the single combined decision for a cycle.
// Immutable after creation.
type EnsembleDecision struct {
	ID           string
	Action       Action
	Confidence   float64
	Contributing []StrategySignal // signals agreeing with the winning action, input order preserved
	Method       CombineMethod
	Timestamp    time.Time
}

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Tick represents a streaming market data point consumed by the
// liquidation monitor.
type Tick struct {
	Symbol    string
	Price     float64
	Volume    float64
	Timestamp time.Time
}

// MarketSnapshot is the microstructure view the execution simulator
// prices against.
type MarketSnapshot struct {
	Symbol      string
	MidPrice    float64
	Volatility  float64 // recent realized volatility, fraction (0.02 = 2%)
	DailyVolume float64 // average daily volume in units
	Depth       []DepthLevel
	Timestamp   time.Time
}

// DepthLevel is a single simulated order-book level.
type DepthLevel struct {
	Price float64
	Size  float64
}

// Position is a held exposure tracked by the portfolio.
type Position struct {
	Symbol       string
	Quantity     float64
	AveragePrice float64
	LastPrice    float64
}

// MarketValue returns the position's value at the last known price.
func (p Position) MarketValue() float64 {
	return p.Quantity * p.LastPrice
}
