package models

import "time"

// ExecutionResult is the simulated fill for a submitted position size
// decision. One result per submitted decision.
type ExecutionResult struct {
	ID              string
	Symbol          string
	Side            OrderSide
	RequestedSize   float64 // units
	FilledSize      float64 // units
	FillRatio       float64 // [0.5, 1.0] for any nonzero request
	ExecutionPrice  float64
	SlippageBps     float64
	SpreadBps       float64
	MarketImpactBps float64
	DecisionID      string
	Timestamp       time.Time
}

// Notional returns the filled value of the execution.
func (r ExecutionResult) Notional() float64 {
	return r.FilledSize * r.ExecutionPrice
}
