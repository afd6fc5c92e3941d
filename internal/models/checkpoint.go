package models

import (
	"math"
	"time"
)

// Checkpoint is a durable snapshot of portfolio and risk state, written
// periodically and after every realized trade, read back once at startup.
type Checkpoint struct {
	Timestamp         time.Time           `json:"timestamp"`
	Cash              float64             `json:"cash"`
	Equity            float64             `json:"equity"`
	Positions         []Position          `json:"positions"`
	RiskState         RiskState           `json:"risk_state"`
	DrawdownPct       float64             `json:"drawdown_pct"`
	CooldownUntil     time.Time           `json:"cooldown_until"`
	AllocationWeights map[string]float64  `json:"allocation_weights"`
}

// Consistent verifies the checkpoint's internal accounting: equity must
// equal cash plus the market value of all positions, within tolerance.
func (c Checkpoint) Consistent(tolerance float64) bool {
	total := c.Cash
	for _, p := range c.Positions {
		total += p.MarketValue()
	}
	return math.Abs(total-c.Equity) <= tolerance
}
