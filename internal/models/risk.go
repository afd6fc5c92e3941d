package models

import "time"

// RiskState is the circuit breaker state owned by the risk governor.
type RiskState string

const (
	RiskGreen   RiskState = "GREEN"
	RiskYellow1 RiskState = "YELLOW_1"
	RiskYellow2 RiskState = "YELLOW_2"
	RiskRed     RiskState = "RED"
)

// Severity returns the ordering of states for escalation comparisons.
func (s RiskState) Severity() int {
	switch s {
	case RiskGreen:
		return 0
	case RiskYellow1:
		return 1
	case RiskYellow2:
		return 2
	case RiskRed:
		return 3
	default:
		return 0
	}
}

// Halted reports whether new trading is disallowed in this state.
func (s RiskState) Halted() bool {
	return s == RiskRed
}

// SizeMultiplier returns the position size multiplier applied in this state.
func (s RiskState) SizeMultiplier() float64 {
	switch s {
	case RiskYellow1, RiskYellow2:
		return 0.5
	case RiskRed:
		return 0
	default:
		return 1
	}
}

// RiskStatus is the governor's published view: state plus the inputs that
// produced it. Snapshot semantics, replaced wholesale on every transition.
type RiskStatus struct {
	State         RiskState
	DrawdownPct   float64
	CooldownUntil time.Time
	ChangedAt     time.Time
}

// PositionSizeDecision is the sized order produced for an ensemble
// decision that survived risk gating.
type PositionSizeDecision struct {
	Symbol               string
	Side                 OrderSide
	KellyFraction        float64
	ConservativeFraction float64
	FinalSizePct         float64 // fraction of equity, [0, max_position_pct]
	DecisionID           string
	Timestamp            time.Time
}

// CascadeSeverity grades the liquidation monitor's response bands.
type CascadeSeverity string

const (
	CascadeNone       CascadeSeverity = "NONE"
	CascadeBlockNew   CascadeSeverity = "BLOCK_NEW"   // probability 0.6-0.8
	CascadeReduceHalf CascadeSeverity = "REDUCE_HALF" // probability 0.8-0.9
	CascadeCloseAll   CascadeSeverity = "CLOSE_ALL"   // probability >= 0.9
)

// CascadeAssessment is the liquidation monitor's score for one symbol.
type CascadeAssessment struct {
	Symbol      string
	VolumeSpike float64
	PriceDrop   float64
	Severity    float64
	Probability float64
	Response    CascadeSeverity
	Timestamp   time.Time
}
