package risk

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"ensemble-trader/internal/models"
)

func testDecision() models.EnsembleDecision {
	return models.EnsembleDecision{
		ID:         "decision-1",
		Action:     models.ActionBuy,
		Confidence: 0.7,
		Timestamp:  time.Now(),
	}
}

func TestKellyFraction(t *testing.T) {
	// f = (b*p - (1-p)) / b
	assert.InDelta(t, 0.3333333, KellyFraction(0.6, 1.5), 1e-6)
	assert.InDelta(t, 0.0, KellyFraction(0.5, 1.0), 1e-9)
	assert.Less(t, KellyFraction(0.4, 1.0), 0.0)
	assert.Equal(t, 0.0, KellyFraction(0.6, 0))
}

func TestSize_GreenPath(t *testing.T) {
	s := NewSizer(testRiskConfig(), zerolog.Nop())

	d := s.Size("BTC-USD", testDecision(), 0.6, 1.5, 0.3, models.RiskGreen)
	assert.InDelta(t, 0.3333333, d.KellyFraction, 1e-6)
	assert.InDelta(t, 0.0833333, d.ConservativeFraction, 1e-6)
	assert.InDelta(t, 0.0833333, d.FinalSizePct, 1e-6)
	assert.Equal(t, models.OrderSideBuy, d.Side)
	assert.Equal(t, "decision-1", d.DecisionID)
}

func TestSize_WinProbabilityFloor(t *testing.T) {
	s := NewSizer(testRiskConfig(), zerolog.Nop())

	d := s.Size("BTC-USD", testDecision(), 0.54, 2.0, 0, models.RiskGreen)
	assert.Equal(t, 0.0, d.FinalSizePct)
}

func TestSize_RedHaltsSizing(t *testing.T) {
	s := NewSizer(testRiskConfig(), zerolog.Nop())

	d := s.Size("BTC-USD", testDecision(), 0.9, 3.0, 0, models.RiskRed)
	assert.Equal(t, 0.0, d.FinalSizePct)
}

func TestSize_CorrelationPenalty(t *testing.T) {
	s := NewSizer(testRiskConfig(), zerolog.Nop())

	base := s.Size("BTC-USD", testDecision(), 0.6, 1.5, 0.5, models.RiskGreen)
	penalized := s.Size("BTC-USD", testDecision(), 0.6, 1.5, 0.9, models.RiskGreen)

	// Correlation 0.9 scales by 1 - (0.9 - 0.7) = 0.8.
	assert.InDelta(t, base.FinalSizePct*0.8, penalized.FinalSizePct, 1e-9)
}

func TestSize_YellowHalves(t *testing.T) {
	s := NewSizer(testRiskConfig(), zerolog.Nop())

	green := s.Size("BTC-USD", testDecision(), 0.6, 1.5, 0, models.RiskGreen)
	yellow := s.Size("BTC-USD", testDecision(), 0.6, 1.5, 0, models.RiskYellow1)

	assert.InDelta(t, green.FinalSizePct*0.5, yellow.FinalSizePct, 1e-9)
}

func TestSize_ClipsToMaximum(t *testing.T) {
	s := NewSizer(testRiskConfig(), zerolog.Nop())

	// Very strong edge: kelly far above the clip ceiling.
	d := s.Size("BTC-USD", testDecision(), 0.9, 5.0, 0, models.RiskGreen)
	assert.Equal(t, 0.15, d.FinalSizePct)
}

func TestSize_SellSide(t *testing.T) {
	s := NewSizer(testRiskConfig(), zerolog.Nop())

	decision := testDecision()
	decision.Action = models.ActionSell
	d := s.Size("BTC-USD", decision, 0.6, 1.5, 0, models.RiskGreen)
	assert.Equal(t, models.OrderSideSell, d.Side)
}

// Property: the final size is always within [0, max_position_pct] and is
// exactly 0 below the win-probability floor or in RED.
func TestProperty_SizeBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	s := NewSizer(testRiskConfig(), zerolog.Nop())
	states := []models.RiskState{models.RiskGreen, models.RiskYellow1, models.RiskYellow2, models.RiskRed}

	properties.Property("final size bounded and gated", prop.ForAll(
		func(p, b, corr float64, stateIdx int) bool {
			state := states[stateIdx]
			d := s.Size("BTC-USD", testDecision(), p, b, corr, state)

			if d.FinalSizePct < 0 || d.FinalSizePct > 0.15 {
				return false
			}
			if p < 0.55 && d.FinalSizePct != 0 {
				return false
			}
			if state == models.RiskRed && d.FinalSizePct != 0 {
				return false
			}
			return true
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 5),
		gen.Float64Range(-1, 1),
		gen.IntRange(0, len(states)-1),
	))

	properties.TestingRun(t)
}

func TestTradeStats(t *testing.T) {
	stats := NewTradeStats(10)

	// No history falls back to neutral assumptions.
	assert.Equal(t, 0.5, stats.WinProbability())
	assert.Equal(t, 1.0, stats.RiskReward())

	for _, pnl := range []float64{100, 200, -50, 150, -100, 300} {
		stats.RecordOutcome(pnl)
	}
	// 4 wins of 6.
	assert.InDelta(t, 4.0/6.0, stats.WinProbability(), 1e-9)
	// avg win 187.5, avg loss 75.
	assert.InDelta(t, 2.5, stats.RiskReward(), 1e-9)
}
