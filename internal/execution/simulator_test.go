package execution

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"ensemble-trader/internal/config"
	"ensemble-trader/internal/models"
)

func testExecutionConfig() config.ExecutionConfig {
	return config.ExecutionConfig{
		BaseSlippageBps:   15.0,
		NoiseMin:          0.8,
		NoiseMax:          1.2,
		MaxSpreadBps:      50.0,
		MaxImpactBps:      100.0,
		LiquidityFraction: 0.01,
		FillRatioFloor:    0.5,
		Seed:              42,
	}
}

func testSnapshot() models.MarketSnapshot {
	return models.MarketSnapshot{
		Symbol:      "BTC-USD",
		MidPrice:    50000,
		Volatility:  0.02,
		DailyVolume: 1_000_000,
		Timestamp:   time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
}

func sizedDecision(sizePct float64) models.PositionSizeDecision {
	return models.PositionSizeDecision{
		Symbol:       "BTC-USD",
		Side:         models.OrderSideBuy,
		FinalSizePct: sizePct,
		DecisionID:   "decision-1",
		Timestamp:    time.Now(),
	}
}

func TestExecute_Deterministic(t *testing.T) {
	s := NewSimulator(testExecutionConfig(), zerolog.Nop())

	first := s.Execute(sizedDecision(0.1), testSnapshot(), 100000)
	second := s.Execute(sizedDecision(0.1), testSnapshot(), 100000)

	assert.Equal(t, first.ExecutionPrice, second.ExecutionPrice)
	assert.Equal(t, first.SlippageBps, second.SlippageBps)
	assert.Equal(t, first.SpreadBps, second.SpreadBps)
	assert.Equal(t, first.MarketImpactBps, second.MarketImpactBps)
	assert.Equal(t, first.FillRatio, second.FillRatio)
	assert.Equal(t, first.FilledSize, second.FilledSize)
}

func TestExecute_SeedChangesOutcome(t *testing.T) {
	cfg := testExecutionConfig()
	a := NewSimulator(cfg, zerolog.Nop())
	cfg.Seed = 43
	b := NewSimulator(cfg, zerolog.Nop())

	assert.NotEqual(t,
		a.Execute(sizedDecision(0.1), testSnapshot(), 100000).SlippageBps,
		b.Execute(sizedDecision(0.1), testSnapshot(), 100000).SlippageBps)
}

func TestExecute_PartialFillAtLiquidityLimit(t *testing.T) {
	s := NewSimulator(testExecutionConfig(), zerolog.Nop())

	// Requested units equal 2% of daily volume; available liquidity is
	// 1%, so exactly half fills.
	snapshot := testSnapshot()
	snapshot.MidPrice = 1
	result := s.Execute(sizedDecision(0.10), snapshot, 200_000)

	assert.InDelta(t, 20_000, result.RequestedSize, 1e-9)
	assert.Equal(t, 0.5, result.FillRatio)
	assert.InDelta(t, 10_000, result.FilledSize, 1e-9)
}

func TestExecute_FillRatioFloored(t *testing.T) {
	s := NewSimulator(testExecutionConfig(), zerolog.Nop())

	// Requested units are 10% of daily volume; the raw ratio would be
	// 0.1 but the floor holds it at 0.5.
	snapshot := testSnapshot()
	snapshot.MidPrice = 1
	result := s.Execute(sizedDecision(0.10), snapshot, 1_000_000)

	assert.Equal(t, 0.5, result.FillRatio)
}

func TestExecute_AdversePriceBySide(t *testing.T) {
	s := NewSimulator(testExecutionConfig(), zerolog.Nop())
	snapshot := testSnapshot()

	buy := s.Execute(sizedDecision(0.05), snapshot, 100000)
	assert.Greater(t, buy.ExecutionPrice, snapshot.MidPrice)

	sell := sizedDecision(0.05)
	sell.Side = models.OrderSideSell
	result := s.Execute(sell, snapshot, 100000)
	assert.Less(t, result.ExecutionPrice, snapshot.MidPrice)
}

func TestExecute_ZeroSizeRequest(t *testing.T) {
	s := NewSimulator(testExecutionConfig(), zerolog.Nop())

	result := s.Execute(sizedDecision(0), testSnapshot(), 100000)
	assert.Equal(t, 0.0, result.RequestedSize)
	assert.Equal(t, 0.0, result.FilledSize)
	assert.Equal(t, 0.0, result.ExecutionPrice)
}

func TestExecute_SpreadAndImpactCapped(t *testing.T) {
	s := NewSimulator(testExecutionConfig(), zerolog.Nop())

	// Extreme volatility and a thin market hit both caps.
	snapshot := testSnapshot()
	snapshot.Volatility = 0.5
	snapshot.DailyVolume = 1000
	result := s.Execute(sizedDecision(0.15), snapshot, 10_000_000)

	assert.Equal(t, 50.0, result.SpreadBps)
	assert.Equal(t, 100.0, result.MarketImpactBps)
}

// Property: for any valid order, the fill ratio is within
// [fill_ratio_floor, 1] and the filled size never exceeds the request.
func TestProperty_FillRatioBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	s := NewSimulator(testExecutionConfig(), zerolog.Nop())

	properties.Property("fill ratio bounded", prop.ForAll(
		func(sizePct, equity, mid, dailyVolume float64) bool {
			snapshot := testSnapshot()
			snapshot.MidPrice = mid
			snapshot.DailyVolume = dailyVolume

			result := s.Execute(sizedDecision(sizePct), snapshot, equity)
			if result.FillRatio < 0.5 || result.FillRatio > 1 {
				return false
			}
			return result.FilledSize <= result.RequestedSize+1e-9
		},
		gen.Float64Range(0.01, 0.15),
		gen.Float64Range(1000, 10_000_000),
		gen.Float64Range(1, 100_000),
		gen.Float64Range(100, 10_000_000),
	))

	properties.TestingRun(t)
}

func TestWalkDepth(t *testing.T) {
	depth := []models.DepthLevel{
		{Price: 100.1, Size: 10},
		{Price: 100.3, Size: 10},
	}

	vwap, filled := walkDepth(depth, 15)
	assert.Equal(t, 15.0, filled)
	// 10 @ 100.1 + 5 @ 100.3
	assert.InDelta(t, (10*100.1+5*100.3)/15, vwap, 1e-9)

	vwap, filled = walkDepth(nil, 10)
	assert.Equal(t, 0.0, filled)
	assert.Equal(t, 0.0, vwap)
}
