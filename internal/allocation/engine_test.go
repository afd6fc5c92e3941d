package allocation

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"ensemble-trader/internal/config"
)

func testAllocationConfig() config.AllocationConfig {
	return config.AllocationConfig{
		SharpeLookback:     20,
		SmoothingAlpha:     0.7,
		MinWeight:          0.01,
		MaxWeight:          0.25,
		HealthThreshold:    0.0,
		UnhealthyDaysLimit: 5,
	}
}

func TestRecompute_WeightsSumToOne(t *testing.T) {
	e := NewEngine(testAllocationConfig(), zerolog.Nop())

	returns := map[string][]float64{
		"momentum": {0.01, 0.02, -0.005, 0.015, 0.01},
		"meanrev":  {0.002, 0.001, 0.003, -0.001, 0.002},
		"breakout": {-0.01, 0.03, 0.02, -0.02, 0.04},
	}
	for id, rs := range returns {
		for _, r := range rs {
			e.AddReturn(id, r)
		}
	}

	weights := e.Recompute()
	var sum float64
	for _, w := range weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 0.001)
}

func TestRecompute_SmoothingCarriesHistory(t *testing.T) {
	e := NewEngine(testAllocationConfig(), zerolog.Nop())

	for i := 0; i < 10; i++ {
		e.AddReturn("steady", 0.01+0.001*float64(i%3))
		e.AddReturn("other", 0.005)
	}
	first := e.Recompute()

	// A burst of losses moves the smoothed Sharpe by at most 30% of the
	// raw swing.
	for i := 0; i < 10; i++ {
		e.AddReturn("steady", -0.05)
	}
	second := e.Recompute()

	assert.NotEqual(t, first["steady"], second["steady"])
	assert.Greater(t, second["steady"], 0.0, "smoothing must keep a previously strong strategy above zero")
}

func TestRecompute_DisablesUnhealthyStrategy(t *testing.T) {
	cfg := testAllocationConfig()
	cfg.SmoothingAlpha = 0 // follow raw Sharpe directly
	e := NewEngine(cfg, zerolog.Nop())

	for i := 0; i < 10; i++ {
		e.AddReturn("loser", -0.02+0.001*float64(i%2))
		e.AddReturn("winner", 0.01+0.001*float64(i%3))
	}

	for day := 0; day < cfg.UnhealthyDaysLimit; day++ {
		e.Recompute()
	}

	assert.True(t, e.Disabled("loser"))
	assert.False(t, e.Disabled("winner"))

	weights := e.Weights()
	assert.Equal(t, 0.0, weights["loser"])
	assert.Greater(t, weights["winner"], 0.0)
}

func TestRecompute_RequalifyResetsCounter(t *testing.T) {
	cfg := testAllocationConfig()
	cfg.SmoothingAlpha = 0
	cfg.UnhealthyDaysLimit = 3
	e := NewEngine(cfg, zerolog.Nop())

	for i := 0; i < 10; i++ {
		e.AddReturn("flaky", -0.01-0.001*float64(i%2))
	}
	e.Recompute()
	e.Recompute()
	assert.False(t, e.Disabled("flaky"), "below the day limit the strategy stays enabled")

	// Recovery before the third unhealthy day resets the streak.
	for i := 0; i < 10; i++ {
		e.AddReturn("flaky", 0.02+0.001*float64(i%2))
	}
	e.Recompute()
	assert.False(t, e.Disabled("flaky"))
}

func TestRestore_ReplacesWeights(t *testing.T) {
	e := NewEngine(testAllocationConfig(), zerolog.Nop())
	e.Restore(map[string]float64{"a": 0.6, "b": 0.4})

	weights := e.Weights()
	assert.Equal(t, 0.6, weights["a"])
	assert.Equal(t, 0.4, weights["b"])
}

// Property: for any return history, recomputed weights over enabled
// strategies sum to 1.0 within 0.001, and every individual weight is
// finite and non-negative.
func TestProperty_WeightsNormalized(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	strategyCountGen := gen.IntRange(2, 8)
	returnsGen := gen.SliceOfN(160, gen.Float64Range(-0.05, 0.05))

	properties.Property("weights sum to one", prop.ForAll(
		func(count int, samples []float64) bool {
			e := NewEngine(testAllocationConfig(), zerolog.Nop())

			idx := 0
			for s := 0; s < count; s++ {
				id := fmt.Sprintf("strategy-%d", s)
				for i := 0; i < 20 && idx < len(samples); i++ {
					e.AddReturn(id, samples[idx])
					idx++
				}
			}

			weights := e.Recompute()
			var sum float64
			anyEnabled := false
			for _, w := range weights {
				if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
					return false
				}
				if w > 0 {
					anyEnabled = true
				}
				sum += w
			}
			if !anyEnabled {
				return sum == 0
			}
			return sum > 0.999 && sum < 1.001
		},
		strategyCountGen, returnsGen,
	))

	properties.TestingRun(t)
}
