package allocation

import (
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"ensemble-trader/internal/config"
)

// AllocationView is the read-only accessor other components consume. The
// engine owns the weights; readers never mutate them.
type AllocationView interface {
	Weights() map[string]float64
}

// strategyHealth tracks per-strategy smoothed Sharpe and disable state.
type strategyHealth struct {
	returns        []float64
	smoothedSharpe float64
	hasSmoothed    bool
	unhealthyDays  int
	disabled       bool
}

// Engine recomputes normalized capital weights from trailing Sharpe
// ratios, exponentially smoothed, clipped and renormalized. Weights are
// published as whole-map snapshots.
type Engine struct {
	cfg    config.AllocationConfig
	logger zerolog.Logger

	mu     sync.Mutex
	health map[string]*strategyHealth

	weightsMu sync.RWMutex
	weights   map[string]float64
}

// NewEngine creates an allocation engine from configuration.
func NewEngine(cfg config.AllocationConfig, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		logger:  logger.With().Str("component", "allocation").Logger(),
		health:  make(map[string]*strategyHealth),
		weights: make(map[string]float64),
	}
}

// AddReturn records a period return for a strategy.
func (e *Engine) AddReturn(strategyID string, r float64) {
	if math.IsNaN(r) || math.IsInf(r, 0) {
		e.logger.Warn().Str("strategy", strategyID).Msg("Dropping non-finite return sample")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	h := e.health[strategyID]
	if h == nil {
		h = &strategyHealth{}
		e.health[strategyID] = h
	}
	h.returns = append(h.returns, r)
	if len(h.returns) > e.cfg.SharpeLookback {
		h.returns = h.returns[len(h.returns)-e.cfg.SharpeLookback:]
	}
}

// Recompute runs the daily weight recomputation: trailing Sharpe,
// exponential smoothing, health gating, normalization, clipping and a
// final renormalization. The new weight map replaces the published one in
// a single swap.
func (e *Engine) Recompute() map[string]float64 {
	e.mu.Lock()

	ids := make([]string, 0, len(e.health))
	for id := range e.health {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	smoothed := make(map[string]float64, len(ids))
	enabled := make([]string, 0, len(ids))
	for _, id := range ids {
		h := e.health[id]
		raw := sharpe(h.returns)

		if h.hasSmoothed {
			h.smoothedSharpe = e.cfg.SmoothingAlpha*h.smoothedSharpe + (1-e.cfg.SmoothingAlpha)*raw
		} else {
			h.smoothedSharpe = raw
			h.hasSmoothed = true
		}

		if h.smoothedSharpe < e.cfg.HealthThreshold {
			h.unhealthyDays++
			if h.unhealthyDays >= e.cfg.UnhealthyDaysLimit && !h.disabled {
				h.disabled = true
				e.logger.Warn().
					Str("strategy", id).
					Float64("smoothed_sharpe", h.smoothedSharpe).
					Int("unhealthy_days", h.unhealthyDays).
					Msg("Strategy disabled")
			}
		} else {
			h.unhealthyDays = 0
			if h.disabled {
				h.disabled = false
				e.logger.Info().
					Str("strategy", id).
					Float64("smoothed_sharpe", h.smoothedSharpe).
					Msg("Strategy requalified")
			}
		}

		smoothed[id] = h.smoothedSharpe
		if !h.disabled {
			enabled = append(enabled, id)
		}
	}
	e.mu.Unlock()

	weights := e.normalize(smoothed, enabled)

	e.weightsMu.Lock()
	e.weights = weights
	e.weightsMu.Unlock()

	e.logger.Debug().Int("strategies", len(weights)).Msg("Allocation weights recomputed")
	return e.Weights()
}

// normalize converts smoothed Sharpe values to weights: negatives floored
// at 0, normalized, clipped to [min, max], then renormalized so the
// enabled weights sum to 1. Disabled strategies carry weight 0 and are
// excluded from renormalization.
func (e *Engine) normalize(smoothed map[string]float64, enabled []string) map[string]float64 {
	weights := make(map[string]float64, len(smoothed))
	for id := range smoothed {
		weights[id] = 0
	}
	if len(enabled) == 0 {
		return weights
	}

	var total float64
	floored := make(map[string]float64, len(enabled))
	for _, id := range enabled {
		s := smoothed[id]
		if s < 0 {
			s = 0
		}
		floored[id] = s
		total += s
	}

	if total == 0 {
		// No strategy has positive risk-adjusted performance; fall back
		// to equal weights rather than allocating nothing.
		for _, id := range enabled {
			floored[id] = 1
		}
		total = float64(len(enabled))
	}

	var clippedTotal float64
	for _, id := range enabled {
		w := floored[id] / total
		if w < e.cfg.MinWeight {
			w = e.cfg.MinWeight
		}
		if w > e.cfg.MaxWeight {
			w = e.cfg.MaxWeight
		}
		weights[id] = w
		clippedTotal += w
	}

	for _, id := range enabled {
		weights[id] /= clippedTotal
	}
	return weights
}

// Weights returns a copy of the current allocation weights.
func (e *Engine) Weights() map[string]float64 {
	e.weightsMu.RLock()
	defer e.weightsMu.RUnlock()

	out := make(map[string]float64, len(e.weights))
	for id, w := range e.weights {
		out[id] = w
	}
	return out
}

// Restore replaces the published weights, used when recovering from a
// checkpoint.
func (e *Engine) Restore(weights map[string]float64) {
	copied := make(map[string]float64, len(weights))
	for id, w := range weights {
		copied[id] = w
	}

	e.weightsMu.Lock()
	e.weights = copied
	e.weightsMu.Unlock()
}

// Disabled reports whether a strategy is currently disabled.
func (e *Engine) Disabled(strategyID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.health[strategyID]
	return h != nil && h.disabled
}

// sharpe computes mean return divided by return volatility over the
// buffer. Returns 0 for fewer than two samples or zero volatility.
func sharpe(returns []float64) float64 {
	n := len(returns)
	if n < 2 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(n)

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(n - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}
