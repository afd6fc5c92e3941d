package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ensemble-trader/internal/config"
	"ensemble-trader/internal/logging"
	"ensemble-trader/internal/models"
	"ensemble-trader/pkg/utils"
)

// TradeStats estimates win probability and risk/reward from trailing
// trade outcomes.
type TradeStats struct {
	mu      sync.Mutex
	window  int
	pnls    []float64
}

// NewTradeStats creates stats over a trailing window of trade outcomes.
func NewTradeStats(window int) *TradeStats {
	if window <= 0 {
		window = 50
	}
	return &TradeStats{window: window}
}

// RecordOutcome appends a realized trade PnL.
func (s *TradeStats) RecordOutcome(pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pnls = append(s.pnls, pnl)
	if len(s.pnls) > s.window {
		s.pnls = s.pnls[len(s.pnls)-s.window:]
	}
}

// Samples returns the number of recorded trade outcomes.
func (s *TradeStats) Samples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pnls)
}

// WinProbability returns the fraction of winning trades, 0.5 with no
// history.
func (s *TradeStats) WinProbability() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pnls) == 0 {
		return 0.5
	}
	wins := 0
	for _, pnl := range s.pnls {
		if pnl > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(s.pnls))
}

// RiskReward returns average win divided by average loss, 1 when either
// side has no samples.
func (s *TradeStats) RiskReward() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var winSum, lossSum float64
	var wins, losses int
	for _, pnl := range s.pnls {
		if pnl > 0 {
			winSum += pnl
			wins++
		} else if pnl < 0 {
			lossSum -= pnl
			losses++
		}
	}
	if wins == 0 || losses == 0 || lossSum == 0 {
		return 1
	}
	return (winSum / float64(wins)) / (lossSum / float64(losses))
}

// Sizer converts an ensemble decision into a bounded position size using
// fractional Kelly, correlation penalty, and the governor's state
// multiplier.
type Sizer struct {
	cfg    config.RiskConfig
	logger zerolog.Logger
}

// NewSizer creates a sizer from configuration.
func NewSizer(cfg config.RiskConfig, logger zerolog.Logger) *Sizer {
	return &Sizer{
		cfg:    cfg,
		logger: logger.With().Str("component", "sizer").Logger(),
	}
}

// KellyFraction computes the full Kelly fraction f = (b*p - (1-p)) / b.
// Returns 0 for a non-positive payoff ratio.
func KellyFraction(p, b float64) float64 {
	if b <= 0 {
		return 0
	}
	return (b*p - (1 - p)) / b
}

// Size produces the position size decision for a gated ensemble decision.
// The result is always within [0, max_position_pct]; it is exactly 0 when
// the win probability is below the configured floor or the risk state is
// RED.
func (s *Sizer) Size(symbol string, decision models.EnsembleDecision, p, b, portfolioCorr float64, state models.RiskState) models.PositionSizeDecision {
	side := models.OrderSideBuy
	if decision.Action == models.ActionSell {
		side = models.OrderSideSell
	}

	out := models.PositionSizeDecision{
		Symbol:     symbol,
		Side:       side,
		DecisionID: decision.ID,
		Timestamp:  time.Now(),
	}

	if state == models.RiskRed {
		return out
	}
	if p < s.cfg.WinProbabilityFloor {
		s.logger.Info().
			Float64("win_probability", p).
			Float64("floor", s.cfg.WinProbabilityFloor).
			Msg("Signal too uncertain to size")
		return out
	}

	kelly := KellyFraction(p, b)
	out.KellyFraction = kelly
	if kelly <= 0 {
		return out
	}

	conservative := kelly * s.cfg.KellyMultiplier
	out.ConservativeFraction = conservative

	size := conservative
	if portfolioCorr > s.cfg.CorrelationThreshold {
		scaled := size * (1 - (portfolioCorr - s.cfg.CorrelationThreshold))
		if scaled < 0 {
			scaled = 0
		}
		logging.LogSizeClamp(s.logger, "correlation_penalty", size, scaled)
		size = scaled
	}
	if size == 0 {
		return out
	}

	clipped := utils.Clamp(size, s.cfg.MinPositionPct, s.cfg.MaxPositionPct)
	if clipped != size {
		logging.LogSizeClamp(s.logger, "position_bounds", size, clipped)
	}
	size = clipped

	if m := state.SizeMultiplier(); m != 1 {
		logging.LogSizeClamp(s.logger, "risk_state", size, size*m)
		size *= m
	}

	out.FinalSizePct = size
	return out
}
