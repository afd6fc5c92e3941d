// Package execution estimates realistic fills for sized orders under
// slippage, spread, market impact, and liquidity constraints.
package execution

import (
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ensemble-trader/internal/config"
	"ensemble-trader/internal/logging"
	"ensemble-trader/internal/models"
)

// Internal model coefficients. The configured knobs (base slippage,
// noise range, caps) govern magnitudes; these set the relative scale of
// the size and volatility terms.
const (
	sizeImpactCoeff  = 0.10 // bps per bps of daily-volume participation
	volImpactCoeff   = 0.20 // fraction of annualized-vol bps added to slippage
	sqrtImpactCoeff  = 0.10 // square-root law scale
	baseSpreadBps    = 2.0
	openCloseBoost   = 1.25 // extra variance near session open/close
	sessionEdgeWidth = 30 * time.Minute
)

// Simulator prices sized orders against a market snapshot. All randomness
// derives from the configured seed plus the inputs, never ambient
// entropy, so identical (decision, snapshot, seed) triples produce
// identical results.
type Simulator struct {
	cfg    config.ExecutionConfig
	logger zerolog.Logger
}

// NewSimulator creates a simulator from configuration.
func NewSimulator(cfg config.ExecutionConfig, logger zerolog.Logger) *Simulator {
	return &Simulator{
		cfg:    cfg,
		logger: logger.With().Str("component", "execution").Logger(),
	}
}

// rngFor derives a per-order random source from the configured seed and
// the order's identity.
func (s *Simulator) rngFor(decision models.PositionSizeDecision, snapshot models.MarketSnapshot) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(decision.DecisionID))
	h.Write([]byte(decision.Symbol))
	h.Write([]byte(snapshot.Timestamp.UTC().Format(time.RFC3339Nano)))
	return rand.New(rand.NewSource(s.cfg.Seed ^ int64(h.Sum64())))
}

// noise returns a bounded random multiplier in [noise_min, noise_max],
// widened toward the bounds near session open/close.
func (s *Simulator) noise(rng *rand.Rand, at time.Time) float64 {
	lo, hi := s.cfg.NoiseMin, s.cfg.NoiseMax
	n := lo + rng.Float64()*(hi-lo)
	if nearSessionEdge(at) {
		n = 1 + (n-1)*openCloseBoost
	}
	return n
}

// nearSessionEdge reports whether the timestamp falls within the
// configured width of the session open or close (UTC day boundaries for
// continuous markets).
func nearSessionEdge(at time.Time) bool {
	t := at.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	sinceOpen := t.Sub(midnight)
	untilClose := midnight.Add(24 * time.Hour).Sub(t)
	return sinceOpen < sessionEdgeWidth || untilClose < sessionEdgeWidth
}

// Execute simulates the fill for a position size decision against the
// market snapshot. Equity converts the fractional size into units.
// Requests of zero size return a zero-value result.
func (s *Simulator) Execute(decision models.PositionSizeDecision, snapshot models.MarketSnapshot, equity float64) models.ExecutionResult {
	result := models.ExecutionResult{
		ID:         uuid.NewString(),
		Symbol:     decision.Symbol,
		Side:       decision.Side,
		DecisionID: decision.DecisionID,
		Timestamp:  snapshot.Timestamp,
	}
	if decision.FinalSizePct <= 0 || snapshot.MidPrice <= 0 || equity <= 0 {
		return result
	}

	rng := s.rngFor(decision, snapshot)
	requested := decision.FinalSizePct * equity / snapshot.MidPrice
	result.RequestedSize = requested

	participation := 0.0
	if snapshot.DailyVolume > 0 {
		participation = requested / snapshot.DailyVolume
	}

	// Slippage: configured base plus size and volatility terms, each
	// under its own bounded random multiplier.
	slippage := s.cfg.BaseSlippageBps * s.noise(rng, snapshot.Timestamp)
	slippage += participation * 10000 * sizeImpactCoeff * s.noise(rng, snapshot.Timestamp)
	slippage += snapshot.Volatility * 10000 * volImpactCoeff * s.noise(rng, snapshot.Timestamp)
	result.SlippageBps = slippage

	// Spread widens with volatility and thins with volume.
	spread := baseSpreadBps + snapshot.Volatility*10000*0.2
	if snapshot.DailyVolume > 0 {
		spread += 1000 / math.Sqrt(snapshot.DailyVolume)
	}
	if spread > s.cfg.MaxSpreadBps {
		spread = s.cfg.MaxSpreadBps
	}
	result.SpreadBps = spread

	// Market impact follows a square-root law in participation.
	impact := 10000 * sqrtImpactCoeff * math.Sqrt(participation)
	if impact > s.cfg.MaxImpactBps {
		impact = s.cfg.MaxImpactBps
	}
	result.MarketImpactBps = impact

	// Partial fill: requests beyond the available-liquidity fraction of
	// daily volume fill proportionally, floored so a valid decision
	// never silently fills zero.
	fillRatio := 1.0
	if snapshot.DailyVolume > 0 {
		available := s.cfg.LiquidityFraction * snapshot.DailyVolume
		if requested > available {
			fillRatio = available / requested
			if fillRatio < s.cfg.FillRatioFloor {
				fillRatio = s.cfg.FillRatioFloor
			}
		}
	}
	result.FillRatio = fillRatio
	result.FilledSize = requested * fillRatio

	// Adverse price move: half the spread plus slippage plus impact,
	// against the order's side.
	totalBps := (spread/2 + slippage + impact) / 10000
	price := snapshot.MidPrice
	if decision.Side == models.OrderSideBuy {
		price *= 1 + totalBps
	} else {
		price *= 1 - totalBps
	}

	// With simulated book depth available, take the worse of the model
	// price and the depth-walk VWAP.
	if len(snapshot.Depth) > 0 {
		if vwap, filled := walkDepth(snapshot.Depth, result.FilledSize); filled > 0 {
			if decision.Side == models.OrderSideBuy && vwap > price {
				price = vwap
			}
			if decision.Side == models.OrderSideSell && vwap < price && vwap > 0 {
				price = vwap
			}
		}
	}
	result.ExecutionPrice = price

	logging.LogExecution(s.logger, result)
	return result
}
