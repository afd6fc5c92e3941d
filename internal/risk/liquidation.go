package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ensemble-trader/internal/config"
	"ensemble-trader/internal/logging"
	"ensemble-trader/internal/marketdata"
	"ensemble-trader/internal/models"
	"ensemble-trader/internal/stream"
)

// Escalator is the liquidation monitor's one-hop link to the governor.
// The call sets a flag; it never blocks on the pipeline.
type Escalator interface {
	ForceEscalation(target models.RiskState, hold time.Duration)
}

// Monitor scores streaming market data for liquidation cascade risk. It
// runs on a much tighter cadence than the decision cycle and can force
// governor escalations independent of the drawdown path. False positives
// are accepted: overreaction is the safer failure mode.
type Monitor struct {
	cfg      config.LiquidationConfig
	logger   zerolog.Logger
	alerts   stream.Sink
	governor Escalator
	clock    func() time.Time

	mu         sync.RWMutex
	stats      map[string]*marketdata.SymbolStats
	latest     map[string]models.CascadeAssessment
	blockUntil map[string]time.Time

	// onForceClose receives (symbol, fraction of exposure to close).
	onForceClose func(symbol string, fraction float64)
}

// NewMonitor creates a liquidation monitor.
func NewMonitor(cfg config.LiquidationConfig, governor Escalator, alerts stream.Sink, logger zerolog.Logger) *Monitor {
	return &Monitor{
		cfg:        cfg,
		logger:     logger.With().Str("component", "liquidation").Logger(),
		alerts:     alerts,
		governor:   governor,
		clock:      time.Now,
		stats:      make(map[string]*marketdata.SymbolStats),
		latest:     make(map[string]models.CascadeAssessment),
		blockUntil: make(map[string]time.Time),
	}
}

// SetClock replaces the time source, used by tests.
func (m *Monitor) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

// SetOnForceClose sets the callback invoked when a band demands exposure
// reduction. Fraction is 0.5 or 1.0.
func (m *Monitor) SetOnForceClose(fn func(symbol string, fraction float64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onForceClose = fn
}

// Observe ingests a streaming tick. Malformed data is dropped at this
// boundary and never aborts a scan.
func (m *Monitor) Observe(tick models.Tick) {
	if tick.Symbol == "" || tick.Price <= 0 {
		m.logger.Debug().Str("symbol", tick.Symbol).Msg("Dropping malformed tick")
		return
	}

	m.mu.Lock()
	stats := m.stats[tick.Symbol]
	if stats == nil {
		stats = marketdata.NewSymbolStats(60, 2*m.cfg.PriceDropWindow)
		m.stats[tick.Symbol] = stats
	}
	m.mu.Unlock()

	stats.Observe(tick)
}

// Scan assesses one symbol and applies the graded response bands.
func (m *Monitor) Scan(symbol string) models.CascadeAssessment {
	m.mu.RLock()
	stats := m.stats[symbol]
	clock := m.clock
	m.mu.RUnlock()

	assessment := models.CascadeAssessment{
		Symbol:    symbol,
		Response:  models.CascadeNone,
		Timestamp: clock(),
	}
	if stats == nil {
		return assessment
	}

	spike := stats.VolumeSpike()
	drop := stats.PriceChange(m.cfg.PriceDropWindow)
	assessment.VolumeSpike = spike
	assessment.PriceDrop = drop

	absDrop := drop
	if absDrop < 0 {
		absDrop = -absDrop
	}

	if spike > m.cfg.VolumeSpikeThreshold && absDrop > m.cfg.PriceDropThreshold {
		assessment.Severity = absDrop * spike
		assessment.Probability = assessment.Severity / m.cfg.SeverityDivisor
		if assessment.Probability > 1 {
			assessment.Probability = 1
		}
	}

	switch {
	case assessment.Probability >= m.cfg.CloseBand:
		assessment.Response = models.CascadeCloseAll
	case assessment.Probability >= m.cfg.ReduceBand:
		assessment.Response = models.CascadeReduceHalf
	case assessment.Probability >= m.cfg.BlockBand:
		assessment.Response = models.CascadeBlockNew
	}

	m.apply(assessment)

	m.mu.Lock()
	m.latest[symbol] = assessment
	m.mu.Unlock()

	return assessment
}

// apply executes the graded response for an assessment.
func (m *Monitor) apply(a models.CascadeAssessment) {
	if a.Response == models.CascadeNone {
		if a.Severity > 0 {
			m.logger.Debug().
				Str("symbol", a.Symbol).
				Float64("probability", a.Probability).
				Msg("Cascade flagged below trigger bands")
		}
		return
	}

	logging.LogCascade(m.logger, a)

	m.mu.Lock()
	m.blockUntil[a.Symbol] = m.clock().Add(m.cfg.EscalationHold)
	onForceClose := m.onForceClose
	m.mu.Unlock()

	switch a.Response {
	case models.CascadeBlockNew:
		m.alerts.Emit(models.AlertWarning, models.AlertCategoryLiquidation,
			fmt.Sprintf("%s: cascade probability %.2f, blocking new positions", a.Symbol, a.Probability))

	case models.CascadeReduceHalf:
		m.alerts.Emit(models.AlertWarning, models.AlertCategoryLiquidation,
			fmt.Sprintf("%s: cascade probability %.2f, closing 50%% of exposure", a.Symbol, a.Probability))
		if onForceClose != nil {
			onForceClose(a.Symbol, 0.5)
		}

	case models.CascadeCloseAll:
		m.alerts.Emit(models.AlertCritical, models.AlertCategoryLiquidation,
			fmt.Sprintf("%s: cascade probability %.2f, closing all exposure", a.Symbol, a.Probability))
		if onForceClose != nil {
			onForceClose(a.Symbol, 1.0)
		}
		// One-hop, fire-and-forget: the next governor evaluation
		// consumes the flag.
		m.governor.ForceEscalation(models.RiskYellow2, m.cfg.EscalationHold)
	}
}

// Blocked reports whether new position increases in a symbol are
// currently blocked by a cascade band.
func (m *Monitor) Blocked(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	until, ok := m.blockUntil[symbol]
	return ok && m.clock().Before(until)
}

// Latest returns the most recent assessment for a symbol.
func (m *Monitor) Latest(symbol string) (models.CascadeAssessment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.latest[symbol]
	return a, ok
}
