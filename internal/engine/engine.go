// Package engine wires the decision pipeline: signal collection,
// aggregation, risk gating, sizing, simulated execution and persistence.
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ensemble-trader/internal/allocation"
	"ensemble-trader/internal/config"
	"ensemble-trader/internal/ensemble"
	apperrors "ensemble-trader/internal/errors"
	"ensemble-trader/internal/execution"
	"ensemble-trader/internal/logging"
	"ensemble-trader/internal/marketdata"
	"ensemble-trader/internal/metrics"
	"ensemble-trader/internal/models"
	"ensemble-trader/internal/risk"
	"ensemble-trader/internal/store"
	"ensemble-trader/internal/stream"
)

// minTradeSamples is the realized-trade history needed before the win
// rate estimate replaces ensemble confidence in position sizing.
const minTradeSamples = 10

// Engine owns the portfolio and runs the cycle pipeline. One instance per
// process; all subsystem state hangs off it.
type Engine struct {
	cfg    *config.Config
	logger zerolog.Logger

	registry    *ensemble.Registry
	aggregator  *ensemble.Aggregator
	allocator   *allocation.Engine
	correlation *allocation.CorrelationTracker
	governor    *risk.Governor
	sizer       *risk.Sizer
	tradeStats  *risk.TradeStats
	monitor     *risk.Monitor
	simulator   *execution.Simulator

	feed        marketdata.Feed
	checkpoints store.CheckpointStore
	journal     store.Journal
	alerts      *stream.Hub
	collector   *metrics.Collector

	// cycleMu guards the whole pipeline. A cycle that finds it held is
	// skipped, never queued.
	cycleMu sync.Mutex

	// portfolioMu guards cash and positions.
	portfolioMu sync.RWMutex
	cash        float64
	positions   map[string]*models.Position

	clock func() time.Time
}

// New assembles an engine from configuration and the injected I/O edges.
func New(cfg *config.Config, feed marketdata.Feed, checkpoints store.CheckpointStore, journal store.Journal, collector *metrics.Collector, logger zerolog.Logger) *Engine {
	alerts := stream.NewHub(256, logger)
	governor := risk.NewGovernor(cfg.Risk, alerts, logger)

	e := &Engine{
		cfg:         cfg,
		logger:      logger.With().Str("component", "engine").Logger(),
		registry:    ensemble.NewRegistry(logger),
		aggregator:  ensemble.NewAggregator(cfg.Aggregator),
		allocator:   allocation.NewEngine(cfg.Allocation, logger),
		correlation: allocation.NewCorrelationTracker(cfg.Correlation.Window, logger),
		governor:    governor,
		sizer:       risk.NewSizer(cfg.Risk, logger),
		tradeStats:  risk.NewTradeStats(100),
		monitor:     risk.NewMonitor(cfg.Liquidation, governor, alerts, logger),
		simulator:   execution.NewSimulator(cfg.Execution, logger),
		feed:        feed,
		checkpoints: checkpoints,
		journal:     journal,
		alerts:      alerts,
		collector:   collector,
		cash:        cfg.Engine.InitialEquity,
		positions:   make(map[string]*models.Position),
		clock:       time.Now,
	}

	// Alerts double as journal rows so the status surface can replay them.
	alerts.SetOnEmit(func(a models.Alert) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := journal.SaveAlert(ctx, a); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to journal alert")
		}
	})

	// Every governor transition is durable immediately, not at the next
	// checkpoint tick.
	governor.SetOnChange(func(status models.RiskStatus) {
		if collector != nil {
			collector.SetRiskState(status.State.Severity(), status.DrawdownPct)
		}
		if err := e.writeCheckpoint(); err != nil {
			e.logger.Error().Err(err).Msg("Checkpoint after risk transition failed")
		}
	})

	e.monitor.SetOnForceClose(e.forceClose)

	return e
}

// Registry exposes the strategy registry for startup wiring.
func (e *Engine) Registry() *ensemble.Registry {
	return e.registry
}

// Alerts exposes the alert hub for subscribers.
func (e *Engine) Alerts() *stream.Hub {
	return e.alerts
}

// SetClock replaces the time source, used by tests.
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
	e.governor.SetClock(clock)
	e.monitor.SetClock(clock)
}

// Recover restores portfolio and risk state from the newest consistent
// checkpoint. A missing checkpoint is a fresh start; an exhausted retry
// budget aborts startup rather than trading on unknown state.
func (e *Engine) Recover(ctx context.Context) error {
	cp, err := e.checkpoints.Recover(ctx)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrCheckpointNotFound) {
			e.logger.Info().
				Float64("initial_equity", e.cfg.Engine.InitialEquity).
				Msg("No checkpoint found, starting fresh")
			return nil
		}
		return fmt.Errorf("recovering state: %w", err)
	}

	e.portfolioMu.Lock()
	e.cash = cp.Cash
	e.positions = make(map[string]*models.Position, len(cp.Positions))
	for i := range cp.Positions {
		p := cp.Positions[i]
		e.positions[p.Symbol] = &p
	}
	e.portfolioMu.Unlock()

	// Peak equity is not stored directly; it is implied by equity and
	// drawdown at checkpoint time.
	peak := cp.Equity
	if cp.DrawdownPct > 0 && cp.DrawdownPct < 1 {
		peak = cp.Equity / (1 - cp.DrawdownPct)
	}
	e.governor.Restore(cp.RiskState, cp.DrawdownPct, cp.CooldownUntil, peak)
	e.allocator.Restore(cp.AllocationWeights)

	e.logger.Info().
		Time("checkpoint", cp.Timestamp).
		Float64("equity", cp.Equity).
		Int("positions", len(cp.Positions)).
		Str("risk_state", string(cp.RiskState)).
		Msg("State recovered from checkpoint")
	return nil
}

// Run executes the engine until ctx is cancelled: decision cycles,
// liquidation scans, correlation and allocation recomputes, checkpoints
// and tick consumption all run on their own cadences.
func (e *Engine) Run(ctx context.Context) error {
	ticks, err := e.feed.Ticks(ctx, e.cfg.Engine.Symbol)
	if err != nil {
		return fmt.Errorf("subscribing to ticks: %w", err)
	}

	cycleTicker := time.NewTicker(e.cfg.Engine.CycleInterval)
	defer cycleTicker.Stop()
	scanTicker := time.NewTicker(e.cfg.Liquidation.ScanInterval)
	defer scanTicker.Stop()
	checkpointTicker := time.NewTicker(e.cfg.Checkpoint.Interval)
	defer checkpointTicker.Stop()
	correlationTicker := time.NewTicker(e.cfg.Correlation.RecomputeInterval)
	defer correlationTicker.Stop()
	allocationTicker := time.NewTicker(e.cfg.Allocation.RecomputeInterval)
	defer allocationTicker.Stop()

	e.logger.Info().
		Str("symbol", e.cfg.Engine.Symbol).
		Dur("cycle_interval", e.cfg.Engine.CycleInterval).
		Int("strategies", e.registry.Len()).
		Msg("Engine started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Engine stopping")
			if err := e.writeCheckpoint(); err != nil {
				e.logger.Error().Err(err).Msg("Final checkpoint failed")
			}
			return ctx.Err()

		case tick, ok := <-ticks:
			if !ok {
				return apperrors.ErrFeedUnavailable
			}
			e.monitor.Observe(tick)
			e.markPrice(tick.Symbol, tick.Price)

		case <-scanTicker.C:
			a := e.monitor.Scan(e.cfg.Engine.Symbol)
			if e.collector != nil && a.Response != models.CascadeNone {
				e.collector.CountCascade(string(a.Response))
			}

		case <-cycleTicker.C:
			if err := e.RunCycle(ctx); err != nil && !apperrors.Is(err, apperrors.ErrCycleInFlight) && !apperrors.Is(err, apperrors.ErrNoDecision) {
				e.logger.Error().Err(err).Msg("Cycle failed")
			}

		case <-checkpointTicker.C:
			if err := e.writeCheckpoint(); err != nil {
				e.logger.Error().Err(err).Msg("Periodic checkpoint failed")
				e.alerts.Emit(models.AlertWarning, models.AlertCategoryCheckpoint,
					fmt.Sprintf("checkpoint write failed: %v", err))
			}

		case <-correlationTicker.C:
			e.correlation.Recompute()
			if e.collector != nil {
				e.collector.SetPortfolioCorrelation(e.correlation.PortfolioCorrelation(e.allocator.Weights()))
			}

		case <-allocationTicker.C:
			weights := e.allocator.Recompute()
			if e.collector != nil {
				e.collector.SetStrategyWeights(weights)
			}
		}
	}
}

// RunCycle executes one decision cycle. If the previous cycle is still in
// flight the cycle is skipped, not queued; stale decisions are worse than
// missed ones.
func (e *Engine) RunCycle(ctx context.Context) error {
	if !e.cycleMu.TryLock() {
		e.logger.Warn().Msg("Previous cycle still in flight, skipping")
		if e.collector != nil {
			e.collector.CountSkippedCycle()
		}
		return apperrors.ErrCycleInFlight
	}
	defer e.cycleMu.Unlock()

	// Drawdown is recomputed and the state machine stepped on every
	// cycle, decision or not, so pending forced escalations are consumed
	// promptly.
	equity := e.Equity()
	status := e.governor.Evaluate(equity)
	if e.collector != nil {
		e.collector.SetRiskState(status.State.Severity(), status.DrawdownPct)
		e.collector.SetEquity(equity)
	}

	signals := e.registry.Collect(ctx)
	weights := e.allocator.Weights()

	decision := e.aggregator.Combine(signals, weights)
	if decision == nil {
		e.logger.Debug().Int("signals", len(signals)).Msg("No decision cleared the gates")
		return apperrors.ErrNoDecision
	}

	logging.LogDecision(e.logger, *decision)
	if e.collector != nil {
		e.collector.CountDecision(string(decision.Action))
	}
	if err := e.journal.SaveDecision(ctx, *decision); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to journal decision")
	}

	if decision.Action == models.ActionHold {
		return nil
	}

	symbol := e.cfg.Engine.Symbol
	if status.State.Halted() {
		e.logger.Warn().Str("decision_id", decision.ID).Msg("Decision suppressed, trading halted")
		return apperrors.ErrTradingHalted
	}
	if decision.Action == models.ActionBuy && e.monitor.Blocked(symbol) {
		e.logger.Warn().
			Str("symbol", symbol).
			Str("decision_id", decision.ID).
			Msg("New position blocked by cascade band")
		return nil
	}

	// Until enough realized trades exist, the ensemble confidence stands
	// in for the historical win rate.
	winProb := e.tradeStats.WinProbability()
	if e.tradeStats.Samples() < minTradeSamples {
		winProb = decision.Confidence
	}

	portfolioCorr := e.correlation.PortfolioCorrelation(weights)
	sized := e.sizer.Size(symbol, *decision,
		winProb, e.tradeStats.RiskReward(),
		portfolioCorr, status.State)
	if sized.FinalSizePct <= 0 {
		e.logger.Debug().Str("decision_id", decision.ID).Msg("Sized to zero, no order")
		return nil
	}

	snapshot, err := e.feed.Snapshot(ctx, symbol)
	if err != nil {
		return fmt.Errorf("fetching snapshot: %w", err)
	}

	result := e.simulator.Execute(sized, snapshot, equity)
	if result.FilledSize <= 0 {
		return nil
	}

	if !e.applyFill(&result, decision.Contributing) {
		return nil
	}

	if e.collector != nil {
		e.collector.ObserveExecution(result.SlippageBps, result.FillRatio)
	}
	if err := e.journal.SaveExecution(ctx, result); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to journal execution")
	}
	if err := e.writeCheckpoint(); err != nil {
		e.logger.Error().Err(err).Msg("Post-trade checkpoint failed")
	}
	return nil
}

// applyFill settles an execution into the portfolio, reporting whether it
// took effect. Cash-capped buys and position-capped sells are written back
// into the result so the journaled row matches the portfolio effect.
// Realized PnL feeds the trade statistics and, divided equally, the return
// series of the contributing strategies.
func (e *Engine) applyFill(result *models.ExecutionResult, contributing []models.StrategySignal) bool {
	e.portfolioMu.Lock()

	pos := e.positions[result.Symbol]
	var realized float64

	switch result.Side {
	case models.OrderSideBuy:
		cost := result.FilledSize * result.ExecutionPrice
		if cost > e.cash {
			// Never lever up: scale the fill to available cash.
			scale := e.cash / cost
			result.FilledSize *= scale
			if result.RequestedSize > 0 {
				result.FillRatio = result.FilledSize / result.RequestedSize
			}
			cost = e.cash
		}
		e.cash -= cost
		if pos == nil {
			pos = &models.Position{Symbol: result.Symbol}
			e.positions[result.Symbol] = pos
		}
		newQty := pos.Quantity + result.FilledSize
		if newQty > 0 {
			pos.AveragePrice = (pos.AveragePrice*pos.Quantity + result.ExecutionPrice*result.FilledSize) / newQty
		}
		pos.Quantity = newQty
		pos.LastPrice = result.ExecutionPrice

	case models.OrderSideSell:
		if pos == nil || pos.Quantity <= 0 {
			e.portfolioMu.Unlock()
			e.logger.Warn().Str("symbol", result.Symbol).Msg("Sell with no position, dropped")
			return false
		}
		qty := math.Min(result.FilledSize, pos.Quantity)
		result.FilledSize = qty
		if result.RequestedSize > 0 {
			result.FillRatio = result.FilledSize / result.RequestedSize
		}
		e.cash += qty * result.ExecutionPrice
		realized = qty * (result.ExecutionPrice - pos.AveragePrice)
		pos.Quantity -= qty
		pos.LastPrice = result.ExecutionPrice
		if pos.Quantity <= 0 {
			delete(e.positions, result.Symbol)
		}
	}

	preTradeEquity := e.equityLocked()
	e.portfolioMu.Unlock()

	if result.Side == models.OrderSideSell {
		e.tradeStats.RecordOutcome(realized)
		if preTradeEquity > 0 && len(contributing) > 0 {
			// Attribution: realized return split equally across the
			// signals that voted for the trade.
			share := realized / preTradeEquity / float64(len(contributing))
			for _, s := range contributing {
				e.allocator.AddReturn(s.StrategyID, share)
				e.correlation.AddReturn(s.StrategyID, share)
			}
		}
	}
	return true
}

// forceClose liquidates a fraction of the held exposure at the last mark.
// Called by the liquidation monitor; slippage is accepted, speed wins.
func (e *Engine) forceClose(symbol string, fraction float64) {
	e.portfolioMu.Lock()
	pos := e.positions[symbol]
	if pos == nil || pos.Quantity <= 0 || pos.LastPrice <= 0 {
		e.portfolioMu.Unlock()
		return
	}

	qty := pos.Quantity * fraction
	e.cash += qty * pos.LastPrice
	realized := qty * (pos.LastPrice - pos.AveragePrice)
	pos.Quantity -= qty
	if pos.Quantity <= 1e-9 {
		delete(e.positions, symbol)
	}
	e.portfolioMu.Unlock()

	e.tradeStats.RecordOutcome(realized)
	e.logger.Warn().
		Str("symbol", symbol).
		Float64("fraction", fraction).
		Float64("quantity", qty).
		Float64("realized_pnl", realized).
		Msg("Forced exposure reduction")

	if err := e.writeCheckpoint(); err != nil {
		e.logger.Error().Err(err).Msg("Checkpoint after forced close failed")
	}
}

// markPrice updates the last traded price for a held position.
func (e *Engine) markPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	e.portfolioMu.Lock()
	if pos := e.positions[symbol]; pos != nil {
		pos.LastPrice = price
	}
	e.portfolioMu.Unlock()
}

func (e *Engine) equityLocked() float64 {
	total := e.cash
	for _, p := range e.positions {
		total += p.MarketValue()
	}
	return total
}

// Equity returns cash plus position marks.
func (e *Engine) Equity() float64 {
	e.portfolioMu.RLock()
	defer e.portfolioMu.RUnlock()
	return e.equityLocked()
}

// Cash returns the uninvested balance.
func (e *Engine) Cash() float64 {
	e.portfolioMu.RLock()
	defer e.portfolioMu.RUnlock()
	return e.cash
}

// Positions returns a copy of the current holdings.
func (e *Engine) Positions() []models.Position {
	e.portfolioMu.RLock()
	defer e.portfolioMu.RUnlock()

	out := make([]models.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	return out
}

// buildCheckpoint snapshots the durable state under the portfolio lock.
func (e *Engine) buildCheckpoint() models.Checkpoint {
	status := e.governor.Status()

	e.portfolioMu.RLock()
	defer e.portfolioMu.RUnlock()

	positions := make([]models.Position, 0, len(e.positions))
	for _, p := range e.positions {
		positions = append(positions, *p)
	}

	return models.Checkpoint{
		Timestamp:         e.clock(),
		Cash:              e.cash,
		Equity:            e.equityLocked(),
		Positions:         positions,
		RiskState:         status.State,
		DrawdownPct:       status.DrawdownPct,
		CooldownUntil:     status.CooldownUntil,
		AllocationWeights: e.allocator.Weights(),
	}
}

func (e *Engine) writeCheckpoint() error {
	cp := e.buildCheckpoint()
	started := e.clock()
	err := e.checkpoints.Save(cp)
	logging.LogCheckpoint(e.logger, cp.Equity, len(cp.Positions), e.clock().Sub(started), err)
	if e.collector != nil {
		e.collector.CountCheckpoint(err == nil)
	}
	return err
}

// Status is the engine's queryable state snapshot for the status surface.
type Status struct {
	Symbol       string             `json:"symbol"`
	Equity       float64            `json:"equity"`
	Cash         float64            `json:"cash"`
	Positions    []models.Position  `json:"positions"`
	Risk         models.RiskStatus  `json:"risk"`
	Weights      map[string]float64 `json:"weights"`
	Strategies   []string           `json:"strategies"`
	RecentAlerts []models.Alert     `json:"recent_alerts"`
}

// Status returns a point-in-time view of the engine.
func (e *Engine) Status() Status {
	return Status{
		Symbol:       e.cfg.Engine.Symbol,
		Equity:       e.Equity(),
		Cash:         e.Cash(),
		Positions:    e.Positions(),
		Risk:         e.governor.Status(),
		Weights:      e.allocator.Weights(),
		Strategies:   e.registry.StrategyIDs(),
		RecentAlerts: e.alerts.Recent(10),
	}
}

// Governor exposes the risk governor for manual release and inspection.
func (e *Engine) Governor() *risk.Governor {
	return e.governor
}

// Monitor exposes the liquidation monitor for inspection.
func (e *Engine) Monitor() *risk.Monitor {
	return e.monitor
}

// Allocator exposes the allocation engine for return feeds.
func (e *Engine) Allocator() *allocation.Engine {
	return e.allocator
}

// Correlation exposes the correlation tracker.
func (e *Engine) Correlation() *allocation.CorrelationTracker {
	return e.correlation
}
