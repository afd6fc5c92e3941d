package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ensemble-trader/internal/config"
	apperrors "ensemble-trader/internal/errors"
	"ensemble-trader/internal/marketdata"
	"ensemble-trader/internal/models"
	"ensemble-trader/internal/store"
)

// fixedStrategy always emits the same signal.
type fixedStrategy struct {
	id         string
	action     models.Action
	confidence float64
}

func (s *fixedStrategy) StrategyID() string { return s.id }

func (s *fixedStrategy) EmitSignal(_ context.Context) (models.StrategySignal, error) {
	return models.StrategySignal{
		StrategyID: s.id,
		Action:     s.action,
		Confidence: s.confidence,
		Timestamp:  time.Now(),
	}, nil
}

// memJournal is an in-memory Journal for engine tests.
type memJournal struct {
	mu         sync.Mutex
	executions []models.ExecutionResult
	decisions  []models.EnsembleDecision
	alerts     []models.Alert
}

func (j *memJournal) SaveExecution(_ context.Context, r models.ExecutionResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.executions = append(j.executions, r)
	return nil
}

func (j *memJournal) SaveDecision(_ context.Context, d models.EnsembleDecision) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.decisions = append(j.decisions, d)
	return nil
}

func (j *memJournal) SaveAlert(_ context.Context, a models.Alert) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.alerts = append(j.alerts, a)
	return nil
}

func (j *memJournal) GetExecutions(_ context.Context, _ store.ExecutionFilter) ([]models.ExecutionResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]models.ExecutionResult(nil), j.executions...), nil
}

func (j *memJournal) GetDecisions(_ context.Context, _ store.DecisionFilter) ([]models.EnsembleDecision, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]models.EnsembleDecision(nil), j.decisions...), nil
}

func (j *memJournal) GetAlerts(_ context.Context, _ store.AlertFilter) ([]models.Alert, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]models.Alert(nil), j.alerts...), nil
}

func (j *memJournal) LatestExecution(_ context.Context) (*models.ExecutionResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.executions) == 0 {
		return nil, nil
	}
	last := j.executions[len(j.executions)-1]
	return &last, nil
}

func (j *memJournal) Close() error { return nil }

func (j *memJournal) executionCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.executions)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.Symbol = "BTC-USD"
	cfg.Engine.InitialEquity = 100000
	cfg.Checkpoint.Dir = t.TempDir()
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, feed marketdata.Feed) (*Engine, *memJournal) {
	t.Helper()

	checkpoints, err := store.NewFileCheckpointStore(
		cfg.Checkpoint.Dir, cfg.Checkpoint.MaxRetries,
		cfg.Checkpoint.EquityTolerance, cfg.Checkpoint.RetainCount, zerolog.Nop())
	require.NoError(t, err)

	journal := &memJournal{}
	e := New(cfg, feed, checkpoints, journal, nil, zerolog.Nop())
	return e, journal
}

func buyFeed() *marketdata.ReplayFeed {
	feed := marketdata.NewReplayFeed()
	feed.SetSnapshot(models.MarketSnapshot{
		Symbol:      "BTC-USD",
		MidPrice:    50000,
		Volatility:  0.02,
		DailyVolume: 1_000_000,
		Timestamp:   time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	})
	return feed
}

func registerBuyers(e *Engine) {
	e.Registry().Register(&fixedStrategy{id: "momentum", action: models.ActionBuy, confidence: 0.8})
	e.Registry().Register(&fixedStrategy{id: "meanrev", action: models.ActionBuy, confidence: 0.6})
	e.Registry().Register(&fixedStrategy{id: "breakout", action: models.ActionBuy, confidence: 0.7})
	e.Allocator().Restore(map[string]float64{"momentum": 0.3, "meanrev": 0.3, "breakout": 0.4})
}

func TestRunCycle_BuyFlow(t *testing.T) {
	cfg := testConfig(t)
	e, journal := newTestEngine(t, cfg, buyFeed())
	registerBuyers(e)

	require.NoError(t, e.RunCycle(context.Background()))

	positions := e.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, "BTC-USD", positions[0].Symbol)
	assert.Greater(t, positions[0].Quantity, 0.0)
	assert.Less(t, e.Cash(), 100000.0)

	// Accounting holds: costs only move value between cash and position.
	assert.InDelta(t, 100000.0, e.Equity(), 100000.0*0.01)

	assert.Equal(t, 1, journal.executionCount())
	assert.Len(t, journal.decisions, 1)
	assert.Equal(t, models.ActionBuy, journal.decisions[0].Action)
}

func TestRunCycle_NoDecisionBelowAgreement(t *testing.T) {
	cfg := testConfig(t)
	e, journal := newTestEngine(t, cfg, buyFeed())

	e.Registry().Register(&fixedStrategy{id: "momentum", action: models.ActionBuy, confidence: 0.9})
	e.Registry().Register(&fixedStrategy{id: "meanrev", action: models.ActionSell, confidence: 0.9})
	e.Allocator().Restore(map[string]float64{"momentum": 0.5, "meanrev": 0.5})

	err := e.RunCycle(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNoDecision)
	assert.Equal(t, 0, journal.executionCount())
}

func TestRunCycle_SkipsWhenInFlight(t *testing.T) {
	cfg := testConfig(t)
	e, _ := newTestEngine(t, cfg, buyFeed())

	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	err := e.RunCycle(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrCycleInFlight)
}

func TestRunCycle_HaltedInRed(t *testing.T) {
	cfg := testConfig(t)
	e, journal := newTestEngine(t, cfg, buyFeed())
	registerBuyers(e)

	// Drive the governor to RED via a 20% drawdown.
	e.Governor().Evaluate(100000)
	e.Governor().Evaluate(80000)
	require.Equal(t, models.RiskRed, e.Governor().Status().State)

	err := e.RunCycle(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrTradingHalted)
	assert.Equal(t, 0, journal.executionCount())
}

func TestRunCycle_NoDecisionStillEvaluatesRisk(t *testing.T) {
	cfg := testConfig(t)
	e, _ := newTestEngine(t, cfg, buyFeed())
	registerBuyers(e)

	require.NoError(t, e.RunCycle(context.Background()))
	require.Len(t, e.Positions(), 1)

	// Strategies go quiet, then the market craters the held position.
	e.Registry().Unregister("momentum")
	e.Registry().Unregister("meanrev")
	e.Registry().Unregister("breakout")
	e.markPrice("BTC-USD", 5000)

	err := e.RunCycle(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNoDecision)

	// The decision-less cycle still steps the governor against current
	// equity.
	status := e.Governor().Status()
	assert.Greater(t, status.DrawdownPct, 0.0)
	assert.InDelta(t, (100000.0-e.Equity())/100000.0, status.DrawdownPct, 0.001)
}

func TestRunCycle_NoDecisionConsumesForcedEscalation(t *testing.T) {
	cfg := testConfig(t)
	e, _ := newTestEngine(t, cfg, buyFeed())

	e.Governor().ForceEscalation(models.RiskYellow2, 30*time.Minute)
	require.Equal(t, models.RiskGreen, e.Governor().Status().State)

	err := e.RunCycle(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNoDecision)
	assert.Equal(t, models.RiskYellow2, e.Governor().Status().State)
}

func TestRunCycle_CashCappedBuyJournaledAtSettledSize(t *testing.T) {
	cfg := testConfig(t)
	e, journal := newTestEngine(t, cfg, buyFeed())
	registerBuyers(e)

	// Nearly fully invested: sizing works off total equity, so the next
	// buy wants far more notional than the remaining cash.
	e.portfolioMu.Lock()
	e.cash = 1000
	e.positions["BTC-USD"] = &models.Position{
		Symbol: "BTC-USD", Quantity: 2.0, AveragePrice: 50000, LastPrice: 50000,
	}
	e.portfolioMu.Unlock()

	require.NoError(t, e.RunCycle(context.Background()))
	require.Equal(t, 1, journal.executionCount())

	// The journaled row carries the cash-capped fill, not the requested
	// one.
	exec := journal.executions[0]
	assert.InDelta(t, 1000.0, exec.FilledSize*exec.ExecutionPrice, 1e-6)
	assert.Less(t, exec.FilledSize, exec.RequestedSize)
	assert.InDelta(t, exec.FilledSize/exec.RequestedSize, exec.FillRatio, 1e-9)
	assert.InDelta(t, 0.0, e.Cash(), 1e-6)
}

func TestRunCycle_SellWithoutPositionIsDropped(t *testing.T) {
	cfg := testConfig(t)
	e, journal := newTestEngine(t, cfg, buyFeed())

	e.Registry().Register(&fixedStrategy{id: "a", action: models.ActionSell, confidence: 0.8})
	e.Registry().Register(&fixedStrategy{id: "b", action: models.ActionSell, confidence: 0.7})
	e.Registry().Register(&fixedStrategy{id: "c", action: models.ActionSell, confidence: 0.9})
	e.Allocator().Restore(map[string]float64{"a": 0.4, "b": 0.3, "c": 0.3})

	require.NoError(t, e.RunCycle(context.Background()))

	assert.Empty(t, e.Positions())
	assert.Equal(t, 100000.0, e.Cash())
	assert.Equal(t, 0, journal.executionCount())
	assert.Len(t, journal.decisions, 1)
}

func TestBuyThenSell_RealizesPnL(t *testing.T) {
	cfg := testConfig(t)
	feed := buyFeed()
	e, journal := newTestEngine(t, cfg, feed)
	registerBuyers(e)

	require.NoError(t, e.RunCycle(context.Background()))
	require.Len(t, e.Positions(), 1)

	// Flip the ensemble to SELL at a higher market.
	e.Registry().Unregister("momentum")
	e.Registry().Unregister("meanrev")
	e.Registry().Unregister("breakout")
	e.Registry().Register(&fixedStrategy{id: "momentum", action: models.ActionSell, confidence: 0.8})
	e.Registry().Register(&fixedStrategy{id: "meanrev", action: models.ActionSell, confidence: 0.6})
	e.Registry().Register(&fixedStrategy{id: "breakout", action: models.ActionSell, confidence: 0.7})

	feed.SetSnapshot(models.MarketSnapshot{
		Symbol:      "BTC-USD",
		MidPrice:    55000,
		Volatility:  0.02,
		DailyVolume: 1_000_000,
		Timestamp:   time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC),
	})

	require.NoError(t, e.RunCycle(context.Background()))
	assert.Equal(t, 2, journal.executionCount())
	assert.Greater(t, e.Equity(), 100000.0, "selling into a rally realizes a gain")
}

func TestRecover_RestoresPortfolioAndRisk(t *testing.T) {
	cfg := testConfig(t)

	checkpoints, err := store.NewFileCheckpointStore(
		cfg.Checkpoint.Dir, cfg.Checkpoint.MaxRetries,
		cfg.Checkpoint.EquityTolerance, cfg.Checkpoint.RetainCount, zerolog.Nop())
	require.NoError(t, err)

	cp := models.Checkpoint{
		Timestamp: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		Cash:      40000,
		Equity:    100000,
		Positions: []models.Position{
			{Symbol: "BTC-USD", Quantity: 1.2, AveragePrice: 48000, LastPrice: 50000},
		},
		RiskState:         models.RiskYellow1,
		DrawdownPct:       0.06,
		CooldownUntil:     time.Now().Add(30 * time.Minute),
		AllocationWeights: map[string]float64{"momentum": 0.6, "meanrev": 0.4},
	}
	require.NoError(t, checkpoints.Save(cp))

	e := New(cfg, buyFeed(), checkpoints, &memJournal{}, nil, zerolog.Nop())
	require.NoError(t, e.Recover(context.Background()))

	assert.Equal(t, 40000.0, e.Cash())
	assert.InDelta(t, 100000.0, e.Equity(), 0.01)
	assert.Equal(t, models.RiskYellow1, e.Governor().Status().State)
	assert.Equal(t, map[string]float64{"momentum": 0.6, "meanrev": 0.4}, e.Allocator().Weights())
	// Peak equity implied by equity and drawdown.
	assert.InDelta(t, 100000.0/0.94, e.Governor().PeakEquity(), 0.01)
}

func TestRecover_FreshStart(t *testing.T) {
	cfg := testConfig(t)
	e, _ := newTestEngine(t, cfg, buyFeed())

	require.NoError(t, e.Recover(context.Background()))
	assert.Equal(t, 100000.0, e.Cash())
	assert.Empty(t, e.Positions())
}

func TestForceClose_ReducesExposure(t *testing.T) {
	cfg := testConfig(t)
	e, _ := newTestEngine(t, cfg, buyFeed())
	registerBuyers(e)

	require.NoError(t, e.RunCycle(context.Background()))
	positions := e.Positions()
	require.Len(t, positions, 1)
	before := positions[0].Quantity

	e.forceClose("BTC-USD", 0.5)
	positions = e.Positions()
	require.Len(t, positions, 1)
	assert.InDelta(t, before*0.5, positions[0].Quantity, 1e-9)

	e.forceClose("BTC-USD", 1.0)
	assert.Empty(t, e.Positions())
}

func TestStatus_Snapshot(t *testing.T) {
	cfg := testConfig(t)
	e, _ := newTestEngine(t, cfg, buyFeed())
	registerBuyers(e)

	status := e.Status()
	assert.Equal(t, "BTC-USD", status.Symbol)
	assert.Equal(t, 100000.0, status.Equity)
	assert.Equal(t, models.RiskGreen, status.Risk.State)
	assert.Equal(t, []string{"breakout", "meanrev", "momentum"}, status.Strategies)
}
