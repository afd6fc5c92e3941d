package ensemble

import (
	"context"
	"fmt"
	"math"
	"time"

	"ensemble-trader/internal/marketdata"
	"ensemble-trader/internal/models"
	"ensemble-trader/pkg/utils"
)

// Deadband below which a trend source votes HOLD, and the deviation scale
// mapping price displacement to confidence above the 0.5 floor.
const (
	trendDeadband        = 0.0005
	trendConfidenceScale = 50.0
	trendMaxConfidence   = 0.95
)

// TrendSource is a minimal paper-run signal producer. It tracks the mid
// price over a rolling lookback and votes with the displacement from the
// window mean: above means BUY, below means SELL, inside the deadband
// means HOLD. It exists so the shipped binary has signal producers to
// aggregate; it is not a strategy recommendation.
type TrendSource struct {
	id       string
	feed     marketdata.Feed
	symbol   string
	lookback int
	window   *marketdata.RollingWindow
}

// NewTrendSource creates a trend source over the given price lookback.
func NewTrendSource(id string, feed marketdata.Feed, symbol string, lookback int) *TrendSource {
	return &TrendSource{
		id:       id,
		feed:     feed,
		symbol:   symbol,
		lookback: lookback,
		window:   marketdata.NewRollingWindow(lookback),
	}
}

// StrategyID implements SignalSource.
func (s *TrendSource) StrategyID() string { return s.id }

// EmitSignal implements SignalSource. Until the lookback window fills the
// source abstains by returning an error.
func (s *TrendSource) EmitSignal(ctx context.Context) (models.StrategySignal, error) {
	snapshot, err := s.feed.Snapshot(ctx, s.symbol)
	if err != nil {
		return models.StrategySignal{}, fmt.Errorf("trend source snapshot: %w", err)
	}

	s.window.Add(snapshot.MidPrice)
	if s.window.Len() < s.lookback {
		return models.StrategySignal{}, fmt.Errorf("warming up: %d/%d samples", s.window.Len(), s.lookback)
	}

	mean := s.window.Mean()
	if mean <= 0 {
		return models.StrategySignal{}, fmt.Errorf("degenerate price window for %s", s.symbol)
	}
	dev := (snapshot.MidPrice - mean) / mean

	action := models.ActionHold
	switch {
	case dev > trendDeadband:
		action = models.ActionBuy
	case dev < -trendDeadband:
		action = models.ActionSell
	}

	return models.StrategySignal{
		StrategyID: s.id,
		Action:     action,
		Confidence: utils.Clamp(0.5+math.Abs(dev)*trendConfidenceScale, 0.5, trendMaxConfidence),
		Timestamp:  time.Now(),
	}, nil
}

var _ SignalSource = (*TrendSource)(nil)
