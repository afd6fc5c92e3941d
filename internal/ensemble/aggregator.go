// Package ensemble combines per-strategy trade signals into a single
// ensemble decision.
package ensemble

import (
	"time"

	"github.com/google/uuid"

	"ensemble-trader/internal/config"
	"ensemble-trader/internal/models"
)

// Aggregator combines a snapshot of strategy signals into one decision.
// Pure: no side effects, output depends only on inputs.
type Aggregator struct {
	method        models.CombineMethod
	minAgreement  int
	minConfidence float64
}

// NewAggregator creates an aggregator from configuration.
func NewAggregator(cfg config.AggregatorConfig) *Aggregator {
	return &Aggregator{
		method:        models.CombineMethod(cfg.Method),
		minAgreement:  cfg.MinAgreement,
		minConfidence: cfg.MinConfidence,
	}
}

// Combine merges the cycle's signals into one EnsembleDecision using the
// configured method and allocation weights. Returns nil when no decision
// clears the agreement and confidence gates; a nil decision is equivalent
// to HOLD. Malformed signals are dropped as abstains.
func (a *Aggregator) Combine(signals []models.StrategySignal, weights map[string]float64) *models.EnsembleDecision {
	valid := make([]models.StrategySignal, 0, len(signals))
	for _, s := range signals {
		if s.Valid() {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	var winner models.Action
	var found bool
	switch a.method {
	case models.CombineMajorityVote:
		winner, found = majorityVote(valid)
	case models.CombineConfidenceBlend:
		winner, found = confidenceBlend(valid, weights)
	default:
		winner, found = weightedAverage(valid, weights)
	}
	if !found {
		return nil
	}

	// Aggregate confidence and contributors come from the signals that
	// agree with the winner, in input order.
	agreeing := make([]models.StrategySignal, 0, len(valid))
	for _, s := range valid {
		if s.Action == winner {
			agreeing = append(agreeing, s)
		}
	}
	if len(agreeing) < a.minAgreement {
		return nil
	}

	var confidence float64
	if a.method == models.CombineMajorityVote {
		confidence = meanConfidence(agreeing)
	} else {
		confidence = weightedMeanConfidence(agreeing, weights)
	}
	if confidence < a.minConfidence {
		return nil
	}

	return &models.EnsembleDecision{
		ID:           uuid.NewString(),
		Action:       winner,
		Confidence:   confidence,
		Contributing: agreeing,
		Method:       a.method,
		Timestamp:    time.Now(),
	}
}

// weightedAverage picks the action with the highest total weight mass.
func weightedAverage(signals []models.StrategySignal, weights map[string]float64) (models.Action, bool) {
	mass := make(map[models.Action]float64, 3)
	for _, s := range signals {
		mass[s.Action] += weights[s.StrategyID]
	}
	return argmax(mass)
}

// majorityVote picks the modal action, breaking ties by total confidence.
func majorityVote(signals []models.StrategySignal) (models.Action, bool) {
	counts := make(map[models.Action]int, 3)
	confidence := make(map[models.Action]float64, 3)
	for _, s := range signals {
		counts[s.Action]++
		confidence[s.Action] += s.Confidence
	}

	var winner models.Action
	best, bestConf := 0, -1.0
	for _, action := range []models.Action{models.ActionBuy, models.ActionSell, models.ActionHold} {
		n, ok := counts[action]
		if !ok {
			continue
		}
		if n > best || (n == best && confidence[action] > bestConf) {
			winner, best, bestConf = action, n, confidence[action]
		}
	}
	return winner, best > 0
}

// confidenceBlend picks the action with the highest weight x confidence
// score.
func confidenceBlend(signals []models.StrategySignal, weights map[string]float64) (models.Action, bool) {
	score := make(map[models.Action]float64, 3)
	for _, s := range signals {
		score[s.Action] += weights[s.StrategyID] * s.Confidence
	}
	return argmax(score)
}

func argmax(scores map[models.Action]float64) (models.Action, bool) {
	var winner models.Action
	best := 0.0
	// Fixed iteration order keeps ties deterministic.
	for _, action := range []models.Action{models.ActionBuy, models.ActionSell, models.ActionHold} {
		if s, ok := scores[action]; ok && s > best {
			winner, best = action, s
		}
	}
	return winner, best > 0
}

func meanConfidence(signals []models.StrategySignal) float64 {
	if len(signals) == 0 {
		return 0
	}
	var sum float64
	for _, s := range signals {
		sum += s.Confidence
	}
	return sum / float64(len(signals))
}

func weightedMeanConfidence(signals []models.StrategySignal, weights map[string]float64) float64 {
	var sum, totalWeight float64
	for _, s := range signals {
		w := weights[s.StrategyID]
		sum += w * s.Confidence
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}
	return sum / totalWeight
}
