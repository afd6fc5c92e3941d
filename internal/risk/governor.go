// Package risk provides the circuit breaker state machine, Kelly position
// sizing, and liquidation cascade monitoring.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ensemble-trader/internal/config"
	"ensemble-trader/internal/logging"
	"ensemble-trader/internal/models"
	"ensemble-trader/internal/stream"
)

// RiskView is the read-only accessor other components consume. The
// governor owns the risk state; readers never mutate it.
type RiskView interface {
	Status() models.RiskStatus
}

// forcedEscalation is a pending escalation requested by the liquidation
// monitor, consumed by the next Evaluate call.
type forcedEscalation struct {
	target models.RiskState
	until  time.Time
	active bool
}

// Governor owns the RiskState and is the only component that mutates it.
// Transitions go through the pure transition function; every change emits
// an alert and invokes the persistence hook.
type Governor struct {
	cfg    config.RiskConfig
	logger zerolog.Logger
	alerts stream.Sink
	clock  func() time.Time

	mu         sync.RWMutex
	status     models.RiskStatus
	peakEquity float64
	forced     forcedEscalation
	onChange   func(models.RiskStatus)
}

// NewGovernor creates a governor starting in GREEN.
func NewGovernor(cfg config.RiskConfig, alerts stream.Sink, logger zerolog.Logger) *Governor {
	return &Governor{
		cfg:    cfg,
		logger: logger.With().Str("component", "governor").Logger(),
		alerts: alerts,
		clock:  time.Now,
		status: models.RiskStatus{State: models.RiskGreen},
	}
}

// SetClock replaces the time source, used by tests.
func (g *Governor) SetClock(clock func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clock = clock
}

// SetOnChange sets a hook invoked with the new status after every
// transition, used to persist state changes.
func (g *Governor) SetOnChange(fn func(models.RiskStatus)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onChange = fn
}

// StateForDrawdown maps a drawdown fraction to the state it demands.
func StateForDrawdown(drawdownPct float64, cfg config.RiskConfig) models.RiskState {
	switch {
	case drawdownPct >= cfg.RedDrawdownPct:
		return models.RiskRed
	case drawdownPct >= cfg.Yellow2DrawdownPct:
		return models.RiskYellow2
	case drawdownPct >= cfg.Yellow1DrawdownPct:
		return models.RiskYellow1
	default:
		return models.RiskGreen
	}
}

// stepDown returns the next lower severity state.
func stepDown(s models.RiskState) models.RiskState {
	switch s {
	case models.RiskRed:
		return models.RiskYellow2
	case models.RiskYellow2:
		return models.RiskYellow1
	case models.RiskYellow1:
		return models.RiskGreen
	default:
		return models.RiskGreen
	}
}

// Transition is the pure state machine: given the current state, the
// measured drawdown, and an optional forced minimum severity, it returns
// the next state. Escalation is immediate and may skip levels;
// de-escalation happens one level at a time and only after the cooldown
// has elapsed.
func Transition(current models.RiskState, drawdownPct float64, forced models.RiskState, now, cooldownUntil time.Time, cfg config.RiskConfig) models.RiskState {
	target := StateForDrawdown(drawdownPct, cfg)
	if forced.Severity() > target.Severity() {
		target = forced
	}

	switch {
	case target.Severity() > current.Severity():
		return target
	case target.Severity() < current.Severity():
		if now.Before(cooldownUntil) {
			return current
		}
		return stepDown(current)
	default:
		return current
	}
}

// Evaluate updates the drawdown from the current equity and runs one
// transition, consuming any pending forced escalation. Returns the
// resulting status.
func (g *Governor) Evaluate(equity float64) models.RiskStatus {
	g.mu.Lock()

	if equity > g.peakEquity {
		g.peakEquity = equity
	}
	var drawdown float64
	if g.peakEquity > 0 {
		drawdown = (g.peakEquity - equity) / g.peakEquity
	}

	now := g.clock()

	// A forced escalation holds a minimum severity until its hold period
	// expires; it is consumed here, never blocking the monitor.
	forced := models.RiskGreen
	if g.forced.active {
		if now.Before(g.forced.until) {
			forced = g.forced.target
		} else {
			g.forced.active = false
		}
	}

	prev := g.status.State
	next := Transition(prev, drawdown, forced, now, g.status.CooldownUntil, g.cfg)

	g.status.DrawdownPct = drawdown
	changed := next != prev
	if changed {
		g.status.State = next
		g.status.ChangedAt = now
		// Every transition, escalation or not, restarts the
		// de-escalation cooldown.
		g.status.CooldownUntil = now.Add(g.cfg.Cooldown)
	}
	status := g.status
	onChange := g.onChange
	g.mu.Unlock()

	if changed {
		logging.LogRiskTransition(g.logger, prev, next, drawdown, forced.Severity() > 0)
		level := models.AlertWarning
		if next == models.RiskRed {
			level = models.AlertCritical
		} else if next.Severity() < prev.Severity() {
			level = models.AlertInfo
		}
		g.alerts.Emit(level, models.AlertCategoryRisk,
			fmt.Sprintf("risk state %s -> %s (drawdown %.2f%%)", prev, next, drawdown*100))
		if onChange != nil {
			onChange(status)
		}
	}
	return status
}

// ForceEscalation requests an immediate escalation to at least the target
// state for the given hold period. Fire-and-forget: the flag is consumed
// by the next Evaluate call.
func (g *Governor) ForceEscalation(target models.RiskState, hold time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	until := g.clock().Add(hold)
	if g.forced.active && g.forced.target.Severity() >= target.Severity() && g.forced.until.After(until) {
		return
	}
	g.forced = forcedEscalation{target: target, until: until, active: true}
}

// ManualRelease steps a RED state down to YELLOW_2 regardless of
// drawdown, for operator intervention. The cooldown restarts.
func (g *Governor) ManualRelease() bool {
	g.mu.Lock()
	if g.status.State != models.RiskRed {
		g.mu.Unlock()
		return false
	}
	now := g.clock()
	g.status.State = models.RiskYellow2
	g.status.ChangedAt = now
	g.status.CooldownUntil = now.Add(g.cfg.Cooldown)
	status := g.status
	onChange := g.onChange
	g.mu.Unlock()

	g.alerts.Emit(models.AlertWarning, models.AlertCategoryRisk, "manual release: RED -> YELLOW_2")
	if onChange != nil {
		onChange(status)
	}
	return true
}

// Status returns the current risk status snapshot.
func (g *Governor) Status() models.RiskStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

// PeakEquity returns the equity high-water mark.
func (g *Governor) PeakEquity() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.peakEquity
}

// Restore replaces the governor state from a recovered checkpoint.
func (g *Governor) Restore(state models.RiskState, drawdownPct float64, cooldownUntil time.Time, peakEquity float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.status = models.RiskStatus{
		State:         state,
		DrawdownPct:   drawdownPct,
		CooldownUntil: cooldownUntil,
		ChangedAt:     g.clock(),
	}
	g.peakEquity = peakEquity
}
