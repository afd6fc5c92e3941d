package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Ensemble Trader Configuration
# Every threshold below is a tunable knob; the shipped values are the
# engine defaults, not recommendations.

[engine]
# Symbol the pipeline trades
symbol = "BTC-USD"
# Decision cycle interval (e.g., "1m", "30s")
cycle_interval = "1m"
# Starting equity for a fresh portfolio
initial_equity = 100000.0

[aggregator]
# Combination method: weighted_average, majority_vote, confidence_blend
method = "weighted_average"
# Minimum number of agreeing strategies for a decision
min_agreement = 3
# Minimum aggregate confidence for a decision
min_confidence = 0.5

[allocation]
# Trailing Sharpe lookback in periods
sharpe_lookback = 20
# Exponential smoothing factor against the previous smoothed Sharpe
smoothing_alpha = 0.7
# Per-strategy weight clip bounds
min_weight = 0.01
max_weight = 0.25
# Smoothed Sharpe below this for unhealthy_days_limit consecutive days
# disables a strategy until it requalifies
health_threshold = 0.0
unhealthy_days_limit = 5
# Weight recompute cadence
recompute_interval = "24h"

[correlation]
# Rolling return window per strategy
window = 60
# Matrix recompute cadence
recompute_interval = "1h"

[risk]
# Drawdown thresholds for circuit breaker escalation
yellow1_drawdown_pct = 0.05
yellow2_drawdown_pct = 0.10
red_drawdown_pct = 0.15
# De-escalation cooldown after any transition
cooldown = "30m"
# Conservative multiplier applied to full Kelly
kelly_multiplier = 0.25
# Win probability below this forces size to zero
win_probability_floor = 0.55
# Portfolio correlation above this scales size down
correlation_threshold = 0.7
# Final position size clip bounds (fraction of equity)
min_position_pct = 0.01
max_position_pct = 0.15

[liquidation]
# Cascade flagged when both thresholds are crossed
volume_spike_threshold = 3.0
price_drop_threshold = 0.02
# Lookback for the price drop measurement
price_drop_window = "5m"
# severity / severity_divisor maps to probability (capped at 1.0)
severity_divisor = 10.0
# Probability bands for graded responses
block_band = 0.6
reduce_band = 0.8
close_band = 0.9
# Forced escalation hold period
escalation_hold = "30m"
# Scan cadence (runs much tighter than the decision cycle)
scan_interval = "15s"

[execution]
# Base slippage in basis points
base_slippage_bps = 15.0
# Bounded random multiplier range for slippage terms
noise_min = 0.8
noise_max = 1.2
# Spread estimate cap
max_spread_bps = 50.0
# Square-root market impact cap (100 bps = 1%)
max_impact_bps = 100.0
# Fraction of daily volume assumed available per order
liquidity_fraction = 0.01
# Partial fills never go below this ratio
fill_ratio_floor = 0.5
# RNG seed for reproducible backtests
seed = 1

[checkpoint]
# Directory for checkpoint files (atomic write-replace)
# dir = "~/.config/ensemble-trader/checkpoints"
# SQLite journal for executions, decisions and alerts
# journal_path = "~/.config/ensemble-trader/journal.db"
# Periodic checkpoint interval
interval = "5m"
# Bounded retries when recovering from corrupt checkpoints
max_retries = 3
# Tolerance for the equity = cash + positions consistency check
equity_tolerance = 0.01
# Number of checkpoint files retained
retain_count = 48

[metrics]
# Prometheus exposition for the dashboard layer
enabled = true
listen = ":9187"
`

// createTemplateConfig writes a commented config template on first run.
func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	return os.WriteFile(path, []byte(configTemplate), 0644)
}
