// Package config provides configuration management for the ensemble engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Engine      EngineConfig      `mapstructure:"engine"`
	Aggregator  AggregatorConfig  `mapstructure:"aggregator"`
	Allocation  AllocationConfig  `mapstructure:"allocation"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Liquidation LiquidationConfig `mapstructure:"liquidation"`
	Execution   ExecutionConfig   `mapstructure:"execution"`
	Checkpoint  CheckpointConfig  `mapstructure:"checkpoint"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// EngineConfig holds pipeline-level configuration.
type EngineConfig struct {
	Symbol        string        `mapstructure:"symbol"`
	CycleInterval time.Duration `mapstructure:"cycle_interval"`
	InitialEquity float64       `mapstructure:"initial_equity"`
}

// AggregatorConfig holds signal aggregation configuration.
type AggregatorConfig struct {
	Method        string  `mapstructure:"method"` // weighted_average, majority_vote, confidence_blend
	MinAgreement  int     `mapstructure:"min_agreement"`
	MinConfidence float64 `mapstructure:"min_confidence"`
}

// AllocationConfig holds capital allocation configuration.
type AllocationConfig struct {
	SharpeLookback     int           `mapstructure:"sharpe_lookback"`
	SmoothingAlpha     float64       `mapstructure:"smoothing_alpha"`
	MinWeight          float64       `mapstructure:"min_weight"`
	MaxWeight          float64       `mapstructure:"max_weight"`
	HealthThreshold    float64       `mapstructure:"health_threshold"`
	UnhealthyDaysLimit int           `mapstructure:"unhealthy_days_limit"`
	RecomputeInterval  time.Duration `mapstructure:"recompute_interval"`
}

// CorrelationConfig holds correlation tracker configuration.
type CorrelationConfig struct {
	Window            int           `mapstructure:"window"`
	RecomputeInterval time.Duration `mapstructure:"recompute_interval"`
}

// RiskConfig holds circuit breaker and position sizing configuration.
type RiskConfig struct {
	Yellow1DrawdownPct   float64       `mapstructure:"yellow1_drawdown_pct"`
	Yellow2DrawdownPct   float64       `mapstructure:"yellow2_drawdown_pct"`
	RedDrawdownPct       float64       `mapstructure:"red_drawdown_pct"`
	Cooldown             time.Duration `mapstructure:"cooldown"`
	KellyMultiplier      float64       `mapstructure:"kelly_multiplier"`
	WinProbabilityFloor  float64       `mapstructure:"win_probability_floor"`
	CorrelationThreshold float64       `mapstructure:"correlation_threshold"`
	MinPositionPct       float64       `mapstructure:"min_position_pct"`
	MaxPositionPct       float64       `mapstructure:"max_position_pct"`
}

// LiquidationConfig holds cascade detection configuration.
type LiquidationConfig struct {
	VolumeSpikeThreshold float64       `mapstructure:"volume_spike_threshold"`
	PriceDropThreshold   float64       `mapstructure:"price_drop_threshold"`
	PriceDropWindow      time.Duration `mapstructure:"price_drop_window"`
	SeverityDivisor      float64       `mapstructure:"severity_divisor"`
	BlockBand            float64       `mapstructure:"block_band"`
	ReduceBand           float64       `mapstructure:"reduce_band"`
	CloseBand            float64       `mapstructure:"close_band"`
	EscalationHold       time.Duration `mapstructure:"escalation_hold"`
	ScanInterval         time.Duration `mapstructure:"scan_interval"`
}

// ExecutionConfig holds execution simulation configuration.
type ExecutionConfig struct {
	BaseSlippageBps   float64 `mapstructure:"base_slippage_bps"`
	NoiseMin          float64 `mapstructure:"noise_min"`
	NoiseMax          float64 `mapstructure:"noise_max"`
	MaxSpreadBps      float64 `mapstructure:"max_spread_bps"`
	MaxImpactBps      float64 `mapstructure:"max_impact_bps"`
	LiquidityFraction float64 `mapstructure:"liquidity_fraction"`
	FillRatioFloor    float64 `mapstructure:"fill_ratio_floor"`
	Seed              int64   `mapstructure:"seed"`
}

// CheckpointConfig holds state store configuration.
type CheckpointConfig struct {
	Dir             string        `mapstructure:"dir"`
	JournalPath     string        `mapstructure:"journal_path"`
	Interval        time.Duration `mapstructure:"interval"`
	MaxRetries      int           `mapstructure:"max_retries"`
	EquityTolerance float64       `mapstructure:"equity_tolerance"`
	RetainCount     int           `mapstructure:"retain_count"`
}

// MetricsConfig holds the Prometheus exposition configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/ensemble-trader"
	}
	return filepath.Join(home, ".config", "ensemble-trader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		// Missing config file falls back to defaults; write a template so
		// the knobs are discoverable.
		if err := createTemplateConfig(configDir); err != nil {
			return nil, fmt.Errorf("writing config template: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration with every knob at its default value.
func Default() *Config {
	v := viper.New()
	setDefaults(v, DefaultConfigDir())
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("engine.symbol", "BTC-USD")
	v.SetDefault("engine.cycle_interval", time.Minute)
	v.SetDefault("engine.initial_equity", 100000.0)

	v.SetDefault("aggregator.method", "weighted_average")
	v.SetDefault("aggregator.min_agreement", 3)
	v.SetDefault("aggregator.min_confidence", 0.5)

	v.SetDefault("allocation.sharpe_lookback", 20)
	v.SetDefault("allocation.smoothing_alpha", 0.7)
	v.SetDefault("allocation.min_weight", 0.01)
	v.SetDefault("allocation.max_weight", 0.25)
	v.SetDefault("allocation.health_threshold", 0.0)
	v.SetDefault("allocation.unhealthy_days_limit", 5)
	v.SetDefault("allocation.recompute_interval", 24*time.Hour)

	v.SetDefault("correlation.window", 60)
	v.SetDefault("correlation.recompute_interval", time.Hour)

	v.SetDefault("risk.yellow1_drawdown_pct", 0.05)
	v.SetDefault("risk.yellow2_drawdown_pct", 0.10)
	v.SetDefault("risk.red_drawdown_pct", 0.15)
	v.SetDefault("risk.cooldown", 30*time.Minute)
	v.SetDefault("risk.kelly_multiplier", 0.25)
	v.SetDefault("risk.win_probability_floor", 0.55)
	v.SetDefault("risk.correlation_threshold", 0.7)
	v.SetDefault("risk.min_position_pct", 0.01)
	v.SetDefault("risk.max_position_pct", 0.15)

	v.SetDefault("liquidation.volume_spike_threshold", 3.0)
	v.SetDefault("liquidation.price_drop_threshold", 0.02)
	v.SetDefault("liquidation.price_drop_window", 5*time.Minute)
	v.SetDefault("liquidation.severity_divisor", 10.0)
	v.SetDefault("liquidation.block_band", 0.6)
	v.SetDefault("liquidation.reduce_band", 0.8)
	v.SetDefault("liquidation.close_band", 0.9)
	v.SetDefault("liquidation.escalation_hold", 30*time.Minute)
	v.SetDefault("liquidation.scan_interval", 15*time.Second)

	v.SetDefault("execution.base_slippage_bps", 15.0)
	v.SetDefault("execution.noise_min", 0.8)
	v.SetDefault("execution.noise_max", 1.2)
	v.SetDefault("execution.max_spread_bps", 50.0)
	v.SetDefault("execution.max_impact_bps", 100.0)
	v.SetDefault("execution.liquidity_fraction", 0.01)
	v.SetDefault("execution.fill_ratio_floor", 0.5)
	v.SetDefault("execution.seed", int64(1))

	v.SetDefault("checkpoint.dir", filepath.Join(configDir, "checkpoints"))
	v.SetDefault("checkpoint.journal_path", filepath.Join(configDir, "journal.db"))
	v.SetDefault("checkpoint.interval", 5*time.Minute)
	v.SetDefault("checkpoint.max_retries", 3)
	v.SetDefault("checkpoint.equity_tolerance", 0.01)
	v.SetDefault("checkpoint.retain_count", 48)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", ":9187")
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENGINE_SYMBOL"); v != "" {
		cfg.Engine.Symbol = v
	}
	if v := os.Getenv("ENGINE_CHECKPOINT_DIR"); v != "" {
		cfg.Checkpoint.Dir = v
	}
	if v := os.Getenv("ENGINE_METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
	}
	if v := os.Getenv("ENGINE_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Execution.Seed = seed
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Aggregator.Method != "weighted_average" && c.Aggregator.Method != "majority_vote" && c.Aggregator.Method != "confidence_blend" {
		return fmt.Errorf("invalid aggregator method: %s", c.Aggregator.Method)
	}
	if c.Aggregator.MinAgreement < 1 {
		return fmt.Errorf("min_agreement must be at least 1")
	}
	if c.Aggregator.MinConfidence < 0 || c.Aggregator.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be between 0 and 1")
	}

	if c.Allocation.SmoothingAlpha < 0 || c.Allocation.SmoothingAlpha > 1 {
		return fmt.Errorf("smoothing_alpha must be between 0 and 1")
	}
	if c.Allocation.MinWeight < 0 || c.Allocation.MaxWeight > 1 || c.Allocation.MinWeight > c.Allocation.MaxWeight {
		return fmt.Errorf("weight clip bounds invalid: [%.3f, %.3f]", c.Allocation.MinWeight, c.Allocation.MaxWeight)
	}
	if c.Allocation.SharpeLookback < 2 {
		return fmt.Errorf("sharpe_lookback must be at least 2")
	}

	if c.Correlation.Window < 2 {
		return fmt.Errorf("correlation window must be at least 2")
	}

	if !(c.Risk.Yellow1DrawdownPct < c.Risk.Yellow2DrawdownPct && c.Risk.Yellow2DrawdownPct < c.Risk.RedDrawdownPct) {
		return fmt.Errorf("drawdown thresholds must be strictly increasing")
	}
	if c.Risk.WinProbabilityFloor < 0.5 || c.Risk.WinProbabilityFloor > 1 {
		return fmt.Errorf("win_probability_floor must be between 0.5 and 1")
	}
	if c.Risk.MinPositionPct < 0 || c.Risk.MaxPositionPct > 1 || c.Risk.MinPositionPct > c.Risk.MaxPositionPct {
		return fmt.Errorf("position size bounds invalid: [%.3f, %.3f]", c.Risk.MinPositionPct, c.Risk.MaxPositionPct)
	}
	if c.Risk.KellyMultiplier <= 0 || c.Risk.KellyMultiplier > 1 {
		return fmt.Errorf("kelly_multiplier must be in (0, 1]")
	}

	if !(c.Liquidation.BlockBand < c.Liquidation.ReduceBand && c.Liquidation.ReduceBand < c.Liquidation.CloseBand) {
		return fmt.Errorf("liquidation bands must be strictly increasing")
	}
	if c.Liquidation.SeverityDivisor <= 0 {
		return fmt.Errorf("severity_divisor must be positive")
	}

	if c.Execution.NoiseMin <= 0 || c.Execution.NoiseMin > c.Execution.NoiseMax {
		return fmt.Errorf("noise range invalid: [%.2f, %.2f]", c.Execution.NoiseMin, c.Execution.NoiseMax)
	}
	if c.Execution.FillRatioFloor <= 0 || c.Execution.FillRatioFloor > 1 {
		return fmt.Errorf("fill_ratio_floor must be in (0, 1]")
	}
	if c.Execution.LiquidityFraction <= 0 {
		return fmt.Errorf("liquidity_fraction must be positive")
	}

	if c.Checkpoint.MaxRetries < 1 {
		return fmt.Errorf("checkpoint max_retries must be at least 1")
	}

	return nil
}
