// Package logging provides structured logging functionality.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"ensemble-trader/internal/models"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "ensemble-trader", "logs", "engine.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	// Console writer
	if cfg.Console {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				if ll, ok := i.(string); ok {
					switch ll {
					case "debug":
						return "\033[36mDBG\033[0m"
					case "info":
						return "\033[32mINF\033[0m"
					case "warn":
						return "\033[33mWRN\033[0m"
					case "error":
						return "\033[31mERR\033[0m"
					default:
						return ll
					}
				}
				return "???"
			},
		}
		writers = append(writers, consoleWriter)
	}

	// File writer with rotation
	if cfg.File {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			fileWriter := &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			}
			writers = append(writers, fileWriter)
		}
	}

	var writer io.Writer
	if len(writers) == 0 {
		writer = os.Stdout
	} else if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = zerolog.MultiLevelWriter(writers...)
	}

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Logger()

	return logger
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// SetInfoLevel sets the global log level to info.
func SetInfoLevel() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// ContextKey is the type for context keys.
type ContextKey string

const (
	// LoggerKey is the context key for the logger.
	LoggerKey ContextKey = "logger"
	// CycleIDKey is the context key for the decision cycle ID.
	CycleIDKey ContextKey = "cycle_id"
	// SymbolKey is the context key for symbol.
	SymbolKey ContextKey = "symbol"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from context.
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// WithSymbol adds a symbol to the logger context.
func WithSymbol(logger zerolog.Logger, symbol string) zerolog.Logger {
	return logger.With().Str("symbol", symbol).Logger()
}

// WithStrategy adds a strategy ID to the logger context.
func WithStrategy(logger zerolog.Logger, strategyID string) zerolog.Logger {
	return logger.With().Str("strategy", strategyID).Logger()
}

// WithComponent adds a component name to the logger context.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// LogDecision logs an ensemble decision.
func LogDecision(logger zerolog.Logger, decision models.EnsembleDecision) {
	logger.Info().
		Str("event", "decision").
		Str("decision_id", decision.ID).
		Str("action", string(decision.Action)).
		Float64("confidence", decision.Confidence).
		Str("method", string(decision.Method)).
		Int("contributing", len(decision.Contributing)).
		Msg("Ensemble decision")
}

// LogRiskTransition logs a risk state change.
func LogRiskTransition(logger zerolog.Logger, from, to models.RiskState, drawdownPct float64, forced bool) {
	logger.Warn().
		Str("event", "risk_transition").
		Str("from", string(from)).
		Str("to", string(to)).
		Float64("drawdown_pct", drawdownPct).
		Bool("forced", forced).
		Msg("Risk state transition")
}

// LogSizeClamp logs a routine position size reduction at informational
// severity. Clamping is an expected outcome, not a failure.
func LogSizeClamp(logger zerolog.Logger, reason string, before, after float64) {
	logger.Info().
		Str("event", "size_clamp").
		Str("reason", reason).
		Float64("before", before).
		Float64("after", after).
		Msg("Position size clamped")
}

// LogExecution logs a simulated execution result.
func LogExecution(logger zerolog.Logger, result models.ExecutionResult) {
	logger.Info().
		Str("event", "execution").
		Str("symbol", result.Symbol).
		Str("side", string(result.Side)).
		Float64("requested", result.RequestedSize).
		Float64("filled", result.FilledSize).
		Float64("fill_ratio", result.FillRatio).
		Float64("price", result.ExecutionPrice).
		Float64("slippage_bps", result.SlippageBps).
		Msg("Execution simulated")
}

// LogCascade logs a liquidation cascade assessment that crossed a trigger
// band.
func LogCascade(logger zerolog.Logger, a models.CascadeAssessment) {
	logger.Warn().
		Str("event", "cascade").
		Str("symbol", a.Symbol).
		Float64("volume_spike", a.VolumeSpike).
		Float64("price_drop", a.PriceDrop).
		Float64("probability", a.Probability).
		Str("response", string(a.Response)).
		Msg("Liquidation cascade detected")
}

// LogCheckpoint logs a checkpoint write.
func LogCheckpoint(logger zerolog.Logger, equity float64, positions int, duration time.Duration, err error) {
	event := logger.Debug().
		Str("event", "checkpoint").
		Float64("equity", equity).
		Int("positions", positions).
		Dur("duration", duration)

	if err != nil {
		event.Err(err).Msg("Checkpoint write failed")
	} else {
		event.Msg("Checkpoint written")
	}
}
