// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrTradingHalted      = errors.New("trading halted: risk state RED")
	ErrNoDecision         = errors.New("no ensemble decision this cycle")
	ErrCycleInFlight      = errors.New("decision cycle already in flight")
	ErrCheckpointNotFound = errors.New("no checkpoint available")
	ErrCheckpointCorrupt  = errors.New("checkpoint failed consistency check")
	ErrRecoveryExhausted  = errors.New("checkpoint recovery retries exhausted")
	ErrStrategyNotFound   = errors.New("strategy not registered")
	ErrConfigInvalid      = errors.New("invalid configuration")
	ErrDatabaseError      = errors.New("database error")
	ErrFeedUnavailable    = errors.New("market data feed unavailable")
)

// SignalError represents a malformed or rejected strategy signal. Signals
// carrying this error are dropped as abstains, never aborting the cycle.
type SignalError struct {
	StrategyID string
	Reason     string
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("signal error [%s]: %s", e.StrategyID, e.Reason)
}

// NewSignalError creates a new SignalError.
func NewSignalError(strategyID, reason string) *SignalError {
	return &SignalError{StrategyID: strategyID, Reason: reason}
}

// CheckpointError represents a failure reading or writing a checkpoint.
type CheckpointError struct {
	Path      string
	Operation string
	Err       error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint error [%s] %s: %v", e.Operation, e.Path, e.Err)
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}

// NewCheckpointError creates a new CheckpointError.
func NewCheckpointError(operation, path string, err error) *CheckpointError {
	return &CheckpointError{Path: path, Operation: operation, Err: err}
}

// DataError represents a data-quality problem in a market data stream.
type DataError struct {
	Source  string
	Symbol  string
	Message string
	Err     error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.Source, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.Source, e.Symbol, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(source, symbol, message string, err error) *DataError {
	return &DataError{Source: source, Symbol: symbol, Message: message, Err: err}
}

// RiskError represents a risk limit violation surfaced to a caller. Routine
// clamping inside the governor is not an error; this type is reserved for
// callers asking for something the state machine forbids outright.
type RiskError struct {
	Rule    string
	Current float64
	Limit   float64
	Message string
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk violation [%s]: %s (current: %.4f, limit: %.4f)", e.Rule, e.Message, e.Current, e.Limit)
}

// NewRiskError creates a new RiskError.
func NewRiskError(rule string, current, limit float64, message string) *RiskError {
	return &RiskError{Rule: rule, Current: current, Limit: limit, Message: message}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
