// Package store provides checkpoint persistence and the trade journal.
package store

import (
	"context"
	"time"

	"ensemble-trader/internal/models"
)

// CheckpointStore persists durable state snapshots. Writes are atomic
// relative to reads: a crash mid-write never corrupts the last good
// checkpoint.
type CheckpointStore interface {
	// Save writes a checkpoint via write-to-temp + atomic rename.
	Save(cp models.Checkpoint) error
	// Recover loads the newest consistent checkpoint, falling back to
	// older ones within the bounded retry budget. Exhausting the budget
	// returns ErrRecoveryExhausted; an empty store returns
	// ErrCheckpointNotFound.
	Recover(ctx context.Context) (models.Checkpoint, error)
	// LoadAt reads the checkpoint written at the given timestamp.
	LoadAt(ts time.Time) (models.Checkpoint, error)
	// Timestamps lists available checkpoint times, newest first.
	Timestamps() ([]time.Time, error)
}

// Journal records executions, decisions and alerts for the reporting
// layer.
type Journal interface {
	SaveExecution(ctx context.Context, result models.ExecutionResult) error
	SaveDecision(ctx context.Context, decision models.EnsembleDecision) error
	SaveAlert(ctx context.Context, alert models.Alert) error

	GetExecutions(ctx context.Context, filter ExecutionFilter) ([]models.ExecutionResult, error)
	GetDecisions(ctx context.Context, filter DecisionFilter) ([]models.EnsembleDecision, error)
	GetAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error)
	LatestExecution(ctx context.Context) (*models.ExecutionResult, error)

	Close() error
}

// ExecutionFilter represents filters for querying executions.
type ExecutionFilter struct {
	Symbol    string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

// DecisionFilter represents filters for querying decisions.
type DecisionFilter struct {
	Action    models.Action
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

// AlertFilter represents filters for querying alerts.
type AlertFilter struct {
	Level     models.AlertLevel
	Category  models.AlertCategory
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}
