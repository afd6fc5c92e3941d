package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ensemble-trader/internal/models"
)

// SQLiteJournal implements Journal using SQLite.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal creates a new SQLite-backed journal.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	journal := &SQLiteJournal{db: db}
	if err := journal.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return journal, nil
}

// initSchema creates all required tables and indexes.
func (j *SQLiteJournal) initSchema() error {
	schema := `
	-- Simulated executions, one row per submitted position size decision
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		requested_size REAL NOT NULL,
		filled_size REAL NOT NULL,
		fill_ratio REAL NOT NULL,
		execution_price REAL NOT NULL,
		slippage_bps REAL NOT NULL,
		spread_bps REAL NOT NULL,
		market_impact_bps REAL NOT NULL,
		decision_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Ensemble decisions, one row per cycle that produced one
	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		action TEXT NOT NULL,
		confidence REAL NOT NULL,
		method TEXT NOT NULL,
		contributing TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Alert events raised by the governor and liquidation monitor
	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		level TEXT NOT NULL,
		category TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_executions_symbol_time ON executions(symbol, timestamp);
	CREATE INDEX IF NOT EXISTS idx_decisions_time ON decisions(timestamp);
	CREATE INDEX IF NOT EXISTS idx_alerts_category_time ON alerts(category, timestamp);
	`

	_, err := j.db.Exec(schema)
	return err
}

// SaveExecution implements Journal.
func (j *SQLiteJournal) SaveExecution(ctx context.Context, r models.ExecutionResult) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO executions (id, timestamp, symbol, side, requested_size, filled_size,
			fill_ratio, execution_price, slippage_bps, spread_bps, market_impact_bps, decision_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Timestamp, r.Symbol, string(r.Side), r.RequestedSize, r.FilledSize,
		r.FillRatio, r.ExecutionPrice, r.SlippageBps, r.SpreadBps, r.MarketImpactBps, r.DecisionID)
	if err != nil {
		return fmt.Errorf("saving execution: %w", err)
	}
	return nil
}

// SaveDecision implements Journal. Contributing signals are stored as a
// JSON column.
func (j *SQLiteJournal) SaveDecision(ctx context.Context, d models.EnsembleDecision) error {
	contributing, err := json.Marshal(d.Contributing)
	if err != nil {
		return fmt.Errorf("encoding contributing signals: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO decisions (id, timestamp, action, confidence, method, contributing)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.Timestamp, string(d.Action), d.Confidence, string(d.Method), string(contributing))
	if err != nil {
		return fmt.Errorf("saving decision: %w", err)
	}
	return nil
}

// SaveAlert implements Journal.
func (j *SQLiteJournal) SaveAlert(ctx context.Context, a models.Alert) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO alerts (id, timestamp, level, category, message)
		VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Timestamp, string(a.Level), string(a.Category), a.Message)
	if err != nil {
		return fmt.Errorf("saving alert: %w", err)
	}
	return nil
}

// GetExecutions implements Journal.
func (j *SQLiteJournal) GetExecutions(ctx context.Context, filter ExecutionFilter) ([]models.ExecutionResult, error) {
	query := `SELECT id, timestamp, symbol, side, requested_size, filled_size, fill_ratio,
		execution_price, slippage_bps, spread_bps, market_impact_bps, decision_id
		FROM executions WHERE 1=1`
	var args []interface{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if !filter.StartDate.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndDate)
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var results []models.ExecutionResult
	for rows.Next() {
		var r models.ExecutionResult
		var side string
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Symbol, &side, &r.RequestedSize, &r.FilledSize,
			&r.FillRatio, &r.ExecutionPrice, &r.SlippageBps, &r.SpreadBps, &r.MarketImpactBps, &r.DecisionID); err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		r.Side = models.OrderSide(side)
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetDecisions implements Journal.
func (j *SQLiteJournal) GetDecisions(ctx context.Context, filter DecisionFilter) ([]models.EnsembleDecision, error) {
	query := `SELECT id, timestamp, action, confidence, method, contributing FROM decisions WHERE 1=1`
	var args []interface{}

	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, string(filter.Action))
	}
	if !filter.StartDate.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndDate)
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying decisions: %w", err)
	}
	defer rows.Close()

	var results []models.EnsembleDecision
	for rows.Next() {
		var d models.EnsembleDecision
		var action, method, contributing string
		if err := rows.Scan(&d.ID, &d.Timestamp, &action, &d.Confidence, &method, &contributing); err != nil {
			return nil, fmt.Errorf("scanning decision: %w", err)
		}
		d.Action = models.Action(action)
		d.Method = models.CombineMethod(method)
		if contributing != "" {
			if err := json.Unmarshal([]byte(contributing), &d.Contributing); err != nil {
				return nil, fmt.Errorf("decoding contributing signals: %w", err)
			}
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// GetAlerts implements Journal.
func (j *SQLiteJournal) GetAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error) {
	query := `SELECT id, timestamp, level, category, message FROM alerts WHERE 1=1`
	var args []interface{}

	if filter.Level != "" {
		query += " AND level = ?"
		args = append(args, string(filter.Level))
	}
	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, string(filter.Category))
	}
	if !filter.StartDate.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndDate)
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	var results []models.Alert
	for rows.Next() {
		var a models.Alert
		var level, category string
		if err := rows.Scan(&a.ID, &a.Timestamp, &level, &category, &a.Message); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		a.Level = models.AlertLevel(level)
		a.Category = models.AlertCategory(category)
		results = append(results, a)
	}
	return results, rows.Err()
}

// LatestExecution implements Journal. Returns nil with no error when the
// journal is empty.
func (j *SQLiteJournal) LatestExecution(ctx context.Context) (*models.ExecutionResult, error) {
	results, err := j.GetExecutions(ctx, ExecutionFilter{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

// Close implements Journal.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

var _ Journal = (*SQLiteJournal)(nil)
