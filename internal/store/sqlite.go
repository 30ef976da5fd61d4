package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Keep the pool small; the
	// async record emitter is the only steady writer.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS route_records (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			original_model TEXT NOT NULL,
			routed_model TEXT NOT NULL,
			actual_model TEXT NOT NULL,
			tier TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			original_cost_usd REAL NOT NULL DEFAULT 0,
			actual_cost_usd REAL NOT NULL DEFAULT 0,
			savings_usd REAL NOT NULL DEFAULT 0,
			escalated INTEGER NOT NULL DEFAULT 0,
			escalation_chain TEXT NOT NULL DEFAULT '',
			response_time_ms INTEGER NOT NULL DEFAULT 0,
			had_tool_calls INTEGER NOT NULL DEFAULT 0,
			dry_run INTEGER NOT NULL DEFAULT 0,
			override INTEGER NOT NULL DEFAULT 0,
			passthrough INTEGER NOT NULL DEFAULT 0,
			streamed INTEGER NOT NULL DEFAULT 0,
			status_code INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_route_records_ts ON route_records(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_route_records_tier ON route_records(tier)`,
		`CREATE INDEX IF NOT EXISTS idx_route_records_model ON route_records(actual_model)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LogRoute(ctx context.Context, rec RouteRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO route_records (id, timestamp, original_model, routed_model, actual_model,
		 tier, reason, confidence, input_tokens, output_tokens,
		 original_cost_usd, actual_cost_usd, savings_usd,
		 escalated, escalation_chain, response_time_ms, had_tool_calls,
		 dry_run, override, passthrough, streamed, status_code)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.OriginalModel, rec.RoutedModel, rec.ActualModel,
		rec.Tier, rec.Reason, rec.Confidence, rec.InputTokens, rec.OutputTokens,
		rec.OriginalCostUSD, rec.ActualCostUSD, rec.SavingsUSD,
		boolInt(rec.Escalated), rec.EscalationChain, rec.ResponseTimeMs, boolInt(rec.HadToolCalls),
		boolInt(rec.DryRun), boolInt(rec.Override), boolInt(rec.Passthrough), boolInt(rec.Streamed),
		rec.StatusCode)
	return err
}

func (s *SQLiteStore) ListRoutes(ctx context.Context, limit, offset int) ([]RouteRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, original_model, routed_model, actual_model,
		 tier, reason, confidence, input_tokens, output_tokens,
		 original_cost_usd, actual_cost_usd, savings_usd,
		 escalated, escalation_chain, response_time_ms, had_tool_calls,
		 dry_run, override, passthrough, streamed, status_code
		 FROM route_records ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var recs []RouteRecord
	for rows.Next() {
		var r RouteRecord
		var ts string
		var escalated, toolCalls, dryRun, override, passthrough, streamed int
		if err := rows.Scan(&r.ID, &ts, &r.OriginalModel, &r.RoutedModel, &r.ActualModel,
			&r.Tier, &r.Reason, &r.Confidence, &r.InputTokens, &r.OutputTokens,
			&r.OriginalCostUSD, &r.ActualCostUSD, &r.SavingsUSD,
			&escalated, &r.EscalationChain, &r.ResponseTimeMs, &toolCalls,
			&dryRun, &override, &passthrough, &streamed, &r.StatusCode); err != nil {
			return nil, err
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		r.Escalated = escalated != 0
		r.HadToolCalls = toolCalls != 0
		r.DryRun = dryRun != 0
		r.Override = override != 0
		r.Passthrough = passthrough != 0
		r.Streamed = streamed != 0
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) Aggregate(ctx context.Context, since time.Time) (*Summary, error) {
	sinceStr := since.UTC().Format(time.RFC3339Nano)
	sum := &Summary{
		ByTier:        map[string]int64{},
		ByModel:       map[string]int64{},
		SavingsByTier: map[string]float64{},
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		 COALESCE(SUM(savings_usd), 0),
		 COALESCE(SUM(actual_cost_usd), 0),
		 COALESCE(SUM(escalated), 0),
		 COALESCE(SUM(dry_run), 0),
		 COALESCE(AVG(response_time_ms), 0)
		 FROM route_records WHERE timestamp >= ?`, sinceStr).
		Scan(&sum.TotalRequests, &sum.TotalSavingsUSD, &sum.TotalActualUSD,
			&sum.EscalatedCount, &sum.DryRunCount, &sum.AvgResponseMs)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT tier, COUNT(*), COALESCE(SUM(savings_usd), 0)
		 FROM route_records WHERE timestamp >= ? GROUP BY tier`, sinceStr)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var tier string
		var count int64
		var savings float64
		if err := rows.Scan(&tier, &count, &savings); err != nil {
			return nil, err
		}
		sum.ByTier[tier] = count
		sum.SavingsByTier[tier] = savings
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	modelRows, err := s.db.QueryContext(ctx,
		`SELECT actual_model, COUNT(*)
		 FROM route_records WHERE timestamp >= ? GROUP BY actual_model`, sinceStr)
	if err != nil {
		return nil, err
	}
	defer func() { _ = modelRows.Close() }()
	for modelRows.Next() {
		var model string
		var count int64
		if err := modelRows.Scan(&model, &count); err != nil {
			return nil, err
		}
		sum.ByModel[model] = count
	}
	return sum, modelRows.Err()
}

// PruneBefore deletes records older than cutoff and reports how many went.
func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM route_records WHERE timestamp < ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
