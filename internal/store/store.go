// Package store persists the append-only log of routing decisions. The
// request pipeline treats it as an opaque async sink; the admin stats
// endpoint reads the aggregates back out.
package store

import (
	"context"
	"time"
)

// RouteRecord is one completed request, as reported by the executor.
type RouteRecord struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	OriginalModel   string    `json:"original_model"`
	RoutedModel     string    `json:"routed_model"`
	ActualModel     string    `json:"actual_model"`
	Tier            string    `json:"tier"`
	Reason          string    `json:"reason"`
	Confidence      float64   `json:"confidence"`
	InputTokens     int       `json:"input_tokens"`
	OutputTokens    int       `json:"output_tokens"`
	OriginalCostUSD float64   `json:"original_cost_usd"`
	ActualCostUSD   float64   `json:"actual_cost_usd"`
	SavingsUSD      float64   `json:"savings_usd"`
	Escalated       bool      `json:"escalated"`
	EscalationChain string    `json:"escalation_chain,omitempty"` // comma-joined model ids
	ResponseTimeMs  int64     `json:"response_time_ms"`
	HadToolCalls    bool      `json:"had_tool_calls"`
	DryRun          bool      `json:"dry_run"`
	Override        bool      `json:"override"`
	Passthrough     bool      `json:"passthrough"`
	Streamed        bool      `json:"streamed"`
	StatusCode      int       `json:"status_code"`
}

// Summary is the aggregate view served by GET /stats.
type Summary struct {
	TotalRequests   int64              `json:"total_requests"`
	TotalSavingsUSD float64            `json:"total_savings_usd"`
	TotalActualUSD  float64            `json:"total_actual_cost_usd"`
	EscalatedCount  int64              `json:"escalated_count"`
	DryRunCount     int64              `json:"dry_run_count"`
	AvgResponseMs   float64            `json:"avg_response_ms"`
	ByTier          map[string]int64   `json:"by_tier"`
	ByModel         map[string]int64   `json:"by_model"`
	SavingsByTier   map[string]float64 `json:"savings_by_tier"`
}

// Store is the persistence contract for routing records.
type Store interface {
	Migrate(ctx context.Context) error
	LogRoute(ctx context.Context, rec RouteRecord) error
	ListRoutes(ctx context.Context, limit, offset int) ([]RouteRecord, error)
	Aggregate(ctx context.Context, since time.Time) (*Summary, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}
