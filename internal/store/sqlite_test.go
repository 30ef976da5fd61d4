package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "routes.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRecord(ts time.Time) RouteRecord {
	return RouteRecord{
		Timestamp:       ts,
		OriginalModel:   "anthropic/claude-sonnet-4-5",
		RoutedModel:     "google/gemini-2.5-flash-lite",
		ActualModel:     "google/gemini-2.5-flash-lite",
		Tier:            "heartbeat",
		Reason:          "heartbeat pattern",
		Confidence:      0.95,
		InputTokens:     10,
		OutputTokens:    5,
		OriginalCostUSD: 0.0001,
		ActualCostUSD:   0.000002,
		SavingsUSD:      0.000098,
		ResponseTimeMs:  42,
		StatusCode:      200,
	}
}

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestLogAndListRoutes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecord(time.Now().UTC())
	rec.Escalated = true
	rec.EscalationChain = "google/gemini-2.5-flash-lite,google/gemini-2.5-flash"
	if err := s.LogRoute(ctx, rec); err != nil {
		t.Fatalf("log failed: %v", err)
	}

	got, err := s.ListRoutes(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	r := got[0]
	if r.ID == "" {
		t.Error("expected generated id")
	}
	if !r.Escalated {
		t.Error("escalated flag lost")
	}
	if r.EscalationChain != rec.EscalationChain {
		t.Errorf("chain = %q", r.EscalationChain)
	}
	if r.Tier != "heartbeat" || r.Confidence != 0.95 {
		t.Errorf("record mangled: %+v", r)
	}
}

func TestAggregate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		rec := sampleRecord(now)
		if i == 0 {
			rec.Escalated = true
		}
		if err := s.LogRoute(ctx, rec); err != nil {
			t.Fatalf("log failed: %v", err)
		}
	}
	old := sampleRecord(now.Add(-48 * time.Hour))
	if err := s.LogRoute(ctx, old); err != nil {
		t.Fatalf("log failed: %v", err)
	}

	sum, err := s.Aggregate(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if sum.TotalRequests != 3 {
		t.Errorf("total = %d, want 3 (old record excluded)", sum.TotalRequests)
	}
	if sum.EscalatedCount != 1 {
		t.Errorf("escalated = %d, want 1", sum.EscalatedCount)
	}
	if sum.ByTier["heartbeat"] != 3 {
		t.Errorf("by_tier = %v", sum.ByTier)
	}
	if sum.ByModel["google/gemini-2.5-flash-lite"] != 3 {
		t.Errorf("by_model = %v", sum.ByModel)
	}
	if sum.TotalSavingsUSD <= 0 {
		t.Errorf("savings = %v", sum.TotalSavingsUSD)
	}
	if sum.AvgResponseMs != 42 {
		t.Errorf("avg ms = %v", sum.AvgResponseMs)
	}
}

func TestPruneBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = s.LogRoute(ctx, sampleRecord(now))
	_ = s.LogRoute(ctx, sampleRecord(now.Add(-72*time.Hour)))
	_ = s.LogRoute(ctx, sampleRecord(now.Add(-96*time.Hour)))

	n, err := s.PruneBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d, want 2", n)
	}
	recs, err := s.ListRoutes(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("remaining = %d, want 1", len(recs))
	}
}
