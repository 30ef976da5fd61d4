// Package stats keeps a rolling in-memory view of recent routing activity so
// the dashboard answers without a database round trip. The durable record
// lives in the store; this is purely the hot window.
package stats

import (
	"sort"
	"sync"
	"time"
)

// Snapshot is a single data point recorded per completed request.
type Snapshot struct {
	Timestamp    time.Time
	Tier         string
	ActualModel  string
	LatencyMs    float64
	SavingsUSD   float64
	ActualUSD    float64
	Escalated    bool
	HadToolCalls bool
	Success      bool
	InputTokens  int
	OutputTokens int
}

// Window defines a named time window for aggregation.
type Window struct {
	Name     string
	Duration time.Duration
}

// DefaultWindows returns the standard set of rolling windows.
func DefaultWindows() []Window {
	return []Window{
		{Name: "5m", Duration: 5 * time.Minute},
		{Name: "1h", Duration: time.Hour},
		{Name: "24h", Duration: 24 * time.Hour},
	}
}

// Aggregate holds computed stats for a time window.
type Aggregate struct {
	Window         string  `json:"window"`
	Tier           string  `json:"tier,omitempty"`
	Model          string  `json:"model,omitempty"`
	RequestCount   int     `json:"request_count"`
	ErrorCount     int     `json:"error_count"`
	ErrorRate      float64 `json:"error_rate"`
	EscalatedCount int     `json:"escalated_count"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	P95LatencyMs   float64 `json:"p95_latency_ms"`
	SavingsUSD     float64 `json:"savings_usd"`
	ActualUSD      float64 `json:"actual_cost_usd"`
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
}

// Collector maintains rolling snapshots for dashboard aggregation.
type Collector struct {
	mu        sync.RWMutex
	snapshots []Snapshot
	maxAge    time.Duration
	windows   []Window
}

// NewCollector creates a collector keeping slightly more history than the
// largest window.
func NewCollector() *Collector {
	return &Collector{
		windows: DefaultWindows(),
		maxAge:  25 * time.Hour,
	}
}

// Record adds a new snapshot.
func (c *Collector) Record(s Snapshot) {
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
	c.mu.Lock()
	c.snapshots = append(c.snapshots, s)
	c.mu.Unlock()
}

// pruneLocked removes expired snapshots. Caller must hold the write lock.
func (c *Collector) pruneLocked(cutoff time.Time) {
	i := 0
	for i < len(c.snapshots) && c.snapshots[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		c.snapshots = c.snapshots[i:]
	}
}

// snapshotsAfterPrune prunes under the write lock and returns a copy, so
// readers never see data older than maxAge.
func (c *Collector) snapshotsAfterPrune() []Snapshot {
	cutoff := time.Now().Add(-c.maxAge)
	c.mu.Lock()
	c.pruneLocked(cutoff)
	cp := make([]Snapshot, len(c.snapshots))
	copy(cp, c.snapshots)
	c.mu.Unlock()
	return cp
}

// ByTier returns per-window aggregates grouped by tier.
func (c *Collector) ByTier() map[string][]Aggregate {
	return c.grouped(func(s Snapshot) string { return s.Tier }, true)
}

// ByModel returns per-window aggregates grouped by the model actually used.
func (c *Collector) ByModel() map[string][]Aggregate {
	return c.grouped(func(s Snapshot) string { return s.ActualModel }, false)
}

func (c *Collector) grouped(keyFn func(Snapshot) string, tierKey bool) map[string][]Aggregate {
	snapshots := c.snapshotsAfterPrune()
	now := time.Now()
	result := make(map[string][]Aggregate)

	for _, w := range c.windows {
		cutoff := now.Add(-w.Duration)
		byKey := make(map[string][]Snapshot)
		for _, s := range snapshots {
			if s.Timestamp.After(cutoff) {
				byKey[keyFn(s)] = append(byKey[keyFn(s)], s)
			}
		}
		for key, snaps := range byKey {
			a := computeAggregate(w.Name, snaps)
			if tierKey {
				a.Tier = key
			} else {
				a.Model = key
			}
			result[w.Name] = append(result[w.Name], a)
		}
	}
	return result
}

// Global returns aggregate stats across all tiers and models.
func (c *Collector) Global() []Aggregate {
	snapshots := c.snapshotsAfterPrune()
	now := time.Now()
	var result []Aggregate

	for _, w := range c.windows {
		cutoff := now.Add(-w.Duration)
		var snaps []Snapshot
		for _, s := range snapshots {
			if s.Timestamp.After(cutoff) {
				snaps = append(snaps, s)
			}
		}
		if len(snaps) > 0 {
			result = append(result, computeAggregate(w.Name, snaps))
		}
	}
	return result
}

// SnapshotCount returns the total number of stored snapshots.
func (c *Collector) SnapshotCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snapshots)
}

func computeAggregate(window string, snaps []Snapshot) Aggregate {
	a := Aggregate{
		Window:       window,
		RequestCount: len(snaps),
	}

	var totalLatency float64
	latencies := make([]float64, 0, len(snaps))

	for _, s := range snaps {
		totalLatency += s.LatencyMs
		latencies = append(latencies, s.LatencyMs)
		a.SavingsUSD += s.SavingsUSD
		a.ActualUSD += s.ActualUSD
		a.InputTokens += s.InputTokens
		a.OutputTokens += s.OutputTokens
		if s.Escalated {
			a.EscalatedCount++
		}
		if !s.Success {
			a.ErrorCount++
		}
	}

	if a.RequestCount > 0 {
		a.AvgLatencyMs = totalLatency / float64(a.RequestCount)
		a.ErrorRate = float64(a.ErrorCount) / float64(a.RequestCount)
	}

	sort.Float64s(latencies)
	if len(latencies) > 0 {
		idx := int(float64(len(latencies)) * 0.95)
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		a.P95LatencyMs = latencies[idx]
	}

	return a
}
