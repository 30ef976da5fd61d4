package httpapi

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/clawroute/clawroute/internal/events"
	"github.com/clawroute/clawroute/internal/executor"
	"github.com/clawroute/clawroute/internal/stats"
	"github.com/clawroute/clawroute/internal/store"
)

// emitRecord fans a completed execution out to the metrics registry, the
// rolling stats window, and the durable store. The store write happens on a
// separate goroutine so the response is never held up by disk.
func emitRecord(d Dependencies, res *executor.Result) {
	tier := res.Decision.Tier.String()
	success := res.StatusCode >= 200 && res.StatusCode <= 299

	if d.Metrics != nil {
		d.Metrics.RequestsTotal.WithLabelValues(tier, res.ActualModel, strconv.Itoa(res.StatusCode)).Inc()
		d.Metrics.RequestLatency.WithLabelValues(tier, res.ActualModel).Observe(float64(res.ResponseTimeMs))
		d.Metrics.CostUSD.WithLabelValues(res.ActualModel).Add(res.ActualCostUSD)
		d.Metrics.SavingsUSD.WithLabelValues(tier).Add(res.SavingsUSD)
		d.Metrics.TokensTotal.WithLabelValues(res.ActualModel, "input").Add(float64(res.InputTokens))
		d.Metrics.TokensTotal.WithLabelValues(res.ActualModel, "output").Add(float64(res.OutputTokens))
		if res.Escalated {
			d.Metrics.EscalationsTotal.WithLabelValues(tier).Inc()
		}
	}

	if d.Stats != nil {
		d.Stats.Record(stats.Snapshot{
			Timestamp:    time.Now().UTC(),
			Tier:         tier,
			ActualModel:  res.ActualModel,
			LatencyMs:    float64(res.ResponseTimeMs),
			SavingsUSD:   res.SavingsUSD,
			ActualUSD:    res.ActualCostUSD,
			Escalated:    res.Escalated,
			HadToolCalls: res.HadToolCalls,
			Success:      success,
			InputTokens:  res.InputTokens,
			OutputTokens: res.OutputTokens,
		})
	}

	if d.Events != nil {
		typ := events.EventRouteSuccess
		switch {
		case !success:
			typ = events.EventRouteError
		case res.Escalated:
			typ = events.EventEscalation
		}
		d.Events.Publish(events.Event{
			Type:          typ,
			OriginalModel: res.Decision.OriginalModel,
			RoutedModel:   res.Decision.RoutedModel,
			ActualModel:   res.ActualModel,
			Tier:          tier,
			Reason:        res.Decision.Reason,
			Confidence:    res.Decision.Confidence,
			LatencyMs:     res.ResponseTimeMs,
			SavingsUSD:    res.SavingsUSD,
			Escalated:     res.Escalated,
			DryRun:        res.Decision.IsDryRun,
			Streamed:      res.Streamed,
			StatusCode:    res.StatusCode,
		})
	}

	if d.Store != nil {
		rec := store.RouteRecord{
			Timestamp:       time.Now().UTC(),
			OriginalModel:   res.Decision.OriginalModel,
			RoutedModel:     res.Decision.RoutedModel,
			ActualModel:     res.ActualModel,
			Tier:            tier,
			Reason:          res.Decision.Reason,
			Confidence:      res.Decision.Confidence,
			InputTokens:     res.InputTokens,
			OutputTokens:    res.OutputTokens,
			OriginalCostUSD: res.OriginalCostUSD,
			ActualCostUSD:   res.ActualCostUSD,
			SavingsUSD:      res.SavingsUSD,
			Escalated:       res.Escalated,
			EscalationChain: strings.Join(res.EscalationChain, ","),
			ResponseTimeMs:  res.ResponseTimeMs,
			HadToolCalls:    res.HadToolCalls,
			DryRun:          res.Decision.IsDryRun,
			Override:        res.Decision.IsOverride,
			Passthrough:     res.Decision.IsPassthrough,
			Streamed:        res.Streamed,
			StatusCode:      res.StatusCode,
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := d.Store.LogRoute(ctx, rec); err != nil {
				d.Logger.Warn("failed to persist routing record", "error", err)
			}
		}()
	}
}
