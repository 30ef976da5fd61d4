package route

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/clawroute/clawroute/internal/catalog"
	"github.com/clawroute/clawroute/internal/classify"
	"github.com/clawroute/clawroute/internal/oai"
)

func testTiers() map[classify.Tier]TierModels {
	return map[classify.Tier]TierModels{
		classify.Heartbeat: {Primary: "google/gemini-2.5-flash-lite", Fallback: "openai/gpt-4o"},
		classify.Simple:    {Primary: "google/gemini-2.5-flash", Fallback: "openai/gpt-4o-mini"},
		classify.Moderate:  {Primary: "deepseek/deepseek-chat", Fallback: "anthropic/claude-3-5-haiku"},
		classify.Complex:   {Primary: "anthropic/claude-sonnet-4-5", Fallback: "openai/gpt-4o"},
		classify.Frontier:  {Primary: "anthropic/claude-opus-4-1", Fallback: "openai/o1"},
	}
}

func allKeys() map[catalog.Provider]string {
	return map[catalog.Provider]string{
		catalog.Anthropic:  "sk-a",
		catalog.OpenAI:     "sk-o",
		catalog.Google:     "sk-g",
		catalog.DeepSeek:   "sk-d",
		catalog.OpenRouter: "sk-r",
	}
}

func pingReq() *oai.ChatRequest {
	return &oai.ChatRequest{
		Model:    "anthropic/claude-sonnet-4-5",
		Messages: []oai.Message{{Role: "user", Content: json.RawMessage(`"ping"`)}},
	}
}

func heartbeatCls() classify.Result {
	return classify.Result{Tier: classify.Heartbeat, Confidence: 0.95, Reason: "heartbeat pattern", SafeToRetry: true, EstimatedTokens: 5}
}

func TestHeartbeatRouting(t *testing.T) {
	r := New(testTiers(), allKeys(), true, false)
	d := r.Decide(pingReq(), heartbeatCls(), "")
	if d.RoutedModel != "google/gemini-2.5-flash-lite" {
		t.Fatalf("RoutedModel = %q", d.RoutedModel)
	}
	if d.Tier != classify.Heartbeat {
		t.Fatalf("Tier = %s", d.Tier)
	}
	if d.EstimatedSavingsUSD <= 0 {
		t.Fatalf("EstimatedSavingsUSD = %v, want > 0", d.EstimatedSavingsUSD)
	}
}

func TestKeyAwareFallback(t *testing.T) {
	keys := map[catalog.Provider]string{catalog.OpenAI: "sk-o"}
	r := New(testTiers(), keys, true, false)
	d := r.Decide(pingReq(), heartbeatCls(), "")
	if d.RoutedModel != "openai/gpt-4o" {
		t.Fatalf("RoutedModel = %q, want fallback openai/gpt-4o", d.RoutedModel)
	}
	if d.IsPassthrough {
		t.Fatal("IsPassthrough = true")
	}
}

func TestNoKeysPassthrough(t *testing.T) {
	r := New(testTiers(), map[catalog.Provider]string{}, true, false)
	d := r.Decide(pingReq(), heartbeatCls(), "")
	if d.RoutedModel != "anthropic/claude-sonnet-4-5" {
		t.Fatalf("RoutedModel = %q, want original", d.RoutedModel)
	}
	if !d.IsPassthrough {
		t.Fatal("IsPassthrough = false")
	}
	if d.EstimatedSavingsUSD != 0 {
		t.Fatalf("savings = %v, want 0", d.EstimatedSavingsUSD)
	}
}

func TestDisabledPassthrough(t *testing.T) {
	r := New(testTiers(), allKeys(), false, false)
	d := r.Decide(pingReq(), heartbeatCls(), "")
	if !d.IsPassthrough || d.RoutedModel != d.OriginalModel {
		t.Fatalf("got %+v, want passthrough to original", d)
	}
}

func TestGlobalOverride(t *testing.T) {
	r := New(testTiers(), allKeys(), true, false)
	r.SetGlobalOverride("openai/gpt-4o")
	d := r.Decide(pingReq(), heartbeatCls(), "")
	if d.RoutedModel != "openai/gpt-4o" || !d.IsOverride {
		t.Fatalf("got %+v, want override to openai/gpt-4o", d)
	}

	r.ClearGlobalOverride()
	d = r.Decide(pingReq(), heartbeatCls(), "")
	if d.IsOverride {
		t.Fatal("override still applied after clear")
	}
}

func TestDryRun(t *testing.T) {
	r := New(testTiers(), allKeys(), true, true)
	d := r.Decide(pingReq(), heartbeatCls(), "")
	if d.RoutedModel != d.OriginalModel {
		t.Fatalf("RoutedModel = %q, want original under dry-run", d.RoutedModel)
	}
	if !d.IsDryRun {
		t.Fatal("IsDryRun = false")
	}
	if !strings.Contains(d.Reason, "dry-run") {
		t.Fatalf("Reason = %q, want dry-run marker", d.Reason)
	}
	if !strings.Contains(d.Reason, "google/gemini-2.5-flash-lite") {
		t.Fatalf("Reason = %q, want intended model named", d.Reason)
	}
	if d.EstimatedSavingsUSD != 0 {
		t.Fatalf("savings = %v, want 0 under dry-run", d.EstimatedSavingsUSD)
	}
}

func TestDryRunBeatsOverride(t *testing.T) {
	r := New(testTiers(), allKeys(), true, true)
	r.SetGlobalOverride("openai/gpt-4o")
	d := r.Decide(pingReq(), heartbeatCls(), "")
	if d.RoutedModel != d.OriginalModel {
		t.Fatalf("RoutedModel = %q, dry-run must win", d.RoutedModel)
	}
	if !d.IsOverride || !d.IsDryRun {
		t.Fatalf("flags = override:%v dryrun:%v", d.IsOverride, d.IsDryRun)
	}
}

func TestSessionOverrideTurns(t *testing.T) {
	r := New(testTiers(), allKeys(), true, false)
	r.SetSessionOverride("s1", "openai/o1", 2)

	for i := 0; i < 2; i++ {
		d := r.Decide(pingReq(), heartbeatCls(), "s1")
		if d.RoutedModel != "openai/o1" || !d.IsOverride {
			t.Fatalf("turn %d: got %+v", i, d)
		}
	}
	d := r.Decide(pingReq(), heartbeatCls(), "s1")
	if d.IsOverride {
		t.Fatal("session override survived its turn budget")
	}

	r.SetSessionOverride("s2", "openai/o1", -1)
	for i := 0; i < 5; i++ {
		if d := r.Decide(pingReq(), heartbeatCls(), "s2"); !d.IsOverride {
			t.Fatalf("unlimited session override expired at turn %d", i)
		}
	}

	if !r.DeleteSessionOverride("s2") {
		t.Fatal("DeleteSessionOverride = false for live session")
	}
	if r.DeleteSessionOverride("nope") {
		t.Fatal("DeleteSessionOverride = true for unknown session")
	}
}

func TestEscalationMonotonic(t *testing.T) {
	r := New(testTiers(), allKeys(), true, false)
	for _, tier := range classify.Tiers() {
		next, model, ok := r.NextEscalation(tier)
		if !ok {
			if tier != classify.Frontier {
				t.Fatalf("no escalation from %s with all keys present", tier)
			}
			continue
		}
		if next <= tier {
			t.Fatalf("escalation from %s produced %s", tier, next)
		}
		if model == "" {
			t.Fatalf("escalation from %s produced empty model", tier)
		}
	}

	// With only the openai key, heartbeat escalates to simple's fallback.
	r = New(testTiers(), map[catalog.Provider]string{catalog.OpenAI: "x"}, true, false)
	next, model, ok := r.NextEscalation(classify.Heartbeat)
	if !ok || next != classify.Simple || model != "openai/gpt-4o-mini" {
		t.Fatalf("got %s/%q/%v", next, model, ok)
	}
}

func TestSavingsNeverNegative(t *testing.T) {
	r := New(testTiers(), allKeys(), true, false)
	// Route a frontier-priced request downward and a cheap one upward.
	req := pingReq()
	req.Model = "google/gemini-2.5-flash-lite"
	r.SetGlobalOverride("anthropic/claude-opus-4-1")
	d := r.Decide(req, heartbeatCls(), "")
	if d.EstimatedSavingsUSD < 0 {
		t.Fatalf("savings = %v", d.EstimatedSavingsUSD)
	}
	if d.EstimatedSavingsUSD != 0 {
		t.Fatalf("upward routing should report zero savings, got %v", d.EstimatedSavingsUSD)
	}
}
