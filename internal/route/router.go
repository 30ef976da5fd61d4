// Package route turns a classification into a concrete upstream model choice.
// The router does no I/O; it only consults the tier table, provider key
// availability, and the live override/flag state.
package route

import (
	"fmt"
	"sync/atomic"

	"github.com/clawroute/clawroute/internal/catalog"
	"github.com/clawroute/clawroute/internal/classify"
	"github.com/clawroute/clawroute/internal/oai"
)

// TierModels is the primary/fallback model pair configured for one tier.
type TierModels struct {
	Primary  string `json:"primary"`
	Fallback string `json:"fallback"`
}

// Decision is the routing outcome for one request.
type Decision struct {
	OriginalModel       string        `json:"original_model"`
	RoutedModel         string        `json:"routed_model"`
	Tier                classify.Tier `json:"tier"`
	Reason              string        `json:"reason"`
	Confidence          float64       `json:"confidence"`
	IsDryRun            bool          `json:"is_dry_run"`
	IsOverride          bool          `json:"is_override"`
	IsPassthrough       bool          `json:"is_passthrough"`
	EstimatedSavingsUSD float64       `json:"estimated_savings_usd"`
	SafeToRetry         bool          `json:"safe_to_retry"`
}

// Router owns the mutable routing state: the enabled and dry-run flags and
// the override table. The tier table and provider keys are fixed at startup.
type Router struct {
	tiers map[classify.Tier]TierModels
	keys  map[catalog.Provider]string

	enabled atomic.Bool
	dryRun  atomic.Bool

	overrides overrideState
}

// New builds a Router. tiers must cover all five tiers; keys may be sparse.
func New(tiers map[classify.Tier]TierModels, keys map[catalog.Provider]string, enabled, dryRun bool) *Router {
	r := &Router{
		tiers: tiers,
		keys:  keys,
	}
	r.enabled.Store(enabled)
	r.dryRun.Store(dryRun)
	r.overrides.init()
	return r
}

func (r *Router) Enabled() bool     { return r.enabled.Load() }
func (r *Router) SetEnabled(v bool) { r.enabled.Store(v) }
func (r *Router) DryRun() bool      { return r.dryRun.Load() }
func (r *Router) SetDryRun(v bool)  { r.dryRun.Store(v) }

// HasKey reports whether the provider serving modelID has a configured key.
func (r *Router) HasKey(modelID string) bool {
	return r.keys[catalog.ProviderOf(modelID)] != ""
}

// KeyFor returns the configured key for a provider, possibly empty.
func (r *Router) KeyFor(p catalog.Provider) string { return r.keys[p] }

// Decide maps a classified request to a model. sessionID comes from the
// X-Session-Id header and may be empty.
func (r *Router) Decide(req *oai.ChatRequest, cls classify.Result, sessionID string) Decision {
	d := Decision{
		OriginalModel: req.Model,
		RoutedModel:   req.Model,
		Tier:          cls.Tier,
		Confidence:    cls.Confidence,
		SafeToRetry:   cls.SafeToRetry,
	}

	if !r.Enabled() {
		d.IsPassthrough = true
		d.Reason = "proxy disabled, passing through"
		return d
	}

	if m, ok := r.overrides.global(); ok {
		d.RoutedModel = m
		d.IsOverride = true
		d.Reason = "global override to " + m
	} else if m, ok := r.overrides.consumeSession(sessionID); ok {
		d.RoutedModel = m
		d.IsOverride = true
		d.Reason = "session override to " + m
	} else if m, ok := r.modelForTier(cls.Tier); ok {
		d.RoutedModel = m
		d.Reason = fmt.Sprintf("%s tier (%s)", cls.Tier, cls.Reason)
	} else {
		d.IsPassthrough = true
		d.Reason = "no provider key for " + cls.Tier.String() + " tier, passing through"
		return d
	}

	if r.DryRun() {
		d.IsDryRun = true
		d.Reason = fmt.Sprintf("dry-run: would route to %s (%s)", d.RoutedModel, d.Reason)
		d.RoutedModel = d.OriginalModel
		return d
	}

	d.EstimatedSavingsUSD = r.estimateSavings(req, d.OriginalModel, d.RoutedModel, cls.EstimatedTokens)
	return d
}

// modelForTier picks the tier's primary when its provider has a key, else the
// fallback, else reports no choice.
func (r *Router) modelForTier(t classify.Tier) (string, bool) {
	tm := r.tiers[t]
	if tm.Primary != "" && r.HasKey(tm.Primary) {
		return tm.Primary, true
	}
	if tm.Fallback != "" && r.HasKey(tm.Fallback) {
		return tm.Fallback, true
	}
	return "", false
}

// NextEscalation returns the first strictly-higher tier with a usable model.
func (r *Router) NextEscalation(current classify.Tier) (classify.Tier, string, bool) {
	for t := current + 1; t <= classify.Frontier; t++ {
		if m, ok := r.modelForTier(t); ok {
			return t, m, true
		}
	}
	return current, "", false
}

// estimateSavings compares the cost of the original model against the routed
// model for this request's estimated input and a capped output guess. Never
// negative: routing upward counts as zero savings, not a penalty.
func (r *Router) estimateSavings(req *oai.ChatRequest, original, routed string, inTokens int) float64 {
	if original == routed {
		return 0
	}
	outTokens := 4000
	if req.MaxTokens > 0 && req.MaxTokens < outTokens {
		outTokens = req.MaxTokens
	}
	saved := catalog.Cost(original, inTokens, outTokens) - catalog.Cost(routed, inTokens, outTokens)
	if saved < 0 {
		return 0
	}
	return catalog.RoundUSD(saved)
}
