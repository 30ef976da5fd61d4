// Package catalog is the static model table: per-model pricing and
// capability records, provider inference from model id strings, and cost
// computation.
package catalog

import (
	"math"
	"sort"
	"strings"
)

// Provider identifies an upstream LLM provider.
type Provider string

const (
	Anthropic  Provider = "anthropic"
	OpenAI     Provider = "openai"
	Google     Provider = "google"
	DeepSeek   Provider = "deepseek"
	OpenRouter Provider = "openrouter"
)

// Providers lists all known providers in a stable order.
var Providers = []Provider{Anthropic, OpenAI, Google, DeepSeek, OpenRouter}

// Entry is an immutable pricing/capability record for one model.
type Entry struct {
	ID            string   `json:"id"` // canonical provider/model-name form
	Provider      Provider `json:"provider"`
	InputPerMTok  float64  `json:"input_cost_per_million"`
	OutputPerMTok float64  `json:"output_cost_per_million"`
	MaxContext    int      `json:"max_context"`
	ToolCapable   bool     `json:"tool_capable"`
	Multimodal    bool     `json:"multimodal"`
	Enabled       bool     `json:"enabled"`
}

// entries is keyed by canonical id. Prices are USD per million tokens.
var entries = map[string]Entry{
	"anthropic/claude-opus-4-1":     {ID: "anthropic/claude-opus-4-1", Provider: Anthropic, InputPerMTok: 15, OutputPerMTok: 75, MaxContext: 200000, ToolCapable: true, Multimodal: true, Enabled: true},
	"anthropic/claude-sonnet-4-5":   {ID: "anthropic/claude-sonnet-4-5", Provider: Anthropic, InputPerMTok: 3, OutputPerMTok: 15, MaxContext: 200000, ToolCapable: true, Multimodal: true, Enabled: true},
	"anthropic/claude-3-5-haiku":    {ID: "anthropic/claude-3-5-haiku", Provider: Anthropic, InputPerMTok: 0.8, OutputPerMTok: 4, MaxContext: 200000, ToolCapable: true, Multimodal: false, Enabled: true},
	"openai/gpt-4o":                 {ID: "openai/gpt-4o", Provider: OpenAI, InputPerMTok: 2.5, OutputPerMTok: 10, MaxContext: 128000, ToolCapable: true, Multimodal: true, Enabled: true},
	"openai/gpt-4o-mini":            {ID: "openai/gpt-4o-mini", Provider: OpenAI, InputPerMTok: 0.15, OutputPerMTok: 0.6, MaxContext: 128000, ToolCapable: true, Multimodal: true, Enabled: true},
	"openai/o1":                     {ID: "openai/o1", Provider: OpenAI, InputPerMTok: 15, OutputPerMTok: 60, MaxContext: 200000, ToolCapable: true, Multimodal: true, Enabled: true},
	"openai/o3-mini":                {ID: "openai/o3-mini", Provider: OpenAI, InputPerMTok: 1.1, OutputPerMTok: 4.4, MaxContext: 200000, ToolCapable: true, Multimodal: false, Enabled: true},
	"google/gemini-2.5-pro":         {ID: "google/gemini-2.5-pro", Provider: Google, InputPerMTok: 1.25, OutputPerMTok: 10, MaxContext: 1048576, ToolCapable: true, Multimodal: true, Enabled: true},
	"google/gemini-2.5-flash":       {ID: "google/gemini-2.5-flash", Provider: Google, InputPerMTok: 0.3, OutputPerMTok: 2.5, MaxContext: 1048576, ToolCapable: true, Multimodal: true, Enabled: true},
	"google/gemini-2.5-flash-lite":  {ID: "google/gemini-2.5-flash-lite", Provider: Google, InputPerMTok: 0.1, OutputPerMTok: 0.4, MaxContext: 1048576, ToolCapable: true, Multimodal: true, Enabled: true},
	"deepseek/deepseek-chat":        {ID: "deepseek/deepseek-chat", Provider: DeepSeek, InputPerMTok: 0.27, OutputPerMTok: 1.1, MaxContext: 65536, ToolCapable: true, Multimodal: false, Enabled: true},
	"deepseek/deepseek-reasoner":    {ID: "deepseek/deepseek-reasoner", Provider: DeepSeek, InputPerMTok: 0.55, OutputPerMTok: 2.19, MaxContext: 65536, ToolCapable: false, Multimodal: false, Enabled: true},
	"openrouter/auto":               {ID: "openrouter/auto", Provider: OpenRouter, InputPerMTok: 3, OutputPerMTok: 15, MaxContext: 200000, ToolCapable: true, Multimodal: true, Enabled: true},
}

// unknownModelEntry is the pricing assumed for models not in the table. It is
// deliberately priced at the frontier rate so savings estimates against an
// unknown original model are never inflated.
var unknownModelEntry = Entry{
	InputPerMTok:  15,
	OutputPerMTok: 75,
	MaxContext:    200000,
	ToolCapable:   true,
	Enabled:       true,
}

// sortedIDs keeps the fuzzy Lookup passes deterministic across runs; map
// iteration order is not.
var sortedIDs = func() []string {
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}()

// Lookup resolves a model id to its catalog entry. Resolution order: exact
// match, then suffix match on the provider/name form, then case-insensitive
// substring match preferring the longest bare name (so "gpt-4o-mini-2024"
// lands on gpt-4o-mini, not gpt-4o). The fuzzy passes let unregistered
// aliases (bare model names, versioned ids) still land on a reasonable
// record.
func Lookup(modelID string) (Entry, bool) {
	if e, ok := entries[modelID]; ok {
		return e, true
	}
	for _, id := range sortedIDs {
		if strings.HasSuffix(id, "/"+modelID) {
			return entries[id], true
		}
	}
	lower := strings.ToLower(modelID)
	var best Entry
	bestLen := -1
	for _, id := range sortedIDs {
		e := entries[id]
		bare := strings.ToLower(strings.TrimPrefix(id, string(e.Provider)+"/"))
		if strings.Contains(lower, bare) || strings.Contains(strings.ToLower(id), lower) {
			if len(bare) > bestLen {
				best, bestLen = e, len(bare)
			}
		}
	}
	if bestLen >= 0 {
		return best, true
	}
	return Entry{}, false
}

// All returns the catalog entries in an unspecified order.
func All() []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	return out
}

// ProviderOf derives the provider for a model id. A known provider prefix
// wins; otherwise the name itself is matched against well-known model
// families; otherwise openai is assumed, since that is the wire dialect
// everything here speaks anyway.
func ProviderOf(modelID string) Provider {
	if i := strings.IndexByte(modelID, '/'); i > 0 {
		prefix := strings.ToLower(modelID[:i])
		for _, p := range Providers {
			if prefix == string(p) {
				return p
			}
		}
	}
	lower := strings.ToLower(modelID)
	switch {
	case strings.Contains(lower, "claude"):
		return Anthropic
	case strings.Contains(lower, "gpt"), strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"):
		return OpenAI
	case strings.Contains(lower, "gemini"):
		return Google
	case strings.Contains(lower, "deepseek"):
		return DeepSeek
	}
	return OpenAI
}

// BareName strips the provider/ prefix from a model id; providers expect the
// bare model name on the wire.
func BareName(modelID string) string {
	if i := strings.IndexByte(modelID, '/'); i > 0 {
		prefix := strings.ToLower(modelID[:i])
		for _, p := range Providers {
			if prefix == string(p) {
				return modelID[i+1:]
			}
		}
	}
	return modelID
}

// Cost computes the USD cost of a call. Unknown models are priced at the
// frontier default.
func Cost(modelID string, inTokens, outTokens int) float64 {
	e, ok := Lookup(modelID)
	if !ok {
		e = unknownModelEntry
	}
	in := float64(inTokens) / 1e6 * e.InputPerMTok
	out := float64(outTokens) / 1e6 * e.OutputPerMTok
	return in + out
}

// RoundUSD trims a cost to micro-dollar precision for logging.
func RoundUSD(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
