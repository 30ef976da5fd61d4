package classify

import (
	"regexp"
	"strings"

	"github.com/clawroute/clawroute/internal/oai"
)

// Result is the outcome of classifying one request.
type Result struct {
	Tier          Tier     `json:"tier"`
	Confidence    float64  `json:"confidence"`
	Reason        string   `json:"reason"`
	Signals       []string `json:"signals,omitempty"`
	ToolsDetected bool     `json:"tools_detected"`
	SafeToRetry   bool     `json:"safe_to_retry"`

	// EstimatedTokens is the chars/4 heuristic over the whole request,
	// carried along so the router does not re-walk the messages.
	EstimatedTokens int `json:"estimated_tokens"`
}

// Options are the runtime knobs that shape classification.
type Options struct {
	// ToolAwareEscalation raises any sub-Complex tier to Complex when the
	// request declares tools.
	ToolAwareEscalation bool

	// Conservative bumps low-confidence classifications up a tier, and
	// jumps straight to Frontier below 0.5 confidence.
	Conservative  bool
	MinConfidence float64
}

// Static pattern tables, compiled once. The word sets are matched against
// the trimmed, lowercased last user message.

var heartbeatModelHints = []string{"heartbeat", "cron", "health"}

var heartbeatWords = map[string]bool{
	"ping": true, "status": true, "alive": true, "check": true,
	"heartbeat": true, "hey": true, "hi": true, "hello": true,
	"test": true, "yo": true,
}

var acknowledgmentWords = map[string]bool{
	"thanks": true, "thank you": true, "thx": true, "ty": true,
	"ok": true, "okay": true, "k": true, "kk": true, "alright": true,
	"sure": true, "yes": true, "no": true, "yep": true, "nope": true,
	"yeah": true, "nah": true, "got it": true, "sounds good": true,
	"cool": true, "great": true, "nice": true, "perfect": true,
	"awesome": true, "agreed": true, "right": true, "lol": true,
	"haha": true, "hehe": true, "lmao": true, "rofl": true,
}

var emojiOnly = map[string]bool{
	"👍": true, "🙏": true, "😊": true, "👌": true, "✅": true, "❤": true,
}

var (
	heartbeatPhraseRe = regexp.MustCompile(`(?i)^are you (there|up|alive|ok|ready)[\s?!.]*$`)
	heartbeatProbeRe  = regexp.MustCompile(`(?i)^(can you hear me|you there|testing)[\s?!.]*$`)
	codeFenceRe       = regexp.MustCompile("```")
	frontierKeywordRe = regexp.MustCompile(`(?i)implement|architect|design|refactor|debug|optimize|prove|derive|analyze.{0,20}(code|system|architecture|algorithm)`)
	complexKeywordRe  = regexp.MustCompile(`(?i)explain|compare|analyze|research|summarize|evaluate|assess|review|write.{0,10}(essay|report|article|doc|documentation)`)
	trailingPunctRe   = regexp.MustCompile(`[\s?!.,:;]+$`)
)

// Classify runs the ordered rule set over a request. It is deterministic and
// cheap: one pass over the messages plus a handful of regexp probes on the
// last user message.
func Classify(req *oai.ChatRequest, opts Options) Result {
	res := Result{
		Tier:       Moderate,
		Confidence: 0.6,
		Reason:     "general conversation",
	}

	lastUser := strings.TrimSpace(req.LastUserText())
	lowerLast := strings.ToLower(lastUser)
	bareLast := trailingPunctRe.ReplaceAllString(lowerLast, "")
	hasTools := len(req.Tools) > 0
	res.ToolsDetected = hasTools
	res.EstimatedTokens = EstimateTokens(req)

	// Rule 1: model-name hint.
	lowerModel := strings.ToLower(req.Model)
	for _, hint := range heartbeatModelHints {
		if strings.Contains(lowerModel, hint) {
			res.set(Heartbeat, 0.85, "model name suggests heartbeat", "model_hint")
			break
		}
	}

	// Rule 2: heartbeat message patterns. Acknowledgments and emoji are the
	// more specific pattern and belong to rule 5, so the generic
	// short-message fallback skips them.
	switch {
	case heartbeatWords[bareLast],
		heartbeatPhraseRe.MatchString(lastUser),
		heartbeatProbeRe.MatchString(lastUser):
		res.set(Heartbeat, 0.95, "heartbeat pattern", "heartbeat_pattern")
	case len(lastUser) > 0 && len(lastUser) < 30 && len(req.Messages) <= 2 && !hasTools &&
		!acknowledgmentWords[bareLast] && !emojiOnly[lastUser] && res.Tier != Heartbeat:
		res.set(Heartbeat, 0.8, "short shallow message", "short_message")
	}

	// Rule 3: frontier signals override any tentative tier.
	frontier := false
	switch {
	case hasTools && req.ToolChoiceActive():
		res.set(Frontier, 0.9, "tool use requested", "tool_choice")
		frontier = true
	case codeFenceRe.MatchString(lastUser):
		res.set(Frontier, 0.85, "code block present", "code_fence")
		frontier = true
	case len(lastUser) > 1000 && frontierKeywordRe.MatchString(lastUser):
		res.set(Frontier, 0.8, "long engineering prompt", "frontier_keywords")
		frontier = true
	case res.EstimatedTokens > 8000:
		res.set(Frontier, 0.75, "large context", "token_count")
		frontier = true
	case req.HasImages():
		res.set(Frontier, 0.8, "multimodal content", "image_content")
		frontier = true
	}

	// Rule 4: complex signals, only from the moderate default.
	if !frontier && res.Tier == Moderate {
		switch {
		case hasTools:
			res.set(Complex, 0.85, "tools declared", "tools_present")
		case len(lastUser) >= 500 && len(lastUser) <= 1000 && complexKeywordRe.MatchString(lastUser):
			res.set(Complex, 0.8, "analysis prompt", "complex_keywords")
		case len(req.Messages) > 8:
			res.set(Complex, 0.75, "deep conversation", "long_history")
		case res.EstimatedTokens >= 4000 && res.EstimatedTokens <= 8000:
			res.set(Complex, 0.7, "moderate context size", "token_count")
		}
	}

	// Rule 5: simple patterns, only if nothing above fired.
	if res.Tier == Moderate {
		switch {
		case acknowledgmentWords[bareLast], emojiOnly[lastUser]:
			res.set(Simple, 0.9, "acknowledgment", "ack_pattern")
		case len(lastUser) < 80 && strings.HasSuffix(lastUser, "?") && len(req.Messages) <= 2:
			res.set(Simple, 0.8, "short question", "short_question")
		}
	}

	// Post-adjustment: tool-aware escalation.
	if opts.ToolAwareEscalation && hasTools && res.Tier < Complex {
		res.Tier = Complex
		if res.Confidence > 0.8 {
			res.Confidence = 0.8
		}
		res.Reason = "tools declared, escalated"
		res.Signals = append(res.Signals, "tool_escalation")
	}

	// Post-adjustment: conservative mode. The one-step bump applies first,
	// then the direct-to-Frontier jump; the order is observable and must
	// not change.
	if opts.Conservative {
		if res.Confidence < opts.MinConfidence {
			if next, ok := res.Tier.Next(); ok {
				res.Tier = next
			}
			res.Signals = append(res.Signals, "conservative_bump")
		}
		if res.Confidence < 0.5 {
			res.Tier = Frontier
			res.Signals = append(res.Signals, "conservative_frontier")
		}
	}

	// Retry is only safe for trivial tiers with no tool surface: re-running
	// a tool-bearing request could duplicate external side effects.
	res.SafeToRetry = (res.Tier == Heartbeat || res.Tier == Simple) && !hasTools

	return res
}

func (r *Result) set(t Tier, conf float64, reason, signal string) {
	r.Tier = t
	r.Confidence = conf
	r.Reason = reason
	r.Signals = append(r.Signals, signal)
}

// EstimateTokens is the deliberate chars/4 heuristic: total text chars over
// four, plus a per-message envelope allowance, plus tool declarations.
// Heavyweight tokenizers stay out of the hot path.
func EstimateTokens(req *oai.ChatRequest) int {
	chars := 0
	msgOverhead := 0
	for _, m := range req.Messages {
		chars += len(m.Text())
		msgOverhead += 4
		for _, tc := range m.ToolCalls {
			chars += len(tc.Function.Name) + len(tc.Function.Arguments)
		}
	}
	for _, t := range req.Tools {
		chars += len(t.Function.Name) + len(t.Function.Description) + len(t.Function.Parameters)
	}
	return (chars+3)/4 + msgOverhead
}
