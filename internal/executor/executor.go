// Package executor obtains exactly one client-safe response per request from
// the provider fleet. Three rules govern it: once a streamed byte has been
// written the attempt is committed; a response carrying tool calls is
// returned verbatim; and when every escalation target fails the originally
// requested model gets one last try before the client sees an error.
package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/clawroute/clawroute/internal/catalog"
	"github.com/clawroute/clawroute/internal/circuitbreaker"
	"github.com/clawroute/clawroute/internal/classify"
	"github.com/clawroute/clawroute/internal/oai"
	"github.com/clawroute/clawroute/internal/route"
)

// Result describes one completed execution for logging and metrics.
type Result struct {
	Decision        route.Decision
	ActualModel     string
	Escalated       bool
	EscalationChain []string
	InputTokens     int
	OutputTokens    int
	OriginalCostUSD float64
	ActualCostUSD   float64
	SavingsUSD      float64
	ResponseTimeMs  int64
	HadToolCalls    bool
	Streamed        bool
	StatusCode      int
	ValidationNote  string
}

// Options are the executor's retry knobs.
type Options struct {
	MaxRetries               int
	RetryDelay               time.Duration
	AlwaysFallbackToOriginal bool

	// Endpoints overrides the built-in provider endpoint table. Useful for
	// self-hosted gateways and tests; nil means the standard endpoints.
	Endpoints func(catalog.Provider) string
}

// Executor dispatches requests and owns the retry/escalation loop.
type Executor struct {
	client   *http.Client
	router   *route.Router
	opts     Options
	log      *slog.Logger
	breakers map[catalog.Provider]*circuitbreaker.Breaker
}

// New builds an Executor around a shared HTTP client. Each provider gets its
// own circuit breaker so one flapping upstream cannot stall dispatches to
// the rest of the fleet.
func New(client *http.Client, router *route.Router, opts Options, log *slog.Logger) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = slog.Default()
	}
	breakers := make(map[catalog.Provider]*circuitbreaker.Breaker, len(catalog.Providers))
	for _, p := range catalog.Providers {
		breakers[p] = circuitbreaker.New()
	}
	return &Executor{client: client, router: router, opts: opts, log: log, breakers: breakers}
}

// Execute serves one routed request, writing the upstream response (or a
// normalized error) to w. The returned Result is always non-nil and reflects
// whatever actually happened, including failures.
func (e *Executor) Execute(ctx context.Context, w http.ResponseWriter, req *oai.ChatRequest, d route.Decision, estTokens int) *Result {
	start := time.Now()
	res := &Result{
		Decision:    d,
		ActualModel: d.RoutedModel,
		Streamed:    req.Stream,
	}
	defer func() {
		res.ResponseTimeMs = time.Since(start).Milliseconds()
		res.Escalated = len(res.EscalationChain) > 1
		e.finalizeCosts(req, res, estTokens)
	}()

	if req.Stream {
		e.executeStream(ctx, w, req, d, res)
	} else {
		e.executeBuffered(ctx, w, req, d, res)
	}
	return res
}

// executeBuffered is the non-streaming path: a bounded attempt loop with
// escalation, then the one-shot original-model fallback.
func (e *Executor) executeBuffered(ctx context.Context, w http.ResponseWriter, req *oai.ChatRequest, d route.Decision, res *Result) {
	current := d.RoutedModel
	tier := d.Tier
	tried := map[string]bool{}

	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		res.EscalationChain = append(res.EscalationChain, current)
		res.ActualModel = current
		tried[current] = true

		body, err := requestBody(req.Raw, current)
		if err != nil {
			e.log.Error("request rewrite failed", "error", err)
			break
		}

		status, respBody, err := e.doRequest(ctx, current, body)
		var se *StatusError
		if err != nil && !errors.As(err, &se) {
			// Transport failure: nothing reached us, escalation is safe if
			// the classification allows retrying at all.
			e.log.Warn("upstream transport failure", "model", current, "error", err)
			if attempt < e.opts.MaxRetries && d.SafeToRetry {
				if nt, nm, ok := e.router.NextEscalation(tier); ok {
					tier, current = nt, nm
					e.wait(ctx)
					continue
				}
			}
			break
		}

		v := Validate(status, respBody, req, tier)
		res.HadToolCalls = res.HadToolCalls || v.HadToolCalls
		res.ValidationNote = v.Reason
		recordUsage(res, v.Response)

		if v.Valid {
			e.writeBuffered(w, res, status, respBody)
			return
		}

		e.log.Warn("upstream response rejected",
			"model", current, "status", status, "reason", v.Reason)

		if v.HadToolCalls || !d.SafeToRetry {
			// Tool calls are externally observable; a retry could run the
			// side effect twice. Hand the body over as-is.
			e.writeBuffered(w, res, status, respBody)
			return
		}
		if attempt < e.opts.MaxRetries {
			if nt, nm, ok := e.router.NextEscalation(tier); ok {
				tier, current = nt, nm
				e.wait(ctx)
				continue
			}
		}
		break
	}

	if e.opts.AlwaysFallbackToOriginal && !tried[d.OriginalModel] {
		e.log.Info("falling back to originally requested model", "model", d.OriginalModel)
		res.EscalationChain = append(res.EscalationChain, d.OriginalModel)
		res.ActualModel = d.OriginalModel
		body, err := requestBody(req.Raw, d.OriginalModel)
		if err == nil {
			status, respBody, derr := e.doRequest(ctx, d.OriginalModel, body)
			if derr == nil || len(respBody) > 0 {
				v := Validate(status, respBody, req, d.Tier)
				res.HadToolCalls = res.HadToolCalls || v.HadToolCalls
				recordUsage(res, v.Response)
				e.writeBuffered(w, res, status, respBody)
				return
			}
		}
	}

	res.StatusCode = http.StatusInternalServerError
	e.decorate(w, res)
	oai.WriteError(w, http.StatusInternalServerError,
		"all upstream attempts failed", "server_error", "internal_error")
}

// executeStream performs the streaming path. Failures before the first OK
// status reuse the buffered escalation logic; once the pump is attached the
// attempt is committed and errors terminate the stream with [DONE].
func (e *Executor) executeStream(ctx context.Context, w http.ResponseWriter, req *oai.ChatRequest, d route.Decision, res *Result) {
	current := d.RoutedModel
	tier := d.Tier
	tried := map[string]bool{}

	for attempt := 0; ; attempt++ {
		res.EscalationChain = append(res.EscalationChain, current)
		res.ActualModel = current
		tried[current] = true

		body, err := requestBody(req.Raw, current)
		var upstream io.ReadCloser
		if err == nil {
			upstream, err = e.doStreamRequest(ctx, current, body)
		}
		if err != nil {
			e.log.Warn("stream dispatch failed", "model", current, "error", err)
			var se *StatusError
			if errors.As(err, &se) && !d.SafeToRetry {
				// Upstream rejected the request before any bytes were
				// streamed and retry is off the table: relay its status and
				// body, same as the buffered path.
				e.writeBuffered(w, res, se.StatusCode, se.Body)
				return
			}
			if attempt < e.opts.MaxRetries && d.SafeToRetry {
				if nt, nm, ok := e.router.NextEscalation(tier); ok {
					tier, current = nt, nm
					e.wait(ctx)
					continue
				}
			}
			if e.opts.AlwaysFallbackToOriginal && !tried[d.OriginalModel] {
				res.EscalationChain = append(res.EscalationChain, d.OriginalModel)
				res.ActualModel = d.OriginalModel
				tried[d.OriginalModel] = true
				if body, berr := requestBody(req.Raw, d.OriginalModel); berr == nil {
					if up, uerr := e.doStreamRequest(ctx, d.OriginalModel, body); uerr == nil {
						upstream = up
						err = nil
					} else {
						err = uerr
					}
				}
			}
			if err != nil {
				// Relay the last upstream rejection when there was one;
				// only pure transport failure collapses to the generic 500.
				if errors.As(err, &se) {
					e.writeBuffered(w, res, se.StatusCode, se.Body)
					return
				}
				res.StatusCode = http.StatusInternalServerError
				e.decorate(w, res)
				oai.WriteError(w, http.StatusInternalServerError,
					"all upstream attempts failed", "server_error", "internal_error")
				return
			}
		}

		defer func() { _ = upstream.Close() }()

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		res.StatusCode = http.StatusOK
		e.decorate(w, res)
		w.WriteHeader(http.StatusOK)

		stats, perr := pumpSSE(w, upstream)
		res.InputTokens = stats.InputTokens
		res.OutputTokens = stats.OutputTokens
		res.HadToolCalls = stats.HadToolCalls
		if perr != nil {
			e.log.Warn("stream terminated early", "model", current, "error", perr)
		}
		return
	}
}

func (e *Executor) writeBuffered(w http.ResponseWriter, res *Result, status int, body []byte) {
	if status == 0 {
		status = http.StatusBadGateway
	}
	res.StatusCode = status
	e.decorate(w, res)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// decorate attaches the routing-observability headers. Must run before the
// status line is written.
func (e *Executor) decorate(w http.ResponseWriter, res *Result) {
	h := w.Header()
	h.Set("X-ClawRoute-Model", res.ActualModel)
	h.Set("X-ClawRoute-Tier", res.Decision.Tier.String())
	if len(res.EscalationChain) > 1 {
		h.Set("X-ClawRoute-Escalated", "true")
	} else {
		h.Set("X-ClawRoute-Escalated", "false")
	}
}

func (e *Executor) wait(ctx context.Context) {
	if e.opts.RetryDelay <= 0 {
		return
	}
	t := time.NewTimer(e.opts.RetryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func recordUsage(res *Result, resp *oai.ChatResponse) {
	if resp == nil || resp.Usage == nil {
		return
	}
	res.InputTokens = resp.Usage.PromptTokens
	res.OutputTokens = resp.Usage.CompletionTokens
}

// finalizeCosts fills token estimates where no usage was reported and
// computes the cost triple. Savings never go negative: escalating past the
// original model costs the operator, not the ledger.
func (e *Executor) finalizeCosts(req *oai.ChatRequest, res *Result, estTokens int) {
	if res.InputTokens == 0 {
		res.InputTokens = estTokens
	}
	res.OriginalCostUSD = catalog.RoundUSD(catalog.Cost(res.Decision.OriginalModel, res.InputTokens, res.OutputTokens))
	res.ActualCostUSD = catalog.RoundUSD(catalog.Cost(res.ActualModel, res.InputTokens, res.OutputTokens))
	if s := res.OriginalCostUSD - res.ActualCostUSD; s > 0 {
		res.SavingsUSD = catalog.RoundUSD(s)
	}
}

// PassthroughDecision is the decision used when the pipeline itself failed
// and the request falls open to the originally requested model.
func PassthroughDecision(model string) route.Decision {
	return route.Decision{
		OriginalModel: model,
		RoutedModel:   model,
		Tier:          classify.Moderate,
		Reason:        "passthrough",
		IsPassthrough: true,
	}
}

// Passthrough dispatches the request to its originally requested model with
// no routing, validation, or retries: exactly one upstream call. It serves
// the disabled-proxy and dry-run short circuits and the fail-open path for
// internal errors. The model field is still rewritten to the bare name,
// since providers reject the prefixed form.
func (e *Executor) Passthrough(ctx context.Context, w http.ResponseWriter, req *oai.ChatRequest, d route.Decision) *Result {
	start := time.Now()
	res := &Result{Decision: d, ActualModel: req.Model, Streamed: req.Stream}
	defer func() {
		res.ResponseTimeMs = time.Since(start).Milliseconds()
		e.finalizeCosts(req, res, 0)
	}()

	res.EscalationChain = []string{req.Model}
	body, err := requestBody(req.Raw, req.Model)
	if err != nil {
		res.StatusCode = http.StatusInternalServerError
		oai.WriteError(w, http.StatusInternalServerError,
			"upstream request failed", "server_error", "internal_error")
		return res
	}
	if req.Stream {
		upstream, err := e.doStreamRequest(ctx, req.Model, body)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) {
				e.writeBuffered(w, res, se.StatusCode, se.Body)
				return res
			}
			res.StatusCode = http.StatusInternalServerError
			oai.WriteError(w, http.StatusInternalServerError,
				"upstream request failed", "server_error", "internal_error")
			return res
		}
		defer func() { _ = upstream.Close() }()
		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		res.StatusCode = http.StatusOK
		e.decorate(w, res)
		w.WriteHeader(http.StatusOK)
		stats, _ := pumpSSE(w, upstream)
		res.InputTokens = stats.InputTokens
		res.OutputTokens = stats.OutputTokens
		res.HadToolCalls = stats.HadToolCalls
		return res
	}

	status, respBody, err := e.doRequest(ctx, req.Model, body)
	if err != nil && len(respBody) == 0 {
		res.StatusCode = http.StatusInternalServerError
		oai.WriteError(w, http.StatusInternalServerError,
			"upstream request failed", "server_error", "internal_error")
		return res
	}
	v := Validate(status, respBody, req, d.Tier)
	res.HadToolCalls = v.HadToolCalls
	recordUsage(res, v.Response)
	res.StatusCode = status
	e.decorate(w, res)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(respBody)
	return res
}
