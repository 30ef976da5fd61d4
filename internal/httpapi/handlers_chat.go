package httpapi

import (
	"io"
	"net/http"

	"github.com/clawroute/clawroute/internal/classify"
	"github.com/clawroute/clawroute/internal/executor"
	"github.com/clawroute/clawroute/internal/oai"
)

// maxBodyBytes caps the request body read. Chat requests with full document
// context fit comfortably; anything larger is a client bug.
const maxBodyBytes = 20 << 20

// ChatHandler runs the full pipeline: classify, route, execute, observe.
// Any panic inside the pipeline fails open to the originally requested
// model; the client only sees an error if even that dispatch fails.
func ChatHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			oai.WriteError(w, http.StatusBadRequest, "failed to read request body", "invalid_request_error", "invalid_body")
			return
		}
		req, err := oai.ParseRequest(body)
		if err != nil {
			oai.WriteError(w, http.StatusBadRequest, "request body is not a valid chat completion request", "invalid_request_error", "invalid_json")
			return
		}
		if req.Model == "" || len(req.Messages) == 0 {
			oai.WriteError(w, http.StatusBadRequest, "model and messages are required", "invalid_request_error", "invalid_request")
			return
		}

		var res *executor.Result
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					d.Logger.Error("pipeline panic, failing open to original model", "panic", rec)
					res = d.Executor.Passthrough(r.Context(), w, req, executor.PassthroughDecision(req.Model))
				}
			}()
			res = handleRouted(d, w, r, req)
		}()

		if res != nil {
			emitRecord(d, res)
		}
	}
}

func handleRouted(d Dependencies, w http.ResponseWriter, r *http.Request, req *oai.ChatRequest) *executor.Result {
	cls := classify.Classify(req, d.Classify)
	decision := d.Router.Decide(req, cls, r.Header.Get("X-Session-Id"))

	d.Logger.Debug("routing decision",
		"tier", decision.Tier.String(),
		"original_model", decision.OriginalModel,
		"routed_model", decision.RoutedModel,
		"reason", decision.Reason,
		"confidence", decision.Confidence,
		"dry_run", decision.IsDryRun,
		"override", decision.IsOverride,
		"passthrough", decision.IsPassthrough,
	)

	// Pass-through and dry-run behave identically on the wire: one call to
	// the original model, no retries. The decision is kept for the record.
	if decision.IsPassthrough || decision.IsDryRun {
		res := d.Executor.Passthrough(r.Context(), w, req, decision)
		res.Decision = decision
		return res
	}
	return d.Executor.Execute(r.Context(), w, req, decision, cls.EstimatedTokens)
}

// MessagesHandler is the Anthropic-native endpoint placeholder. The proxy
// speaks the chat-completions dialect only.
func MessagesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		oai.WriteError(w, http.StatusBadRequest,
			"the /v1/messages format is not supported; use /v1/chat/completions",
			"invalid_request_error", "unsupported_format")
	}
}
