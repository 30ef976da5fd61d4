package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/sjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/clawroute/clawroute/internal/catalog"
)

// StatusError is a non-2xx upstream response. The body is kept so it can be
// relayed to the client verbatim when retry is off the table.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned HTTP %d", e.StatusCode)
}

// requestBody rewrites the raw client body for one upstream model: only the
// model field changes (bare name, provider prefix stripped), everything else
// round-trips untouched.
func requestBody(raw []byte, modelID string) ([]byte, error) {
	out, err := sjson.SetBytes(raw, "model", catalog.BareName(modelID))
	if err != nil {
		return nil, fmt.Errorf("rewrite model field: %w", err)
	}
	return out, nil
}

// doRequest POSTs a JSON body to the provider serving modelID and returns the
// full response body. Non-2xx becomes a StatusError carrying the body.
func (e *Executor) doRequest(ctx context.Context, modelID string, body []byte) (int, []byte, error) {
	ctx, span := otel.Tracer("clawroute.upstream").Start(ctx, "upstream.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("llm.model", modelID)),
	)
	defer span.End()

	resp, err := e.send(ctx, modelID, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read response failed")
		return resp.StatusCode, nil, fmt.Errorf("read upstream response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{StatusCode: resp.StatusCode, Body: respBody}
		span.RecordError(se)
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		return resp.StatusCode, respBody, se
	}

	span.SetStatus(codes.Ok, "")
	return resp.StatusCode, respBody, nil
}

// doStreamRequest POSTs a JSON body and returns the open response for
// streaming. A non-2xx status is returned as a StatusError before any bytes
// reach the client, so the caller may still escalate.
func (e *Executor) doStreamRequest(ctx context.Context, modelID string, body []byte) (io.ReadCloser, error) {
	ctx, span := otel.Tracer("clawroute.upstream").Start(ctx, "upstream.stream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("llm.model", modelID)),
	)

	resp, err := e.send(ctx, modelID, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		span.End()
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		se := &StatusError{StatusCode: resp.StatusCode, Body: errBody}
		span.RecordError(se)
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		span.End()
		return nil, se
	}

	span.SetStatus(codes.Ok, "")
	return &spanCloser{ReadCloser: resp.Body, span: span}, nil
}

// errCircuitOpen is surfaced as a transport failure so the normal escalation
// rules apply; no request reaches the provider while its breaker is open.
var errCircuitOpen = errors.New("provider circuit open")

func (e *Executor) send(ctx context.Context, modelID string, body []byte) (*http.Response, error) {
	provider := catalog.ProviderOf(modelID)
	url := e.chatURL(provider)

	breaker := e.breakers[provider]
	if breaker != nil && !breaker.Allow() {
		return nil, fmt.Errorf("%s: %w", provider, errCircuitOpen)
	}

	if provider == catalog.Anthropic {
		// The OpenAI chat-completions shape is not 1:1 with Anthropic's
		// /v1/messages contract; tool schemas and content parts may not
		// translate. Keep that visible rather than silently degrading.
		e.log.Warn("dispatching OpenAI-shaped request to anthropic /v1/messages; shapes are not fully compatible",
			"model", modelID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range catalog.AuthHeaders(provider, e.router.KeyFor(provider)) {
		req.Header.Set(k, v)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := e.client.Do(req)
	if err != nil {
		if breaker != nil {
			breaker.RecordFailure()
		}
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	if breaker != nil {
		// 4xx means the provider is up and rejecting this request; only
		// server-side failure counts against the breaker.
		if resp.StatusCode >= 500 {
			breaker.RecordFailure()
		} else {
			breaker.RecordSuccess()
		}
	}
	return resp, nil
}

func (e *Executor) chatURL(p catalog.Provider) string {
	if e.opts.Endpoints != nil {
		return e.opts.Endpoints(p)
	}
	return catalog.ChatURL(p)
}

// spanCloser ends the stream span when the body is closed.
type spanCloser struct {
	io.ReadCloser
	span trace.Span
}

func (sc *spanCloser) Close() error {
	err := sc.ReadCloser.Close()
	sc.span.End()
	return err
}
