package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawroute/clawroute/internal/catalog"
	"github.com/clawroute/clawroute/internal/classify"
	"github.com/clawroute/clawroute/internal/events"
	"github.com/clawroute/clawroute/internal/executor"
	"github.com/clawroute/clawroute/internal/route"
	"github.com/clawroute/clawroute/internal/stats"
)

func testDeps(t *testing.T, upstream *httptest.Server, token string) Dependencies {
	t.Helper()
	tiers := map[classify.Tier]route.TierModels{
		classify.Heartbeat: {Primary: "google/gemini-2.5-flash-lite", Fallback: "openai/gpt-4o"},
		classify.Simple:    {Primary: "google/gemini-2.5-flash", Fallback: "openai/gpt-4o-mini"},
		classify.Moderate:  {Primary: "deepseek/deepseek-chat", Fallback: "anthropic/claude-3-5-haiku"},
		classify.Complex:   {Primary: "anthropic/claude-sonnet-4-5", Fallback: "openai/gpt-4o"},
		classify.Frontier:  {Primary: "anthropic/claude-opus-4-1", Fallback: "openai/o1"},
	}
	keys := map[catalog.Provider]string{
		catalog.Anthropic: "k", catalog.OpenAI: "k", catalog.Google: "k",
		catalog.DeepSeek: "k", catalog.OpenRouter: "k",
	}
	rt := route.New(tiers, keys, true, false)

	opts := executor.Options{MaxRetries: 2}
	var client *http.Client
	if upstream != nil {
		opts.Endpoints = func(catalog.Provider) string { return upstream.URL }
		client = upstream.Client()
	}
	return Dependencies{
		Router:    rt,
		Executor:  executor.New(client, rt, opts, nil),
		Classify:  classify.Options{ToolAwareEscalation: true, Conservative: true, MinConfidence: 0.7},
		Stats:     stats.NewCollector(),
		Version:   "test",
		AuthToken: token,
		ConfigView: func() map[string]any {
			return map[string]any{"apiKeys": map[string]string{"openai": "[REDACTED]"}}
		},
	}
}

func newServer(t *testing.T, d Dependencies) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	MountRoutes(r, d)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func upstreamOK(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","choices":[{"index":0,"message":{"role":"assistant","content":"pong, loud and clear over here"}}],"usage":{"prompt_tokens":3,"completion_tokens":8,"total_tokens":11}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChatRoutesHeartbeat(t *testing.T) {
	up := upstreamOK(t)
	srv := newServer(t, testDeps(t, up, ""))

	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json",
		bytes.NewBufferString(`{"model":"anthropic/claude-sonnet-4-5","messages":[{"role":"user","content":"ping"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "google/gemini-2.5-flash-lite", resp.Header.Get("X-ClawRoute-Model"))
	assert.Equal(t, "heartbeat", resp.Header.Get("X-ClawRoute-Tier"))
}

func TestChatRejectsBadJSON(t *testing.T) {
	srv := newServer(t, testDeps(t, nil, ""))

	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json",
		bytes.NewBufferString(`{not json`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body map[string]map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "invalid_json", body["error"]["code"])
}

func TestMessagesUnsupported(t *testing.T) {
	srv := newServer(t, testDeps(t, nil, ""))

	resp, err := http.Post(srv.URL+"/v1/messages", "application/json",
		bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body map[string]map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "unsupported_format", body["error"]["code"])
}

func TestUnknownRouteNormalized404(t *testing.T) {
	srv := newServer(t, testDeps(t, nil, ""))

	resp, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var body map[string]map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "not_found", body["error"]["code"])
}

func TestAuthToken(t *testing.T) {
	srv := newServer(t, testDeps(t, nil, "s3cret"))

	// Missing token.
	resp, err := http.Get(srv.URL + "/api/config")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Bearer, scheme case-insensitive.
	req, _ := http.NewRequest("GET", srv.URL+"/api/config", nil)
	req.Header.Set("Authorization", "BEARER s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Query token.
	resp, err = http.Get(srv.URL + "/api/config?token=s3cret")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Wrong token.
	resp, err = http.Get(srv.URL + "/api/config?token=nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Health stays open.
	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	srv := newServer(t, testDeps(t, nil, ""))

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, true, body["enabled"])
	assert.Equal(t, false, body["dryRun"])
}

func TestEnableDisableToggles(t *testing.T) {
	d := testDeps(t, nil, "")
	srv := newServer(t, d)

	resp, err := http.Post(srv.URL+"/api/disable", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.False(t, d.Router.Enabled())

	resp, err = http.Post(srv.URL+"/api/enable", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.True(t, d.Router.Enabled())

	resp, err = http.Post(srv.URL+"/api/dry-run/enable", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.True(t, d.Router.DryRun())

	resp, err = http.Post(srv.URL+"/api/dry-run/disable", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.False(t, d.Router.DryRun())
}

func TestGlobalOverrideEndpoint(t *testing.T) {
	d := testDeps(t, nil, "")
	srv := newServer(t, d)

	resp, err := http.Post(srv.URL+"/api/override/global", "application/json",
		bytes.NewBufferString(`{"model":"openai/gpt-4o"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "openai/gpt-4o", d.Router.GlobalOverride())

	resp, err = http.Post(srv.URL+"/api/override/global", "application/json",
		bytes.NewBufferString(`{"enabled":false}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "", d.Router.GlobalOverride())
}

func TestSessionOverrideEndpoints(t *testing.T) {
	d := testDeps(t, nil, "")
	srv := newServer(t, d)

	resp, err := http.Post(srv.URL+"/api/override/session", "application/json",
		bytes.NewBufferString(`{"sessionId":"s1","model":"openai/o1","turns":3}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, d.Router.SessionOverrides(), 1)

	req, _ := http.NewRequest("DELETE", srv.URL+"/api/override/session", bytes.NewBufferString(`{"sessionId":"s1"}`))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, d.Router.SessionOverrides())

	req, _ = http.NewRequest("DELETE", srv.URL+"/api/override/session", bytes.NewBufferString(`{"sessionId":"s1"}`))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConfigRedacted(t *testing.T) {
	srv := newServer(t, testDeps(t, nil, ""))

	resp, err := http.Get(srv.URL + "/api/config")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	keys, ok := body["apiKeys"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "[REDACTED]", keys["openai"])
	assert.Contains(t, body, "enabled")
	assert.Contains(t, body, "globalForceModel")
}

func TestModelsEndpoint(t *testing.T) {
	srv := newServer(t, testDeps(t, nil, ""))

	resp, err := http.Get(srv.URL + "/api/models")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Models []catalog.Entry `json:"models"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.Models)
}

func TestDryRunDispatchesOriginalProvider(t *testing.T) {
	var gotModel string
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel = body.Model
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","choices":[{"index":0,"message":{"role":"assistant","content":"a real answer of decent length"}}]}`)
	}))
	defer up.Close()

	d := testDeps(t, up, "")
	d.Router.SetDryRun(true)
	srv := newServer(t, d)

	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json",
		bytes.NewBufferString(`{"model":"anthropic/claude-sonnet-4-5","messages":[{"role":"user","content":"ping"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	// The model on the wire must be the original, not the routed one.
	assert.Equal(t, "claude-sonnet-4-5", gotModel)
	assert.Equal(t, "anthropic/claude-sonnet-4-5", resp.Header.Get("X-ClawRoute-Model"))
}

func TestEventsStreamDeliversRouteEvents(t *testing.T) {
	d := testDeps(t, nil, "")
	d.Events = events.NewBus()
	srv := newServer(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Wait for the subscription before publishing.
	require.Eventually(t, func() bool { return d.Events.SubscriberCount() == 1 },
		time.Second, 5*time.Millisecond)
	d.Events.Publish(events.Event{
		Type:        events.EventRouteSuccess,
		ActualModel: "google/gemini-2.5-flash-lite",
		Tier:        "heartbeat",
	})

	r := bufio.NewReader(resp.Body)
	deadline := time.After(2 * time.Second)
	var got string
	for got == "" {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for SSE frame")
		default:
		}
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data:") {
			got = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	assert.Contains(t, got, `"route_success"`)
	assert.Contains(t, got, "gemini-2.5-flash-lite")
}
