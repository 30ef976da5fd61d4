package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newBufLogger(buf *bytes.Buffer) *slog.Logger {
	base := slog.NewJSONHandler(buf, nil)
	return slog.New(&RedactingHandler{base: base})
}

func TestRedactingHandlerRedactsAuthHeaders(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufLogger(&buf)

	logger.Info("test",
		slog.String("authorization", "Bearer sk-secret"),
		slog.String("x-api-key", "my-key"),
		slog.String("method", "POST"),
	)

	output := buf.String()
	if strings.Contains(output, "sk-secret") {
		t.Error("authorization header value should be redacted")
	}
	if strings.Contains(output, "my-key") {
		t.Error("x-api-key value should be redacted")
	}
	if !strings.Contains(output, "[REDACTED]") {
		t.Error("expected [REDACTED] placeholder")
	}
	if !strings.Contains(output, "POST") {
		t.Error("non-sensitive values should be preserved")
	}
}

func TestContentRedactedByDefault(t *testing.T) {
	logContent.Store(false)
	var buf bytes.Buffer
	logger := newBufLogger(&buf)

	logger.Info("test",
		slog.String("content", "the user's private prompt"),
		slog.String("body", `{"messages":[{"role":"user","content":"secret stuff"}]}`),
	)

	output := buf.String()
	if strings.Contains(output, "private prompt") {
		t.Error("prompt content should be redacted by default")
	}
	if strings.Contains(output, "secret stuff") {
		t.Error("request body should be redacted by default")
	}
}

func TestContentAllowedWhenEnabled(t *testing.T) {
	logContent.Store(true)
	t.Cleanup(func() { logContent.Store(false) })

	var buf bytes.Buffer
	logger := newBufLogger(&buf)
	logger.Info("test", slog.String("content", "visible prompt text"))

	if !strings.Contains(buf.String(), "visible prompt text") {
		t.Error("content should pass through when content logging is enabled")
	}
	if !ContentAllowed() {
		t.Error("ContentAllowed should report true")
	}
}

func TestRedactingHandlerRedactsKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufLogger(&buf)

	logger.Info("test",
		slog.String("api_key", "sk-12345"),
		slog.String("password", "hunter2"),
		slog.String("secret_token", "abc"),
		slog.String("token", "eyJhbGciOiJIUzI1NiJ9.payload.sig"),
	)

	output := buf.String()
	for _, leak := range []string{"sk-12345", "hunter2", `"abc"`, "eyJhbGciOiJIUzI1NiJ9"} {
		if strings.Contains(output, leak) {
			t.Errorf("value %q should be redacted", leak)
		}
	}
}

func TestRedactingHandlerKeepsTokenCounts(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufLogger(&buf)

	logger.Info("test",
		slog.Int("input_tokens", 120),
		slog.Int("max_tokens", 4096),
		slog.String("api_token", "sk-leaky"),
	)

	output := buf.String()
	if !strings.Contains(output, `"input_tokens":120`) {
		t.Error("input_tokens count should not be redacted")
	}
	if !strings.Contains(output, `"max_tokens":4096`) {
		t.Error("max_tokens count should not be redacted")
	}
	if strings.Contains(output, "sk-leaky") {
		t.Error("api_token value should be redacted")
	}
}

func TestRedactingHandlerPreservesNonSensitive(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufLogger(&buf)

	logger.Info("test",
		slog.String("path", "/v1/chat/completions"),
		slog.Int("status", 200),
	)

	output := buf.String()
	if !strings.Contains(output, "/v1/chat/completions") {
		t.Error("path should be preserved")
	}
	if !strings.Contains(output, "200") {
		t.Error("status should be preserved")
	}
}

func TestRedactingHandlerEnabled(t *testing.T) {
	base := slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	handler := &RedactingHandler{base: base}

	if handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should not be enabled when level is warn")
	}
	if !handler.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be enabled")
	}
}

func TestRedactingHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := &RedactingHandler{base: base}

	childHandler := handler.WithAttrs([]slog.Attr{
		slog.String("authorization", "Bearer leaked-token"),
		slog.String("method", "GET"),
	})
	slog.New(childHandler).Info("request")

	output := buf.String()
	if strings.Contains(output, "leaked-token") {
		t.Error("authorization in WithAttrs should be redacted")
	}
	if !strings.Contains(output, "GET") {
		t.Error("non-sensitive WithAttrs value should be preserved")
	}
}

func TestSetupReturnsLogger(t *testing.T) {
	logger := Setup(false, false)
	if logger == nil {
		t.Error("expected non-nil logger")
	}
	if globalLevel.Level() != slog.LevelInfo {
		t.Errorf("level = %v, want info", globalLevel.Level())
	}
	Setup(true, false)
	if globalLevel.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", globalLevel.Level())
	}
}

func TestRequestLoggerLogsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufLogger(&buf)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := httptest.NewServer(RequestLogger(logger)(inner))
	defer server.Close()

	req, _ := http.NewRequest("GET", server.URL+"/v1/chat/completions", nil)
	req.Header.Set("X-Request-ID", "req-test-12345")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse log output as JSON: %v\nOutput: %s", err, buf.String())
	}
	if msg, _ := logEntry["msg"].(string); msg != "http_request" {
		t.Errorf("expected msg 'http_request', got %v", logEntry["msg"])
	}
	if path, _ := logEntry["path"].(string); path != "/v1/chat/completions" {
		t.Errorf("expected chat path, got %v", logEntry["path"])
	}
	if status, _ := logEntry["status"].(float64); int(status) != 200 {
		t.Errorf("expected status 200, got %v", logEntry["status"])
	}
	if reqID, _ := logEntry["request_id"].(string); reqID != "req-test-12345" {
		t.Errorf("expected request_id 'req-test-12345', got %v", logEntry["request_id"])
	}
}
