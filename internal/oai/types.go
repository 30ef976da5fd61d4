// Package oai holds the OpenAI-compatible wire shapes the proxy speaks on
// both sides. Requests are kept alongside their raw bytes so that fields we
// do not model round-trip to the provider unchanged.
package oai

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ChatRequest is a partially-typed view of a chat-completions request body.
// Only the fields the classifier and router need are decoded; Raw retains
// the original bytes for forwarding.
type ChatRequest struct {
	Model      string          `json:"model"`
	Messages   []Message       `json:"messages"`
	Tools      []Tool          `json:"tools,omitempty"`
	ToolChoice json.RawMessage `json:"tool_choice,omitempty"`
	Stream     bool            `json:"stream,omitempty"`
	MaxTokens  int             `json:"max_tokens,omitempty"`

	Raw []byte `json:"-"`
}

// ParseRequest decodes the fields the proxy inspects and keeps the raw body.
func ParseRequest(body []byte) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode chat request: %w", err)
	}
	req.Raw = body
	return &req, nil
}

// Message is one entry of the messages array. Content may be a plain string
// or an array of typed content parts (multimodal requests).
type Message struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// Text returns the textual content of the message. For part-array content
// the text parts are concatenated; image parts contribute nothing.
func (m Message) Text() string {
	if len(m.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}
	var parts []contentPart
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// HasImageParts reports whether the message content contains an image part.
func (m Message) HasImageParts() bool {
	if len(m.Content) == 0 {
		return false
	}
	var parts []contentPart
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return false
	}
	for _, p := range parts {
		if p.Type == "image_url" || p.Type == "input_image" {
			return true
		}
	}
	return false
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Tool declares a callable function in the request.
type Tool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

// ToolChoiceActive reports whether tool_choice requests tool use. Absent and
// the literal "none" both count as inactive; "auto", "required", and an
// explicit function selection all count as active.
func (r *ChatRequest) ToolChoiceActive() bool {
	if len(r.ToolChoice) == 0 {
		return false
	}
	var s string
	if err := json.Unmarshal(r.ToolChoice, &s); err == nil {
		return s != "none" && s != ""
	}
	// Object form ({"type":"function",...}) is an explicit selection.
	return true
}

// LastUserText returns the text of the last user-role message, or "".
func (r *ChatRequest) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Text()
		}
	}
	return ""
}

// HasImages reports whether any message carries image content parts.
func (r *ChatRequest) HasImages() bool {
	for _, m := range r.Messages {
		if m.HasImageParts() {
			return true
		}
	}
	return false
}

// ToolCall is a model-produced instruction to invoke a named function.
type ToolCall struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// ChatResponse is a partially-typed view of a non-streaming response body.
type ChatResponse struct {
	ID      string          `json:"id,omitempty"`
	Object  string          `json:"object,omitempty"`
	Model   string          `json:"model,omitempty"`
	Choices []Choice        `json:"choices"`
	Usage   *Usage          `json:"usage,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// Choice is one completion choice.
type Choice struct {
	Index        int              `json:"index"`
	Message      *ResponseMessage `json:"message"`
	FinishReason string           `json:"finish_reason,omitempty"`
}

// ResponseMessage is the assistant message inside a choice.
type ResponseMessage struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content,omitempty"`
	ToolCalls []ToolCall      `json:"tool_calls,omitempty"`
}

// Text returns the assistant content as a string when it is one.
func (m *ResponseMessage) Text() string {
	if m == nil || len(m.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}
	return ""
}

// Usage mirrors the OpenAI usage object.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ErrorBody is the normalized error envelope written to clients:
//
//	{"error": {"message": "...", "type": "...", "code": "..."}}
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// WriteError writes the normalized error envelope with the given status.
func WriteError(w http.ResponseWriter, status int, message, errType, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: ErrorDetail{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
}
