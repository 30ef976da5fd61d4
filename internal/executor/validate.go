package executor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clawroute/clawroute/internal/classify"
	"github.com/clawroute/clawroute/internal/oai"
)

// Validation is the outcome of checking one non-streaming upstream response.
type Validation struct {
	Valid        bool
	Reason       string
	HadToolCalls bool
	Response     *oai.ChatResponse
}

// Validate runs the pure response checks: HTTP status, body shape, embedded
// error objects, tool-call integrity against the request's declared tools,
// and a short-response guard for non-heartbeat tiers.
func Validate(status int, body []byte, req *oai.ChatRequest, tier classify.Tier) Validation {
	if status < 200 || status > 299 {
		return Validation{Reason: fmt.Sprintf("http_error_%d", status)}
	}

	var resp oai.ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Validation{Reason: "invalid_json_body"}
	}
	if len(resp.Error) > 0 && string(resp.Error) != "null" {
		return Validation{Reason: "api_error_response", Response: &resp}
	}
	if len(resp.Choices) == 0 {
		return Validation{Reason: "missing_choices", Response: &resp}
	}
	msg := resp.Choices[0].Message
	if msg == nil {
		return Validation{Reason: "missing_message", Response: &resp}
	}

	if len(msg.ToolCalls) > 0 {
		// Whatever else is wrong, tool calls were produced: the caller must
		// not retry this response.
		v := Validation{HadToolCalls: true, Response: &resp}
		if len(req.Tools) > 0 {
			declared := make(map[string]bool, len(req.Tools))
			for _, t := range req.Tools {
				declared[t.Function.Name] = true
			}
			for _, tc := range msg.ToolCalls {
				if !declared[tc.Function.Name] {
					v.Reason = "unknown_tool_name:" + tc.Function.Name
					return v
				}
				if args := strings.TrimSpace(tc.Function.Arguments); args != "" && args != "{}" {
					if !json.Valid([]byte(args)) {
						v.Reason = "invalid_tool_call_json"
						return v
					}
				}
			}
		}
		v.Valid = true
		return v
	}

	if tier != classify.Heartbeat {
		if n := len(strings.TrimSpace(msg.Text())); n >= 1 && n <= 14 {
			return Validation{Reason: "suspiciously_short_response", Response: &resp}
		}
	}

	return Validation{Valid: true, Response: &resp}
}
