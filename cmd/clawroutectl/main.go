package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

var version = "dev"

// loadEnvFile reads ~/.clawroute/env and sets any key=value pairs not
// already present in the process environment, so the CLI works out of the
// box without shell profile configuration.
func loadEnvFile() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	data, err := os.ReadFile(home + "/.clawroute/env")
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if os.Getenv(strings.TrimSpace(k)) == "" {
			_ = os.Setenv(strings.TrimSpace(k), strings.TrimSpace(v))
		}
	}
}

func main() {
	loadEnvFile()
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "version", "--version", "-v":
		fmt.Printf("clawroutectl %s\n", version)
	case "status":
		doStatus()
	case "stats":
		doStats(args)
	case "config":
		doConfig()
	case "model", "models":
		doModels()
	case "enable":
		doToggle("/api/enable", "Routing enabled.")
	case "disable":
		doToggle("/api/disable", "Routing disabled (pass-through).")
	case "dry-run":
		doDryRun(args)
	case "override":
		doOverride(args)
	case "events":
		doEvents()
	case "model-test":
		doModelTest(args)
	case "help", "--help", "-h":
		usageTo(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	usageTo(os.Stderr)
}

func usageTo(w io.Writer) {
	_, _ = fmt.Fprintf(w, `clawroutectl — CLI for the ClawRoute admin API

Usage: clawroutectl <command> [arguments]

Environment:
  CLAWROUTE_URL    Base URL (default: http://127.0.0.1:8787)
  CLAWROUTE_TOKEN  Bearer token when the proxy runs with auth enabled

  ~/.clawroute/env  Auto-sourced on startup. Explicit environment
                    variables take precedence.

Commands:
  status                          Show proxy state and version
  stats [--since 24h]             Show routing totals and rolling windows
  config                          Show running configuration (secrets redacted)
  models                          List the model catalog

  enable                          Turn routing on
  disable                         Turn routing off (pass everything through)
  dry-run on|off                  Toggle dry-run mode (classify, don't reroute)

  override global <model>         Force every request to one model
  override clear                  Clear the global override
  override session <id> <model> [turns]
                                  Force a session to one model, optionally
                                  for a limited number of turns
  override delete <id>            Remove a session override

  events                          Stream real-time routing events
  model-test <model-id>           Send a test request through the proxy

  version                         Show version
  help                            Show this help

Examples:
  clawroutectl status
  clawroutectl stats --since 1h
  clawroutectl override global openai/gpt-4o
  clawroutectl override session agent-7 anthropic/claude-opus-4-1 5
  clawroutectl events
`)
}

// --- HTTP helpers ---

func baseURL() string {
	if u := os.Getenv("CLAWROUTE_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "http://127.0.0.1:8787"
}

func authToken() string {
	return os.Getenv("CLAWROUTE_TOKEN")
}

func doRequest(method, path string, body io.Reader) (*http.Response, error) {
	url := baseURL() + path
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := authToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return http.DefaultClient.Do(req)
}

func doGet(path string) map[string]any {
	resp, err := doRequest("GET", path, nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doPost(path, bodyJSON string) map[string]any {
	resp, err := doRequest("POST", path, strings.NewReader(bodyJSON))
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doDelete(path, bodyJSON string) map[string]any {
	resp, err := doRequest("DELETE", path, strings.NewReader(bodyJSON))
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func readJSON(resp *http.Response) map[string]any {
	data, err := io.ReadAll(resp.Body)
	fatal(err)
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "HTTP %d: %s\n", resp.StatusCode, string(data))
		os.Exit(1)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		fmt.Println(string(data))
		os.Exit(0)
	}
	return result
}

func prettyJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func fatal(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func requireArgs(args []string, min int, usage string) {
	if len(args) < min {
		fmt.Fprintf(os.Stderr, "usage: clawroutectl %s\n", usage)
		os.Exit(1)
	}
}

// --- Commands ---

func doStatus() {
	h := doGet("/health")
	enabled := "off"
	if h["enabled"] == true {
		enabled = "on"
	}
	dryRun := "off"
	if h["dryRun"] == true {
		dryRun = "on"
	}
	fmt.Printf("Server:   %s\n", baseURL())
	fmt.Printf("Status:   %v\n", h["status"])
	fmt.Printf("Version:  %v\n", h["version"])
	fmt.Printf("Routing:  %s\n", enabled)
	fmt.Printf("Dry-run:  %s\n", dryRun)
}

func doStats(args []string) {
	qs := ""
	for i, a := range args {
		if a == "--since" && i+1 < len(args) {
			qs = "?since=" + args[i+1]
		}
	}
	data := doGet("/stats" + qs)

	if totals, ok := data["totals"].(map[string]any); ok {
		fmt.Printf("Requests:       %s\n", fmtNum(totals["total_requests"]))
		fmt.Printf("Total savings:  %s\n", fmtCost(totals["total_savings_usd"]))
		fmt.Printf("Total spend:    %s\n", fmtCost(totals["total_actual_cost_usd"]))
		fmt.Printf("Escalated:      %s\n", fmtNum(totals["escalated_count"]))
		fmt.Printf("Dry-run:        %s\n", fmtNum(totals["dry_run_count"]))
		fmt.Printf("Avg latency:    %s\n", fmtDuration(totals["avg_response_ms"]))

		if byTier, ok := totals["by_tier"].(map[string]any); ok && len(byTier) > 0 {
			fmt.Println("\nBy tier:")
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "  TIER\tREQUESTS")
			for _, tier := range []string{"heartbeat", "simple", "moderate", "complex", "frontier"} {
				if n, ok := byTier[tier]; ok {
					_, _ = fmt.Fprintf(tw, "  %s\t%s\n", tier, fmtNum(n))
				}
			}
			_ = tw.Flush()
		}
		if byModel, ok := totals["by_model"].(map[string]any); ok && len(byModel) > 0 {
			fmt.Println("\nBy model:")
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "  MODEL\tREQUESTS")
			for model, n := range byModel {
				_, _ = fmt.Fprintf(tw, "  %s\t%s\n", model, fmtNum(n))
			}
			_ = tw.Flush()
		}
		return
	}
	fmt.Println(prettyJSON(data))
}

func doConfig() {
	fmt.Println(prettyJSON(doGet("/api/config")))
}

func doModels() {
	data := doGet("/api/models")
	models, _ := data["models"].([]any)
	if len(models) == 0 {
		fmt.Println("No models in catalog.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "MODEL\tPROVIDER\tIN $/M\tOUT $/M\tCONTEXT\tTOOLS\tVISION")
	for _, m := range models {
		mm, _ := m.(map[string]any)
		id, _ := mm["id"].(string)
		provider, _ := mm["provider"].(string)
		in := fmtNum(mm["input_cost_per_million"])
		out := fmtNum(mm["output_cost_per_million"])
		ctx := fmtNum(mm["max_context"])
		tools := yesNo(mm["tool_capable"])
		vision := yesNo(mm["multimodal"])
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", id, provider, in, out, ctx, tools, vision)
	}
	_ = tw.Flush()
}

func doToggle(path, message string) {
	doPost(path, "{}")
	fmt.Println(message)
}

func doDryRun(args []string) {
	requireArgs(args, 1, "dry-run on|off")
	switch args[0] {
	case "on":
		doPost("/api/dry-run/enable", "{}")
		fmt.Println("Dry-run enabled: requests are classified but not rerouted.")
	case "off":
		doPost("/api/dry-run/disable", "{}")
		fmt.Println("Dry-run disabled.")
	default:
		fmt.Fprintf(os.Stderr, "usage: clawroutectl dry-run on|off\n")
		os.Exit(1)
	}
}

func doOverride(args []string) {
	requireArgs(args, 1, "override <global|clear|session|delete> [args]")
	switch args[0] {
	case "global":
		requireArgs(args, 2, "override global <model>")
		doPost("/api/override/global", fmt.Sprintf(`{"model":%s}`, jsonStr(args[1])))
		fmt.Printf("All requests now forced to %s.\n", args[1])
	case "clear":
		doPost("/api/override/global", `{"enabled":false}`)
		fmt.Println("Global override cleared.")
	case "session":
		requireArgs(args, 3, "override session <id> <model> [turns]")
		body := fmt.Sprintf(`{"sessionId":%s,"model":%s`, jsonStr(args[1]), jsonStr(args[2]))
		if len(args) > 3 {
			if n, err := strconv.Atoi(args[3]); err == nil {
				body += fmt.Sprintf(`,"turns":%d`, n)
			}
		}
		body += "}"
		doPost("/api/override/session", body)
		fmt.Printf("Session %s now forced to %s.\n", args[1], args[2])
	case "delete":
		requireArgs(args, 2, "override delete <id>")
		doDelete("/api/override/session", fmt.Sprintf(`{"sessionId":%s}`, jsonStr(args[1])))
		fmt.Printf("Override for session %s removed.\n", args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown override command: %s\n", args[0])
		os.Exit(1)
	}
}

func doEvents() {
	resp, err := doRequest("GET", "/api/events", nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "HTTP %d: %s\n", resp.StatusCode, string(data))
		os.Exit(1)
	}

	fmt.Println("Streaming events (Ctrl-C to stop)...")
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			for _, line := range strings.Split(string(buf[:n]), "\n") {
				line = strings.TrimSpace(line)
				if !strings.HasPrefix(line, "data:") {
					continue
				}
				payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				var evt map[string]any
				if json.Unmarshal([]byte(payload), &evt) != nil {
					continue
				}
				evtType, _ := evt["type"].(string)
				tier, _ := evt["tier"].(string)
				original, _ := evt["original_model"].(string)
				actual, _ := evt["actual_model"].(string)
				latency := fmtDuration(evt["latency_ms"])
				savings := fmtCost(evt["savings_usd"])
				ts := time.Now().Format("15:04:05")
				fmt.Printf("[%s] %-14s %s → %s  tier=%s latency=%s saved=%s\n",
					ts, evtType, original, actual, tier, latency, savings)
			}
		}
		if err != nil {
			if err == io.EOF {
				fmt.Println("Event stream closed.")
			}
			break
		}
	}
}

func doModelTest(args []string) {
	requireArgs(args, 1, "model-test <model-id>")
	modelID := args[0]

	payload := fmt.Sprintf(`{"model":%s,"messages":[{"role":"user","content":"Say the word OK and nothing else."}],"max_tokens":5}`, jsonStr(modelID))
	start := time.Now()
	resp, err := doRequest("POST", "/v1/chat/completions", strings.NewReader(payload))
	latency := time.Since(start)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("Model:      %s\n", modelID)
	fmt.Printf("Status:     %d\n", resp.StatusCode)
	fmt.Printf("Latency:    %v\n", latency.Round(time.Millisecond))
	fmt.Printf("Routed to:  %s (tier %s)\n",
		resp.Header.Get("X-ClawRoute-Model"), resp.Header.Get("X-ClawRoute-Tier"))
	if resp.StatusCode == 200 {
		var out map[string]any
		if json.Unmarshal(body, &out) == nil {
			if choices, ok := out["choices"].([]any); ok && len(choices) > 0 {
				if ch, ok := choices[0].(map[string]any); ok {
					if msg, ok := ch["message"].(map[string]any); ok {
						content, _ := msg["content"].(string)
						if content == "" {
							content = "(empty)"
						}
						fmt.Printf("Response:   %s\n", content)
					}
				}
			}
			if usage, ok := out["usage"].(map[string]any); ok {
				fmt.Printf("Tokens:     in=%v out=%v\n", usage["prompt_tokens"], usage["completion_tokens"])
			}
		}
	} else {
		fmt.Printf("Error:      %s\n", string(body))
	}
}

// --- Formatting helpers ---

func fmtNum(v any) string {
	if v == nil {
		return "-"
	}
	switch n := v.(type) {
	case float64:
		if n == float64(int(n)) {
			return strconv.Itoa(int(n))
		}
		return strconv.FormatFloat(n, 'f', 2, 64)
	case int:
		return strconv.Itoa(n)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func fmtCost(v any) string {
	if v == nil {
		return "-"
	}
	if f, ok := v.(float64); ok {
		if f == 0 {
			return "$0"
		}
		return fmt.Sprintf("$%.4f", f)
	}
	return fmt.Sprintf("%v", v)
}

func fmtDuration(v any) string {
	if v == nil {
		return "-"
	}
	if f, ok := v.(float64); ok {
		if f < 1000 {
			return fmt.Sprintf("%.0fms", f)
		}
		return fmt.Sprintf("%.1fs", f/1000)
	}
	return fmt.Sprintf("%v", v)
}

func yesNo(v any) string {
	if v == true {
		return "yes"
	}
	return "no"
}

func jsonStr(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func init() {
	http.DefaultTransport.(*http.Transport).DisableKeepAlives = true
	http.DefaultClient.Timeout = 30 * time.Second
}
