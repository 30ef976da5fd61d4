package app

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/clawroute/clawroute/internal/catalog"
	"github.com/clawroute/clawroute/internal/classify"
	"github.com/clawroute/clawroute/internal/route"
)

// Config is built once at startup by layering bundled defaults, an optional
// user JSON file (CLAWROUTE_CONFIG), and environment variables, in that
// order. Everything here is immutable after Validate passes; the live
// routing flags (enabled, dry-run, overrides) move into the Router.
type Config struct {
	Host  string `json:"host"`
	Port  int    `json:"port"`
	Token string `json:"token"`

	Enabled    bool `json:"enabled"`
	DryRun     bool `json:"dryRun"`
	Debug      bool `json:"debug"`
	LogContent bool `json:"logContent"`

	APIKeys map[string]string `json:"apiKeys"`

	Tiers map[string]route.TierModels `json:"tiers"`

	MaxRetries               int     `json:"maxRetries"`
	RetryDelayMs             int     `json:"retryDelayMs"`
	AlwaysFallbackToOriginal bool    `json:"alwaysFallbackToOriginal"`
	MinConfidence            float64 `json:"minConfidence"`
	ToolAwareEscalation      bool    `json:"toolAwareEscalation"`
	Conservative             bool    `json:"conservative"`

	GlobalForceModel string `json:"globalForceModel"`

	DBDSN         string `json:"dbDsn"`
	RetentionDays int    `json:"retentionDays"`

	OTelEnabled  bool   `json:"otelEnabled"`
	OTelEndpoint string `json:"otelEndpoint"`
}

func defaultConfig() Config {
	return Config{
		Host:       "127.0.0.1",
		Port:       8787,
		Enabled:    true,
		DryRun:     false,
		Debug:      false,
		LogContent: false,
		APIKeys:    map[string]string{},
		Tiers: map[string]route.TierModels{
			"heartbeat": {Primary: "google/gemini-2.5-flash-lite", Fallback: "openai/gpt-4o"},
			"simple":    {Primary: "google/gemini-2.5-flash", Fallback: "openai/gpt-4o-mini"},
			"moderate":  {Primary: "deepseek/deepseek-chat", Fallback: "anthropic/claude-3-5-haiku"},
			"complex":   {Primary: "anthropic/claude-sonnet-4-5", Fallback: "openai/gpt-4o"},
			"frontier":  {Primary: "anthropic/claude-opus-4-1", Fallback: "openai/o1"},
		},
		MaxRetries:               2,
		RetryDelayMs:             500,
		AlwaysFallbackToOriginal: true,
		MinConfidence:            0.7,
		ToolAwareEscalation:      true,
		Conservative:             true,
		DBDSN:                    "file:clawroute.sqlite",
		RetentionDays:            30,
	}
}

// LoadConfig layers defaults, the optional JSON file, and the environment.
func LoadConfig() (Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CLAWROUTE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Host = getEnv("CLAWROUTE_HOST", cfg.Host)
	cfg.Port = getEnvInt("CLAWROUTE_PORT", cfg.Port)
	cfg.Token = getEnv("CLAWROUTE_TOKEN", cfg.Token)
	cfg.Enabled = getEnvBool("CLAWROUTE_ENABLED", cfg.Enabled)
	cfg.DryRun = getEnvBool("CLAWROUTE_DRY_RUN", cfg.DryRun)
	cfg.Debug = getEnvBool("CLAWROUTE_DEBUG", cfg.Debug)
	cfg.LogContent = getEnvBool("CLAWROUTE_LOG_CONTENT", cfg.LogContent)
	cfg.DBDSN = getEnv("CLAWROUTE_DB_DSN", cfg.DBDSN)
	cfg.RetentionDays = getEnvInt("CLAWROUTE_RETENTION_DAYS", cfg.RetentionDays)
	cfg.MaxRetries = getEnvInt("CLAWROUTE_MAX_RETRIES", cfg.MaxRetries)
	cfg.RetryDelayMs = getEnvInt("CLAWROUTE_RETRY_DELAY_MS", cfg.RetryDelayMs)
	cfg.MinConfidence = getEnvFloat("CLAWROUTE_MIN_CONFIDENCE", cfg.MinConfidence)
	cfg.ToolAwareEscalation = getEnvBool("CLAWROUTE_TOOL_AWARE_ESCALATION", cfg.ToolAwareEscalation)
	cfg.Conservative = getEnvBool("CLAWROUTE_CONSERVATIVE", cfg.Conservative)
	cfg.AlwaysFallbackToOriginal = getEnvBool("CLAWROUTE_ALWAYS_FALLBACK", cfg.AlwaysFallbackToOriginal)
	cfg.OTelEnabled = getEnvBool("CLAWROUTE_OTEL_ENABLED", cfg.OTelEnabled)
	cfg.OTelEndpoint = getEnv("CLAWROUTE_OTEL_ENDPOINT", cfg.OTelEndpoint)

	for _, p := range []string{"anthropic", "openai", "google", "deepseek", "openrouter"} {
		envKey := envKeyName(p)
		if v := os.Getenv(envKey); v != "" {
			cfg.APIKeys[p] = v
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envKeyName(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "deepseek":
		return "DEEPSEEK_API_KEY"
	default:
		return "OPENROUTER_API_KEY"
	}
}

// Validate checks the startup invariants. Any failure here is fatal.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be in [1, 65535], got %d", c.Port)
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("retentionDays must be >= 1, got %d", c.RetentionDays)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("minConfidence must be in [0, 1], got %f", c.MinConfidence)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must be >= 0, got %d", c.MaxRetries)
	}
	if c.RetryDelayMs < 0 {
		return fmt.Errorf("retryDelayMs must be >= 0, got %d", c.RetryDelayMs)
	}
	for _, name := range []string{"heartbeat", "simple", "moderate", "complex", "frontier"} {
		tm, ok := c.Tiers[name]
		if !ok {
			return fmt.Errorf("tier %q missing from tier config", name)
		}
		if tm.Primary == "" || tm.Fallback == "" {
			return fmt.Errorf("tier %q must set both primary and fallback", name)
		}
	}
	anyKey := false
	for _, k := range c.APIKeys {
		if k != "" {
			anyKey = true
			break
		}
	}
	if !anyKey {
		return fmt.Errorf("no provider API key configured; set at least one of ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY, DEEPSEEK_API_KEY, OPENROUTER_API_KEY")
	}
	return nil
}

// TierModels converts the named tier table to the typed one the Router
// takes. Validate guarantees every tier name parses.
func (c Config) TierModels() map[classify.Tier]route.TierModels {
	out := make(map[classify.Tier]route.TierModels, len(c.Tiers))
	for name, tm := range c.Tiers {
		if t, ok := classify.ParseTier(name); ok {
			out[t] = tm
		}
	}
	return out
}

// ProviderKeys converts the named key map to the typed one.
func (c Config) ProviderKeys() map[catalog.Provider]string {
	out := make(map[catalog.Provider]string, len(c.APIKeys))
	for name, key := range c.APIKeys {
		out[catalog.Provider(name)] = key
	}
	return out
}

func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// Redacted returns the config as a map safe to serve from /api/config:
// secrets are replaced, presence is preserved.
func (c Config) Redacted() map[string]any {
	keys := make(map[string]string, len(c.APIKeys))
	for p, k := range c.APIKeys {
		if k == "" {
			keys[p] = ""
		} else {
			keys[p] = "[REDACTED]"
		}
	}
	token := ""
	if c.Token != "" {
		token = "[REDACTED]"
	}
	return map[string]any{
		"host":                     c.Host,
		"port":                     c.Port,
		"token":                    token,
		"apiKeys":                  keys,
		"tiers":                    c.Tiers,
		"maxRetries":               c.MaxRetries,
		"retryDelayMs":             c.RetryDelayMs,
		"alwaysFallbackToOriginal": c.AlwaysFallbackToOriginal,
		"minConfidence":            c.MinConfidence,
		"toolAwareEscalation":      c.ToolAwareEscalation,
		"conservative":             c.Conservative,
		"retentionDays":            c.RetentionDays,
		"logContent":               c.LogContent,
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}
