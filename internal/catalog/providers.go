package catalog

// Base URLs and auth header shapes are fixed per provider. Every provider
// except Anthropic speaks the OpenAI chat-completions dialect behind a
// Bearer token; Anthropic takes x-api-key plus an explicit API version.

const anthropicVersion = "2023-06-01"

var baseURLs = map[Provider]string{
	Anthropic:  "https://api.anthropic.com",
	OpenAI:     "https://api.openai.com",
	Google:     "https://generativelanguage.googleapis.com/v1beta/openai",
	DeepSeek:   "https://api.deepseek.com",
	OpenRouter: "https://openrouter.ai/api",
}

var chatPaths = map[Provider]string{
	Anthropic:  "/v1/messages",
	OpenAI:     "/v1/chat/completions",
	Google:     "/chat/completions",
	DeepSeek:   "/v1/chat/completions",
	OpenRouter: "/v1/chat/completions",
}

// BaseURL returns the fixed API origin for a provider.
func BaseURL(p Provider) string { return baseURLs[p] }

// ChatURL returns the full chat endpoint URL for a provider.
func ChatURL(p Provider) string { return baseURLs[p] + chatPaths[p] }

// AuthHeaders returns the authentication headers for a provider call.
func AuthHeaders(p Provider, key string) map[string]string {
	if p == Anthropic {
		return map[string]string{
			"x-api-key":         key,
			"anthropic-version": anthropicVersion,
		}
	}
	return map[string]string{"Authorization": "Bearer " + key}
}
