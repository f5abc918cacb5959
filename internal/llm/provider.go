package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ProviderKind is the closed set of supported provider families. All dispatch
// on provider behavior (client construction, cache strategy) switches over
// this enum so adding a provider is a compile-time-checked change.
type ProviderKind int

const (
	// ProviderUnknown is any model identifier no family claims.
	ProviderUnknown ProviderKind = iota

	// ProviderAnthropic uses explicit cache-control breakpoints (max 4).
	ProviderAnthropic

	// ProviderOpenAI caches automatically; gpt-5 variants accept an
	// extended retention window option.
	ProviderOpenAI

	// ProviderGemini enables implicit caching on 2.5+ models.
	ProviderGemini

	// ProviderDeepSeek caches context on disk automatically.
	ProviderDeepSeek

	// ProviderXAI scopes its automatic cache by a conversation-id header
	// set at the client level.
	ProviderXAI
)

// String returns the provider family name.
func (k ProviderKind) String() string {
	switch k {
	case ProviderAnthropic:
		return "anthropic"
	case ProviderOpenAI:
		return "openai"
	case ProviderGemini:
		return "gemini"
	case ProviderDeepSeek:
		return "deepseek"
	case ProviderXAI:
		return "xai"
	case ProviderUnknown:
		return "unknown"
	}
	return fmt.Sprintf("ProviderKind(%d)", int(k))
}

// DetectProvider maps a model identifier to its provider family. This is the
// single place model identifiers are string-matched; everything downstream
// dispatches on the returned enum.
func DetectProvider(model string) ProviderKind {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "claude"):
		return ProviderAnthropic
	case strings.Contains(m, "gpt"):
		return ProviderOpenAI
	case strings.Contains(m, "gemini"):
		return ProviderGemini
	case strings.Contains(m, "deepseek"):
		return ProviderDeepSeek
	case strings.Contains(m, "grok"):
		return ProviderXAI
	default:
		return ProviderUnknown
	}
}

// Sentinel errors for client construction.
var (
	// ErrUnsupportedModel indicates no provider family claims the model.
	ErrUnsupportedModel = errors.New("unsupported model")

	// ErrMissingAPIKey indicates the resolved provider has no API key configured.
	ErrMissingAPIKey = errors.New("missing API key")
)

// Default base URLs for OpenAI-compatible providers.
const (
	xaiBaseURL       = "https://api.x.ai/v1"
	deepseekBaseURL  = "https://api.deepseek.com"
	anthropicBaseURL = "https://api.anthropic.com/v1"
)

// ClientConfig carries everything needed to build a provider client for one
// conversation. ConversationID feeds Grok's conversation-scoped cache header;
// other providers ignore it.
type ClientConfig struct {
	Model          string
	ConversationID string

	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string
	XAIAPIKey       string
	DeepSeekAPIKey  string

	// BaseURL overrides the provider endpoint for OpenAI-compatible
	// providers. Tests point this at an httptest server.
	BaseURL string
}

// NewClient builds a Client for the model's provider family.
//
// Anthropic, xAI and DeepSeek all speak the OpenAI-compatible chat API and
// share the openAIClient transport with different base URLs; the Anthropic
// path still reports ProviderAnthropic so ApplyCaching annotates breakpoints.
func NewClient(ctx context.Context, cfg ClientConfig) (Client, error) {
	kind := DetectProvider(cfg.Model)
	switch kind {
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("%w: openai", ErrMissingAPIKey)
		}
		return newOpenAIClient(kind, cfg.Model, cfg.OpenAIAPIKey, cfg.BaseURL, ""), nil

	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("%w: anthropic", ErrMissingAPIKey)
		}
		base := cfg.BaseURL
		if base == "" {
			base = anthropicBaseURL
		}
		return newOpenAIClient(kind, cfg.Model, cfg.AnthropicAPIKey, base, ""), nil

	case ProviderXAI:
		if cfg.XAIAPIKey == "" {
			return nil, fmt.Errorf("%w: xai", ErrMissingAPIKey)
		}
		base := cfg.BaseURL
		if base == "" {
			base = xaiBaseURL
		}
		return newOpenAIClient(kind, cfg.Model, cfg.XAIAPIKey, base, cfg.ConversationID), nil

	case ProviderDeepSeek:
		if cfg.DeepSeekAPIKey == "" {
			return nil, fmt.Errorf("%w: deepseek", ErrMissingAPIKey)
		}
		base := cfg.BaseURL
		if base == "" {
			base = deepseekBaseURL
		}
		return newOpenAIClient(kind, cfg.Model, cfg.DeepSeekAPIKey, base, ""), nil

	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("%w: gemini", ErrMissingAPIKey)
		}
		return newGeminiClient(ctx, cfg.Model, cfg.GeminiAPIKey)

	case ProviderUnknown:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, cfg.Model)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, cfg.Model)
}
