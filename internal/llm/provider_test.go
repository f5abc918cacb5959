package llm

import (
	"context"
	"errors"
	"testing"
)

func TestDetectProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  ProviderKind
	}{
		{"gpt-4.1", ProviderOpenAI},
		{"gpt-5.2", ProviderOpenAI},
		{"claude-sonnet-4-5", ProviderAnthropic},
		{"gemini-2.5-flash", ProviderGemini},
		{"deepseek-chat", ProviderDeepSeek},
		{"grok-4-1-fast-reasoning", ProviderXAI},
		{"llama3.3", ProviderUnknown},
		{"", ProviderUnknown},
	}

	for _, tt := range tests {
		if got := DetectProvider(tt.model); got != tt.want {
			t.Errorf("DetectProvider(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}

func TestNewClient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("unknown model", func(t *testing.T) {
		t.Parallel()
		_, err := NewClient(ctx, ClientConfig{Model: "llama3.3"})
		if !errors.Is(err, ErrUnsupportedModel) {
			t.Errorf("want ErrUnsupportedModel, got %v", err)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		t.Parallel()
		_, err := NewClient(ctx, ClientConfig{Model: "gpt-4.1"})
		if !errors.Is(err, ErrMissingAPIKey) {
			t.Errorf("want ErrMissingAPIKey, got %v", err)
		}
	})

	t.Run("openai-compatible families", func(t *testing.T) {
		t.Parallel()
		configs := []ClientConfig{
			{Model: "gpt-4.1", OpenAIAPIKey: "k"},
			{Model: "claude-sonnet-4-5", AnthropicAPIKey: "k"},
			{Model: "grok-4-1-fast-reasoning", XAIAPIKey: "k", ConversationID: "chat-1"},
			{Model: "deepseek-chat", DeepSeekAPIKey: "k"},
		}
		for _, cfg := range configs {
			client, err := NewClient(ctx, cfg)
			if err != nil {
				t.Fatalf("NewClient(%q) error = %v", cfg.Model, err)
			}
			if client.Model() != cfg.Model {
				t.Errorf("Model() = %q, want %q", client.Model(), cfg.Model)
			}
			if client.Provider() != DetectProvider(cfg.Model) {
				t.Errorf("Provider() = %v, want %v", client.Provider(), DetectProvider(cfg.Model))
			}
		}
	})
}

func TestMessageHelpers(t *testing.T) {
	t.Parallel()

	t.Run("text concatenation", func(t *testing.T) {
		t.Parallel()
		m := &Message{Role: RoleAssistant, Parts: []*Part{{Text: "a"}, {Text: "b"}}}
		if m.Text() != "ab" {
			t.Errorf("Text() = %q, want %q", m.Text(), "ab")
		}
	})

	t.Run("tool calls in order", func(t *testing.T) {
		t.Parallel()
		m := &Message{Role: RoleAssistant, Parts: []*Part{
			{ToolCall: &ToolCall{ID: "1", Name: "first"}},
			{Text: "thinking"},
			{ToolCall: &ToolCall{ID: "2", Name: "second"}},
		}}
		calls := m.ToolCalls()
		if len(calls) != 2 || calls[0].Name != "first" || calls[1].Name != "second" {
			t.Errorf("ToolCalls() = %+v", calls)
		}
	})

	t.Run("clone is independent", func(t *testing.T) {
		t.Parallel()
		orig := []*Message{NewUserMessage("hello")}
		cp := CloneMessages(orig)

		cp[0].CacheControl = &CacheControl{Type: "ephemeral"}
		cp[0].Parts[0].Text = "changed"

		if orig[0].CacheControl != nil {
			t.Error("clone shares CacheControl with original")
		}
		if orig[0].Parts[0].Text != "hello" {
			t.Error("clone shares parts with original")
		}
	})
}
