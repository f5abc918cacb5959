package llm

import (
	"reflect"
	"testing"
)

// conversation builds a history of n messages with a leading system message.
func conversation(n int) []*Message {
	msgs := []*Message{NewSystemMessage("you are helpful")}
	for i := 1; i < n; i++ {
		if i%2 == 1 {
			msgs = append(msgs, NewUserMessage("question"))
		} else {
			msgs = append(msgs, NewAssistantMessage("answer"))
		}
	}
	return msgs
}

func annotatedPositions(msgs []*Message) []int {
	var positions []int
	for i, m := range msgs {
		if m.CacheControl != nil {
			positions = append(positions, i)
		}
	}
	return positions
}

func TestApplyCachingAnthropic(t *testing.T) {
	t.Parallel()

	t.Run("system message gets a breakpoint", func(t *testing.T) {
		t.Parallel()
		plan := ApplyCaching(ProviderAnthropic, "claude-sonnet-4-5", conversation(10))

		if plan.Messages[0].CacheControl == nil {
			t.Error("system message should carry a cache breakpoint")
		}
		if plan.ExtraOptions != nil {
			t.Errorf("anthropic plan should not set extra options, got %v", plan.ExtraOptions)
		}
	})

	t.Run("never annotates the last two messages", func(t *testing.T) {
		t.Parallel()
		for n := 1; n <= 30; n++ {
			plan := ApplyCaching(ProviderAnthropic, "claude-sonnet-4-5", conversation(n))
			for _, pos := range annotatedPositions(plan.Messages) {
				if pos >= n-cacheExcludeLastN && pos != 0 {
					t.Errorf("n=%d: message %d annotated inside the excluded tail", n, pos)
				}
			}
		}
	})

	t.Run("at most four breakpoints", func(t *testing.T) {
		t.Parallel()
		for n := 1; n <= 50; n++ {
			plan := ApplyCaching(ProviderAnthropic, "claude-sonnet-4-5", conversation(n))
			if got := len(annotatedPositions(plan.Messages)); got > maxCacheBreakpoints {
				t.Errorf("n=%d: %d breakpoints, want <= %d", n, got, maxCacheBreakpoints)
			}
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		t.Parallel()
		once := ApplyCaching(ProviderAnthropic, "claude-sonnet-4-5", conversation(12))
		twice := ApplyCaching(ProviderAnthropic, "claude-sonnet-4-5", once.Messages)

		if !reflect.DeepEqual(annotatedPositions(once.Messages), annotatedPositions(twice.Messages)) {
			t.Errorf("positions changed on second application: %v vs %v",
				annotatedPositions(once.Messages), annotatedPositions(twice.Messages))
		}
	})

	t.Run("does not mutate input", func(t *testing.T) {
		t.Parallel()
		in := conversation(8)
		ApplyCaching(ProviderAnthropic, "claude-sonnet-4-5", in)

		for i, m := range in {
			if m.CacheControl != nil {
				t.Errorf("input message %d was mutated", i)
			}
		}
	})

	t.Run("single message history", func(t *testing.T) {
		t.Parallel()
		plan := ApplyCaching(ProviderAnthropic, "claude-sonnet-4-5", []*Message{NewUserMessage("hi")})
		if got := len(annotatedPositions(plan.Messages)); got != 0 {
			t.Errorf("one-message history should have no breakpoints, got %d", got)
		}
	})
}

func TestApplyCachingOpenAI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		model         string
		wantRetention bool
	}{
		{"gpt-5 gets retention window", "gpt-5.2", true},
		{"gpt-5.1 gets retention window", "gpt-5.1", true},
		{"gpt-4.1 passes through", "gpt-4.1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := conversation(6)
			plan := ApplyCaching(ProviderOpenAI, tt.model, in)

			if len(annotatedPositions(plan.Messages)) != 0 {
				t.Error("openai plan must not annotate messages")
			}
			_, ok := plan.ExtraOptions[retentionOptionKey]
			if ok != tt.wantRetention {
				t.Errorf("retention option present = %v, want %v", ok, tt.wantRetention)
			}
		})
	}
}

func TestApplyCachingPassthrough(t *testing.T) {
	t.Parallel()

	kinds := []ProviderKind{ProviderXAI, ProviderGemini, ProviderDeepSeek, ProviderUnknown}
	for _, kind := range kinds {
		in := conversation(6)
		plan := ApplyCaching(kind, "some-model", in)

		if len(plan.Messages) != len(in) {
			t.Errorf("%s: message count changed", kind)
		}
		if len(annotatedPositions(plan.Messages)) != 0 {
			t.Errorf("%s: pass-through provider annotated messages", kind)
		}
		if plan.ExtraOptions != nil {
			t.Errorf("%s: pass-through provider set extra options", kind)
		}
	}
}
