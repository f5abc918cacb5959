package llm

// Prompt-cache strategy selection.
//
// Providers expose incompatible caching mechanisms: Anthropic wants explicit
// cache-control breakpoints on messages, OpenAI's gpt-5 variants accept a
// retention-window request option, Grok keys its cache off a conversation-id
// header fixed at the client, and Gemini/DeepSeek cache implicitly. The
// ApplyCaching transform isolates all of that so the orchestrator stays
// provider-agnostic.

import "strings"

const (
	// maxCacheBreakpoints is Anthropic's limit on cache-control markers.
	maxCacheBreakpoints = 4

	// cacheExcludeLastN keeps the most recent messages unannotated; they
	// change every step and would only churn the cache.
	cacheExcludeLastN = 2

	// retentionOptionKey and retentionWindow request extended prompt
	// retention on OpenAI gpt-5 variants.
	retentionOptionKey = "cached_prompt_retention"
	retentionWindow    = "24h"
)

// CachePlan is the result of strategy selection: a (possibly annotated) copy
// of the message list plus provider-specific request options.
type CachePlan struct {
	Messages []*Message

	// ExtraOptions is nil when the provider needs no request-level options.
	ExtraOptions map[string]any
}

// ApplyCaching selects and applies the prompt-cache strategy for the provider
// family. It is a pure function: the input slice and its messages are never
// mutated, and applying it to its own output yields the same result.
func ApplyCaching(kind ProviderKind, model string, messages []*Message) CachePlan {
	switch kind {
	case ProviderAnthropic:
		return CachePlan{Messages: annotateBreakpoints(messages)}

	case ProviderOpenAI:
		plan := CachePlan{Messages: messages}
		if strings.Contains(strings.ToLower(model), "gpt-5") {
			plan.ExtraOptions = map[string]any{retentionOptionKey: retentionWindow}
		}
		return plan

	case ProviderXAI:
		// Conversation-id header is fixed on the client, not per message.
		return CachePlan{Messages: messages}

	case ProviderGemini, ProviderDeepSeek, ProviderUnknown:
		// Implicit/automatic caching; nothing to do.
		return CachePlan{Messages: messages}
	}
	return CachePlan{Messages: messages}
}

// annotateBreakpoints marks up to maxCacheBreakpoints messages as cache
// breakpoints: the system message first, then evenly spaced positions across
// the list, always excluding the last cacheExcludeLastN messages.
//
// Returned messages are copies; existing annotations are replaced, not
// stacked, which keeps the transform idempotent.
func annotateBreakpoints(messages []*Message) []*Message {
	if len(messages) == 0 {
		return messages
	}

	out := make([]*Message, len(messages))
	for i, m := range messages {
		cp := CloneMessage(m)
		cp.CacheControl = nil
		out[i] = cp
	}

	added := 0
	if out[0].Role == RoleSystem {
		out[0].CacheControl = &CacheControl{Type: "ephemeral"}
		added++
	}

	cacheable := len(out) - cacheExcludeLastN
	if cacheable <= 1 {
		return out
	}

	remaining := maxCacheBreakpoints - added
	interval := cacheable / (remaining + 1)

	for i := 1; i <= remaining && added < maxCacheBreakpoints; i++ {
		pos := min(interval*i, cacheable-1)
		if pos <= 0 || pos >= len(out) {
			continue
		}
		if out[pos].CacheControl == nil {
			added++
		}
		out[pos].CacheControl = &CacheControl{Type: "ephemeral"}
	}

	return out
}
