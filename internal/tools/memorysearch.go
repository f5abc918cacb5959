package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/loomchat/loom/internal/memory"
)

const (
	memorySearchToolName = "chatMemorySearch"

	defaultMemoryLimit = 5
	maxMemoryLimit     = 20
)

// MemorySearcher is the slice of the chat memory store this package needs.
type MemorySearcher interface {
	Search(ctx context.Context, userID, query string, limit int, from, to *time.Time) ([]memory.Entry, error)
}

// newMemorySearchTool builds the cross-chat memory recall tool, bound to the
// requesting user. The chat id travels along for log correlation only; recall
// is always user-wide.
func newMemorySearchTool(tc Context, searcher MemorySearcher, logger *slog.Logger) (*Tool, error) {
	schema, err := jsonschema.For[MemorySearchInput](nil)
	if err != nil {
		return nil, fmt.Errorf("building chatMemorySearch schema: %w", err)
	}

	execute := func(ctx context.Context, args map[string]any) (map[string]any, error) {
		in, err := decodeArgs[MemorySearchInput](args)
		if err != nil {
			return nil, err
		}
		if in.Query == "" {
			return nil, fmt.Errorf("query is required")
		}
		limit := in.Limit
		if limit <= 0 {
			limit = defaultMemoryLimit
		}
		if limit > maxMemoryLimit {
			limit = maxMemoryLimit
		}

		from, err := parseMemoryDate(in.From, false)
		if err != nil {
			return nil, fmt.Errorf("invalid from date: %w", err)
		}
		to, err := parseMemoryDate(in.To, true)
		if err != nil {
			return nil, fmt.Errorf("invalid to date: %w", err)
		}

		entries, err := searcher.Search(ctx, tc.UserID, in.Query, limit, from, to)
		if err != nil {
			return nil, fmt.Errorf("searching chat memory: %w", err)
		}

		memories := make([]any, 0, len(entries))
		for _, e := range entries {
			memories = append(memories, map[string]any{
				"chat_id": e.ChatID,
				"role":    e.Role,
				"content": e.Content,
				"when":    e.CreatedAt.UTC().Format(time.RFC3339),
			})
		}

		logger.Info("chat memory searched",
			"user_id", tc.UserID, "chat_id", tc.ChatID, "query", in.Query, "hits", len(memories))
		return map[string]any{
			"query":    in.Query,
			"count":    len(memories),
			"memories": memories,
		}, nil
	}

	return &Tool{
		Name:        memorySearchToolName,
		Description: "Search the user's past conversations for relevant context. Supports an optional date range.",
		InputSchema: schema,
		Execute:     execute,
	}, nil
}

// parseMemoryDate accepts RFC 3339 timestamps or bare dates. A bare date on
// the upper bound is pushed to end of day so the range is inclusive.
func parseMemoryDate(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
