package tools

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/loomchat/loom/internal/memory"
)

func noopExecute(context.Context, map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	t.Run("register and lookup", func(t *testing.T) {
		t.Parallel()
		reg := NewRegistry()
		if err := reg.Register(&Tool{Name: "alpha", Execute: noopExecute}); err != nil {
			t.Fatal(err)
		}
		if _, ok := reg.Lookup("alpha"); !ok {
			t.Error("registered tool not found")
		}
		if _, ok := reg.Lookup("missing"); ok {
			t.Error("unregistered tool found")
		}
	})

	t.Run("duplicate name rejected", func(t *testing.T) {
		t.Parallel()
		reg := NewRegistry()
		if err := reg.Register(&Tool{Name: "alpha", Execute: noopExecute}); err != nil {
			t.Fatal(err)
		}
		err := reg.Register(&Tool{Name: "alpha", Execute: noopExecute})
		if !errors.Is(err, ErrDuplicateTool) {
			t.Errorf("want ErrDuplicateTool, got %v", err)
		}
	})

	t.Run("invalid tool rejected", func(t *testing.T) {
		t.Parallel()
		reg := NewRegistry()
		if err := reg.Register(&Tool{Name: "", Execute: noopExecute}); !errors.Is(err, ErrInvalidTool) {
			t.Errorf("want ErrInvalidTool for empty name, got %v", err)
		}
		if err := reg.Register(&Tool{Name: "x"}); !errors.Is(err, ErrInvalidTool) {
			t.Errorf("want ErrInvalidTool for nil execute, got %v", err)
		}
	})

	t.Run("declarations preserve order and schema", func(t *testing.T) {
		t.Parallel()
		reg := NewRegistry()
		for _, name := range []string{"c", "a", "b"} {
			if err := reg.Register(&Tool{Name: name, Description: "d " + name, Execute: noopExecute}); err != nil {
				t.Fatal(err)
			}
		}

		decls, err := reg.Declarations()
		if err != nil {
			t.Fatal(err)
		}
		if len(decls) != 3 {
			t.Fatalf("got %d declarations, want 3", len(decls))
		}
		for i, want := range []string{"c", "a", "b"} {
			if decls[i].Name != want {
				t.Errorf("declaration %d = %q, want %q", i, decls[i].Name, want)
			}
		}
		if decls[0].InputSchema["type"] != "object" {
			t.Errorf("nil schema should render as object, got %v", decls[0].InputSchema)
		}
	})
}

type fakeSearcher struct {
	entries []memory.Entry
	err     error

	gotUserID string
	gotQuery  string
	gotLimit  int
}

func (f *fakeSearcher) Search(_ context.Context, userID, query string, limit int, _, _ *time.Time) ([]memory.Entry, error) {
	f.gotUserID = userID
	f.gotQuery = query
	f.gotLimit = limit
	return f.entries, f.err
}

func testConfig() Config {
	return Config{SerpAPIKey: "test-key"}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)

	t.Run("fixed set", func(t *testing.T) {
		t.Parallel()
		reg, err := Load(Context{UserID: "u1", ChatID: "c1"}, testConfig(),
			Deps{Memory: &fakeSearcher{}, Logger: logger}, false)
		if err != nil {
			t.Fatal(err)
		}

		for _, name := range []string{"webSearch", "webScraper", "chatMemorySearch"} {
			if _, ok := reg.Lookup(name); !ok {
				t.Errorf("tool %s missing from registry", name)
			}
		}
	})

	t.Run("editing withholds memory search", func(t *testing.T) {
		t.Parallel()
		reg, err := Load(Context{UserID: "u1", ChatID: "c1"}, testConfig(),
			Deps{Memory: &fakeSearcher{}, Logger: logger}, true)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := reg.Lookup("chatMemorySearch"); ok {
			t.Error("chatMemorySearch should be withheld while editing")
		}
		if _, ok := reg.Lookup("webSearch"); !ok {
			t.Error("webSearch should stay available while editing")
		}
	})

	t.Run("no search key drops webSearch only", func(t *testing.T) {
		t.Parallel()
		reg, err := Load(Context{UserID: "u1"}, Config{}, Deps{Logger: logger}, false)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := reg.Lookup("webSearch"); ok {
			t.Error("webSearch should be absent without an API key")
		}
		if _, ok := reg.Lookup("webScraper"); !ok {
			t.Error("webScraper should not depend on the search key")
		}
	})

	t.Run("github integration adds tools", func(t *testing.T) {
		t.Parallel()
		reg, err := Load(Context{UserID: "u1"}, testConfig(), Deps{
			Logger:       logger,
			Integrations: []Integration{{Provider: "github", Token: "tok"}},
		}, false)
		if err != nil {
			t.Fatal(err)
		}
		for _, name := range []string{"githubSearchRepositories", "githubListIssues"} {
			if _, ok := reg.Lookup(name); !ok {
				t.Errorf("tool %s missing from registry", name)
			}
		}
	})

	t.Run("github integration requires token", func(t *testing.T) {
		t.Parallel()
		_, err := Load(Context{UserID: "u1"}, testConfig(), Deps{
			Logger:       logger,
			Integrations: []Integration{{Provider: "github"}},
		}, false)
		if err == nil {
			t.Error("want error for github integration without token")
		}
	})

	t.Run("unknown integration skipped", func(t *testing.T) {
		t.Parallel()
		reg, err := Load(Context{UserID: "u1"}, testConfig(), Deps{
			Logger:       logger,
			Integrations: []Integration{{Provider: "jira", Token: "tok"}},
		}, false)
		if err != nil {
			t.Fatal(err)
		}
		if got := len(reg.Names()); got != 2 {
			t.Errorf("registry has %d tools, want 2 (webSearch, webScraper)", got)
		}
	})
}

func TestMemorySearchTool(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	when := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	t.Run("binds user and formats entries", func(t *testing.T) {
		t.Parallel()
		searcher := &fakeSearcher{entries: []memory.Entry{
			{ChatID: "c9", Role: "user", Content: "prefers tabs", CreatedAt: when},
		}}
		tool, err := newMemorySearchTool(Context{UserID: "u1", ChatID: "c1"}, searcher, logger)
		if err != nil {
			t.Fatal(err)
		}

		out, err := tool.Execute(context.Background(), map[string]any{"query": "tabs"})
		if err != nil {
			t.Fatal(err)
		}

		if searcher.gotUserID != "u1" {
			t.Errorf("searcher user = %q, want u1", searcher.gotUserID)
		}
		if searcher.gotLimit != defaultMemoryLimit {
			t.Errorf("limit = %d, want default %d", searcher.gotLimit, defaultMemoryLimit)
		}
		memories, ok := out["memories"].([]any)
		if !ok || len(memories) != 1 {
			t.Fatalf("memories = %v", out["memories"])
		}
		first := memories[0].(map[string]any)
		if first["content"] != "prefers tabs" || first["when"] != "2026-03-14T09:00:00Z" {
			t.Errorf("entry = %v", first)
		}
	})

	t.Run("rejects bad dates", func(t *testing.T) {
		t.Parallel()
		tool, err := newMemorySearchTool(Context{UserID: "u1"}, &fakeSearcher{}, logger)
		if err != nil {
			t.Fatal(err)
		}
		_, err = tool.Execute(context.Background(), map[string]any{"query": "x", "from": "yesterday"})
		if err == nil {
			t.Error("want error for unparseable date")
		}
	})

	t.Run("requires query", func(t *testing.T) {
		t.Parallel()
		tool, err := newMemorySearchTool(Context{UserID: "u1"}, &fakeSearcher{}, logger)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := tool.Execute(context.Background(), map[string]any{}); err == nil {
			t.Error("want error for missing query")
		}
	})
}

func TestParseMemoryDate(t *testing.T) {
	t.Parallel()

	t.Run("bare date upper bound is end of day", func(t *testing.T) {
		t.Parallel()
		got, err := parseMemoryDate("2026-03-14", true)
		if err != nil {
			t.Fatal(err)
		}
		if got.Hour() != 23 || got.Minute() != 59 {
			t.Errorf("upper bound = %v, want end of day", got)
		}
	})

	t.Run("rfc3339 passes through", func(t *testing.T) {
		t.Parallel()
		got, err := parseMemoryDate("2026-03-14T09:30:00Z", true)
		if err != nil {
			t.Fatal(err)
		}
		if got.Hour() != 9 || got.Minute() != 30 {
			t.Errorf("timestamp = %v, want 09:30", got)
		}
	})

	t.Run("empty is nil", func(t *testing.T) {
		t.Parallel()
		got, err := parseMemoryDate("", false)
		if err != nil || got != nil {
			t.Errorf("got %v, %v; want nil, nil", got, err)
		}
	})
}
