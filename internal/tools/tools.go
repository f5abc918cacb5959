// Package tools assembles the per-request tool registry offered to the
// model during a turn.
//
// A registry is rebuilt for every turn from a fixed set (web search, web
// scraping, chat memory search) plus a dynamic set derived from the caller's
// connected integrations. Request identity travels in an explicit Context
// value captured by tool closures; there is no process-wide request state.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/loomchat/loom/internal/llm"
)

var (
	ErrDuplicateTool = errors.New("tool already registered")
	ErrInvalidTool   = errors.New("invalid tool definition")
)

// Context carries the request-scoped identity tools execute under.
type Context struct {
	UserID string
	ChatID string
}

// Tool is one callable capability exposed to the model. Execute returns a
// free-form result object; tools that produce citable material include the
// citation fields the source aggregator understands.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
	Execute     func(ctx context.Context, args map[string]any) (map[string]any, error)
}

// Registry holds the tools available to one turn. It is built once per
// request and never mutated after loading; lookups are therefore safe from
// concurrent tool-execution goroutines.
type Registry struct {
	byName map[string]*Tool
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Tool)}
}

// Register adds a tool. Names are unique within a registry.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" || t.Execute == nil {
		return ErrInvalidTool
	}
	if _, exists := r.byName[t.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name)
	}
	r.byName[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Lookup resolves a tool by name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Declarations renders the registry as provider-agnostic tool declarations,
// in registration order.
func (r *Registry) Declarations() ([]llm.ToolDecl, error) {
	decls := make([]llm.ToolDecl, 0, len(r.order))
	for _, name := range r.order {
		t := r.byName[name]
		schema, err := schemaMap(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("rendering schema for %s: %w", name, err)
		}
		decls = append(decls, llm.ToolDecl{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return decls, nil
}

// schemaMap converts a typed schema into the loose map form provider SDKs
// accept.
func schemaMap(s *jsonschema.Schema) (map[string]any, error) {
	if s == nil {
		return map[string]any{"type": "object"}, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// decodeArgs converts the model-supplied argument object into a typed input.
func decodeArgs[T any](args map[string]any) (T, error) {
	var in T
	raw, err := json.Marshal(args)
	if err != nil {
		return in, fmt.Errorf("encoding tool args: %w", err)
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return in, fmt.Errorf("decoding tool args: %w", err)
	}
	return in, nil
}

// Integration describes one external service the requesting user has
// connected. The loader turns each supported provider into tools scoped to
// that user's credential.
type Integration struct {
	Provider string
	Token    string
}

// Config carries the static settings for the fixed tool set.
type Config struct {
	SerpAPIKey     string
	SerpAPIBaseURL string

	ScraperMaxBytes int64
	ScraperMaxChars int

	HTTPTimeout time.Duration
}

// Deps carries the runtime collaborators tools execute against.
type Deps struct {
	// Memory backs chatMemorySearch. Nil disables the tool.
	Memory MemorySearcher

	// HTTPClient is shared by the outbound HTTP tools. Nil uses a default
	// client bound by Config.HTTPTimeout.
	HTTPClient *http.Client

	Integrations []Integration

	Logger *slog.Logger
}

const (
	defaultScraperMaxBytes = 5 << 20
	defaultScraperMaxChars = 20000
	defaultHTTPTimeout     = 30 * time.Second
)

// Load builds a fresh registry for one turn. When editing is true the
// chatMemorySearch tool is withheld so a rewritten question is answered from
// the visible conversation alone.
func Load(tc Context, cfg Config, deps Deps, editing bool) (*Registry, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("component", "tools")

	if cfg.ScraperMaxBytes <= 0 {
		cfg.ScraperMaxBytes = defaultScraperMaxBytes
	}
	if cfg.ScraperMaxChars <= 0 {
		cfg.ScraperMaxChars = defaultScraperMaxChars
	}
	client := deps.HTTPClient
	if client == nil {
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	reg := NewRegistry()

	if cfg.SerpAPIKey != "" {
		search, err := newWebSearchTool(cfg, client, logger)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(search); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("webSearch disabled, no search API key configured")
	}

	scraper, err := newWebScraperTool(cfg, client, logger)
	if err != nil {
		return nil, err
	}
	if err := reg.Register(scraper); err != nil {
		return nil, err
	}

	if deps.Memory != nil && !editing {
		memSearch, err := newMemorySearchTool(tc, deps.Memory, logger)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(memSearch); err != nil {
			return nil, err
		}
	}

	for _, integ := range deps.Integrations {
		switch integ.Provider {
		case githubProvider:
			ghTools, err := newGitHubTools(integ.Token, logger)
			if err != nil {
				return nil, err
			}
			for _, t := range ghTools {
				if err := reg.Register(t); err != nil {
					return nil, err
				}
			}
		default:
			logger.Warn("skipping unsupported integration", "provider", integ.Provider)
		}
	}

	return reg, nil
}
