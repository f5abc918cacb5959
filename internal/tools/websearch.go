package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/loomchat/loom/internal/sources"
)

const (
	webSearchToolName = "webSearch"

	defaultSerpAPIBaseURL  = "https://serpapi.com"
	defaultSearchLimit     = 5
	maxSearchLimit         = 10
	searchSnippetMaxLength = 300
)

// serpOrganicResult is the slice of a SerpAPI response the tool consumes.
type serpOrganicResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"`
}

type serpResponse struct {
	OrganicResults []serpOrganicResult `json:"organic_results"`
	Error          string              `json:"error"`
}

// newWebSearchTool builds the SerpAPI-backed web search tool. Results are
// returned both as readable entries for the model and as citation records.
func newWebSearchTool(cfg Config, client *http.Client, logger *slog.Logger) (*Tool, error) {
	schema, err := jsonschema.For[WebSearchInput](nil)
	if err != nil {
		return nil, fmt.Errorf("building webSearch schema: %w", err)
	}

	baseURL := cfg.SerpAPIBaseURL
	if baseURL == "" {
		baseURL = defaultSerpAPIBaseURL
	}

	execute := func(ctx context.Context, args map[string]any) (map[string]any, error) {
		in, err := decodeArgs[WebSearchInput](args)
		if err != nil {
			return nil, err
		}
		if in.Query == "" {
			return nil, fmt.Errorf("query is required")
		}
		limit := in.Limit
		if limit <= 0 {
			limit = defaultSearchLimit
		}
		if limit > maxSearchLimit {
			limit = maxSearchLimit
		}

		q := url.Values{}
		q.Set("engine", "google")
		q.Set("q", in.Query)
		q.Set("num", fmt.Sprint(limit))
		q.Set("api_key", cfg.SerpAPIKey)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/search.json?"+q.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("building search request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("search request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("search request: unexpected status %d", resp.StatusCode)
		}

		var body serpResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("decoding search response: %w", err)
		}
		if body.Error != "" {
			return nil, fmt.Errorf("search provider: %s", body.Error)
		}

		results := body.OrganicResults
		if len(results) > limit {
			results = results[:limit]
		}

		citations := make([]any, 0, len(results))
		for _, r := range results {
			snippet := sources.Truncate(r.Snippet, searchSnippetMaxLength)
			citations = append(citations, map[string]any{
				"title":   r.Title,
				"url":     r.Link,
				"snippet": snippet,
				"source":  r.Source,
			})
		}

		logger.Info("web search completed", "query", in.Query, "results", len(citations))
		return map[string]any{
			"query":                in.Query,
			"result_count":         len(citations),
			"sources_for_citation": citations,
		}, nil
	}

	return &Tool{
		Name:        webSearchToolName,
		Description: "Search the web for current information. Returns result titles, URLs and snippets.",
		InputSchema: schema,
		Execute:     execute,
	}, nil
}
