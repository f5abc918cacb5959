// Package sources extracts and deduplicates citation records from tool
// results within a single turn.
//
// Tools that return citable material follow a loose convention: a
// "sources_for_citation" list (search-style tools) and/or a single
// "source_for_citation" object (scraper-style tools). Field names vary by
// tool generation, so extraction uses fallback chains rather than a strict
// schema.
package sources

import (
	"net/url"
	"strings"
)

// Extraction conventions.
const (
	listField   = "sources_for_citation"
	singleField = "source_for_citation"

	// untitledFallback is used when no title-like field is present.
	untitledFallback = "Untitled"

	// snippetMaxLen bounds excerpts pulled from a parallel results list.
	snippetMaxLen = 150
)

// Source is one citation attached to the finished assistant reply.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`

	// Label is the hostname or provider name shown next to the citation.
	Label string `json:"source,omitempty"`
}

// Aggregator accumulates deduplicated sources across all tool results of one
// turn. It is turn-scoped: create a fresh one per turn and never share it.
// Not safe for concurrent use; the orchestrator ingests results sequentially
// after each step's fan-in.
type Aggregator struct {
	sources []Source
}

// NewAggregator creates an empty turn-scoped aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Sources returns all accumulated sources in first-appearance order.
func (a *Aggregator) Sources() []Source {
	out := make([]Source, len(a.sources))
	copy(out, a.sources)
	return out
}

// Ingest scans one tool result for citation-shaped data and merges new,
// non-duplicate entries. It returns only the sources added by this call.
func (a *Aggregator) Ingest(result map[string]any) []Source {
	if result == nil {
		return nil
	}

	var added []Source

	if list, ok := result[listField].([]any); ok {
		for _, item := range list {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			src := extractSource(entry)
			if src.Snippet == "" {
				src.Snippet = snippetFromResults(result, entry, src.Title)
			}
			if a.add(src) {
				added = append(added, src)
			}
		}
	}

	if entry, ok := result[singleField].(map[string]any); ok {
		src := extractSource(entry)
		if a.add(src) {
			added = append(added, src)
		}
	}

	return added
}

// add appends src unless it duplicates an existing source. Two sources are
// duplicates when they share a non-empty URL, or share a title while either
// URL is empty. First-seen wins; order of first appearance is preserved.
func (a *Aggregator) add(src Source) bool {
	for _, existing := range a.sources {
		if src.URL != "" && existing.URL == src.URL {
			return false
		}
		if (src.URL == "" || existing.URL == "") && existing.Title == src.Title {
			return false
		}
	}
	a.sources = append(a.sources, src)
	return true
}

// extractSource maps one citation entry to a Source using fallback chains
// for each attribute.
func extractSource(entry map[string]any) Source {
	src := Source{
		Title:   stringField(entry, "title", "document_name", "name"),
		URL:     stringField(entry, "url", "document_url", "link"),
		Snippet: stringField(entry, "snippet", "description", "text_snippet"),
		Label:   stringField(entry, "source"),
	}
	if src.Title == "" {
		src.Title = untitledFallback
	}
	if src.Label == "" && src.URL != "" {
		// Parse failures leave the label empty rather than failing the turn.
		if u, err := url.Parse(src.URL); err == nil {
			src.Label = u.Hostname()
		}
	}
	return src
}

// snippetFromResults locates the entry's companion record in a parallel
// "results" list (matched by document name or id) and takes a bounded excerpt.
func snippetFromResults(result map[string]any, entry map[string]any, title string) string {
	results, ok := result["results"].([]any)
	if !ok {
		return ""
	}

	entryID := stringField(entry, "document_id")
	for _, item := range results {
		r, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := stringField(r, "document_name")
		id := stringField(r, "document_id")
		if (name == "" || name != title) && (entryID == "" || id != entryID) {
			continue
		}
		text := stringField(r, "text")
		if text == "" {
			continue
		}
		if excerpt := Truncate(text, snippetMaxLen); len(excerpt) < len(text) {
			return strings.TrimSpace(excerpt) + "..."
		}
		return strings.TrimSpace(text)
	}
	return ""
}

// Truncate bounds s to at most maxRunes runes, cutting on a rune boundary so
// multibyte input never ends in a split rune.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == maxRunes {
			return s[:i]
		}
		count++
	}
	return s
}

// stringField returns the first non-empty string value among keys.
func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
