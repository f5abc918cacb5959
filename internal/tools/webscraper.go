package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/loomchat/loom/internal/sources"
)

const (
	webScraperToolName = "webScraper"

	scraperExcerptMaxLength = 300
)

// newWebScraperTool builds the page-extraction tool. It fetches one URL,
// runs readability extraction over the HTML, and falls back to the document
// <title> and meta description when the extractor comes back empty.
func newWebScraperTool(cfg Config, client *http.Client, logger *slog.Logger) (*Tool, error) {
	schema, err := jsonschema.For[WebScraperInput](nil)
	if err != nil {
		return nil, fmt.Errorf("building webScraper schema: %w", err)
	}

	execute := func(ctx context.Context, args map[string]any) (map[string]any, error) {
		in, err := decodeArgs[WebScraperInput](args)
		if err != nil {
			return nil, err
		}
		pageURL, err := url.Parse(in.URL)
		if err != nil || pageURL.Scheme != "http" && pageURL.Scheme != "https" {
			return nil, fmt.Errorf("invalid url %q", in.URL)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("building fetch request: %w", err)
		}
		req.Header.Set("Accept", "text/html,application/xhtml+xml")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetching page: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetching page: unexpected status %d", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
			return nil, fmt.Errorf("unsupported content type %q", ct)
		}

		html, err := io.ReadAll(io.LimitReader(resp.Body, cfg.ScraperMaxBytes))
		if err != nil {
			return nil, fmt.Errorf("reading page body: %w", err)
		}

		title, content, excerpt := extractReadable(html, pageURL)
		if content == "" {
			return nil, fmt.Errorf("no readable content at %s", pageURL)
		}
		if title == "" {
			title = pageURL.Hostname()
		}
		truncated := false
		if c := sources.Truncate(content, cfg.ScraperMaxChars); len(c) < len(content) {
			content = c
			truncated = true
		}
		if excerpt == "" {
			excerpt = content
		}
		if e := sources.Truncate(excerpt, scraperExcerptMaxLength); len(e) < len(excerpt) {
			excerpt = strings.TrimSpace(e) + "..."
		}

		logger.Info("page scraped", "url", pageURL.String(), "chars", len(content), "truncated", truncated)
		return map[string]any{
			"url":       pageURL.String(),
			"title":     title,
			"content":   content,
			"truncated": truncated,
			"source_for_citation": map[string]any{
				"title":   title,
				"url":     pageURL.String(),
				"snippet": excerpt,
			},
		}, nil
	}

	return &Tool{
		Name:        webScraperToolName,
		Description: "Fetch a web page and extract its readable text content. Use after webSearch to read a promising result in full.",
		InputSchema: schema,
		Execute:     execute,
	}, nil
}

// extractReadable pulls title, main text and a short excerpt out of raw HTML.
// Readability output wins; goquery supplies the <title> and meta description
// when the extractor leaves them blank.
func extractReadable(html []byte, pageURL *url.URL) (title, content, excerpt string) {
	article, err := readability.FromReader(bytes.NewReader(html), pageURL)
	if err == nil {
		title = strings.TrimSpace(article.Title)
		content = strings.TrimSpace(article.TextContent)
		excerpt = strings.TrimSpace(article.Excerpt)
	}

	if title != "" && content != "" && excerpt != "" {
		return title, content, excerpt
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return title, content, excerpt
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if excerpt == "" {
		excerpt = strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", ""))
	}
	if content == "" {
		doc.Find("script, style, noscript").Remove()
		content = strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	}
	return title, content, excerpt
}
