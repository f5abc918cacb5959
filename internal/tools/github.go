package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/go-github/v69/github"
	"github.com/google/jsonschema-go/jsonschema"
)

const (
	githubProvider = "github"

	githubSearchReposToolName = "githubSearchRepositories"
	githubListIssuesToolName  = "githubListIssues"

	defaultGitHubRepoLimit  = 5
	maxGitHubRepoLimit      = 10
	defaultGitHubIssueLimit = 10
	maxGitHubIssueLimit     = 20
)

// newGitHubTools builds the tool set for a connected GitHub integration,
// authenticated with the caller's token.
func newGitHubTools(token string, logger *slog.Logger) ([]*Tool, error) {
	if token == "" {
		return nil, fmt.Errorf("github integration: missing token")
	}
	client := github.NewClient(nil).WithAuthToken(token)

	searchSchema, err := jsonschema.For[GitHubSearchReposInput](nil)
	if err != nil {
		return nil, fmt.Errorf("building githubSearchRepositories schema: %w", err)
	}
	issuesSchema, err := jsonschema.For[GitHubListIssuesInput](nil)
	if err != nil {
		return nil, fmt.Errorf("building githubListIssues schema: %w", err)
	}

	searchRepos := &Tool{
		Name:        githubSearchReposToolName,
		Description: "Search GitHub repositories. Supports qualifiers such as language:go or stars:>100.",
		InputSchema: searchSchema,
		Execute: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			in, err := decodeArgs[GitHubSearchReposInput](args)
			if err != nil {
				return nil, err
			}
			if in.Query == "" {
				return nil, fmt.Errorf("query is required")
			}
			limit := in.Limit
			if limit <= 0 {
				limit = defaultGitHubRepoLimit
			}
			if limit > maxGitHubRepoLimit {
				limit = maxGitHubRepoLimit
			}

			result, _, err := client.Search.Repositories(ctx, in.Query, &github.SearchOptions{
				ListOptions: github.ListOptions{PerPage: limit},
			})
			if err != nil {
				return nil, fmt.Errorf("searching repositories: %w", err)
			}

			repos := make([]any, 0, len(result.Repositories))
			citations := make([]any, 0, len(result.Repositories))
			for _, r := range result.Repositories {
				repos = append(repos, map[string]any{
					"full_name":   r.GetFullName(),
					"url":         r.GetHTMLURL(),
					"description": r.GetDescription(),
					"stars":       r.GetStargazersCount(),
					"language":    r.GetLanguage(),
				})
				citations = append(citations, map[string]any{
					"title":   r.GetFullName(),
					"url":     r.GetHTMLURL(),
					"snippet": r.GetDescription(),
					"source":  "GitHub",
				})
			}

			logger.Info("github repositories searched", "query", in.Query, "results", len(repos))
			return map[string]any{
				"query":                in.Query,
				"repositories":         repos,
				"sources_for_citation": citations,
			}, nil
		},
	}

	listIssues := &Tool{
		Name:        githubListIssuesToolName,
		Description: "List issues in a GitHub repository, newest first.",
		InputSchema: issuesSchema,
		Execute: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			in, err := decodeArgs[GitHubListIssuesInput](args)
			if err != nil {
				return nil, err
			}
			if in.Owner == "" || in.Repo == "" {
				return nil, fmt.Errorf("owner and repo are required")
			}
			state := in.State
			if state == "" {
				state = "open"
			}
			limit := in.Limit
			if limit <= 0 {
				limit = defaultGitHubIssueLimit
			}
			if limit > maxGitHubIssueLimit {
				limit = maxGitHubIssueLimit
			}

			issues, _, err := client.Issues.ListByRepo(ctx, in.Owner, in.Repo, &github.IssueListByRepoOptions{
				State:       state,
				ListOptions: github.ListOptions{PerPage: limit},
			})
			if err != nil {
				return nil, fmt.Errorf("listing issues for %s/%s: %w", in.Owner, in.Repo, err)
			}

			out := make([]any, 0, len(issues))
			for _, issue := range issues {
				if issue.IsPullRequest() {
					continue
				}
				out = append(out, map[string]any{
					"number": issue.GetNumber(),
					"title":  issue.GetTitle(),
					"state":  issue.GetState(),
					"url":    issue.GetHTMLURL(),
				})
			}

			logger.Info("github issues listed", "owner", in.Owner, "repo", in.Repo, "count", len(out))
			return map[string]any{
				"repository": in.Owner + "/" + in.Repo,
				"state":      state,
				"issues":     out,
			}, nil
		},
	}

	return []*Tool{searchRepos, listIssues}, nil
}
