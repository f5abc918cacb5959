package tools

// WebSearchInput defines input for the webSearch tool.
type WebSearchInput struct {
	Query string `json:"query" jsonschema_description:"The search query"`
	Limit int    `json:"limit,omitempty" jsonschema_description:"Maximum results to return (1-10, default: 5)"`
}

// WebScraperInput defines input for the webScraper tool.
type WebScraperInput struct {
	URL string `json:"url" jsonschema_description:"The web page URL to fetch and extract readable content from"`
}

// MemorySearchInput defines input for the chatMemorySearch tool.
type MemorySearchInput struct {
	Query string `json:"query" jsonschema_description:"The search query string"`
	Limit int    `json:"limit,omitempty" jsonschema_description:"Maximum results to return (1-20, default: 5)"`
	From  string `json:"from,omitempty" jsonschema_description:"Only include memories on or after this date (RFC 3339 or YYYY-MM-DD)"`
	To    string `json:"to,omitempty" jsonschema_description:"Only include memories on or before this date (RFC 3339 or YYYY-MM-DD)"`
}

// GitHubSearchReposInput defines input for the githubSearchRepositories tool.
type GitHubSearchReposInput struct {
	Query string `json:"query" jsonschema_description:"GitHub repository search query (supports qualifiers like language: and stars:)"`
	Limit int    `json:"limit,omitempty" jsonschema_description:"Maximum repositories to return (1-10, default: 5)"`
}

// GitHubListIssuesInput defines input for the githubListIssues tool.
type GitHubListIssuesInput struct {
	Owner string `json:"owner" jsonschema_description:"Repository owner (user or organization)"`
	Repo  string `json:"repo" jsonschema_description:"Repository name"`
	State string `json:"state,omitempty" jsonschema_description:"Issue state filter: open, closed or all (default: open)"`
	Limit int    `json:"limit,omitempty" jsonschema_description:"Maximum issues to return (1-20, default: 10)"`
}
