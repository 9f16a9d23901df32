package websearch

import "context"

// Result is one search hit.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// Backend runs a query against a search engine.
type Backend interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}
