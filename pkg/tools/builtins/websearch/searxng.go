package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/rhuss/palaver/pkg/debug"
)

// SearXNG queries a SearXNG instance through its JSON API.
type SearXNG struct {
	baseURL string
	client  *http.Client
}

var _ Backend = (*SearXNG)(nil)

// NewSearXNG creates a backend for the instance at baseURL.
func NewSearXNG(baseURL string, client *http.Client) *SearXNG {
	if client == nil {
		client = http.DefaultClient
	}
	return &SearXNG{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type searxngResponse struct {
	Results []searxngResult `json:"results"`
}

type searxngResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Search returns at most maxResults hits with HTML stripped from titles
// and snippets.
func (s *SearXNG) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	q := url.Values{"q": {query}, "format": {"json"}, "categories": {"general"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	debug.Log("tools", "searxng query", "url", s.baseURL, "query", debug.Truncate(query, 200))
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searxng request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("searxng returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var sr searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decoding searxng response: %w", err)
	}

	results := make([]Result, 0, min(len(sr.Results), maxResults))
	for _, r := range sr.Results[:min(len(sr.Results), maxResults)] {
		results = append(results, Result{
			Title:   stripHTML(r.Title),
			URL:     r.URL,
			Snippet: stripHTML(r.Content),
		})
	}
	return results, nil
}

// stripHTML returns the text content of an HTML fragment with entities
// decoded.
func stripHTML(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(doc.Text())
}
