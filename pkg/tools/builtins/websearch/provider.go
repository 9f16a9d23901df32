// Package websearch provides the builtin "web_search" tool, backed by a
// SearXNG instance. It is disabled unless configured.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/observability"
	"github.com/rhuss/palaver/pkg/tools"
	"github.com/rhuss/palaver/pkg/tools/registry"
)

const toolName = "web_search"

const (
	DefaultMaxResults = 5
	DefaultTimeout    = 15 * time.Second
)

var toolParametersJSON = json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Search query"}},"required":["query"]}`)

// Config configures the web_search tool.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Backend is the search engine. Only "searxng" is supported.
	Backend string `yaml:"backend"`

	// URL is the base URL of the SearXNG instance.
	URL string `yaml:"url"`

	MaxResults int           `yaml:"max_results"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Validate checks an enabled configuration.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Backend {
	case "", "searxng":
	default:
		return fmt.Errorf("web_search: unknown backend %q", c.Backend)
	}
	if c.URL == "" {
		return errors.New("web_search: url is required")
	}
	if c.MaxResults < 0 || c.Timeout < 0 {
		return errors.New("web_search: max_results and timeout must not be negative")
	}
	return nil
}

// Provider implements registry.FunctionProvider.
type Provider struct {
	backend    Backend
	name       string
	maxResults int
	timeout    time.Duration

	queries *prometheus.CounterVec
	results *prometheus.HistogramVec
}

var _ registry.FunctionProvider = (*Provider)(nil)

// New creates the provider for cfg.
func New(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return nil, errors.New("web_search tool is disabled")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := &http.Client{Transport: observability.NewTransport(nil)}
	return NewWithBackend(NewSearXNG(cfg.URL, client), "searxng", cfg), nil
}

// NewWithBackend creates the provider over an existing backend.
func NewWithBackend(b Backend, name string, cfg Config) *Provider {
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Provider{
		backend:    b,
		name:       name,
		maxResults: maxResults,
		timeout:    timeout,
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "palaver_websearch_queries_total",
			Help: "Web search queries by backend and outcome",
		}, []string{"backend", "status"}),
		results: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "palaver_websearch_results_returned",
			Help:    "Number of web search results returned",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		}, []string{"backend"}),
	}
}

func (p *Provider) Name() string { return toolName }

func (p *Provider) Tools() []api.ToolDefinition {
	return []api.ToolDefinition{{
		Name:        toolName,
		Description: "Search the web for current information",
		Parameters:  toolParametersJSON,
	}}
}

func (p *Provider) CanExecute(name string) bool { return name == toolName }

// Execute runs the query. Backend failures become error results so the
// model can react to them.
func (p *Provider) Execute(ctx context.Context, call api.ToolCall) (*api.ToolResult, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		p.queries.WithLabelValues(p.name, "invalid").Inc()
		return tools.ErrorResult(call.ID, "invalid arguments: %v", err), nil
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		p.queries.WithLabelValues(p.name, "invalid").Inc()
		return tools.ErrorResult(call.ID, "query must not be empty"), nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	results, err := p.backend.Search(ctx, query, p.maxResults)
	if err != nil {
		p.queries.WithLabelValues(p.name, "error").Inc()
		return tools.ErrorResult(call.ID, "search failed: %v", err), nil
	}
	p.queries.WithLabelValues(p.name, "ok").Inc()
	p.results.WithLabelValues(p.name).Observe(float64(len(results)))

	return &api.ToolResult{CallID: call.ID, Output: formatResults(query, results)}, nil
}

func (p *Provider) Collectors() []prometheus.Collector {
	return []prometheus.Collector{p.queries, p.results}
}

func (p *Provider) Close() error { return nil }

func formatResults(query string, results []Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for %q.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s\n   URL: %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return b.String()
}
