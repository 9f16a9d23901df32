// Package registry hosts builtin tools. A FunctionProvider contributes a set
// of tool definitions, an execution handler and optional Prometheus
// collectors. The Registry aggregates providers and implements
// tools.ToolExecutor so the orchestrator can dispatch to them.
package registry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rhuss/palaver/pkg/api"
)

// FunctionProvider is a pluggable builtin tool provider.
type FunctionProvider interface {
	// Name returns a unique identifier for this provider (e.g. "shell").
	Name() string

	// Tools returns the tool definitions this provider contributes.
	Tools() []api.ToolDefinition

	// CanExecute reports whether this provider handles the named tool.
	CanExecute(name string) bool

	// Execute runs a tool call and returns the result.
	Execute(ctx context.Context, call api.ToolCall) (*api.ToolResult, error)

	// Collectors returns Prometheus collectors for provider-specific metrics.
	Collectors() []prometheus.Collector

	// Close releases any resources held by the provider.
	Close() error
}
