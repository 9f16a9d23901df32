package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/debug"
	"github.com/rhuss/palaver/pkg/tools"
)

var builtinToolDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "palaver_builtin_tool_duration_seconds",
		Help:    "Builtin tool execution duration",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	},
	[]string{"provider", "tool_name"},
)

func init() {
	prometheus.MustRegister(builtinToolDuration)
}

// Registry aggregates FunctionProviders and implements tools.ToolExecutor.
// It routes tool calls to the owning provider, records metrics and
// recovers from provider panics.
type Registry struct {
	mu sync.RWMutex

	// providers stores registered providers in insertion order.
	providers []FunctionProvider

	// toolToProvider maps tool name to the provider that owns it.
	toolToProvider map[string]FunctionProvider
}

var _ tools.ToolExecutor = (*Registry)(nil)

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		toolToProvider: make(map[string]FunctionProvider),
	}
}

// Register adds a provider. If two providers supply a tool with the same
// name, the first registered provider wins and a warning is logged.
// Provider collectors are registered with the default Prometheus registry.
func (r *Registry) Register(p FunctionProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers = append(r.providers, p)

	for _, td := range p.Tools() {
		if existing, ok := r.toolToProvider[td.Name]; ok {
			slog.Warn("builtin tool name conflict, keeping first provider",
				"tool", td.Name,
				"winner", existing.Name(),
				"loser", p.Name(),
			)
			continue
		}
		r.toolToProvider[td.Name] = p
	}

	for _, c := range p.Collectors() {
		if err := prometheus.Register(c); err != nil {
			debug.Log("tools", "collector already registered", "provider", p.Name(), "error", err)
		}
	}

	debug.Log("tools", "registered builtin provider", "provider", p.Name(), "tools", len(p.Tools()))
}

// Kind returns ToolKindBuiltin.
func (r *Registry) Kind() tools.ToolKind {
	return tools.ToolKindBuiltin
}

// CanExecute returns true if any registered provider handles the named tool.
func (r *Registry) CanExecute(toolName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.toolToProvider[toolName]
	return ok
}

// Execute routes the call to its provider, records metrics and recovers
// from panics.
func (r *Registry) Execute(ctx context.Context, call api.ToolCall) (result *api.ToolResult, err error) {
	r.mu.RLock()
	p, ok := r.toolToProvider[call.Name]
	r.mu.RUnlock()

	if !ok {
		return tools.ErrorResult(call.ID, "no builtin provider handles tool %q", call.Name), nil
	}

	providerName := p.Name()
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("builtin tool provider panicked",
				"provider", providerName,
				"tool", call.Name,
				"panic", rec,
			)
			result = tools.ErrorResult(call.ID, "internal error: builtin tool %q panicked", call.Name)
			err = nil
		}
		builtinToolDuration.WithLabelValues(providerName, call.Name).Observe(time.Since(start).Seconds())
	}()

	return p.Execute(ctx, call)
}

// Definitions returns the merged tool definitions of all providers.
func (r *Registry) Definitions(context.Context) ([]api.ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []api.ToolDefinition
	for _, p := range r.providers {
		all = append(all, p.Tools()...)
	}
	return all, nil
}

// Close closes all registered providers, returning the last error.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			slog.Warn("failed to close builtin provider", "provider", p.Name(), "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// HasProviders returns true if at least one provider is registered.
func (r *Registry) HasProviders() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers) > 0
}
