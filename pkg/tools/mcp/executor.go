package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/tools"
)

// Executor implements tools.ToolExecutor over several MCP servers. Tools
// are discovered on first use and each tool name is routed to the first
// server that offers it.
type Executor struct {
	clients []*Client

	mu           sync.RWMutex
	toolToClient map[string]*Client
	defs         []api.ToolDefinition
	discovered   bool
}

var _ tools.ToolExecutor = (*Executor)(nil)

// NewExecutor creates an Executor over connected clients.
func NewExecutor(clients ...*Client) *Executor {
	return &Executor{
		clients:      clients,
		toolToClient: make(map[string]*Client),
	}
}

// Connect connects to every configured server. Servers that fail to
// connect are logged and skipped so one broken server does not disable the
// others.
func Connect(ctx context.Context, servers []ServerConfig) (*Executor, error) {
	var clients []*Client
	for _, cfg := range servers {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		c := NewClient(cfg)
		if err := c.Connect(ctx); err != nil {
			slog.Warn("skipping MCP server", "server", cfg.Name, "error", err)
			continue
		}
		clients = append(clients, c)
	}
	return NewExecutor(clients...), nil
}

// Kind returns ToolKindMCP.
func (e *Executor) Kind() tools.ToolKind {
	return tools.ToolKindMCP
}

// Discover lists the tools of every server. It runs once; later calls are
// no-ops. A server whose listing fails is logged and left out.
func (e *Executor) Discover(ctx context.Context) {
	e.mu.RLock()
	done := e.discovered
	e.mu.RUnlock()
	if done {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.discovered {
		return
	}

	for _, c := range e.clients {
		defs, err := c.ListTools(ctx)
		if err != nil {
			slog.Error("failed to discover tools from MCP server", "server", c.Name(), "error", err)
			continue
		}
		for _, td := range defs {
			if owner, exists := e.toolToClient[td.Name]; exists {
				slog.Warn("duplicate MCP tool name, using first server",
					"tool", td.Name,
					"server", owner.Name(),
					"ignored", c.Name(),
				)
				continue
			}
			e.toolToClient[td.Name] = c
			e.defs = append(e.defs, td)
		}
		slog.Info("discovered MCP tools", "server", c.Name(), "count", len(defs))
	}
	e.discovered = true
}

// CanExecute reports whether a connected server offers toolName.
func (e *Executor) CanExecute(toolName string) bool {
	e.Discover(context.Background())

	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.toolToClient[toolName]
	return ok
}

// Execute routes the call to the server that offers it.
func (e *Executor) Execute(ctx context.Context, call api.ToolCall) (*api.ToolResult, error) {
	e.Discover(ctx)

	e.mu.RLock()
	c, ok := e.toolToClient[call.Name]
	e.mu.RUnlock()
	if !ok {
		return tools.ErrorResult(call.ID, "no MCP server provides tool %q", call.Name), nil
	}
	return c.CallTool(ctx, call)
}

// Definitions returns the discovered tools in server order.
func (e *Executor) Definitions(ctx context.Context) ([]api.ToolDefinition, error) {
	e.Discover(ctx)

	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]api.ToolDefinition, len(e.defs))
	copy(out, e.defs)
	return out, nil
}

// Close closes every session.
func (e *Executor) Close() error {
	var errs []error
	for _, c := range e.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %q: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}
