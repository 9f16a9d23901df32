package tools

import (
	"context"
	"fmt"

	"github.com/rhuss/palaver/pkg/api"
)

// ToolKind classifies how a tool is hosted and executed.
type ToolKind int

const (
	// ToolKindBuiltin is a tool implemented in-process.
	ToolKindBuiltin ToolKind = iota

	// ToolKindMCP is a tool served by a Model Context Protocol server.
	ToolKindMCP
)

func (k ToolKind) String() string {
	switch k {
	case ToolKindBuiltin:
		return "builtin"
	case ToolKindMCP:
		return "mcp"
	}
	return "unknown"
}

// ToolExecutor executes tool calls.
type ToolExecutor interface {
	// Kind returns the type of tools this executor handles.
	Kind() ToolKind

	// CanExecute checks if this executor can handle the given tool name.
	CanExecute(toolName string) bool

	// Execute runs the tool and returns the result. A tool that ran but
	// failed reports that through ToolResult.IsError; a returned error means
	// the executor itself could not run the call.
	Execute(ctx context.Context, call api.ToolCall) (*api.ToolResult, error)

	// Definitions returns the tools this executor offers to the model.
	Definitions(ctx context.Context) ([]api.ToolDefinition, error)
}

// Find returns the first executor that can handle name.
func Find(executors []ToolExecutor, name string) (ToolExecutor, bool) {
	for _, e := range executors {
		if e.CanExecute(name) {
			return e, true
		}
	}
	return nil, false
}

// Definitions merges the tool definitions of all executors. When two
// executors offer the same name the first one wins, matching Find.
func Definitions(ctx context.Context, executors []ToolExecutor) ([]api.ToolDefinition, error) {
	seen := make(map[string]bool)
	var defs []api.ToolDefinition
	for _, e := range executors {
		ds, err := e.Definitions(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s tools: %w", e.Kind(), err)
		}
		for _, d := range ds {
			if seen[d.Name] {
				continue
			}
			seen[d.Name] = true
			defs = append(defs, d)
		}
	}
	return defs, nil
}

// ErrorResult builds an error ToolResult for call.
func ErrorResult(callID string, format string, args ...any) *api.ToolResult {
	return &api.ToolResult{
		CallID:  callID,
		Output:  fmt.Sprintf(format, args...),
		IsError: true,
	}
}

// Status labels a tool outcome for metrics: "success", "tool_error" when
// the tool reported a failure, or "error" when it could not run.
func Status(result *api.ToolResult, err error) string {
	switch {
	case err != nil:
		return "error"
	case result != nil && result.IsError:
		return "tool_error"
	}
	return "success"
}
