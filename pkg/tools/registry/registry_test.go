package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/tools"
)

// mockProvider implements FunctionProvider for testing.
type mockProvider struct {
	name       string
	toolDefs   []api.ToolDefinition
	execFn     func(context.Context, api.ToolCall) (*api.ToolResult, error)
	collectors []prometheus.Collector
	closed     bool
}

func (m *mockProvider) Name() string                       { return m.name }
func (m *mockProvider) Tools() []api.ToolDefinition        { return m.toolDefs }
func (m *mockProvider) Collectors() []prometheus.Collector { return m.collectors }

func (m *mockProvider) CanExecute(name string) bool {
	for _, td := range m.toolDefs {
		if td.Name == name {
			return true
		}
	}
	return false
}

func (m *mockProvider) Execute(ctx context.Context, call api.ToolCall) (*api.ToolResult, error) {
	if m.execFn != nil {
		return m.execFn(ctx, call)
	}
	return &api.ToolResult{CallID: call.ID, Output: "default"}, nil
}

func (m *mockProvider) Close() error {
	m.closed = true
	return nil
}

var _ FunctionProvider = (*mockProvider)(nil)

func TestRegistry_Definitions(t *testing.T) {
	reg := New()
	reg.Register(&mockProvider{
		name: "test-provider",
		toolDefs: []api.ToolDefinition{
			{Name: "tool_a", Description: "Tool A"},
			{Name: "tool_b", Description: "Tool B"},
		},
	})

	defs, err := reg.Definitions(context.Background())
	if err != nil {
		t.Fatalf("Definitions failed: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("Definitions() returned %d tools, want 2", len(defs))
	}
	if defs[0].Name != "tool_a" || defs[1].Name != "tool_b" {
		t.Errorf("unexpected order: %v", defs)
	}
}

func TestRegistry_CanExecute(t *testing.T) {
	reg := New()
	reg.Register(&mockProvider{
		name:     "test-provider",
		toolDefs: []api.ToolDefinition{{Name: "known_tool"}},
	})

	if !reg.CanExecute("known_tool") {
		t.Error("expected CanExecute(known_tool) = true")
	}
	if reg.CanExecute("unknown_tool") {
		t.Error("expected CanExecute(unknown_tool) = false")
	}
}

func TestRegistry_Execute(t *testing.T) {
	reg := New()
	reg.Register(&mockProvider{
		name:     "calc",
		toolDefs: []api.ToolDefinition{{Name: "add"}},
		execFn: func(_ context.Context, call api.ToolCall) (*api.ToolResult, error) {
			var args struct{ A, B int }
			if err := json.Unmarshal(call.Arguments, &args); err != nil {
				return nil, err
			}
			return &api.ToolResult{CallID: call.ID, Output: fmt.Sprintf("%d", args.A+args.B)}, nil
		},
	})

	result, err := reg.Execute(context.Background(), api.ToolCall{
		ID:        "call_1",
		Name:      "add",
		Arguments: json.RawMessage(`{"A":3,"B":4}`),
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.CallID != "call_1" || result.Output != "7" || result.IsError {
		t.Errorf("result = %+v", result)
	}
}

func TestRegistry_Execute_UnknownTool(t *testing.T) {
	reg := New()

	result, err := reg.Execute(context.Background(), api.ToolCall{ID: "call_1", Name: "nonexistent"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError = true for unknown tool")
	}
	if result.CallID != "call_1" {
		t.Errorf("CallID = %q, want %q", result.CallID, "call_1")
	}
}

func TestRegistry_ToolNameConflict(t *testing.T) {
	reg := New()
	reg.Register(&mockProvider{
		name:     "provider-1",
		toolDefs: []api.ToolDefinition{{Name: "shared_tool"}},
		execFn: func(_ context.Context, call api.ToolCall) (*api.ToolResult, error) {
			return &api.ToolResult{CallID: call.ID, Output: "from-p1"}, nil
		},
	})
	reg.Register(&mockProvider{
		name:     "provider-2",
		toolDefs: []api.ToolDefinition{{Name: "shared_tool"}},
		execFn: func(_ context.Context, call api.ToolCall) (*api.ToolResult, error) {
			return &api.ToolResult{CallID: call.ID, Output: "from-p2"}, nil
		},
	})

	result, err := reg.Execute(context.Background(), api.ToolCall{ID: "call_1", Name: "shared_tool"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Output != "from-p1" {
		t.Errorf("Output = %q, want %q (first provider should win)", result.Output, "from-p1")
	}
}

func TestRegistry_PanicRecovery(t *testing.T) {
	reg := New()
	reg.Register(&mockProvider{
		name:     "panicky",
		toolDefs: []api.ToolDefinition{{Name: "crash_tool"}},
		execFn: func(context.Context, api.ToolCall) (*api.ToolResult, error) {
			panic("something went terribly wrong")
		},
	})

	result, err := reg.Execute(context.Background(), api.ToolCall{ID: "call_panic", Name: "crash_tool"})
	if err != nil {
		t.Fatalf("expected nil error after panic recovery, got: %v", err)
	}
	if result == nil || !result.IsError {
		t.Fatalf("expected error result after panic, got %+v", result)
	}
	if result.CallID != "call_panic" {
		t.Errorf("CallID = %q, want %q", result.CallID, "call_panic")
	}
}

func TestRegistry_EmptyRegistry(t *testing.T) {
	reg := New()

	defs, _ := reg.Definitions(context.Background())
	if len(defs) != 0 {
		t.Errorf("Definitions() returned %d tools, want 0", len(defs))
	}
	if reg.CanExecute("any_tool") {
		t.Error("expected CanExecute = false for empty registry")
	}
	if reg.HasProviders() {
		t.Error("expected HasProviders() = false for empty registry")
	}
	if err := reg.Close(); err != nil {
		t.Errorf("Close() on empty registry failed: %v", err)
	}
}

func TestRegistry_Kind(t *testing.T) {
	if New().Kind() != tools.ToolKindBuiltin {
		t.Errorf("Kind() = %s, want builtin", New().Kind())
	}
}

func TestRegistry_Close(t *testing.T) {
	reg := New()
	p1 := &mockProvider{name: "p1", toolDefs: []api.ToolDefinition{{Name: "t1"}}}
	p2 := &mockProvider{name: "p2", toolDefs: []api.ToolDefinition{{Name: "t2"}}}
	reg.Register(p1)
	reg.Register(p2)

	if err := reg.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if !p1.closed || !p2.closed {
		t.Error("providers were not closed")
	}
}

func TestRegistry_ExecuteError(t *testing.T) {
	reg := New()
	reg.Register(&mockProvider{
		name:     "error-provider",
		toolDefs: []api.ToolDefinition{{Name: "fail_tool"}},
		execFn: func(context.Context, api.ToolCall) (*api.ToolResult, error) {
			return nil, fmt.Errorf("provider internal error")
		},
	})

	if _, err := reg.Execute(context.Background(), api.ToolCall{ID: "call_err", Name: "fail_tool"}); err == nil {
		t.Fatal("expected error from Execute")
	}
}

func TestRegistry_CollectorsRegistered(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "palaver_registry_test_collector_total",
		Help: "test",
	})
	reg := New()
	reg.Register(&mockProvider{name: "c", collectors: []prometheus.Collector{counter}})
	// A second registration of the same collector is tolerated.
	reg.Register(&mockProvider{name: "d", collectors: []prometheus.Collector{counter}})

	if err := prometheus.Register(counter); err == nil {
		t.Error("expected collector to be registered already")
	}
}
