package shell

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/tools/registry"
)

func newProvider(t *testing.T, cfg Config) *Provider {
	t.Helper()
	cfg.Enabled = true
	cfg.Shell = "/bin/sh"
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

func call(command string) api.ToolCall {
	args, _ := json.Marshal(map[string]string{"command": command})
	return api.ToolCall{ID: "call_1", Name: "shell", Arguments: args}
}

func TestDisabledByDefault(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for disabled shell tool")
	}
}

func TestExecute(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		command   string
		wantOut   string
		wantError bool
	}{
		{name: "echo", command: "echo hello", wantOut: "hello\n"},
		{name: "stderr captured", command: "echo oops 1>&2", wantOut: "oops\n"},
		{name: "nonzero exit", command: "exit 3", wantOut: "exit status 3", wantError: true},
		{name: "empty command", command: "  ", wantOut: "must not be empty", wantError: true},
		{name: "timeout", cfg: Config{Timeout: 50 * time.Millisecond}, command: "sleep 5", wantOut: "timed out", wantError: true},
		{name: "output capped", cfg: Config{MaxOutput: 4}, command: "echo 123456789", wantOut: "1234\n[output truncated]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProvider(t, tt.cfg)
			result, err := p.Execute(context.Background(), call(tt.command))
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if result.IsError != tt.wantError {
				t.Errorf("IsError = %v, want %v (output %q)", result.IsError, tt.wantError, result.Output)
			}
			if !strings.Contains(result.Output, tt.wantOut) {
				t.Errorf("output = %q, want it to contain %q", result.Output, tt.wantOut)
			}
			if result.CallID != "call_1" {
				t.Errorf("CallID = %q", result.CallID)
			}
		})
	}
}

func TestInvalidArguments(t *testing.T) {
	p := newProvider(t, Config{})
	result, err := p.Execute(context.Background(), api.ToolCall{ID: "c", Name: "shell", Arguments: json.RawMessage(`[]`)})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result")
	}
}

func TestRegistersWithRegistry(t *testing.T) {
	reg := registry.New()
	reg.Register(newProvider(t, Config{}))

	if !reg.CanExecute("shell") {
		t.Fatal("registry does not route shell")
	}
	result, err := reg.Execute(context.Background(), call("printf ok"))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Output != "ok" {
		t.Errorf("output = %q", result.Output)
	}
}
