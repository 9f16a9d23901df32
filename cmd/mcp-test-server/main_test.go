package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/tools/mcp"
)

var fixedNow = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

func connect(t *testing.T, token string, headers map[string]string) *mcp.Executor {
	t.Helper()
	srv := httptest.NewServer(newHandler(newServer(fixedNow), token))
	t.Cleanup(srv.Close)

	ex, err := mcp.Connect(context.Background(), []mcp.ServerConfig{{
		Name:    "test",
		URL:     srv.URL + "/mcp",
		Headers: headers,
	}})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { ex.Close() })
	return ex
}

func TestServer_Tools(t *testing.T) {
	ex := connect(t, "", nil)

	defs, err := ex.Definitions(context.Background())
	if err != nil {
		t.Fatalf("Definitions: %v", err)
	}
	var names []string
	for _, d := range defs {
		names = append(names, d.Name)
	}
	slices.Sort(names)
	if want := []string{"echo", "get_time", "word_count"}; !slices.Equal(names, want) {
		t.Errorf("tools = %v, want %v", names, want)
	}

	tests := []struct {
		tool    string
		args    string
		want    string
		wantErr bool
	}{
		{tool: "get_time", args: `{}`, want: "Current time: 2026-01-02T03:04:05Z"},
		{tool: "echo", args: `{"message":"hi"}`, want: "Echo: hi"},
		{tool: "echo", args: `{"message":""}`, wantErr: true},
		{tool: "word_count", args: `{"text":"one two\nthree"}`, want: "3 words, 2 lines"},
	}
	for _, tt := range tests {
		t.Run(tt.tool+tt.args, func(t *testing.T) {
			res, err := ex.Execute(context.Background(), api.ToolCall{ID: "call_1", Name: tt.tool, Arguments: json.RawMessage(tt.args)})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if res.IsError != tt.wantErr {
				t.Fatalf("IsError = %v, want %v (output %q)", res.IsError, tt.wantErr, res.Output)
			}
			if !tt.wantErr && res.Output != tt.want {
				t.Errorf("output = %q, want %q", res.Output, tt.want)
			}
		})
	}
}

func TestServer_Token(t *testing.T) {
	ex := connect(t, "secret", map[string]string{"Authorization": "Bearer secret"})
	if !ex.CanExecute("echo") {
		t.Error("authorized client cannot see echo")
	}

	// A rejected server is skipped by Connect.
	denied := connect(t, "secret", nil)
	if denied.CanExecute("echo") {
		t.Error("unauthorized client sees echo")
	}
}
