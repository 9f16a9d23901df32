package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/assembler"
	"github.com/rhuss/palaver/pkg/caller"
	"github.com/rhuss/palaver/pkg/provider"
	"github.com/rhuss/palaver/pkg/provider/anthropic"
	"github.com/rhuss/palaver/pkg/provider/openaicompat"
)

var shellTool = api.ToolDefinition{
	Name:       "shell",
	Parameters: json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"}}}`),
}

// adapters builds one adapter per supported API against baseURL.
func adapters(t *testing.T, baseURL string) map[string]provider.Adapter {
	t.Helper()
	oa, err := openaicompat.New(provider.Config{Name: "openai", BaseURL: baseURL, DefaultModel: "mock-model"})
	if err != nil {
		t.Fatal(err)
	}
	an, err := anthropic.New(provider.Config{Name: "anthropic", BaseURL: baseURL, DefaultModel: "mock-model"})
	if err != nil {
		t.Fatal(err)
	}
	return map[string]provider.Adapter{"openai": oa, "anthropic": an}
}

func newCaller() *caller.Caller {
	return caller.New(caller.WithRetryConfig(caller.RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     time.Millisecond,
		MaxRetryAfter: 10 * time.Millisecond,
	}))
}

func userConversation(t *testing.T, texts ...string) *api.Conversation {
	t.Helper()
	conv := api.NewConversation()
	for _, text := range texts {
		if err := conv.Append(api.NewTextTurn(api.RoleUser, text)); err != nil {
			t.Fatal(err)
		}
	}
	return conv
}

func TestMockBackend_Replies(t *testing.T) {
	srv := httptest.NewServer(newMux(newScenarios()))
	defer srv.Close()

	tests := []struct {
		name     string
		prompt   string
		tools    []api.ToolDefinition
		wantText string
		wantCall string
	}{
		{name: "greeting", prompt: "hi", wantText: "Hello, nice day!"},
		{name: "count", prompt: "Count from 1 to 5", wantText: "1, 2, 3, 4, 5"},
		{name: "tool call", prompt: "what is here?", tools: []api.ToolDefinition{shellTool}, wantCall: "shell"},
	}

	c := newCaller()
	for apiName, adapter := range adapters(t, srv.URL) {
		for _, stream := range []bool{true, false} {
			for _, tt := range tests {
				name := apiName + "/" + tt.name
				if stream {
					name += "/stream"
				}
				t.Run(name, func(t *testing.T) {
					req := api.NewRequest("", userConversation(t, tt.prompt),
						api.WithStream(stream), api.WithTools(tt.tools...))
					msg, err := assembler.Assemble(c.Execute(context.Background(), req, adapter).Events())
					if err != nil {
						t.Fatalf("assemble: %v", err)
					}
					if got := msg.Text(); got != tt.wantText {
						t.Errorf("text = %q, want %q", got, tt.wantText)
					}
					calls := msg.ToolCalls()
					if tt.wantCall == "" {
						if len(calls) != 0 {
							t.Errorf("unexpected tool calls %+v", calls)
						}
						return
					}
					if len(calls) != 1 || calls[0].Name != tt.wantCall {
						t.Fatalf("tool calls = %+v, want one %s call", calls, tt.wantCall)
					}
					if string(calls[0].Arguments) != mockArgs["shell"] {
						t.Errorf("arguments = %s", calls[0].Arguments)
					}
				})
			}
		}
	}
}

func TestMockBackend_ToolResultAnswer(t *testing.T) {
	srv := httptest.NewServer(newMux(newScenarios()))
	defer srv.Close()

	for apiName, adapter := range adapters(t, srv.URL) {
		t.Run(apiName, func(t *testing.T) {
			conv := userConversation(t, "what is here?")
			call := api.ToolCall{ID: "call_1", Name: "shell", Arguments: json.RawMessage(mockArgs["shell"])}
			for _, turn := range []api.Turn{
				{Role: api.RoleAssistant, Parts: []api.Part{api.ToolCallPart(call)}},
				{Role: api.RoleTool, Parts: []api.Part{api.ToolResultPart(api.ToolResult{CallID: "call_1", Output: "main.go\n"})}},
			} {
				if err := conv.Append(turn); err != nil {
					t.Fatal(err)
				}
			}
			req := api.NewRequest("", conv, api.WithStream(true), api.WithTools(shellTool))
			msg, err := assembler.Assemble(newCaller().Execute(context.Background(), req, adapter).Events())
			if err != nil {
				t.Fatalf("assemble: %v", err)
			}
			if got := msg.Text(); got != "The tool said: main.go" {
				t.Errorf("text = %q", got)
			}
		})
	}
}

func TestMockBackend_Failures(t *testing.T) {
	srv := httptest.NewServer(newMux(newScenarios()))
	defer srv.Close()

	for apiName, adapter := range adapters(t, srv.URL) {
		t.Run(apiName+"/rate limit is retried", func(t *testing.T) {
			req := api.NewRequest("", userConversation(t, apiName+": rate limit me"), api.WithStream(true))
			call := newCaller().Execute(context.Background(), req, adapter)
			msg, err := assembler.Assemble(call.Events())
			if err != nil {
				t.Fatalf("assemble: %v", err)
			}
			if call.Retries() != 1 {
				t.Errorf("retries = %d, want 1", call.Retries())
			}
			if msg.Text() != "Made it through the rate limit." {
				t.Errorf("text = %q", msg.Text())
			}
		})

		t.Run(apiName+"/server error exhausts retries", func(t *testing.T) {
			req := api.NewRequest("", userConversation(t, "server error"), api.WithStream(true))
			call := newCaller().Execute(context.Background(), req, adapter)
			_, err := assembler.Assemble(call.Events())
			e, ok := api.AsError(err)
			if !ok {
				t.Fatalf("err = %v, want *api.Error", err)
			}
			if e.StatusCode != http.StatusInternalServerError {
				t.Errorf("status = %d, want 500", e.StatusCode)
			}
			if call.Attempts() != 3 {
				t.Errorf("attempts = %d, want 3", call.Attempts())
			}
		})

		t.Run(apiName+"/bad request is permanent", func(t *testing.T) {
			req := api.NewRequest("", userConversation(t, "bad request"), api.WithStream(false))
			call := newCaller().Execute(context.Background(), req, adapter)
			_, err := assembler.Assemble(call.Events())
			if api.KindOf(err) != api.ErrorPermanent {
				t.Errorf("kind = %s, want permanent", api.KindOf(err))
			}
			if call.Attempts() != 1 {
				t.Errorf("attempts = %d, want 1", call.Attempts())
			}
		})
	}
}

func TestTokens(t *testing.T) {
	got := tokens("Hello, nice day!")
	want := []string{"Hello,", " nice", " day!"}
	if len(got) != len(want) {
		t.Fatalf("tokens = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tokens[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if tokens("") != nil {
		t.Error("tokens(\"\") should be nil")
	}
}
