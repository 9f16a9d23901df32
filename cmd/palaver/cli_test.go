package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/storage"
)

// isolateEnv keeps the developer's environment out of config loading.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, v := range []string{
		"PALAVER_CONFIG", "PALAVER_PROVIDER", "PALAVER_MODEL", "PALAVER_MODE",
		"PALAVER_STORAGE", "PALAVER_LOG_LEVEL", "PALAVER_DEBUG", "PALAVER_MCP_SERVERS",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "LITELLM_API_KEY", "VLLM_API_KEY",
	} {
		t.Setenv(v, "")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

// sseAnswer renders text as an OpenAI-compatible chat completion stream.
func sseAnswer(text string) string {
	return fmt.Sprintf("data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":%q},\"finish_reason\":\"stop\"}]}\n\ndata: [DONE]\n\n", text)
}

// jsonAnswer renders text as a non-streaming chat completion.
func jsonAnswer(text string) string {
	return fmt.Sprintf(`{"choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}]}`, text)
}

// backend serves answers in order, repeating the last one. It answers in
// the format the request asks for.
func backend(t *testing.T, answers ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		var req struct {
			Stream bool `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		answer := answers[min(n, len(answers))-1]
		if !req.Stream {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, jsonAnswer(answer))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sseAnswer(answer))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "palaver.yaml")
	content := fmt.Sprintf(`providers:
  - name: local
    type: openai
    base_url: %s
    default_model: test-model
`, baseURL)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(strings.NewReader(stdin), &out, &errOut)
	cmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

func TestAsk(t *testing.T) {
	isolateEnv(t)
	srv, calls := backend(t, "Use `ls -la`.")
	cfg := writeConfig(t, srv.URL)

	out, _, err := runCLI(t, "", "--config", cfg, "ask", "how", "do", "I", "list", "files")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if out != "Use `ls -la`.\n" {
		t.Errorf("out = %q", out)
	}
	if calls.Load() != 1 {
		t.Errorf("backend calls = %d, want 1", calls.Load())
	}
}

func TestAsk_PromptFromStdin(t *testing.T) {
	isolateEnv(t)
	srv, _ := backend(t, "Looks fine.")
	cfg := writeConfig(t, srv.URL)

	out, _, err := runCLI(t, "func main() {}\n", "--config", cfg, "--no-stream", "ask")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(out, "Looks fine.") {
		t.Errorf("out = %q", out)
	}
}

func TestAsk_NoPrompt(t *testing.T) {
	isolateEnv(t)
	srv, calls := backend(t, "unused")
	cfg := writeConfig(t, srv.URL)

	if _, _, err := runCLI(t, "  \n", "--config", cfg, "ask"); err == nil {
		t.Fatal("expected error for empty prompt")
	}
	if calls.Load() != 0 {
		t.Errorf("backend called %d times", calls.Load())
	}
}

func TestAsk_UnknownProvider(t *testing.T) {
	isolateEnv(t)
	srv, _ := backend(t, "unused")
	cfg := writeConfig(t, srv.URL)

	_, _, err := runCLI(t, "", "--config", cfg, "--provider", "missing", "ask", "hi")
	if err == nil || !strings.Contains(err.Error(), `provider "missing"`) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewApp_ReleasesResourcesOnError(t *testing.T) {
	isolateEnv(t)
	srv, _ := backend(t, "unused")
	cfg := writeConfig(t, srv.URL)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	// The metrics listener is acquired before the provider lookup fails. A
	// second run on the same address only succeeds if the first released it.
	for i := range 2 {
		_, _, err := runCLI(t, "", "--config", cfg, "--metrics-addr", addr, "--provider", "missing", "ask", "hi")
		if err == nil || !strings.Contains(err.Error(), `provider "missing"`) {
			t.Fatalf("run %d: err = %v", i+1, err)
		}
	}
}

func TestAsk_Blocks(t *testing.T) {
	isolateEnv(t)
	srv, _ := backend(t, "Run:\n```bash\ndf -h\ndu -sh .\n```\n")
	cfg := writeConfig(t, srv.URL)

	out, _, err := runCLI(t, "", "--config", cfg, "ask", "--blocks", "disk usage")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.HasSuffix(out, "df -h\ndu -sh .\n") {
		t.Errorf("out = %q", out)
	}
}

func TestAsk_Exec(t *testing.T) {
	isolateEnv(t)
	srv, _ := backend(t, "echo first-choice\necho second-choice")
	cfg := writeConfig(t, srv.URL)

	out, errOut, err := runCLI(t, "2\n", "--config", cfg, "--mode", "bash", "ask", "--exec", "print something")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(errOut, "2) echo second-choice") {
		t.Errorf("menu missing from stderr: %q", errOut)
	}
	if !strings.HasSuffix(out, "second-choice\n") || strings.Count(out, "first-choice") != 1 {
		t.Errorf("out = %q", out)
	}
}

func setTerminal(t *testing.T, open func() (io.ReadCloser, error)) {
	t.Helper()
	orig := openTerminal
	openTerminal = open
	t.Cleanup(func() { openTerminal = orig })
}

func TestAsk_ExecPromptFromStdin(t *testing.T) {
	tests := []struct {
		name      string
		terminal  func() (io.ReadCloser, error)
		wantErr   string
		wantCalls int32
		wantOut   string
	}{
		{
			name:      "choice read from terminal",
			terminal:  func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader("2\n")), nil },
			wantCalls: 1,
			wantOut:   "second-choice\n",
		},
		{
			name:     "no terminal",
			terminal: func() (io.ReadCloser, error) { return nil, fmt.Errorf("open /dev/tty: no such device or address") },
			wantErr:  "needs a terminal",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			setTerminal(t, tt.terminal)
			srv, calls := backend(t, "echo first-choice\necho second-choice")
			cfg := writeConfig(t, srv.URL)

			out, _, err := runCLI(t, "print something\n", "--config", cfg, "--mode", "bash", "ask", "--exec")
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("ask: %v", err)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("backend calls = %d, want %d", calls.Load(), tt.wantCalls)
			}
			if !strings.HasSuffix(out, tt.wantOut) {
				t.Errorf("out = %q, want suffix %q", out, tt.wantOut)
			}
		})
	}
}

func TestChat(t *testing.T) {
	isolateEnv(t)
	srv, calls := backend(t, "Hello!", "Goodbye!")
	cfg := writeConfig(t, srv.URL)

	out, errOut, err := runCLI(t, "hi\n\n/id\nbye\n/exit\n", "--config", cfg, "chat")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if out != "Hello!\nGoodbye!\n" {
		t.Errorf("out = %q", out)
	}
	if !strings.Contains(errOut, "conv_") {
		t.Errorf("/id did not print the conversation ID: %q", errOut)
	}
	if calls.Load() != 2 {
		t.Errorf("backend calls = %d, want 2", calls.Load())
	}
}

func TestChat_ProviderErrorKeepsSession(t *testing.T) {
	isolateEnv(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":{"message":"bad request","type":"invalid_request_error"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sseAnswer("recovered"))
	}))
	defer srv.Close()
	cfg := writeConfig(t, srv.URL)

	out, errOut, err := runCLI(t, "first\nsecond\n", "--config", cfg, "chat")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(errOut, "error:") {
		t.Errorf("stderr = %q, want error report", errOut)
	}
	if out != "recovered\n" {
		t.Errorf("out = %q", out)
	}
}

func TestHistoryList_Empty(t *testing.T) {
	isolateEnv(t)
	srv, _ := backend(t, "unused")
	cfg := writeConfig(t, srv.URL)

	out, _, err := runCLI(t, "", "--config", cfg, "history", "list")
	if err != nil {
		t.Fatalf("history list: %v", err)
	}
	if strings.TrimSpace(out) != "ID  UPDATED  TURNS  TITLE" {
		t.Errorf("out = %q", out)
	}

	if _, _, err := runCLI(t, "", "--config", cfg, "history", "list", "--order", "sideways"); err == nil {
		t.Error("expected error for invalid order")
	}
}

func TestHistoryShow_NotFound(t *testing.T) {
	isolateEnv(t)
	srv, _ := backend(t, "unused")
	cfg := writeConfig(t, srv.URL)

	_, _, err := runCLI(t, "", "--config", cfg, "history", "show", "conv_missing")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v", err)
	}
}

func TestWriteSummaries(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	list := &storage.ConversationList{
		Data: []storage.ConversationSummary{
			{ID: "conv_a", Title: "list files", Turns: 2, UpdatedAt: ts},
			{ID: "conv_b", Title: "disk usage", Turns: 4, UpdatedAt: ts},
		},
		HasMore: true,
	}
	var buf bytes.Buffer
	if err := writeSummaries(&buf, list); err != nil {
		t.Fatal(err)
	}
	got := buf.String()
	for _, want := range []string{"conv_a", "2026-03-01 12:00:00", "disk usage", "more: --after conv_b"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestWriteConversation(t *testing.T) {
	conv, err := newConversation(modeDev, "")
	if err != nil {
		t.Fatal(err)
	}
	call := api.ToolCall{ID: "call_1", Name: "shell", Arguments: []byte(`{"command":"ls"}`)}
	for _, turn := range []api.Turn{
		api.NewTextTurn(api.RoleUser, "what is here?"),
		{Role: api.RoleAssistant, Parts: []api.Part{api.ToolCallPart(call)}},
		{Role: api.RoleTool, Parts: []api.Part{api.ToolResultPart(api.ToolResult{CallID: "call_1", Output: "main.go\n"})}},
		api.NewTextTurn(api.RoleAssistant, "A Go file."),
	} {
		if err := conv.Append(turn); err != nil {
			t.Fatal(err)
		}
	}

	var buf bytes.Buffer
	writeConversation(&buf, conv)
	got := buf.String()
	for _, want := range []string{"[user]\nwhat is here?", `-> shell({"command":"ls"})`, "<- ok: main.go", "A Go file."} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Understood.") {
		t.Errorf("preset turns printed:\n%s", got)
	}
}

func TestSuggestedCommands(t *testing.T) {
	tests := []struct {
		name string
		mode string
		text string
		want []string
	}{
		{name: "fenced", mode: modeDev, text: "Try:\n```sh\nls\n```", want: []string{"ls"}},
		{name: "non-shell fence", mode: modeDev, text: "```go\nfmt.Println()\n```", want: nil},
		{name: "bash mode plain lines", mode: modeBash, text: "cd /tmp && ls\n\npwd\n", want: []string{"cd /tmp && ls", "pwd"}},
		{name: "general mode plain text", mode: modeGeneral, text: "ls", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := suggestedCommands(tt.mode, tt.text)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSelectCommand(t *testing.T) {
	cmds := []string{"ls", "pwd"}
	tests := []struct {
		input   string
		want    string
		wantOK  bool
		wantErr bool
	}{
		{input: "1\n", want: "ls", wantOK: true},
		{input: "2", want: "pwd", wantOK: true},
		{input: "0\n"},
		{input: "\n"},
		{input: ""},
		{input: "3\n", wantErr: true},
		{input: "ls\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.input), func(t *testing.T) {
			got, ok, err := selectCommand(strings.NewReader(tt.input), io.Discard, cmds)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("got (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestReadPrompt(t *testing.T) {
	got, err := readPrompt([]string{"a", "b"}, strings.NewReader("ignored"))
	if err != nil || got != "a b" {
		t.Errorf("args: got %q, %v", got, err)
	}
	got, err = readPrompt(nil, strings.NewReader("  from stdin\n"))
	if err != nil || got != "from stdin" {
		t.Errorf("stdin: got %q, %v", got, err)
	}
	if _, err := readPrompt(nil, strings.NewReader("")); err == nil {
		t.Error("expected error for empty prompt")
	}
}
