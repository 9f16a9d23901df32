package main

import (
	"bytes"
	"testing"

	"github.com/rhuss/palaver/pkg/api"
)

func TestTerminalSink(t *testing.T) {
	var out, errOut bytes.Buffer
	s := newTerminalSink(&out, &errOut)
	if s.color {
		t.Fatal("color enabled for a buffer")
	}

	s.OnEvent(api.TextDelta("Let me "))
	s.OnEvent(api.TextDelta("check."))
	s.OnState(api.StateStreaming, api.StateToolDispatch)
	s.OnEvent(api.Event{Type: api.EventToolCallStart, CallID: "call_1", Name: "shell"})
	s.OnToolResult(
		api.ToolCall{ID: "call_1", Name: "shell"},
		api.ToolResult{CallID: "call_1", Output: "ls: no such file\nexit status 2", IsError: true},
	)
	s.OnEvent(api.TextDelta("Partial"))
	s.OnEvent(api.Event{Type: api.EventRetry, Attempt: 2})
	s.OnEvent(api.TextDelta("Done.\n"))
	s.finish()

	wantOut := "Let me check.\nPartial\nDone.\n"
	if out.String() != wantOut {
		t.Errorf("out = %q, want %q", out.String(), wantOut)
	}
	wantErr := "[tool] shell\n[tool] shell error: ls: no such file\n[retrying, attempt 2]\n"
	if errOut.String() != wantErr {
		t.Errorf("errOut = %q, want %q", errOut.String(), wantErr)
	}
}

func TestTerminalSink_FinishWithoutText(t *testing.T) {
	var out, errOut bytes.Buffer
	s := newTerminalSink(&out, &errOut)
	s.finish()
	s.OnState(api.StateStreaming, api.StateIdle)
	if out.Len() != 0 || errOut.Len() != 0 {
		t.Errorf("unexpected output %q %q", out.String(), errOut.String())
	}
}
