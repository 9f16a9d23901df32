package assembler

import (
	"iter"
	"slices"
	"testing"

	"github.com/rhuss/palaver/pkg/api"
)

func seq(events ...api.Event) iter.Seq[api.Event] {
	return slices.Values(events)
}

func callStart(id, name string) api.Event {
	return api.Event{Type: api.EventToolCallStart, CallID: id, Name: name}
}

func callArgs(id, chunk string) api.Event {
	return api.Event{Type: api.EventToolCallArgsChunk, CallID: id, Text: chunk}
}

func callEnd(id string) api.Event {
	return api.Event{Type: api.EventToolCallEnd, CallID: id}
}

func TestAssembleText(t *testing.T) {
	usage := &api.Usage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5}
	msg, err := Assemble(seq(
		api.TextDelta("Hel"),
		api.TextDelta("lo"),
		api.TextDelta(", world"),
		api.DoneEvent(api.FinishStop, usage),
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := msg.Text(); got != "Hello, world" {
		t.Errorf("text = %q, want %q", got, "Hello, world")
	}
	if len(msg.Turn.Parts) != 1 {
		t.Errorf("parts = %d, want 1 merged text part", len(msg.Turn.Parts))
	}
	if msg.Turn.Role != api.RoleAssistant {
		t.Errorf("role = %q", msg.Turn.Role)
	}
	if msg.FinishReason != api.FinishStop {
		t.Errorf("finish = %q", msg.FinishReason)
	}
	if msg.Usage == nil || msg.Usage.TotalTokens != 5 {
		t.Errorf("usage = %+v", msg.Usage)
	}
	if msg.Partial() || msg.Canceled {
		t.Error("complete message reported as partial")
	}
}

func TestAssembleErrorKeepsPartial(t *testing.T) {
	msg, err := Assemble(seq(
		api.TextDelta("one "),
		api.TextDelta("two "),
		api.TextDelta("three"),
		api.ErrorEvent(api.NewTransientError("connection reset")),
		api.TextDelta("ignored"),
	))
	if err == nil {
		t.Fatal("expected error")
	}
	if api.KindOf(err) != api.ErrorTransient {
		t.Errorf("kind = %q", api.KindOf(err))
	}
	if msg == nil {
		t.Fatal("expected partial message")
	}
	if got := msg.Text(); got != "one two three" {
		t.Errorf("partial text = %q", got)
	}
	if !msg.Partial() {
		t.Error("expected Partial")
	}
}

func TestToolArguments(t *testing.T) {
	tests := []struct {
		name      string
		chunks    []string
		wantArgs  string
		wantError bool
	}{
		{name: "split object", chunks: []string{`{"a":1`, `}`}, wantArgs: `{"a":1}`},
		{name: "many chunks", chunks: []string{`{"pa`, `th":"/tm`, `p"}`}, wantArgs: `{"path":"/tmp"}`},
		{name: "empty becomes object", chunks: nil, wantArgs: `{}`},
		{name: "whitespace only", chunks: []string{"  "}, wantArgs: `{}`},
		{name: "truncated", chunks: []string{`{"a":`}, wantError: true},
		{name: "array", chunks: []string{`[1,2]`}, wantError: true},
		{name: "null", chunks: []string{`null`}, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New()
			a.Apply(callStart("call_1", "lookup"))
			for _, c := range tt.chunks {
				a.Apply(callArgs("call_1", c))
			}
			a.Apply(callEnd("call_1"))
			a.Apply(api.DoneEvent(api.FinishToolCalls, nil))

			msg, err := a.Result()
			if err != nil {
				t.Fatalf("message error: %v", err)
			}
			calls := msg.ToolCalls()
			if len(calls) != 1 {
				t.Fatalf("calls = %d, want 1", len(calls))
			}
			tc := calls[0]
			if tt.wantError {
				if tc.Err == nil || tc.Err.Kind != api.ErrorMalformedToolCall {
					t.Fatalf("call error = %v, want malformed_tool_call", tc.Err)
				}
				if tc.Arguments != nil {
					t.Errorf("malformed call has arguments %s", tc.Arguments)
				}
				return
			}
			if tc.Err != nil {
				t.Fatalf("unexpected call error: %v", tc.Err)
			}
			if string(tc.Arguments) != tt.wantArgs {
				t.Errorf("args = %s, want %s", tc.Arguments, tt.wantArgs)
			}
		})
	}
}

func TestMalformedCallDoesNotFailMessage(t *testing.T) {
	msg, err := Assemble(seq(
		callStart("call_good", "a"),
		callStart("call_bad", "b"),
		callArgs("call_good", `{"x":1}`),
		callArgs("call_bad", `{"x":`),
		callEnd("call_good"),
		callEnd("call_bad"),
		api.DoneEvent(api.FinishToolCalls, nil),
	))
	if err != nil {
		t.Fatalf("unexpected message error: %v", err)
	}
	calls := msg.ToolCalls()
	if len(calls) != 2 {
		t.Fatalf("calls = %d", len(calls))
	}
	if calls[0].Err != nil {
		t.Errorf("good call has error %v", calls[0].Err)
	}
	if calls[1].Err == nil {
		t.Error("bad call has no error")
	}
}

func TestInterleavedCallsKeepFirstSeenOrder(t *testing.T) {
	msg, err := Assemble(seq(
		api.TextDelta("Let me check. "),
		callStart("c2", "weather"),
		callStart("c1", "time"),
		callArgs("c1", `{"tz":`),
		callArgs("c2", `{"city":`),
		callArgs("c1", `"UTC"}`),
		callArgs("c2", `"Oslo"}`),
		api.DoneEvent(api.FinishToolCalls, nil),
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.Turn.Parts[0].Type != api.PartText {
		t.Errorf("first part = %q, want text", msg.Turn.Parts[0].Type)
	}
	calls := msg.ToolCalls()
	if len(calls) != 2 {
		t.Fatalf("calls = %d", len(calls))
	}
	want := []struct{ id, args string }{
		{"c2", `{"city":"Oslo"}`},
		{"c1", `{"tz":"UTC"}`},
	}
	for i, w := range want {
		if calls[i].ID != w.id || string(calls[i].Arguments) != w.args {
			t.Errorf("calls[%d] = %s %s, want %s %s", i, calls[i].ID, calls[i].Arguments, w.id, w.args)
		}
	}
}

func TestArgsForUnknownCallIsMalformed(t *testing.T) {
	msg, err := Assemble(seq(
		callArgs("ghost", `{}`),
		api.DoneEvent(api.FinishToolCalls, nil),
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := msg.ToolCalls()
	if len(calls) != 1 || calls[0].Err == nil {
		t.Fatalf("calls = %+v, want one malformed call", calls)
	}
	conv := &api.Conversation{}
	if err := conv.Append(msg.Turn); err != nil {
		t.Errorf("malformed call should still be a valid turn: %v", err)
	}
}

func TestRetryResets(t *testing.T) {
	msg, err := Assemble(seq(
		api.TextDelta("stale "),
		callStart("c1", "x"),
		api.Event{Type: api.EventRetry, Attempt: 2},
		api.TextDelta("fresh"),
		api.DoneEvent(api.FinishStop, nil),
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := msg.Text(); got != "fresh" {
		t.Errorf("text = %q, want %q", got, "fresh")
	}
	if len(msg.ToolCalls()) != 0 {
		t.Error("tool call from the failed attempt survived retry")
	}
}

func TestCanceled(t *testing.T) {
	msg, err := Assemble(seq(
		api.TextDelta("half"),
		api.ErrorEvent(api.NewCanceledError(nil)),
	))
	if api.KindOf(err) != api.ErrorCanceled {
		t.Fatalf("err = %v, want canceled", err)
	}
	if !msg.Canceled {
		t.Error("expected Canceled")
	}
	if msg.Text() != "half" {
		t.Errorf("text = %q", msg.Text())
	}
}

func TestSequenceWithoutTerminal(t *testing.T) {
	msg, err := Assemble(seq(api.TextDelta("cut")))
	if api.KindOf(err) != api.ErrorMalformedResponse {
		t.Fatalf("err = %v, want malformed_response", err)
	}
	if msg == nil || msg.Text() != "cut" {
		t.Errorf("partial = %+v", msg)
	}
}

func TestResultBeforeTerminal(t *testing.T) {
	a := New()
	a.Apply(api.TextDelta("x"))
	if _, err := a.Result(); err == nil {
		t.Error("expected error before terminal event")
	}
	if a.Done() {
		t.Error("Done before terminal event")
	}
}

func TestObserversSeeEveryEvent(t *testing.T) {
	events := []api.Event{
		api.TextDelta("a"),
		callStart("c", "t"),
		callEnd("c"),
		api.DoneEvent(api.FinishStop, nil),
	}
	var seen []api.EventType
	_, err := Assemble(slices.Values(events), ObserverFunc(func(ev api.Event) {
		seen = append(seen, ev.Type)
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != len(events) {
		t.Fatalf("observer saw %d events, want %d", len(seen), len(events))
	}
	for i, ev := range events {
		if seen[i] != ev.Type {
			t.Errorf("seen[%d] = %s, want %s", i, seen[i], ev.Type)
		}
	}
}
