package engine

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/provider"
	"github.com/rhuss/palaver/pkg/tools"
)

// stubAdapter satisfies provider.Adapter for tests that script events
// through WithStreamer; only Name is used.
type stubAdapter struct{ provider.Adapter }

func (stubAdapter) Name() string { return "stub" }

// script returns a Streamer that plays one event list per provider turn
// and records every request.
type script struct {
	mu       sync.Mutex
	turns    [][]api.Event
	requests []*api.Request
}

func (s *script) streamer() Streamer {
	return func(ctx context.Context, req *api.Request) iter.Seq[api.Event] {
		s.mu.Lock()
		n := len(s.requests)
		s.requests = append(s.requests, req)
		s.mu.Unlock()
		if n >= len(s.turns) {
			return slices.Values([]api.Event{api.ErrorEvent(api.NewPermanentError("script exhausted"))})
		}
		return slices.Values(s.turns[n])
	}
}

func toolCall(id, name, args string) []api.Event {
	return []api.Event{
		{Type: api.EventToolCallStart, CallID: id, Name: name},
		{Type: api.EventToolCallArgsChunk, CallID: id, Text: args},
		{Type: api.EventToolCallEnd, CallID: id},
	}
}

func turnWithCalls(calls ...[]api.Event) []api.Event {
	var evs []api.Event
	for _, c := range calls {
		evs = append(evs, c...)
	}
	return append(evs, api.DoneEvent(api.FinishToolCalls, nil))
}

func textTurn(s string) []api.Event {
	return []api.Event{api.TextDelta(s), api.DoneEvent(api.FinishStop, nil)}
}

// funcExecutor is a hand-written executor backed by a map of handlers.
type funcExecutor struct {
	handlers map[string]func(context.Context, api.ToolCall) (*api.ToolResult, error)
	calls    atomic.Int32
}

func (f *funcExecutor) Kind() tools.ToolKind { return tools.ToolKindBuiltin }

func (f *funcExecutor) CanExecute(name string) bool {
	_, ok := f.handlers[name]
	return ok
}

func (f *funcExecutor) Execute(ctx context.Context, call api.ToolCall) (*api.ToolResult, error) {
	f.calls.Add(1)
	return f.handlers[call.Name](ctx, call)
}

func (f *funcExecutor) Definitions(context.Context) ([]api.ToolDefinition, error) {
	var defs []api.ToolDefinition
	for name := range f.handlers {
		defs = append(defs, api.ToolDefinition{Name: name})
	}
	slices.SortFunc(defs, func(a, b api.ToolDefinition) int { return strings.Compare(a.Name, b.Name) })
	return defs, nil
}

func echoExecutor() *funcExecutor {
	return &funcExecutor{handlers: map[string]func(context.Context, api.ToolCall) (*api.ToolResult, error){
		"echo": func(_ context.Context, call api.ToolCall) (*api.ToolResult, error) {
			return &api.ToolResult{CallID: call.ID, Output: "echo:" + string(call.Arguments)}, nil
		},
	}}
}

// recordingSink captures transitions and tool results.
type recordingSink struct {
	NopSink
	states  []api.State
	results []api.ToolResult
	events  int
}

func (r *recordingSink) OnEvent(api.Event) { r.events++ }

func (r *recordingSink) OnState(_, to api.State) { r.states = append(r.states, to) }

func (r *recordingSink) OnToolResult(_ api.ToolCall, res api.ToolResult) {
	r.results = append(r.results, res)
}

func newEngine(t *testing.T, s *script, cfg Config, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithStreamer(s.streamer())}, opts...)
	e, err := New(stubAdapter{}, cfg, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

func TestSend_TextAnswer(t *testing.T) {
	s := &script{turns: [][]api.Event{textTurn("Hi there")}}
	sink := &recordingSink{}
	e := newEngine(t, s, Config{Model: "m"}, WithSink(sink))

	msg, err := e.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if msg.Text() != "Hi there" {
		t.Errorf("text = %q", msg.Text())
	}
	if e.State() != api.StateIdle {
		t.Errorf("state = %s, want idle", e.State())
	}
	want := []api.State{api.StateRequesting, api.StateStreaming, api.StateIdle}
	if !slices.Equal(sink.states, want) {
		t.Errorf("states = %v, want %v", sink.states, want)
	}
	if sink.events != 2 {
		t.Errorf("sink saw %d events, want 2", sink.events)
	}

	conv := e.Conversation()
	if len(conv.Turns) != 2 || conv.Turns[0].Role != api.RoleUser || conv.Turns[1].Role != api.RoleAssistant {
		t.Fatalf("conversation = %+v", conv.Turns)
	}
	if s.requests[0].Model() != "m" {
		t.Errorf("model = %q", s.requests[0].Model())
	}
}

func TestSend_ToolRoundTrip(t *testing.T) {
	s := &script{turns: [][]api.Event{
		turnWithCalls(toolCall("c1", "echo", `{"x":1}`)),
		textTurn("done"),
	}}
	sink := &recordingSink{}
	e := newEngine(t, s, Config{}, WithExecutors(echoExecutor()), WithSink(sink))

	msg, err := e.Send(context.Background(), "use the tool")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if msg.Text() != "done" {
		t.Errorf("final text = %q", msg.Text())
	}

	want := []api.State{
		api.StateRequesting, api.StateStreaming, api.StateToolDispatch,
		api.StateRequesting, api.StateStreaming, api.StateIdle,
	}
	if !slices.Equal(sink.states, want) {
		t.Errorf("states = %v, want %v", sink.states, want)
	}

	if len(s.requests) != 2 {
		t.Fatalf("requests = %d, want 2", len(s.requests))
	}
	if tools := s.requests[0].Tools(); len(tools) != 1 || tools[0].Name != "echo" {
		t.Errorf("offered tools = %+v", tools)
	}
	second := s.requests[1].Turns()
	if len(second) != 3 {
		t.Fatalf("second request turns = %d, want 3", len(second))
	}
	results := second[2].ToolResults()
	if len(results) != 1 || results[0].CallID != "c1" || results[0].Output != `echo:{"x":1}` {
		t.Errorf("tool results = %+v", results)
	}
	if len(sink.results) != 1 {
		t.Errorf("sink tool results = %d", len(sink.results))
	}
}

func TestSend_ToolResultsKeepCallOrder(t *testing.T) {
	for _, mode := range []string{DispatchSequential, DispatchParallel} {
		t.Run(mode, func(t *testing.T) {
			exec := &funcExecutor{handlers: map[string]func(context.Context, api.ToolCall) (*api.ToolResult, error){
				"slow": func(_ context.Context, call api.ToolCall) (*api.ToolResult, error) {
					time.Sleep(30 * time.Millisecond)
					return &api.ToolResult{CallID: call.ID, Output: "slow"}, nil
				},
				"fast": func(_ context.Context, call api.ToolCall) (*api.ToolResult, error) {
					return &api.ToolResult{CallID: call.ID, Output: "fast"}, nil
				},
			}}
			s := &script{turns: [][]api.Event{
				turnWithCalls(toolCall("a", "slow", `{}`), toolCall("b", "fast", `{}`), toolCall("c", "slow", `{}`)),
				textTurn("ok"),
			}}
			e := newEngine(t, s, Config{ToolDispatch: mode, MaxParallelTools: 2}, WithExecutors(exec))

			if _, err := e.Send(context.Background(), "go"); err != nil {
				t.Fatalf("Send failed: %v", err)
			}
			results := s.requests[1].Turns()[2].ToolResults()
			var ids []string
			for _, r := range results {
				ids = append(ids, r.CallID)
			}
			if !slices.Equal(ids, []string{"a", "b", "c"}) {
				t.Errorf("result order = %v, want [a b c]", ids)
			}
		})
	}
}

func TestSend_ParallelRespectsLimit(t *testing.T) {
	var running, peak atomic.Int32
	exec := &funcExecutor{handlers: map[string]func(context.Context, api.ToolCall) (*api.ToolResult, error){
		"work": func(_ context.Context, call api.ToolCall) (*api.ToolResult, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return &api.ToolResult{CallID: call.ID}, nil
		},
	}}
	var calls [][]api.Event
	for _, id := range []string{"1", "2", "3", "4", "5", "6"} {
		calls = append(calls, toolCall(id, "work", `{}`))
	}
	s := &script{turns: [][]api.Event{turnWithCalls(calls...), textTurn("ok")}}
	e := newEngine(t, s, Config{ToolDispatch: DispatchParallel, MaxParallelTools: 2}, WithExecutors(exec))

	if _, err := e.Send(context.Background(), "go"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
	if exec.calls.Load() != 6 {
		t.Errorf("executions = %d, want 6", exec.calls.Load())
	}
}

func TestSend_UnexecutableCallsBecomeErrorResults(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		events  []api.Event
		wantOut string
	}{
		{
			name:    "malformed arguments",
			events:  toolCall("c1", "echo", `{"x":`),
			wantOut: "not executed",
		},
		{
			name:    "unknown tool",
			events:  toolCall("c1", "nope", `{}`),
			wantOut: `unknown tool "nope"`,
		},
		{
			name:    "not allowed",
			cfg:     Config{AllowedTools: []string{"other"}},
			events:  toolCall("c1", "echo", `{}`),
			wantOut: "not in the allowed tools list",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := echoExecutor()
			s := &script{turns: [][]api.Event{turnWithCalls(tt.events), textTurn("recovered")}}
			e := newEngine(t, s, tt.cfg, WithExecutors(exec))

			msg, err := e.Send(context.Background(), "go")
			if err != nil {
				t.Fatalf("Send failed: %v", err)
			}
			if msg.Text() != "recovered" {
				t.Errorf("final text = %q", msg.Text())
			}
			if exec.calls.Load() != 0 {
				t.Errorf("executor ran %d times, want 0", exec.calls.Load())
			}
			results := s.requests[1].Turns()[2].ToolResults()
			if len(results) != 1 || !results[0].IsError || !strings.Contains(results[0].Output, tt.wantOut) {
				t.Errorf("results = %+v, want error containing %q", results, tt.wantOut)
			}
		})
	}
}

func TestSend_ToolFailure(t *testing.T) {
	failing := &funcExecutor{handlers: map[string]func(context.Context, api.ToolCall) (*api.ToolResult, error){
		"boom": func(context.Context, api.ToolCall) (*api.ToolResult, error) {
			return nil, errors.New("disk on fire")
		},
	}}

	t.Run("fed back to the model", func(t *testing.T) {
		s := &script{turns: [][]api.Event{turnWithCalls(toolCall("c1", "boom", `{}`)), textTurn("sorry")}}
		e := newEngine(t, s, Config{}, WithExecutors(failing))

		if _, err := e.Send(context.Background(), "go"); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		r := s.requests[1].Turns()[2].ToolResults()[0]
		if !r.IsError || r.Output != "disk on fire" {
			t.Errorf("result = %+v", r)
		}
	})

	t.Run("fails the exchange", func(t *testing.T) {
		s := &script{turns: [][]api.Event{turnWithCalls(toolCall("c1", "boom", `{}`))}}
		e := newEngine(t, s, Config{FailOnToolError: true}, WithExecutors(failing))

		_, err := e.Send(context.Background(), "go")
		if api.KindOf(err) != api.ErrorPermanent {
			t.Fatalf("err = %v, want permanent", err)
		}
		if e.State() != api.StateFailed {
			t.Errorf("state = %s, want failed", e.State())
		}
		if len(s.requests) != 1 {
			t.Errorf("requests = %d, want 1", len(s.requests))
		}
	})
}

// unansweredCalls returns the IDs of tool calls in turns that have no
// matching tool result.
func unansweredCalls(turns []api.Turn) []string {
	answered := make(map[string]bool)
	for _, t := range turns {
		for _, r := range t.ToolResults() {
			answered[r.CallID] = true
		}
	}
	var missing []string
	for _, t := range turns {
		for _, c := range t.ToolCalls() {
			if !answered[c.ID] {
				missing = append(missing, c.ID)
			}
		}
	}
	return missing
}

func TestSend_FailedDispatchAnswersEveryCall(t *testing.T) {
	for _, dispatch := range []string{DispatchSequential, DispatchParallel} {
		t.Run(dispatch, func(t *testing.T) {
			exec := echoExecutor()
			exec.handlers["boom"] = func(context.Context, api.ToolCall) (*api.ToolResult, error) {
				return nil, errors.New("disk on fire")
			}
			s := &script{turns: [][]api.Event{
				turnWithCalls(toolCall("c1", "echo", `{}`), toolCall("c2", "boom", `{}`)),
				textTurn("recovered"),
			}}
			e := newEngine(t, s, Config{FailOnToolError: true, ToolDispatch: dispatch}, WithExecutors(exec))

			if _, err := e.Send(context.Background(), "go"); err == nil {
				t.Fatal("expected the tool failure to fail the exchange")
			}
			conv := e.Conversation()
			if missing := unansweredCalls(conv.Turns); len(missing) != 0 {
				t.Fatalf("unanswered calls after failure: %v", missing)
			}
			if err := api.ValidateConversation(conv); err != nil {
				t.Fatalf("conversation invalid: %v", err)
			}
			last, _ := conv.Last()
			results := last.ToolResults()
			if len(results) != 2 || results[0].CallID != "c1" || results[1].CallID != "c2" || !results[1].IsError {
				t.Fatalf("results = %+v", results)
			}

			if _, err := e.Send(context.Background(), "try again"); err != nil {
				t.Fatalf("second Send failed: %v", err)
			}
			if missing := unansweredCalls(s.requests[1].Turns()); len(missing) != 0 {
				t.Errorf("second request replays unanswered calls %v", missing)
			}
		})
	}
}

func TestSend_MaxTurns(t *testing.T) {
	loop := turnWithCalls(toolCall("c", "echo", `{}`))
	s := &script{turns: [][]api.Event{loop, loop, loop, loop}}
	e := newEngine(t, s, Config{MaxTurns: 2}, WithExecutors(echoExecutor()))

	_, err := e.Send(context.Background(), "loop forever")
	if api.KindOf(err) != api.ErrorPermanent {
		t.Fatalf("err = %v, want permanent", err)
	}
	if len(s.requests) != 2 {
		t.Errorf("requests = %d, want 2", len(s.requests))
	}
	if e.State() != api.StateFailed {
		t.Errorf("state = %s", e.State())
	}
}

func TestSend_ProviderErrorKeepsPartial(t *testing.T) {
	s := &script{turns: [][]api.Event{{
		api.TextDelta("The answer is"),
		api.ErrorEvent(api.NewPermanentError("retries exhausted")),
	}}}
	sink := &recordingSink{}
	e := newEngine(t, s, Config{}, WithSink(sink))

	msg, err := e.Send(context.Background(), "q")
	if err == nil {
		t.Fatal("expected error")
	}
	if msg == nil || msg.Text() != "The answer is" {
		t.Fatalf("partial = %+v", msg)
	}
	want := []api.State{api.StateRequesting, api.StateStreaming, api.StateFailed}
	if !slices.Equal(sink.states, want) {
		t.Errorf("states = %v, want %v", sink.states, want)
	}

	last, _ := e.Conversation().Last()
	if last.Role != api.RoleAssistant || last.Metadata["partial"] != true {
		t.Errorf("last turn = %+v, want partial assistant turn", last)
	}
	if !strings.Contains(last.Metadata["error"].(string), "retries exhausted") {
		t.Errorf("metadata error = %v", last.Metadata["error"])
	}
}

func TestSend_ErrorBeforeOutput(t *testing.T) {
	s := &script{turns: [][]api.Event{{api.ErrorEvent(&api.Error{Kind: api.ErrorPermanent, StatusCode: 401, Message: "bad key"})}}}
	sink := &recordingSink{}
	e := newEngine(t, s, Config{}, WithSink(sink))

	if _, err := e.Send(context.Background(), "q"); err == nil {
		t.Fatal("expected error")
	}
	want := []api.State{api.StateRequesting, api.StateFailed}
	if !slices.Equal(sink.states, want) {
		t.Errorf("states = %v, want %v", sink.states, want)
	}
	if n := len(e.Conversation().Turns); n != 1 {
		t.Errorf("turns = %d, want only the user turn", n)
	}

	// Failed accepts new input.
	s.turns = append(s.turns, textTurn("back"))
	if _, err := e.Send(context.Background(), "again"); err != nil {
		t.Fatalf("second Send failed: %v", err)
	}
	if e.State() != api.StateIdle {
		t.Errorf("state = %s", e.State())
	}
}

func TestSend_CanceledDuringDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &funcExecutor{handlers: map[string]func(context.Context, api.ToolCall) (*api.ToolResult, error){
		"stop": func(ctx context.Context, call api.ToolCall) (*api.ToolResult, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}
	s := &script{turns: [][]api.Event{turnWithCalls(toolCall("c1", "stop", `{}`)), textTurn("never")}}
	e := newEngine(t, s, Config{}, WithExecutors(exec))

	_, err := e.Send(ctx, "go")
	if api.KindOf(err) != api.ErrorCanceled {
		t.Fatalf("err = %v, want canceled", err)
	}
	if len(s.requests) != 1 {
		t.Errorf("requests = %d, want 1", len(s.requests))
	}
	last, _ := e.Conversation().Last()
	if r := last.ToolResults(); len(r) != 1 || r[0].CallID != "c1" || !r[0].IsError {
		t.Errorf("canceled call result = %+v", r)
	}
}

func TestSend_EmptyMessage(t *testing.T) {
	e := newEngine(t, &script{}, Config{})
	if _, err := e.Send(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty message")
	}
	if e.State() != api.StateAwaitingInput {
		t.Errorf("state = %s, want awaiting_input", e.State())
	}
}

func TestWithConversation(t *testing.T) {
	conv := api.NewConversation()
	if err := conv.Append(api.NewTextTurn(api.RoleSystem, "be brief")); err != nil {
		t.Fatal(err)
	}
	if err := conv.Append(api.NewTextTurn(api.RoleUser, "earlier")); err != nil {
		t.Fatal(err)
	}

	s := &script{turns: [][]api.Event{textTurn("ok")}}
	e := newEngine(t, s, Config{}, WithConversation(conv))

	// The engine owns a copy.
	conv.Turns = nil

	if _, err := e.Send(context.Background(), "now"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	turns := s.requests[0].Turns()
	if len(turns) != 3 || turns[0].Role != api.RoleSystem {
		t.Fatalf("request turns = %+v", turns)
	}

	got := e.Conversation()
	if got.ID == "" || len(got.Turns) != 4 {
		t.Errorf("conversation = %d turns", len(got.Turns))
	}
	got.Turns = nil
	if len(e.Conversation().Turns) != 4 {
		t.Error("Conversation() must return a copy")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Error("expected error for nil adapter")
	}
	if _, err := New(stubAdapter{}, Config{ToolDispatch: "random"}); err == nil {
		t.Error("expected error for unknown dispatch mode")
	}
	bad := &api.Conversation{Turns: []api.Turn{{Role: "robot"}}}
	if _, err := New(stubAdapter{}, Config{}, WithConversation(bad)); err == nil {
		t.Error("expected error for invalid resumed conversation")
	}
}

func TestRequestOptions(t *testing.T) {
	temp := 0.2
	maxTokens := 64
	s := &script{turns: [][]api.Event{textTurn("ok")}}
	e := newEngine(t, s, Config{Stream: true, Temperature: &temp, MaxTokens: &maxTokens})

	if _, err := e.Send(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}
	req := s.requests[0]
	if !req.Stream() {
		t.Error("stream not set")
	}
	if v, ok := req.Temperature(); !ok || v != 0.2 {
		t.Errorf("temperature = %v %v", v, ok)
	}
	if v, ok := req.MaxTokens(); !ok || v != 64 {
		t.Errorf("max tokens = %v %v", v, ok)
	}
	if len(req.Tools()) != 0 {
		t.Error("tools offered without executors")
	}
}

func TestToolArgumentsReachExecutor(t *testing.T) {
	var got json.RawMessage
	exec := &funcExecutor{handlers: map[string]func(context.Context, api.ToolCall) (*api.ToolResult, error){
		"capture": func(_ context.Context, call api.ToolCall) (*api.ToolResult, error) {
			got = call.Arguments
			return &api.ToolResult{CallID: call.ID}, nil
		},
	}}
	s := &script{turns: [][]api.Event{
		{
			{Type: api.EventToolCallStart, CallID: "c1", Name: "capture"},
			{Type: api.EventToolCallArgsChunk, CallID: "c1", Text: `{"path":`},
			{Type: api.EventToolCallArgsChunk, CallID: "c1", Text: `"/tmp"}`},
			api.DoneEvent(api.FinishToolCalls, nil),
		},
		textTurn("ok"),
	}}
	e := newEngine(t, s, Config{}, WithExecutors(exec))
	if _, err := e.Send(context.Background(), "go"); err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"path":"/tmp"}` {
		t.Errorf("arguments = %s", got)
	}
}
