package engine

import "github.com/rhuss/palaver/pkg/api"

// Sink observes an exchange as it happens. Callbacks run on the goroutine
// that called Send while the engine is locked; they must not call back
// into the Engine.
type Sink interface {
	// OnEvent receives every provider event unchanged.
	OnEvent(ev api.Event)

	// OnState reports a validated state transition.
	OnState(from, to api.State)

	// OnToolResult reports a completed tool call, in call order.
	OnToolResult(call api.ToolCall, result api.ToolResult)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) OnEvent(api.Event)                         {}
func (NopSink) OnState(api.State, api.State)              {}
func (NopSink) OnToolResult(api.ToolCall, api.ToolResult) {}

// SinkFuncs adapts optional functions to Sink. Nil fields are skipped.
type SinkFuncs struct {
	Event      func(api.Event)
	State      func(from, to api.State)
	ToolResult func(api.ToolCall, api.ToolResult)
}

func (s SinkFuncs) OnEvent(ev api.Event) {
	if s.Event != nil {
		s.Event(ev)
	}
}

func (s SinkFuncs) OnState(from, to api.State) {
	if s.State != nil {
		s.State(from, to)
	}
}

func (s SinkFuncs) OnToolResult(call api.ToolCall, result api.ToolResult) {
	if s.ToolResult != nil {
		s.ToolResult(call, result)
	}
}
