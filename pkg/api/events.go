package api

// EventType discriminates the Event variant.
type EventType int

const (
	EventTextDelta         EventType = iota // Incremental text
	EventToolCallStart                      // A tool call begins (ID, Name)
	EventToolCallArgsChunk                  // Incremental tool call arguments
	EventToolCallEnd                        // Tool call arguments complete
	EventDone                               // Terminal success (FinishReason, Usage)
	EventError                              // Terminal failure (Err)
	EventRetry                              // A fresh attempt begins; discard partial state
)

var eventTypeNames = [...]string{
	EventTextDelta:         "text_delta",
	EventToolCallStart:     "tool_call_start",
	EventToolCallArgsChunk: "tool_call_args_chunk",
	EventToolCallEnd:       "tool_call_end",
	EventDone:              "done",
	EventError:             "error",
	EventRetry:             "retry",
}

func (t EventType) String() string {
	if int(t) >= 0 && int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return "unknown"
}

// Event is one incremental unit emitted while a provider call is in flight.
// Events are ephemeral: they are consumed once and not retained.
type Event struct {
	Type EventType

	// Text is the text delta (EventTextDelta) or argument chunk
	// (EventToolCallArgsChunk).
	Text string

	// CallID identifies the tool call for tool call events.
	CallID string

	// Name is the tool name, set on EventToolCallStart.
	Name string

	// FinishReason is set on EventDone.
	FinishReason string

	// Usage is set on EventDone when the provider reports it.
	Usage *Usage

	// Err is set on EventError.
	Err *Error

	// Attempt is the 1-based attempt number, set on EventRetry.
	Attempt int
}

// IsTerminal reports whether the event ends a sequence.
func (e Event) IsTerminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// TextDelta builds a text delta event.
func TextDelta(s string) Event {
	return Event{Type: EventTextDelta, Text: s}
}

// DoneEvent builds a terminal success event.
func DoneEvent(reason string, usage *Usage) Event {
	return Event{Type: EventDone, FinishReason: reason, Usage: usage}
}

// ErrorEvent builds a terminal failure event.
func ErrorEvent(err *Error) Event {
	return Event{Type: EventError, Err: err}
}
