package openaicompat

import (
	"encoding/json"
	"log/slog"

	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/debug"
	"github.com/rhuss/palaver/pkg/provider"
	"github.com/rhuss/palaver/pkg/provider/sse"
)

// doneSentinel terminates a Chat Completions stream.
const doneSentinel = "[DONE]"

// ToolCallBuffer tracks one streamed tool call. Chat Completions identifies
// continuation chunks by index only; the ID arrives on the first chunk.
type ToolCallBuffer struct {
	ID    string
	Name  string
	ended bool
}

// Decoder decodes one Chat Completions SSE stream.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	\n
//	data: [DONE]\n
//	\n
type Decoder struct {
	provider string
	frames   sse.Splitter

	calls map[int]*ToolCallBuffer
	order []int

	finish    string
	sawFinish bool
	usage     *api.Usage
	done      bool
}

var _ provider.Decoder = (*Decoder)(nil)

// NewDecoder creates a decoder. providerName is recorded on errors.
func NewDecoder(providerName string) *Decoder {
	return &Decoder{
		provider: providerName,
		calls:    make(map[int]*ToolCallBuffer),
	}
}

// ParseEvent consumes raw bytes and returns the events completed by them.
func (d *Decoder) ParseEvent(chunk []byte) ([]api.Event, error) {
	if d.done {
		return nil, nil
	}
	var events []api.Event
	for _, f := range d.frames.Feed(chunk) {
		evs, err := d.frame(f)
		events = append(events, evs...)
		if err != nil {
			return events, err
		}
		if d.done {
			break
		}
	}
	if d.frames.Overflowed() {
		return events, d.malformed("SSE line exceeds buffer limit", nil)
	}
	return events, nil
}

// Finish flushes a trailing frame. A stream that reported a finish reason
// but omitted [DONE] is accepted; anything else is a truncated stream.
func (d *Decoder) Finish() ([]api.Event, error) {
	if d.done {
		return nil, nil
	}
	var events []api.Event
	if f, ok := d.frames.Flush(); ok {
		evs, err := d.frame(f)
		events = append(events, evs...)
		if err != nil {
			// An unterminated trailing frame is a cut connection, not bad data.
			e := api.NewTransientError("stream closed mid-frame")
			e.Provider = d.provider
			e.Cause = err
			return events, e
		}
		if d.done {
			return events, nil
		}
	}
	if d.sawFinish {
		debug.Log("providers", "stream ended without [DONE], accepting finish reason",
			"provider", d.provider, "finish_reason", d.finish)
		return append(events, d.complete()...), nil
	}
	e := api.NewTransientError("stream closed before terminal event")
	e.Provider = d.provider
	return events, e
}

func (d *Decoder) frame(f sse.Frame) ([]api.Event, error) {
	if f.Data == doneSentinel {
		return d.complete(), nil
	}

	var chunk ChatCompletionChunk
	if err := json.Unmarshal([]byte(f.Data), &chunk); err != nil {
		return nil, d.malformed("undecodable stream chunk: "+err.Error(), []byte(f.Data))
	}
	debug.Trace("providers", "stream chunk", "provider", d.provider, "data", debug.Truncate(f.Data, 500))

	if chunk.Error != nil {
		d.done = true
		return []api.Event{api.ErrorEvent(classifyChatError(d.provider, 0, chunk.Error, []byte(f.Data)))}, nil
	}

	if chunk.Usage != nil {
		d.usage = translateUsage(chunk.Usage)
	}
	if len(chunk.Choices) == 0 {
		return nil, nil
	}

	var events []api.Event
	choice := chunk.Choices[0]
	delta := choice.Delta

	if delta.Content != nil && *delta.Content != "" {
		events = append(events, api.TextDelta(*delta.Content))
	}

	for _, tc := range delta.ToolCalls {
		buf, ok := d.calls[tc.Index]
		if !ok {
			id := tc.ID
			if id == "" {
				id = api.NewCallID()
			}
			buf = &ToolCallBuffer{ID: id, Name: tc.Function.Name}
			d.calls[tc.Index] = buf
			d.order = append(d.order, tc.Index)
			events = append(events, api.Event{Type: api.EventToolCallStart, CallID: id, Name: buf.Name})
		}
		if tc.Function.Arguments != "" {
			events = append(events, api.Event{Type: api.EventToolCallArgsChunk, CallID: buf.ID, Text: tc.Function.Arguments})
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		d.finish = MapFinishReason(*choice.FinishReason)
		d.sawFinish = true
		events = append(events, d.endCalls()...)
	}
	return events, nil
}

// complete emits pending call ends and the terminal Done event.
func (d *Decoder) complete() []api.Event {
	events := d.endCalls()
	finish := d.finish
	if finish == "" {
		finish = api.FinishStop
		if len(d.order) > 0 {
			finish = api.FinishToolCalls
		}
	}
	d.done = true
	return append(events, api.DoneEvent(finish, d.usage))
}

func (d *Decoder) endCalls() []api.Event {
	var events []api.Event
	for _, idx := range d.order {
		buf := d.calls[idx]
		if buf.ended {
			continue
		}
		buf.ended = true
		events = append(events, api.Event{Type: api.EventToolCallEnd, CallID: buf.ID})
	}
	return events
}

func (d *Decoder) malformed(msg string, raw []byte) *api.Error {
	e := api.NewMalformedResponseError(msg, raw)
	e.Provider = d.provider
	return e
}

// MapFinishReason normalizes a Chat Completions finish_reason.
func MapFinishReason(reason string) string {
	switch reason {
	case "stop":
		return api.FinishStop
	case "length":
		return api.FinishLength
	case "tool_calls", "function_call":
		return api.FinishToolCalls
	case "content_filter":
		return api.FinishFiltered
	default:
		slog.Warn("unknown finish_reason, treating as stop", "finish_reason", reason)
		return api.FinishStop
	}
}

func translateUsage(u *ChatUsage) *api.Usage {
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	return &api.Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  total,
	}
}
