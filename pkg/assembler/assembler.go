// Package assembler folds a provider event sequence into a complete
// assistant message. Text and tool call arguments are concatenated in
// arrival order; tool arguments are keyed by call ID so that interleaved
// calls assemble independently.
package assembler

import (
	"bytes"
	"encoding/json"
	"iter"
	"log/slog"
	"strings"

	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/debug"
)

// AssembledMessage is the result of one provider call. It is built once a
// terminal event arrives and is not modified afterwards.
type AssembledMessage struct {
	// Turn is the reconstructed assistant turn.
	Turn api.Turn

	// FinishReason is set when the call completed.
	FinishReason string

	// Usage is the provider-reported token usage, if any.
	Usage *api.Usage

	// Err is the terminal error. The Turn then holds the partial output.
	Err *api.Error

	// Canceled marks a message cut short by cancellation.
	Canceled bool
}

// ToolCalls returns the tool calls in first-seen order.
func (m *AssembledMessage) ToolCalls() []api.ToolCall {
	return m.Turn.ToolCalls()
}

// Text returns the concatenated text.
func (m *AssembledMessage) Text() string {
	return m.Turn.Text()
}

// Partial reports whether the message ended with an error.
func (m *AssembledMessage) Partial() bool {
	return m.Err != nil
}

// HasContent reports whether any text or tool call was received.
func (m *AssembledMessage) HasContent() bool {
	return len(m.Turn.Parts) > 0
}

// Observer receives every event unchanged, in order, as it is folded.
type Observer interface {
	OnEvent(api.Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(api.Event)

// OnEvent calls f(ev).
func (f ObserverFunc) OnEvent(ev api.Event) { f(ev) }

// segment is a run of text or a single tool call, in arrival order.
type segment struct {
	text   *strings.Builder
	callID string
}

type callState struct {
	id    string
	name  string
	args  strings.Builder
	ended bool
	raw   json.RawMessage
	err   *api.Error
}

// Assembler accumulates events. The zero value is ready to use. It is not
// safe for concurrent use.
type Assembler struct {
	segments []segment
	calls    map[string]*callState

	finish   string
	usage    *api.Usage
	err      *api.Error
	terminal bool
}

// New returns an empty Assembler.
func New() *Assembler {
	return &Assembler{}
}

// Apply folds one event. Events after a terminal event are ignored.
func (a *Assembler) Apply(ev api.Event) {
	if a.terminal {
		debug.Log("assembler", "ignoring event after terminal", "type", ev.Type)
		return
	}

	switch ev.Type {
	case api.EventTextDelta:
		if ev.Text == "" {
			return
		}
		if n := len(a.segments); n > 0 && a.segments[n-1].text != nil {
			a.segments[n-1].text.WriteString(ev.Text)
			return
		}
		b := &strings.Builder{}
		b.WriteString(ev.Text)
		a.segments = append(a.segments, segment{text: b})

	case api.EventToolCallStart:
		c := a.call(ev.CallID)
		if ev.Name != "" {
			c.name = ev.Name
		}

	case api.EventToolCallArgsChunk:
		c := a.call(ev.CallID)
		if c.ended {
			debug.Log("assembler", "arguments after tool call end", "call_id", ev.CallID)
			return
		}
		c.args.WriteString(ev.Text)

	case api.EventToolCallEnd:
		c, ok := a.calls[ev.CallID]
		if !ok {
			debug.Log("assembler", "end for unknown tool call", "call_id", ev.CallID)
			return
		}
		a.end(c)

	case api.EventDone:
		a.finish = ev.FinishReason
		a.usage = ev.Usage
		a.endAll()
		a.terminal = true

	case api.EventError:
		a.err = ev.Err
		if a.err == nil {
			a.err = api.NewPermanentError("unspecified provider error")
		}
		a.endAll()
		a.terminal = true

	case api.EventRetry:
		// A fresh attempt replaces everything from the failed one.
		debug.Log("assembler", "discarding partial attempt", "attempt", ev.Attempt, "segments", len(a.segments))
		*a = Assembler{}
	}
}

// Done reports whether a terminal event has been applied.
func (a *Assembler) Done() bool { return a.terminal }

// Result returns the assembled message. Before a terminal event it returns
// an error. After an Error event it returns the partial message together
// with that error.
func (a *Assembler) Result() (*AssembledMessage, error) {
	if !a.terminal {
		return nil, api.NewPermanentError("assembly incomplete: no terminal event")
	}

	msg := &AssembledMessage{
		Turn:         api.Turn{Role: api.RoleAssistant},
		FinishReason: a.finish,
		Err:          a.err,
		Canceled:     a.err != nil && a.err.Kind == api.ErrorCanceled,
	}
	if a.usage != nil {
		u := *a.usage
		msg.Usage = &u
	}
	for _, s := range a.segments {
		if s.text != nil {
			msg.Turn.Parts = append(msg.Turn.Parts, api.TextPart(s.text.String()))
			continue
		}
		c := a.calls[s.callID]
		tc := api.ToolCall{ID: c.id, Name: c.name, Err: c.err}
		if c.err == nil {
			tc.Arguments = bytes.Clone(c.raw)
		}
		msg.Turn.Parts = append(msg.Turn.Parts, api.ToolCallPart(tc))
	}

	if msg.Err != nil {
		return msg, msg.Err
	}
	return msg, nil
}

// Assemble folds events, forwarding each to the observers before applying
// it. A sequence that ends without a terminal event yields a
// MalformedResponse error with the partial message.
func Assemble(events iter.Seq[api.Event], observers ...Observer) (*AssembledMessage, error) {
	a := New()
	for ev := range events {
		for _, o := range observers {
			o.OnEvent(ev)
		}
		a.Apply(ev)
		if a.terminal {
			break
		}
	}
	if !a.terminal {
		a.Apply(api.ErrorEvent(api.NewMalformedResponseError("event sequence ended without terminal event", nil)))
	}
	return a.Result()
}

func (a *Assembler) call(id string) *callState {
	if a.calls == nil {
		a.calls = make(map[string]*callState)
	}
	c, ok := a.calls[id]
	if !ok {
		c = &callState{id: id}
		a.calls[id] = c
		a.segments = append(a.segments, segment{callID: id})
	}
	return c
}

func (a *Assembler) end(c *callState) {
	if c.ended {
		return
	}
	c.ended = true

	if c.id == "" {
		c.err = api.NewMalformedToolCallError(c.id, "tool call has no id")
		return
	}
	if c.name == "" {
		c.err = api.NewMalformedToolCallError(c.id, "tool call has no name")
		return
	}

	raw := strings.TrimSpace(c.args.String())
	if raw == "" {
		c.raw = json.RawMessage(`{}`)
		return
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		c.err = api.NewMalformedToolCallError(c.id, "invalid tool arguments: "+err.Error())
		c.err.Raw = []byte(debug.Truncate(raw, 4096))
		slog.Warn("malformed tool call arguments", "tool", c.name, "call_id", c.id, "error", err)
		return
	}
	if obj == nil {
		c.err = api.NewMalformedToolCallError(c.id, "tool arguments must be a JSON object")
		return
	}
	c.raw = json.RawMessage(raw)
}

func (a *Assembler) endAll() {
	for _, s := range a.segments {
		if s.text == nil {
			a.end(a.calls[s.callID])
		}
	}
}
