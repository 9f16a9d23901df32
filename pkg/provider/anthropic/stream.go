package anthropic

import (
	"encoding/json"

	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/debug"
	"github.com/rhuss/palaver/pkg/provider"
	"github.com/rhuss/palaver/pkg/provider/sse"
)

// Decoder decodes one Messages API event stream. Each frame carries an
// "event:" name and a JSON "data:" payload:
//
//	event: content_block_delta
//	data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}
type Decoder struct {
	provider string
	frames   sse.Splitter

	// toolBlocks maps content block index to tool call ID.
	toolBlocks map[int]string
	sawTool    bool

	stopReason string
	usage      api.Usage
	sawUsage   bool
	done       bool
}

var _ provider.Decoder = (*Decoder)(nil)

// NewDecoder creates a decoder. providerName is recorded on errors.
func NewDecoder(providerName string) *Decoder {
	return &Decoder{provider: providerName, toolBlocks: make(map[int]string)}
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

// Finish flushes a trailing frame. A stream that ends before message_stop
// is truncated.
func (d *Decoder) Finish() ([]api.Event, error) {
	if d.done {
		return nil, nil
	}
	var events []api.Event
	if f, ok := d.frames.Flush(); ok {
		evs, err := d.frame(f)
		events = append(events, evs...)
		if err != nil {
			e := api.NewTransientError("stream closed mid-frame")
			e.Provider = d.provider
			e.Cause = err
			return events, e
		}
		if d.done {
			return events, nil
		}
	}
	e := api.NewTransientError("stream closed before message_stop")
	e.Provider = d.provider
	return events, e
}

func (d *Decoder) frame(f sse.Frame) ([]api.Event, error) {
	var ev streamEvent
	if err := json.Unmarshal([]byte(f.Data), &ev); err != nil {
		return nil, d.malformed("undecodable stream event: "+err.Error(), []byte(f.Data))
	}
	name := f.Event
	if name == "" {
		name = ev.Type
	}
	debug.Trace("providers", "stream event", "provider", d.provider, "event", name, "data", debug.Truncate(f.Data, 500))

	switch name {
	case "ping":
		return nil, nil

	case "message_stop":
		return d.complete(), nil

	case "message_start":
		if ev.Message != nil && ev.Message.Usage != nil {
			d.usage.InputTokens = ev.Message.Usage.InputTokens
			d.usage.OutputTokens = ev.Message.Usage.OutputTokens
			d.sawUsage = true
		}
		return nil, nil

	case "content_block_start":
		cb := ev.ContentBlock
		if cb == nil {
			return nil, d.malformed("content_block_start without content_block", []byte(f.Data))
		}
		switch cb.Type {
		case "tool_use":
			id := cb.ID
			if id == "" {
				id = api.NewCallID()
			}
			d.toolBlocks[ev.Index] = id
			d.sawTool = true
			return []api.Event{{Type: api.EventToolCallStart, CallID: id, Name: cb.Name}}, nil
		case "text":
			if cb.Text != "" {
				return []api.Event{api.TextDelta(cb.Text)}, nil
			}
		}
		return nil, nil

	case "content_block_delta":
		if ev.Delta == nil {
			return nil, d.malformed("content_block_delta without delta", []byte(f.Data))
		}
		switch ev.Delta.Type {
		case "text_delta":
			if ev.Delta.Text != "" {
				return []api.Event{api.TextDelta(ev.Delta.Text)}, nil
			}
		case "input_json_delta":
			id, ok := d.toolBlocks[ev.Index]
			if !ok {
				return nil, d.malformed("input_json_delta for unknown content block", []byte(f.Data))
			}
			if ev.Delta.PartialJSON != "" {
				return []api.Event{{Type: api.EventToolCallArgsChunk, CallID: id, Text: ev.Delta.PartialJSON}}, nil
			}
		}
		return nil, nil

	case "content_block_stop":
		if id, ok := d.toolBlocks[ev.Index]; ok {
			delete(d.toolBlocks, ev.Index)
			return []api.Event{{Type: api.EventToolCallEnd, CallID: id}}, nil
		}
		return nil, nil

	case "message_delta":
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			d.stopReason = ev.Delta.StopReason
		}
		if ev.Usage != nil {
			d.usage.OutputTokens = ev.Usage.OutputTokens
			if ev.Usage.InputTokens > 0 {
				d.usage.InputTokens = ev.Usage.InputTokens
			}
			d.sawUsage = true
		}
		return nil, nil

	case "error":
		d.done = true
		body := ev.Error
		if body == nil {
			body = &ErrorBody{Type: "api_error", Message: "stream error"}
		}
		return []api.Event{api.ErrorEvent(classifyBody(d.provider, 0, body, []byte(f.Data)))}, nil

	default:
		// New event types are ignored so that API additions do not break streams.
		debug.Log("providers", "ignoring unknown stream event", "provider", d.provider, "event", name)
		return nil, nil
	}
}

func (d *Decoder) complete() []api.Event {
	var events []api.Event
	// Blocks left open at message_stop are closed in index order.
	for _, id := range sortedBlockIDs(d.toolBlocks) {
		events = append(events, api.Event{Type: api.EventToolCallEnd, CallID: id})
	}
	clear(d.toolBlocks)

	var usage *api.Usage
	if d.sawUsage {
		u := d.usage
		u.TotalTokens = u.InputTokens + u.OutputTokens
		usage = &u
	}
	finish := MapStopReason(d.stopReason)
	if d.stopReason == "" && d.sawTool {
		finish = api.FinishToolCalls
	}
	d.done = true
	return append(events, api.DoneEvent(finish, usage))
}

func (d *Decoder) malformed(msg string, raw []byte) *api.Error {
	e := api.NewMalformedResponseError(msg, raw)
	e.Provider = d.provider
	return e
}

func sortedBlockIDs(m map[int]string) []string {
	maxIdx := -1
	for idx := range m {
		maxIdx = max(maxIdx, idx)
	}
	var ids []string
	for i := 0; i <= maxIdx; i++ {
		if id, ok := m[i]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
