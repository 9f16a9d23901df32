package openaicompat

import (
	"strings"
	"testing"

	"github.com/rhuss/palaver/pkg/api"
)

const textStream = `data: {"id":"1","choices":[{"index":0,"delta":{"role":"assistant"},"finish_reason":null}]}

data: {"id":"1","choices":[{"index":0,"delta":{"content":"Hel"},"finish_reason":null}]}

data: {"id":"1","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":null}]}

data: {"id":"1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}

data: {"id":"1","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}

data: [DONE]

`

const toolStream = `data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"alpha","arguments":""}}]}}]}

data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"beta","arguments":"{\"x\":"}}]}}]}

data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"a\":1}"}}]}}]}

data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"function":{"arguments":"2}"}}]}}]}

data: {"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}

data: [DONE]

`

func decodeAll(t *testing.T, d *Decoder, stream string, chunkSize int) ([]api.Event, error) {
	t.Helper()
	var events []api.Event
	for i := 0; i < len(stream); i += chunkSize {
		end := min(i+chunkSize, len(stream))
		evs, err := d.ParseEvent([]byte(stream[i:end]))
		events = append(events, evs...)
		if err != nil {
			return events, err
		}
	}
	evs, err := d.Finish()
	return append(events, evs...), err
}

func TestDecoder_TextStream(t *testing.T) {
	// Chunk sizes exercise frames split at arbitrary byte boundaries.
	for _, size := range []int{1, 7, 64, len(textStream)} {
		events, err := decodeAll(t, NewDecoder("openai"), textStream, size)
		if err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		assertTypes(t, events, []api.EventType{api.EventTextDelta, api.EventTextDelta, api.EventDone})

		var text strings.Builder
		for _, e := range events {
			text.WriteString(e.Text)
		}
		if text.String() != "Hello" {
			t.Errorf("size %d: text = %q", size, text.String())
		}
		done := events[len(events)-1]
		if done.FinishReason != api.FinishStop || done.Usage == nil || done.Usage.TotalTokens != 5 {
			t.Errorf("size %d: done = %+v usage=%+v", size, done, done.Usage)
		}
	}
}

func TestDecoder_FragmentReturnsNoEvents(t *testing.T) {
	d := NewDecoder("openai")
	events, err := d.ParseEvent([]byte(`data: {"choices":[{"index":0,"delta":{"content":"Hi"`))
	if err != nil || len(events) != 0 {
		t.Fatalf("fragment: events=%v err=%v", events, err)
	}
	events, err = d.ParseEvent([]byte("}}]}\n\n"))
	if err != nil {
		t.Fatalf("completion: %v", err)
	}
	if len(events) != 1 || events[0].Text != "Hi" {
		t.Errorf("events = %+v", events)
	}
}

func TestDecoder_InterleavedToolCalls(t *testing.T) {
	events, err := decodeAll(t, NewDecoder("openai"), toolStream, 13)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	args := map[string]string{}
	var starts, ends []string
	for _, e := range events {
		switch e.Type {
		case api.EventToolCallStart:
			starts = append(starts, e.CallID+":"+e.Name)
		case api.EventToolCallArgsChunk:
			args[e.CallID] += e.Text
		case api.EventToolCallEnd:
			ends = append(ends, e.CallID)
		}
	}
	if strings.Join(starts, ",") != "call_a:alpha,call_b:beta" {
		t.Errorf("starts = %v", starts)
	}
	if strings.Join(ends, ",") != "call_a,call_b" {
		t.Errorf("ends = %v", ends)
	}
	if args["call_a"] != `{"a":1}` || args["call_b"] != `{"x":2}` {
		t.Errorf("args = %v", args)
	}
	last := events[len(events)-1]
	if last.Type != api.EventDone || last.FinishReason != api.FinishToolCalls {
		t.Errorf("last = %+v", last)
	}
}

func TestDecoder_MissingCallIDIsGenerated(t *testing.T) {
	stream := `data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"name":"f","arguments":"{}"}}]}}]}

data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":""}}]},"finish_reason":"tool_calls"}]}

data: [DONE]

`
	events, err := decodeAll(t, NewDecoder("openai"), stream, len(stream))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := events[0].CallID
	if !strings.HasPrefix(id, "call_") {
		t.Fatalf("generated id = %q", id)
	}
	for _, e := range events[1:] {
		if e.Type != api.EventDone && e.CallID != id {
			t.Errorf("event %s has call id %q, want %q", e.Type, e.CallID, id)
		}
	}
}

func TestDecoder_Truncated(t *testing.T) {
	stream := `data: {"choices":[{"index":0,"delta":{"content":"par"}}]}

data: {"choices":[{"index":0,"delta":{"content":"tial"`
	events, err := decodeAll(t, NewDecoder("openai"), stream, 5)
	if api.KindOf(err) != api.ErrorTransient {
		t.Fatalf("expected transient error, got %v", err)
	}
	if len(events) != 1 || events[0].Text != "par" {
		t.Errorf("expected the complete frame to be decoded, got %+v", events)
	}
}

func TestDecoder_TruncatedCleanBoundaryIsTransient(t *testing.T) {
	stream := `data: {"choices":[{"index":0,"delta":{"content":"par"}}]}

`
	_, err := decodeAll(t, NewDecoder("openai"), stream, len(stream))
	if api.KindOf(err) != api.ErrorTransient {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestDecoder_FinishWithoutDoneSentinel(t *testing.T) {
	stream := `data: {"choices":[{"index":0,"delta":{"content":"ok"},"finish_reason":"length"}]}

`
	events, err := decodeAll(t, NewDecoder("openai"), stream, len(stream))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	last := events[len(events)-1]
	if last.Type != api.EventDone || last.FinishReason != api.FinishLength {
		t.Errorf("last = %+v", last)
	}
}

func TestDecoder_MalformedChunk(t *testing.T) {
	d := NewDecoder("openai")
	_, err := d.ParseEvent([]byte("data: {not json}\n\n"))
	e, ok := api.AsError(err)
	if !ok || e.Kind != api.ErrorMalformedResponse {
		t.Fatalf("expected malformed response, got %v", err)
	}
	if string(e.Raw) != "{not json}" {
		t.Errorf("raw = %q", e.Raw)
	}
}

func TestDecoder_InStreamError(t *testing.T) {
	tests := []struct {
		name string
		data string
		kind api.ErrorKind
	}{
		{"overloaded", `{"error":{"message":"busy","type":"server_error"}}`, api.ErrorTransient},
		{"invalid", `{"error":{"message":"nope","type":"invalid_request_error"}}`, api.ErrorPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder("openai")
			events, err := d.ParseEvent([]byte("data: " + tt.data + "\n\n"))
			if err != nil {
				t.Fatalf("ParseEvent: %v", err)
			}
			if len(events) != 1 || events[0].Type != api.EventError {
				t.Fatalf("events = %+v", events)
			}
			if events[0].Err.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", events[0].Err.Kind, tt.kind)
			}
			// Terminal: later bytes are ignored.
			more, err := d.ParseEvent([]byte("data: [DONE]\n\n"))
			if err != nil || len(more) != 0 {
				t.Errorf("expected no events after terminal, got %v %v", more, err)
			}
		})
	}
}
