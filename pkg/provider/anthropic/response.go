package anthropic

import (
	"encoding/json"

	"github.com/rhuss/palaver/pkg/api"
)

// DecodeResponse converts a non-streaming Messages API body into an event
// sequence ending in Done.
func DecodeResponse(providerName string, body []byte) ([]api.Event, error) {
	var resp MessageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		e := api.NewMalformedResponseError("undecodable response body: "+err.Error(), body)
		e.Provider = providerName
		return nil, e
	}
	if resp.Type == "error" {
		var er ErrorResponse
		if err := json.Unmarshal(body, &er); err == nil && er.Error != nil {
			return []api.Event{api.ErrorEvent(classifyBody(providerName, 0, er.Error, body))}, nil
		}
	}
	if resp.Type != "" && resp.Type != "message" {
		e := api.NewMalformedResponseError("unexpected response type "+resp.Type, body)
		e.Provider = providerName
		return nil, e
	}

	var events []api.Event
	for _, cb := range resp.Content {
		switch cb.Type {
		case "text":
			if cb.Text != "" {
				events = append(events, api.TextDelta(cb.Text))
			}
		case "tool_use":
			id := cb.ID
			if id == "" {
				id = api.NewCallID()
			}
			events = append(events, api.Event{Type: api.EventToolCallStart, CallID: id, Name: cb.Name})
			if len(cb.Input) > 0 {
				events = append(events, api.Event{Type: api.EventToolCallArgsChunk, CallID: id, Text: string(cb.Input)})
			}
			events = append(events, api.Event{Type: api.EventToolCallEnd, CallID: id})
		}
	}

	var usage *api.Usage
	if resp.Usage != nil {
		usage = &api.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	return append(events, api.DoneEvent(MapStopReason(resp.StopReason), usage)), nil
}
