package openaicompat

import (
	"encoding/json"

	"github.com/rhuss/palaver/pkg/api"
)

// DecodeResponse converts a non-streaming Chat Completions body into an
// event sequence ending in Done. Only choices[0] is used.
func DecodeResponse(providerName string, body []byte) ([]api.Event, error) {
	var resp ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		e := api.NewMalformedResponseError("undecodable response body: "+err.Error(), body)
		e.Provider = providerName
		return nil, e
	}
	if resp.Error != nil {
		return []api.Event{api.ErrorEvent(classifyChatError(providerName, 0, resp.Error, body))}, nil
	}
	if len(resp.Choices) == 0 {
		e := api.NewMalformedResponseError("response has no choices", body)
		e.Provider = providerName
		return nil, e
	}

	choice := resp.Choices[0]
	var events []api.Event
	if c := choice.Message.Content; c != nil && *c != "" {
		events = append(events, api.TextDelta(*c))
	}
	for _, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = api.NewCallID()
		}
		events = append(events, api.Event{Type: api.EventToolCallStart, CallID: id, Name: tc.Function.Name})
		if tc.Function.Arguments != "" {
			events = append(events, api.Event{Type: api.EventToolCallArgsChunk, CallID: id, Text: tc.Function.Arguments})
		}
		events = append(events, api.Event{Type: api.EventToolCallEnd, CallID: id})
	}

	var usage *api.Usage
	if resp.Usage != nil {
		usage = translateUsage(resp.Usage)
	}
	finish := api.FinishStop
	if choice.FinishReason != "" {
		finish = MapFinishReason(choice.FinishReason)
	}
	return append(events, api.DoneEvent(finish, usage)), nil
}
