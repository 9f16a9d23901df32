package main

import (
	"encoding/json"
	"net/http"

	"github.com/rhuss/palaver/pkg/provider/anthropic"
)

func (s *scenarios) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req anthropic.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", "invalid request: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", "messages: at least one message is required")
		return
	}
	if req.MaxTokens <= 0 {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error", "max_tokens: field required")
		return
	}

	var msgs []message
	if req.System != "" {
		msgs = append(msgs, message{role: "system", text: req.System})
	}
	for _, m := range req.Messages {
		for _, b := range m.Content {
			switch b.Type {
			case "text":
				msgs = append(msgs, message{role: m.Role, text: b.Text})
			case "tool_result":
				msgs = append(msgs, message{role: "tool", text: b.Content})
			}
		}
	}
	var tools []string
	for _, t := range req.Tools {
		tools = append(tools, t.Name)
	}

	rep := s.plan(msgs, tools)
	model := req.Model
	if model == "" {
		model = "mock-model"
	}

	if rep.status != 0 {
		if rep.retryAfter != "" {
			w.Header().Set("Retry-After", rep.retryAfter)
		}
		writeAnthropicError(w, rep.status, rep.errType, "mock "+rep.errType)
		return
	}
	if req.Stream {
		streamMessage(w, model, rep)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse(model, rep))
}

func writeAnthropicError(w http.ResponseWriter, status int, typ, msg string) {
	writeJSON(w, status, anthropic.ErrorResponse{
		Type:  "error",
		Error: &anthropic.ErrorBody{Type: typ, Message: msg},
	})
}

func messageResponse(model string, rep reply) anthropic.MessageResponse {
	resp := anthropic.MessageResponse{
		ID:         "msg_mock",
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		StopReason: "end_turn",
		Usage:      &anthropic.Usage{InputTokens: 10, OutputTokens: 5},
	}
	if rep.isToolCall() {
		resp.StopReason = "tool_use"
		resp.Content = []anthropic.ContentBlock{{
			Type:  "tool_use",
			ID:    "toolu_mock_1",
			Name:  rep.callName,
			Input: json.RawMessage(rep.callArgs),
		}}
	} else {
		resp.Content = []anthropic.ContentBlock{{Type: "text", Text: rep.text}}
	}
	return resp
}

func streamMessage(w http.ResponseWriter, model string, rep reply) {
	sse, ok := newSSEWriter(w)
	if !ok {
		return
	}

	start := anthropic.MessageResponse{
		ID:    "msg_mock_stream",
		Type:  "message",
		Role:  "assistant",
		Model: model,
		Usage: &anthropic.Usage{InputTokens: 10},
	}
	sse.event("message_start", map[string]any{"type": "message_start", "message": start})

	stop := "end_turn"
	count := 0
	if rep.isToolCall() {
		stop = "tool_use"
		sse.event("content_block_start", map[string]any{
			"type":  "content_block_start",
			"index": 0,
			"content_block": map[string]any{
				"type": "tool_use", "id": "toolu_mock_1", "name": rep.callName, "input": map[string]any{},
			},
		})
		half := len(rep.callArgs) / 2
		for _, part := range []string{rep.callArgs[:half], rep.callArgs[half:]} {
			sse.event("content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": 0,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": part},
			})
			count++
		}
	} else {
		sse.event("content_block_start", map[string]any{
			"type":          "content_block_start",
			"index":         0,
			"content_block": map[string]any{"type": "text", "text": ""},
		})
		for _, tok := range tokens(rep.text) {
			sse.event("content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": 0,
				"delta": map[string]any{"type": "text_delta", "text": tok},
			})
			count++
		}
	}
	sse.event("content_block_stop", map[string]any{"type": "content_block_stop", "index": 0})
	sse.event("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stop},
		"usage": map[string]any{"output_tokens": count},
	})
	sse.event("message_stop", map[string]any{"type": "message_stop"})
}
