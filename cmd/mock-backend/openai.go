package main

import (
	"encoding/json"
	"net/http"

	"github.com/rhuss/palaver/pkg/provider/openaicompat"
)

func (s *scenarios) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openaicompat.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, openaicompat.ChatErrorResponse{
			Error: &openaicompat.ChatError{Message: "invalid request: " + err.Error(), Type: "invalid_request_error"},
		})
		return
	}
	if len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, openaicompat.ChatErrorResponse{
			Error: &openaicompat.ChatError{Message: "messages must not be empty", Type: "invalid_request_error", Param: "messages"},
		})
		return
	}

	msgs := make([]message, 0, len(req.Messages))
	for _, m := range req.Messages {
		var text string
		if m.Content != nil {
			text = *m.Content
		}
		msgs = append(msgs, message{role: m.Role, text: text})
	}
	var tools []string
	for _, t := range req.Tools {
		tools = append(tools, t.Function.Name)
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
		writeJSON(w, rep.status, openaicompat.ChatErrorResponse{
			Error: &openaicompat.ChatError{Message: "mock " + rep.errType, Type: rep.errType},
		})
		return
	}
	if req.Stream {
		streamChatCompletion(w, model, rep)
		return
	}
	writeJSON(w, http.StatusOK, chatCompletion(model, rep))
}

func chatCompletion(model string, rep reply) openaicompat.ChatCompletionResponse {
	choice := openaicompat.ChatChoice{
		Message:      openaicompat.ChatMessage{Role: "assistant"},
		FinishReason: "stop",
	}
	if rep.isToolCall() {
		choice.FinishReason = "tool_calls"
		choice.Message.ToolCalls = []openaicompat.ChatToolCall{{
			ID:       "call_mock_1",
			Type:     "function",
			Function: openaicompat.ChatFunctionCall{Name: rep.callName, Arguments: rep.callArgs},
		}}
	} else {
		text := rep.text
		choice.Message.Content = &text
	}
	return openaicompat.ChatCompletionResponse{
		ID:      "chatcmpl-mock",
		Object:  "chat.completion",
		Model:   model,
		Choices: []openaicompat.ChatChoice{choice},
		Usage:   &openaicompat.ChatUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func streamChatCompletion(w http.ResponseWriter, model string, rep reply) {
	sse, ok := newSSEWriter(w)
	if !ok {
		return
	}
	chunk := func(delta openaicompat.ChatChunkDelta, finish *string) openaicompat.ChatCompletionChunk {
		return openaicompat.ChatCompletionChunk{
			ID:      "chatcmpl-mock-stream",
			Object:  "chat.completion.chunk",
			Model:   model,
			Choices: []openaicompat.ChatChunkChoice{{Delta: delta, FinishReason: finish}},
		}
	}

	sse.event("", chunk(openaicompat.ChatChunkDelta{Role: "assistant"}, nil))

	finish := "stop"
	count := 0
	if rep.isToolCall() {
		finish = "tool_calls"
		// Arguments arrive in two fragments, as real backends split them.
		half := len(rep.callArgs) / 2
		sse.event("", chunk(openaicompat.ChatChunkDelta{ToolCalls: []openaicompat.ChatChunkToolCall{{
			ID:       "call_mock_1",
			Type:     "function",
			Function: openaicompat.ChatChunkFunctionCall{Name: rep.callName, Arguments: rep.callArgs[:half]},
		}}}, nil))
		sse.event("", chunk(openaicompat.ChatChunkDelta{ToolCalls: []openaicompat.ChatChunkToolCall{{
			Function: openaicompat.ChatChunkFunctionCall{Arguments: rep.callArgs[half:]},
		}}}, nil))
		count = 2
	} else {
		for _, tok := range tokens(rep.text) {
			sse.event("", chunk(openaicompat.ChatChunkDelta{Content: &tok}, nil))
			count++
		}
	}

	last := chunk(openaicompat.ChatChunkDelta{}, &finish)
	last.Usage = &openaicompat.ChatUsage{PromptTokens: 10, CompletionTokens: count, TotalTokens: 10 + count}
	sse.event("", last)
	sse.raw("data: [DONE]")
}
