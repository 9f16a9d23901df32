package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// message is a provider-neutral view of one request message.
type message struct {
	role string // "system", "user", "assistant" or "tool"
	text string
}

// reply is what the mock answers with.
type reply struct {
	text string

	// callName and callArgs describe a tool call instead of text.
	callName string
	callArgs string

	// status, when non-zero, makes the reply an HTTP error.
	status     int
	retryAfter string
	errType    string
}

func (r reply) isToolCall() bool { return r.callName != "" }

// mockArgs are the arguments the mock passes to well-known tools.
var mockArgs = map[string]string{
	"shell":    `{"command":"echo hello from mock"}`,
	"echo":     `{"message":"hello from mock"}`,
	"get_time": `{}`,
}

// scenarios picks replies. Prompts are matched case-insensitively:
//
//	"rate limit"     first attempt gets 429 with Retry-After: 1
//	"server error"   always 500
//	"bad request"    always 400
//	"count from 1 to 5"
//	tools offered    call the first tool, then report its result
//	system prompt    pirate greeting
type scenarios struct {
	mu       sync.Mutex
	attempts map[string]int
}

func newScenarios() *scenarios {
	return &scenarios{attempts: make(map[string]int)}
}

func (s *scenarios) plan(msgs []message, tools []string) reply {
	prompt := strings.ToLower(lastUser(msgs))

	switch {
	case strings.Contains(prompt, "rate limit"):
		if s.attempt(prompt) == 1 {
			return reply{status: http.StatusTooManyRequests, retryAfter: "1", errType: "rate_limit_error"}
		}
		return reply{text: "Made it through the rate limit."}
	case strings.Contains(prompt, "server error"):
		return reply{status: http.StatusInternalServerError, errType: "server_error"}
	case strings.Contains(prompt, "bad request"):
		return reply{status: http.StatusBadRequest, errType: "invalid_request_error"}
	}

	if last := msgs[len(msgs)-1]; last.role == "tool" {
		return reply{text: "The tool said: " + strings.TrimSpace(last.text)}
	}
	if len(tools) > 0 {
		args, ok := mockArgs[tools[0]]
		if !ok {
			args = "{}"
		}
		return reply{callName: tools[0], callArgs: args}
	}
	if strings.Contains(prompt, "count from 1 to 5") {
		return reply{text: "1, 2, 3, 4, 5"}
	}
	for _, m := range msgs {
		if m.role == "system" {
			return reply{text: "Ahoy there, matey! Welcome aboard!"}
		}
	}
	return reply{text: "Hello, nice day!"}
}

// attempt counts requests per prompt.
func (s *scenarios) attempt(prompt string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[prompt]++
	return s.attempts[prompt]
}

func lastUser(msgs []message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].role == "user" {
			return msgs[i].text
		}
	}
	return ""
}

// tokens splits text into stream chunks of whole words.
func tokens(text string) []string {
	var out []string
	for len(text) > 0 {
		i := strings.IndexByte(text[1:], ' ')
		if i < 0 {
			out = append(out, text)
			break
		}
		out = append(out, text[:i+1])
		text = text[i+1:]
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sseWriter writes server-sent events and flushes after each one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: w, flusher: flusher}, true
}

// event writes one frame. An empty name omits the event: line.
func (s *sseWriter) event(name string, v any) {
	data, _ := json.Marshal(v)
	if name != "" {
		fmt.Fprintf(s.w, "event: %s\n", name)
	}
	fmt.Fprintf(s.w, "data: %s\n\n", data)
	s.flusher.Flush()
}

func (s *sseWriter) raw(line string) {
	fmt.Fprintf(s.w, "%s\n\n", line)
	s.flusher.Flush()
}
