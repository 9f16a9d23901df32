package api

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"time"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType discriminates the Part variant.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Finish reasons recorded on a completed message.
const (
	FinishStop      = "stop"
	FinishLength    = "length"
	FinishToolCalls = "tool_calls"
	FinishFiltered  = "content_filter"
)

// Part is one semantic unit within a Turn. Exactly one of Text, ToolCall or
// ToolResult is meaningful, as selected by Type.
type Part struct {
	Type       PartType    `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// ToolCall is a model's request to invoke a tool.
type ToolCall struct {
	// ID is the provider-issued call identifier (e.g. "call_abc123", "toolu_01...").
	ID string `json:"id"`

	// Name is the tool function name.
	Name string `json:"name"`

	// Arguments holds the structured arguments. It is empty when the
	// streamed argument text failed to parse (see Err).
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// Err is set when the argument payload could not be parsed. Such calls
	// are reported back to the model instead of being executed.
	Err *Error `json:"error,omitempty"`
}

// ToolResult is the output of one tool execution.
type ToolResult struct {
	// CallID matches the originating ToolCall.ID.
	CallID string `json:"call_id"`

	// Output is the tool output payload.
	Output string `json:"output"`

	// IsError indicates that Output describes a failure.
	IsError bool `json:"is_error,omitempty"`
}

// TextPart builds a text Part.
func TextPart(s string) Part {
	return Part{Type: PartText, Text: s}
}

// ToolCallPart builds a tool call Part.
func ToolCallPart(tc ToolCall) Part {
	return Part{Type: PartToolCall, ToolCall: &tc}
}

// ToolResultPart builds a tool result Part.
func ToolResultPart(tr ToolResult) Part {
	return Part{Type: PartToolResult, ToolResult: &tr}
}

// Turn is one message-like unit of a conversation.
type Turn struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`

	// Metadata is an opaque provider-specific bag, passed through unmodified.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewTextTurn builds a turn with a single text part.
func NewTextTurn(role Role, text string) Turn {
	return Turn{Role: role, Parts: []Part{TextPart(text)}}
}

// Text returns the concatenation of all text parts.
func (t Turn) Text() string {
	var b strings.Builder
	for _, p := range t.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ToolCalls returns the tool call parts of the turn in order.
func (t Turn) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range t.Parts {
		if p.Type == PartToolCall && p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// ToolResults returns the tool result parts of the turn in order.
func (t Turn) ToolResults() []ToolResult {
	var results []ToolResult
	for _, p := range t.Parts {
		if p.Type == PartToolResult && p.ToolResult != nil {
			results = append(results, *p.ToolResult)
		}
	}
	return results
}

// Clone returns a deep copy of the turn.
func (t Turn) Clone() Turn {
	out := Turn{Role: t.Role, Metadata: maps.Clone(t.Metadata)}
	if t.Parts != nil {
		out.Parts = make([]Part, len(t.Parts))
	}
	for i, p := range t.Parts {
		cp := Part{Type: p.Type, Text: p.Text}
		if p.ToolCall != nil {
			tc := *p.ToolCall
			tc.Arguments = slices.Clone(tc.Arguments)
			cp.ToolCall = &tc
		}
		if p.ToolResult != nil {
			tr := *p.ToolResult
			cp.ToolResult = &tr
		}
		out.Parts[i] = cp
	}
	return out
}

// Conversation is an ordered sequence of turns.
type Conversation struct {
	ID        string    `json:"id"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversation creates an empty conversation with a fresh ID.
func NewConversation() *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:        NewConversationID(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append validates and appends a turn.
func (c *Conversation) Append(t Turn) error {
	if err := ValidateTurn(t, c.callIDs()); err != nil {
		return err
	}
	c.Turns = append(c.Turns, t)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := &Conversation{ID: c.ID, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
	if c.Turns != nil {
		out.Turns = make([]Turn, len(c.Turns))
		for i, t := range c.Turns {
			out.Turns[i] = t.Clone()
		}
	}
	return out
}

// Last returns the final turn, or false when the conversation is empty.
func (c *Conversation) Last() (Turn, bool) {
	if len(c.Turns) == 0 {
		return Turn{}, false
	}
	return c.Turns[len(c.Turns)-1], true
}

func (c *Conversation) callIDs() map[string]bool {
	ids := make(map[string]bool)
	for _, t := range c.Turns {
		for _, tc := range t.ToolCalls() {
			ids[tc.ID] = true
		}
	}
	return ids
}

// ToolDefinition describes a tool the model may invoke.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Usage reports token consumption as returned by the provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Request is an immutable snapshot of a conversation plus generation
// parameters. Build it with NewRequest; retries resend the same value.
type Request struct {
	model       string
	turns       []Turn
	temperature *float64
	maxTokens   *int
	tools       []ToolDefinition
	stream      bool
}

// RequestOption configures a Request at construction time.
type RequestOption func(*Request)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) RequestOption {
	return func(r *Request) { r.temperature = &t }
}

// WithMaxTokens sets the output token limit.
func WithMaxTokens(n int) RequestOption {
	return func(r *Request) { r.maxTokens = &n }
}

// WithTools sets the tool definitions offered to the model.
func WithTools(defs ...ToolDefinition) RequestOption {
	return func(r *Request) { r.tools = append(r.tools, defs...) }
}

// WithStream enables incremental delivery.
func WithStream(stream bool) RequestOption {
	return func(r *Request) { r.stream = stream }
}

// NewRequest snapshots conv and applies the options. Later mutations of
// conv are not visible through the returned request.
func NewRequest(model string, conv *Conversation, opts ...RequestOption) *Request {
	r := &Request{model: model}
	if conv != nil {
		snap := conv.Clone()
		r.turns = snap.Turns
	}
	for _, opt := range opts {
		opt(r)
	}
	for i := range r.tools {
		r.tools[i].Parameters = slices.Clone(r.tools[i].Parameters)
	}
	return r
}

// Model returns the model identifier.
func (r *Request) Model() string { return r.model }

// Turns returns a copy of the conversation snapshot.
func (r *Request) Turns() []Turn {
	out := make([]Turn, len(r.turns))
	for i, t := range r.turns {
		out[i] = t.Clone()
	}
	return out
}

// Temperature returns the sampling temperature, if set.
func (r *Request) Temperature() (float64, bool) {
	if r.temperature == nil {
		return 0, false
	}
	return *r.temperature, true
}

// MaxTokens returns the output token limit, if set.
func (r *Request) MaxTokens() (int, bool) {
	if r.maxTokens == nil {
		return 0, false
	}
	return *r.maxTokens, true
}

// Tools returns a copy of the tool definitions.
func (r *Request) Tools() []ToolDefinition {
	return slices.Clone(r.tools)
}

// Stream reports whether incremental delivery was requested.
func (r *Request) Stream() bool { return r.stream }

// HasToolParts reports whether any turn carries tool calls or results.
func (r *Request) HasToolParts() bool {
	for _, t := range r.turns {
		for _, p := range t.Parts {
			if p.Type == PartToolCall || p.Type == PartToolResult {
				return true
			}
		}
	}
	return false
}
