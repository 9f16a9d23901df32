package openaicompat

import (
	"fmt"

	"github.com/rhuss/palaver/pkg/api"
)

// TranslateRequest converts an api.Request into a ChatCompletionRequest.
// defaultMaxTokens applies when the request sets no limit (0 = omit).
func TranslateRequest(req *api.Request, model string, defaultMaxTokens int) (ChatCompletionRequest, error) {
	cr := ChatCompletionRequest{
		Model:  model,
		Stream: req.Stream(),
	}
	if t, ok := req.Temperature(); ok {
		cr.Temperature = &t
	}
	if n, ok := req.MaxTokens(); ok {
		cr.MaxTokens = &n
	} else if defaultMaxTokens > 0 {
		n := defaultMaxTokens
		cr.MaxTokens = &n
	}

	// When streaming, enable usage reporting in the stream.
	if req.Stream() {
		cr.StreamOptions = &ChatStreamOptions{IncludeUsage: true}
	}

	for i, turn := range req.Turns() {
		msgs, err := translateTurn(turn)
		if err != nil {
			return cr, fmt.Errorf("turns[%d]: %w", i, err)
		}
		cr.Messages = append(cr.Messages, msgs...)
	}

	for _, def := range req.Tools() {
		cr.Tools = append(cr.Tools, ChatTool{
			Type: "function",
			Function: ChatFunctionDef{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}

	return cr, nil
}

// translateTurn maps one turn to one or more chat messages. Tool results
// become individual "tool" role messages; text and tool calls stay in a
// single message for the turn's role.
func translateTurn(turn api.Turn) ([]ChatMessage, error) {
	var msgs []ChatMessage

	msg := ChatMessage{Role: string(turn.Role)}
	hasText := false
	for _, p := range turn.Parts {
		switch p.Type {
		case api.PartText:
			hasText = true
		case api.PartToolCall:
			args := string(p.ToolCall.Arguments)
			if args == "" {
				args = "{}"
			}
			msg.ToolCalls = append(msg.ToolCalls, ChatToolCall{
				ID:   p.ToolCall.ID,
				Type: "function",
				Function: ChatFunctionCall{
					Name:      p.ToolCall.Name,
					Arguments: args,
				},
			})
		case api.PartToolResult:
			out := p.ToolResult.Output
			msgs = append(msgs, ChatMessage{
				Role:       "tool",
				Content:    &out,
				ToolCallID: p.ToolResult.CallID,
			})
		default:
			return nil, api.NewPermanentError(fmt.Sprintf("unsupported part type %q", p.Type))
		}
	}

	if len(msg.ToolCalls) > 0 && msg.Role != string(api.RoleAssistant) {
		return nil, api.NewPermanentError("tool calls are only valid on assistant turns")
	}

	if hasText || len(msg.ToolCalls) > 0 || len(msgs) == 0 {
		if hasText || len(msg.ToolCalls) == 0 {
			text := turn.Text()
			msg.Content = &text
		}
		// A tool-role turn carrying only results is fully represented by msgs.
		if msg.Role != string(api.RoleTool) || hasText {
			msgs = append([]ChatMessage{msg}, msgs...)
		}
	}
	return msgs, nil
}
