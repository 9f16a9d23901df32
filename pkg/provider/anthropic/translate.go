package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rhuss/palaver/pkg/api"
)

var emptyObject = json.RawMessage(`{}`)

// TranslateRequest converts an api.Request into a MessageRequest. System
// turns are folded into the top-level system field. Tool results travel as
// tool_result blocks in user messages, and consecutive messages with the
// same role are merged.
func TranslateRequest(req *api.Request, model string, defaultMaxTokens int) (MessageRequest, error) {
	mr := MessageRequest{
		Model:     model,
		MaxTokens: defaultMaxTokens,
		Stream:    req.Stream(),
	}
	if n, ok := req.MaxTokens(); ok {
		mr.MaxTokens = n
	}
	if t, ok := req.Temperature(); ok {
		mr.Temperature = &t
	}

	var system []string
	for i, turn := range req.Turns() {
		if turn.Role == api.RoleSystem {
			if text := turn.Text(); text != "" {
				system = append(system, text)
			}
			continue
		}
		blocks, role, err := translateTurn(turn)
		if err != nil {
			return mr, fmt.Errorf("turns[%d]: %w", i, err)
		}
		if len(blocks) == 0 {
			continue
		}
		if n := len(mr.Messages); n > 0 && mr.Messages[n-1].Role == role {
			mr.Messages[n-1].Content = append(mr.Messages[n-1].Content, blocks...)
			continue
		}
		mr.Messages = append(mr.Messages, MessageParam{Role: role, Content: blocks})
	}
	mr.System = strings.Join(system, "\n\n")

	for _, def := range req.Tools() {
		schema := def.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		mr.Tools = append(mr.Tools, ToolParam{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schema,
		})
	}
	return mr, nil
}

func translateTurn(turn api.Turn) ([]ContentBlock, string, error) {
	role := "user"
	if turn.Role == api.RoleAssistant {
		role = "assistant"
	}

	var blocks []ContentBlock
	for _, p := range turn.Parts {
		switch p.Type {
		case api.PartText:
			// The API rejects empty text blocks.
			if p.Text != "" {
				blocks = append(blocks, ContentBlock{Type: "text", Text: p.Text})
			}
		case api.PartToolCall:
			if role != "assistant" {
				return nil, "", api.NewPermanentError("tool calls are only valid on assistant turns")
			}
			input := p.ToolCall.Arguments
			if len(input) == 0 || p.ToolCall.Err != nil {
				input = emptyObject
			}
			blocks = append(blocks, ContentBlock{
				Type:  "tool_use",
				ID:    p.ToolCall.ID,
				Name:  p.ToolCall.Name,
				Input: input,
			})
		case api.PartToolResult:
			if role == "assistant" {
				return nil, "", api.NewPermanentError("tool results are not valid on assistant turns")
			}
			blocks = append(blocks, ContentBlock{
				Type:      "tool_result",
				ToolUseID: p.ToolResult.CallID,
				Content:   p.ToolResult.Output,
				IsError:   p.ToolResult.IsError,
			})
		default:
			return nil, "", api.NewPermanentError(fmt.Sprintf("unsupported part type %q", p.Type))
		}
	}
	return blocks, role, nil
}

// MapStopReason normalizes an Anthropic stop_reason.
func MapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence", "":
		return api.FinishStop
	case "max_tokens":
		return api.FinishLength
	case "tool_use":
		return api.FinishToolCalls
	case "refusal":
		return api.FinishFiltered
	default:
		return api.FinishStop
	}
}
