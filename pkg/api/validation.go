package api

import (
	"fmt"
)

// ValidateTurn checks a turn against the conversation invariants: a
// non-empty role, well-formed parts, and tool results that reference a
// call ID present in knownCalls or in an earlier part of the same turn.
func ValidateTurn(t Turn, knownCalls map[string]bool) error {
	switch t.Role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
	case "":
		return NewPermanentError("turn role must not be empty")
	default:
		return &Error{Kind: ErrorPermanent, Param: "role", Message: fmt.Sprintf("unknown role %q", t.Role)}
	}

	local := make(map[string]bool)
	for i, p := range t.Parts {
		switch p.Type {
		case PartText:
		case PartToolCall:
			if p.ToolCall == nil {
				return &Error{Kind: ErrorPermanent, Param: fmt.Sprintf("parts[%d]", i), Message: "tool_call part has no call"}
			}
			// A malformed call may lack a name; it is reported, never executed.
			if p.ToolCall.ID == "" || (p.ToolCall.Name == "" && p.ToolCall.Err == nil) {
				return &Error{Kind: ErrorPermanent, Param: fmt.Sprintf("parts[%d]", i), Message: "tool call requires id and name"}
			}
			local[p.ToolCall.ID] = true
		case PartToolResult:
			if p.ToolResult == nil {
				return &Error{Kind: ErrorPermanent, Param: fmt.Sprintf("parts[%d]", i), Message: "tool_result part has no result"}
			}
			id := p.ToolResult.CallID
			if !knownCalls[id] && !local[id] {
				return &Error{
					Kind:    ErrorPermanent,
					Param:   fmt.Sprintf("parts[%d]", i),
					Message: fmt.Sprintf("tool result references unknown call %q", id),
				}
			}
		default:
			return &Error{Kind: ErrorPermanent, Param: fmt.Sprintf("parts[%d]", i), Message: fmt.Sprintf("unknown part type %q", p.Type)}
		}
	}
	return nil
}

// ValidateConversation checks every turn in order.
func ValidateConversation(c *Conversation) error {
	known := make(map[string]bool)
	for i, t := range c.Turns {
		if err := ValidateTurn(t, known); err != nil {
			return fmt.Errorf("turns[%d]: %w", i, err)
		}
		for _, tc := range t.ToolCalls() {
			known[tc.ID] = true
		}
	}
	return nil
}
