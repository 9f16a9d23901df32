package api

import (
	"strings"
	"testing"
)

func TestValidateTurn(t *testing.T) {
	known := map[string]bool{"c1": true}

	tests := []struct {
		name    string
		turn    Turn
		wantErr string
	}{
		{name: "user text", turn: NewTextTurn(RoleUser, "hi")},
		{name: "empty content allowed", turn: Turn{Role: RoleAssistant}},
		{name: "empty role", turn: Turn{Parts: []Part{TextPart("x")}}, wantErr: "role must not be empty"},
		{name: "unknown role", turn: Turn{Role: "robot"}, wantErr: "unknown role"},
		{
			name:    "tool call without id",
			turn:    Turn{Role: RoleAssistant, Parts: []Part{ToolCallPart(ToolCall{Name: "x"})}},
			wantErr: "requires id and name",
		},
		{
			name: "malformed call without name",
			turn: Turn{Role: RoleAssistant, Parts: []Part{ToolCallPart(ToolCall{ID: "c9", Err: NewMalformedToolCallError("c9", "no name")})}},
		},
		{
			name: "result for known call",
			turn: Turn{Role: RoleTool, Parts: []Part{ToolResultPart(ToolResult{CallID: "c1"})}},
		},
		{
			name: "result for call in same turn",
			turn: Turn{Role: RoleAssistant, Parts: []Part{
				ToolCallPart(ToolCall{ID: "c2", Name: "x"}),
				ToolResultPart(ToolResult{CallID: "c2"}),
			}},
		},
		{
			name:    "result for unknown call",
			turn:    Turn{Role: RoleTool, Parts: []Part{ToolResultPart(ToolResult{CallID: "nope"})}},
			wantErr: "unknown call",
		},
		{
			name:    "unknown part type",
			turn:    Turn{Role: RoleUser, Parts: []Part{{Type: "image"}}},
			wantErr: "unknown part type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTurn(tt.turn, known)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateConversation(t *testing.T) {
	conv := &Conversation{Turns: []Turn{
		NewTextTurn(RoleUser, "weather?"),
		{Role: RoleAssistant, Parts: []Part{ToolCallPart(ToolCall{ID: "c1", Name: "weather"})}},
		{Role: RoleTool, Parts: []Part{ToolResultPart(ToolResult{CallID: "c1", Output: "sunny"})}},
	}}
	if err := ValidateConversation(conv); err != nil {
		t.Fatalf("valid conversation rejected: %v", err)
	}

	// Result before its call is invalid.
	conv.Turns[1], conv.Turns[2] = conv.Turns[2], conv.Turns[1]
	err := ValidateConversation(conv)
	if err == nil || !strings.Contains(err.Error(), "turns[1]") {
		t.Fatalf("error = %v, want turns[1] failure", err)
	}
}
