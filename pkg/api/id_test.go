package api

import (
	"strings"
	"testing"
)

func TestNewConversationID(t *testing.T) {
	id := NewConversationID()
	if !ValidateConversationID(id) {
		t.Errorf("NewConversationID() = %q, want valid conversation ID", id)
	}
}

func TestNewCallID(t *testing.T) {
	id := NewCallID()
	if !strings.HasPrefix(id, "call_") || len(id) != len("call_")+24 {
		t.Errorf("NewCallID() = %q, want call_ + 24 chars", id)
	}
}

func TestValidateConversationID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"valid", "conv_abcdefghijklmnopqrstuvwx", true},
		{"valid mixed case", "conv_AbCdEfGhIjKlMnOpQrStUvWx", true},
		{"wrong prefix", "call_abcdefghijklmnopqrstuvwx", false},
		{"too short", "conv_abc", false},
		{"too long", "conv_abcdefghijklmnopqrstuvwxy", false},
		{"special chars", "conv_abcdefghijklmnopqrstuv!@", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateConversationID(tt.id); got != tt.want {
				t.Errorf("ValidateConversationID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestIDUniqueness(t *testing.T) {
	const count = 1000
	seen := make(map[string]bool, count)
	for i := 0; i < count; i++ {
		id := NewConversationID()
		if seen[id] {
			t.Fatalf("duplicate conversation ID after %d generations: %s", i, id)
		}
		seen[id] = true
	}
}
