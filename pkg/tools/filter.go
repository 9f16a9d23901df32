package tools

import "github.com/rhuss/palaver/pkg/api"

// FilterResult holds the outcome of filtering tool calls against an allow list.
type FilterResult struct {
	// Allowed contains tool calls that passed the filter.
	Allowed []api.ToolCall

	// Rejected contains error results for calls that were not allowed,
	// to feed back to the model.
	Rejected []api.ToolResult
}

// FilterAllowedTools checks each tool call against the allowed list.
// If allowedTools is empty or nil, all tool calls are allowed.
func FilterAllowedTools(calls []api.ToolCall, allowedTools []string) FilterResult {
	if len(allowedTools) == 0 {
		return FilterResult{Allowed: calls}
	}

	allowed := make(map[string]bool, len(allowedTools))
	for _, name := range allowedTools {
		allowed[name] = true
	}

	var result FilterResult
	for _, call := range calls {
		if allowed[call.Name] {
			result.Allowed = append(result.Allowed, call)
		} else {
			result.Rejected = append(result.Rejected, api.ToolResult{
				CallID:  call.ID,
				Output:  "tool " + call.Name + " is not in the allowed tools list",
				IsError: true,
			})
		}
	}

	return result
}

// IsAllowed reports whether name passes the allow list.
func IsAllowed(name string, allowedTools []string) bool {
	if len(allowedTools) == 0 {
		return true
	}
	for _, n := range allowedTools {
		if n == name {
			return true
		}
	}
	return false
}
