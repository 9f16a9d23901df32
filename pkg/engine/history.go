package engine

import (
	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/assembler"
)

// partialTurn converts the output of a failed call into a turn for the
// conversation. Only text survives: tool calls from an unfinished
// message never get results, and providers reject unanswered calls on
// the next request. It returns false when there is nothing to keep.
func partialTurn(msg *assembler.AssembledMessage, cause error) (api.Turn, bool) {
	if msg == nil {
		return api.Turn{}, false
	}
	text := msg.Text()
	if text == "" {
		return api.Turn{}, false
	}
	t := api.NewTextTurn(api.RoleAssistant, text)
	t.Metadata = map[string]any{
		"partial": true,
		"error":   cause.Error(),
	}
	if msg.Canceled {
		t.Metadata["canceled"] = true
	}
	return t, true
}

// resultTurn builds the tool turn answering calls, in call order.
func resultTurn(results []api.ToolResult) api.Turn {
	t := api.Turn{Role: api.RoleTool}
	for _, r := range results {
		t.Parts = append(t.Parts, api.ToolResultPart(r))
	}
	return t
}
