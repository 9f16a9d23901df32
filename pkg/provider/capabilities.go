package provider

import (
	"github.com/rhuss/palaver/pkg/api"
)

// Capabilities declares what features the provider supports. The engine
// and adapters use it for early request validation.
type Capabilities struct {
	// Streaming indicates whether the provider supports incremental responses.
	Streaming bool `yaml:"streaming"`

	// ToolCalling indicates whether the provider supports function/tool calls.
	ToolCalling bool `yaml:"tool_calling"`

	// MaxContextWindow is the maximum token count (0 = unknown/unlimited).
	MaxContextWindow int `yaml:"max_context_window"`

	// SeparateSystem indicates that system turns travel in a dedicated
	// request field rather than as messages.
	SeparateSystem bool `yaml:"-"`
}

// ValidateCapabilities checks whether the request is compatible with the
// provider's declared capabilities. It returns an
// ErrorUnsupportedCapability error naming the unsupported feature, or nil.
func ValidateCapabilities(caps Capabilities, req *api.Request) *api.Error {
	if req.Stream() && !caps.Streaming {
		return api.NewUnsupportedCapabilityError("stream",
			"the configured provider does not support streaming responses")
	}

	if len(req.Tools()) > 0 && !caps.ToolCalling {
		return api.NewUnsupportedCapabilityError("tools",
			"the configured provider does not support tool calling")
	}

	// Replaying tool calls and results also requires tool support.
	if req.HasToolParts() && !caps.ToolCalling {
		return api.NewUnsupportedCapabilityError("turns",
			"the conversation contains tool calls but the configured provider does not support tool calling")
	}

	return nil
}
