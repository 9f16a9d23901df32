package provider

import (
	"time"

	"github.com/rhuss/palaver/pkg/auth"
)

// Config is the resolved configuration for one provider instance. Adapters
// consume it as-is and never read environment variables or files.
type Config struct {
	// Name identifies this provider instance (used in logs, metrics and the
	// rate limiter). Defaults to Type.
	Name string

	// Type selects the adapter: "openai", "anthropic", "vllm" or "litellm".
	Type string

	// BaseURL is the API root without a trailing slash.
	BaseURL string

	// Credentials supplies the auth token. Nil means no auth header.
	Credentials auth.Credentials

	// DefaultModel is used when a request leaves the model empty.
	DefaultModel string

	// MaxTokens is the output limit applied when a request sets none.
	MaxTokens int

	// Timeout bounds non-streaming exchanges.
	Timeout time.Duration

	// Capabilities overrides the adapter's declared capabilities.
	Capabilities *Capabilities

	// ModelMapping rewrites model names before they are sent.
	ModelMapping map[string]string

	// Headers are added to every request.
	Headers map[string]string

	// RoutePrefix qualifies bare model names as "<prefix>/<model>" for
	// routing proxies (litellm only).
	RoutePrefix string
}

// MapModel applies DefaultModel and ModelMapping.
func (c Config) MapModel(model string) string {
	if model == "" {
		model = c.DefaultModel
	}
	if mapped, ok := c.ModelMapping[model]; ok {
		return mapped
	}
	return model
}
