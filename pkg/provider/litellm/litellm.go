// Package litellm provides the adapter preset for LiteLLM proxy servers.
// LiteLLM routes OpenAI-style requests to many upstream providers and
// selects the upstream from a "provider/model" prefix on the model name.
package litellm

import (
	"strings"

	"github.com/rhuss/palaver/pkg/provider"
	"github.com/rhuss/palaver/pkg/provider/openaicompat"
)

// DefaultBaseURL is the proxy's default listen address.
const DefaultBaseURL = "http://localhost:4000"

// New creates an adapter for a LiteLLM proxy. ModelMapping is applied
// first, then RoutePrefix, which is prepended to model names that carry no
// provider prefix (e.g., "openai" turns "gpt-4o" into "openai/gpt-4o").
func New(cfg provider.Config) (*openaicompat.Adapter, error) {
	if cfg.Name == "" {
		cfg.Name = "litellm"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	var opts []openaicompat.Option
	if cfg.RoutePrefix != "" {
		opts = append(opts, openaicompat.WithModelMapper(PrefixMapper(cfg.RoutePrefix)))
	}
	return openaicompat.New(cfg, opts...)
}

// PrefixMapper returns a mapper that adds prefix to unqualified model names.
func PrefixMapper(prefix string) func(string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	return func(model string) string {
		if strings.Contains(model, "/") {
			return model
		}
		return prefix + "/" + model
	}
}
