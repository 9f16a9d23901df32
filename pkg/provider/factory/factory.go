// Package factory selects a provider adapter from configuration.
package factory

import (
	"fmt"

	"github.com/rhuss/palaver/pkg/provider"
	"github.com/rhuss/palaver/pkg/provider/anthropic"
	"github.com/rhuss/palaver/pkg/provider/litellm"
	"github.com/rhuss/palaver/pkg/provider/openaicompat"
	"github.com/rhuss/palaver/pkg/provider/vllm"
)

// Adapter types accepted in Config.Type.
const (
	TypeOpenAI    = "openai"
	TypeAnthropic = "anthropic"
	TypeVLLM      = "vllm"
	TypeLiteLLM   = "litellm"
)

// Types lists the supported adapter types.
func Types() []string {
	return []string{TypeOpenAI, TypeAnthropic, TypeVLLM, TypeLiteLLM}
}

// New creates the adapter selected by cfg.Type.
func New(cfg provider.Config) (provider.Adapter, error) {
	if cfg.Name == "" {
		cfg.Name = cfg.Type
	}
	switch cfg.Type {
	case TypeOpenAI, "openai-compatible":
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://api.openai.com"
		}
		return openaicompat.New(cfg)
	case TypeAnthropic:
		return anthropic.New(cfg)
	case TypeVLLM:
		return vllm.New(cfg)
	case TypeLiteLLM:
		return litellm.New(cfg)
	default:
		return nil, fmt.Errorf("unknown provider type %q (supported: %v)", cfg.Type, Types())
	}
}
