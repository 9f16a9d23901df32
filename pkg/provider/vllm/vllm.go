// Package vllm provides the adapter preset for vLLM servers. vLLM exposes
// the OpenAI Chat Completions API, usually without authentication.
package vllm

import (
	"github.com/rhuss/palaver/pkg/provider"
	"github.com/rhuss/palaver/pkg/provider/openaicompat"
)

// DefaultBaseURL is where `vllm serve` listens by default.
const DefaultBaseURL = "http://localhost:8000"

// New creates an adapter for a vLLM server. Name defaults to "vllm" and
// BaseURL to DefaultBaseURL. Credentials are optional.
func New(cfg provider.Config) (*openaicompat.Adapter, error) {
	if cfg.Name == "" {
		cfg.Name = "vllm"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return openaicompat.New(cfg)
}
