package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/rhuss/palaver/pkg/provider/factory"
)

var (
	modes         = []string{"general", "dev", "bash"}
	storageTypes  = []string{"memory", "postgres", "redis"}
	dispatchModes = []string{"sequential", "parallel"}
	exporters     = []string{"", "none", "stdout", "otlp"}
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	seen := make(map[string]bool)
	for i, p := range c.Providers {
		if err := p.validate(); err != nil {
			errs = append(errs, fmt.Errorf("providers[%d]: %w", i, err))
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("providers[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true
	}
	if c.DefaultProvider != "" && len(c.Providers) > 0 && !seen[c.DefaultProvider] {
		errs = append(errs, fmt.Errorf("default_provider %q is not configured", c.DefaultProvider))
	}

	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, err)
	}

	if !slices.Contains(modes, c.Assistant.Mode) {
		errs = append(errs, fmt.Errorf("assistant.mode must be one of %v, got %q", modes, c.Assistant.Mode))
	}
	if !slices.Contains(dispatchModes, c.Assistant.ToolDispatch) {
		errs = append(errs, fmt.Errorf("assistant.tool_dispatch must be one of %v, got %q", dispatchModes, c.Assistant.ToolDispatch))
	}
	if c.Assistant.MaxTurns <= 0 {
		errs = append(errs, fmt.Errorf("assistant.max_turns must be > 0, got %d", c.Assistant.MaxTurns))
	}

	if !slices.Contains(storageTypes, c.Storage.Type) {
		errs = append(errs, fmt.Errorf("storage.type must be one of %v, got %q", storageTypes, c.Storage.Type))
	}
	if c.Storage.Type == "postgres" && c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
		errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
	}
	if c.Storage.Type == "redis" && c.Storage.Redis.Addr == "" {
		errs = append(errs, fmt.Errorf("storage.redis.addr is required when storage.type is \"redis\""))
	}

	for i, s := range c.MCP.Servers {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("mcp.servers[%d]: %w", i, err))
		}
	}

	if err := c.Tools.WebSearch.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tools: %w", err))
	}

	if !slices.Contains(exporters, c.Observability.Tracing.Exporter) {
		errs = append(errs, fmt.Errorf("observability.tracing.exporter must be one of %v, got %q", exporters, c.Observability.Tracing.Exporter))
	}

	return errors.Join(errs...)
}

func (p ProviderConfig) validate() error {
	var errs []error
	if p.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if !slices.Contains(factory.Types(), p.Type) {
		errs = append(errs, fmt.Errorf("type must be one of %v, got %q", factory.Types(), p.Type))
	}
	if p.Type != "openai" && p.Type != "anthropic" && p.BaseURL == "" {
		errs = append(errs, fmt.Errorf("base_url is required for type %q", p.Type))
	}
	switch p.Auth.Type {
	case "", AuthTypeKey:
	case AuthTypeJWT:
		if p.Auth.KeyID == "" {
			errs = append(errs, errors.New("auth.key_id is required for jwt auth"))
		}
		if p.Auth.Secret == "" && p.Auth.SecretFile == "" {
			errs = append(errs, errors.New("auth.secret or auth.secret_file is required for jwt auth"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be %q or %q, got %q", AuthTypeKey, AuthTypeJWT, p.Auth.Type))
	}
	if p.RateLimit.RequestsPerSecond < 0 || p.RateLimit.Burst < 0 || p.RateLimit.MaxConcurrent < 0 {
		errs = append(errs, errors.New("rate_limit values must not be negative"))
	}
	return errors.Join(errs...)
}
