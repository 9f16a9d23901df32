// Package config provides unified configuration for palaver.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (PALAVER_ prefix, provider key variables)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
//
// The core packages never read the environment or files; they receive the
// resolved values produced here.
package config

import (
	"time"

	"github.com/rhuss/palaver/pkg/caller"
	"github.com/rhuss/palaver/pkg/observability"
	"github.com/rhuss/palaver/pkg/provider"
	"github.com/rhuss/palaver/pkg/ratelimit"
	"github.com/rhuss/palaver/pkg/tools/builtins/shell"
	"github.com/rhuss/palaver/pkg/tools/builtins/websearch"
	"github.com/rhuss/palaver/pkg/tools/mcp"
)

// Config holds all configuration for palaver.
type Config struct {
	Providers       []ProviderConfig    `yaml:"providers"`
	DefaultProvider string              `yaml:"default_provider"`
	Retry           caller.RetryConfig  `yaml:"retry"`
	Assistant       AssistantConfig     `yaml:"assistant"`
	Storage         StorageConfig       `yaml:"storage"`
	MCP             MCPConfig           `yaml:"mcp"`
	Tools           ToolsConfig         `yaml:"tools"`
	Observability   ObservabilityConfig `yaml:"observability"`
	Log             LogConfig           `yaml:"log"`
}

// ProviderConfig describes one configured LLM provider.
type ProviderConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"` // "openai", "anthropic", "vllm" or "litellm"
	BaseURL string `yaml:"base_url"`

	APIKey     string `yaml:"api_key"`
	APIKeyFile string `yaml:"api_key_file"` // _file variant for api_key
	APIKeyEnv  string `yaml:"api_key_env"`  // default: OPENAI_API_KEY or ANTHROPIC_API_KEY

	Auth ProviderAuthConfig `yaml:"auth"`

	DefaultModel string            `yaml:"default_model"`
	MaxTokens    int               `yaml:"max_tokens"`
	Timeout      time.Duration     `yaml:"timeout"`
	ModelMapping map[string]string `yaml:"model_mapping"`
	Headers      map[string]string `yaml:"headers"`
	RoutePrefix  string            `yaml:"route_prefix"` // litellm only

	// Capabilities overrides the adapter's declared capabilities.
	Capabilities *provider.Capabilities `yaml:"capabilities"`

	RateLimit ratelimit.Limit `yaml:"rate_limit"`
}

// ProviderAuthConfig selects how the bearer token is produced.
type ProviderAuthConfig struct {
	Type       string        `yaml:"type"` // "key" (default) or "jwt"
	KeyID      string        `yaml:"key_id"`
	Secret     string        `yaml:"secret"`
	SecretFile string        `yaml:"secret_file"` // _file variant for secret
	Audience   string        `yaml:"audience"`
	TTL        time.Duration `yaml:"ttl"`
}

// AssistantConfig holds orchestrator settings.
type AssistantConfig struct {
	Mode             string   `yaml:"mode"`   // "general", "dev" or "bash", default: "general"
	Model            string   `yaml:"model"`  // overrides the provider's default_model
	Stream           bool     `yaml:"stream"` // default: true
	Temperature      *float64 `yaml:"temperature"`
	MaxTurns         int      `yaml:"max_turns"`     // default: 10
	ToolDispatch     string   `yaml:"tool_dispatch"` // "sequential" or "parallel", default: "sequential"
	MaxParallelTools int      `yaml:"max_parallel_tools"`
	FailOnToolError  bool     `yaml:"fail_on_tool_error"`
	AllowedTools     []string `yaml:"allowed_tools"`
	SystemPrompt     string   `yaml:"system_prompt"` // replaces the mode preset when set
}

// StorageConfig holds conversation persistence settings.
type StorageConfig struct {
	Type     string         `yaml:"type"`     // "memory", "postgres" or "redis", default: "memory"
	MaxSize  int            `yaml:"max_size"` // for memory store, default: 1000
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 4
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: true
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr         string        `yaml:"addr"` // default: "localhost:6379"
	Password     string        `yaml:"password"`
	PasswordFile string        `yaml:"password_file"` // _file variant for password
	DB           int           `yaml:"db"`
	TTL          time.Duration `yaml:"ttl"` // zero keeps conversations forever
	KeyPrefix    string        `yaml:"key_prefix"`
}

// MCPConfig holds MCP (Model Context Protocol) server settings.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes a single MCP server connection.
type MCPServerConfig struct {
	mcp.ServerConfig `yaml:",inline"`

	// ClientSecretFile is the _file variant for auth.client_secret.
	ClientSecretFile string `yaml:"client_secret_file"`
}

// ToolsConfig holds builtin tool settings.
type ToolsConfig struct {
	Shell     shell.Config     `yaml:"shell"`
	WebSearch websearch.Config `yaml:"web_search"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig               `yaml:"metrics"`
	Tracing observability.TracingConfig `yaml:"tracing"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
	Path string `yaml:"path"` // default: "/metrics"
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // default: "WARN"
	Format string `yaml:"format"` // "text" or "json"
	Debug  string `yaml:"debug"`  // comma-separated debug categories
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Retry: caller.DefaultRetryConfig(),
		Assistant: AssistantConfig{
			Mode:         "general",
			Stream:       true,
			MaxTurns:     10,
			ToolDispatch: "sequential",
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 1000,
			Postgres: PostgresConfig{
				MaxConns:       4,
				MigrateOnStart: true,
			},
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "palaver:",
			},
		},
		Tools: ToolsConfig{
			Shell: shell.Config{
				Timeout:   shell.DefaultTimeout,
				MaxOutput: shell.DefaultMaxOutput,
			},
			WebSearch: websearch.Config{
				Backend:    "searxng",
				MaxResults: websearch.DefaultMaxResults,
				Timeout:    websearch.DefaultTimeout,
			},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{Path: "/metrics"},
			Tracing: observability.TracingConfig{Exporter: "none", ServiceName: "palaver"},
		},
		Log: LogConfig{
			Level:  "WARN",
			Format: "text",
		},
	}
}

// Provider returns the named provider, or the default provider when name
// is empty. The default is DefaultProvider, else the first entry.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	if name == "" {
		name = c.DefaultProvider
	}
	if name == "" && len(c.Providers) > 0 {
		return c.Providers[0], true
	}
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// RateLimits collects the per-provider limits for ratelimit.New.
func (c *Config) RateLimits() map[string]ratelimit.Limit {
	limits := make(map[string]ratelimit.Limit)
	for _, p := range c.Providers {
		if p.RateLimit != (ratelimit.Limit{}) {
			limits[p.Name] = p.RateLimit
		}
	}
	return limits
}

// MCPServers returns the MCP server configurations in executor form.
func (c *Config) MCPServers() []mcp.ServerConfig {
	out := make([]mcp.ServerConfig, 0, len(c.MCP.Servers))
	for _, s := range c.MCP.Servers {
		out = append(out, s.ServerConfig)
	}
	return out
}
