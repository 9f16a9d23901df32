package mcp

import (
	"errors"
	"fmt"
)

// Transport names accepted in ServerConfig.Transport.
const (
	TransportStdio      = "stdio"
	TransportSSE        = "sse"
	TransportStreamable = "streamable-http"
)

// ServerConfig describes a single MCP server connection.
type ServerConfig struct {
	// Name identifies the server in logs and tool routing.
	Name string `yaml:"name"`

	// Transport is "stdio", "sse" or "streamable-http". If empty it is
	// "stdio" when Command is set and "streamable-http" otherwise.
	Transport string `yaml:"transport"`

	// URL is the endpoint for the HTTP transports.
	URL string `yaml:"url"`

	// Command and Args start a stdio server.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`

	// Headers are added to every HTTP request.
	Headers map[string]string `yaml:"headers"`

	Auth AuthConfig `yaml:"auth"`

	// AllowedTools limits which of the server's tools are offered. Empty
	// means all.
	AllowedTools []string `yaml:"allowed_tools"`
}

// AuthConfig selects dynamic authentication for HTTP transports.
type AuthConfig struct {
	// Type is empty or "oauth_client_credentials".
	Type         string   `yaml:"type"`
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// TransportKind resolves the effective transport name.
func (c ServerConfig) TransportKind() string {
	if c.Transport != "" {
		return c.Transport
	}
	if c.Command != "" {
		return TransportStdio
	}
	return TransportStreamable
}

// Validate checks the server configuration.
func (c ServerConfig) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	switch c.TransportKind() {
	case TransportStdio:
		if c.Command == "" {
			errs = append(errs, errors.New("command is required for stdio transport"))
		}
	case TransportSSE, TransportStreamable:
		if c.URL == "" {
			errs = append(errs, fmt.Errorf("url is required for %s transport", c.TransportKind()))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported transport %q", c.Transport))
	}
	switch c.Auth.Type {
	case "":
	case "oauth_client_credentials":
		if c.Auth.TokenURL == "" || c.Auth.ClientID == "" {
			errs = append(errs, errors.New("oauth_client_credentials requires token_url and client_id"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported auth type %q", c.Auth.Type))
	}
	if len(errs) > 0 {
		return fmt.Errorf("mcp server %q: %w", c.Name, errors.Join(errs...))
	}
	return nil
}
