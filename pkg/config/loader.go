package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/palaver/pkg/debug"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, PALAVER_CONFIG env, ./palaver.yaml,
//     $XDG_CONFIG_HOME/palaver/config.yaml, /etc/palaver/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
		debug.Log("config", "loaded config file", "path", filePath)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path. An explicit path or
// PALAVER_CONFIG is returned even if it does not exist, so that a typo
// surfaces as a read error. Returns empty string if no file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("PALAVER_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{"palaver.yaml"}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "palaver", "config.yaml"))
	}
	candidates = append(candidates, "/etc/palaver/config.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps environment variables to config fields.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PALAVER_PROVIDER"); v != "" {
		cfg.DefaultProvider = v
	}
	if v := os.Getenv("PALAVER_MODEL"); v != "" {
		cfg.Assistant.Model = v
	}
	if v := os.Getenv("PALAVER_MODE"); v != "" {
		cfg.Assistant.Mode = v
	}
	if v := os.Getenv("PALAVER_STORAGE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("PALAVER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PALAVER_DEBUG"); v != "" {
		cfg.Log.Debug = v
	}

	// PALAVER_MCP_SERVERS: JSON array of MCP server configs.
	if v := os.Getenv("PALAVER_MCP_SERVERS"); v != "" {
		servers, err := parseMCPServersJSON(v)
		if err != nil {
			return err
		}
		cfg.MCP.Servers = servers
	}

	if len(cfg.Providers) == 0 {
		cfg.Providers = envProviders()
	}
	for i := range cfg.Providers {
		if cfg.Providers[i].Name == "" {
			cfg.Providers[i].Name = cfg.Providers[i].Type
		}
		cfg.Providers[i].applyKeyEnv()
	}
	return nil
}

// envProviders configures providers from well-known key variables when
// the config file declares none.
func envProviders() []ProviderConfig {
	var out []ProviderConfig
	for _, typ := range []string{"openai", "anthropic"} {
		if os.Getenv(defaultKeyEnv[typ]) != "" {
			out = append(out, ProviderConfig{Name: typ, Type: typ})
		}
	}
	return out
}

// parseMCPServersJSON parses a JSON array of MCP server configurations.
// JSON is valid YAML, so the yaml field names apply.
func parseMCPServersJSON(jsonStr string) ([]MCPServerConfig, error) {
	var servers []MCPServerConfig
	if err := yaml.Unmarshal([]byte(jsonStr), &servers); err != nil {
		return nil, fmt.Errorf("parsing PALAVER_MCP_SERVERS: %w", err)
	}
	return servers, nil
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.APIKeyFile != "" && p.APIKey == "" {
			val, err := readSecretFile(p.APIKeyFile)
			if err != nil {
				return fmt.Errorf("providers[%d].api_key_file: %w", i, err)
			}
			p.APIKey = val
		}
		if p.Auth.SecretFile != "" && p.Auth.Secret == "" {
			val, err := readSecretFile(p.Auth.SecretFile)
			if err != nil {
				return fmt.Errorf("providers[%d].auth.secret_file: %w", i, err)
			}
			p.Auth.Secret = val
		}
	}

	if cfg.Storage.Postgres.DSNFile != "" && cfg.Storage.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Storage.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("storage.postgres.dsn_file: %w", err)
		}
		cfg.Storage.Postgres.DSN = val
	}

	if cfg.Storage.Redis.PasswordFile != "" && cfg.Storage.Redis.Password == "" {
		val, err := readSecretFile(cfg.Storage.Redis.PasswordFile)
		if err != nil {
			return fmt.Errorf("storage.redis.password_file: %w", err)
		}
		cfg.Storage.Redis.Password = val
	}

	for i := range cfg.MCP.Servers {
		s := &cfg.MCP.Servers[i]
		if s.ClientSecretFile != "" && s.Auth.ClientSecret == "" {
			val, err := readSecretFile(s.ClientSecretFile)
			if err != nil {
				return fmt.Errorf("mcp.servers[%d].client_secret_file: %w", i, err)
			}
			s.Auth.ClientSecret = val
		}
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
