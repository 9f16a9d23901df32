package config

import (
	"fmt"
	"os"

	"github.com/rhuss/palaver/pkg/auth"
	"github.com/rhuss/palaver/pkg/auth/jwt"
	"github.com/rhuss/palaver/pkg/provider"
)

// Auth types accepted in providers[].auth.type.
const (
	AuthTypeKey = "key"
	AuthTypeJWT = "jwt"
)

// defaultKeyEnv is the API key variable read when api_key_env is unset.
var defaultKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"litellm":   "LITELLM_API_KEY",
	"vllm":      "VLLM_API_KEY",
}

// keyEnv returns the environment variable holding this provider's key.
func (p ProviderConfig) keyEnv() string {
	if p.APIKeyEnv != "" {
		return p.APIKeyEnv
	}
	return defaultKeyEnv[p.Type]
}

// Resolve builds the provider.Config consumed by the adapter factory.
// Secrets must already be resolved by Load.
func (p ProviderConfig) Resolve() (provider.Config, error) {
	creds, err := p.credentials()
	if err != nil {
		return provider.Config{}, fmt.Errorf("provider %s: %w", p.Name, err)
	}
	return provider.Config{
		Name:         p.Name,
		Type:         p.Type,
		BaseURL:      p.BaseURL,
		Credentials:  creds,
		DefaultModel: p.DefaultModel,
		MaxTokens:    p.MaxTokens,
		Timeout:      p.Timeout,
		Capabilities: p.Capabilities,
		ModelMapping: p.ModelMapping,
		Headers:      p.Headers,
		RoutePrefix:  p.RoutePrefix,
	}, nil
}

func (p ProviderConfig) credentials() (auth.Credentials, error) {
	switch p.Auth.Type {
	case "", AuthTypeKey:
		if p.APIKey == "" {
			return nil, nil
		}
		return auth.StaticKey(p.APIKey), nil
	case AuthTypeJWT:
		signer, err := jwt.New(jwt.Config{
			KeyID:    p.Auth.KeyID,
			Secret:   []byte(p.Auth.Secret),
			Audience: p.Auth.Audience,
			TTL:      p.Auth.TTL,
		})
		if err != nil {
			return nil, err
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", p.Auth.Type)
	}
}

// applyKeyEnv fills an empty api_key from the provider's key variable.
func (p *ProviderConfig) applyKeyEnv() {
	if p.APIKey != "" || p.APIKeyFile != "" {
		return
	}
	if env := p.keyEnv(); env != "" {
		p.APIKey = os.Getenv(env)
	}
}
