// Package jwt mints short-lived HS256 bearer tokens from a key ID and a
// shared secret. Tokens are cached and re-minted once 80% of their
// lifetime has elapsed.
package jwt

import (
	"fmt"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/palaver/pkg/auth"
)

// Config holds the signer configuration.
type Config struct {
	// KeyID is sent as the "kid" header and the issuer claim.
	KeyID string

	// Secret is the HMAC signing key.
	Secret []byte

	// Audience is the optional "aud" claim.
	Audience string

	// TTL is the token lifetime. Default: 30 minutes.
	TTL time.Duration
}

// Signer implements auth.Credentials.
type Signer struct {
	cfg Config

	mu        sync.Mutex
	cached    string
	refreshAt time.Time
	nowFunc   func() time.Time // for testing; defaults to time.Now
}

var _ auth.Credentials = (*Signer)(nil)

// New creates a Signer. KeyID and Secret are required.
func New(cfg Config) (*Signer, error) {
	if cfg.KeyID == "" {
		return nil, fmt.Errorf("jwt: key id is required")
	}
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("jwt: secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	return &Signer{cfg: cfg, nowFunc: time.Now}, nil
}

// Token returns a cached token or mints a new one.
func (s *Signer) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	if s.cached != "" && now.Before(s.refreshAt) {
		return s.cached, nil
	}

	claims := jwtlib.RegisteredClaims{
		Issuer:    s.cfg.KeyID,
		IssuedAt:  jwtlib.NewNumericDate(now),
		NotBefore: jwtlib.NewNumericDate(now),
		ExpiresAt: jwtlib.NewNumericDate(now.Add(s.cfg.TTL)),
	}
	if s.cfg.Audience != "" {
		claims.Audience = jwtlib.ClaimStrings{s.cfg.Audience}
	}

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	token.Header["kid"] = s.cfg.KeyID

	signed, err := token.SignedString(s.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("jwt: signing token: %w", err)
	}

	s.cached = signed
	s.refreshAt = now.Add(s.cfg.TTL * 8 / 10)
	return signed, nil
}
