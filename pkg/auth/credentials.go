package auth

import "errors"

// ErrNoCredentials is returned when a provider requires a token but none
// is configured.
var ErrNoCredentials = errors.New("no credentials configured")

// Credentials yields the token sent with each request. Implementations
// must be safe for concurrent use.
type Credentials interface {
	Token() (string, error)
}

// StaticKey is a fixed API key.
type StaticKey string

// Token returns the key. An empty key yields ErrNoCredentials.
func (k StaticKey) Token() (string, error) {
	if k == "" {
		return "", ErrNoCredentials
	}
	return string(k), nil
}

// TokenOrEmpty resolves c, treating a nil source as "no auth".
func TokenOrEmpty(c Credentials) (string, error) {
	if c == nil {
		return "", nil
	}
	return c.Token()
}
