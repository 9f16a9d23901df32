package postgres

import (
	"errors"
	"time"
)

// Config holds PostgreSQL connection settings.
type Config struct {
	// DSN is a libpq connection string or URL.
	DSN string

	// MaxConns caps the pool size. A CLI session rarely needs more than a
	// handful of connections (default: 4).
	MaxConns int32

	// ConnectTimeout bounds each dial (default: 10s).
	ConnectTimeout time.Duration

	// MigrateOnStart applies the embedded migrations before first use.
	MigrateOnStart bool
}

func (c *Config) applyDefaults() error {
	if c.DSN == "" {
		return errors.New("postgres: dsn is required")
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 4
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return nil
}
