package caller

import (
	"errors"
	"fmt"
	"time"
)

// RetryConfig controls retries of transient failures. Zero fields take the
// values from DefaultRetryConfig, except Jitter: zero jitter is a valid
// setting and disables randomization.
type RetryConfig struct {
	// MaxAttempts bounds total attempts, including the first. 1 disables retries.
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration `yaml:"base_delay"`

	// Multiplier grows the delay after each retry.
	Multiplier float64 `yaml:"multiplier"`

	// Jitter randomizes each delay by +/- this fraction (0 to 1). Zero
	// disables randomization.
	Jitter float64 `yaml:"jitter"`

	// MaxDelay caps a single backoff delay.
	MaxDelay time.Duration `yaml:"max_delay"`

	// MaxElapsed caps the total time spent on one call, including waits.
	// Zero takes the default; a negative value means no limit.
	MaxElapsed time.Duration `yaml:"max_elapsed"`

	// IgnoreRetryAfter disables honoring the server's Retry-After header.
	IgnoreRetryAfter bool `yaml:"ignore_retry_after"`

	// MaxRetryAfter caps a server-requested delay.
	MaxRetryAfter time.Duration `yaml:"max_retry_after"`
}

// DefaultRetryConfig returns the default retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   4,
		BaseDelay:     500 * time.Millisecond,
		Multiplier:    2,
		Jitter:        0.2,
		MaxDelay:      30 * time.Second,
		MaxElapsed:    2 * time.Minute,
		MaxRetryAfter: 60 * time.Second,
	}
}

// WithDefaults fills zero fields from DefaultRetryConfig. Jitter is kept
// as given.
func (c RetryConfig) WithDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts == 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = d.Multiplier
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.MaxElapsed == 0 {
		c.MaxElapsed = d.MaxElapsed
	}
	if c.MaxRetryAfter == 0 {
		c.MaxRetryAfter = d.MaxRetryAfter
	}
	return c
}

// Validate checks the configuration for out-of-range values.
func (c RetryConfig) Validate() error {
	var errs []error
	if c.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must not be negative"))
	}
	if c.BaseDelay < 0 || c.MaxDelay < 0 || c.MaxRetryAfter < 0 {
		errs = append(errs, fmt.Errorf("retry durations must not be negative"))
	}
	if c.Multiplier != 0 && c.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("retry.multiplier must be >= 1, got %g", c.Multiplier))
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		errs = append(errs, fmt.Errorf("retry.jitter must be between 0 and 1, got %g", c.Jitter))
	}
	return errors.Join(errs...)
}

// callOptions holds per-call overrides.
type callOptions struct {
	retry   RetryConfig
	timeout time.Duration
}

// CallOption overrides settings for a single Execute.
type CallOption func(*callOptions)

// WithRetry replaces the retry policy for this call.
func WithRetry(cfg RetryConfig) CallOption {
	return func(o *callOptions) { o.retry = cfg.WithDefaults() }
}

// WithMaxAttempts overrides the attempt limit for this call.
func WithMaxAttempts(n int) CallOption {
	return func(o *callOptions) {
		if n > 0 {
			o.retry.MaxAttempts = n
		}
	}
}

// WithMaxElapsed overrides the total time budget for this call.
func WithMaxElapsed(d time.Duration) CallOption {
	return func(o *callOptions) { o.retry.MaxElapsed = d }
}

// WithBaseDelay overrides the initial backoff delay for this call.
func WithBaseDelay(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.retry.BaseDelay = d
		}
	}
}

// WithTimeout bounds each non-streaming attempt of this call. It replaces
// the provider's configured timeout; zero disables the bound.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithoutRetry disables retries for this call.
func WithoutRetry() CallOption {
	return WithMaxAttempts(1)
}
