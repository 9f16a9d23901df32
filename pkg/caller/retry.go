package caller

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rhuss/palaver/pkg/api"
)

// RetryState tracks the retry progress of one Execute invocation.
type RetryState struct {
	// Attempt is the 1-based number of the current attempt.
	Attempt int

	// NextDelay is the wait before the next attempt.
	NextDelay time.Duration

	// Elapsed is the time since the first attempt started.
	Elapsed time.Duration

	// LastErr is the most recent transient failure.
	LastErr *api.Error

	cfg   RetryConfig
	bo    *backoff.ExponentialBackOff
	start time.Time
	now   func() time.Time
}

// NewRetryState starts tracking a call under cfg.
func NewRetryState(cfg RetryConfig, now func() time.Time) *RetryState {
	if now == nil {
		now = time.Now
	}
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.BaseDelay,
		RandomizationFactor: cfg.Jitter,
		Multiplier:          cfg.Multiplier,
		MaxInterval:         cfg.MaxDelay,
		// Elapsed time is enforced by Next so Retry-After waits count too.
		MaxElapsedTime: 0,
		Stop:           backoff.Stop,
		Clock:          backoff.SystemClock,
	}
	bo.Reset()
	return &RetryState{cfg: cfg, bo: bo, start: now(), now: now}
}

// Begin marks the start of a new attempt and returns its number.
func (s *RetryState) Begin() int {
	s.Attempt++
	return s.Attempt
}

// Next records a transient failure and returns the delay before the next
// attempt. It returns false when the attempt or time budget is exhausted.
func (s *RetryState) Next(err *api.Error) (time.Duration, bool) {
	s.LastErr = err
	s.Elapsed = s.now().Sub(s.start)

	if s.Attempt >= s.cfg.MaxAttempts {
		return 0, false
	}

	delay := s.bo.NextBackOff()
	if delay == backoff.Stop {
		return 0, false
	}
	if !s.cfg.IgnoreRetryAfter && err != nil && err.RetryAfter > 0 {
		delay = max(delay, min(err.RetryAfter, s.cfg.MaxRetryAfter))
	}
	if s.cfg.MaxElapsed > 0 && s.Elapsed+delay > s.cfg.MaxElapsed {
		return 0, false
	}
	s.NextDelay = delay
	return delay, true
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// honorsRetryAfter reports whether Retry-After applies to status.
func honorsRetryAfter(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}
