// Package ratelimit throttles outbound requests per provider. Each provider
// gets its own token bucket and optional concurrency cap, so a saturated
// provider never blocks calls to another.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rhuss/palaver/pkg/debug"
	"github.com/rhuss/palaver/pkg/observability"
)

// Limit holds the settings for one provider.
type Limit struct {
	// RequestsPerSecond is the sustained rate. Zero disables rate limiting.
	RequestsPerSecond float64 `yaml:"rps"`

	// Burst is the bucket size. Defaults to 1 when a rate is set.
	Burst int `yaml:"burst"`

	// MaxConcurrent caps in-flight requests. Zero means unlimited.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// Limiter tracks per-provider limits.
type Limiter struct {
	limits   map[string]Limit
	fallback Limit

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	rate *rate.Limiter
	sem  chan struct{}
}

// New creates a limiter. Providers not present in limits use fallback.
func New(limits map[string]Limit, fallback Limit) *Limiter {
	return &Limiter{
		limits:   limits,
		fallback: fallback,
		buckets:  make(map[string]*bucket),
	}
}

// Acquire blocks until provider may issue a request, or ctx is done. The
// returned release func must be called once the request completes. A nil
// Limiter admits everything.
func (l *Limiter) Acquire(ctx context.Context, provider string) (release func(), err error) {
	if l == nil {
		return func() {}, nil
	}
	b := l.bucket(provider)
	start := time.Now()

	if b.rate != nil {
		if err := b.rate.Wait(ctx); err != nil {
			return nil, err
		}
	}

	if b.sem != nil {
		select {
		case b.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if waited := time.Since(start); waited > time.Millisecond {
		observability.RateLimitWaitSeconds.WithLabelValues(provider).Observe(waited.Seconds())
		debug.Log("caller", "rate limiter delayed request", "provider", provider, "waited", waited)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if b.sem != nil {
				<-b.sem
			}
		})
	}, nil
}

func (l *Limiter) bucket(provider string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[provider]; ok {
		return b
	}

	lim, ok := l.limits[provider]
	if !ok {
		lim = l.fallback
	}

	b := &bucket{}
	if lim.RequestsPerSecond > 0 {
		burst := lim.Burst
		if burst <= 0 {
			burst = 1
		}
		b.rate = rate.NewLimiter(rate.Limit(lim.RequestsPerSecond), burst)
	}
	if lim.MaxConcurrent > 0 {
		b.sem = make(chan struct{}, lim.MaxConcurrent)
	}
	l.buckets[provider] = b
	return b
}
