// Package caller executes provider requests over HTTP. It owns the retry
// loop, cancellation and per-provider rate limiting, and exposes each call
// as a lazy, single-use sequence of events.
package caller

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/debug"
	"github.com/rhuss/palaver/pkg/observability"
	"github.com/rhuss/palaver/pkg/provider"
	"github.com/rhuss/palaver/pkg/ratelimit"
)

const (
	// readBufferSize is the network read size for streamed bodies.
	readBufferSize = 32 * 1024

	// maxErrorBody bounds how much of a non-2xx body is read.
	maxErrorBody = 64 * 1024

	// maxResponseBody bounds a non-streaming response.
	maxResponseBody = 32 * 1024 * 1024
)

// Caller sends requests built by provider adapters. A Caller is safe for
// concurrent use.
type Caller struct {
	client  *http.Client
	limiter *ratelimit.Limiter
	retry   RetryConfig

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Option configures a Caller.
type Option func(*Caller)

// WithHTTPClient sets the HTTP client. The client should not set a global
// Timeout, since streams may legitimately outlive any fixed limit.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Caller) { cl.client = c }
}

// WithLimiter sets the shared per-provider rate limiter.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(cl *Caller) { cl.limiter = l }
}

// WithRetryConfig sets the default retry policy.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(cl *Caller) { cl.retry = cfg.WithDefaults() }
}

// New creates a Caller. Without options it uses an instrumented default
// HTTP client, no rate limiting and DefaultRetryConfig.
func New(opts ...Option) *Caller {
	c := &Caller{
		client: &http.Client{Transport: observability.NewTransport(nil)},
		retry:  DefaultRetryConfig(),
		sleep:  sleepContext,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultCaller = New()

// Execute runs req with the default Caller.
func Execute(ctx context.Context, req *api.Request, adapter provider.Adapter, opts ...CallOption) *Call {
	return defaultCaller.Execute(ctx, req, adapter, opts...)
}

// Execute prepares a call. No network I/O happens until the first event is
// pulled from Call.Events.
func (c *Caller) Execute(ctx context.Context, req *api.Request, adapter provider.Adapter, opts ...CallOption) *Call {
	o := callOptions{retry: c.retry, timeout: provider.RequestTimeout(adapter)}
	for _, opt := range opts {
		opt(&o)
	}
	return &Call{caller: c, ctx: ctx, req: req, adapter: adapter, opts: o}
}

// Call is one prepared provider call.
type Call struct {
	caller  *Caller
	ctx     context.Context
	req     *api.Request
	adapter provider.Adapter
	opts    callOptions

	used     atomic.Bool
	attempts atomic.Int32
}

// Attempts returns the number of attempts made so far.
func (call *Call) Attempts() int { return int(call.attempts.Load()) }

// Retries returns the number of retries performed so far.
func (call *Call) Retries() int { return max(call.Attempts()-1, 0) }

// Events returns the event sequence. Iteration performs the HTTP exchange,
// retrying transient failures, and always ends with a Done or Error event
// unless the consumer stops early, which aborts the exchange. The sequence
// is single-use; iterating it again yields a single Permanent error.
func (call *Call) Events() iter.Seq[api.Event] {
	return func(yield func(api.Event) bool) {
		if !call.used.CompareAndSwap(false, true) {
			yield(api.ErrorEvent(&api.Error{
				Kind:     api.ErrorPermanent,
				Provider: call.adapter.Name(),
				Message:  "event sequence already consumed",
			}))
			return
		}
		call.run(yield)
	}
}

// run drives attempts until success, a non-retryable failure, exhaustion
// or consumer stop.
func (call *Call) run(yield func(api.Event) bool) {
	name := call.adapter.Name()
	model := call.req.Model()
	start := call.caller.now()

	ctx, span := observability.Tracer().Start(call.ctx, "provider.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("provider", name),
			attribute.String("model", model),
			attribute.Bool("stream", call.req.Stream()),
		))

	status := "ok"
	var final *api.Error
	defer func() {
		span.SetAttributes(attribute.Int("attempts", call.Attempts()))
		if final != nil {
			status = string(final.Kind)
			observability.EndSpan(span, final)
		} else {
			observability.EndSpan(span, nil)
		}
		observability.ProviderRequestsTotal.WithLabelValues(name, model, status).Inc()
		observability.ProviderLatency.WithLabelValues(name, model).Observe(call.caller.now().Sub(start).Seconds())
	}()

	fail := func(e *api.Error) {
		if e.Provider == "" {
			e.Provider = name
		}
		final = e
		yield(api.ErrorEvent(e))
	}

	payload, err := call.adapter.BuildRequest(call.req)
	if err != nil {
		fail(api.Classify(err))
		return
	}

	rs := NewRetryState(call.opts.retry, call.caller.now)
	for {
		attempt := rs.Begin()
		call.attempts.Store(int32(attempt))
		if attempt > 1 {
			if !yield(api.Event{Type: api.EventRetry, Attempt: attempt}) {
				status = "abandoned"
				return
			}
		}
		span.AddEvent("attempt", trace.WithAttributes(attribute.Int("attempt", attempt)))

		res := call.attempt(ctx, payload, yield)
		switch {
		case res.stopped:
			status = "abandoned"
			return
		case res.err == nil:
			return
		}

		e := res.err
		if e.Provider == "" {
			e.Provider = name
		}
		if e.Kind != api.ErrorTransient {
			fail(e)
			return
		}

		delay, ok := rs.Next(e)
		if !ok {
			slog.Warn("provider retries exhausted",
				"provider", name, "attempts", attempt, "elapsed", rs.Elapsed, "error", e)
			fail(&api.Error{
				Kind:       api.ErrorPermanent,
				Provider:   name,
				Code:       e.Code,
				StatusCode: e.StatusCode,
				Message:    fmt.Sprintf("retries exhausted after %d attempts: %s", attempt, e.Message),
				Cause:      e,
			})
			return
		}

		observability.ProviderRetriesTotal.WithLabelValues(name, retryReason(e)).Inc()
		slog.Warn("retrying provider call",
			"provider", name, "attempt", attempt, "delay", delay, "error", e)

		if err := call.caller.sleep(ctx, delay); err != nil {
			fail(api.NewCanceledError(err))
			return
		}
	}
}

// attemptResult is the outcome of one HTTP exchange. err is nil on
// success; stopped means the consumer ended iteration.
type attemptResult struct {
	err     *api.Error
	stopped bool
}

// attempt runs one exchange. Non-streaming exchanges are bounded by the
// call timeout; expiry is transient so the retry loop tries again.
func (call *Call) attempt(parent context.Context, payload *provider.WirePayload, yield func(api.Event) bool) attemptResult {
	timeout := call.opts.timeout
	if call.req.Stream() || timeout <= 0 {
		return call.exchange(parent, payload, yield)
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	res := call.exchange(ctx, payload, yield)
	if res.err != nil && res.err.Kind == api.ErrorCanceled && parent.Err() == nil {
		res.err = &api.Error{
			Kind:    api.ErrorTransient,
			Code:    "timeout",
			Message: fmt.Sprintf("request timed out after %s", timeout),
			Cause:   ctx.Err(),
		}
	}
	return res
}

func (call *Call) exchange(ctx context.Context, payload *provider.WirePayload, yield func(api.Event) bool) attemptResult {
	name := call.adapter.Name()

	if err := ctx.Err(); err != nil {
		return attemptResult{err: api.NewCanceledError(err)}
	}

	// Acquire only fails when ctx ends or its deadline cannot be met.
	release, err := call.caller.limiter.Acquire(ctx, name)
	if err != nil {
		return attemptResult{err: api.NewCanceledError(err)}
	}
	defer release()

	hreq, err := http.NewRequestWithContext(ctx, payload.Method, payload.URL, bytes.NewReader(payload.Body))
	if err != nil {
		return attemptResult{err: &api.Error{Kind: api.ErrorPermanent, Message: "invalid request: " + err.Error(), Cause: err}}
	}
	hreq.Header = payload.Header.Clone()

	debug.Log("caller", "sending request", "provider", name, "url", payload.URL, "bytes", len(payload.Body))

	resp, err := call.caller.client.Do(hreq)
	if err != nil {
		if ctx.Err() != nil {
			return attemptResult{err: api.NewCanceledError(ctx.Err())}
		}
		return attemptResult{err: &api.Error{Kind: api.ErrorTransient, Message: "request failed: " + err.Error(), Cause: err}}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		e := call.adapter.ClassifyError(resp.StatusCode, body)
		e.StatusCode = resp.StatusCode
		if honorsRetryAfter(resp.StatusCode) {
			e.RetryAfter = parseRetryAfter(resp.Header, call.caller.now())
		}
		debug.Log("caller", "provider returned error status",
			"provider", name, "status", resp.StatusCode, "kind", e.Kind, "retry_after", e.RetryAfter)
		return attemptResult{err: e}
	}

	if call.req.Stream() {
		return call.readStream(ctx, resp.Body, yield)
	}
	return call.readBody(ctx, resp.Body, yield)
}

// readStream decodes the body incrementally, yielding events in arrival order.
func (call *Call) readStream(ctx context.Context, body io.Reader, yield func(api.Event) bool) attemptResult {
	observability.ActiveStreams.Inc()
	defer observability.ActiveStreams.Dec()

	dec := call.adapter.NewDecoder()
	buf := make([]byte, readBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return attemptResult{err: api.NewCanceledError(err)}
		}
		n, rerr := body.Read(buf)
		if err := ctx.Err(); err != nil {
			return attemptResult{err: api.NewCanceledError(err)}
		}
		if n > 0 {
			events, perr := dec.ParseEvent(buf[:n])
			if res, done := call.deliver(ctx, events, yield); done {
				return res
			}
			if perr != nil {
				return attemptResult{err: api.Classify(perr)}
			}
		}
		if rerr == io.EOF {
			events, ferr := dec.Finish()
			if res, done := call.deliver(ctx, events, yield); done {
				return res
			}
			if ferr != nil {
				return attemptResult{err: api.Classify(ferr)}
			}
			return attemptResult{err: api.NewTransientError("stream ended without terminal event")}
		}
		if rerr != nil {
			return attemptResult{err: &api.Error{Kind: api.ErrorTransient, Message: "stream read failed: " + rerr.Error(), Cause: rerr}}
		}
	}
}

// readBody decodes a complete non-streaming body.
func (call *Call) readBody(ctx context.Context, body io.Reader, yield func(api.Event) bool) attemptResult {
	data, err := io.ReadAll(io.LimitReader(body, maxResponseBody))
	if err != nil {
		if ctx.Err() != nil {
			return attemptResult{err: api.NewCanceledError(ctx.Err())}
		}
		return attemptResult{err: &api.Error{Kind: api.ErrorTransient, Message: "response read failed: " + err.Error(), Cause: err}}
	}
	events, err := call.adapter.DecodeResponse(data)
	if err != nil {
		return attemptResult{err: api.Classify(err)}
	}
	if res, done := call.deliver(ctx, events, yield); done {
		return res
	}
	e := api.NewMalformedResponseError("response decoded without terminal event", data)
	return attemptResult{err: e}
}

// deliver yields events until a terminal one. A terminal error is returned
// to the retry loop instead of being yielded. done reports whether the
// attempt is over.
func (call *Call) deliver(ctx context.Context, events []api.Event, yield func(api.Event) bool) (attemptResult, bool) {
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return attemptResult{err: api.NewCanceledError(err)}, true
		}
		if ev.Type == api.EventError {
			e := ev.Err
			if e == nil {
				e = api.NewPermanentError("provider reported an error")
			}
			return attemptResult{err: e}, true
		}
		if ev.Type == api.EventDone {
			call.recordUsage(ev.Usage)
		}
		if !yield(ev) {
			return attemptResult{stopped: true}, true
		}
		if ev.Type == api.EventDone {
			return attemptResult{}, true
		}
	}
	return attemptResult{}, false
}

func (call *Call) recordUsage(u *api.Usage) {
	if u == nil {
		return
	}
	name, model := call.adapter.Name(), call.req.Model()
	observability.ProviderTokensTotal.WithLabelValues(name, model, "input").Add(float64(u.InputTokens))
	observability.ProviderTokensTotal.WithLabelValues(name, model, "output").Add(float64(u.OutputTokens))
}

// retryReason labels the retry metric.
func retryReason(e *api.Error) string {
	switch {
	case e.StatusCode != 0:
		return strconv.Itoa(e.StatusCode)
	case e.Code != "":
		return e.Code
	default:
		return "network"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
