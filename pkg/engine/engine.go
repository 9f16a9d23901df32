package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/caller"
	"github.com/rhuss/palaver/pkg/debug"
	"github.com/rhuss/palaver/pkg/provider"
	"github.com/rhuss/palaver/pkg/tools"
)

// Streamer produces the event sequence of one provider request.
type Streamer func(ctx context.Context, req *api.Request) iter.Seq[api.Event]

// Engine orchestrates exchanges against one provider. An Engine runs one
// exchange at a time; concurrent Send calls are serialized.
type Engine struct {
	adapter   provider.Adapter
	caller    *caller.Caller
	stream    Streamer
	executors []tools.ToolExecutor
	sink      Sink
	cfg       Config

	mu    sync.Mutex
	conv  *api.Conversation
	state api.State
}

// Option configures an Engine.
type Option func(*Engine)

// WithCaller sets the caller used for provider requests.
func WithCaller(c *caller.Caller) Option {
	return func(e *Engine) { e.caller = c }
}

// WithStreamer replaces provider calls entirely. The adapter is then only
// used for naming.
func WithStreamer(s Streamer) Option {
	return func(e *Engine) { e.stream = s }
}

// WithExecutors sets the tool executors. Without executors the model is
// offered no tools.
func WithExecutors(executors ...tools.ToolExecutor) Option {
	return func(e *Engine) { e.executors = append(e.executors, executors...) }
}

// WithSink sets the observer for events and transitions.
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithConversation resumes a persisted conversation. The engine works on a
// copy.
func WithConversation(conv *api.Conversation) Option {
	return func(e *Engine) { e.conv = conv.Clone() }
}

// New creates an Engine for adapter.
func New(adapter provider.Adapter, cfg Config, opts ...Option) (*Engine, error) {
	if adapter == nil {
		return nil, errors.New("engine: adapter must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		adapter: adapter,
		cfg:     cfg,
		sink:    NopSink{},
		state:   api.StateAwaitingInput,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.conv == nil {
		e.conv = api.NewConversation()
	} else if err := api.ValidateConversation(e.conv); err != nil {
		return nil, fmt.Errorf("engine: resumed conversation: %w", err)
	}
	if e.caller == nil {
		e.caller = caller.New()
	}
	if e.stream == nil {
		e.stream = func(ctx context.Context, req *api.Request) iter.Seq[api.Event] {
			return e.caller.Execute(ctx, req, e.adapter, e.cfg.CallOptions...).Events()
		}
	}
	return e, nil
}

// State returns the current state.
func (e *Engine) State() api.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Conversation returns a deep copy of the conversation.
func (e *Engine) Conversation() *api.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conv.Clone()
}

// transition moves to the next state. Callers hold e.mu.
func (e *Engine) transition(to api.State) error {
	from := e.state
	if err := api.ValidateTransition(from, to); err != nil {
		return err
	}
	e.state = to
	debug.Log("engine", "state", "from", from, "to", to)
	e.sink.OnState(from, to)
	return nil
}
