package engine

import (
	"fmt"

	"github.com/rhuss/palaver/pkg/caller"
)

// Tool dispatch modes.
const (
	DispatchSequential = "sequential"
	DispatchParallel   = "parallel"
)

// DefaultMaxTurns bounds the request/tool loop of one exchange.
const DefaultMaxTurns = 10

// Config holds orchestrator settings.
type Config struct {
	// Model is sent with every request. Empty defers to the provider's
	// default model.
	Model string

	// Stream requests incremental delivery.
	Stream bool

	// Temperature and MaxTokens are passed through when set.
	Temperature *float64
	MaxTokens   *int

	// MaxTurns caps provider requests per exchange. Zero means
	// DefaultMaxTurns.
	MaxTurns int

	// ToolDispatch is DispatchSequential (default) or DispatchParallel.
	ToolDispatch string

	// MaxParallelTools bounds concurrent tool executions in parallel mode.
	// Zero or negative means unbounded.
	MaxParallelTools int

	// FailOnToolError ends the exchange in Failed when a tool cannot run
	// or reports an error, instead of feeding the error back to the model.
	FailOnToolError bool

	// AllowedTools restricts which tools may run. Empty allows all.
	AllowedTools []string

	// CallOptions are applied to every provider call.
	CallOptions []caller.CallOption
}

func (c Config) maxTurns() int {
	if c.MaxTurns <= 0 {
		return DefaultMaxTurns
	}
	return c.MaxTurns
}

func (c Config) parallel() bool {
	return c.ToolDispatch == DispatchParallel
}

// Validate checks the dispatch settings.
func (c Config) Validate() error {
	switch c.ToolDispatch {
	case "", DispatchSequential, DispatchParallel:
	default:
		return fmt.Errorf("engine: unknown tool_dispatch %q (want %s or %s)", c.ToolDispatch, DispatchSequential, DispatchParallel)
	}
	if c.MaxTurns < 0 {
		return fmt.Errorf("engine: max_turns must not be negative")
	}
	return nil
}
