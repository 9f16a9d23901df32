package api

import "fmt"

// State is an orchestrator state.
type State string

const (
	StateAwaitingInput State = "awaiting_input"
	StateRequesting    State = "requesting"
	StateStreaming     State = "streaming"
	StateToolDispatch  State = "tool_dispatch"
	StateIdle          State = "idle"
	StateFailed        State = "failed"
)

var transitions = map[State][]State{
	StateAwaitingInput: {StateRequesting},
	StateRequesting:    {StateStreaming, StateFailed},
	StateStreaming:     {StateToolDispatch, StateIdle, StateFailed},
	StateToolDispatch:  {StateRequesting, StateFailed},
	// Idle and Failed accept new input.
	StateIdle:   {StateRequesting},
	StateFailed: {StateRequesting},
}

// ValidateTransition checks whether an orchestrator state transition is valid.
func ValidateTransition(from, to State) error {
	for _, s := range transitions[from] {
		if s == to {
			return nil
		}
	}
	return &Error{
		Kind:    ErrorPermanent,
		Param:   "state",
		Message: fmt.Sprintf("invalid transition from %s to %s", from, to),
	}
}

// IsTerminal reports whether s ends an exchange.
func (s State) IsTerminal() bool {
	return s == StateIdle || s == StateFailed
}
