// Package engine implements the assistant orchestrator: a small state
// machine that drives one exchange from a user message to a final
// assistant answer. Each iteration builds a request from the conversation,
// executes it through the caller, folds the events with the assembler and,
// when the model asks for tools, dispatches them to the configured
// executors and feeds the results back.
//
// States and their transitions are defined in pkg/api; every transition is
// validated and reported to the Sink.
package engine
