package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/assembler"
	"github.com/rhuss/palaver/pkg/debug"
	"github.com/rhuss/palaver/pkg/observability"
	"github.com/rhuss/palaver/pkg/tools"
)

// Send appends a user turn and runs the exchange until the model gives a
// final answer (Idle) or the exchange fails (Failed). It returns the last
// assembled message. On failure the message may hold partial output; its
// text is also kept in the conversation, marked partial.
func (e *Engine) Send(ctx context.Context, text string) (*assembler.AssembledMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return nil, api.NewPermanentError("message must not be empty")
	}
	if err := e.conv.Append(api.NewTextTurn(api.RoleUser, text)); err != nil {
		return nil, err
	}

	ctx, span := observability.Tracer().Start(ctx, "engine.exchange",
		trace.WithAttributes(
			attribute.String("provider", e.adapter.Name()),
			attribute.String("conversation.id", e.conv.ID),
		))

	msg, err := e.run(ctx)

	span.SetAttributes(attribute.String("state", string(e.state)))
	observability.EndSpan(span, err)
	observability.ExchangesTotal.WithLabelValues(e.adapter.Name(), string(e.state)).Inc()
	return msg, err
}

func (e *Engine) run(ctx context.Context) (*assembler.AssembledMessage, error) {
	var defs []api.ToolDefinition
	parallel := e.cfg.parallel()

	for turn := 0; ; turn++ {
		if turn >= e.cfg.maxTurns() {
			return nil, e.fail(api.NewPermanentError(fmt.Sprintf("exchange exceeded %d provider turns", e.cfg.maxTurns())))
		}
		if err := e.transition(api.StateRequesting); err != nil {
			return nil, err
		}

		if turn == 0 && len(e.executors) > 0 {
			var err error
			defs, err = tools.Definitions(ctx, e.executors)
			if err != nil {
				return nil, e.fail(api.Classify(err))
			}
			defs = allowedDefinitions(defs, e.cfg.AllowedTools)
		}

		req := api.NewRequest(e.cfg.Model, e.conv, e.requestOptions(defs)...)
		debug.Log("engine", "requesting", "turn", turn+1, "turns_in_conversation", len(req.Turns()), "tools", len(defs))

		msg, err := assembler.Assemble(e.observe(e.stream(ctx, req)), assembler.ObserverFunc(e.sink.OnEvent))
		if err != nil {
			if t, ok := partialTurn(msg, err); ok {
				if appendErr := e.conv.Append(t); appendErr != nil {
					slog.Warn("dropping partial assistant turn", "error", appendErr)
				}
			}
			return msg, e.fail(err)
		}

		if err := e.conv.Append(msg.Turn); err != nil {
			return msg, e.fail(err)
		}

		calls := msg.ToolCalls()
		if len(calls) == 0 {
			return msg, e.transition(api.StateIdle)
		}

		if err := e.transition(api.StateToolDispatch); err != nil {
			return msg, err
		}
		// Every call gets a result, even when dispatch fails, so the
		// conversation stays valid for the next request.
		results, err := e.dispatch(ctx, calls, parallel)
		if aerr := e.conv.Append(resultTurn(results)); aerr != nil {
			return msg, e.fail(errors.Join(err, aerr))
		}
		if err != nil {
			return msg, e.fail(err)
		}
	}
}

// observe moves Requesting to Streaming on the first non-error event.
// Errors before any output fail straight from Requesting.
func (e *Engine) observe(events iter.Seq[api.Event]) iter.Seq[api.Event] {
	return func(yield func(api.Event) bool) {
		for ev := range events {
			if e.state == api.StateRequesting && ev.Type != api.EventError {
				if err := e.transition(api.StateStreaming); err != nil {
					slog.Error("invalid streaming transition", "error", err)
				}
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// fail moves to Failed and returns err.
func (e *Engine) fail(err error) error {
	if terr := e.transition(api.StateFailed); terr != nil {
		return errors.Join(err, terr)
	}
	slog.Debug("exchange failed", "provider", e.adapter.Name(), "error", err)
	return err
}

func (e *Engine) requestOptions(defs []api.ToolDefinition) []api.RequestOption {
	opts := []api.RequestOption{api.WithStream(e.cfg.Stream)}
	if len(defs) > 0 {
		opts = append(opts, api.WithTools(defs...))
	}
	if e.cfg.Temperature != nil {
		opts = append(opts, api.WithTemperature(*e.cfg.Temperature))
	}
	if e.cfg.MaxTokens != nil {
		opts = append(opts, api.WithMaxTokens(*e.cfg.MaxTokens))
	}
	return opts
}

func allowedDefinitions(defs []api.ToolDefinition, allowed []string) []api.ToolDefinition {
	if len(allowed) == 0 {
		return defs
	}
	var out []api.ToolDefinition
	for _, d := range defs {
		if tools.IsAllowed(d.Name, allowed) {
			out = append(out, d)
		}
	}
	return out
}

// dispatch runs calls and returns one result per call in call order. It
// returns an error only when FailOnToolError is set and a tool failed, or
// when the context ends; the results then hold an error result for every
// call that did not complete.
func (e *Engine) dispatch(ctx context.Context, calls []api.ToolCall, parallel bool) ([]api.ToolResult, error) {
	results := make([]api.ToolResult, len(calls))
	done := make([]bool, len(calls))

	if !parallel {
		for i, call := range calls {
			r, err := e.executeOne(ctx, call)
			if err != nil {
				abandon(results, done, calls, err)
				return results, err
			}
			results[i], done[i] = r, true
			e.sink.OnToolResult(call, r)
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if e.cfg.MaxParallelTools > 0 {
		g.SetLimit(e.cfg.MaxParallelTools)
	}
	var mu sync.Mutex
	for i, call := range calls {
		g.Go(func() error {
			r, err := e.executeOne(gctx, call)
			if err != nil {
				return err
			}
			mu.Lock()
			results[i], done[i] = r, true
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		abandon(results, done, calls, err)
		return results, err
	}
	for i, call := range calls {
		e.sink.OnToolResult(call, results[i])
	}
	return results, nil
}

// abandon fills the results of calls that did not complete.
func abandon(results []api.ToolResult, done []bool, calls []api.ToolCall, cause error) {
	for i, ok := range done {
		if !ok {
			results[i] = *tools.ErrorResult(calls[i].ID, "tool call was not completed: %v", cause)
		}
	}
}

// executeOne runs a single call. Calls that cannot run produce error
// results for the model; the returned error is reserved for conditions
// that end the exchange.
func (e *Engine) executeOne(ctx context.Context, call api.ToolCall) (api.ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return api.ToolResult{}, api.NewCanceledError(err)
	}

	if call.Err != nil {
		observability.ToolExecutionsTotal.WithLabelValues(toolLabel(call.Name), "malformed").Inc()
		slog.Warn("not executing malformed tool call", "tool", call.Name, "call_id", call.ID, "error", call.Err)
		return *tools.ErrorResult(call.ID, "tool call was not executed: %s", call.Err.Message), nil
	}
	if !tools.IsAllowed(call.Name, e.cfg.AllowedTools) {
		observability.ToolExecutionsTotal.WithLabelValues(call.Name, "rejected").Inc()
		return *tools.ErrorResult(call.ID, "tool %s is not in the allowed tools list", call.Name), nil
	}
	exec, ok := tools.Find(e.executors, call.Name)
	if !ok {
		observability.ToolExecutionsTotal.WithLabelValues(call.Name, "unknown").Inc()
		return *tools.ErrorResult(call.ID, "unknown tool %q", call.Name), nil
	}

	ctx, span := observability.Tracer().Start(ctx, "tool.execute",
		trace.WithAttributes(
			attribute.String("tool.name", call.Name),
			attribute.String("tool.call_id", call.ID),
			attribute.String("tool.kind", exec.Kind().String()),
		))
	result, err := exec.Execute(ctx, call)
	observability.EndSpan(span, err)
	observability.ToolExecutionsTotal.WithLabelValues(call.Name, tools.Status(result, err)).Inc()

	switch {
	case err != nil && ctx.Err() != nil:
		return api.ToolResult{}, api.NewCanceledError(ctx.Err())
	case err != nil:
		slog.Warn("tool execution error", "tool", call.Name, "call_id", call.ID, "error", err)
		if e.cfg.FailOnToolError {
			return api.ToolResult{}, &api.Error{
				Kind:    api.ErrorPermanent,
				Param:   call.ID,
				Message: fmt.Sprintf("tool %s failed: %v", call.Name, err),
				Cause:   err,
			}
		}
		return *tools.ErrorResult(call.ID, "%v", err), nil
	case result == nil:
		return *tools.ErrorResult(call.ID, "tool %s returned no result", call.Name), nil
	case result.IsError && e.cfg.FailOnToolError:
		return api.ToolResult{}, &api.Error{
			Kind:    api.ErrorPermanent,
			Param:   call.ID,
			Message: fmt.Sprintf("tool %s reported an error: %s", call.Name, debug.Truncate(result.Output, 200)),
		}
	}

	r := *result
	r.CallID = call.ID
	return r, nil
}

// toolLabel keeps metric cardinality bounded for nameless malformed calls.
func toolLabel(name string) string {
	if name == "" {
		return "unknown"
	}
	return name
}
