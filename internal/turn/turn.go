// Package turn drives the model-inference and tool-execution loop for one
// conversation turn.
//
// A turn alternates between asking the model for the next step and running
// whatever tool calls the step requests, until the model answers without
// requesting tools, the step budget runs out, or the caller cancels. Tool
// failures stay inside the loop as structured results fed back to the model;
// provider failures escape.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/loomchat/loom/internal/llm"
	"github.com/loomchat/loom/internal/sources"
	"github.com/loomchat/loom/internal/tools"
)

// FinishReason states how a turn ended.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishStepLimit FinishReason = "step-limit"
	FinishError     FinishReason = "error"
	FinishAborted   FinishReason = "aborted"
)

// StepLimitFallback replaces an empty step-limited reply so the user is not
// left with nothing. Callers persist and display it in place of the answer.
const StepLimitFallback = `I apologize, but I reached my processing limit while trying to answer your question. I performed multiple searches and analyses, but couldn't synthesize a complete response within the allowed steps.

**What happened:**
- I made too many tool calls (searches, data retrieval, etc.) trying to find the perfect answer
- Hit the maximum step limit before completing

**Please try:**
1. **Simplify your question** - Ask about one specific aspect at a time
2. **Be more direct** - Specify exactly what information you need
3. **Break it down** - Split complex questions into smaller parts

I'm here to help - just need a more focused question!`

var ErrStepBudget = errors.New("step budget must be positive")

// EventType discriminates streamed turn events.
type EventType string

const (
	// EventText carries the text a step produced.
	EventText EventType = "text"
	// EventToolCall announces one tool invocation the model requested.
	EventToolCall EventType = "tool-call"
	// EventToolResult reports one finished tool invocation.
	EventToolResult EventType = "tool-result"
	// EventSources carries citations newly discovered in a step.
	EventSources EventType = "sources"
)

// Event is one step-granular frame emitted while a turn runs.
type Event struct {
	Type EventType
	Step int

	Text     string
	ToolCall *llm.ToolCall
	ToolName string
	Failed   bool
	Sources  []sources.Source
}

// EventFunc receives events as the turn progresses. Called from the turn's
// own goroutine, never concurrently.
type EventFunc func(Event)

// Result is the outcome of one finished turn.
type Result struct {
	Text         string
	Sources      []sources.Source
	FinishReason FinishReason
	Steps        int
}

// Options tune orchestrator behavior.
type Options struct {
	// Temperature forwarded to every generation step. Nil uses provider
	// defaults.
	Temperature *float64

	// MaxParallel bounds concurrent tool calls within a step. Zero or
	// negative means unbounded.
	MaxParallel int

	// Limiter paces provider calls across turns. Nil disables pacing.
	Limiter *rate.Limiter
}

// Orchestrator runs turns against one provider client. Safe for concurrent
// use; all per-turn state lives in Run.
type Orchestrator struct {
	client llm.Client
	logger *slog.Logger
	opts   Options
}

// New creates an Orchestrator.
func New(client llm.Client, logger *slog.Logger, opts Options) (*Orchestrator, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		client: client,
		logger: logger.With("component", "turn"),
		opts:   opts,
	}, nil
}

// Run executes one turn over a copy of history. It never mutates history.
// onEvent may be nil. On cancellation the returned result carries
// FinishAborted and the context error; on provider failure FinishError and a
// wrapped error. Step-limit exhaustion is a normal completion with empty
// text.
func (o *Orchestrator) Run(ctx context.Context, chatID string, history []*llm.Message,
	registry *tools.Registry, stepBudget int, onEvent EventFunc) (*Result, error) {

	if stepBudget <= 0 {
		return nil, ErrStepBudget
	}
	if onEvent == nil {
		onEvent = func(Event) {}
	}

	decls, err := registry.Declarations()
	if err != nil {
		return nil, fmt.Errorf("declaring tools: %w", err)
	}

	logger := o.logger.With("chat_id", chatID, "model", o.client.Model())
	msgs := llm.CloneMessages(history)
	agg := sources.NewAggregator()
	var toolsAttempted []string

	for step := 1; step <= stepBudget; step++ {
		if o.opts.Limiter != nil {
			if err := o.opts.Limiter.Wait(ctx); err != nil {
				return o.aborted(logger, step-1), err
			}
		}

		plan := llm.ApplyCaching(o.client.Provider(), o.client.Model(), msgs)
		res, err := o.client.Generate(ctx, &llm.GenerateRequest{
			Messages:     plan.Messages,
			Tools:        decls,
			Temperature:  o.opts.Temperature,
			ExtraOptions: plan.ExtraOptions,
		})
		if err != nil {
			if ctx.Err() != nil {
				return o.aborted(logger, step-1), ctx.Err()
			}
			logger.Error("model step failed",
				"step", step, "tools_attempted", toolsAttempted, "error", err)
			return &Result{FinishReason: FinishError, Steps: step - 1},
				fmt.Errorf("model step %d: %w", step, err)
		}

		if res.Text != "" {
			onEvent(Event{Type: EventText, Step: step, Text: res.Text})
		}
		msgs = append(msgs, assistantStepMessage(res))

		if len(res.ToolCalls) == 0 {
			logger.Info("turn finished", "steps", step, "sources", len(agg.Sources()))
			return &Result{
				Text:         res.Text,
				Sources:      agg.Sources(),
				FinishReason: FinishStop,
				Steps:        step,
			}, nil
		}

		for _, call := range res.ToolCalls {
			toolsAttempted = append(toolsAttempted, call.Name)
		}

		results, err := o.executeCalls(ctx, logger, registry, res.ToolCalls, step, onEvent)
		if err != nil {
			return o.aborted(logger, step), err
		}

		for _, r := range results {
			if added := agg.Ingest(r.Output); len(added) > 0 {
				onEvent(Event{Type: EventSources, Step: step, Sources: added})
			}
		}
		resultPtrs := make([]*llm.ToolResult, len(results))
		for i := range results {
			resultPtrs[i] = &results[i]
		}
		msgs = append(msgs, llm.NewToolResultMessage(resultPtrs...))
	}

	logger.Warn("step budget exhausted", "steps", stepBudget)
	return &Result{
		Sources:      agg.Sources(),
		FinishReason: FinishStepLimit,
		Steps:        stepBudget,
	}, nil
}

func (o *Orchestrator) aborted(logger *slog.Logger, steps int) *Result {
	logger.Info("turn aborted", "steps", steps)
	return &Result{FinishReason: FinishAborted, Steps: steps}
}

// executeCalls fans the step's tool calls out concurrently and collects
// results in call order. Individual failures become structured failure
// results; only cancellation stops the fan-out.
func (o *Orchestrator) executeCalls(ctx context.Context, logger *slog.Logger,
	registry *tools.Registry, calls []llm.ToolCall, step int, onEvent EventFunc) ([]llm.ToolResult, error) {

	for i := range calls {
		onEvent(Event{Type: EventToolCall, Step: step, ToolCall: &calls[i]})
	}

	results := make([]llm.ToolResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	if o.opts.MaxParallel > 0 {
		g.SetLimit(o.opts.MaxParallel)
	}

	for i, call := range calls {
		g.Go(func() error {
			results[i] = llm.ToolResult{ID: call.ID, Name: call.Name, Output: o.runTool(gctx, logger, registry, call, step)}
			return nil
		})
	}
	// Group funcs never error; Wait is the fan-in barrier.
	_ = g.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	for i := range results {
		failed := results[i].Output["success"] == false
		onEvent(Event{Type: EventToolResult, Step: step, ToolName: results[i].Name, Failed: failed})
	}
	return results, nil
}

// runTool resolves and executes one call. Unknown tools and execution
// failures both come back as structured failure objects for the model.
func (o *Orchestrator) runTool(ctx context.Context, logger *slog.Logger,
	registry *tools.Registry, call llm.ToolCall, step int) map[string]any {

	tool, ok := registry.Lookup(call.Name)
	if !ok {
		logger.Warn("unknown tool requested", "tool", call.Name, "step", step)
		return map[string]any{"success": false, "error": "tool not available"}
	}

	out, err := tool.Execute(ctx, call.Args)
	if err != nil {
		logger.Warn("tool failed", "tool", call.Name, "step", step, "error", err)
		return map[string]any{"success": false, "error": err.Error()}
	}
	return out
}

// assistantStepMessage converts one step result into the assistant message
// appended to the in-flight history.
func assistantStepMessage(res *llm.StepResult) *llm.Message {
	msg := &llm.Message{Role: llm.RoleAssistant}
	if res.Text != "" {
		msg.Parts = append(msg.Parts, &llm.Part{Text: res.Text})
	}
	for i := range res.ToolCalls {
		call := res.ToolCalls[i]
		msg.Parts = append(msg.Parts, &llm.Part{ToolCall: &call})
	}
	return msg
}
