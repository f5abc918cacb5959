package turn

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"go.uber.org/goleak"

	"github.com/loomchat/loom/internal/llm"
	"github.com/loomchat/loom/internal/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClient replays a scripted sequence of step results. When the script
// runs out the last step repeats, which keeps budget-exhaustion tests short.
type fakeClient struct {
	kind     llm.ProviderKind
	model    string
	script   []*llm.StepResult
	err      error
	requests []*llm.GenerateRequest
}

func (f *fakeClient) Provider() llm.ProviderKind { return f.kind }
func (f *fakeClient) Model() string              { return f.model }

func (f *fakeClient) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	idx := len(f.requests) - 1
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	return f.script[idx], nil
}

func echoTool(name string) *tools.Tool {
	return &tools.Tool{
		Name: name,
		Execute: func(_ context.Context, args map[string]any) (map[string]any, error) {
			return map[string]any{"echo": args}, nil
		},
	}
}

func newRegistry(t *testing.T, ts ...*tools.Tool) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	for _, tool := range ts {
		if err := reg.Register(tool); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

func newOrchestrator(t *testing.T, client llm.Client, opts Options) *Orchestrator {
	t.Helper()
	o, err := New(client, slog.New(slog.DiscardHandler), opts)
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func userHistory() []*llm.Message {
	return []*llm.Message{
		llm.NewSystemMessage("be brief"),
		llm.NewUserMessage("hello"),
	}
}

func TestRunTerminalStep(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		kind:   llm.ProviderOpenAI,
		model:  "gpt-4.1",
		script: []*llm.StepResult{{Text: "hi there"}},
	}
	o := newOrchestrator(t, client, Options{})

	var events []Event
	res, err := o.Run(context.Background(), "chat-1", userHistory(), newRegistry(t), 15,
		func(e Event) { events = append(events, e) })
	if err != nil {
		t.Fatal(err)
	}

	if res.FinishReason != FinishStop || res.Text != "hi there" || res.Steps != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(events) != 1 || events[0].Type != EventText || events[0].Text != "hi there" {
		t.Errorf("events = %+v", events)
	}
}

func TestRunToolLoop(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		kind:  llm.ProviderOpenAI,
		model: "gpt-4.1",
		script: []*llm.StepResult{
			{ToolCalls: []llm.ToolCall{{ID: "t1", Name: "lookup", Args: map[string]any{"q": "x"}}}},
			{Text: "found it"},
		},
	}
	o := newOrchestrator(t, client, Options{})

	lookup := &tools.Tool{
		Name: "lookup",
		Execute: func(context.Context, map[string]any) (map[string]any, error) {
			return map[string]any{
				"sources_for_citation": []any{
					map[string]any{"title": "Doc A", "url": "https://x.com/a", "snippet": "..."},
				},
			}, nil
		},
	}

	var events []Event
	res, err := o.Run(context.Background(), "chat-1", userHistory(), newRegistry(t, lookup), 15,
		func(e Event) { events = append(events, e) })
	if err != nil {
		t.Fatal(err)
	}

	if res.FinishReason != FinishStop || res.Text != "found it" || res.Steps != 2 {
		t.Errorf("result = %+v", res)
	}
	if len(res.Sources) != 1 || res.Sources[0].Title != "Doc A" {
		t.Errorf("sources = %+v", res.Sources)
	}

	// Second request must include the assistant tool call and its result.
	if len(client.requests) != 2 {
		t.Fatalf("got %d requests, want 2", len(client.requests))
	}
	second := client.requests[1].Messages
	last := second[len(second)-1]
	if last.Role != llm.RoleTool || len(last.Parts) != 1 || last.Parts[0].ToolResult.ID != "t1" {
		t.Errorf("last message of second request = %+v", last)
	}

	wantTypes := []EventType{EventToolCall, EventToolResult, EventSources, EventText}
	if len(events) != len(wantTypes) {
		t.Fatalf("events = %+v", events)
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("event %d type = %s, want %s", i, events[i].Type, want)
		}
	}
}

func TestRunStepLimit(t *testing.T) {
	t.Parallel()

	// The model requests a tool every step and never produces terminal text.
	client := &fakeClient{
		kind:  llm.ProviderOpenAI,
		model: "gpt-4.1",
		script: []*llm.StepResult{
			{ToolCalls: []llm.ToolCall{{ID: "t1", Name: "lookup"}}},
		},
	}
	o := newOrchestrator(t, client, Options{})

	res, err := o.Run(context.Background(), "chat-1", userHistory(), newRegistry(t, echoTool("lookup")), 2, nil)
	if err != nil {
		t.Fatal(err)
	}

	if res.FinishReason != FinishStepLimit {
		t.Errorf("finish reason = %s, want step-limit", res.FinishReason)
	}
	if res.Text != "" {
		t.Errorf("text = %q, want empty on step limit", res.Text)
	}
	if res.Steps != 2 {
		t.Errorf("steps = %d, want 2", res.Steps)
	}
	if len(client.requests) != 2 {
		t.Errorf("model called %d times, want 2", len(client.requests))
	}
}

func TestRunToolFailureContained(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		kind:  llm.ProviderOpenAI,
		model: "gpt-4.1",
		script: []*llm.StepResult{
			{ToolCalls: []llm.ToolCall{
				{ID: "t1", Name: "flaky"},
				{ID: "t2", Name: "steady"},
			}},
			{Text: "partial answer"},
		},
	}
	o := newOrchestrator(t, client, Options{})

	flaky := &tools.Tool{
		Name: "flaky",
		Execute: func(context.Context, map[string]any) (map[string]any, error) {
			return nil, errors.New("upstream 500")
		},
	}

	var failures []string
	res, err := o.Run(context.Background(), "chat-1", userHistory(),
		newRegistry(t, flaky, echoTool("steady")), 15,
		func(e Event) {
			if e.Type == EventToolResult && e.Failed {
				failures = append(failures, e.ToolName)
			}
		})
	if err != nil {
		t.Fatal(err)
	}
	if res.FinishReason != FinishStop {
		t.Errorf("finish reason = %s, want stop", res.FinishReason)
	}
	if len(failures) != 1 || failures[0] != "flaky" {
		t.Errorf("failed tools = %v, want [flaky]", failures)
	}

	// The model must see a structured failure for t1 and a real result for t2.
	second := client.requests[1].Messages
	toolMsg := second[len(second)-1]
	if toolMsg.Parts[0].ToolResult.Output["success"] != false {
		t.Errorf("failure result = %v", toolMsg.Parts[0].ToolResult.Output)
	}
	if toolMsg.Parts[0].ToolResult.Output["error"] != "upstream 500" {
		t.Errorf("failure error = %v", toolMsg.Parts[0].ToolResult.Output["error"])
	}
	if _, ok := toolMsg.Parts[1].ToolResult.Output["echo"]; !ok {
		t.Errorf("sibling result lost: %v", toolMsg.Parts[1].ToolResult.Output)
	}
}

func TestRunUnknownTool(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		kind:  llm.ProviderOpenAI,
		model: "gpt-4.1",
		script: []*llm.StepResult{
			{ToolCalls: []llm.ToolCall{{ID: "t1", Name: "imaginary"}}},
			{Text: "ok"},
		},
	}
	o := newOrchestrator(t, client, Options{})

	res, err := o.Run(context.Background(), "chat-1", userHistory(), newRegistry(t), 15, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.FinishReason != FinishStop {
		t.Errorf("finish reason = %s, want stop", res.FinishReason)
	}

	second := client.requests[1].Messages
	out := second[len(second)-1].Parts[0].ToolResult.Output
	if out["success"] != false || out["error"] != "tool not available" {
		t.Errorf("unknown tool result = %v", out)
	}
}

func TestRunCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	client := &fakeClient{
		kind:  llm.ProviderOpenAI,
		model: "gpt-4.1",
		script: []*llm.StepResult{
			{ToolCalls: []llm.ToolCall{{ID: "t1", Name: "slow"}}},
		},
	}
	o := newOrchestrator(t, client, Options{})

	slow := &tools.Tool{
		Name: "slow",
		Execute: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	res, err := o.Run(ctx, "chat-1", userHistory(), newRegistry(t, slow), 15, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if res.FinishReason != FinishAborted {
		t.Errorf("finish reason = %s, want aborted", res.FinishReason)
	}
}

func TestRunProviderError(t *testing.T) {
	t.Parallel()

	providerErr := errors.New("rate limited")
	client := &fakeClient{kind: llm.ProviderOpenAI, model: "gpt-4.1", err: providerErr}
	o := newOrchestrator(t, client, Options{})

	res, err := o.Run(context.Background(), "chat-1", userHistory(), newRegistry(t), 15, nil)
	if !errors.Is(err, providerErr) {
		t.Errorf("err = %v, want wrapped provider error", err)
	}
	if res.FinishReason != FinishError {
		t.Errorf("finish reason = %s, want error", res.FinishReason)
	}
}

func TestRunDoesNotMutateHistory(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		kind:   llm.ProviderAnthropic,
		model:  "claude-sonnet-4-5",
		script: []*llm.StepResult{{Text: "done"}},
	}
	o := newOrchestrator(t, client, Options{})

	history := userHistory()
	if _, err := o.Run(context.Background(), "chat-1", history, newRegistry(t), 15, nil); err != nil {
		t.Fatal(err)
	}

	if len(history) != 2 {
		t.Errorf("history length = %d, want 2", len(history))
	}
	for i, m := range history {
		if m.CacheControl != nil {
			t.Errorf("history message %d gained a cache annotation", i)
		}
	}
}

func TestRunAppliesCaching(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		kind:  llm.ProviderAnthropic,
		model: "claude-sonnet-4-5",
		script: []*llm.StepResult{
			{ToolCalls: []llm.ToolCall{{ID: "t1", Name: "lookup"}}},
			{Text: "done"},
		},
	}
	o := newOrchestrator(t, client, Options{})

	history := []*llm.Message{llm.NewSystemMessage("long system prompt")}
	for i := 0; i < 8; i++ {
		history = append(history, llm.NewUserMessage("q"), llm.NewAssistantMessage("a"))
	}

	if _, err := o.Run(context.Background(), "chat-1", history, newRegistry(t, echoTool("lookup")), 15, nil); err != nil {
		t.Fatal(err)
	}

	for step, req := range client.requests {
		if req.Messages[0].CacheControl == nil {
			t.Errorf("step %d: system message missing cache annotation", step+1)
		}
	}
}

func TestRunRejectsBadBudget(t *testing.T) {
	t.Parallel()

	client := &fakeClient{kind: llm.ProviderOpenAI, model: "gpt-4.1", script: []*llm.StepResult{{Text: "x"}}}
	o := newOrchestrator(t, client, Options{})

	if _, err := o.Run(context.Background(), "chat-1", userHistory(), newRegistry(t), 0, nil); !errors.Is(err, ErrStepBudget) {
		t.Errorf("err = %v, want ErrStepBudget", err)
	}
}

func TestRunBoundedParallelism(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		kind:  llm.ProviderOpenAI,
		model: "gpt-4.1",
		script: []*llm.StepResult{
			{ToolCalls: []llm.ToolCall{
				{ID: "t1", Name: "tally"},
				{ID: "t2", Name: "tally"},
				{ID: "t3", Name: "tally"},
			}},
			{Text: "done"},
		},
	}
	o := newOrchestrator(t, client, Options{MaxParallel: 1})

	running := 0
	peak := 0
	tally := &tools.Tool{
		Name: "tally",
		Execute: func(context.Context, map[string]any) (map[string]any, error) {
			// MaxParallel=1 serializes execution, so no locking is needed.
			running++
			if running > peak {
				peak = running
			}
			running--
			return map[string]any{"ok": true}, nil
		},
	}

	if _, err := o.Run(context.Background(), "chat-1", userHistory(), newRegistry(t, tally), 15, nil); err != nil {
		t.Fatal(err)
	}
	if peak != 1 {
		t.Errorf("peak concurrent executions = %d, want 1", peak)
	}
}
