// Package llm defines the provider-agnostic model data types and the Client
// interface the turn orchestrator drives. Provider specifics (wire formats,
// auth, caching quirks) live behind Client implementations and the pure
// ApplyCaching transform; nothing above this package knows which provider is
// in use beyond its ProviderKind.
package llm

import (
	"context"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// CacheControl marks a message as a prompt-cache breakpoint for providers
// with explicit breakpoint support. Other providers ignore it.
type CacheControl struct {
	Type string `json:"type"` // currently always "ephemeral"
}

// ToolCall is a model request to execute one tool.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResult carries a tool's output (or structured failure) back to the model.
type ToolResult struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Output map[string]any `json:"output,omitempty"`
}

// Part is one content element of a message. Exactly one field group is set.
type Part struct {
	Text string `json:"text,omitempty"`

	// File parts reference external content by URI.
	FileURI     string `json:"fileUri,omitempty"`
	ContentType string `json:"contentType,omitempty"`

	ToolCall   *ToolCall   `json:"toolCall,omitempty"`
	ToolResult *ToolResult `json:"toolResult,omitempty"`
}

// IsText reports whether the part carries plain text content.
func (p *Part) IsText() bool {
	return p != nil && p.ToolCall == nil && p.ToolResult == nil && p.FileURI == ""
}

// Message is one entry of the conversation sent to a model provider.
//
// Invariant: a system message, when present, is always first in a message
// list. Ownership: messages are owned by the turn while in flight; the
// persistence layer stores its own finalized copy.
type Message struct {
	Role         Role          `json:"role"`
	Parts        []*Part       `json:"parts"`
	CacheControl *CacheControl `json:"cacheControl,omitempty"`
}

// Text concatenates all text parts of the message.
func (m *Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// ToolCalls returns all tool-call parts, in order.
func (m *Message) ToolCalls() []*ToolCall {
	var calls []*ToolCall
	for _, p := range m.Parts {
		if p.ToolCall != nil {
			calls = append(calls, p.ToolCall)
		}
	}
	return calls
}

// NewSystemMessage builds a system message from text.
func NewSystemMessage(text string) *Message {
	return &Message{Role: RoleSystem, Parts: []*Part{{Text: text}}}
}

// NewUserMessage builds a user message from text.
func NewUserMessage(text string) *Message {
	return &Message{Role: RoleUser, Parts: []*Part{{Text: text}}}
}

// NewAssistantMessage builds an assistant message from text.
func NewAssistantMessage(text string) *Message {
	return &Message{Role: RoleAssistant, Parts: []*Part{{Text: text}}}
}

// NewToolResultMessage wraps tool results in a tool-role message.
func NewToolResultMessage(results ...*ToolResult) *Message {
	parts := make([]*Part, len(results))
	for i, r := range results {
		parts[i] = &Part{ToolResult: r}
	}
	return &Message{Role: RoleTool, Parts: parts}
}

// CloneMessages deep-copies a message list. The orchestrator and the cache
// transform both work on copies so a caller's history is never mutated.
func CloneMessages(msgs []*Message) []*Message {
	if msgs == nil {
		return nil
	}
	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		out[i] = CloneMessage(m)
	}
	return out
}

// CloneMessage deep-copies a single message. Tool call args and results are
// copied by reference; they are treated as immutable once created.
func CloneMessage(m *Message) *Message {
	if m == nil {
		return nil
	}
	cp := &Message{Role: m.Role}
	if m.CacheControl != nil {
		cc := *m.CacheControl
		cp.CacheControl = &cc
	}
	cp.Parts = make([]*Part, len(m.Parts))
	for i, p := range m.Parts {
		pc := *p
		cp.Parts[i] = &pc
	}
	return cp
}

// ToolDecl declares a tool to the model provider.
type ToolDecl struct {
	Name        string
	Description string
	InputSchema map[string]any // JSON-schema object
}

// GenerateRequest is one model round-trip (a single step of a turn).
type GenerateRequest struct {
	Messages    []*Message
	Tools       []ToolDecl
	Temperature *float64

	// ExtraOptions holds provider-specific request fields produced by
	// ApplyCaching (e.g. prompt retention windows). Keys are provider wire
	// names; clients that do not understand a key ignore the whole map.
	ExtraOptions map[string]any
}

// StepResult is what the model produced in one step: optional text plus zero
// or more tool-call requests. A result with no tool calls is terminal.
type StepResult struct {
	Text      string
	ToolCalls []ToolCall

	// FinishReason is the provider-reported reason, informational only.
	// Step exhaustion is tracked by the orchestrator's own counter, never
	// inferred from this field or from empty text.
	FinishReason string
}

// Client is a model provider connection. Implementations are safe for
// concurrent use and hold no per-turn state; conversation-scoped concerns
// (like Grok's cache header) are fixed at construction.
type Client interface {
	// Provider identifies the provider family for cache-strategy dispatch.
	Provider() ProviderKind

	// Model returns the provider-qualified model identifier.
	Model() string

	// Generate performs one inference round-trip. It must not retry; a
	// transport or provider error terminates the turn at the caller.
	Generate(ctx context.Context, req *GenerateRequest) (*StepResult, error)
}
