// Package history coordinates one conversation turn end to end: persisting
// the user message, truncating on edits, running the model turn, and
// persisting the finished reply.
//
// An edit moves through Stable, Editing, Truncating, Replaying and back to
// Stable. Truncation always happens before resubmission; the two are not
// transactional, so a failed resubmission leaves the chat correctly
// truncated and retryable.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/loomchat/loom/internal/llm"
	"github.com/loomchat/loom/internal/sources"
	"github.com/loomchat/loom/internal/store"
	"github.com/loomchat/loom/internal/tools"
	"github.com/loomchat/loom/internal/turn"
)

var (
	ErrTurnInFlight      = errors.New("turn already in flight for chat")
	ErrEmptyHistory      = errors.New("history must end with a user message")
	ErrInvalidEditTarget = errors.New("invalid edit target")
)

// Sink is the persistence surface the controller writes through.
type Sink interface {
	UpsertChat(ctx context.Context, chatID uuid.UUID, userID string) error
	SaveUserMessage(ctx context.Context, chatID uuid.UUID, userID, content string, messageID *uuid.UUID) (uuid.UUID, error)
	SaveAssistantMessage(ctx context.Context, chatID uuid.UUID, userID, content string, srcs []sources.Source) (uuid.UUID, error)
	DeleteMessagesAfter(ctx context.Context, chatID, messageID uuid.UUID) (int64, error)
	UpdateChatTitleIfDefault(ctx context.Context, chatID uuid.UUID, userID, firstUserMessage string) error
	GetMessage(ctx context.Context, chatID, messageID uuid.UUID) (*store.Message, error)
}

// Runner executes one model turn.
type Runner interface {
	Run(ctx context.Context, chatID string, history []*llm.Message, registry *tools.Registry,
		stepBudget int, onEvent turn.EventFunc) (*turn.Result, error)
}

// Rememberer records finished exchanges into cross-chat memory,
// asynchronously and best-effort.
type Rememberer interface {
	Remember(userID, chatID, role, content string)
}

// Request describes one turn submission. History is the full model-visible
// conversation and must end with the user message being answered; for an
// edit it is the prefix up to and including the edited message with the new
// content substituted.
type Request struct {
	ChatID       uuid.UUID
	UserID       string
	History      []*llm.Message
	EditTargetID *uuid.UUID

	Registry   *tools.Registry
	Runner     Runner
	StepBudget int
	OnEvent    turn.EventFunc
}

// Outcome reports what a finished submission produced.
type Outcome struct {
	UserMessageID      uuid.UUID
	AssistantMessageID uuid.UUID
	Text               string
	Sources            []sources.Source
	FinishReason       turn.FinishReason
	Steps              int

	// Persisted is false when the reply streamed but its write failed.
	Persisted bool
}

// Controller serializes turns per chat and drives the edit state machine.
// Safe for concurrent use across chats; concurrent submissions on one chat
// are rejected with ErrTurnInFlight.
type Controller struct {
	sink   Sink
	memory Rememberer
	logger *slog.Logger

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
}

// NewController creates a Controller. memory may be nil.
func NewController(sink Sink, memory Rememberer, logger *slog.Logger) (*Controller, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		sink:     sink,
		memory:   memory,
		logger:   logger.With("component", "history"),
		inFlight: make(map[uuid.UUID]struct{}),
	}, nil
}

// Submit runs one turn. Aborted turns return a nil error and persist
// nothing; provider failures return the wrapped error after persisting only
// the user message side.
func (c *Controller) Submit(ctx context.Context, req Request) (*Outcome, error) {
	if err := c.acquire(req.ChatID); err != nil {
		return nil, err
	}
	defer c.release(req.ChatID)

	userText, err := validateHistory(req.History)
	if err != nil {
		return nil, err
	}
	logger := c.logger.With("chat_id", req.ChatID, "user_id", req.UserID)

	if err := c.sink.UpsertChat(ctx, req.ChatID, req.UserID); err != nil {
		return nil, fmt.Errorf("preparing chat: %w", err)
	}

	if req.EditTargetID != nil {
		if err := c.truncateForEdit(ctx, logger, req, *req.EditTargetID); err != nil {
			return nil, err
		}
	}

	userMessageID, err := c.sink.SaveUserMessage(ctx, req.ChatID, req.UserID, userText, req.EditTargetID)
	if err != nil {
		return nil, fmt.Errorf("saving user message: %w", err)
	}

	// Best-effort; a failed title derivation never blocks the turn.
	if err := c.sink.UpdateChatTitleIfDefault(ctx, req.ChatID, req.UserID, userText); err != nil {
		logger.Warn("title derivation failed", "error", err)
	}

	logger.Debug("replaying turn", "editing", req.EditTargetID != nil, "messages", len(req.History))
	result, runErr := req.Runner.Run(ctx, req.ChatID.String(), req.History, req.Registry, req.StepBudget, req.OnEvent)
	if result == nil {
		return nil, fmt.Errorf("running turn: %w", runErr)
	}

	outcome := &Outcome{
		UserMessageID: userMessageID,
		FinishReason:  result.FinishReason,
		Steps:         result.Steps,
	}

	switch result.FinishReason {
	case turn.FinishAborted:
		// The client is gone; partial output is discarded, nothing persists.
		logger.Info("turn aborted, skipping persistence")
		return outcome, nil

	case turn.FinishError:
		return outcome, fmt.Errorf("running turn: %w", runErr)

	case turn.FinishStepLimit:
		outcome.Text = turn.StepLimitFallback
		outcome.Sources = result.Sources

	default:
		outcome.Text = result.Text
		outcome.Sources = result.Sources
	}

	assistantID, err := c.sink.SaveAssistantMessage(ctx, req.ChatID, req.UserID, outcome.Text, outcome.Sources)
	if err != nil {
		// The reply already streamed; losing the write is logged, not fatal.
		logger.Error("assistant message write failed", "error", err)
		return outcome, nil
	}
	outcome.AssistantMessageID = assistantID
	outcome.Persisted = true

	if c.memory != nil && result.FinishReason == turn.FinishStop {
		c.memory.Remember(req.UserID, req.ChatID.String(), "user", userText)
		c.memory.Remember(req.UserID, req.ChatID.String(), "assistant", outcome.Text)
	}

	logger.Info("turn persisted",
		"assistant_message_id", assistantID, "finish_reason", result.FinishReason, "steps", result.Steps)
	return outcome, nil
}

// truncateForEdit validates the edit target and deletes everything persisted
// after it. A target unknown to the database is tolerated: the edited
// message only ever existed client-side, so there is nothing to truncate.
func (c *Controller) truncateForEdit(ctx context.Context, logger *slog.Logger, req Request, target uuid.UUID) error {
	last := req.History[len(req.History)-1]
	for _, p := range last.Parts {
		if !p.IsText() {
			return fmt.Errorf("%w: edited message must be text-only", ErrInvalidEditTarget)
		}
	}

	persisted, err := c.sink.GetMessage(ctx, req.ChatID, target)
	if errors.Is(err, store.ErrNotFound) {
		logger.Debug("edit target not persisted, skipping truncation", "target", target)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolving edit target: %w", err)
	}
	if persisted.Role != "user" {
		return fmt.Errorf("%w: target %s is not a user message", ErrInvalidEditTarget, target)
	}

	deleted, err := c.sink.DeleteMessagesAfter(ctx, req.ChatID, target)
	if err != nil {
		return fmt.Errorf("truncating history: %w", err)
	}
	logger.Info("history truncated for edit", "target", target, "deleted", deleted)
	return nil
}

func validateHistory(history []*llm.Message) (string, error) {
	if len(history) == 0 {
		return "", ErrEmptyHistory
	}
	last := history[len(history)-1]
	if last.Role != llm.RoleUser {
		return "", ErrEmptyHistory
	}
	text := last.Text()
	if text == "" {
		return "", ErrEmptyHistory
	}
	return text, nil
}

func (c *Controller) acquire(chatID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[chatID]; busy {
		return fmt.Errorf("chat %s: %w", chatID, ErrTurnInFlight)
	}
	c.inFlight[chatID] = struct{}{}
	return nil
}

func (c *Controller) release(chatID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, chatID)
}
