package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/loomchat/loom/internal/history"
	"github.com/loomchat/loom/internal/llm"
	"github.com/loomchat/loom/internal/sources"
	"github.com/loomchat/loom/internal/turn"
)

// SSE event types for turn streaming.
const (
	eventText       = "text"        // text a step produced
	eventToolCall   = "tool-call"   // a requested tool invocation
	eventToolResult = "tool-result" // a finished tool invocation
	eventSources    = "sources"     // citations discovered in a step
	eventDone       = "done"        // finalization frame
	eventError      = "error"       // terminal error frame
)

// genericTurnError is the only error text end users see for provider or
// internal failures.
const genericTurnError = "Something went wrong while generating the reply. Please try again."

type chatRequest struct {
	ChatID       string        `json:"chatId"`
	Model        string        `json:"model,omitempty"`
	EditTargetID string        `json:"editTargetId,omitempty"`
	Messages     []wireMessage `json:"messages"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type textPayload struct {
	Step int    `json:"step"`
	Text string `json:"text"`
}

type toolCallPayload struct {
	Step     int    `json:"step"`
	ToolName string `json:"toolName"`
}

type toolResultPayload struct {
	Step     int    `json:"step"`
	ToolName string `json:"toolName"`
	Failed   bool   `json:"failed,omitempty"`
}

type sourcesPayload struct {
	Step    int              `json:"step"`
	Sources []sources.Source `json:"sources"`
}

type donePayload struct {
	FinishReason string           `json:"finishReason"`
	Text         string           `json:"text"`
	Sources      []sources.Source `json:"sources"`
	MessageID    string           `json:"messageId,omitempty"`
	Steps        int              `json:"steps"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type chatHandler struct {
	turns  TurnService
	logger *slog.Logger
}

// stream handles POST /api/chat: it runs one turn and streams step frames
// followed by a finalization frame over SSE.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "MISSING_USER", "user identity required")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	params, err := decodeTurnParams(req, userID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "NO_STREAMING", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	onEvent := func(e turn.Event) {
		switch e.Type {
		case turn.EventText:
			_ = writeEvent(w, flusher, eventText, textPayload{Step: e.Step, Text: e.Text})
		case turn.EventToolCall:
			_ = writeEvent(w, flusher, eventToolCall, toolCallPayload{Step: e.Step, ToolName: e.ToolCall.Name})
		case turn.EventToolResult:
			_ = writeEvent(w, flusher, eventToolResult, toolResultPayload{Step: e.Step, ToolName: e.ToolName, Failed: e.Failed})
		case turn.EventSources:
			_ = writeEvent(w, flusher, eventSources, sourcesPayload{Step: e.Step, Sources: e.Sources})
		}
	}

	outcome, err := h.turns.StartTurn(r.Context(), params, onEvent)
	if err != nil {
		h.streamError(w, flusher, params.ChatID, err)
		return
	}
	if outcome.FinishReason == turn.FinishAborted {
		// The client disconnected; nobody is reading the stream.
		return
	}

	srcs := outcome.Sources
	if srcs == nil {
		srcs = []sources.Source{}
	}
	done := donePayload{
		FinishReason: string(outcome.FinishReason),
		Text:         outcome.Text,
		Sources:      srcs,
		Steps:        outcome.Steps,
	}
	if outcome.Persisted {
		done.MessageID = outcome.AssistantMessageID.String()
	}
	_ = writeEvent(w, flusher, eventDone, done)
}

// streamError emits a terminal error frame. Internal detail never reaches
// the client.
func (h *chatHandler) streamError(w io.Writer, flusher http.Flusher, chatID uuid.UUID, err error) {
	code := "TURN_FAILED"
	message := genericTurnError
	if errors.Is(err, history.ErrTurnInFlight) {
		code = "TURN_IN_FLIGHT"
		message = "A reply is already being generated for this chat."
	} else if errors.Is(err, history.ErrInvalidEditTarget) {
		code = "INVALID_EDIT_TARGET"
		message = "That message cannot be edited."
	}

	h.logger.Error("turn failed", "chat_id", chatID, "code", code, "error", err)
	_ = writeEvent(w, flusher, eventError, errorPayload{Code: code, Message: message})
}

func decodeTurnParams(req chatRequest, userID string) (TurnParams, error) {
	chatID, err := uuid.Parse(req.ChatID)
	if err != nil {
		return TurnParams{}, errors.New("chatId must be a UUID")
	}
	if len(req.Messages) == 0 {
		return TurnParams{}, errors.New("messages are required")
	}

	params := TurnParams{ChatID: chatID, UserID: userID, Model: req.Model}

	if req.EditTargetID != "" {
		target, err := uuid.Parse(req.EditTargetID)
		if err != nil {
			return TurnParams{}, errors.New("editTargetId must be a UUID")
		}
		params.EditTargetID = &target
	}

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			params.History = append(params.History, llm.NewSystemMessage(m.Content))
		case "user":
			params.History = append(params.History, llm.NewUserMessage(m.Content))
		case "assistant":
			params.History = append(params.History, llm.NewAssistantMessage(m.Content))
		default:
			return TurnParams{}, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	return params, nil
}

// writeEvent writes a single SSE event with JSON-encoded data.
// SSE format: "event: <type>\ndata: <json>\n\n"
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	flusher.Flush()
	return nil
}
