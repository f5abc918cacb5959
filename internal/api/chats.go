package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/loomchat/loom/internal/store"
)

type manageHandler struct {
	store  ChatStore
	logger *slog.Logger
}

// chatIDFromPath parses the {chatId} path segment. A false return means a
// response has already been written.
func chatIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	chatID, err := uuid.Parse(r.PathValue("chatId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "chat id must be a UUID")
		return uuid.Nil, false
	}
	return chatID, true
}

func (h *manageHandler) listChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "MISSING_USER", "user identity required")
		return
	}

	chats, err := h.store.ListChats(r.Context(), userID)
	if err != nil {
		h.logger.Error("listing chats failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not list chats")
		return
	}
	if chats == nil {
		chats = []store.Chat{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (h *manageHandler) listMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "MISSING_USER", "user identity required")
		return
	}
	chatID, ok := chatIDFromPath(w, r)
	if !ok {
		return
	}

	// Ownership check before exposing message content.
	if _, err := h.store.GetChat(r.Context(), chatID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "chat not found")
			return
		}
		h.logger.Error("loading chat failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not load chat")
		return
	}

	messages, err := h.store.Messages(r.Context(), chatID)
	if err != nil {
		h.logger.Error("listing messages failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not list messages")
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (h *manageHandler) deleteMessagesAfter(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "MISSING_USER", "user identity required")
		return
	}
	chatID, ok := chatIDFromPath(w, r)
	if !ok {
		return
	}
	afterID, err := uuid.Parse(r.URL.Query().Get("afterMessageId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "afterMessageId must be a UUID")
		return
	}

	if _, err := h.store.GetChat(r.Context(), chatID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "chat not found")
			return
		}
		h.logger.Error("loading chat failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not load chat")
		return
	}

	deleted, err := h.store.DeleteMessagesAfter(r.Context(), chatID, afterID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "message not found")
			return
		}
		h.logger.Error("deleting messages failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not delete messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (h *manageHandler) renameChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "MISSING_USER", "user identity required")
		return
	}
	chatID, ok := chatIDFromPath(w, r)
	if !ok {
		return
	}

	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	if err := h.store.RenameChat(r.Context(), chatID, userID, body.Title); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "chat not found")
			return
		}
		h.logger.Error("renaming chat failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "could not rename chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *manageHandler) deleteChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "MISSING_USER", "user identity required")
		return
	}
	chatID, ok := chatIDFromPath(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteChat(r.Context(), chatID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "chat not found")
			return
		}
		h.logger.Error("deleting chat failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not delete chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
