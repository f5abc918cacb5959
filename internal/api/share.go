package api

import (
	"errors"
	"net/http"

	"github.com/loomchat/loom/internal/store"
)

func (h *manageHandler) shareChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "MISSING_USER", "user identity required")
		return
	}
	chatID, ok := chatIDFromPath(w, r)
	if !ok {
		return
	}

	token, err := h.store.ShareChat(r.Context(), chatID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "chat not found")
			return
		}
		h.logger.Error("sharing chat failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not share chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shareToken": token, "isShared": true})
}

func (h *manageHandler) unshareChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "MISSING_USER", "user identity required")
		return
	}
	chatID, ok := chatIDFromPath(w, r)
	if !ok {
		return
	}

	if err := h.store.UnshareChat(r.Context(), chatID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "chat is not shared")
			return
		}
		h.logger.Error("revoking share failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not revoke share")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"isShared": false})
}

// sharedChat reads a chat through its share token. The caller still needs an
// authenticated identity; the token grants read access to someone else's chat,
// not anonymous access.
func (h *manageHandler) sharedChat(w http.ResponseWriter, r *http.Request) {
	if _, ok := userIDFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "MISSING_USER", "user identity required")
		return
	}
	token := r.PathValue("shareToken")
	if token == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "share token is required")
		return
	}

	chat, messages, err := h.store.SharedChat(r.Context(), token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "shared chat not found")
			return
		}
		h.logger.Error("resolving share token failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not load shared chat")
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat": chat, "messages": messages})
}
