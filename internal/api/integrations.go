package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/loomchat/loom/internal/store"
)

func (h *manageHandler) listIntegrations(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "MISSING_USER", "user identity required")
		return
	}

	integrations, err := h.store.ListIntegrations(r.Context(), userID)
	if err != nil {
		h.logger.Error("listing integrations failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not list integrations")
		return
	}
	if integrations == nil {
		integrations = []store.Integration{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"integrations": integrations})
}

func (h *manageHandler) upsertIntegration(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "MISSING_USER", "user identity required")
		return
	}
	provider := r.PathValue("provider")

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	if err := h.store.UpsertIntegration(r.Context(), userID, provider, body.Token); err != nil {
		h.logger.Warn("connecting integration failed", "user_id", userID, "provider", provider, "error", err)
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "could not connect integration")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *manageHandler) deleteIntegration(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "MISSING_USER", "user identity required")
		return
	}
	provider := r.PathValue("provider")

	if err := h.store.DeleteIntegration(r.Context(), userID, provider); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "integration not found")
			return
		}
		h.logger.Error("disconnecting integration failed", "user_id", userID, "provider", provider, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not disconnect integration")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
