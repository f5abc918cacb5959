package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/loomchat/loom/internal/store"
)

// projectBody mirrors the writable project fields on the wire.
type projectBody struct {
	Name           string `json:"name"`
	Category       string `json:"category"`
	CustomCategory string `json:"customCategory"`
	Description    string `json:"description"`
}

func (b projectBody) params() store.ProjectParams {
	return store.ProjectParams{
		Name:           b.Name,
		Category:       b.Category,
		CustomCategory: b.CustomCategory,
		Description:    b.Description,
	}
}

// projectIDFromPath parses the {projectId} path segment. A false return means
// a response has already been written.
func projectIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	projectID, err := uuid.Parse(r.PathValue("projectId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "project id must be a UUID")
		return uuid.Nil, false
	}
	return projectID, true
}

func (h *manageHandler) listProjects(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "MISSING_USER", "user identity required")
		return
	}

	projects, err := h.store.ListProjects(r.Context(), userID)
	if err != nil {
		h.logger.Error("listing projects failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not list projects")
		return
	}
	if projects == nil {
		projects = []store.Project{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (h *manageHandler) createProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "MISSING_USER", "user identity required")
		return
	}

	var body projectBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	project, err := h.store.CreateProject(r.Context(), userID, body.params())
	if err != nil {
		if errors.Is(err, store.ErrInvalidProject) {
			writeError(w, http.StatusBadRequest, "INVALID_PROJECT", err.Error())
			return
		}
		h.logger.Error("creating project failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not create project")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"project": project})
}

func (h *manageHandler) getProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "MISSING_USER", "user identity required")
		return
	}
	projectID, ok := projectIDFromPath(w, r)
	if !ok {
		return
	}

	project, err := h.store.GetProject(r.Context(), projectID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "project not found")
			return
		}
		h.logger.Error("loading project failed", "project_id", projectID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not load project")
		return
	}

	chats, err := h.store.ProjectChats(r.Context(), projectID, userID)
	if err != nil {
		h.logger.Error("listing project chats failed", "project_id", projectID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not list project chats")
		return
	}
	if chats == nil {
		chats = []store.Chat{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": project, "chats": chats})
}

func (h *manageHandler) updateProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "MISSING_USER", "user identity required")
		return
	}
	projectID, ok := projectIDFromPath(w, r)
	if !ok {
		return
	}

	var body projectBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	if err := h.store.UpdateProject(r.Context(), projectID, userID, body.params()); err != nil {
		switch {
		case errors.Is(err, store.ErrInvalidProject):
			writeError(w, http.StatusBadRequest, "INVALID_PROJECT", err.Error())
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "project not found")
		default:
			h.logger.Error("updating project failed", "project_id", projectID, "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "could not update project")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *manageHandler) deleteProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "MISSING_USER", "user identity required")
		return
	}
	projectID, ok := projectIDFromPath(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteProject(r.Context(), projectID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "project not found")
			return
		}
		h.logger.Error("deleting project failed", "project_id", projectID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not delete project")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *manageHandler) addProjectChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "MISSING_USER", "user identity required")
		return
	}
	projectID, ok := projectIDFromPath(w, r)
	if !ok {
		return
	}

	var body struct {
		ChatID string `json:"chatId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	chatID, err := uuid.Parse(body.ChatID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "chatId must be a UUID")
		return
	}

	if err := h.store.AssignChatToProject(r.Context(), projectID, chatID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "chat or project not found")
			return
		}
		h.logger.Error("assigning chat failed", "project_id", projectID, "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not assign chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *manageHandler) removeProjectChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "MISSING_USER", "user identity required")
		return
	}
	projectID, ok := projectIDFromPath(w, r)
	if !ok {
		return
	}
	chatID, err := uuid.Parse(r.URL.Query().Get("chatId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "chatId must be a UUID")
		return
	}

	if err := h.store.RemoveChatFromProject(r.Context(), projectID, chatID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "chat not in project")
			return
		}
		h.logger.Error("removing chat failed", "project_id", projectID, "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not remove chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
