// Package api exposes the HTTP surface: turn submission over SSE and chat
// management endpoints. Identity arrives from a trusted frontend proxy; the
// package never issues sessions itself.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/loomchat/loom/internal/history"
	"github.com/loomchat/loom/internal/llm"
	"github.com/loomchat/loom/internal/store"
	"github.com/loomchat/loom/internal/turn"
)

// TurnParams describes one turn submission after request decoding.
type TurnParams struct {
	ChatID       uuid.UUID
	UserID       string
	Model        string
	History      []*llm.Message
	EditTargetID *uuid.UUID
}

// TurnService runs one conversation turn end to end: persistence, tool
// loading, the model loop, and the finished reply.
type TurnService interface {
	StartTurn(ctx context.Context, params TurnParams, onEvent turn.EventFunc) (*history.Outcome, error)
}

// ChatStore is the slice of the persistence layer the read/manage endpoints
// need.
type ChatStore interface {
	ListChats(ctx context.Context, userID string) ([]store.Chat, error)
	GetChat(ctx context.Context, chatID uuid.UUID, userID string) (*store.Chat, error)
	Messages(ctx context.Context, chatID uuid.UUID) ([]store.Message, error)
	RenameChat(ctx context.Context, chatID uuid.UUID, userID, title string) error
	DeleteChat(ctx context.Context, chatID uuid.UUID, userID string) error
	DeleteMessagesAfter(ctx context.Context, chatID, messageID uuid.UUID) (int64, error)

	CreateProject(ctx context.Context, userID string, params store.ProjectParams) (*store.Project, error)
	ListProjects(ctx context.Context, userID string) ([]store.Project, error)
	GetProject(ctx context.Context, projectID uuid.UUID, userID string) (*store.Project, error)
	UpdateProject(ctx context.Context, projectID uuid.UUID, userID string, params store.ProjectParams) error
	DeleteProject(ctx context.Context, projectID uuid.UUID, userID string) error
	AssignChatToProject(ctx context.Context, projectID, chatID uuid.UUID, userID string) error
	RemoveChatFromProject(ctx context.Context, projectID, chatID uuid.UUID, userID string) error
	ProjectChats(ctx context.Context, projectID uuid.UUID, userID string) ([]store.Chat, error)

	ShareChat(ctx context.Context, chatID uuid.UUID, userID string) (string, error)
	UnshareChat(ctx context.Context, chatID uuid.UUID, userID string) error
	SharedChat(ctx context.Context, token string) (*store.Chat, []store.Message, error)

	ListIntegrations(ctx context.Context, userID string) ([]store.Integration, error)
	UpsertIntegration(ctx context.Context, userID, provider, token string) error
	DeleteIntegration(ctx context.Context, userID, provider string) error
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Logger *slog.Logger
	Turns  TurnService
	Store  ChatStore

	// AuthSecret is the shared bearer token expected from the frontend.
	// Empty disables token checking (local development).
	AuthSecret string
}

// Server is the HTTP API server.
type Server struct {
	handler http.Handler
}

// NewServer wires routes and middleware.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Turns == nil {
		return nil, errors.New("turn service is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("chat store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api")

	ch := &chatHandler{turns: cfg.Turns, logger: logger}
	mh := &manageHandler{store: cfg.Store, logger: logger}

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/chat", ch.stream)
	apiMux.HandleFunc("GET /api/chats", mh.listChats)
	apiMux.HandleFunc("GET /api/chats/{chatId}/messages", mh.listMessages)
	apiMux.HandleFunc("DELETE /api/chats/{chatId}/messages", mh.deleteMessagesAfter)
	apiMux.HandleFunc("PATCH /api/chats/{chatId}/title", mh.renameChat)
	apiMux.HandleFunc("DELETE /api/chats/{chatId}", mh.deleteChat)
	apiMux.HandleFunc("POST /api/chats/{chatId}/share", mh.shareChat)
	apiMux.HandleFunc("DELETE /api/chats/{chatId}/share", mh.unshareChat)
	apiMux.HandleFunc("GET /api/shared/{shareToken}", mh.sharedChat)
	apiMux.HandleFunc("GET /api/projects", mh.listProjects)
	apiMux.HandleFunc("POST /api/projects", mh.createProject)
	apiMux.HandleFunc("GET /api/projects/{projectId}", mh.getProject)
	apiMux.HandleFunc("PUT /api/projects/{projectId}", mh.updateProject)
	apiMux.HandleFunc("DELETE /api/projects/{projectId}", mh.deleteProject)
	apiMux.HandleFunc("POST /api/projects/{projectId}/chats", mh.addProjectChat)
	apiMux.HandleFunc("DELETE /api/projects/{projectId}/chats", mh.removeProjectChat)
	apiMux.HandleFunc("GET /api/integrations", mh.listIntegrations)
	apiMux.HandleFunc("PUT /api/integrations/{provider}", mh.upsertIntegration)
	apiMux.HandleFunc("DELETE /api/integrations/{provider}", mh.deleteIntegration)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/api/", authMiddleware(cfg.AuthSecret)(apiMux))

	var handler http.Handler = mux
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	return &Server{handler: handler}, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
