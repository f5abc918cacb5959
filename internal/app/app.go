// Package app assembles the service: configuration, database pool, stores,
// the turn controller, and the per-request model client.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/loomchat/loom/internal/api"
	"github.com/loomchat/loom/internal/config"
	"github.com/loomchat/loom/internal/history"
	"github.com/loomchat/loom/internal/llm"
	"github.com/loomchat/loom/internal/memory"
	"github.com/loomchat/loom/internal/store"
	"github.com/loomchat/loom/internal/tools"
	"github.com/loomchat/loom/internal/turn"
)

// App holds the wired service components.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	pool       *pgxpool.Pool
	store      *store.Store
	memory     *memory.Store
	controller *history.Controller
	limiter    *rate.Limiter
}

// Setup connects the database and builds every component the HTTP layer
// depends on. Call Close when done.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	st, err := store.NewStore(pool, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating store: %w", err)
	}
	mem, err := memory.NewStore(pool, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating memory store: %w", err)
	}
	controller, err := history.NewController(st, mem, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating controller: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.ProviderRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ProviderRPS), 1)
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		store:      st,
		memory:     mem,
		controller: controller,
		limiter:    limiter,
	}, nil
}

// Store exposes the persistence layer for the management endpoints.
func (a *App) Store() *store.Store {
	return a.store
}

// StartTurn implements api.TurnService. Each turn gets its own model client
// so per-chat requests can pin a different model.
func (a *App) StartTurn(ctx context.Context, params api.TurnParams, onEvent turn.EventFunc) (*history.Outcome, error) {
	model := params.Model
	if model == "" {
		model = a.cfg.ModelName
	}

	client, err := llm.NewClient(ctx, llm.ClientConfig{
		Model:           model,
		ConversationID:  params.ChatID.String(),
		OpenAIAPIKey:    a.cfg.OpenAIAPIKey,
		AnthropicAPIKey: a.cfg.AnthropicAPIKey,
		GeminiAPIKey:    a.cfg.GeminiAPIKey,
		DeepSeekAPIKey:  a.cfg.DeepSeekAPIKey,
		XAIAPIKey:       a.cfg.XAIAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}

	integrations, err := a.integrationsFor(ctx, params.UserID)
	if err != nil {
		a.logger.Warn("loading integrations failed, continuing without",
			"user_id", params.UserID, "error", err)
	}

	editing := params.EditTargetID != nil
	registry, err := tools.Load(
		tools.Context{UserID: params.UserID, ChatID: params.ChatID.String()},
		tools.Config{
			SerpAPIKey:      a.cfg.SerpAPIKey,
			ScraperMaxBytes: a.cfg.ScraperMaxBytes,
			ScraperMaxChars: a.cfg.ScraperMaxChars,
			HTTPTimeout:     time.Duration(a.cfg.ToolHTTPTimeoutMS) * time.Millisecond,
		},
		tools.Deps{Memory: a.memory, Integrations: integrations, Logger: a.logger},
		editing,
	)
	if err != nil {
		return nil, fmt.Errorf("loading tools: %w", err)
	}

	temperature := a.cfg.Temperature
	runner, err := turn.New(client, a.logger, turn.Options{
		Temperature: &temperature,
		MaxParallel: a.cfg.ToolMaxParallel,
		Limiter:     a.limiter,
	})
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}

	return a.controller.Submit(ctx, history.Request{
		ChatID:       params.ChatID,
		UserID:       params.UserID,
		History:      params.History,
		EditTargetID: params.EditTargetID,
		Registry:     registry,
		Runner:       runner,
		StepBudget:   a.cfg.StepBudget,
		OnEvent:      onEvent,
	})
}

// integrationsFor maps the user's connected providers to tool credentials.
func (a *App) integrationsFor(ctx context.Context, userID string) ([]tools.Integration, error) {
	stored, err := a.store.ListIntegrations(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]tools.Integration, 0, len(stored))
	for _, in := range stored {
		out = append(out, tools.Integration{Provider: in.Provider, Token: in.Token})
	}
	return out, nil
}

// Close waits for in-flight memory writes and releases the pool.
func (a *App) Close() {
	a.memory.Close()
	a.pool.Close()
}
