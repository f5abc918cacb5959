package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Integration is one connected external provider for a user. The token is
// never serialized.
type Integration struct {
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"createdAt"`

	Token string `json:"-"`
}

// UpsertIntegration connects a provider for the user, replacing any token
// already stored for it.
func (s *Store) UpsertIntegration(ctx context.Context, userID, provider, token string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return errors.New("provider is required")
	}
	if strings.TrimSpace(token) == "" {
		return errors.New("token is required")
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO user_integrations (user_id, provider, token)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, provider)
		 DO UPDATE SET token = EXCLUDED.token, updated_at = now()`,
		userID, provider, token)
	if err != nil {
		return fmt.Errorf("upserting integration: %w", err)
	}
	s.logger.Info("integration connected", "user_id", userID, "provider", provider)
	return nil
}

// DeleteIntegration disconnects a provider for the user.
func (s *Store) DeleteIntegration(ctx context.Context, userID, provider string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	tag, err := s.db.Exec(ctx,
		`DELETE FROM user_integrations WHERE user_id = $1 AND provider = $2`,
		userID, provider)
	if err != nil {
		return fmt.Errorf("deleting integration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("integration %s: %w", provider, ErrNotFound)
	}
	return nil
}

// ListIntegrations returns the user's connected providers with their tokens.
func (s *Store) ListIntegrations(ctx context.Context, userID string) ([]Integration, error) {
	rows, err := s.db.Query(ctx,
		`SELECT provider, token, created_at
		 FROM user_integrations WHERE user_id = $1 ORDER BY provider`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("listing integrations: %w", err)
	}
	defer rows.Close()

	var out []Integration
	for rows.Next() {
		var in Integration
		if err := rows.Scan(&in.Provider, &in.Token, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning integration row: %w", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading integration rows: %w", err)
	}
	return out, nil
}
