package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// sharedMessageLimit bounds how much history a share link exposes.
const sharedMessageLimit = 100

// newShareToken returns a 64-character hex token.
func newShareToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating share token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// ShareChat marks the chat shared and returns its share token. Sharing an
// already-shared chat returns the existing token unchanged.
func (s *Store) ShareChat(ctx context.Context, chatID uuid.UUID, userID string) (string, error) {
	var existing *string
	err := s.db.QueryRow(ctx,
		`SELECT share_token FROM chats WHERE id = $1 AND user_id = $2`,
		chatID, userID).Scan(&existing)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("fetching share state: %w", err)
	}
	if existing != nil && *existing != "" {
		return *existing, nil
	}

	token, err := newShareToken()
	if err != nil {
		return "", err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE chats SET share_token = $1, shared_at = now()
		 WHERE id = $2 AND user_id = $3`,
		token, chatID, userID)
	if err != nil {
		return "", fmt.Errorf("sharing chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}

	s.logger.Info("chat shared", "chat_id", chatID, "user_id", userID)
	return token, nil
}

// UnshareChat revokes the chat's share link. Revoking an unshared chat
// reports ErrNotFound.
func (s *Store) UnshareChat(ctx context.Context, chatID uuid.UUID, userID string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE chats SET share_token = NULL, shared_at = NULL
		 WHERE id = $1 AND user_id = $2 AND share_token IS NOT NULL`,
		chatID, userID)
	if err != nil {
		return fmt.Errorf("unsharing chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chat %s share: %w", chatID, ErrNotFound)
	}
	s.logger.Info("chat share revoked", "chat_id", chatID, "user_id", userID)
	return nil
}

// SharedChat resolves a share token to the chat and its recent messages.
// Revoked or unknown tokens report ErrNotFound.
func (s *Store) SharedChat(ctx context.Context, token string) (*Chat, []Message, error) {
	var c Chat
	err := s.db.QueryRow(ctx,
		`SELECT `+chatCols+`
		 FROM chats WHERE share_token = $1`,
		token).Scan(&c.ID, &c.UserID, &c.Title, &c.ProjectID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, fmt.Errorf("share token: %w", ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("resolving share token: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+messageCols+`
		 FROM messages WHERE chat_id = $1 ORDER BY created_at ASC LIMIT $2`,
		c.ID, sharedMessageLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("listing shared messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, nil, err
	}
	return &c, msgs, nil
}
