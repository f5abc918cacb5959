// Package store persists chats and messages in PostgreSQL. It is the only
// writer of conversation records; turn results reach the database through it
// exclusively.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/loomchat/loom/internal/sources"
)

var (
	ErrNotFound = errors.New("not found")
)

// DefaultChatTitle is the placeholder a chat carries until its first user
// message produces a real title.
const DefaultChatTitle = "New Chat"

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Chat is one conversation record.
type Chat struct {
	ID        uuid.UUID  `json:"id"`
	UserID    string     `json:"userId"`
	Title     string     `json:"title"`
	ProjectID *uuid.UUID `json:"projectId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Message is one persisted conversation message.
type Message struct {
	ID        uuid.UUID        `json:"id"`
	ChatID    uuid.UUID        `json:"chatId"`
	UserID    string           `json:"userId"`
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Sources   []sources.Source `json:"sources,omitempty"`
	Edited    bool             `json:"edited,omitempty"`
	EditedAt  *time.Time       `json:"editedAt,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// persistedSource is the stored JSON shape of one citation.
type persistedSource struct {
	DocumentName string `json:"document_name,omitempty"`
	DocumentURL  string `json:"document_url,omitempty"`
	TextSnippet  string `json:"text_snippet,omitempty"`
}

const (
	messageCols = `id, chat_id, user_id, role, content, sources, edited, edited_at, created_at`
	chatCols    = `id, user_id, title, project_id, created_at, updated_at`
)

// Store provides chat and message persistence. Safe for concurrent use.
type Store struct {
	db     querier
	logger *slog.Logger
}

// NewStore creates a Store.
func NewStore(db querier, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger.With("component", "store")}, nil
}

// UpsertChat ensures a chat row exists. Existing rows keep their title and
// timestamps.
func (s *Store) UpsertChat(ctx context.Context, chatID uuid.UUID, userID string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO chats (id, user_id, title)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		chatID, userID, DefaultChatTitle)
	if err != nil {
		return fmt.Errorf("upserting chat: %w", err)
	}
	return nil
}

// SaveUserMessage stores one user message. When messageID is non-nil the
// identified message is rewritten in place and marked edited; if that exact
// row is gone the chat's most recent user message is rewritten instead, and
// only when neither exists is a new row inserted. The id of the written
// message is returned.
func (s *Store) SaveUserMessage(ctx context.Context, chatID uuid.UUID, userID, content string, messageID *uuid.UUID) (uuid.UUID, error) {
	if messageID != nil {
		tag, err := s.db.Exec(ctx,
			`UPDATE messages SET content = $1, edited = true, edited_at = now()
			 WHERE id = $2 AND chat_id = $3 AND role = 'user'`,
			content, *messageID, chatID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("updating user message: %w", err)
		}
		if tag.RowsAffected() > 0 {
			s.logger.Debug("user message edited in place", "chat_id", chatID, "message_id", *messageID)
			return *messageID, nil
		}

		// The client-side id may never have reached the database; fall back
		// to the latest persisted user message in the chat.
		var fallbackID uuid.UUID
		err = s.db.QueryRow(ctx,
			`UPDATE messages SET content = $1, edited = true, edited_at = now()
			 WHERE id = (SELECT id FROM messages
			             WHERE chat_id = $2 AND role = 'user'
			             ORDER BY created_at DESC LIMIT 1)
			 RETURNING id`,
			content, chatID).Scan(&fallbackID)
		if err == nil {
			s.logger.Debug("user message edited via latest fallback", "chat_id", chatID, "message_id", fallbackID)
			return fallbackID, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("updating latest user message: %w", err)
		}
	}

	id := uuid.New()
	_, err := s.db.Exec(ctx,
		`INSERT INTO messages (id, chat_id, user_id, role, content)
		 VALUES ($1, $2, $3, 'user', $4)`,
		id, chatID, userID, content)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting user message: %w", err)
	}
	return id, nil
}

// SaveAssistantMessage stores one assistant message with its citations and
// bumps the chat's updated_at. The new message id is returned; it is always
// freshly generated, never reused from a prior assistant reply.
func (s *Store) SaveAssistantMessage(ctx context.Context, chatID uuid.UUID, userID, content string, srcs []sources.Source) (uuid.UUID, error) {
	stored := make([]persistedSource, 0, len(srcs))
	for _, src := range srcs {
		p := persistedSource{
			DocumentName: strings.TrimSpace(src.Title),
			DocumentURL:  strings.TrimSpace(src.URL),
			TextSnippet:  strings.TrimSpace(src.Snippet),
		}
		if p.DocumentName == "" && p.DocumentURL == "" && p.TextSnippet == "" {
			continue
		}
		stored = append(stored, p)
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encoding sources: %w", err)
	}

	id := uuid.New()
	_, err = s.db.Exec(ctx,
		`INSERT INTO messages (id, chat_id, user_id, role, content, sources)
		 VALUES ($1, $2, $3, 'assistant', $4, $5)`,
		id, chatID, userID, content, raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting assistant message: %w", err)
	}

	if _, err := s.db.Exec(ctx,
		`UPDATE chats SET updated_at = now() WHERE id = $1`, chatID); err != nil {
		return uuid.Nil, fmt.Errorf("touching chat: %w", err)
	}
	return id, nil
}

// DeleteMessagesAfter removes every message in the chat persisted after the
// given one, which itself is kept. Repeating the call is a no-op. Returns the
// number of deleted rows, or ErrNotFound when the anchor message is missing.
func (s *Store) DeleteMessagesAfter(ctx context.Context, chatID, messageID uuid.UUID) (int64, error) {
	var anchor time.Time
	err := s.db.QueryRow(ctx,
		`SELECT created_at FROM messages WHERE id = $1 AND chat_id = $2`,
		messageID, chatID).Scan(&anchor)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("finding anchor message: %w", err)
	}

	tag, err := s.db.Exec(ctx,
		`DELETE FROM messages WHERE chat_id = $1 AND created_at > $2`,
		chatID, anchor)
	if err != nil {
		return 0, fmt.Errorf("deleting messages: %w", err)
	}

	s.logger.Info("messages truncated", "chat_id", chatID, "after", messageID, "deleted", tag.RowsAffected())
	return tag.RowsAffected(), nil
}

// Messages returns the chat's messages oldest first.
func (s *Store) Messages(ctx context.Context, chatID uuid.UUID) ([]Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+messageCols+` FROM messages WHERE chat_id = $1 ORDER BY created_at ASC`,
		chatID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// GetMessage fetches one message.
func (s *Store) GetMessage(ctx context.Context, chatID, messageID uuid.UUID) (*Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+messageCols+` FROM messages WHERE id = $1 AND chat_id = $2`,
		messageID, chatID)
	if err != nil {
		return nil, fmt.Errorf("fetching message: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return &msgs[0], nil
}

// ListChats returns the user's chats, most recently updated first.
func (s *Store) ListChats(ctx context.Context, userID string) ([]Chat, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+chatCols+`
		 FROM chats WHERE user_id = $1 ORDER BY updated_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	return scanChats(rows)
}

// GetChat fetches one chat owned by the user.
func (s *Store) GetChat(ctx context.Context, chatID uuid.UUID, userID string) (*Chat, error) {
	var c Chat
	err := s.db.QueryRow(ctx,
		`SELECT `+chatCols+`
		 FROM chats WHERE id = $1 AND user_id = $2`,
		chatID, userID).Scan(&c.ID, &c.UserID, &c.Title, &c.ProjectID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching chat: %w", err)
	}
	return &c, nil
}

// RenameChat sets an explicit title.
func (s *Store) RenameChat(ctx context.Context, chatID uuid.UUID, userID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("title is required")
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE chats SET title = $1, updated_at = now() WHERE id = $2 AND user_id = $3`,
		title, chatID, userID)
	if err != nil {
		return fmt.Errorf("renaming chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	return nil
}

// DeleteChat removes the chat and, via cascade, its messages.
func (s *Store) DeleteChat(ctx context.Context, chatID uuid.UUID, userID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM chats WHERE id = $1 AND user_id = $2`, chatID, userID)
	if err != nil {
		return fmt.Errorf("deleting chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chat %s: %w", chatID, ErrNotFound)
	}
	return nil
}

// UpdateChatTitleIfDefault derives a title from the first user message and
// applies it only while the chat still carries the placeholder title.
func (s *Store) UpdateChatTitleIfDefault(ctx context.Context, chatID uuid.UUID, userID, firstUserMessage string) error {
	title := DeriveTitle(firstUserMessage)
	if title == DefaultChatTitle {
		return nil
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE chats SET title = $1 WHERE id = $2 AND user_id = $3 AND title = $4`,
		title, chatID, userID, DefaultChatTitle)
	if err != nil {
		return fmt.Errorf("updating chat title: %w", err)
	}
	if tag.RowsAffected() > 0 {
		s.logger.Debug("chat title derived", "chat_id", chatID, "title", title)
	}
	return nil
}

// Title derivation limits.
const (
	titleMaxWords = 5
	titleMaxLen   = 40
	titleMinLen   = 3
)

// DeriveTitle builds a chat title from the first words of a message. Too
// short an input keeps the placeholder.
func DeriveTitle(message string) string {
	words := strings.Fields(message)
	if len(words) == 0 {
		return DefaultChatTitle
	}

	kept := words
	if len(kept) > titleMaxWords {
		kept = kept[:titleMaxWords]
	}
	title := strings.Join(kept, " ")

	// Length limits count runes, not bytes, so multibyte titles never get
	// cut mid-rune.
	switch {
	case utf8.RuneCountInString(title) > titleMaxLen:
		title = sources.Truncate(title, titleMaxLen-3) + "..."
	case len(words) > titleMaxWords:
		title += "..."
	}

	if utf8.RuneCountInString(title) < titleMinLen {
		return DefaultChatTitle
	}
	return title
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var (
			m   Message
			raw []byte
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.UserID, &m.Role, &m.Content, &raw, &m.Edited, &m.EditedAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		if len(raw) > 0 {
			var stored []persistedSource
			if err := json.Unmarshal(raw, &stored); err != nil {
				return nil, fmt.Errorf("decoding sources for message %s: %w", m.ID, err)
			}
			for _, p := range stored {
				m.Sources = append(m.Sources, sources.Source{
					Title:   p.DocumentName,
					URL:     p.DocumentURL,
					Snippet: p.TextSnippet,
				})
			}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading message rows: %w", err)
	}
	return msgs, nil
}

func scanChats(rows pgx.Rows) ([]Chat, error) {
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.ProjectID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning chat row: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chat rows: %w", err)
	}
	return chats, nil
}
