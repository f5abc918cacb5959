// Package memory stores cross-chat conversation memory in PostgreSQL and
// recalls it with full-text search.
//
// Writes are best-effort and asynchronous: a turn finishing must never block
// on, or fail because of, a memory write.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Entry is one recalled memory.
type Entry struct {
	ChatID    string
	Role      string
	Content   string
	CreatedAt time.Time
}

const rememberTimeout = 10 * time.Second

// Store manages chat memories. Safe for concurrent use.
type Store struct {
	db     querier
	logger *slog.Logger

	// Background writes outlive the request that spawned them but not the
	// process; Close waits for stragglers.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

// NewStore creates a memory Store.
func NewStore(db querier, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Store{
		db:       db,
		logger:   logger.With("component", "memory"),
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}, nil
}

// Remember records one message asynchronously. Failures are logged and
// swallowed; the caller's turn has already finished.
func (s *Store) Remember(userID, chatID, role, content string) {
	content = strings.TrimSpace(content)
	if userID == "" || content == "" {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.bgCtx, rememberTimeout)
		defer cancel()

		_, err := s.db.Exec(ctx,
			`INSERT INTO chat_memories (user_id, chat_id, role, content)
			 VALUES ($1, $2, $3, $4)`,
			userID, chatID, role, content)
		if err != nil {
			s.logger.Warn("memory write failed",
				"user_id", userID, "chat_id", chatID, "error", err)
			return
		}
		s.logger.Debug("memory recorded", "user_id", userID, "chat_id", chatID, "role", role)
	}()
}

// Search recalls a user's memories ranked by full-text relevance, most
// relevant first. from and to bound the creation time when non-nil.
func (s *Store) Search(ctx context.Context, userID, query string, limit int, from, to *time.Time) ([]Entry, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if limit <= 0 {
		limit = 5
	}

	sql := `SELECT chat_id, role, content, created_at
		FROM chat_memories
		WHERE user_id = $1
		  AND content_tsv @@ websearch_to_tsquery('english', $2)`
	args := []any{userID, query}

	if from != nil {
		args = append(args, *from)
		sql += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		sql += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	args = append(args, limit)
	sql += fmt.Sprintf(
		" ORDER BY ts_rank(content_tsv, websearch_to_tsquery('english', $2)) DESC, created_at DESC LIMIT $%d",
		len(args))

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ChatID, &e.Role, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning memory row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading memory rows: %w", err)
	}
	return entries, nil
}

// Close waits for in-flight background writes, then releases the background
// context. Callers must not Remember after Close.
func (s *Store) Close() {
	s.wg.Wait()
	s.bgCancel()
}
