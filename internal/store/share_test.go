package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestShareChat(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("issues a fresh token", func(t *testing.T) {
		t.Parallel()
		db := &fakeDB{
			rowScan: func(dest ...any) error {
				return nil // share_token stays NULL
			},
		}
		s := newTestStore(t, db)

		token, err := s.ShareChat(ctx, uuid.New(), "u1")
		if err != nil {
			t.Fatal(err)
		}
		if len(token) != 64 {
			t.Errorf("token length = %d, want 64", len(token))
		}
		if strings.ToLower(token) != token {
			t.Errorf("token = %q, want lowercase hex", token)
		}
		if len(db.execSQL) != 1 || !strings.Contains(db.execSQL[0], "SET share_token") {
			t.Errorf("execs = %v", db.execSQL)
		}
	})

	t.Run("repeated share returns the existing token", func(t *testing.T) {
		t.Parallel()
		existing := strings.Repeat("ab", 32)
		db := &fakeDB{
			rowScan: func(dest ...any) error {
				if p, ok := dest[0].(**string); ok {
					*p = &existing
				}
				return nil
			},
		}
		s := newTestStore(t, db)

		token, err := s.ShareChat(ctx, uuid.New(), "u1")
		if err != nil {
			t.Fatal(err)
		}
		if token != existing {
			t.Errorf("token = %q, want existing %q", token, existing)
		}
		if len(db.execSQL) != 0 {
			t.Errorf("execs = %v, want none", db.execSQL)
		}
	})

	t.Run("unknown chat reports not found", func(t *testing.T) {
		t.Parallel()
		db := &fakeDB{rowErr: pgx.ErrNoRows}
		s := newTestStore(t, db)

		_, err := s.ShareChat(ctx, uuid.New(), "u1")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestUnshareChatNotShared(t *testing.T) {
	t.Parallel()

	db := &fakeDB{execTags: []pgconn.CommandTag{pgconn.NewCommandTag("UPDATE 0")}}
	s := newTestStore(t, db)

	err := s.UnshareChat(context.Background(), uuid.New(), "u1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSharedChatUnknownToken(t *testing.T) {
	t.Parallel()

	db := &fakeDB{rowErr: pgx.ErrNoRows}
	s := newTestStore(t, db)

	_, _, err := s.SharedChat(context.Background(), strings.Repeat("00", 32))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
