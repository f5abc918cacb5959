package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/loomchat/loom/internal/store"
)

func TestShareAndResolveChat(t *testing.T) {
	t.Parallel()

	chatID := uuid.New()
	st := &fakeChatStore{
		chats:    []store.Chat{{ID: chatID, UserID: "user-1", Title: "Trip notes"}},
		messages: []store.Message{{ID: uuid.New(), ChatID: chatID, Role: "user", Content: "hello"}},
	}
	srv := newTestServer(t, nil, st)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, authedRequest(http.MethodPost, "/api/chats/"+chatID.String()+"/share", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("share status = %d, body = %s", w.Code, w.Body.String())
	}
	var shared struct {
		ShareToken string `json:"shareToken"`
		IsShared   bool   `json:"isShared"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &shared); err != nil {
		t.Fatal(err)
	}
	if !shared.IsShared || shared.ShareToken == "" {
		t.Fatalf("share response = %+v", shared)
	}

	// Sharing again keeps the same token.
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, authedRequest(http.MethodPost, "/api/chats/"+chatID.String()+"/share", ""))
	var again struct {
		ShareToken string `json:"shareToken"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &again); err != nil {
		t.Fatal(err)
	}
	if again.ShareToken != shared.ShareToken {
		t.Errorf("second share token = %q, want %q", again.ShareToken, shared.ShareToken)
	}

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, authedRequest(http.MethodGet, "/api/shared/"+shared.ShareToken, ""))
	if w.Code != http.StatusOK {
		t.Fatalf("resolve status = %d, body = %s", w.Code, w.Body.String())
	}
	var resolved struct {
		Chat     store.Chat      `json:"chat"`
		Messages []store.Message `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resolved); err != nil {
		t.Fatal(err)
	}
	if resolved.Chat.Title != "Trip notes" || len(resolved.Messages) != 1 {
		t.Errorf("resolved = %+v", resolved)
	}
}

func TestSharedChatRequiresAuth(t *testing.T) {
	t.Parallel()

	st := &fakeChatStore{shareToken: "abc"}
	srv := newTestServer(t, nil, st)

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/shared/abc", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestUnshareChat(t *testing.T) {
	t.Parallel()

	chatID := uuid.New()

	t.Run("revokes the link", func(t *testing.T) {
		t.Parallel()
		st := &fakeChatStore{shareToken: "tok"}
		srv := newTestServer(t, nil, st)

		w := httptest.NewRecorder()
		srv.ServeHTTP(w, authedRequest(http.MethodDelete, "/api/chats/"+chatID.String()+"/share", ""))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
		if st.shareToken != "" {
			t.Errorf("token still set: %q", st.shareToken)
		}
	})

	t.Run("unshared chat gets 404", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, nil, &fakeChatStore{})

		w := httptest.NewRecorder()
		srv.ServeHTTP(w, authedRequest(http.MethodDelete, "/api/chats/"+chatID.String()+"/share", ""))
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})
}
