package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zhouzirui/z-companion/backend/internal/logger"
	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
	"github.com/zhouzirui/z-companion/backend/internal/model/persona"
	chatService "github.com/zhouzirui/z-companion/backend/internal/service/chat"
)

type emptyConversation struct{}

func (emptyConversation) HandleTurn(context.Context, string, []chat.Turn) (*chatService.Reply, error) {
	return nil, chatService.ErrEmptyTranscript
}

func (emptyConversation) LoadTranscript(context.Context, string) ([]chat.Turn, error) {
	return []chat.Turn{}, nil
}

func (emptyConversation) ResetSession(context.Context, string) error { return nil }

func TestHealth(t *testing.T) {
	r := NewRouter(persona.Default(), emptyConversation{}, []string{"*"}, logger.Nop())

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["message"] != "Mira API is running" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestRoutesMounted(t *testing.T) {
	r := NewRouter(persona.Default(), emptyConversation{}, []string{"*"}, logger.Nop())

	for _, path := range []string{"/persona", "/chat/abc"} {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.Code)
		}
	}
}
