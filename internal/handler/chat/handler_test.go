package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-companion/backend/internal/config"
	"github.com/zhouzirui/z-companion/backend/internal/logger"
	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
	"github.com/zhouzirui/z-companion/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/z-companion/backend/internal/service/chat"
	"github.com/zhouzirui/z-companion/backend/internal/store/inmemory"
)

type staticComposer struct{}

func (staticComposer) SystemPrompt(context.Context, string) string { return "persona" }

func setupRouter(t *testing.T, upstream http.HandlerFunc) *chi.Mux {
	t.Helper()
	server := httptest.NewServer(upstream)
	t.Cleanup(server.Close)

	client := ai.NewClient(server.URL, "secret", "test-model", time.Second)
	gateway := ai.NewGateway(client, config.DefaultReplies(), logger.Nop())
	chatSvc := chatservice.NewService(inmemory.New(), staticComposer{}, gateway, nil, logger.Nop())

	r := chi.NewRouter()
	New(chatSvc, []string{"*"}, logger.Nop()).RegisterRoutes(r)
	return r
}

func upstreamReply(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"model":"test-model","message":{"role":"assistant","content":%q},"done":true}`, content)
	}
}

func do(r http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestGetChatUnknownToken(t *testing.T) {
	r := setupRouter(t, upstreamReply("hi"))

	resp := do(r, http.MethodGet, "/chat/nobody", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if strings.TrimSpace(resp.Body.String()) != `{"messages":[]}` {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}
}

func TestPostChatRoundTrip(t *testing.T) {
	r := setupRouter(t, upstreamReply("hey there"))

	resp := do(r, http.MethodPost, "/chat", `{"token":"tok","messages":[{"role":"user","content":"hi"}]}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	want := `{"model":"test-model","message":{"role":"assistant","content":"hey there"},"done":true}`
	if resp.Body.String() != want {
		t.Fatalf("payload not forwarded verbatim: %s", resp.Body.String())
	}

	resp = do(r, http.MethodGet, "/chat/tok", "")
	var body struct {
		Messages []wireMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(body.Messages))
	}
	if body.Messages[0].Role != "user" || body.Messages[1].Role != "bot" {
		t.Fatalf("unexpected roles: %+v", body.Messages)
	}
	if body.Messages[1].Content != "hey there" || body.Messages[1].Timestamp == nil {
		t.Fatalf("unexpected reply message: %+v", body.Messages[1])
	}
}

func TestPostChatAcceptsLegacyField(t *testing.T) {
	r := setupRouter(t, upstreamReply("ok"))

	resp := do(r, http.MethodPost, "/chat", `{"oderId":"legacy","messages":[{"role":"user","content":"hi"}]}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	resp = do(r, http.MethodGet, "/chat/legacy", "")
	if !strings.Contains(resp.Body.String(), `"content":"ok"`) {
		t.Fatalf("legacy session not stored: %s", resp.Body.String())
	}
}

func TestPostChatBadRequests(t *testing.T) {
	r := setupRouter(t, upstreamReply("ok"))

	cases := map[string]string{
		"invalid json":  `{`,
		"missing token": `{"messages":[{"role":"user","content":"hi"}]}`,
		"no messages":   `{"token":"tok","messages":[]}`,
		"unknown role":  `{"token":"tok","messages":[{"role":"narrator","content":"hi"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp := do(r, http.MethodPost, "/chat", body)
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.Code)
			}
		})
	}
}

func TestPostChatCannedReply(t *testing.T) {
	r := setupRouter(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	resp := do(r, http.MethodPost, "/chat", `{"token":"tok","messages":[{"role":"user","content":"hi"}]}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Message.Role != "assistant" || body.Message.Content != config.DefaultReplies().RateLimited {
		t.Fatalf("unexpected canned reply: %+v", body.Message)
	}
}

func TestPostChatUpstreamFailure(t *testing.T) {
	r := setupRouter(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	resp := do(r, http.MethodPost, "/chat", `{"token":"tok","messages":[{"role":"user","content":"hi"}]}`)
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}
}

func TestDeleteChat(t *testing.T) {
	r := setupRouter(t, upstreamReply("ok"))
	do(r, http.MethodPost, "/chat", `{"token":"tok","messages":[{"role":"user","content":"hi"}]}`)

	resp := do(r, http.MethodDelete, "/chat/tok", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "Chat cleared") {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}

	resp = do(r, http.MethodGet, "/chat/tok", "")
	if strings.TrimSpace(resp.Body.String()) != `{"messages":[]}` {
		t.Fatalf("session not deleted: %s", resp.Body.String())
	}
}

func TestWebSocketExchange(t *testing.T) {
	server := httptest.NewServer(setupRouter(t, upstreamReply("hello over ws")))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/chat/tok/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var frame outgoingFrame
	if err := conn.ReadJSON(&frame); err != nil || frame.Type != "connected" {
		t.Fatalf("expected connected frame, got %+v (%v)", frame, err)
	}

	if err := conn.WriteJSON(map[string]any{
		"type":     "chat",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	frame = outgoingFrame{}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame.Type != "reply" || !strings.Contains(string(frame.Data), "hello over ws") {
		t.Fatalf("unexpected frame: %+v", frame)
	}

	if err := conn.WriteJSON(map[string]string{"type": "audio"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame = outgoingFrame{}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame.Type != "error" {
		t.Fatalf("expected error frame, got %+v", frame)
	}
}

type slowConversation struct {
	delay time.Duration
}

func (c slowConversation) HandleTurn(ctx context.Context, _ string, turns []chat.Turn) (*chatservice.Reply, error) {
	select {
	case <-time.After(c.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	payload := fmt.Sprintf(`{"message":{"role":"assistant","content":"echo %d"}}`, len(turns))
	return &chatservice.Reply{Outcome: ai.OutcomeSuccess, Payload: []byte(payload)}, nil
}

func (slowConversation) LoadTranscript(context.Context, string) ([]chat.Turn, error) {
	return []chat.Turn{}, nil
}

func (slowConversation) ResetSession(context.Context, string) error { return nil }

func dialSocket(t *testing.T, h *Handler, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/chat/tok/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func TestWebSocketTurnOutlivesReadTimeout(t *testing.T) {
	h := New(slowConversation{delay: 400 * time.Millisecond}, []string{"*"}, logger.Nop())
	h.ws = socketTimeouts{read: 150 * time.Millisecond, ping: 40 * time.Millisecond, write: time.Second}

	conn, _, err := dialSocket(t, h, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var frame outgoingFrame
	if err := conn.ReadJSON(&frame); err != nil || frame.Type != "connected" {
		t.Fatalf("expected connected frame, got %+v (%v)", frame, err)
	}

	for i := 1; i <= 2; i++ {
		messages := make([]map[string]string, i)
		for j := range messages {
			messages[j] = map[string]string{"role": "user", "content": "hi"}
		}
		if err := conn.WriteJSON(map[string]any{"type": "chat", "messages": messages}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}

		// the client answers server pings while blocked here
		frame = outgoingFrame{}
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if frame.Type != "reply" || !strings.Contains(string(frame.Data), fmt.Sprintf("echo %d", i)) {
			t.Fatalf("unexpected frame %d: %+v", i, frame)
		}
	}
}

func TestWebSocketRejectsDisallowedOrigin(t *testing.T) {
	h := New(slowConversation{}, []string{"http://app.local"}, logger.Nop())

	_, resp, err := dialSocket(t, h, "http://evil.local")
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}

	conn, _, err := dialSocket(t, h, "http://app.local")
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame outgoingFrame
	if err := conn.ReadJSON(&frame); err != nil || frame.Type != "connected" {
		t.Fatalf("expected connected frame, got %+v (%v)", frame, err)
	}
}
