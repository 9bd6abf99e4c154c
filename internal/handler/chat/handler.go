package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-companion/backend/internal/middleware"
	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
	"github.com/zhouzirui/z-companion/backend/internal/service/ai"
	chatService "github.com/zhouzirui/z-companion/backend/internal/service/chat"
	"github.com/zhouzirui/z-companion/backend/pkg/utils"
)

// Conversation is the orchestrator surface the handlers need.
type Conversation interface {
	HandleTurn(ctx context.Context, token string, transcript []chat.Turn) (*chatService.Reply, error)
	LoadTranscript(ctx context.Context, token string) ([]chat.Turn, error)
	ResetSession(ctx context.Context, token string) error
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc  Conversation
	logger   *slog.Logger
	upgrader websocket.Upgrader
	ws       socketTimeouts
}

// New 创建聊天处理器，websocket 握手沿用 CORS 的来源白名单
func New(chatSvc Conversation, origins []string, logger *slog.Logger) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		logger:  logger.With("component", "http"),
		upgrader: websocket.Upgrader{
			CheckOrigin:     middleware.NewOrigins(origins).CheckRequest,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		ws: defaultSocketTimeouts,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handlePostChat)
	r.Get("/chat/{token}", h.handleGetChat)
	r.Delete("/chat/{token}", h.handleDeleteChat)
	r.Get("/chat/{token}/ws", h.handleWebSocket)
}

// wireMessage 是浏览器端使用的消息格式
type wireMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type chatRequest struct {
	Token    string        `json:"token"`
	OderID   string        `json:"oderId"`
	Messages []wireMessage `json:"messages"`
}

func (req chatRequest) token() string {
	if req.Token != "" {
		return req.Token
	}
	return req.OderID
}

func toTurns(messages []wireMessage) ([]chat.Turn, error) {
	turns := make([]chat.Turn, 0, len(messages))
	for i, m := range messages {
		speaker, ok := chat.ParseSpeaker(m.Role)
		if !ok {
			return nil, fmt.Errorf("messages[%d]: unknown role %q", i, m.Role)
		}
		turn := chat.Turn{Speaker: speaker, Text: m.Content}
		if m.Timestamp != nil {
			turn.OccurredAt = m.Timestamp.UTC()
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func toWire(turns []chat.Turn) []wireMessage {
	out := make([]wireMessage, 0, len(turns))
	for _, t := range turns {
		m := wireMessage{Role: t.Speaker.ClientRole(), Content: t.Text}
		if !t.OccurredAt.IsZero() {
			ts := t.OccurredAt
			m.Timestamp = &ts
		}
		out = append(out, m)
	}
	return out
}

// handlePostChat 处理一轮对话，原样返回上游回复
func (h *Handler) handlePostChat(w http.ResponseWriter, r *http.Request) {
	var payload chatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	turns, err := toTurns(payload.Messages)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := h.chatSvc.HandleTurn(r.Context(), payload.token(), turns)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondRaw(w, http.StatusOK, reply.Payload)
}

// handleGetChat 返回已保存的对话
func (h *Handler) handleGetChat(w http.ResponseWriter, r *http.Request) {
	turns, err := h.chatSvc.LoadTranscript(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": toWire(turns)})
}

// handleDeleteChat 清空对话
func (h *Handler) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.ResetSession(r.Context(), chi.URLParam(r, "token")); err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "Chat cleared"})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("chat request failed", "status", status, "error", err)
	}
	utils.RespondError(w, status, message)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, chatService.ErrTokenRequired), errors.Is(err, chatService.ErrEmptyTranscript):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ai.ErrUpstreamTransport):
		return http.StatusBadGateway, "completion service unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
