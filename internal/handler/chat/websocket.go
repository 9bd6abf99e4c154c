package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

type socketTimeouts struct {
	read  time.Duration
	ping  time.Duration
	write time.Duration
}

// ping 必须明显短于 read，客户端的 pong 才能在超时前续期
var defaultSocketTimeouts = socketTimeouts{
	read:  60 * time.Second,
	ping:  25 * time.Second,
	write: 10 * time.Second,
}

// 排队等待处理的对话帧上限
const wsTurnQueue = 4

// inboundFrame 客户端发来的消息，messages 为完整对话
type inboundFrame struct {
	Type     string        `json:"type"`
	Messages []wireMessage `json:"messages"`
}

type outgoingFrame struct {
	Type      string          `json:"type"`
	Token     string          `json:"token,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// handleWebSocket 与 POST /chat 语义相同，只是连接保持打开。
// 读循环只负责收帧，对话在单独的 goroutine 中按顺序处理，
// 这样上游耗时再长，pong 也能继续刷新读超时。
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.logger.Debug("websocket connected", "token", token)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(h.ws.read))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.ws.read))
		return nil
	})

	// gorilla 连接只允许一个并发写者
	frames := make(chan outgoingFrame, wsTurnQueue)
	turns := make(chan inboundFrame, wsTurnQueue)
	go h.writeLoop(ctx, cancel, conn, frames)
	go h.turnLoop(ctx, token, turns, frames)

	frames <- outgoingFrame{Type: "connected", Token: token}

	for {
		var msg inboundFrame
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", "token", token, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(h.ws.read))

		select {
		case turns <- msg:
		case <-ctx.Done():
			return
		default:
			if !send(ctx, frames, outgoingFrame{Type: "error", Error: "too many pending messages"}) {
				return
			}
		}
	}
}

func (h *Handler) turnLoop(ctx context.Context, token string, turns <-chan inboundFrame, frames chan<- outgoingFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-turns:
			if !send(ctx, frames, h.handleFrame(ctx, token, msg)) {
				return
			}
		}
	}
}

func send(ctx context.Context, frames chan<- outgoingFrame, frame outgoingFrame) bool {
	select {
	case frames <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

func (h *Handler) handleFrame(ctx context.Context, token string, msg inboundFrame) outgoingFrame {
	if msg.Type != "chat" {
		return outgoingFrame{Type: "error", Error: "unsupported message type: " + msg.Type}
	}

	turns, err := toTurns(msg.Messages)
	if err != nil {
		return outgoingFrame{Type: "error", Error: err.Error()}
	}

	reply, err := h.chatSvc.HandleTurn(ctx, token, turns)
	if err != nil {
		status, message := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("websocket turn failed", "token", token, "error", err)
		}
		return outgoingFrame{Type: "error", Error: message}
	}
	return outgoingFrame{Type: "reply", Data: reply.Payload}
}

func (h *Handler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, frames <-chan outgoingFrame) {
	defer cancel()
	ticker := time.NewTicker(h.ws.ping)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-frames:
			frame.Timestamp = time.Now().UnixMilli()
			conn.SetWriteDeadline(time.Now().Add(h.ws.write))
			if err := conn.WriteJSON(frame); err != nil {
				h.logger.Warn("websocket write failed", "error", err)
				conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.ws.write)); err != nil {
				conn.Close()
				return
			}
		}
	}
}
