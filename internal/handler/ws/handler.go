// Package ws serves conversation turns over a WebSocket connection.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	chatService "github.com/zhouzirui/docchat/backend/internal/service/chat"
	"github.com/zhouzirui/docchat/backend/internal/service/conversation"
	"github.com/zhouzirui/docchat/backend/internal/service/relay"
	"github.com/zhouzirui/docchat/backend/pkg/utils"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second
)

// Frame types.
const (
	TypeText   = "text"
	TypeReset  = "reset"
	TypeResult = "result"
	TypeError  = "error"
)

// Result payload types carried in result frames.
const (
	ResultConnected = "connected"
	ResultSnapshot  = "snapshot"
	ResultMessage   = "message"
	ResultReset     = "reset"
)

// Handler WebSocket对话处理器
type Handler struct {
	ctrl     *conversation.Controller
	sessions *chatService.Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器
func New(ctrl *conversation.Controller, sessions *chatService.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		ctrl:     ctrl,
		sessions: sessions,
		logger:   logger.With("component", "websocket"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// TextMessage 文本消息
type TextMessage struct {
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// connection serialises writes; gorilla allows one concurrent writer.
type connection struct {
	conn      *websocket.Conn
	sessionID string
	logger    *slog.Logger

	mu sync.Mutex
}

func (c *connection) write(msg outgoingMessage) {
	msg.SessionID = c.sessionID
	msg.Timestamp = time.Now().UnixMilli()

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug("write failed", "type", msg.Type, "error", err)
	}
}

func (c *connection) sendResult(data map[string]any) {
	c.write(outgoingMessage{Type: TypeResult, Data: data})
}

func (c *connection) sendError(message string) {
	c.write(outgoingMessage{Type: TypeError, Data: map[string]any{"message": message}})
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	store, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, chatService.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		utils.RespondError(w, status, err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	logger := h.logger.With("session_id", sessionID)
	logger.Info("connection opened")

	ctx, cancel := context.WithCancel(r.Context())
	var turns sync.WaitGroup
	defer func() {
		cancel()
		turns.Wait()
		logger.Info("connection closed")
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c := &connection{conn: conn, sessionID: sessionID, logger: logger}
	go h.pingLoop(ctx, c)

	c.sendResult(map[string]any{
		"type":      ResultConnected,
		"assistant": h.ctrl.Setup().Assistant.Name,
		"messages":  store.Len(),
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("read error", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if msg.SessionID != "" && msg.SessionID != sessionID {
			c.sendError("session mismatch")
			continue
		}

		switch msg.Type {
		case TypeText:
			var text TextMessage
			if err := json.Unmarshal(msg.Data, &text); err != nil {
				c.sendError("invalid text payload")
				continue
			}
			if strings.TrimSpace(text.Text) == "" {
				continue
			}
			// Turns run in the background so a reset can arrive while the
			// answer is still streaming.
			turns.Add(1)
			go func() {
				defer turns.Done()
				h.runTurn(ctx, c, store, text.Text)
			}()
		case TypeReset:
			h.ctrl.Reset(ctx, store)
			c.sendResult(map[string]any{"type": ResultReset})
		default:
			c.sendError("unsupported message type: " + msg.Type)
		}
	}
}

func (h *Handler) runTurn(ctx context.Context, c *connection, store *chatService.Store, text string) {
	sink := relay.SinkFunc(func(snapshot string) {
		c.sendResult(map[string]any{"type": ResultSnapshot, "text": snapshot})
	})

	turn, err := h.ctrl.HandleUserTurn(ctx, store, text, sink)
	switch {
	case errors.Is(err, chatService.ErrTurnReset):
		return
	case err != nil:
		if ctx.Err() == nil {
			c.sendError(err.Error())
		}
		return
	case turn == nil:
		return
	}

	c.sendResult(map[string]any{
		"type":    ResultMessage,
		"role":    turn.Assistant.Role,
		"text":    turn.Assistant.Content,
		"isFinal": true,
	})
}

func (h *Handler) pingLoop(ctx context.Context, c *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
