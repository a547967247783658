package stream

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	chatService "github.com/zhouzirui/docchat/backend/internal/service/chat"
	"github.com/zhouzirui/docchat/backend/internal/service/conversation"
	"github.com/zhouzirui/docchat/backend/internal/service/relay"
	"github.com/zhouzirui/docchat/backend/pkg/utils"
)

// SSE event names.
const (
	EventStart    = "start"
	EventSnapshot = "snapshot"
	EventMessage  = "message"
	EventError    = "error"
	EventEnd      = "end"
)

// Handler streams assistant answers via Server-Sent Events
type Handler struct {
	ctrl     *conversation.Controller
	sessions *chatService.Service
	logger   *slog.Logger
}

// New creates a new stream handler
func New(ctrl *conversation.Controller, sessions *chatService.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{ctrl: ctrl, sessions: sessions, logger: logger.With("component", "stream")}
}

// RegisterRoutes registers the streaming endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

// StreamResponse is the payload of every SSE event.
type StreamResponse struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
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

	message := r.URL.Query().Get("message")
	if strings.TrimSpace(message) == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	sse, err := utils.NewSSEWriter(w)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	send := func(resp StreamResponse) {
		resp.SessionID = sessionID
		if err := sse.Send(resp.Event, resp); err != nil {
			h.logger.Debug("sse write failed", "session_id", sessionID, "error", err)
		}
	}

	send(StreamResponse{Event: EventStart, Content: h.ctrl.Setup().Assistant.Name})

	// Each snapshot carries the whole answer so far, so a client just
	// replaces what it shows.
	sink := relay.SinkFunc(func(text string) {
		send(StreamResponse{Event: EventSnapshot, Content: text})
	})

	turn, err := h.ctrl.HandleUserTurn(r.Context(), store, message, sink)
	if errors.Is(err, chatService.ErrTurnReset) {
		h.logger.Info("turn cancelled by reset", "session_id", sessionID)
		send(StreamResponse{Event: EventEnd, Finished: true})
		return
	}
	if err != nil {
		h.logger.Warn("turn failed", "session_id", sessionID, "error", err)
		send(StreamResponse{Event: EventError, Error: err.Error()})
		send(StreamResponse{Event: EventEnd, Finished: true})
		return
	}

	send(StreamResponse{Event: EventMessage, Content: turn.Assistant.Content})
	send(StreamResponse{Event: EventEnd, Finished: true})
}
