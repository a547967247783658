package chat

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/docchat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/docchat/backend/internal/service/chat"
	"github.com/zhouzirui/docchat/backend/internal/service/conversation"
	"github.com/zhouzirui/docchat/backend/pkg/utils"
)

// Handler 会话管理的HTTP处理器
type Handler struct {
	ctrl     *conversation.Controller
	sessions *chatService.Service
}

// New 创建会话处理器
func New(ctrl *conversation.Controller, sessions *chatService.Service) *Handler {
	return &Handler{ctrl: ctrl, sessions: sessions}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/assistant", h.handleAssistant)
	r.Post("/session", h.handleCreateSession)
	r.Get("/session/{sessionID}/messages", h.handleTranscript)
	r.Post("/session/{sessionID}/reset", h.handleReset)
	r.Delete("/session/{sessionID}", h.handleEndSession)
}

type assistantResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Model      string `json:"model"`
	Collection struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Documents int    `json:"documents"`
		Chunks    int    `json:"chunks"`
	} `json:"collection"`
}

// handleAssistant 返回当前助手与知识库信息
func (h *Handler) handleAssistant(w http.ResponseWriter, _ *http.Request) {
	ready := h.ctrl.Setup()

	var resp assistantResponse
	resp.ID = ready.Assistant.ID
	resp.Name = ready.Assistant.Name
	resp.Model = ready.Assistant.Model
	resp.Collection.ID = ready.Collection.ID
	resp.Collection.Name = ready.Collection.Name
	resp.Collection.Documents = ready.Collection.Documents
	resp.Collection.Chunks = ready.Collection.Chunks

	utils.RespondJSON(w, http.StatusOK, resp)
}

// handleCreateSession 创建会话并绑定远端线程
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	store, err := h.ctrl.StartSession(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusBadGateway, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusCreated, store.Info())
}

// handleTranscript 返回会话的有序消息
func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	store, ok := h.lookup(w, r)
	if !ok {
		return
	}

	messages := store.All()
	if messages == nil {
		messages = []chat.Message{}
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

// handleReset 清空会话历史，并取消进行中的回复
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	store, ok := h.lookup(w, r)
	if !ok {
		return
	}

	h.ctrl.Reset(r.Context(), store)
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleEndSession 结束会话
func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.EndSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*chatService.Store, bool) {
	store, err := h.sessions.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondSessionError(w, err)
		return nil, false
	}
	return store, true
}

func respondSessionError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, chatService.ErrSessionNotFound) {
		status = http.StatusNotFound
	}
	utils.RespondError(w, status, err.Error())
}
