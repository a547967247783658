package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/docchat/backend/internal/handler/chat"
	"github.com/zhouzirui/docchat/backend/internal/handler/stream"
	"github.com/zhouzirui/docchat/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/docchat/backend/internal/middleware"
	chatService "github.com/zhouzirui/docchat/backend/internal/service/chat"
	"github.com/zhouzirui/docchat/backend/internal/service/conversation"
	"github.com/zhouzirui/docchat/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(ctrl *conversation.Controller, sessions *chatService.Service, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": sessions.Count(),
		})
	})

	r.Route("/api", func(api chi.Router) {
		chat.New(ctrl, sessions).RegisterRoutes(api)
		stream.New(ctrl, sessions, logger).RegisterRoutes(api)
		ws.New(ctrl, sessions, logger).RegisterRoutes(api)
	})

	return r
}
