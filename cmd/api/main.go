package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/docchat/backend/internal/config"
	"github.com/zhouzirui/docchat/backend/internal/handler"
	"github.com/zhouzirui/docchat/backend/internal/service/ai"
	"github.com/zhouzirui/docchat/backend/internal/service/chat"
	"github.com/zhouzirui/docchat/backend/internal/service/conversation"
	"github.com/zhouzirui/docchat/backend/internal/service/setup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, closeLog := config.SetupLogger(cfg.Log)
	defer closeLog()
	slog.SetDefault(logger)

	if envErr != nil {
		logger.Debug("no .env file loaded, using system environment only", "error", envErr)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("backend stopped", "error", err)
		closeLog()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		return err
	}

	embedder, err := cfg.AI.NewEmbedder()
	if err != nil {
		return err
	}

	backend, err := ai.NewBackend(ctx, chatModel, ai.Options{
		ChunkSize:    cfg.Knowledge.ChunkSize,
		ChunkOverlap: cfg.Knowledge.ChunkOverlap,
		TopK:         cfg.Knowledge.TopK,
		Embedder:     embedder,
	}, logger)
	if err != nil {
		return err
	}

	// Setup runs before the server accepts any request.
	ready, err := setup.New(backend, setup.Options{
		AssistantName:  cfg.Assistant.Name,
		Instructions:   cfg.Assistant.Instructions,
		Model:          cfg.AI.Model,
		CollectionName: cfg.Knowledge.CollectionName,
		Documents:      cfg.Knowledge.Documents,
	}, logger).Ensure(ctx)
	if err != nil {
		return err
	}

	sessions := chat.NewService(cfg.Session.IdleTTL, logger)
	ctrl := conversation.NewController(backend, sessions, ready, conversation.Options{
		RunInstructions: cfg.Assistant.RunInstructions,
		TurnTimeout:     cfg.Session.TurnTimeout,
	}, logger)

	router := handler.NewRouter(ctrl, sessions, logger)
	return startServer(ctx, cfg.Server, router, logger)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("document chat backend listening", "addr", serverCfg.Addr)
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
