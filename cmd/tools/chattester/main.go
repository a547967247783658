package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/docchat/backend/internal/config"
	"github.com/zhouzirui/docchat/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/docchat/backend/internal/service/chat"
	"github.com/zhouzirui/docchat/backend/internal/service/conversation"
	"github.com/zhouzirui/docchat/backend/internal/service/relay"
	"github.com/zhouzirui/docchat/backend/internal/service/setup"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] no .env loaded, using system environment: %v", err)
	}

	question := flag.String("q", "", "ask a single question and exit; empty starts an interactive prompt")
	docs := flag.String("docs", "", "comma separated documents, overrides KNOWLEDGE_DOCUMENTS")
	timeout := flag.Duration("timeout", 2*time.Minute, "timeout per question")
	flag.Parse()

	if *docs != "" {
		os.Setenv("KNOWLEDGE_DOCUMENTS", *docs)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, closeLog := config.SetupLogger(cfg.Log)
	defer closeLog()

	ctx := context.Background()
	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		log.Fatalf("failed to create chat model: %v", err)
	}
	embedder, err := cfg.AI.NewEmbedder()
	if err != nil {
		log.Fatalf("failed to create embedder: %v", err)
	}

	backend, err := ai.NewBackend(ctx, chatModel, ai.Options{
		ChunkSize:    cfg.Knowledge.ChunkSize,
		ChunkOverlap: cfg.Knowledge.ChunkOverlap,
		TopK:         cfg.Knowledge.TopK,
		Embedder:     embedder,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create backend: %v", err)
	}

	ready, err := setup.New(backend, setup.Options{
		AssistantName:  cfg.Assistant.Name,
		Instructions:   cfg.Assistant.Instructions,
		Model:          cfg.AI.Model,
		CollectionName: cfg.Knowledge.CollectionName,
		Documents:      cfg.Knowledge.Documents,
	}, logger).Ensure(ctx)
	if err != nil {
		log.Fatalf("setup failed: %v", err)
	}
	log.Printf("assistant %s ready, collection %s holds %d chunks from %d documents",
		ready.Assistant.ID, ready.Collection.ID, ready.Collection.Chunks, ready.Collection.Documents)

	sessions := chatservice.NewService(cfg.Session.IdleTTL, logger)
	ctrl := conversation.NewController(backend, sessions, ready, conversation.Options{
		RunInstructions: cfg.Assistant.RunInstructions,
		TurnTimeout:     *timeout,
	}, logger)

	store, err := ctrl.StartSession(ctx)
	if err != nil {
		log.Fatalf("failed to start session: %v", err)
	}

	if *question != "" {
		if err := ask(ctx, ctrl, store, *question, os.Stdout); err != nil {
			log.Fatalf("question failed: %v", err)
		}
		return
	}

	fmt.Println("type a question, /reset to clear the conversation, /quit to exit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit":
			return
		case "/reset":
			ctrl.Reset(ctx, store)
			fmt.Println("conversation cleared")
			continue
		}
		if err := ask(ctx, ctrl, store, line, os.Stdout); err != nil {
			log.Printf("[ERROR] %v", err)
		}
	}
}

// ask prints the answer as it grows. Snapshots are cumulative, so only the
// new suffix is written each time.
func ask(ctx context.Context, ctrl *conversation.Controller, store *chatservice.Store, question string, out io.Writer) error {
	printed := 0
	sink := relay.SinkFunc(func(text string) {
		if len(text) > printed {
			fmt.Fprint(out, text[printed:])
			printed = len(text)
		}
	})

	started := time.Now()
	turn, err := ctrl.HandleUserTurn(ctx, store, question, sink)
	fmt.Fprintln(out)
	if err != nil {
		if errors.Is(err, conversation.ErrEmptyAnswer) {
			return fmt.Errorf("assistant gave no answer")
		}
		return err
	}
	log.Printf("answered in %s (%d fragments)", time.Since(started).Round(time.Millisecond), turn.Fragments)
	return nil
}
