package ai

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/zhouzirui/docchat/backend/internal/model/chat"
	"github.com/zhouzirui/docchat/backend/internal/service/assistant"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
	defaultTopK         = 4
	defaultHistoryLimit = 20
)

// Options tunes ingestion, retrieval and prompt building.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	TopK         int
	// HistoryLimit caps how many thread messages are replayed to the model.
	HistoryLimit int
	// Embedder turns chunks and queries into vectors. Nil ranks by term
	// overlap instead.
	Embedder embeddings.Embedder
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaultChunkSize
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		o.ChunkOverlap = min(defaultChunkOverlap, o.ChunkSize/5)
	}
	if o.TopK <= 0 {
		o.TopK = defaultTopK
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = defaultHistoryLimit
	}
	return o
}

type thread struct {
	createdAt time.Time
	messages  []*schema.Message
}

type collection struct {
	info   assistant.Collection
	chunks []chunk
}

// Backend implements assistant.Client on top of an eino chat model. Threads,
// assistant configurations and knowledge collections live in memory; answers
// are streamed from the model with retrieved document excerpts in the system
// prompt.
type Backend struct {
	chain    compose.Runnable[[]*schema.Message, *schema.Message]
	splitter textsplitter.TextSplitter
	opts     Options
	logger   *slog.Logger

	mu          sync.RWMutex
	assistants  map[string]assistant.Assistant
	collections map[string]*collection
	threads     map[string]*thread
}

var _ assistant.Client = (*Backend)(nil)

// NewBackend compiles the answer chain around chatModel.
func NewBackend(ctx context.Context, chatModel model.BaseChatModel, opts Options, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()

	chain := compose.NewChain[[]*schema.Message, *schema.Message]()
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile answer chain: %w", err)
	}

	return &Backend{
		chain: runnable,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(opts.ChunkSize),
			textsplitter.WithChunkOverlap(opts.ChunkOverlap),
		),
		opts:        opts,
		logger:      logger.With("component", "assistant"),
		assistants:  make(map[string]assistant.Assistant),
		collections: make(map[string]*collection),
		threads:     make(map[string]*thread),
	}, nil
}

// CreateAssistant registers an assistant configuration.
func (b *Backend) CreateAssistant(_ context.Context, cfg assistant.Config) (assistant.Assistant, error) {
	for _, tool := range cfg.Tools {
		if tool != assistant.ToolFileSearch {
			return assistant.Assistant{}, fmt.Errorf("%w: %s", assistant.ErrUnsupportedTool, tool)
		}
	}

	asst := assistant.Assistant{
		ID:           "asst_" + uuid.NewString(),
		Name:         cfg.Name,
		Instructions: cfg.Instructions,
		Model:        cfg.Model,
		Tools:        slices.Clone(cfg.Tools),
		CreatedAt:    time.Now().UTC(),
	}

	b.mu.Lock()
	b.assistants[asst.ID] = asst
	b.mu.Unlock()

	b.logger.Info("assistant created", "assistant_id", asst.ID, "name", asst.Name)
	return asst, nil
}

// CreateCollection registers an empty knowledge collection.
func (b *Backend) CreateCollection(_ context.Context, name string) (assistant.Collection, error) {
	info := assistant.Collection{
		ID:        "vs_" + uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	b.mu.Lock()
	b.collections[info.ID] = &collection{info: info}
	b.mu.Unlock()

	return info, nil
}

// BindCollection makes collectionID searchable by the assistant.
func (b *Backend) BindCollection(_ context.Context, assistantID, collectionID string) (assistant.Assistant, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	asst, ok := b.assistants[assistantID]
	if !ok {
		return assistant.Assistant{}, fmt.Errorf("%w: assistant %s", assistant.ErrNotFound, assistantID)
	}
	if _, ok := b.collections[collectionID]; !ok {
		return assistant.Assistant{}, fmt.Errorf("%w: collection %s", assistant.ErrNotFound, collectionID)
	}
	if !slices.Contains(asst.CollectionIDs, collectionID) {
		asst.CollectionIDs = append(slices.Clone(asst.CollectionIDs), collectionID)
	}
	b.assistants[assistantID] = asst
	return asst, nil
}

// CreateThread opens an empty conversation thread.
func (b *Backend) CreateThread(_ context.Context) (assistant.Thread, error) {
	t := assistant.Thread{ID: "thread_" + uuid.NewString(), CreatedAt: time.Now().UTC()}

	b.mu.Lock()
	b.threads[t.ID] = &thread{createdAt: t.CreatedAt}
	b.mu.Unlock()

	return t, nil
}

// AppendMessage adds a message to a thread.
func (b *Backend) AppendMessage(_ context.Context, threadID string, role chat.Role, content string) error {
	var msg *schema.Message
	switch role {
	case chat.RoleUser:
		msg = schema.UserMessage(content)
	case chat.RoleAssistant:
		msg = schema.AssistantMessage(content, nil)
	default:
		return fmt.Errorf("%w: %q", chat.ErrInvalidRole, role)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.threads[threadID]
	if !ok {
		return fmt.Errorf("%w: thread %s", assistant.ErrNotFound, threadID)
	}
	t.messages = append(t.messages, msg)
	return nil
}

func (b *Backend) recordAnswer(threadID, text string) {
	if text == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.threads[threadID]; ok {
		t.messages = append(t.messages, schema.AssistantMessage(text, nil))
	}
}
