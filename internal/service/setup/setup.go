// Package setup registers the assistant configuration and its knowledge
// collection with the assistant service, once per process.
package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhouzirui/docchat/backend/internal/service/assistant"
)

var (
	ErrSetup       = errors.New("assistant setup failed")
	ErrNoDocuments = errors.New("no knowledge documents configured")
)

// Options names the resources to register.
type Options struct {
	AssistantName  string
	Instructions   string
	Model          string
	CollectionName string
	Documents      []string
}

// Result holds the handles produced by a successful setup.
type Result struct {
	Assistant  assistant.Assistant
	Collection assistant.Collection
}

// Bootstrapper performs setup at most once. Only a successful run is cached;
// after a failure the next Ensure call tries again.
type Bootstrapper struct {
	client assistant.Client
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	done   atomic.Bool
	result Result
}

// New creates a Bootstrapper for client.
func New(client assistant.Client, opts Options, logger *slog.Logger) *Bootstrapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrapper{
		client: client,
		opts:   opts,
		logger: logger.With("component", "setup"),
	}
}

// Ensure returns the registered assistant and collection, creating them on
// the first successful call.
func (b *Bootstrapper) Ensure(ctx context.Context) (Result, error) {
	if b.done.Load() {
		return b.result, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done.Load() {
		return b.result, nil
	}

	result, err := b.run(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSetup, err)
	}

	b.result = result
	b.done.Store(true)
	return result, nil
}

func (b *Bootstrapper) run(ctx context.Context) (Result, error) {
	if len(b.opts.Documents) == 0 {
		return Result{}, ErrNoDocuments
	}
	started := time.Now()

	asst, err := b.client.CreateAssistant(ctx, assistant.Config{
		Name:         b.opts.AssistantName,
		Instructions: b.opts.Instructions,
		Model:        b.opts.Model,
		Tools:        []string{assistant.ToolFileSearch},
	})
	if err != nil {
		return Result{}, fmt.Errorf("create assistant: %w", err)
	}

	collection, err := b.client.CreateCollection(ctx, b.opts.CollectionName)
	if err != nil {
		return Result{}, fmt.Errorf("create collection: %w", err)
	}

	collection, err = b.client.UploadDocuments(ctx, collection.ID, b.opts.Documents)
	if err != nil {
		return Result{}, fmt.Errorf("upload documents: %w", err)
	}

	asst, err = b.client.BindCollection(ctx, asst.ID, collection.ID)
	if err != nil {
		return Result{}, fmt.Errorf("bind collection: %w", err)
	}

	b.logger.Info("assistant ready",
		"assistant_id", asst.ID,
		"collection_id", collection.ID,
		"documents", collection.Documents,
		"chunks", collection.Chunks,
		"elapsed", time.Since(started),
	)
	return Result{Assistant: asst, Collection: collection}, nil
}
