package ai

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	lcschema "github.com/tmc/langchaingo/schema"

	"github.com/zhouzirui/docchat/backend/internal/service/assistant"
)

// UploadDocuments loads, splits and indexes every path into the collection.
// Nothing is indexed unless all documents load.
func (b *Backend) UploadDocuments(ctx context.Context, collectionID string, paths []string) (assistant.Collection, error) {
	b.mu.RLock()
	_, ok := b.collections[collectionID]
	b.mu.RUnlock()
	if !ok {
		return assistant.Collection{}, fmt.Errorf("%w: collection %s", assistant.ErrNotFound, collectionID)
	}

	var loaded []chunk
	for _, path := range paths {
		docs, err := b.loadDocument(ctx, path)
		if err != nil {
			return assistant.Collection{}, fmt.Errorf("%w: %s: %w", assistant.ErrIngest, path, err)
		}
		source := filepath.Base(path)
		kept := 0
		for _, doc := range docs {
			if strings.TrimSpace(doc.PageContent) == "" {
				continue
			}
			loaded = append(loaded, newChunk(source, 0, doc.PageContent))
			kept++
		}
		b.logger.Debug("document loaded", "collection_id", collectionID, "source", source, "chunks", kept)
	}

	if err := b.embedChunks(ctx, loaded); err != nil {
		return assistant.Collection{}, fmt.Errorf("%w: %w", assistant.ErrIngest, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	coll, ok := b.collections[collectionID]
	if !ok {
		return assistant.Collection{}, fmt.Errorf("%w: collection %s", assistant.ErrNotFound, collectionID)
	}
	// Indexes continue across uploads into the same collection.
	for i := range loaded {
		loaded[i].index = len(coll.chunks) + i
	}
	coll.chunks = append(coll.chunks, loaded...)
	coll.info.Documents += len(paths)
	coll.info.Chunks = len(coll.chunks)

	b.logger.Info("collection indexed",
		"collection_id", collectionID,
		"documents", coll.info.Documents,
		"chunks", coll.info.Chunks,
		"embedded", b.opts.Embedder != nil,
	)
	return coll.info, nil
}

func (b *Backend) embedChunks(ctx context.Context, chunks []chunk) error {
	if b.opts.Embedder == nil || len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.text
	}

	vectors, err := b.opts.Embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vectors), len(chunks))
	}
	for i := range chunks {
		chunks[i].vector = vectors[i]
	}
	return nil
}

func (b *Backend) loadDocument(ctx context.Context, path string) ([]lcschema.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var loader documentloaders.Loader
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		info, err := f.Stat()
		if err != nil {
			return nil, err
		}
		loader = documentloaders.NewPDF(f, info.Size())
	default:
		loader = documentloaders.NewText(f)
	}

	return loader.LoadAndSplit(ctx, b.splitter)
}
