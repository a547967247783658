// Package assistant defines the contract of the hosted assistant service the
// chat backend talks to: assistant configurations, knowledge collections,
// conversation threads and streaming runs.
package assistant

import (
	"context"
	"errors"
	"time"

	"github.com/zhouzirui/docchat/backend/internal/model/chat"
)

// ToolFileSearch lets the assistant answer from its bound knowledge collections.
const ToolFileSearch = "file_search"

var (
	ErrNotFound        = errors.New("assistant resource not found")
	ErrUnsupportedTool = errors.New("unsupported assistant tool")
	ErrIngest          = errors.New("document ingestion failed")
)

// Config describes an assistant configuration to register.
type Config struct {
	Name         string
	Instructions string
	Model        string
	Tools        []string
}

// Assistant is a registered assistant configuration.
type Assistant struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Instructions  string    `json:"instructions"`
	Model         string    `json:"model"`
	Tools         []string  `json:"tools"`
	CollectionIDs []string  `json:"collectionIds"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Collection is an indexed document set usable for retrieval.
type Collection struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Documents int       `json:"documents"`
	Chunks    int       `json:"chunks"`
	CreatedAt time.Time `json:"createdAt"`
}

// Thread is a remote conversation context.
type Thread struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// RunRequest starts a streaming answer on a thread.
type RunRequest struct {
	ThreadID     string
	AssistantID  string
	Instructions string
}

// Client is the set of operations consumed from the assistant service.
type Client interface {
	CreateAssistant(ctx context.Context, cfg Config) (Assistant, error)
	CreateCollection(ctx context.Context, name string) (Collection, error)
	// UploadDocuments ingests files into a collection and returns once they are indexed.
	UploadDocuments(ctx context.Context, collectionID string, paths []string) (Collection, error)
	BindCollection(ctx context.Context, assistantID, collectionID string) (Assistant, error)
	CreateThread(ctx context.Context) (Thread, error)
	AppendMessage(ctx context.Context, threadID string, role chat.Role, content string) error
	StreamRun(ctx context.Context, req RunRequest) (RunStream, error)
}
