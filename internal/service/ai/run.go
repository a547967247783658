package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/docchat/backend/internal/service/assistant"
)

// StreamRun answers the latest state of a thread. The completed answer is
// appended to the thread so later runs see it.
func (b *Backend) StreamRun(ctx context.Context, req assistant.RunRequest) (assistant.RunStream, error) {
	input, err := b.buildRunInput(ctx, req)
	if err != nil {
		return nil, err
	}

	reader, err := b.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream answer chain output: %w", err)
	}

	b.logger.Debug("run started", "thread_id", req.ThreadID, "assistant_id", req.AssistantID, "messages", len(input))
	return &runStream{reader: reader, backend: b, threadID: req.ThreadID}, nil
}

func (b *Backend) buildRunInput(ctx context.Context, req assistant.RunRequest) ([]*schema.Message, error) {
	b.mu.RLock()
	t, ok := b.threads[req.ThreadID]
	if !ok {
		b.mu.RUnlock()
		return nil, fmt.Errorf("%w: thread %s", assistant.ErrNotFound, req.ThreadID)
	}
	asst, ok := b.assistants[req.AssistantID]
	if !ok {
		b.mu.RUnlock()
		return nil, fmt.Errorf("%w: assistant %s", assistant.ErrNotFound, req.AssistantID)
	}

	history := buildHistoryMessages(t.messages, b.opts.HistoryLimit)
	var pool []chunk
	for _, id := range asst.CollectionIDs {
		if coll, ok := b.collections[id]; ok {
			pool = append(pool, coll.chunks...)
		}
	}
	b.mu.RUnlock()

	// Embedding the query is a network call, so it runs outside the lock.
	excerpts, err := b.retrieve(ctx, pool, lastUserContent(history))
	if err != nil {
		return nil, err
	}

	input := make([]*schema.Message, 0, len(history)+1)
	input = append(input, schema.SystemMessage(buildSystemPrompt(asst.Instructions, req.Instructions, excerpts)))
	return append(input, history...), nil
}

type runStream struct {
	reader   *schema.StreamReader[*schema.Message]
	backend  *Backend
	threadID string

	answer strings.Builder
	ended  bool
	once   sync.Once
}

func (s *runStream) Recv() (assistant.Event, error) {
	if s.ended {
		return assistant.Event{}, io.EOF
	}

	for {
		msg, err := s.reader.Recv()
		if errors.Is(err, io.EOF) {
			s.ended = true
			s.backend.recordAnswer(s.threadID, s.answer.String())
			return assistant.Done(), nil
		}
		if err != nil {
			s.ended = true
			return assistant.Failure(err), nil
		}
		if msg == nil {
			continue
		}

		s.answer.WriteString(msg.Content)
		return assistant.Fragment(msg.Content), nil
	}
}

func (s *runStream) Close() error {
	s.once.Do(s.reader.Close)
	return nil
}
