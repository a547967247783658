// Package conversation drives request/response turns between a session and
// the assistant service.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	model "github.com/zhouzirui/docchat/backend/internal/model/chat"
	"github.com/zhouzirui/docchat/backend/internal/service/assistant"
	"github.com/zhouzirui/docchat/backend/internal/service/chat"
	"github.com/zhouzirui/docchat/backend/internal/service/relay"
	"github.com/zhouzirui/docchat/backend/internal/service/setup"
)

var (
	ErrRemote      = errors.New("assistant service error")
	ErrEmptyAnswer = errors.New("assistant returned an empty answer")
)

// Options tunes the controller.
type Options struct {
	// RunInstructions are sent with every run on top of the assistant's own.
	RunInstructions string
	// TurnTimeout bounds a whole turn. Zero waits indefinitely.
	TurnTimeout time.Duration
}

// Turn is the pair of messages a successful turn appended.
type Turn struct {
	User      model.Message
	Assistant model.Message
	Fragments int
}

// Controller orchestrates turns for any number of independent sessions.
type Controller struct {
	client   assistant.Client
	sessions *chat.Service
	setup    setup.Result
	opts     Options
	logger   *slog.Logger
}

// NewController wires the assistant client, the session registry and the
// result of process setup.
func NewController(client assistant.Client, sessions *chat.Service, ready setup.Result, opts Options, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		client:   client,
		sessions: sessions,
		setup:    ready,
		opts:     opts,
		logger:   logger.With("component", "conversation"),
	}
}

// Setup returns the assistant and collection the controller answers with.
func (c *Controller) Setup() setup.Result { return c.setup }

// StartSession opens a remote thread and registers an empty session for it.
func (c *Controller) StartSession(ctx context.Context) (*chat.Store, error) {
	thread, err := c.client.CreateThread(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create thread: %w", ErrRemote, err)
	}
	return c.sessions.CreateSession(ctx, thread.ID)
}

// Reset clears the session history and cancels its running turn. The remote
// thread is kept.
func (c *Controller) Reset(_ context.Context, store *chat.Store) {
	store.Clear()
	c.logger.Info("session reset", "session_id", store.ID())
}

// HandleUserTurn sends prompt to the assistant and streams the answer to sink.
// It returns once the stream has ended. An empty or whitespace-only prompt is
// ignored and yields (nil, nil). On failure the user message stays in the
// session and no assistant message is added.
func (c *Controller) HandleUserTurn(ctx context.Context, store *chat.Store, prompt string, sink relay.Sink) (*Turn, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, nil
	}

	turn, err := store.BeginTurn(ctx)
	if err != nil {
		return nil, err
	}
	defer turn.End()

	turnCtx := turn.Context()
	if c.opts.TurnTimeout > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(turnCtx, c.opts.TurnTimeout)
		defer cancel()
	}

	started := time.Now()
	logger := c.logger.With("session_id", store.ID(), "thread_id", store.ThreadID())

	userMsg, err := model.NewMessage(model.RoleUser, prompt)
	if err != nil {
		return nil, err
	}
	if err := turn.Append(userMsg); err != nil {
		return nil, err
	}

	if err := c.client.AppendMessage(turnCtx, store.ThreadID(), model.RoleUser, prompt); err != nil {
		return nil, abortTurn(ctx, turn, logger, "append message", err, 0)
	}

	stream, err := c.client.StreamRun(turnCtx, assistant.RunRequest{
		ThreadID:     store.ThreadID(),
		AssistantID:  c.setup.Assistant.ID,
		Instructions: c.opts.RunInstructions,
	})
	if err != nil {
		return nil, abortTurn(ctx, turn, logger, "start run", err, 0)
	}
	defer stream.Close()

	buf := relay.NewBuffer(sink)
	if err := relay.Drain(turnCtx, stream, buf); err != nil {
		return nil, abortTurn(ctx, turn, logger, "stream", err, buf.Fragments())
	}

	text, err := buf.Finalize()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyAnswer
	}

	assistantMsg, err := model.NewMessage(model.RoleAssistant, text)
	if err != nil {
		return nil, err
	}
	if err := turn.Append(assistantMsg); err != nil {
		return nil, err
	}

	logger.Info("turn completed",
		"fragments", buf.Fragments(),
		"bytes", len(text),
		"elapsed", time.Since(started),
	)
	return &Turn{User: userMsg, Assistant: assistantMsg, Fragments: buf.Fragments()}, nil
}

// abortTurn classifies a failed remote step. A turn whose own context was
// cancelled while the caller's is still live was reset, which is reported as
// chat.ErrTurnReset; anything else is a remote failure.
func abortTurn(ctx context.Context, turn *chat.Turn, logger *slog.Logger, step string, err error, fragments int) error {
	if ctx.Err() == nil && turn.Context().Err() != nil {
		logger.Info("turn cancelled by reset", "step", step, "fragments", fragments)
		return chat.ErrTurnReset
	}
	logger.Warn("turn aborted", "step", step, "error", err, "fragments", fragments)
	return fmt.Errorf("%w: %s: %w", ErrRemote, step, err)
}
