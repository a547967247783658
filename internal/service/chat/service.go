package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/zhouzirui/docchat/backend/internal/model/chat"
)

var (
	ErrThreadRequired  = errors.New("thread id is required")
	ErrSessionNotFound = errors.New("session not found")
)

// DefaultIdleTTL is how long an untouched session is kept.
const DefaultIdleTTL = time.Hour

// Service is the registry of live sessions. Sessions that stay idle longer
// than the TTL are evicted and closed.
type Service struct {
	sessions *cache.Cache
	logger   *slog.Logger
}

// NewService creates a registry. A non-positive idleTTL uses DefaultIdleTTL.
func NewService(idleTTL time.Duration, logger *slog.Logger) *Service {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := cache.New(idleTTL, idleTTL/2)
	c.OnEvicted(func(id string, v interface{}) {
		if store, ok := v.(*Store); ok {
			store.Close()
		}
		logger.Debug("session released", "session_id", id)
	})

	return &Service{sessions: c, logger: logger}
}

// CreateSession registers an empty session bound to a remote thread.
func (s *Service) CreateSession(_ context.Context, threadID string) (*Store, error) {
	if threadID == "" {
		return nil, ErrThreadRequired
	}

	store := newStore(chat.Session{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		CreatedAt: time.Now().UTC(),
	})
	s.sessions.Set(store.ID(), store, cache.DefaultExpiration)

	s.logger.Info("session created", "session_id", store.ID(), "thread_id", threadID)
	return store, nil
}

// GetSession looks up a live session and refreshes its idle timer.
func (s *Service) GetSession(_ context.Context, sessionID string) (*Store, error) {
	v, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	store := v.(*Store)
	s.sessions.Set(sessionID, store, cache.DefaultExpiration)
	return store, nil
}

// EndSession closes and forgets a session.
func (s *Service) EndSession(_ context.Context, sessionID string) error {
	if _, ok := s.sessions.Get(sessionID); !ok {
		return ErrSessionNotFound
	}
	s.sessions.Delete(sessionID)
	return nil
}

// Count is the number of live sessions.
func (s *Service) Count() int {
	return s.sessions.ItemCount()
}
