package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/zhouzirui/docchat/backend/internal/model/chat"
)

var (
	ErrTurnInProgress = errors.New("a turn is already in progress for this session")
	ErrTurnReset      = errors.New("session was reset while the turn was running")
	ErrSessionClosed  = errors.New("session closed")
)

// Store holds the ordered transcript of one session. It also tracks the turn
// currently running so a reset can cancel it.
type Store struct {
	info chat.Session

	mu       sync.Mutex
	messages []chat.Message
	epoch    uint64
	active   *Turn
	closed   bool
}

func newStore(info chat.Session) *Store {
	return &Store{info: info, messages: make([]chat.Message, 0, 16)}
}

// Info returns the session metadata.
func (s *Store) Info() chat.Session { return s.info }

// ID is the session identifier.
func (s *Store) ID() string { return s.info.ID }

// ThreadID is the remote thread bound to the session for its whole lifetime.
func (s *Store) ThreadID() string { return s.info.ThreadID }

// Append adds msg at the end of the transcript.
func (s *Store) Append(msg chat.Message) error {
	if _, err := chat.NewMessage(msg.Role, msg.Content); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.messages = append(s.messages, msg)
	return nil
}

// All returns a copy of the transcript in insertion order.
func (s *Store) All() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]chat.Message, len(s.messages))
	copy(copied, s.messages)
	return copied
}

// Len is the number of stored messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Clear empties the transcript and cancels the running turn, if any. Writes
// from that turn are rejected afterwards and a new turn may begin at once.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = s.messages[:0:0]
	s.epoch++
	if s.active != nil {
		s.active.cancel()
		s.active = nil
	}
}

// Close clears the store and rejects further turns and appends.
func (s *Store) Close() {
	s.Clear()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// BeginTurn reserves the session for one request/response cycle. The returned
// turn carries a context cancelled by Clear, Close or Turn.End.
func (s *Store) BeginTurn(ctx context.Context) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.active != nil {
		return nil, ErrTurnInProgress
	}

	turnCtx, cancel := context.WithCancel(ctx)
	t := &Turn{ctx: turnCtx, cancel: cancel, store: s, epoch: s.epoch}
	s.active = t
	return t, nil
}

// Turn is a reservation of a store for one request/response cycle.
type Turn struct {
	ctx    context.Context
	cancel context.CancelFunc
	store  *Store
	epoch  uint64
	once   sync.Once
}

// Context is cancelled when the session is reset or the turn ends.
func (t *Turn) Context() context.Context { return t.ctx }

// Append writes msg unless the store was cleared since the turn began.
func (t *Turn) Append(msg chat.Message) error {
	if _, err := chat.NewMessage(msg.Role, msg.Content); err != nil {
		return err
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.epoch != t.epoch {
		return ErrTurnReset
	}
	s.messages = append(s.messages, msg)
	return nil
}

// End releases the session for the next turn.
func (t *Turn) End() {
	t.once.Do(func() {
		t.cancel()
		s := t.store
		s.mu.Lock()
		if s.active == t {
			s.active = nil
		}
		s.mu.Unlock()
	})
}
