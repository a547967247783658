package assistant

import (
	"context"
	"io"
	"sync"
)

// EventKind distinguishes run stream events.
type EventKind int

const (
	EventFragment EventKind = iota
	EventDone
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventFragment:
		return "fragment"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one item of a run stream.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Fragment builds a text delta event.
func Fragment(text string) Event { return Event{Kind: EventFragment, Text: text} }

// Done builds the terminal success event.
func Done() Event { return Event{Kind: EventDone} }

// Failure builds the terminal error event.
func Failure(err error) Event { return Event{Kind: EventError, Err: err} }

// RunStream is a lazy, finite, non-restartable sequence of run events. Recv
// blocks until the next event is available. Once Done or Error has been
// delivered, Recv returns io.EOF.
type RunStream interface {
	Recv() (Event, error)
	Close() error
}

// ChanStream adapts a channel of events into a RunStream. A closed channel
// without a terminal event is reported as io.EOF.
type ChanStream struct {
	ctx    context.Context
	events <-chan Event
	once   sync.Once
	stop   func()
	ended  bool
}

// NewChanStream wraps events. stop, when non-nil, is called once on Close.
func NewChanStream(ctx context.Context, events <-chan Event, stop func()) *ChanStream {
	return &ChanStream{ctx: ctx, events: events, stop: stop}
}

func (s *ChanStream) Recv() (Event, error) {
	if s.ended {
		return Event{}, io.EOF
	}
	select {
	case <-s.ctx.Done():
		s.ended = true
		return Event{}, s.ctx.Err()
	case ev, ok := <-s.events:
		if !ok {
			s.ended = true
			return Event{}, io.EOF
		}
		if ev.Kind != EventFragment {
			s.ended = true
		}
		return ev, nil
	}
}

func (s *ChanStream) Close() error {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
	return nil
}
