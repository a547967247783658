// Package relay folds an incremental answer stream into a buffer and republishes
// the cumulative text to a display sink as fragments arrive.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/zhouzirui/docchat/backend/internal/service/assistant"
)

var ErrFinalized = errors.New("streaming buffer already finalized")

// Sink displays the current full answer text. Each Publish replaces what was
// previously shown.
type Sink interface {
	Publish(text string)
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(text string)

func (f SinkFunc) Publish(text string) { f(text) }

// Discard drops every update.
var Discard Sink = SinkFunc(func(string) {})

// Buffer accumulates one in-flight answer.
type Buffer struct {
	sink      Sink
	text      strings.Builder
	fragments int
	finalized bool
}

// NewBuffer returns an empty buffer publishing to sink. A nil sink discards.
func NewBuffer(sink Sink) *Buffer {
	if sink == nil {
		sink = Discard
	}
	return &Buffer{sink: sink}
}

// OnFragment appends text and publishes the accumulated value. Empty text is
// ignored.
func (b *Buffer) OnFragment(text string) error {
	if b.finalized {
		return ErrFinalized
	}
	if text == "" {
		return nil
	}
	b.text.WriteString(text)
	b.fragments++
	b.sink.Publish(b.text.String())
	return nil
}

// Fragments is the number of non-empty fragments accepted so far.
func (b *Buffer) Fragments() int { return b.fragments }

// Finalize freezes the buffer and returns the full text. Only the first call
// succeeds; later calls return ErrFinalized.
func (b *Buffer) Finalize() (string, error) {
	if b.finalized {
		return "", ErrFinalized
	}
	b.finalized = true
	return b.text.String(), nil
}

// Drain consumes stream in arrival order until it signals completion. It
// returns nil on Done (or io.EOF), the run error on an Error event, and the
// context error when ctx ends first.
func Drain(ctx context.Context, stream assistant.RunStream, buf *Buffer) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive fragment: %w", err)
		}

		switch ev.Kind {
		case assistant.EventFragment:
			if err := buf.OnFragment(ev.Text); err != nil {
				return err
			}
		case assistant.EventDone:
			return nil
		case assistant.EventError:
			if ev.Err == nil {
				return errors.New("run failed")
			}
			return fmt.Errorf("run failed: %w", ev.Err)
		}
	}
}
