package relay_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/docchat/backend/internal/service/assistant"
	"github.com/zhouzirui/docchat/backend/internal/service/assistant/assistanttest"
	"github.com/zhouzirui/docchat/backend/internal/service/relay"
)

type recordingSink struct {
	updates []string
}

func (s *recordingSink) Publish(text string) {
	s.updates = append(s.updates, text)
}

func TestBufferPublishesCumulativeText(t *testing.T) {
	sink := &recordingSink{}
	buf := relay.NewBuffer(sink)

	for _, f := range []string{"Hel", "lo, ", "world"} {
		require.NoError(t, buf.OnFragment(f))
	}

	text, err := buf.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", text)
	assert.Equal(t, []string{"Hel", "Hello, ", "Hello, world"}, sink.updates)
	assert.Equal(t, 3, buf.Fragments())
}

func TestBufferIgnoresEmptyFragments(t *testing.T) {
	sink := &recordingSink{}
	buf := relay.NewBuffer(sink)

	require.NoError(t, buf.OnFragment(""))
	require.NoError(t, buf.OnFragment("a"))
	require.NoError(t, buf.OnFragment(""))

	assert.Equal(t, []string{"a"}, sink.updates)
	assert.Equal(t, 1, buf.Fragments())
}

func TestBufferFinalizeOnce(t *testing.T) {
	buf := relay.NewBuffer(nil)
	require.NoError(t, buf.OnFragment("done"))

	text, err := buf.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "done", text)

	_, err = buf.Finalize()
	assert.ErrorIs(t, err, relay.ErrFinalized)
	assert.ErrorIs(t, buf.OnFragment("late"), relay.ErrFinalized)
}

func TestDrainFoldsStream(t *testing.T) {
	fake := &assistanttest.Client{}
	fake.Script(assistanttest.Reply("Hel", "", "lo, ", "world"))
	ctx := context.Background()

	stream, err := fake.StreamRun(ctx, assistant.RunRequest{ThreadID: "t"})
	require.NoError(t, err)
	defer stream.Close()

	sink := &recordingSink{}
	buf := relay.NewBuffer(sink)
	require.NoError(t, relay.Drain(ctx, stream, buf))

	text, err := buf.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", text)
	assert.Equal(t, []string{"Hel", "Hello, ", "Hello, world"}, sink.updates)
}

func TestDrainReturnsRunError(t *testing.T) {
	boom := errors.New("remote fault")
	fake := &assistanttest.Client{}
	fake.Script(assistanttest.Run{Events: []assistant.Event{
		assistant.Fragment("partial"),
		assistant.Failure(boom),
	}})
	ctx := context.Background()

	stream, err := fake.StreamRun(ctx, assistant.RunRequest{ThreadID: "t"})
	require.NoError(t, err)
	defer stream.Close()

	sink := &recordingSink{}
	err = relay.Drain(ctx, stream, relay.NewBuffer(sink))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"partial"}, sink.updates)
}

func TestDrainStopsWhenContextEnds(t *testing.T) {
	fake := &assistanttest.Client{}
	fake.Script(assistanttest.Run{Events: []assistant.Event{assistant.Fragment("x")}, Block: true})
	ctx, cancel := context.WithCancel(context.Background())

	stream, err := fake.StreamRun(ctx, assistant.RunRequest{ThreadID: "t"})
	require.NoError(t, err)
	defer stream.Close()

	sink := relay.SinkFunc(func(string) { cancel() })
	err = relay.Drain(ctx, stream, relay.NewBuffer(sink))
	assert.ErrorIs(t, err, context.Canceled)
}
