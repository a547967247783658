package assistant_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/docchat/backend/internal/service/assistant"
)

func TestChanStreamDeliversInOrderThenEOF(t *testing.T) {
	events := make(chan assistant.Event, 3)
	events <- assistant.Fragment("a")
	events <- assistant.Fragment("b")
	events <- assistant.Done()
	close(events)

	closed := 0
	stream := assistant.NewChanStream(context.Background(), events, func() { closed++ })

	var got []string
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, ev.Kind.String()+":"+ev.Text)
	}
	assert.Equal(t, []string{"fragment:a", "fragment:b", "done:"}, got)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	assert.Equal(t, 1, closed)
}

func TestChanStreamStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := assistant.NewChanStream(ctx, make(chan assistant.Event), nil)
	cancel()

	_, err := stream.Recv()
	assert.ErrorIs(t, err, context.Canceled)

	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
}
