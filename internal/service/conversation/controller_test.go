package conversation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/docchat/backend/internal/model/chat"
	"github.com/zhouzirui/docchat/backend/internal/service/assistant"
	"github.com/zhouzirui/docchat/backend/internal/service/assistant/assistanttest"
	"github.com/zhouzirui/docchat/backend/internal/service/chat"
	"github.com/zhouzirui/docchat/backend/internal/service/conversation"
	"github.com/zhouzirui/docchat/backend/internal/service/relay"
	"github.com/zhouzirui/docchat/backend/internal/service/setup"
)

func newController(t *testing.T, fake *assistanttest.Client, opts conversation.Options) (*conversation.Controller, *chat.Store) {
	t.Helper()
	ready, err := setup.New(fake, setup.Options{
		AssistantName:  "MyFileAssistant",
		CollectionName: "EDSglobal",
		Documents:      []string{"doc.pdf"},
	}, nil).Ensure(context.Background())
	require.NoError(t, err)

	ctrl := conversation.NewController(fake, chat.NewService(time.Minute, nil), ready, opts, nil)
	store, err := ctrl.StartSession(context.Background())
	require.NoError(t, err)
	return ctrl, store
}

type recordingSink struct {
	updates []string
}

func (s *recordingSink) Publish(text string) { s.updates = append(s.updates, text) }

func TestHandleUserTurnAppendsUserThenAssistant(t *testing.T) {
	fake := &assistanttest.Client{}
	fake.Script(assistanttest.Reply("Hel", "lo, ", "world"))
	ctrl, store := newController(t, fake, conversation.Options{RunInstructions: "help with the document"})

	sink := &recordingSink{}
	turn, err := ctrl.HandleUserTurn(context.Background(), store, "greet me", sink)
	require.NoError(t, err)
	require.NotNil(t, turn)

	all := store.All()
	require.Len(t, all, 2)
	assert.Equal(t, model.RoleUser, all[0].Role)
	assert.Equal(t, "greet me", all[0].Content)
	assert.Equal(t, model.RoleAssistant, all[1].Role)
	assert.Equal(t, "Hello, world", all[1].Content)
	assert.Equal(t, 3, turn.Fragments)
	assert.Equal(t, []string{"Hel", "Hello, ", "Hello, world"}, sink.updates)

	posted := fake.Posted()
	require.Len(t, posted, 1)
	assert.Equal(t, assistanttest.Posted{ThreadID: store.ThreadID(), Role: model.RoleUser, Content: "greet me"}, posted[0])

	reqs := fake.RunRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, ctrl.Setup().Assistant.ID, reqs[0].AssistantID)
	assert.Equal(t, "help with the document", reqs[0].Instructions)
}

func TestHandleUserTurnManyTurnsAlternate(t *testing.T) {
	fake := &assistanttest.Client{}
	ctrl, store := newController(t, fake, conversation.Options{})

	const turns = 4
	for i := 0; i < turns; i++ {
		_, err := ctrl.HandleUserTurn(context.Background(), store, "question", relay.Discard)
		require.NoError(t, err)
	}

	all := store.All()
	require.Len(t, all, 2*turns)
	for i, msg := range all {
		want := model.RoleUser
		if i%2 == 1 {
			want = model.RoleAssistant
		}
		assert.Equal(t, want, msg.Role, "message %d", i)
	}

	for _, p := range fake.Posted() {
		assert.Equal(t, store.ThreadID(), p.ThreadID)
	}
	assert.Equal(t, 1, fake.Calls("CreateThread"))
}

func TestHandleUserTurnIgnoresBlankPrompt(t *testing.T) {
	fake := &assistanttest.Client{}
	ctrl, store := newController(t, fake, conversation.Options{})

	for _, prompt := range []string{"", "   ", "\n\t"} {
		turn, err := ctrl.HandleUserTurn(context.Background(), store, prompt, relay.Discard)
		require.NoError(t, err)
		assert.Nil(t, turn)
	}

	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 0, fake.Calls("AppendMessage"))
	assert.Equal(t, 0, fake.Calls("StreamRun"))
}

func TestHandleUserTurnRecoversAfterStreamError(t *testing.T) {
	fake := &assistanttest.Client{}
	fake.Script(
		assistanttest.Run{Events: []assistant.Event{
			assistant.Fragment("half an ans"),
			assistant.Failure(errors.New("connection reset")),
		}},
		assistanttest.Reply("second try"),
	)
	ctrl, store := newController(t, fake, conversation.Options{})

	_, err := ctrl.HandleUserTurn(context.Background(), store, "first", relay.Discard)
	require.ErrorIs(t, err, conversation.ErrRemote)

	all := store.All()
	require.Len(t, all, 1)
	assert.Equal(t, model.RoleUser, all[0].Role)

	_, err = ctrl.HandleUserTurn(context.Background(), store, "again", relay.Discard)
	require.NoError(t, err)

	all = store.All()
	require.Len(t, all, 3)
	assert.Equal(t, "again", all[1].Content)
	assert.Equal(t, "second try", all[2].Content)
}

func TestHandleUserTurnStartRunFailure(t *testing.T) {
	fake := &assistanttest.Client{}
	fake.Script(assistanttest.Run{Err: errors.New("503")})
	ctrl, store := newController(t, fake, conversation.Options{})

	_, err := ctrl.HandleUserTurn(context.Background(), store, "q", relay.Discard)
	require.ErrorIs(t, err, conversation.ErrRemote)
	assert.Equal(t, 1, store.Len())
}

func TestHandleUserTurnAppendMessageFailure(t *testing.T) {
	fake := &assistanttest.Client{AppendErr: errors.New("thread gone")}
	ctrl, store := newController(t, fake, conversation.Options{})

	_, err := ctrl.HandleUserTurn(context.Background(), store, "q", relay.Discard)
	require.ErrorIs(t, err, conversation.ErrRemote)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 0, fake.Calls("StreamRun"))
}

func TestHandleUserTurnEmptyAnswer(t *testing.T) {
	fake := &assistanttest.Client{}
	fake.Script(assistanttest.Run{Events: []assistant.Event{assistant.Fragment(""), assistant.Done()}})
	ctrl, store := newController(t, fake, conversation.Options{})

	_, err := ctrl.HandleUserTurn(context.Background(), store, "q", relay.Discard)
	require.ErrorIs(t, err, conversation.ErrEmptyAnswer)
	assert.Equal(t, 1, store.Len())
}

func TestResetStartsFreshHistory(t *testing.T) {
	fake := &assistanttest.Client{}
	ctrl, store := newController(t, fake, conversation.Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := ctrl.HandleUserTurn(ctx, store, "q", relay.Discard)
		require.NoError(t, err)
	}
	require.Equal(t, 6, store.Len())

	ctrl.Reset(ctx, store)
	assert.Equal(t, 0, store.Len())

	_, err := ctrl.HandleUserTurn(ctx, store, "after reset", relay.Discard)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, 1, fake.Calls("CreateThread"))
}

func TestResetCancelsInFlightTurn(t *testing.T) {
	fake := &assistanttest.Client{Started: make(chan string, 1)}
	fake.Script(assistanttest.Run{Events: []assistant.Event{assistant.Fragment("thinking")}, Block: true})
	ctrl, store := newController(t, fake, conversation.Options{})
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, err := ctrl.HandleUserTurn(ctx, store, "slow question", relay.Discard)
		errCh <- err
	}()

	select {
	case <-fake.Started:
	case <-time.After(2 * time.Second):
		t.Fatal("run never started")
	}
	ctrl.Reset(ctx, store)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, chat.ErrTurnReset)
	case <-time.After(2 * time.Second):
		t.Fatal("turn was not cancelled by reset")
	}
	assert.Equal(t, 0, store.Len())

	_, err := ctrl.HandleUserTurn(ctx, store, "next", relay.Discard)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())
}

func TestResetWhileRemoteCallIsPending(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*assistanttest.Client)
	}{
		{
			name:  "append message",
			setup: func(c *assistanttest.Client) { c.StallAppend = true },
		},
		{
			name:  "start run",
			setup: func(c *assistanttest.Client) { c.Script(assistanttest.Run{Stall: true}) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &assistanttest.Client{Started: make(chan string, 1)}
			tt.setup(fake)
			ctrl, store := newController(t, fake, conversation.Options{})
			ctx := context.Background()

			errCh := make(chan error, 1)
			go func() {
				_, err := ctrl.HandleUserTurn(ctx, store, "slow question", relay.Discard)
				errCh <- err
			}()

			select {
			case <-fake.Started:
			case <-time.After(2 * time.Second):
				t.Fatal("remote call never started")
			}
			ctrl.Reset(ctx, store)

			select {
			case err := <-errCh:
				assert.ErrorIs(t, err, chat.ErrTurnReset)
				assert.NotErrorIs(t, err, conversation.ErrRemote)
			case <-time.After(2 * time.Second):
				t.Fatal("turn was not cancelled by reset")
			}
			assert.Equal(t, 0, store.Len())
		})
	}
}

func TestCallerCancellationIsNotReportedAsReset(t *testing.T) {
	fake := &assistanttest.Client{Started: make(chan string, 1)}
	fake.Script(assistanttest.Run{Stall: true})
	ctrl, store := newController(t, fake, conversation.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := ctrl.HandleUserTurn(ctx, store, "q", relay.Discard)
		errCh <- err
	}()
	<-fake.Started
	cancel()

	err := <-errCh
	assert.ErrorIs(t, err, conversation.ErrRemote)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, chat.ErrTurnReset)
}

func TestHandleUserTurnTimeout(t *testing.T) {
	fake := &assistanttest.Client{}
	fake.Script(assistanttest.Run{Block: true})
	ctrl, store := newController(t, fake, conversation.Options{TurnTimeout: 30 * time.Millisecond})

	_, err := ctrl.HandleUserTurn(context.Background(), store, "q", relay.Discard)
	require.ErrorIs(t, err, conversation.ErrRemote)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, store.Len())
}

func TestHandleUserTurnRejectsConcurrentTurn(t *testing.T) {
	fake := &assistanttest.Client{Started: make(chan string, 1)}
	fake.Script(assistanttest.Run{Block: true})
	ctrl, store := newController(t, fake, conversation.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = ctrl.HandleUserTurn(ctx, store, "first", relay.Discard)
	}()
	<-fake.Started

	_, err := ctrl.HandleUserTurn(context.Background(), store, "second", relay.Discard)
	assert.ErrorIs(t, err, chat.ErrTurnInProgress)

	cancel()
	<-done
}
