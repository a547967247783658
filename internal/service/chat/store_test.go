package chat_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/docchat/backend/internal/model/chat"
	chat "github.com/zhouzirui/docchat/backend/internal/service/chat"
)

func newStore(t *testing.T) *chat.Store {
	t.Helper()
	svc := chat.NewService(time.Minute, nil)
	store, err := svc.CreateSession(context.Background(), "thread")
	require.NoError(t, err)
	return store
}

func message(t *testing.T, role model.Role, content string) model.Message {
	t.Helper()
	msg, err := model.NewMessage(role, content)
	require.NoError(t, err)
	return msg
}

func TestStoreKeepsInsertionOrder(t *testing.T) {
	store := newStore(t)

	require.NoError(t, store.Append(message(t, model.RoleUser, "q1")))
	require.NoError(t, store.Append(message(t, model.RoleAssistant, "a1")))
	require.NoError(t, store.Append(message(t, model.RoleUser, "q2")))

	all := store.All()
	require.Len(t, all, 3)
	assert.Equal(t, "q1", all[0].Content)
	assert.Equal(t, "a1", all[1].Content)
	assert.Equal(t, "q2", all[2].Content)
}

func TestStoreAllReturnsCopy(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.Append(message(t, model.RoleUser, "q1")))

	all := store.All()
	all[0].Content = "changed"

	assert.Equal(t, "q1", store.All()[0].Content)
}

func TestStoreAppendValidates(t *testing.T) {
	store := newStore(t)

	err := store.Append(model.Message{Role: model.RoleUser})
	assert.ErrorIs(t, err, model.ErrEmptyContent)

	err = store.Append(model.Message{Role: "tool", Content: "x"})
	assert.ErrorIs(t, err, model.ErrInvalidRole)

	assert.Equal(t, 0, store.Len())
}

func TestStoreClear(t *testing.T) {
	store := newStore(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(message(t, model.RoleUser, "q")))
	}

	store.Clear()
	assert.Equal(t, 0, store.Len())

	require.NoError(t, store.Append(message(t, model.RoleUser, "fresh")))
	assert.Equal(t, 1, store.Len())
}

func TestStoreSingleTurnAtATime(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	turn, err := store.BeginTurn(ctx)
	require.NoError(t, err)

	_, err = store.BeginTurn(ctx)
	assert.ErrorIs(t, err, chat.ErrTurnInProgress)

	turn.End()
	turn.End()

	next, err := store.BeginTurn(ctx)
	require.NoError(t, err)
	next.End()
}

func TestStoreClearCancelsTurnAndRejectsItsWrites(t *testing.T) {
	store := newStore(t)

	turn, err := store.BeginTurn(context.Background())
	require.NoError(t, err)
	defer turn.End()

	require.NoError(t, turn.Append(message(t, model.RoleUser, "q")))
	store.Clear()

	select {
	case <-turn.Context().Done():
	default:
		t.Fatal("expected turn context to be cancelled by Clear")
	}

	err = turn.Append(message(t, model.RoleAssistant, "late answer"))
	assert.ErrorIs(t, err, chat.ErrTurnReset)
	assert.Equal(t, 0, store.Len())

	next, err := store.BeginTurn(context.Background())
	require.NoError(t, err)
	turn.End()
	require.NoError(t, next.Append(message(t, model.RoleUser, "fresh")))
	next.End()
	assert.Equal(t, 1, store.Len())
}

func TestStoreConcurrentAppends(t *testing.T) {
	store := newStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Append(model.Message{Role: model.RoleUser, Content: "q"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, store.Len())
}
