package bot

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/amaumene/multimediabot/internal/services/telegram"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type handlerFunc func(ctx context.Context, update telegram.Update)

func (f handlerFunc) HandleUpdate(ctx context.Context, update telegram.Update) { f(ctx, update) }

func privateUpdate(id int, userID int64) telegram.Update {
	return telegram.Update{
		UpdateID: id,
		Message: &telegram.Message{
			MessageID: id,
			From:      &telegram.User{ID: userID},
			Chat:      telegram.Chat{ID: userID, Type: telegram.ChatPrivate},
		},
	}
}

func TestUpdateKey(t *testing.T) {
	assert.Equal(t, "user:7", UpdateKey(privateUpdate(1, 7)))

	group := telegram.Update{Message: &telegram.Message{
		From: &telegram.User{ID: 7},
		Chat: telegram.Chat{ID: -50, Type: telegram.ChatSupergroup},
	}}
	assert.Equal(t, "group:-50", UpdateKey(group))

	cb := telegram.Update{CallbackQuery: &telegram.CallbackQuery{From: telegram.User{ID: 9}}}
	assert.Equal(t, "user:9", UpdateKey(cb))
}

func TestDispatcher_SameKeyRunsInOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	handler := handlerFunc(func(ctx context.Context, update telegram.Update) {
		// later updates would overtake earlier ones if they ran concurrently
		time.Sleep(time.Duration(10-update.UpdateID) * time.Millisecond)
		mu.Lock()
		seen = append(seen, update.UpdateID)
		mu.Unlock()
	})

	d := NewDispatcher(context.Background(), handler, newTestLogger())
	for i := 1; i <= 5; i++ {
		d.Dispatch(privateUpdate(i, 7))
	}
	d.Close()

	assert.Equal(t, []int{1, 2, 3, 4, 5}, seen)
}

func TestDispatcher_KeysDoNotBlockEachOther(t *testing.T) {
	release := make(chan struct{})
	done := make(chan int, 2)
	handler := handlerFunc(func(ctx context.Context, update telegram.Update) {
		if update.Message.From.ID == 1 {
			<-release
		}
		done <- update.UpdateID
	})

	d := NewDispatcher(context.Background(), handler, newTestLogger())
	d.Dispatch(privateUpdate(1, 1))
	d.Dispatch(privateUpdate(2, 2))

	select {
	case id := <-done:
		assert.Equal(t, 2, id)
	case <-time.After(2 * time.Second):
		t.Fatal("update of an idle key was blocked by a busy key")
	}
	close(release)
	d.Close()
	assert.Equal(t, 1, <-done)
}

func TestDispatcher_RecoversFromPanics(t *testing.T) {
	var handled []int
	handler := handlerFunc(func(ctx context.Context, update telegram.Update) {
		if update.UpdateID == 1 {
			panic("boom")
		}
		handled = append(handled, update.UpdateID)
	})

	d := NewDispatcher(context.Background(), handler, newTestLogger())
	d.Dispatch(privateUpdate(1, 7))
	d.Dispatch(privateUpdate(2, 7))
	d.Close()

	require.Equal(t, []int{2}, handled)
}

func TestDispatcher_DropsAfterClose(t *testing.T) {
	calls := 0
	d := NewDispatcher(context.Background(), handlerFunc(func(ctx context.Context, update telegram.Update) { calls++ }), newTestLogger())
	d.Close()
	d.Dispatch(privateUpdate(1, 7))
	d.Close()
	assert.Zero(t, calls)
}
