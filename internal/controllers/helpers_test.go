package controllers

import (
	"context"
	"io"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/amaumene/multimediabot/internal/config"
	"github.com/amaumene/multimediabot/internal/models"
	"github.com/amaumene/multimediabot/internal/services/metadata"
	"github.com/amaumene/multimediabot/internal/services/telegram"
	"github.com/amaumene/multimediabot/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	archiveChat   int64 = -100
	principalChat int64 = -200
	adminID       int64 = 42
)

type mirrorCall struct {
	Method    string
	ChatID    int64
	FromChat  int64
	MessageID int
	Caption   string
	Text      string
	Photo     string
	Markup    *telegram.InlineKeyboardMarkup
	Silent    bool
}

// fakeMirror records every call. copyErr, when set, decides the outcome
// of each CopyMessage call.
type fakeMirror struct {
	mu      sync.Mutex
	calls   []mirrorCall
	nextID  int
	copyErr func(toChat, fromChat int64, messageID int) error
	sendErr error
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{nextID: 1000}
}

func (m *fakeMirror) record(c mirrorCall) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
	m.nextID++
	return m.nextID
}

func (m *fakeMirror) CopyMessage(ctx context.Context, toChat, fromChat int64, messageID int, opts telegram.CopyOptions) (int, error) {
	if m.copyErr != nil {
		if err := m.copyErr(toChat, fromChat, messageID); err != nil {
			m.record(mirrorCall{Method: "copyFailed", ChatID: toChat, FromChat: fromChat, MessageID: messageID})
			return 0, err
		}
	}
	c := mirrorCall{Method: "copy", ChatID: toChat, FromChat: fromChat, MessageID: messageID, Markup: opts.ReplyMarkup, Silent: opts.DisableNotification}
	if opts.Caption != nil {
		c.Caption = *opts.Caption
	}
	return m.record(c), nil
}

func (m *fakeMirror) SendText(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) (int, error) {
	if m.sendErr != nil {
		return 0, m.sendErr
	}
	return m.record(mirrorCall{Method: "text", ChatID: chatID, Text: text, Markup: markup}), nil
}

func (m *fakeMirror) SendPhoto(ctx context.Context, chatID int64, photo, caption string, markup *telegram.InlineKeyboardMarkup) (int, error) {
	if m.sendErr != nil {
		return 0, m.sendErr
	}
	return m.record(mirrorCall{Method: "photo", ChatID: chatID, Photo: photo, Caption: caption, Markup: markup}), nil
}

func (m *fakeMirror) EditButtons(ctx context.Context, chatID int64, messageID int, markup *telegram.InlineKeyboardMarkup) error {
	m.record(mirrorCall{Method: "buttons", ChatID: chatID, MessageID: messageID, Markup: markup})
	return nil
}

func (m *fakeMirror) EditText(ctx context.Context, chatID int64, messageID int, text string, markup *telegram.InlineKeyboardMarkup) error {
	m.record(mirrorCall{Method: "edit", ChatID: chatID, MessageID: messageID, Text: text})
	return nil
}

func (m *fakeMirror) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	m.record(mirrorCall{Method: "delete", ChatID: chatID, MessageID: messageID})
	return nil
}

func (m *fakeMirror) AnswerCallback(ctx context.Context, callbackID, text string) error {
	m.record(mirrorCall{Method: "answer", Text: text})
	return nil
}

// byMethod returns the recorded calls of one method, optionally to one chat
func (m *fakeMirror) byMethod(method string, chatID int64) []mirrorCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mirrorCall
	for _, c := range m.calls {
		if c.Method == method && (chatID == 0 || c.ChatID == chatID) {
			out = append(out, c)
		}
	}
	return out
}

func (m *fakeMirror) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *fakeMirror) lastText(chatID int64) string {
	texts := m.byMethod("text", chatID)
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1].Text
}

type fakeLookup struct {
	results map[string]*metadata.Metadata
	err     error
}

func (l *fakeLookup) Search(ctx context.Context, title string) (*metadata.Metadata, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.results[title], nil
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestDB(t *testing.T) *models.Database {
	t.Helper()
	db, err := models.NewDatabase(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestConfig() *config.Config {
	return &config.Config{
		BotUsername:     "mmbot",
		ChannelID:       principalChat,
		SearchChannelID: archiveChat,
		UploadBatchSize: 2,
		CopyMaxAttempts: 3,
	}
}

func newTestRetrier() *Retrier {
	return NewRetrier(3, time.Millisecond, newTestLogger())
}

func newTestPipeline(mirror Mirror, catalog Catalog) *Pipeline {
	p := NewPipeline(newTestConfig(), mirror, catalog, utils.NewIDGenerator(0), newTestRetrier(), newTestLogger())
	p.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return p
}

func files(chatID int64, ids ...int) []FileRef {
	out := make([]FileRef, len(ids))
	for i, id := range ids {
		out[i] = FileRef{ChatID: chatID, MessageID: id, Kind: FileVideo}
	}
	return out
}

var (
	allowedTags = regexp.MustCompile(`</?(b|i|code)>`)
	entities    = regexp.MustCompile(`&(amp|lt|gt|quot|#\d+);`)
)

// assertTelegramHTML fails when text would be rejected in HTML parse mode:
// a stray '<' or an '&' that does not start an entity
func assertTelegramHTML(t *testing.T, text string) {
	t.Helper()
	stripped := entities.ReplaceAllString(allowedTags.ReplaceAllString(text, ""), "")
	assert.NotContains(t, stripped, "<", text)
	assert.NotContains(t, stripped, "&", text)
}
