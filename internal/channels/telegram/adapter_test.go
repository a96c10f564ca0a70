package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dupeguard/imagedb"
	"dupeguard/internal/channels"
	"dupeguard/internal/config"
	"dupeguard/internal/dedup"
	"dupeguard/internal/monitoring"
	"dupeguard/internal/ratelimit"
)

// mockBot implements botAPI for testing
type mockBot struct {
	mu               sync.Mutex
	files            map[string]*models.File
	fileBase         string
	sendMessageCalls []*bot.SendMessageParams
	sendMessageErrs  []error
	setWebhookCalls  []*bot.SetWebhookParams
	deletedWebhook   bool
	started          chan struct{}
}

func newMockBot(fileBase string) *mockBot {
	return &mockBot{
		files:    make(map[string]*models.File),
		fileBase: fileBase,
		started:  make(chan struct{}, 1),
	}
}

func (m *mockBot) Start(ctx context.Context) {
	m.started <- struct{}{}
	<-ctx.Done()
}

func (m *mockBot) StartWebhook(ctx context.Context) {
	m.started <- struct{}{}
	<-ctx.Done()
}

func (m *mockBot) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {}
}

func (m *mockBot) SetWebhook(ctx context.Context, params *bot.SetWebhookParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setWebhookCalls = append(m.setWebhookCalls, params)
	return true, nil
}

func (m *mockBot) DeleteWebhook(ctx context.Context, params *bot.DeleteWebhookParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedWebhook = true
	return true, nil
}

func (m *mockBot) GetMe(ctx context.Context) (*models.User, error) {
	return &models.User{ID: 1, FirstName: "Guard", Username: "testbot"}, nil
}

func (m *mockBot) GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error) {
	f, ok := m.files[params.FileID]
	if !ok {
		return nil, fmt.Errorf("file %s not found", params.FileID)
	}
	return f, nil
}

func (m *mockBot) FileDownloadLink(f *models.File) string {
	return m.fileBase + "/" + f.FilePath
}

func (m *mockBot) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendMessageCalls = append(m.sendMessageCalls, params)
	if len(m.sendMessageErrs) > 0 {
		err := m.sendMessageErrs[0]
		m.sendMessageErrs = m.sendMessageErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &models.Message{ID: 1}, nil
}

// fakeChecker records checks and answers from a queue.
type fakeChecker struct {
	calls   []dedup.ImageMetadata
	data    [][]byte
	chats   []int64
	results []dedup.Classification
	err     error
}

func (f *fakeChecker) Check(ctx context.Context, chatID int64, data []byte, meta dedup.ImageMetadata) (dedup.Classification, error) {
	f.calls = append(f.calls, meta)
	f.data = append(f.data, data)
	f.chats = append(f.chats, chatID)
	if f.err != nil {
		return dedup.Classification{}, f.err
	}
	if len(f.results) == 0 {
		return dedup.Classification{Kind: imagedb.KindNew}, nil
	}
	c := f.results[0]
	f.results = f.results[1:]
	return c, nil
}

type outcomes struct {
	seen []string
}

func (o *outcomes) ObserveSubmit(outcome string, d time.Duration) {
	o.seen = append(o.seen, outcome)
}

// fileServer serves "<path>" with body "bytes:<path>".
func fileServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "missing") {
			http.NotFound(w, r)
			return
		}
		assert.True(t, strings.HasPrefix(r.UserAgent(), "dupeguard/"))
		fmt.Fprintf(w, "bytes:%s", strings.TrimPrefix(r.URL.Path, "/"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAdapter(t *testing.T, checker Checker, opts Options) (*Adapter, *mockBot) {
	t.Helper()
	srv := fileServer(t)
	mb := newMockBot(srv.URL)
	cfg := config.Default().Telegram
	cfg.DownloadRPS = 0
	a := NewAdapter(cfg, []string{"png", "jpg", "jpeg"}, checker, opts)
	a.bot = mb
	return a, mb
}

func photoMessage(chatID int64, msgID int, user *models.User, sizes ...models.PhotoSize) *models.Message {
	return &models.Message{
		ID:    msgID,
		From:  user,
		Chat:  models.Chat{ID: chatID},
		Photo: sizes,
	}
}

func TestProcessMessage_NewImage(t *testing.T) {
	checker := &fakeChecker{}
	a, mb := newTestAdapter(t, checker, Options{})
	mb.files["big"] = &models.File{FileID: "big", FilePath: "photos/file_1.JPG"}

	user := &models.User{ID: 7, FirstName: "Ann"}
	msg := photoMessage(-100, 42, user,
		models.PhotoSize{FileID: "small", FileSize: 10},
		models.PhotoSize{FileID: "big", FileSize: 500},
		models.PhotoSize{FileID: "medium", FileSize: 100},
	)

	require.NoError(t, a.processMessage(context.Background(), msg))

	require.Len(t, checker.calls, 1)
	assert.Equal(t, dedup.ImageMetadata{Name: "big.jpg", UserID: 7, MessageID: 42}, checker.calls[0])
	assert.Equal(t, "bytes:photos/file_1.JPG", string(checker.data[0]))
	assert.Equal(t, int64(-100), checker.chats[0])
	assert.Empty(t, mb.sendMessageCalls)
}

func TestProcessMessage_DocumentPreferred(t *testing.T) {
	checker := &fakeChecker{}
	a, mb := newTestAdapter(t, checker, Options{})
	mb.files["doc"] = &models.File{FileID: "doc", FilePath: "documents/scan.png"}

	msg := photoMessage(5, 1, &models.User{ID: 1}, models.PhotoSize{FileID: "photo", FileSize: 1})
	msg.Document = &models.Document{FileID: "doc"}

	require.NoError(t, a.processMessage(context.Background(), msg))
	require.Len(t, checker.calls, 1)
	assert.Equal(t, "doc.png", checker.calls[0].Name)
}

func TestProcessMessage_Duplicate(t *testing.T) {
	checker := &fakeChecker{results: []dedup.Classification{{
		Kind:  imagedb.KindAlreadyExists,
		Match: dedup.ImageMetadata{Name: "orig.png", UserID: 3, MessageID: 11},
	}}}
	a, mb := newTestAdapter(t, checker, Options{})
	mb.files["p"] = &models.File{FileID: "p", FilePath: "photos/p.png"}

	user := &models.User{ID: 9, FirstName: "Bob", Username: "bob_1"}
	require.NoError(t, a.processMessage(context.Background(), photoMessage(-5, 30, user, models.PhotoSize{FileID: "p"})))

	require.Len(t, mb.sendMessageCalls, 1)
	call := mb.sendMessageCalls[0]
	assert.Equal(t, int64(-5), call.ChatID)
	assert.Equal(t, models.ParseModeMarkdown, call.ParseMode)
	require.NotNil(t, call.ReplyParameters)
	assert.Equal(t, 11, call.ReplyParameters.MessageID)
	assert.Contains(t, call.Text, "tg://user?id=9")
	assert.Contains(t, call.Text, bot.EscapeMarkdown("Bob (bob_1)"))
	assert.Equal(t, channels.StatusInitializing, a.Status().Status)
	assert.Equal(t, int64(1), a.Status().Details["duplicates"])
}

func TestProcessMessage_DuplicateReplyFallback(t *testing.T) {
	checker := &fakeChecker{results: []dedup.Classification{{
		Kind:  imagedb.KindAlreadyExists,
		Match: dedup.ImageMetadata{Name: "orig.png", MessageID: 11},
	}}}
	a, mb := newTestAdapter(t, checker, Options{})
	mb.files["p"] = &models.File{FileID: "p", FilePath: "p.png"}
	mb.sendMessageErrs = []error{errors.New("message to reply not found")}

	require.NoError(t, a.processMessage(context.Background(), photoMessage(1, 2, &models.User{ID: 4}, models.PhotoSize{FileID: "p"})))

	require.Len(t, mb.sendMessageCalls, 2)
	assert.NotNil(t, mb.sendMessageCalls[0].ReplyParameters)
	assert.Nil(t, mb.sendMessageCalls[1].ReplyParameters)
	assert.Contains(t, mb.sendMessageCalls[1].Text, "No link")
}

func TestProcessMessage_UnsupportedExtension(t *testing.T) {
	checker := &fakeChecker{}
	obs := &outcomes{}
	a, mb := newTestAdapter(t, checker, Options{Observer: obs})
	mb.files["g"] = &models.File{FileID: "g", FilePath: "animations/g.gif"}

	require.NoError(t, a.processMessage(context.Background(), photoMessage(1, 1, &models.User{ID: 1}, models.PhotoSize{FileID: "g"})))
	assert.Empty(t, checker.calls)
	assert.Equal(t, []string{monitoring.OutcomeSkipped}, obs.seen)
}

func TestProcessMessage_Ignored(t *testing.T) {
	checker := &fakeChecker{}
	a, _ := newTestAdapter(t, checker, Options{})

	// No image.
	require.NoError(t, a.processMessage(context.Background(), &models.Message{ID: 1, From: &models.User{ID: 1}, Text: "hi"}))
	// No sender.
	require.NoError(t, a.processMessage(context.Background(), photoMessage(1, 1, nil, models.PhotoSize{FileID: "p"})))
	assert.Empty(t, checker.calls)
}

func TestProcessMessage_RateLimited(t *testing.T) {
	checker := &fakeChecker{}
	obs := &outcomes{}
	limiter := ratelimit.NewSlidingWindow(time.Minute, 1, time.Hour)
	defer limiter.Stop()

	a, mb := newTestAdapter(t, checker, Options{Limiter: limiter, Observer: obs})
	mb.files["p"] = &models.File{FileID: "p", FilePath: "p.png"}
	msg := photoMessage(1, 1, &models.User{ID: 1}, models.PhotoSize{FileID: "p"})

	require.NoError(t, a.processMessage(context.Background(), msg))
	require.NoError(t, a.processMessage(context.Background(), msg))

	assert.Len(t, checker.calls, 1)
	assert.Equal(t, []string{monitoring.OutcomeRateLimited}, obs.seen)
}

func TestProcessMessage_DecodeErrorSkipped(t *testing.T) {
	checker := &fakeChecker{err: fmt.Errorf("%w: bad", imagedb.ErrDecode)}
	a, mb := newTestAdapter(t, checker, Options{})
	mb.files["p"] = &models.File{FileID: "p", FilePath: "p.png"}

	require.NoError(t, a.processMessage(context.Background(), photoMessage(1, 1, &models.User{ID: 1}, models.PhotoSize{FileID: "p"})))
	assert.Empty(t, mb.sendMessageCalls)
}

func TestProcessMessage_Errors(t *testing.T) {
	t.Run("storage", func(t *testing.T) {
		checker := &fakeChecker{err: fmt.Errorf("%w: disk full", imagedb.ErrStorage)}
		a, mb := newTestAdapter(t, checker, Options{})
		mb.files["p"] = &models.File{FileID: "p", FilePath: "p.png"}

		err := a.processMessage(context.Background(), photoMessage(1, 1, &models.User{ID: 1}, models.PhotoSize{FileID: "p"}))
		assert.ErrorIs(t, err, imagedb.ErrStorage)
	})

	t.Run("unknown file", func(t *testing.T) {
		a, _ := newTestAdapter(t, &fakeChecker{}, Options{})
		err := a.processMessage(context.Background(), photoMessage(1, 1, &models.User{ID: 1}, models.PhotoSize{FileID: "nope"}))
		assert.Error(t, err)
	})

	t.Run("download failure", func(t *testing.T) {
		checker := &fakeChecker{}
		a, mb := newTestAdapter(t, checker, Options{})
		mb.files["p"] = &models.File{FileID: "p", FilePath: "missing.png"}

		err := a.processMessage(context.Background(), photoMessage(1, 1, &models.User{ID: 1}, models.PhotoSize{FileID: "p"}))
		assert.ErrorContains(t, err, "404")
		assert.Empty(t, checker.calls)
	})
}

func TestMention(t *testing.T) {
	assert.Equal(t, "[Ann](tg://user?id=5)", mention(&models.User{ID: 5, FirstName: "Ann"}))
	assert.Equal(t, "[Ann \\(a\\_b\\)](tg://user?id=5)", mention(&models.User{ID: 5, FirstName: "Ann", Username: "a_b"}))
}

func TestStartStop_Polling(t *testing.T) {
	a, mb := newTestAdapter(t, &fakeChecker{}, Options{})

	require.NoError(t, a.Start(context.Background()))
	<-mb.started
	assert.True(t, mb.deletedWebhook)

	status := a.Status()
	assert.Equal(t, channels.StatusOnline, status.Status)
	assert.Equal(t, "testbot", status.Details["bot_username"])

	require.NoError(t, a.Stop())
	assert.Equal(t, channels.StatusOffline, a.Status().Status)
}

func TestStartStop_Webhook(t *testing.T) {
	a, mb := newTestAdapter(t, &fakeChecker{}, Options{})
	a.config.WebhookMode = true
	a.config.WebhookURL = "https://example.com/bot/"
	a.config.ListenAddr = "127.0.0.1:0"

	require.NoError(t, a.Start(context.Background()))
	<-mb.started

	require.Len(t, mb.setWebhookCalls, 1)
	assert.Equal(t, "https://example.com/bot/update", mb.setWebhookCalls[0].URL)
	require.NoError(t, a.Stop())
}
