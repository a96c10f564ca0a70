package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"dupeguard/imagedb"
	"dupeguard/internal/channels"
	"dupeguard/internal/config"
	"dupeguard/internal/dedup"
	"dupeguard/internal/monitoring"
	"dupeguard/internal/ratelimit"
	"dupeguard/internal/version"
)

// maxDownloadSize is the Bot API limit for getFile downloads.
const maxDownloadSize = 20 << 20

// webhookPath is appended to the configured webhook URL.
const webhookPath = "/update"

// botAPI abstracts the Telegram bot methods used by the adapter, enabling testing with mocks.
type botAPI interface {
	Start(ctx context.Context)
	StartWebhook(ctx context.Context)
	WebhookHandler() http.HandlerFunc
	SetWebhook(ctx context.Context, params *bot.SetWebhookParams) (bool, error)
	DeleteWebhook(ctx context.Context, params *bot.DeleteWebhookParams) (bool, error)
	GetMe(ctx context.Context) (*models.User, error)
	GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error)
	FileDownloadLink(f *models.File) string
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Checker classifies a downloaded image for one chat.
type Checker interface {
	Check(ctx context.Context, chatID int64, data []byte, meta dedup.ImageMetadata) (dedup.Classification, error)
}

// Observer counts submissions the checker never sees.
type Observer interface {
	ObserveSubmit(outcome string, d time.Duration)
}

// Options are the optional collaborators of an Adapter.
type Options struct {
	Limiter    *ratelimit.SlidingWindow // per-user submission limit
	Observer   Observer
	HTTPClient *http.Client
}

// Adapter receives chat images from Telegram and replies to duplicates.
type Adapter struct {
	bot        botAPI
	config     config.TelegramConfig
	extensions map[string]bool
	checker    Checker
	limiter    *ratelimit.SlidingWindow
	observer   Observer
	httpClient *http.Client
	downloads  *rate.Limiter

	server *http.Server
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mutex     sync.RWMutex
	status    channels.StatusCode
	statusMsg string
	startTime time.Time
	botName   string

	processed  atomic.Int64
	duplicates atomic.Int64
}

// NewAdapter creates an adapter. The bot connection is made by Start.
func NewAdapter(cfg config.TelegramConfig, extensions []string, checker Checker, opts Options) *Adapter {
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = true
	}

	limit := rate.Inf
	if cfg.DownloadRPS > 0 {
		limit = rate.Limit(cfg.DownloadRPS)
	}

	a := &Adapter{
		config:     cfg,
		extensions: exts,
		checker:    checker,
		limiter:    opts.Limiter,
		observer:   opts.Observer,
		httpClient: opts.HTTPClient,
		downloads:  rate.NewLimiter(limit, 1),
		status:     channels.StatusInitializing,
	}
	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return a
}

// Name returns the adapter's human-readable name
func (a *Adapter) Name() string { return "telegram" }

func (a *Adapter) setStatus(code channels.StatusCode, msg string) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.status = code
	a.statusMsg = msg
}

// Start connects to the Bot API and starts polling or serving the webhook.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.startTime = time.Now()
	a.setStatus(channels.StatusInitializing, "Starting Telegram bot")

	if a.bot == nil {
		opts := []bot.Option{bot.WithDefaultHandler(a.handleUpdate)}
		if a.config.Debug {
			opts = append(opts, bot.WithDebug())
		}
		telegramBot, err := bot.New(a.config.BotToken, opts...)
		if err != nil {
			a.setStatus(channels.StatusError, fmt.Sprintf("Failed to create bot: %v", err))
			return fmt.Errorf("failed to create Telegram bot: %w", err)
		}
		a.bot = telegramBot
	}

	me, err := a.bot.GetMe(ctx)
	if err != nil {
		a.setStatus(channels.StatusError, fmt.Sprintf("getMe failed: %v", err))
		return fmt.Errorf("failed to identify bot: %w", err)
	}
	a.mutex.Lock()
	a.botName = me.Username
	a.mutex.Unlock()
	log.Printf("[Telegram] Started as %s (@%s)", me.FirstName, me.Username)

	if a.config.WebhookMode {
		if err := a.startWebhook(ctx); err != nil {
			a.setStatus(channels.StatusError, err.Error())
			return err
		}
	} else {
		// Polling fails while a webhook is registered.
		if _, err := a.bot.DeleteWebhook(ctx, &bot.DeleteWebhookParams{}); err != nil {
			log.Printf("[Telegram] Warning: failed to delete webhook: %v", err)
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			log.Printf("[Telegram] Starting polling mode")
			a.bot.Start(ctx)
			a.setStatus(channels.StatusOffline, "Bot stopped")
		}()
	}

	a.setStatus(channels.StatusOnline, "Bot is running")
	return nil
}

func (a *Adapter) startWebhook(ctx context.Context) error {
	url := strings.TrimRight(a.config.WebhookURL, "/") + webhookPath
	ok, err := a.bot.SetWebhook(ctx, &bot.SetWebhookParams{URL: url})
	if err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	if !ok {
		return fmt.Errorf("telegram refused webhook %s", url)
	}
	log.Printf("[Telegram] Webhook has been set on %s", url)

	mux := http.NewServeMux()
	mux.Handle(webhookPath, a.bot.WebhookHandler())
	a.server = &http.Server{
		Addr:              a.config.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.bot.StartWebhook(ctx)
	}()
	go func() {
		defer a.wg.Done()
		log.Printf("[Telegram] Listening on %s", a.config.ListenAddr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[Telegram] Webhook server error: %v", err)
			a.setStatus(channels.StatusError, err.Error())
		}
	}()
	return nil
}

// Stop gracefully shuts down the adapter
func (a *Adapter) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}
	var err error
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = a.server.Shutdown(ctx)
	}
	a.wg.Wait()
	a.setStatus(channels.StatusOffline, "Adapter stopped")
	log.Printf("[Telegram] Adapter stopped")
	return err
}

// Status returns the current adapter status
func (a *Adapter) Status() channels.ChannelStatus {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	details := map[string]any{
		"processed":  a.processed.Load(),
		"duplicates": a.duplicates.Load(),
	}
	if !a.startTime.IsZero() {
		details["uptime_seconds"] = time.Since(a.startTime).Seconds()
	}
	if a.botName != "" {
		details["bot_username"] = a.botName
	}
	if a.limiter != nil {
		details["rate_limited_users"] = a.limiter.GetStats().ActiveUsers
	}

	return channels.ChannelStatus{
		Status:    a.status,
		Message:   a.statusMsg,
		Details:   details,
		Timestamp: time.Now(),
	}
}

// handleUpdate processes incoming Telegram updates
func (a *Adapter) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	if err := a.processMessage(ctx, update.Message); err != nil {
		log.Printf("[Telegram] Failed to process message %d in chat %d: %v",
			update.Message.ID, update.Message.Chat.ID, err)
	}
}

// pickFile returns the file to check: the document if present, otherwise
// the photo size with the largest file size.
func pickFile(msg *models.Message) string {
	if msg.Document != nil {
		return msg.Document.FileID
	}
	var (
		best   string
		bestSz = -1
	)
	for _, p := range msg.Photo {
		if p.FileSize > bestSz {
			best, bestSz = p.FileID, p.FileSize
		}
	}
	return best
}

// processableExt returns the lowercased extension of filePath if it is
// accepted.
func (a *Adapter) processableExt(filePath string) (string, bool) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filePath), "."))
	if ext == "" || !a.extensions[ext] {
		return "", false
	}
	return ext, true
}

func (a *Adapter) observe(outcome string) {
	if a.observer != nil {
		a.observer.ObserveSubmit(outcome, 0)
	}
}

func (a *Adapter) processMessage(ctx context.Context, msg *models.Message) error {
	if msg.From == nil {
		return nil
	}
	fileID := pickFile(msg)
	if fileID == "" {
		return nil
	}

	if a.limiter != nil {
		if d := a.limiter.Allow(msg.From.ID); !d.Allowed {
			log.Printf("[Telegram] User %d is rate limited for %s", msg.From.ID, d.RetryAfter)
			a.observe(monitoring.OutcomeRateLimited)
			return nil
		}
	}

	file, err := a.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return fmt.Errorf("getFile %s: %w", fileID, err)
	}
	log.Printf("[Telegram] Checking file %s from user %d. ChatId is %d. MessageId is %d",
		file.FilePath, msg.From.ID, msg.Chat.ID, msg.ID)

	ext, ok := a.processableExt(file.FilePath)
	if !ok {
		log.Printf("[Telegram] Unsupported extension %q. Skipping", path.Ext(file.FilePath))
		a.observe(monitoring.OutcomeSkipped)
		return nil
	}

	data, err := a.download(ctx, a.bot.FileDownloadLink(file))
	if err != nil {
		return fmt.Errorf("download %s: %w", fileID, err)
	}

	meta := dedup.ImageMetadata{
		Name:      fileID + "." + ext,
		UserID:    msg.From.ID,
		MessageID: msg.ID,
	}
	c, err := a.checker.Check(ctx, msg.Chat.ID, data, meta)
	a.processed.Add(1)
	if errors.Is(err, imagedb.ErrDecode) {
		log.Printf("[Telegram] Cannot decode %s: %v. Skipping", meta.Name, err)
		return nil
	}
	if err != nil {
		return err
	}

	if !c.IsDuplicate() {
		log.Printf("[Telegram] New image! Congrats, user %d", msg.From.ID)
		return nil
	}
	a.duplicates.Add(1)
	return a.notifyDuplicate(ctx, msg, c.Match)
}

func (a *Adapter) download(ctx context.Context, url string) ([]byte, error) {
	if err := a.downloads.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxDownloadSize {
		return nil, fmt.Errorf("file exceeds %d bytes", maxDownloadSize)
	}
	return data, nil
}

// mention formats a MarkdownV2 link to the user's profile.
func mention(u *models.User) string {
	name := u.FirstName
	if u.Username != "" {
		name += " (" + u.Username + ")"
	}
	return fmt.Sprintf("[%s](tg://user?id=%d)", bot.EscapeMarkdown(name), u.ID)
}

// notifyDuplicate replies to the original message. If the original is gone,
// the notice is sent without a reply.
func (a *Adapter) notifyDuplicate(ctx context.Context, msg *models.Message, original dedup.ImageMetadata) error {
	text := fmt.Sprintf("Looks like %s posted a repost\\.", mention(msg.From))

	_, err := a.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          msg.Chat.ID,
		Text:            text + " The original is linked above\\.",
		ParseMode:       models.ParseModeMarkdown,
		ReplyParameters: &models.ReplyParameters{MessageID: original.MessageID},
	})
	if err == nil {
		return nil
	}

	log.Printf("[Telegram] Failed to add reply, sending message without reply: %v", err)
	_, err = a.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    msg.Chat.ID,
		Text:      text + " No link to the original this time\\.",
		ParseMode: models.ParseModeMarkdown,
	})
	if err != nil {
		return fmt.Errorf("failed to send duplicate notice: %w", err)
	}
	return nil
}
