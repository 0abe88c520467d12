package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"opsbot/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3

	// Telegram floods a chat at more than about one message per second;
	// short bursts are tolerated.
	defaultSendRate  = rate.Limit(1)
	defaultSendBurst = 20
)

// botAPI is the subset of *tgbotapi.BotAPI the transport uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Telegram implements domain.Transport over the Bot API with long polling.
// It forwards every text message; authorization is the router's job.
type Telegram struct {
	token       string
	parseMode   string
	pollTimeout int
	retryUnit   time.Duration

	bot      botAPI
	username string
	logger   *slog.Logger
	limiter  *rate.Limiter // throttles every Send attempt

	stopOnce sync.Once
}

type TelegramConfig struct {
	Token       string
	ParseMode   string // empty disables formatted messages entirely
	PollTimeout int    // seconds
	SendRate    rate.Limit // outbound messages per second (default 1)
	SendBurst   int        // default 20
	Logger      *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = defaultSendRate
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = defaultSendBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:       cfg.Token,
		parseMode:   cfg.ParseMode,
		pollTimeout: cfg.PollTimeout,
		retryUnit:   time.Second,
		logger:      cfg.Logger,
		limiter:     rate.NewLimiter(cfg.SendRate, cfg.SendBurst),
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Connect authenticates against the Bot API. Start calls it when needed;
// calling it early lets the caller fail fast on a bad token.
func (t *Telegram) Connect() error {
	if t.bot != nil {
		return nil
	}
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.username = bot.Self.UserName
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	return nil
}

// Start polls for updates and publishes text messages to bus until ctx is
// cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	if err := t.Connect(); err != nil {
		return err
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.pollTimeout
	updates := t.bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started", "timeout", t.pollTimeout)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			t.stopPolling()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update, bus)
		}
	}
}

// Stop ends polling. StopReceivingUpdates panics when called twice, so
// both Stop and a cancelled Start go through stopPolling.
func (t *Telegram) Stop() error {
	if t.bot != nil {
		t.stopPolling()
	}
	return nil
}

func (t *Telegram) stopPolling() {
	t.stopOnce.Do(t.bot.StopReceivingUpdates)
}

func (t *Telegram) handleUpdate(update tgbotapi.Update, bus domain.MessageBus) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return
	}

	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}

	name := m.From.FirstName
	if name == "" {
		name = m.From.UserName
	}

	t.logger.Debug("telegram message received",
		"user_id", m.From.ID,
		"chat_id", m.Chat.ID,
		"text_len", len(text),
	)

	bus.Publish(domain.InboundMessage{
		Channel:    "telegram",
		ChatID:     strconv.FormatInt(m.Chat.ID, 10),
		SenderID:   strconv.FormatInt(m.From.ID, 10),
		SenderName: name,
		Content:    text,
		Timestamp:  time.Unix(int64(m.Date), 0),
	})
}

// SendText delivers msg, split into chunks of at most telegramMaxMsgLen
// characters. It returns the first chunk error.
func (t *Telegram) SendText(ctx context.Context, msg domain.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", msg.ChatID, err)
	}

	mode := msg.Format
	if t.parseMode == "" {
		mode = domain.FormatPlain
	}

	for _, chunk := range splitMessage(msg.Content, telegramMaxMsgLen) {
		if err := t.sendChunk(ctx, chatID, chunk, mode); err != nil {
			return err
		}
	}
	return nil
}

// SendPhoto uploads the file at photo.Path. The file is read during the
// call; the caller may remove it afterwards.
func (t *Telegram) SendPhoto(ctx context.Context, photo domain.OutboundPhoto) error {
	chatID, err := strconv.ParseInt(photo.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", photo.ChatID, err)
	}

	cfg := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(photo.Path))
	cfg.Caption = photo.Caption
	return t.send(ctx, cfg, "photo")
}

// sendChunk sends one message chunk with retry and rate limit handling.
// A markup the API refuses to parse is resent as plain text.
func (t *Telegram) sendChunk(ctx context.Context, chatID int64, text, mode string) error {
	var lastErr error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = mode

		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
		_, err := t.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err

		if mode != "" && strings.Contains(err.Error(), "can't parse entities") {
			t.logger.Warn("telegram markup parse error, retrying as plain text",
				"err", err, "parseMode", mode,
			)
			mode = domain.FormatPlain
			continue
		}

		if !t.retryable(ctx, err, attempt) {
			break
		}
	}
	return fmt.Errorf("telegram send: %w", lastErr)
}

// send delivers a non-text Chattable with the same retry policy.
func (t *Telegram) send(ctx context.Context, c tgbotapi.Chattable, kind string) error {
	var lastErr error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("telegram send %s: %w", kind, err)
		}
		_, err := t.bot.Send(c)
		if err == nil {
			return nil
		}
		lastErr = err
		if !t.retryable(ctx, err, attempt) {
			break
		}
	}
	return fmt.Errorf("telegram send %s: %w", kind, lastErr)
}

// retryable waits out the backoff for err and reports whether another
// attempt should be made.
func (t *Telegram) retryable(ctx context.Context, err error, attempt int) bool {
	if attempt >= telegramMaxSendRetries {
		t.logger.Error("telegram send failed after retries", "err", err, "attempts", attempt+1)
		return false
	}

	var apiErr *tgbotapi.Error
	isAPIErr := errors.As(err, &apiErr)

	var wait time.Duration
	switch {
	case isAPIErr && apiErr.Code == 429, strings.Contains(err.Error(), "Too Many Requests"):
		wait = time.Duration(attempt+1) * 3 * t.retryUnit
		if isAPIErr && apiErr.RetryAfter > 0 {
			wait = time.Duration(apiErr.RetryAfter) * time.Second
		}
		t.logger.Warn("telegram rate limited, backing off", "retry_after", wait, "attempt", attempt+1)
	case isAPIErr && apiErr.Code >= 400 && apiErr.Code < 500:
		// Bad requests fail the same way every time.
		t.logger.Error("telegram rejected message", "err", err, "code", apiErr.Code)
		return false
	default:
		wait = time.Duration(attempt+1) * t.retryUnit
		t.logger.Warn("telegram send error, retrying", "err", err, "backoff", wait)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// splitMessage cuts text into chunks of at most max runes, preferring the
// last newline in the second half of a chunk.
func splitMessage(text string, max int) []string {
	if text == "" {
		return []string{""}
	}
	var chunks []string
	for utf8.RuneCountInString(text) > max {
		cut := byteOffset(text, max)
		if nl := strings.LastIndex(text[:cut], "\n"); nl >= cut/2 {
			cut = nl
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	return append(chunks, text)
}

// byteOffset returns the byte index of the n-th rune of s.
func byteOffset(s string, n int) int {
	i := 0
	for pos := range s {
		if i == n {
			return pos
		}
		i++
	}
	return len(s)
}
