// Package router decides which inbound chat messages are acted upon and
// turns provider results into outbound replies.
//
// Only messages from the one authorized chat are served. A message whose
// first word is a registered /command runs that command; any other text is
// matched against the configured substring triggers, all of which fire.
// Unregistered commands and unauthorized chats get no reply.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"opsbot/internal/bus"
	"opsbot/internal/config"
	"opsbot/internal/domain"
)

// Sender is the outbound half of a transport.
type Sender interface {
	SendText(ctx context.Context, msg domain.OutboundMessage) error
	SendPhoto(ctx context.Context, photo domain.OutboundPhoto) error
}

// StatusProvider produces the /status report.
type StatusProvider interface {
	Report(ctx context.Context) (string, error)
}

// LogProvider produces the /logs summary and tails.
type LogProvider interface {
	Summary(ctx context.Context) (string, error)
	Tails(ctx context.Context, n int) ([]domain.LogRecord, error)
}

// ScreenshotProvider writes a screenshot and returns its path.
type ScreenshotProvider interface {
	Capture(ctx context.Context) (string, error)
}

// WSLProvider is a ScreenshotProvider that can also describe the terminal
// sessions when capturing fails.
type WSLProvider interface {
	ScreenshotProvider
	Sessions(ctx context.Context) domain.SessionInfo
}

type Config struct {
	AuthorizedChatID string
	MessageLimit     int
	SendInterval     time.Duration
	LogTailLines     int
	Triggers         []config.TriggerConfig

	Sender     Sender
	Status     StatusProvider
	Logs       LogProvider
	Screenshot ScreenshotProvider
	WSL        WSLProvider

	Events *bus.EventBus // optional
	Logger *slog.Logger
}

// Router is safe for concurrent use: each Handle call works on its own
// request and the registry is immutable.
type Router struct {
	chatID       string
	messageLimit int
	sendInterval time.Duration
	tailLines    int

	sender     Sender
	status     StatusProvider
	logs       LogProvider
	screenshot ScreenshotProvider
	wsl        WSLProvider

	reg    *registry
	events *bus.EventBus
	logger *slog.Logger
}

// request is the per-message handling state.
type request struct {
	id     string
	msg    domain.InboundMessage
	logger *slog.Logger
}

func New(cfg Config) (*Router, error) {
	if cfg.AuthorizedChatID == "" {
		return nil, errors.New("router: authorized chat id is required")
	}
	if cfg.Sender == nil {
		return nil, errors.New("router: sender is required")
	}
	if cfg.Status == nil || cfg.Logs == nil || cfg.Screenshot == nil || cfg.WSL == nil {
		return nil, errors.New("router: every capability provider is required")
	}
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = 4000
	}
	if cfg.LogTailLines <= 0 {
		cfg.LogTailLines = 15
	}
	if cfg.SendInterval < 0 {
		cfg.SendInterval = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Router{
		chatID:       strings.TrimSpace(cfg.AuthorizedChatID),
		messageLimit: cfg.MessageLimit,
		sendInterval: cfg.SendInterval,
		tailLines:    cfg.LogTailLines,
		sender:       cfg.Sender,
		status:       cfg.Status,
		logs:         cfg.Logs,
		screenshot:   cfg.Screenshot,
		wsl:          cfg.WSL,
		events:       cfg.Events,
		logger:       cfg.Logger,
	}

	reg, err := newRegistry(map[string]handlerFunc{
		domain.CmdPing:          r.handlePing,
		domain.CmdStatus:        r.handleStatus,
		domain.CmdScreenshot:    r.handleScreenshot,
		domain.CmdWSLScreenshot: r.handleWSLScreenshot,
		domain.CmdLogs:          r.handleLogs,
	}, cfg.Triggers)
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}
	r.reg = reg
	return r, nil
}

// Handle processes one inbound message to completion, including every
// outbound send. It never panics and never returns an error: failures are
// logged and, where possible, reported to the chat.
func (r *Router) Handle(ctx context.Context, msg domain.InboundMessage) {
	r.emit(bus.EventMessageReceived, map[string]any{"chat_id": msg.ChatID})

	if msg.ChatID != r.chatID {
		r.logger.Warn("message from unauthorized chat dropped",
			"chat_id", msg.ChatID,
			"sender", msg.SenderName,
		)
		r.emit(bus.EventUnauthorized, map[string]any{"chat_id": msg.ChatID})
		return
	}

	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return
	}

	req := &request{id: uuid.NewString()[:8], msg: msg}
	req.logger = r.logger.With("request_id", req.id, "chat_id", msg.ChatID)

	if name, ok := commandToken(text); ok {
		h, found := r.reg.lookup(name)
		if !found {
			req.logger.Debug("unregistered command ignored", "command", name)
			return
		}
		r.invoke(ctx, req, name, h)
		return
	}

	req.logger.Info(fmt.Sprintf("[%s]: %s", senderName(msg), text))
	for _, t := range r.reg.matching(text) {
		req.logger.Info("trigger fired", "trigger", t.match, "command", t.command, "sender", senderName(msg))
		r.emit(bus.EventTriggerFired, map[string]any{"trigger": t.match, "command": t.command})
		r.invoke(ctx, req, t.command, t.handler)
	}
}

// invoke runs one handler behind a recover so that neither a provider nor
// the transport can take the dispatcher down.
func (r *Router) invoke(ctx context.Context, req *request, name string, h handlerFunc) {
	start := time.Now()
	req.logger.Info("command requested", "command", name, "sender", senderName(req.msg))

	defer func() {
		if p := recover(); p != nil {
			req.logger.Error("command handler panicked",
				"command", name,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			r.emit(bus.EventProviderFailed, map[string]any{"command": name})
			r.apologize(ctx, req, name)
		}
		r.emit(bus.EventCommandHandled, map[string]any{"command": name, "duration": time.Since(start)})
	}()

	if err := h(ctx, req); err != nil {
		req.logger.Error("command failed", "command", name, "err", err)
		r.apologize(ctx, req, name)
		return
	}
	req.logger.Info("command completed", "command", name, "duration", time.Since(start))
}

func (r *Router) apologize(ctx context.Context, req *request, name string) {
	if err := r.sendText(ctx, req, fmt.Sprintf(apologyFormat, name), domain.FormatPlain); err != nil {
		req.logger.Error("apology not delivered", "command", name, "err", err)
	}
}

func (r *Router) sendText(ctx context.Context, req *request, text, format string) error {
	err := r.sender.SendText(ctx, domain.OutboundMessage{ChatID: req.msg.ChatID, Content: text, Format: format})
	if err != nil {
		r.emit(bus.EventSendFailed, map[string]any{"kind": "text"})
	}
	return err
}

func (r *Router) sendPhoto(ctx context.Context, req *request, path, caption string) error {
	err := r.sender.SendPhoto(ctx, domain.OutboundPhoto{ChatID: req.msg.ChatID, Path: path, Caption: caption})
	if err != nil {
		r.emit(bus.EventSendFailed, map[string]any{"kind": "photo"})
	}
	return err
}

func (r *Router) emit(eventType string, payload map[string]any) {
	r.events.Emit(bus.Event{Type: eventType, Source: "router", Payload: payload})
}

func senderName(msg domain.InboundMessage) string {
	if msg.SenderName != "" {
		return msg.SenderName
	}
	if msg.SenderID != "" {
		return msg.SenderID
	}
	return "user"
}
