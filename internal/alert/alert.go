// Package alert forwards log records to the chat.
//
// Handler wraps another slog.Handler: every record still goes to the
// wrapped handler, and records at or above a threshold are also queued for
// delivery through a Sender. Delivery happens on a background goroutine so
// logging never blocks on the network; when the queue is full the alert is
// dropped.
package alert

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"opsbot/internal/config"
	"opsbot/internal/domain"
)

// LevelCritical is above slog.LevelError; critical alerts mention the
// configured developers.
const LevelCritical = slog.Level(12)

const (
	defaultQueueSize = 64
	maxAlertRunes    = 4000
	sendTimeout      = 15 * time.Second
)

// Sender delivers an alert message. Transports satisfy it.
type Sender interface {
	SendText(ctx context.Context, msg domain.OutboundMessage) error
}

type Config struct {
	Next       slog.Handler
	Sender     Sender
	ChatID     string
	MinLevel   slog.Level
	Source     string // prefix naming the process, e.g. "opsbot"
	Developers []config.Developer
	QueueSize  int
}

// Handler is a slog.Handler. Handlers derived through WithAttrs and
// WithGroup share one delivery queue.
type Handler struct {
	next   slog.Handler
	fwd    *forwarder
	attrs  []slog.Attr
	prefix string // group path, dot-terminated
}

type forwarder struct {
	sender Sender
	chatID string
	min    slog.Level
	source string
	devs   []config.Developer

	// errLog reports delivery problems straight to the wrapped handler so
	// they are not forwarded again.
	errLog *slog.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan domain.OutboundMessage
	done    chan struct{}
	started atomic.Bool
	dropped atomic.Int64
}

func New(cfg Config) *Handler {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Source == "" {
		cfg.Source = "opsbot"
	}
	if cfg.Next == nil {
		cfg.Next = slog.NewTextHandler(os.Stderr, nil)
	}
	return &Handler{
		next: cfg.Next,
		fwd: &forwarder{
			sender: cfg.Sender,
			chatID: cfg.ChatID,
			min:    cfg.MinLevel,
			source: cfg.Source,
			devs:   cfg.Developers,
			errLog: slog.New(cfg.Next),
			queue:  make(chan domain.OutboundMessage, cfg.QueueSize),
			done:   make(chan struct{}),
		},
	}
}

// Start launches the delivery goroutine. Deliveries use a context derived
// from ctx; cancelling it abandons pending alerts.
func (h *Handler) Start(ctx context.Context) {
	f := h.fwd
	if !f.started.CompareAndSwap(false, true) {
		return
	}
	go f.run(ctx)
}

// Close stops accepting alerts and waits up to timeout for the queue to
// drain. It reports whether the queue drained.
func (h *Handler) Close(timeout time.Duration) bool {
	f := h.fwd
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
	f.mu.Unlock()

	if !f.started.Load() {
		return len(f.queue) == 0
	}
	select {
	case <-f.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Dropped returns the number of alerts discarded because the queue was full
// or closed.
func (h *Handler) Dropped() int64 { return h.fwd.dropped.Load() }

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.fwd.min || h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.next.Enabled(ctx, r.Level) {
		err = h.next.Handle(ctx, r)
	}
	if r.Level >= h.fwd.min {
		h.fwd.enqueue(h.format(r))
	}
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	c := *h
	c.next = h.next.WithAttrs(attrs)
	c.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	c.attrs = append(c.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		c.attrs = append(c.attrs, a)
	}
	return &c
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.next = h.next.WithGroup(name)
	c.prefix = h.prefix + name + "."
	return &c
}

// format renders r as an HTML message:
//
//	opsbot 🔴 ERROR - provider failed
//	command=status err=boom
func (h *Handler) format(r slog.Record) domain.OutboundMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s - %s",
		html.EscapeString(h.fwd.source), Emoji(r.Level), LevelName(r.Level), html.EscapeString(r.Message))

	var fields []string
	for _, a := range h.attrs {
		fields = appendAttr(fields, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		fields = appendAttr(fields, h.prefix, a)
		return true
	})
	if len(fields) > 0 {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(strings.Join(fields, " ")))
	}

	text := clip(b.String(), maxAlertRunes)
	if r.Level >= LevelCritical {
		if m := mentions(h.fwd.devs); m != "" {
			text += "\n" + m
		}
	}
	return domain.OutboundMessage{ChatID: h.fwd.chatID, Content: text, Format: domain.FormatHTML}
}

func appendAttr(fields []string, prefix string, a slog.Attr) []string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return fields
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			fields = appendAttr(fields, p, ga)
		}
		return fields
	}
	return append(fields, prefix+a.Key+"="+a.Value.String())
}

func mentions(devs []config.Developer) string {
	parts := make([]string, 0, len(devs))
	for _, d := range devs {
		parts = append(parts, fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, d.ID, html.EscapeString(d.Name)))
	}
	return strings.Join(parts, ", ")
}

// Emoji returns the marker prefixed to an alert of the given level.
func Emoji(level slog.Level) string {
	switch {
	case level >= LevelCritical:
		return "❗❗"
	case level >= slog.LevelError:
		return "🔴"
	case level >= slog.LevelWarn:
		return "🟡"
	case level >= slog.LevelInfo:
		return "🟢"
	default:
		return "🟠"
	}
}

func LevelName(level slog.Level) string {
	if level >= LevelCritical {
		return "CRITICAL"
	}
	return level.String()
}

// ParseLevel accepts debug, info, warn (warning), error and critical.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "critical":
		return LevelCritical, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

func (f *forwarder) enqueue(msg domain.OutboundMessage) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		f.dropped.Add(1)
		return
	}
	select {
	case f.queue <- msg:
	default:
		f.dropped.Add(1)
	}
}

func (f *forwarder) run(ctx context.Context) {
	defer close(f.done)
	for msg := range f.queue {
		if ctx.Err() != nil {
			f.dropped.Add(1)
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := f.sender.SendText(sendCtx, msg)
		cancel()
		if err != nil {
			f.errLog.Error("alert not delivered", "err", err)
		}
	}
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
