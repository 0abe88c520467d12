package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"opsbot/internal/alert"
	"opsbot/internal/config"
)

// newLogHandler builds the base handler from the logging section.
func newLogHandler(cfg config.LoggingConfig, w io.Writer) (slog.Handler, error) {
	level, err := alert.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unknown logging.format: %s", cfg.Format)
	}
}

// withAlerts wraps base so that records at or above alerts.minLevel are
// also sent to the chat through sender.
func withAlerts(base slog.Handler, cfg *config.Config, sender alert.Sender) (*alert.Handler, error) {
	min, err := alert.ParseLevel(cfg.Alerts.MinLevel)
	if err != nil {
		return nil, fmt.Errorf("alerts.minLevel: %w", err)
	}
	return alert.New(alert.Config{
		Next:       base,
		Sender:     sender,
		ChatID:     cfg.Telegram.ChatID,
		MinLevel:   min,
		Source:     "opsbot",
		Developers: cfg.Alerts.Developers,
	}), nil
}

// startAlerts launches delivery detached from ctx, so alerts logged while
// shutting down are still sent. Close bounds how long that takes.
func startAlerts(ctx context.Context, h *alert.Handler) {
	h.Start(context.WithoutCancel(ctx))
}
