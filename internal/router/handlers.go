package router

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"opsbot/internal/bus"
	"opsbot/internal/capture"
	"opsbot/internal/domain"
	"opsbot/internal/logtail"
)

func (r *Router) handlePing(ctx context.Context, req *request) error {
	return r.sendText(ctx, req, PingReply, domain.FormatPlain)
}

func (r *Router) handleStatus(ctx context.Context, req *request) error {
	report, err := r.status.Report(ctx)
	if err != nil {
		r.providerFailed(req, domain.CmdStatus, err)
		return r.sendText(ctx, req, StatusFailure, domain.FormatPlain)
	}
	return r.sendText(ctx, req, report, domain.FormatMarkdown)
}

func (r *Router) handleScreenshot(ctx context.Context, req *request) error {
	r.acknowledge(ctx, req, ScreenshotAck)

	path, err := r.screenshot.Capture(ctx)
	defer r.cleanup(req, path)

	if err = checkCapture(path, err); err != nil {
		r.providerFailed(req, domain.CmdScreenshot, err)
		return r.sendText(ctx, req, ScreenshotFailure+failureReason(err), domain.FormatPlain)
	}
	if err := r.sendPhoto(ctx, req, path, ScreenshotCaption); err != nil {
		return fmt.Errorf("send screenshot: %w", err)
	}
	return nil
}

func (r *Router) handleWSLScreenshot(ctx context.Context, req *request) error {
	r.acknowledge(ctx, req, WSLAck)

	path, err := r.wsl.Capture(ctx)
	defer r.cleanup(req, path)

	if err = checkCapture(path, err); err != nil {
		r.providerFailed(req, domain.CmdWSLScreenshot, err)
		if info := r.wsl.Sessions(ctx); !info.Empty() {
			return r.sendText(ctx, req, sessionFallback(info), domain.FormatMarkdown)
		}
		return r.sendText(ctx, req, WSLFailure, domain.FormatPlain)
	}
	if err := r.sendPhoto(ctx, req, path, WSLCaption); err != nil {
		return fmt.Errorf("send wsl screenshot: %w", err)
	}
	return nil
}

// handleLogs sends the directory summary, then one message per tail
// record, each after a pause of sendInterval.
func (r *Router) handleLogs(ctx context.Context, req *request) error {
	summary, err := r.logs.Summary(ctx)
	if err != nil {
		r.providerFailed(req, domain.CmdLogs, err)
		return r.sendText(ctx, req, LogsFailure, domain.FormatPlain)
	}
	if err := r.sendText(ctx, req, summary, domain.FormatPlain); err != nil {
		return fmt.Errorf("send log summary: %w", err)
	}

	records, err := r.logs.Tails(ctx, r.tailLines)
	if err != nil {
		r.providerFailed(req, domain.CmdLogs, err)
		return r.sendText(ctx, req, LogsFailure, domain.FormatPlain)
	}

	return r.sendBatch(ctx, req, logtail.Format(records, r.messageLimit))
}

// sendBatch delivers messages in order. Every message is preceded by a
// full sendInterval counted from the end of the previous send. A message
// that fails is retried once as a short fallback; the batch then moves on
// either way.
func (r *Router) sendBatch(ctx context.Context, req *request, messages []string) error {
	delivered := 0
	for i, msg := range messages {
		if err := pause(ctx, r.sendInterval); err != nil {
			return fmt.Errorf("batch interrupted after %d of %d: %w", delivered, len(messages), err)
		}

		err := r.sendText(ctx, req, msg, domain.FormatPlain)
		if err == nil {
			delivered++
			continue
		}

		req.logger.Error("log message not delivered, sending fallback", "index", i, "err", err)
		fallback := fmt.Sprintf(sendFallbackFormat, err, logtail.Head(msg, sendFallbackHead))
		if err := r.sendText(ctx, req, fallback, domain.FormatPlain); err != nil {
			req.logger.Error("fallback not delivered", "index", i, "err", err)
			continue
		}
		delivered++
	}
	req.logger.Info("log batch sent", "delivered", delivered, "total", len(messages))
	return nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Router) acknowledge(ctx context.Context, req *request, text string) {
	if err := r.sendText(ctx, req, text, domain.FormatPlain); err != nil {
		req.logger.Warn("acknowledgement not delivered", "err", err)
	}
}

func (r *Router) providerFailed(req *request, command string, err error) {
	req.logger.Error("provider failed", "command", command, "err", err)
	r.emit(bus.EventProviderFailed, map[string]any{"command": command, "err": err.Error()})
}

// cleanup removes the screenshot of this request. It runs whether or not
// the photo was delivered; an absent file is fine.
func (r *Router) cleanup(req *request, path string) {
	if err := capture.Cleanup(path); err != nil {
		req.logger.Warn("screenshot cleanup failed", "path", path, "err", err)
	}
}

// checkCapture turns a provider result into a single error value: an empty
// path or a vanished file count as failures.
func checkCapture(path string, err error) error {
	if err != nil {
		return err
	}
	if path == "" {
		return domain.ErrNoCapture
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return fmt.Errorf("%w: %s", domain.ErrCaptureMissing, path)
	}
	return nil
}

func failureReason(err error) string {
	var reason string
	switch {
	case errors.Is(err, domain.ErrUnsupported):
		reason = "no screenshot backend is available on this host"
	case errors.Is(err, domain.ErrTimeout):
		reason = "the capture tool timed out"
	case errors.Is(err, domain.ErrCaptureMissing):
		reason = "the capture tool produced no file"
	case errors.Is(err, domain.ErrNoCapture):
		reason = "no capture tool succeeded"
	default:
		return ""
	}
	return "\n\nReason: " + reason
}

func sessionFallback(info domain.SessionInfo) string {
	var b strings.Builder
	b.WriteString("❌ WSL screenshot failed, but zellij state was captured:\n\n")
	if info.Sessions != "" {
		fmt.Fprintf(&b, "*Active sessions:*\n```\n%s\n```\n", logtail.Sanitize(info.Sessions))
	}
	if info.Layout != "" {
		fmt.Fprintf(&b, "*Current layout:*\n```\n%s...\n```", logtail.Sanitize(logtail.Head(info.Layout, layoutHead)))
	}
	return strings.TrimRight(b.String(), "\n")
}
