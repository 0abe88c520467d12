package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"opsbot/internal/domain"
)

// Console implements domain.Transport on a terminal: each input line is
// published as if typed in the given chat, and replies are printed.
// It is the local way to exercise commands without a bot token.
type Console struct {
	chatID  string
	sender  string
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
	spinner bool
	idle    time.Duration
	keepDir string

	outMu    sync.Mutex
	busy     bool
	busyStop chan struct{}
}

type ConsoleConfig struct {
	ChatID  string // chat the lines are attributed to
	Sender  string // display name; defaults to $USER
	Spinner bool   // animate while waiting for a reply
	// SpinnerTimeout stops the animation when no reply arrives, as for
	// text that matches nothing (default 45s).
	SpinnerTimeout time.Duration
	KeepDir string // where received screenshots are kept (default ".")
	Logger  *slog.Logger
	In      io.Reader
	Out     io.Writer
}

func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Sender == "" {
		cfg.Sender = os.Getenv("USER")
	}
	if cfg.Sender == "" {
		cfg.Sender = "console"
	}
	if cfg.KeepDir == "" {
		cfg.KeepDir = "."
	}
	if cfg.SpinnerTimeout <= 0 {
		cfg.SpinnerTimeout = 45 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Console{
		chatID:  cfg.ChatID,
		sender:  cfg.Sender,
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		spinner: cfg.Spinner,
		idle:    cfg.SpinnerTimeout,
		keepDir: cfg.KeepDir,
	}
}

func (c *Console) Name() string { return "console" }

// Start reads lines until EOF, /quit or ctx cancellation.
func (c *Console) Start(ctx context.Context, bus domain.MessageBus) error {
	c.print("opsbot console. Try /ping, /status, /logs, /screenshot. Type /quit to exit.\n")
	c.prompt()

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			c.prompt()
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}

		c.startBusy()
		bus.Publish(domain.InboundMessage{
			Channel:    "console",
			ChatID:     c.chatID,
			SenderID:   c.sender,
			SenderName: c.sender,
			Content:    line,
			Timestamp:  time.Now(),
		})
	}
}

// Stop is a no-op; the console exits when Start returns.
func (c *Console) Stop() error { return nil }

func (c *Console) SendText(_ context.Context, msg domain.OutboundMessage) error {
	c.stopBusy()
	return c.reply(msg.Content)
}

// SendPhoto prints the image location. The file is only valid until the
// call returns, so it is copied into the keep directory first.
func (c *Console) SendPhoto(_ context.Context, photo domain.OutboundPhoto) error {
	c.stopBusy()
	keep := filepath.Join(c.keepDir, "opsbot_last_screenshot.png")
	if err := copyFile(photo.Path, keep); err != nil {
		return fmt.Errorf("keep screenshot: %w", err)
	}
	return c.reply(fmt.Sprintf("%s\n[image saved to %s]", photo.Caption, keep))
}

func (c *Console) reply(content string) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, err := fmt.Fprintf(c.out, "\r\033[K--- opsbot ---\n%s\n---------------\nYou> ", content)
	return err
}

func (c *Console) print(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = io.WriteString(c.out, s)
}

func (c *Console) prompt() { c.print("You> ") }

func (c *Console) startBusy() {
	if !c.spinner {
		return
	}
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if c.busy {
		return
	}
	c.busy = true
	c.busyStop = make(chan struct{})
	go func(stop chan struct{}) {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		timeout := time.NewTimer(c.idle)
		defer timeout.Stop()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case <-timeout.C:
				c.outMu.Lock()
				if c.busy && c.busyStop == stop {
					c.busy = false
					close(stop)
					_, _ = io.WriteString(c.out, "\r\033[KYou> ")
				}
				c.outMu.Unlock()
				return
			case <-ticker.C:
				c.print(fmt.Sprintf("\r%s Working...", frames[i%len(frames)]))
			}
		}
	}(c.busyStop)
}

func (c *Console) stopBusy() {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if !c.busy {
		return
	}
	c.busy = false
	close(c.busyStop)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
