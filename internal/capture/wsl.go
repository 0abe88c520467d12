package capture

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"opsbot/internal/domain"
)

// wslStep is one attempt of the WSL capture chain, expressed as a bash
// snippet writing a PNG to the given path.
type wslStep struct {
	name   string
	script func(path string) string
	slow   bool // runs two tools back to back
}

var wslSteps = []wslStep{
	{name: "scrot", script: func(p string) string {
		return withDisplay("scrot " + shellQuote(p))
	}},
	{name: "gnome-screenshot", script: func(p string) string {
		return withDisplay("gnome-screenshot -f " + shellQuote(p))
	}},
	{name: "import", script: func(p string) string {
		return withDisplay("import -window root " + shellQuote(p))
	}},
	{name: "xwd", slow: true, script: func(p string) string {
		raw := shellQuote(p + ".xwd")
		return withDisplay(fmt.Sprintf("xwd -root -out %s && convert %s %s; rc=$?; rm -f %s; exit $rc",
			raw, raw, shellQuote(p), raw))
	}},
	{name: "grim", script: func(p string) string {
		return "export WAYLAND_DISPLAY=${WAYLAND_DISPLAY:-wayland-0}; grim " + shellQuote(p)
	}},
}

func withDisplay(cmd string) string {
	return "export DISPLAY=${DISPLAY:-:0.0}; " + cmd
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

var ansiEscape = regexp.MustCompile("\x1b\\[[0-9;]*[A-Za-z]")

// WSL captures the Linux desktop of a WSL distribution by walking a chain
// of X11/Wayland tools. Outside WSL the chain is run through `wsl -e`.
type WSL struct {
	cfg Config
}

func NewWSL(cfg Config) *WSL {
	cfg.setDefaults()
	return &WSL{cfg: cfg}
}

func (w *WSL) Name() string { return "wsl-chain" }

func (w *WSL) Capture(ctx context.Context) (string, error) {
	path := TempPath(w.cfg.TempDir, "wsl_screenshot")
	inside := w.cfg.Host.IsWSL()

	shellPath := path
	if !inside {
		out, err := w.cfg.Runner.Run(ctx, Command{
			Name:    "wsl",
			Args:    []string{"-e", "wslpath", "-a", "-u", path},
			Timeout: w.cfg.ProbeTimeout,
		})
		if err != nil {
			return "", fmt.Errorf("%w: wsl unavailable: %v", domain.ErrNoCapture, err)
		}
		shellPath = strings.TrimSpace(out)
	}

	tried := make([]string, 0, len(wslSteps))
	for _, step := range wslSteps {
		cmd := w.command(inside, step.script(shellPath), step.slow)
		err := runAndVerify(ctx, w.cfg.Runner, cmd, path)
		if err == nil {
			return path, nil
		}
		_ = Cleanup(path)
		tried = append(tried, step.name)
		w.cfg.Logger.Debug("wsl capture step failed", "tool", step.name, "err", err)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("%w: tried %s", domain.ErrNoCapture, strings.Join(tried, ", "))
}

func (w *WSL) command(inside bool, script string, slow bool) Command {
	timeout := w.cfg.ToolTimeout
	if slow {
		timeout *= 2
	}
	if inside {
		return Command{Name: "bash", Args: []string{"-c", script}, Timeout: timeout}
	}
	// Starting the distribution adds latency on top of the tool itself.
	return Command{Name: "wsl", Args: []string{"-e", "bash", "-c", script}, Timeout: timeout + w.cfg.ProbeTimeout}
}

func (w *WSL) Check(ctx context.Context) error {
	bin := "wsl"
	if w.cfg.Host.IsWSL() {
		bin = "bash"
	}
	if _, err := w.cfg.Runner.LookPath(bin); err != nil {
		return fmt.Errorf("%s not found: %w", bin, err)
	}
	return nil
}

// Sessions collects zellij session and layout text, used as a diagnostic
// substitute when no screenshot could be taken. Failures leave the
// corresponding field empty.
func (w *WSL) Sessions(ctx context.Context) domain.SessionInfo {
	var info domain.SessionInfo
	if _, err := w.cfg.Runner.LookPath("zellij"); err != nil {
		return info
	}

	run := func(args ...string) string {
		out, err := w.cfg.Runner.Run(ctx, Command{Name: "zellij", Args: args, Timeout: w.cfg.ToolTimeout})
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				w.cfg.Logger.Debug("zellij query failed", "args", args, "err", err)
			}
			return ""
		}
		return strings.TrimSpace(ansiEscape.ReplaceAllString(out, ""))
	}

	info.Sessions = run("list-sessions")
	info.Layout = run("dump-layout")
	return info
}
