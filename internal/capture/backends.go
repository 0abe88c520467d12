package capture

import (
	"context"
	"fmt"
	"strings"

	"opsbot/internal/config"
	"opsbot/internal/domain"
)

// tool is a command-line screenshot utility writing a PNG to a given path.
type tool struct {
	bin  string
	args func(path string) []string
}

var (
	screencapture   = tool{bin: "screencapture", args: func(p string) []string { return []string{"-x", p} }}
	grim            = tool{bin: "grim", args: func(p string) []string { return []string{p} }}
	scrot           = tool{bin: "scrot", args: func(p string) []string { return []string{p} }}
	gnomeScreenshot = tool{bin: "gnome-screenshot", args: func(p string) []string { return []string{"-f", p} }}
	imageMagick     = tool{bin: "import", args: func(p string) []string { return []string{"-window", "root", p} }}
)

// nativeTool runs one desktop screenshot utility directly.
type nativeTool struct {
	cfg  Config
	name string
	tool tool
}

func (n *nativeTool) Name() string { return n.name + ":" + n.tool.bin }

func (n *nativeTool) Capture(ctx context.Context) (string, error) {
	path := TempPath(n.cfg.TempDir, "screenshot")
	cmd := Command{Name: n.tool.bin, Args: n.tool.args(path), Timeout: n.cfg.ToolTimeout}
	if err := runAndVerify(ctx, n.cfg.Runner, cmd, path); err != nil {
		_ = Cleanup(path)
		return "", err
	}
	return path, nil
}

func (n *nativeTool) Check(ctx context.Context) error {
	if _, err := n.cfg.Runner.LookPath(n.tool.bin); err != nil {
		return fmt.Errorf("%s not installed: %w", n.tool.bin, err)
	}
	return nil
}

const powerShellExe = "powershell.exe"

// powerShell grabs the primary Windows screen with System.Drawing. From
// inside WSL the output path is first translated with wslpath.
type powerShell struct {
	cfg    Config
	viaWSL bool
}

func (p *powerShell) Name() string {
	if p.viaWSL {
		return config.BackendWSL
	}
	return config.BackendPowerShell
}

func (p *powerShell) Capture(ctx context.Context) (string, error) {
	path := TempPath(p.cfg.TempDir, "screenshot")

	target := path
	if p.viaWSL {
		out, err := p.cfg.Runner.Run(ctx, Command{Name: "wslpath", Args: []string{"-w", path}, Timeout: p.cfg.ProbeTimeout})
		if err != nil {
			return "", fmt.Errorf("convert path for windows: %w", err)
		}
		target = strings.TrimSpace(out)
	}

	cmd := Command{
		Name:    powerShellExe,
		Args:    []string{"-NoProfile", "-NonInteractive", "-Command", screenScript(target)},
		Timeout: p.cfg.Timeout,
	}
	if err := runAndVerify(ctx, p.cfg.Runner, cmd, path); err != nil {
		_ = Cleanup(path)
		return "", err
	}
	return path, nil
}

func (p *powerShell) Check(ctx context.Context) error {
	if _, err := p.cfg.Runner.LookPath(powerShellExe); err != nil {
		return fmt.Errorf("%s not found: %w", powerShellExe, err)
	}
	_, err := p.cfg.Runner.Run(ctx, Command{
		Name:    powerShellExe,
		Args:    []string{"-NoProfile", "-NonInteractive", "-Command", "Get-Command Add-Type"},
		Timeout: p.cfg.ProbeTimeout,
	})
	return err
}

func screenScript(path string) string {
	quoted := strings.ReplaceAll(path, "'", "''")
	return `Add-Type -AssemblyName System.Windows.Forms
Add-Type -AssemblyName System.Drawing
$screen = [System.Windows.Forms.Screen]::PrimaryScreen
$bitmap = New-Object System.Drawing.Bitmap $screen.Bounds.Width, $screen.Bounds.Height
$graphics = [System.Drawing.Graphics]::FromImage($bitmap)
$graphics.CopyFromScreen($screen.Bounds.X, $screen.Bounds.Y, 0, 0, $screen.Bounds.Size)
$bitmap.Save('` + quoted + `', [System.Drawing.Imaging.ImageFormat]::Png)
$graphics.Dispose()
$bitmap.Dispose()`
}

// unsupported is selected when no backend exists on this host.
type unsupported struct{}

func (unsupported) Name() string                            { return config.BackendNone }
func (unsupported) Capture(context.Context) (string, error) { return "", domain.ErrUnsupported }
func (unsupported) Check(context.Context) error             { return domain.ErrUnsupported }
