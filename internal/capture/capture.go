// Package capture takes screenshots through whatever tool the host offers.
// The backend is chosen once by Select; each capture writes a PNG into the
// temp directory and returns its path. The caller owns the file and removes
// it with Cleanup.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"opsbot/internal/domain"
)

// Capturer is one screenshot backend.
type Capturer interface {
	Name() string
	// Capture returns the path of a freshly written PNG.
	Capture(ctx context.Context) (string, error)
	// Check reports whether the backend can run on this host.
	Check(ctx context.Context) error
}

// Config carries the settings shared by all backends.
type Config struct {
	Backend      string
	Timeout      time.Duration // PowerShell capture
	ToolTimeout  time.Duration // each native tool
	ProbeTimeout time.Duration
	TempDir      string

	Runner Runner
	Host   *Host
	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 10 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	if c.Runner == nil {
		c.Runner = ExecRunner{}
	}
	if c.Host == nil {
		c.Host = DetectHost()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// TempPath returns a unique PNG path in dir, e.g.
// screenshot_20240501_103000_1a2b3c4d.png.
func TempPath(dir, prefix string) string {
	id := uuid.NewString()[:8]
	name := fmt.Sprintf("%s_%s_%s.png", prefix, time.Now().Format("20060102_150405"), id)
	return filepath.Join(dir, name)
}

// Cleanup removes a screenshot file. A missing file is not an error.
func Cleanup(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// runAndVerify runs cmd and checks that it left a non-empty file at path.
func runAndVerify(ctx context.Context, r Runner, cmd Command, path string) error {
	if _, err := r.Run(ctx, cmd); err != nil {
		return err
	}
	if !fileExists(path) {
		return fmt.Errorf("%s: %w", cmd.Name, domain.ErrCaptureMissing)
	}
	return nil
}
