package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"opsbot/internal/domain"
)

const maxOutputBytes = 65536

// Command is one external-tool invocation.
type Command struct {
	Name    string
	Args    []string
	Env     []string // KEY=VALUE pairs added to the process environment
	Timeout time.Duration
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner executes external tools. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, cmd Command) (string, error)
	LookPath(name string) (string, error)
}

// ExecRunner runs commands with os/exec, bounding each by its Timeout.
type ExecRunner struct{}

func (ExecRunner) LookPath(name string) (string, error) { return exec.LookPath(name) }

// Run returns combined stdout/stderr. A deadline hit is reported as
// domain.ErrTimeout; a non-zero exit as an error carrying the output.
func (ExecRunner) Run(ctx context.Context, c Command) (string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	// Children that inherit the output pipe must not outlive the deadline.
	cmd.WaitDelay = time.Second
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	output, err := cmd.CombinedOutput()
	result := string(output)
	if len(result) > maxOutputBytes {
		result = Head(result, maxOutputBytes) + "\n... (output truncated)"
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return result, fmt.Errorf("%s after %s: %w", c.Name, c.Timeout, domain.ErrTimeout)
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return result, fmt.Errorf("%s: %w: %s", c.Name, err, strings.TrimSpace(Head(result, 200)))
	}
	return result, nil
}

// Head returns at most n bytes of s, cut on a rune boundary.
func Head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
