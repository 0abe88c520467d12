package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"opsbot/internal/channel"
	"opsbot/internal/config"
)

func doctorCmd() *cobra.Command {
	var online bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on this opsbot installation",
		Long: `Verifies configuration, credentials, screenshot backends and log
directories. Reports pass/warn/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			d := &doctor{out: cmd.OutOrStdout()}
			d.run(cmd.Context(), resolveConfigPath(), online)
			return d.result()
		},
	}
	cmd.Flags().BoolVar(&online, "online", false, "also authenticate against the Telegram API")
	return cmd
}

type doctor struct {
	out                    io.Writer
	passed, warned, failed int
}

func (d *doctor) run(ctx context.Context, cfgPath string, online bool) {
	fmt.Fprintf(d.out, "opsbot doctor v%s\n", version)
	fmt.Fprintf(d.out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

	// 1. Config file
	if _, err := os.Stat(cfgPath); err != nil {
		d.warn("Config file", fmt.Sprintf("not found at %s (environment only)", cfgPath))
	} else {
		d.pass("Config file", cfgPath)
	}

	// 2. Config loads and validates
	cfg, err := config.Load(cfgPath)
	if err != nil {
		d.fail("Config validation", err.Error())
		return
	}
	d.pass("Config validation", "valid")

	// 3. Credentials
	if err := config.RequireCredentials(cfg); err != nil {
		d.fail("Credentials", err.Error())
	} else {
		d.pass("Credentials", "token and chat id set")
		if online {
			tg := channel.NewTelegram(channel.TelegramConfig{Token: cfg.Telegram.Token, Logger: logger})
			if err := tg.Connect(); err != nil {
				d.fail("Telegram API", err.Error())
			} else {
				d.pass("Telegram API", "authenticated")
			}
		}
	}

	// 4. Screenshot backends
	checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	a := newApp(cfg, logger)
	if err := a.shot.Check(checkCtx); err != nil {
		d.warn("Screenshot", fmt.Sprintf("%s: %v", a.shot.Name(), err))
	} else {
		d.pass("Screenshot", a.shot.Name())
	}
	if err := a.wsl.Check(checkCtx); err != nil {
		d.warn("WSL screenshot", err.Error())
	} else {
		d.pass("WSL screenshot", a.wsl.Name())
	}
	if _, err := exec.LookPath("zellij"); err != nil {
		d.warn("zellij", "not installed; /wsl_screenshot has no session fallback")
	} else {
		d.pass("zellij", "available")
	}

	// 5. Log directories
	for _, name := range cfg.Logs.Directories {
		dir := filepath.Join(cfg.Logs.BaseDir, name, cfg.Logs.Subdir)
		matches, err := filepath.Glob(filepath.Join(dir, cfg.Logs.Pattern))
		switch {
		case !isDir(filepath.Join(cfg.Logs.BaseDir, name)):
			d.warn("Logs: "+name, "directory not found")
		case !isDir(dir):
			d.warn("Logs: "+name, fmt.Sprintf("%s/ subdirectory not found", cfg.Logs.Subdir))
		case err != nil || len(matches) == 0:
			d.warn("Logs: "+name, fmt.Sprintf("no %s files", cfg.Logs.Pattern))
		default:
			d.pass("Logs: "+name, fmt.Sprintf("%d file(s)", len(matches)))
		}
	}

	// 6. Metrics listener
	if cfg.Metrics.Enabled {
		if err := checkListen(cfg.Metrics.Listen); err != nil {
			d.warn("Metrics", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
		} else {
			d.pass("Metrics", cfg.Metrics.Listen+" available")
		}
	}
}

func (d *doctor) result() error {
	fmt.Fprintf(d.out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(d.out, "Results: %d passed, %d warnings, %d failed\n", d.passed, d.warned, d.failed)
	if d.failed > 0 {
		fmt.Fprintf(d.out, "\nPlease fix the failed checks before running opsbot.\n")
		return fmt.Errorf("%d check(s) failed", d.failed)
	}
	if d.warned > 0 {
		fmt.Fprintf(d.out, "\nopsbot should work but some commands may fail.\n")
	} else {
		fmt.Fprintf(d.out, "\nAll checks passed! opsbot is ready to run.\n")
	}
	return nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}

func (d *doctor) pass(check, detail string) {
	d.passed++
	fmt.Fprintf(d.out, "  [PASS] %-20s %s\n", check, detail)
}

func (d *doctor) fail(check, detail string) {
	d.failed++
	fmt.Fprintf(d.out, "  [FAIL] %-20s %s\n", check, detail)
}

func (d *doctor) warn(check, detail string) {
	d.warned++
	fmt.Fprintf(d.out, "  [WARN] %-20s %s\n", check, detail)
}
