package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"opsbot/internal/channel"
	"opsbot/internal/config"
	"opsbot/internal/domain"
	"opsbot/internal/logtail"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	logHandler slog.Handler
	configPath string // overridable via --config flag
)

func main() {
	logHandler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger = slog.New(logHandler)

	root := &cobra.Command{
		Use:   "opsbot",
		Short: "opsbot: ops assistant for a single Telegram chat",
		Long: "opsbot answers /ping, /status, /screenshot, /wsl_screenshot and /logs\n" +
			"in one authorized Telegram chat.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.opsbot/config.yaml)")

	root.AddCommand(runCmd())
	root.AddCommand(consoleCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(logsCmd())
	root.AddCommand(screenshotCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the configuration and reconfigures the global logger
// from its logging section.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	h, err := newLogHandler(cfg.Logging, os.Stderr)
	if err != nil {
		return nil, err
	}
	logHandler = h
	logger = slog.New(h)
	return cfg, nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "run",
		Aliases: []string{"gateway"},
		Short:   "Start the Telegram bot",
		Long:    "Polls Telegram and serves commands from the authorized chat. Press Ctrl+C to stop.",
		RunE:    runBot,
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.RequireCredentials(cfg); err != nil {
		logger.Error("cannot start", "err", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The transport logs through the base handler: its own send failures
	// must not be forwarded as alerts through itself.
	telegram := channel.NewTelegram(channel.TelegramConfig{
		Token:       cfg.Telegram.Token,
		ParseMode:   cfg.Telegram.ParseMode,
		PollTimeout: cfg.Telegram.PollTimeout,
		Logger:      logger.With("component", "telegram"),
	})
	if err := telegram.Connect(); err != nil {
		logger.Error("cannot start", "err", err)
		return err
	}

	if cfg.Alerts.Enabled {
		alerts, err := withAlerts(logHandler, cfg, telegram)
		if err != nil {
			return err
		}
		startAlerts(ctx, alerts)
		defer func() {
			if !alerts.Close(5 * time.Second) {
				fmt.Fprintln(os.Stderr, "opsbot: pending alerts not delivered")
			}
		}()
		logger = slog.New(alerts)
		logger.Info("alert forwarding enabled", "min_level", cfg.Alerts.MinLevel)
	}

	return newApp(cfg, logger).serve(ctx, telegram, cfg.Telegram.ChatID)
}

func consoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Serve commands from this terminal instead of Telegram",
		Long:  "Each line typed is handled as a message from the authorized chat. Type /quit to exit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			chatID := cfg.Telegram.ChatID
			if chatID == "" {
				chatID = "console"
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			console := channel.NewConsole(channel.ConsoleConfig{
				ChatID:  chatID,
				Spinner: true,
				Logger:  logger,
			})
			return newApp(cfg, logger).serve(ctx, console, chatID)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the /status report for this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			report, err := newApp(cfg, logger).status.Report(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report)
			return nil
		},
	}
}

func logsCmd() *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the /logs summary and tails",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if lines <= 0 {
				lines = cfg.Router.LogTailLines
			}
			src := newApp(cfg, logger).logs

			out := cmd.OutOrStdout()
			summary, err := src.Summary(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, summary)

			records, err := src.Tails(cmd.Context(), lines)
			if err != nil {
				return err
			}
			for _, msg := range logtail.Format(records, cfg.Router.MessageLimit) {
				fmt.Fprintf(out, "\n%s\n", msg)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 0, "lines per file (default: router.logTailLines)")
	return cmd
}

func screenshotCmd() *cobra.Command {
	var viaWSL bool
	cmd := &cobra.Command{
		Use:   "screenshot",
		Short: "Take a screenshot with the configured backend and print its path",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a := newApp(cfg, logger)
			out := cmd.OutOrStdout()

			var shooter interface {
				Name() string
				Capture(context.Context) (string, error)
			} = a.shot
			if viaWSL {
				shooter = a.wsl
			}

			path, err := shooter.Capture(cmd.Context())
			if err != nil {
				if viaWSL {
					if info := a.wsl.Sessions(cmd.Context()); !info.Empty() {
						fmt.Fprintf(out, "zellij sessions:\n%s\n\nlayout:\n%s\n", info.Sessions, logtail.Head(info.Layout, 500))
					}
				}
				return fmt.Errorf("%s: %w", shooter.Name(), err)
			}
			if path == "" {
				return fmt.Errorf("%s: %w", shooter.Name(), domain.ErrNoCapture)
			}
			fmt.Fprintln(out, path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&viaWSL, "wsl", false, "use the WSL capture chain")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (token redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(config.Sanitize(cfg))
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. router.sendInterval)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(val)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists: %s", path)
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			// Credentials are left empty: TELEGRAM_BOT_TOKEN and
			// TELEGRAM_CHAT_ID override them from the environment.
			if err := config.Save(path, config.Defaults()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config written: %s\n", path)
			return nil
		},
	})

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "opsbot %s\n", version)
		},
	}
}
