package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for opsbot. It is loaded once at startup
// and passed by value into the router and providers.
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Router   RouterConfig   `yaml:"router"`
	Logs     LogsConfig     `yaml:"logs"`
	Capture  CaptureConfig  `yaml:"capture"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type TelegramConfig struct {
	Token       string `yaml:"token" env:"TELEGRAM_BOT_TOKEN"`
	ChatID      string `yaml:"chatId" env:"TELEGRAM_CHAT_ID"`
	ParseMode   string `yaml:"parseMode"`
	PollTimeout int    `yaml:"pollTimeout"` // long-polling timeout in seconds
}

type RouterConfig struct {
	MessageLimit    int             `yaml:"messageLimit"` // per-message ceiling in characters
	SendInterval    time.Duration   `yaml:"sendInterval"` // delay between messages of a batch
	LogTailLines    int             `yaml:"logTailLines"`
	ShutdownTimeout time.Duration   `yaml:"shutdownTimeout"`
	Triggers        []TriggerConfig `yaml:"triggers,omitempty"`
}

// TriggerConfig binds a free-text substring to a registered command.
type TriggerConfig struct {
	Match   string `yaml:"match"`
	Command string `yaml:"command"`
}

type LogsConfig struct {
	BaseDir     string   `yaml:"baseDir" env:"OPSBOT_LOGS_BASE_DIR"`
	Directories []string `yaml:"directories"`
	Subdir      string   `yaml:"subdir"`
	Pattern     string   `yaml:"pattern"`
}

type CaptureConfig struct {
	Backend      string        `yaml:"backend" env:"OPSBOT_CAPTURE_BACKEND"` // "auto" or a backend name
	Timeout      time.Duration `yaml:"timeout"`
	ToolTimeout  time.Duration `yaml:"toolTimeout"`
	ProbeTimeout time.Duration `yaml:"probeTimeout"`
	TempDir      string        `yaml:"tempDir,omitempty"`
}

type AlertsConfig struct {
	Enabled    bool       `yaml:"enabled" env:"OPSBOT_ALERTS_ENABLED"`
	MinLevel   string     `yaml:"minLevel"`
	Developers Developers `yaml:"developers,omitempty" env:"TELEGRAM_DEVS"`
}

// Developer is mentioned on critical alerts.
type Developer struct {
	ID   int64  `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// Developers decodes from a JSON list when read from the environment
// (e.g. TELEGRAM_DEVS='[{"id":1,"name":"ana"}]').
type Developers []Developer

func (d *Developers) UnmarshalText(text []byte) error {
	var list []Developer
	if err := json.Unmarshal(text, &list); err != nil {
		return fmt.Errorf("developers must be a JSON list of {id,name}: %w", err)
	}
	*d = list
	return nil
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"OPSBOT_LOG_LEVEL"`
	Format string `yaml:"format"` // text | json
}

// DefaultConfigDir returns the default config directory (~/.opsbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".opsbot"
	}
	return filepath.Join(home, ".opsbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load builds the configuration from defaults, the YAML file at path (when it
// exists), a .env file in the working directory and the process environment,
// in that order of precedence (later wins).
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Substitute environment variables: ${VAR} and ${VAR:-default}
		data = []byte(ExpandEnvVars(string(data)))
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Environment-only setups are fine.
	default:
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	cfg.Logs.BaseDir = ExpandPath(cfg.Logs.BaseDir)
	cfg.Capture.TempDir = ExpandPath(cfg.Capture.TempDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// loadDotEnv populates unset environment variables from a dotenv file.
// A missing file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("cannot load %s: %w", path, err)
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left untouched.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has usable values. Credentials are checked
// separately by RequireCredentials since local commands do not need them.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Router.MessageLimit < 200 || cfg.Router.MessageLimit > MaxMessageLimit {
		errs = append(errs, fmt.Sprintf("router.messageLimit must be between 200 and %d", MaxMessageLimit))
	}
	if cfg.Router.SendInterval < 0 {
		errs = append(errs, "router.sendInterval must not be negative")
	}
	if cfg.Router.LogTailLines < 1 || cfg.Router.LogTailLines > 500 {
		errs = append(errs, "router.logTailLines must be between 1 and 500")
	}
	for i, tr := range cfg.Router.Triggers {
		if strings.TrimSpace(tr.Match) == "" {
			errs = append(errs, fmt.Sprintf("router.triggers[%d].match must not be empty", i))
		}
		if !IsCommand(tr.Command) {
			errs = append(errs, fmt.Sprintf("router.triggers[%d].command %q is not a known command", i, tr.Command))
		}
	}

	switch cfg.Telegram.ParseMode {
	case "", "Markdown", "MarkdownV2", "HTML":
	default:
		errs = append(errs, "telegram.parseMode must be one of: Markdown, MarkdownV2, HTML")
	}
	if cfg.Telegram.ChatID != "" {
		if _, err := parseChatID(cfg.Telegram.ChatID); err != nil {
			errs = append(errs, "telegram.chatId must be a numeric chat id")
		}
	}

	if cfg.Logs.Subdir == "" {
		errs = append(errs, "logs.subdir must not be empty")
	}
	if _, err := filepath.Match(cfg.Logs.Pattern, "x.log"); err != nil || cfg.Logs.Pattern == "" {
		errs = append(errs, "logs.pattern must be a valid glob")
	}

	if cfg.Capture.Timeout <= 0 || cfg.Capture.ToolTimeout <= 0 || cfg.Capture.ProbeTimeout <= 0 {
		errs = append(errs, "capture timeouts must be positive")
	}
	if !IsBackend(cfg.Capture.Backend) {
		errs = append(errs, fmt.Sprintf("capture.backend %q is not supported", cfg.Capture.Backend))
	}

	switch strings.ToLower(cfg.Alerts.MinLevel) {
	case "info", "warn", "warning", "error", "critical":
	default:
		errs = append(errs, "alerts.minLevel must be one of: info, warn, error, critical")
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, "logging.format must be one of: text, json")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RequireCredentials reports a startup failure when the bot token or the
// authorized chat id is missing.
func RequireCredentials(cfg *Config) error {
	var missing []string
	if cfg.Telegram.Token == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN (telegram.token)")
	}
	if cfg.Telegram.ChatID == "" {
		missing = append(missing, "TELEGRAM_CHAT_ID (telegram.chatId)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
