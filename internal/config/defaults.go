package config

import (
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"opsbot/internal/domain"
)

// Capture backends selectable through capture.backend.
const (
	BackendAuto       = "auto"
	BackendWSL        = "wsl-powershell"
	BackendDarwin     = "darwin-screencapture"
	BackendLinuxTool  = "linux-tool"
	BackendPowerShell = "powershell"
	BackendNone       = "none"
)

// MaxMessageLimit is the largest router.messageLimit: the Telegram
// transport splits anything longer.
const MaxMessageLimit = 4000

var backends = []string{BackendAuto, BackendWSL, BackendDarwin, BackendLinuxTool, BackendPowerShell, BackendNone}

func Defaults() *Config {
	return &Config{
		Telegram: TelegramConfig{
			ParseMode:   "Markdown",
			PollTimeout: 30,
		},
		Router: RouterConfig{
			MessageLimit:    MaxMessageLimit,
			SendInterval:    500 * time.Millisecond,
			LogTailLines:    15,
			ShutdownTimeout: 10 * time.Second,
		},
		Logs: LogsConfig{
			BaseDir: defaultLogsBaseDir(),
			Directories: []string{
				"centralizador_extract",
				"centralizador_transform",
				"smsrio",
				"vitai",
			},
			Subdir:  "logs",
			Pattern: "*.log",
		},
		Capture: CaptureConfig{
			Backend:      BackendAuto,
			Timeout:      30 * time.Second,
			ToolTimeout:  10 * time.Second,
			ProbeTimeout: 5 * time.Second,
		},
		Alerts: AlertsConfig{
			Enabled:  false,
			MinLevel: "warn",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// defaultLogsBaseDir is the parent of the working directory: the bot is
// deployed next to the projects whose logs it tails.
func defaultLogsBaseDir() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ".."
	}
	return filepath.Dir(cwd)
}

// IsCommand reports whether name is a registered command (without "/").
func IsCommand(name string) bool {
	return slices.Contains(domain.Commands, strings.TrimPrefix(name, domain.CommandPrefix))
}

// IsBackend reports whether name is a known capture backend.
func IsBackend(name string) bool {
	return slices.Contains(backends, name)
}

func parseChatID(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}
