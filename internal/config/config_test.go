package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	require.NoError(t, Validate(Defaults()))
}

func TestValidate_MessageLimitBounds(t *testing.T) {
	cfg := Defaults()
	cfg.Router.MessageLimit = 100
	assert.Error(t, Validate(cfg))

	cfg.Router.MessageLimit = 5000
	assert.Error(t, Validate(cfg))

	cfg.Router.MessageLimit = 4096
	assert.Error(t, Validate(cfg), "above the transport chunk size")

	cfg.Router.MessageLimit = MaxMessageLimit
	assert.NoError(t, Validate(cfg))
}

func TestValidate_TriggerMustReferenceCommand(t *testing.T) {
	cfg := Defaults()
	cfg.Router.Triggers = []TriggerConfig{{Match: "how is the server", Command: "status"}}
	require.NoError(t, Validate(cfg))

	cfg.Router.Triggers = append(cfg.Router.Triggers, TriggerConfig{Match: "reboot", Command: "reboot"})
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"reboot" is not a known command`)
}

func TestValidate_TriggerAcceptsSlashPrefix(t *testing.T) {
	cfg := Defaults()
	cfg.Router.Triggers = []TriggerConfig{{Match: "print", Command: "/screenshot"}}
	assert.NoError(t, Validate(cfg))
}

func TestValidate_EmptyTriggerMatch(t *testing.T) {
	cfg := Defaults()
	cfg.Router.Triggers = []TriggerConfig{{Match: "  ", Command: "ping"}}
	assert.Error(t, Validate(cfg))
}

func TestValidate_NonNumericChatID(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.ChatID = "my-group"
	assert.Error(t, Validate(cfg))

	cfg.Telegram.ChatID = "-1001234567890"
	assert.NoError(t, Validate(cfg))
}

func TestValidate_UnknownBackend(t *testing.T) {
	cfg := Defaults()
	cfg.Capture.Backend = "robotgo"
	assert.Error(t, Validate(cfg))
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Router.LogTailLines = 0
	cfg.Logging.Format = "xml"
	cfg.Alerts.MinLevel = "loud"

	err := Validate(cfg)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "router.logTailLines")
	assert.Contains(t, msg, "logging.format")
	assert.Contains(t, msg, "alerts.minLevel")
}

func TestRequireCredentials(t *testing.T) {
	cfg := Defaults()
	err := RequireCredentials(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")
	assert.Contains(t, err.Error(), "TELEGRAM_CHAT_ID")

	cfg.Telegram.Token = "123:abc"
	cfg.Telegram.ChatID = "42"
	assert.NoError(t, RequireCredentials(cfg))
}

// --- Load / Save ---

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Router.MessageLimit)
	assert.Equal(t, 500*time.Millisecond, cfg.Router.SendInterval)
	assert.Equal(t, []string{"centralizador_extract", "centralizador_transform", "smsrio", "vitai"}, cfg.Logs.Directories)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
telegram:
  token: "file-token"
  chatId: "1001"
router:
  sendInterval: 250ms
  logTailLines: 30
  triggers:
    - match: "server ok?"
      command: status
logs:
  baseDir: /srv/projects
  directories: [billing]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("TELEGRAM_CHAT_ID", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Router.SendInterval)
	assert.Equal(t, 30, cfg.Router.LogTailLines)
	assert.Equal(t, "/srv/projects", cfg.Logs.BaseDir)
	assert.Equal(t, []string{"billing"}, cfg.Logs.Directories)
	require.Len(t, cfg.Router.Triggers, 1)
	assert.Equal(t, "status", cfg.Router.Triggers[0].Command)
	// untouched sections keep their defaults
	assert.Equal(t, "logs", cfg.Logs.Subdir)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("telegram:\n  token: file-token\n  chatId: \"1\"\n"), 0o600))

	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("TELEGRAM_CHAT_ID", "-200")
	t.Setenv("TELEGRAM_DEVS", `[{"id": 7, "name": "Ana"}, {"id": 9, "name": "Bruno"}]`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Telegram.Token)
	assert.Equal(t, "-200", cfg.Telegram.ChatID)
	assert.Equal(t, Developers{{ID: 7, Name: "Ana"}, {ID: 9, Name: "Bruno"}}, cfg.Alerts.Developers)
}

func TestLoad_InvalidDevelopersJSON(t *testing.T) {
	t.Setenv("TELEGRAM_DEVS", "ana,bruno")
	_, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}

func TestLoad_ExpandsVariablesInFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logs:\n  baseDir: ${OPSBOT_TEST_BASE:-/opt/apps}\n"), 0o600))
	t.Setenv("OPSBOT_LOGS_BASE_DIR", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/apps", cfg.Logs.BaseDir)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("router: [unclosed"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot parse config file")
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	t.Setenv("TELEGRAM_CHAT_ID", "")

	original := Defaults()
	original.Telegram.ChatID = "555"
	original.Router.SendInterval = 2 * time.Second
	require.NoError(t, Save(path, original))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "555", loaded.Telegram.ChatID)
	assert.Equal(t, 2*time.Second, loaded.Router.SendInterval)
}

// --- helpers ---

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("OPSBOT_SET", "value")
	t.Setenv("OPSBOT_EMPTY", "")

	assert.Equal(t, "a value b", ExpandEnvVars("a ${OPSBOT_SET} b"))
	assert.Equal(t, "fallback", ExpandEnvVars("${OPSBOT_EMPTY:-fallback}"))
	assert.Equal(t, "${OPSBOT_UNSET_XYZ}", ExpandEnvVars("${OPSBOT_UNSET_XYZ}"))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "logs"), ExpandPath("~/logs"))
	assert.Equal(t, "/abs/path", ExpandPath("/abs/path"))
}

func TestGetByPath_MasksToken(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Token = "123:secret"

	val, err := GetByPath(cfg, "telegram.token")
	require.NoError(t, err)
	assert.Equal(t, redacted, val)
	assert.Equal(t, "123:secret", cfg.Telegram.Token, "Sanitize must not mutate the original")

	val, err = GetByPath(cfg, "logs.directories.2")
	require.NoError(t, err)
	assert.Equal(t, "smsrio", val)

	_, err = GetByPath(cfg, "logs.missing")
	assert.Error(t, err)
}

func TestIsCommand(t *testing.T) {
	for _, name := range []string{"ping", "status", "screenshot", "wsl_screenshot", "logs", "/logs"} {
		assert.True(t, IsCommand(name), name)
	}
	assert.False(t, IsCommand("Ping"))
	assert.False(t, IsCommand(strings.Repeat("x", 3)))
}
