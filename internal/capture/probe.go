package capture

import (
	"os"
	"runtime"
	"strings"

	"opsbot/internal/config"
)

// Host describes the facts the backend probe looks at.
type Host struct {
	GOOS        string
	ProcVersion string // contents of /proc/version, empty when absent
	Getenv      func(string) string
}

// DetectHost inspects the running machine.
func DetectHost() *Host {
	h := &Host{GOOS: runtime.GOOS, Getenv: os.Getenv}
	if data, err := os.ReadFile("/proc/version"); err == nil {
		h.ProcVersion = string(data)
	}
	return h
}

// IsWSL reports whether the process runs inside Windows Subsystem for Linux.
func (h *Host) IsWSL() bool {
	v := strings.ToLower(h.ProcVersion)
	return strings.Contains(v, "microsoft") || strings.Contains(v, "wsl")
}

func (h *Host) env(key string) string {
	if h.Getenv == nil {
		return ""
	}
	return h.Getenv(key)
}

// Select resolves the screenshot backend once. With backend "auto" it
// probes the host; otherwise the named backend is used as is.
func Select(cfg Config) Capturer {
	cfg.setDefaults()

	name := cfg.Backend
	if name == "" || name == config.BackendAuto {
		name = probe(cfg)
	}

	var c Capturer
	switch name {
	case config.BackendWSL:
		c = &powerShell{cfg: cfg, viaWSL: true}
	case config.BackendPowerShell:
		c = &powerShell{cfg: cfg}
	case config.BackendDarwin:
		c = &nativeTool{cfg: cfg, name: config.BackendDarwin, tool: screencapture}
	case config.BackendLinuxTool:
		if t, ok := firstDesktopTool(cfg); ok {
			c = &nativeTool{cfg: cfg, name: config.BackendLinuxTool, tool: t}
		} else {
			c = unsupported{}
		}
	default:
		c = unsupported{}
	}

	cfg.Logger.Info("screenshot backend selected", "backend", c.Name(), "requested", cfg.Backend)
	return c
}

func probe(cfg Config) string {
	h := cfg.Host
	switch {
	case h.IsWSL():
		if _, err := cfg.Runner.LookPath("powershell.exe"); err == nil {
			return config.BackendWSL
		}
	case h.GOOS == "darwin":
		return config.BackendDarwin
	case h.GOOS == "windows":
		return config.BackendPowerShell
	}
	if _, ok := firstDesktopTool(cfg); ok {
		return config.BackendLinuxTool
	}
	return config.BackendNone
}

// firstDesktopTool picks the first installed tool that matches the
// available display server.
func firstDesktopTool(cfg Config) (tool, bool) {
	var candidates []tool
	if cfg.Host.env("WAYLAND_DISPLAY") != "" {
		candidates = append(candidates, grim)
	}
	if cfg.Host.env("DISPLAY") != "" {
		candidates = append(candidates, scrot, gnomeScreenshot, imageMagick)
	}
	for _, t := range candidates {
		if _, err := cfg.Runner.LookPath(t.bin); err == nil {
			return t, true
		}
	}
	return tool{}, false
}
