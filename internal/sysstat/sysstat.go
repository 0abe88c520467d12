// Package sysstat renders a host status report for the /status command.
// Each figure that cannot be read is shown as N/A; collection never fails
// as a whole.
package sysstat

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/user"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
)

const na = "N/A"

// Snapshot is one reading of the host. Empty strings and nil sections
// render as N/A.
type Snapshot struct {
	Username string
	Hostname string
	OS       string
	Arch     string
	CPUModel string
	BootTime time.Time

	CPU        *CPUStats
	Memory     *UsageStats
	Disk       *UsageStats
	Interfaces []Interface
}

type CPUStats struct {
	Physical     int
	Logical      int
	UsagePercent float64
	HasUsage     bool
	MHz          float64
}

// UsageStats covers both memory and disk: Free is "available" for memory.
type UsageStats struct {
	Total       uint64
	Used        uint64
	Free        uint64
	UsedPercent float64
}

type Interface struct {
	Name  string
	Kind  string // WiFi, Ethernet, Mobile, Unknown
	Addrs []Address
}

type Address struct {
	Family string // IPv4 | IPv6
	IP     string
}

// Reporter collects snapshots with gopsutil.
type Reporter struct {
	logger      *slog.Logger
	diskPath    string
	cpuInterval time.Duration
}

type ReporterConfig struct {
	// CPUInterval is the sampling window for CPU usage.
	CPUInterval time.Duration
	Logger      *slog.Logger
}

func NewReporter(cfg ReporterConfig) *Reporter {
	if cfg.CPUInterval <= 0 {
		cfg.CPUInterval = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	diskPath := "/"
	if runtime.GOOS == "windows" {
		diskPath = `C:\`
	}
	return &Reporter{logger: cfg.Logger, diskPath: diskPath, cpuInterval: cfg.CPUInterval}
}

// Report collects a snapshot and renders it.
func (r *Reporter) Report(ctx context.Context) (string, error) {
	snap := r.Collect(ctx)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return Render(snap), nil
}

// Collect reads every section independently; a failing section is logged
// and left empty.
func (r *Reporter) Collect(ctx context.Context) Snapshot {
	snap := Snapshot{Arch: runtime.GOARCH}

	if u, err := user.Current(); err == nil {
		snap.Username = u.Username
	} else {
		snap.Username = firstNonEmpty(os.Getenv("USER"), os.Getenv("USERNAME"))
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		snap.Hostname = info.Hostname
		snap.OS = describeOS(info)
		if info.KernelArch != "" {
			snap.Arch = info.KernelArch
		}
		if info.BootTime > 0 {
			snap.BootTime = time.Unix(int64(info.BootTime), 0)
		}
	} else {
		r.logger.Debug("host info unavailable", "err", err)
		snap.Hostname, _ = os.Hostname()
		snap.OS = runtime.GOOS
	}

	snap.CPU = r.cpuStats(ctx, &snap)

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.Memory = &UsageStats{Total: vm.Total, Used: vm.Used, Free: vm.Available, UsedPercent: vm.UsedPercent}
	} else {
		r.logger.Debug("memory stats unavailable", "err", err)
	}

	if du, err := disk.UsageWithContext(ctx, r.diskPath); err == nil {
		snap.Disk = &UsageStats{Total: du.Total, Used: du.Used, Free: du.Free, UsedPercent: du.UsedPercent}
	} else {
		r.logger.Debug("disk stats unavailable", "path", r.diskPath, "err", err)
	}

	if ifaces, err := net.InterfacesWithContext(ctx); err == nil {
		snap.Interfaces = activeInterfaces(ifaces)
	} else {
		r.logger.Debug("network interfaces unavailable", "err", err)
	}

	return snap
}

func (r *Reporter) cpuStats(ctx context.Context, snap *Snapshot) *CPUStats {
	stats := &CPUStats{}
	ok := false

	if n, err := cpu.CountsWithContext(ctx, false); err == nil {
		stats.Physical, ok = n, true
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		stats.Logical, ok = n, true
	}
	if pct, err := cpu.PercentWithContext(ctx, r.cpuInterval, false); err == nil && len(pct) > 0 {
		stats.UsagePercent, stats.HasUsage, ok = pct[0], true, true
	}
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		snap.CPUModel = strings.TrimSpace(infos[0].ModelName)
		stats.MHz = infos[0].Mhz
		ok = true
	}

	if !ok {
		return nil
	}
	return stats
}

func describeOS(info *host.InfoStat) string {
	parts := []string{info.OS}
	if info.Platform != "" && info.Platform != info.OS {
		parts = append(parts, info.Platform)
	}
	if info.PlatformVersion != "" {
		parts = append(parts, info.PlatformVersion)
	}
	s := strings.Join(parts, " ")
	if info.KernelVersion != "" {
		s += " (kernel " + info.KernelVersion + ")"
	}
	return s
}

func activeInterfaces(list net.InterfaceStatList) []Interface {
	var out []Interface
	for _, ifc := range list {
		if !hasFlag(ifc.Flags, "up") || hasFlag(ifc.Flags, "loopback") {
			continue
		}
		if strings.HasPrefix(ifc.Name, "lo") || strings.HasPrefix(ifc.Name, "Local") {
			continue
		}

		item := Interface{Name: ifc.Name, Kind: interfaceKind(ifc.Name)}
		for _, a := range ifc.Addrs {
			if addr, ok := parseAddr(a.Addr); ok {
				item.Addrs = append(item.Addrs, addr)
			}
		}
		if len(item.Addrs) > 0 {
			out = append(out, item)
		}
	}
	return out
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

// interfaceKind guesses the link type from the interface name.
func interfaceKind(name string) string {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "wifi"), strings.Contains(n, "wlan"),
		strings.Contains(n, "wireless"), strings.HasPrefix(n, "wl"):
		return "WiFi"
	case strings.Contains(n, "eth"), strings.HasPrefix(n, "en"), strings.Contains(n, "local"):
		return "Ethernet"
	case strings.Contains(n, "ppp"), strings.Contains(n, "mobile"), strings.HasPrefix(n, "wwan"):
		return "Mobile"
	default:
		return "Unknown"
	}
}

// parseAddr accepts "ip/prefix" or a bare IP.
func parseAddr(s string) (Address, bool) {
	var ip netip.Addr
	if p, err := netip.ParsePrefix(s); err == nil {
		ip = p.Addr()
	} else if a, err := netip.ParseAddr(s); err == nil {
		ip = a
	} else {
		return Address{}, false
	}
	family := "IPv4"
	if ip.Is6() && !ip.Is4In6() {
		family = "IPv6"
	}
	return Address{Family: family, IP: ip.String()}, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Render formats a snapshot as a Markdown report.
func Render(s Snapshot) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	line("🖥️ *SYSTEM STATUS*")
	line(strings.Repeat("=", 30))
	line("")

	line("📋 *General:*")
	line("👤 User: %s", orNA(s.Username))
	line("🏠 Hostname: %s", orNA(s.Hostname))
	line("💻 OS: %s", orNA(s.OS))
	line("🏗️ Architecture: %s", orNA(s.Arch))
	line("🔧 Processor: %s", orNA(s.CPUModel))
	boot := na
	if !s.BootTime.IsZero() {
		boot = s.BootTime.Format("2006-01-02 15:04:05")
	}
	line("🔄 Last boot: %s", boot)
	line("")

	line("⚡ *CPU:*")
	if c := s.CPU; c != nil {
		line("🔢 Physical cores: %s", intOrNA(c.Physical))
		line("🔢 Logical cores: %s", intOrNA(c.Logical))
		usage := na
		if c.HasUsage {
			usage = fmt.Sprintf("%.2f%%", c.UsagePercent)
		}
		line("📊 Usage: %s", usage)
		freq := na
		if c.MHz > 0 {
			freq = fmt.Sprintf("%.2f MHz", c.MHz)
		}
		line("📈 Frequency: %s", freq)
	} else {
		line("🔢 Physical cores: %s", na)
		line("🔢 Logical cores: %s", na)
		line("📊 Usage: %s", na)
		line("📈 Frequency: %s", na)
	}
	line("")

	line("🧠 *Memory:*")
	renderUsage(line, s.Memory, "Available")
	line("")

	line("💿 *Storage:*")
	renderUsage(line, s.Disk, "Free")
	line("")

	line("🌐 *Networks:*")
	if len(s.Interfaces) == 0 {
		line("❌ No active network interface found")
	}
	for _, ifc := range s.Interfaces {
		line("📶 *%s* (%s):", ifc.Kind, ifc.Name)
		for _, a := range ifc.Addrs {
			line("   📍 %s: %s", a.Family, a.IP)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func renderUsage(line func(string, ...any), u *UsageStats, freeLabel string) {
	if u == nil {
		line("💾 Total: %s", na)
		line("📊 Used: %s", na)
		line("🆓 %s: %s", freeLabel, na)
		return
	}
	line("💾 Total: %s GB", gb(u.Total))
	line("📊 Used: %s GB (%.2f%%)", gb(u.Used), u.UsedPercent)
	line("🆓 %s: %s GB", freeLabel, gb(u.Free))
}

func gb(n uint64) string {
	return fmt.Sprintf("%.2f", float64(n)/(1<<30))
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return na
	}
	return s
}

func intOrNA(n int) string {
	if n <= 0 {
		return na
	}
	return fmt.Sprint(n)
}
