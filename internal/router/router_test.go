package router

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsbot/internal/bus"
	"opsbot/internal/config"
	"opsbot/internal/domain"
	"opsbot/internal/logtail"
)

const chatID = "424242"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- fakes ---

type fakeSender struct {
	mu     sync.Mutex
	texts  []domain.OutboundMessage
	photos []domain.OutboundPhoto
	// failText decides per attempt (0-based over all SendText calls).
	failText  func(n int, msg domain.OutboundMessage) error
	failPhoto error
	// photoSeen records whether the photo file existed when sent.
	photoSeen bool
	// delay makes every SendText take that long; spans records when
	// each call started and returned.
	delay time.Duration
	spans []span
}

type span struct{ start, end time.Time }

func (f *fakeSender) SendText(_ context.Context, msg domain.OutboundMessage) error {
	start := time.Now()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spans = append(f.spans, span{start: start, end: time.Now()})
	n := len(f.texts)
	f.texts = append(f.texts, msg)
	if f.failText != nil {
		return f.failText(n, msg)
	}
	return nil
}

func (f *fakeSender) SendPhoto(_ context.Context, p domain.OutboundPhoto) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := os.Stat(p.Path)
	f.photoSeen = err == nil
	f.photos = append(f.photos, p)
	return f.failPhoto
}

func (f *fakeSender) contents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.texts))
	for _, m := range f.texts {
		out = append(out, m.Content)
	}
	return out
}

type fakeStatus struct {
	calls  atomic.Int32
	report string
	err    error
	block  func()
	panics bool
}

func (f *fakeStatus) Report(context.Context) (string, error) {
	f.calls.Add(1)
	if f.block != nil {
		f.block()
	}
	if f.panics {
		panic("status exploded")
	}
	return f.report, f.err
}

type fakeLogs struct {
	summaryCalls atomic.Int32
	tailCalls    atomic.Int32
	lastN        atomic.Int32
	records      []domain.LogRecord
	summaryErr   error
	tailsErr     error
}

func (f *fakeLogs) Summary(context.Context) (string, error) {
	f.summaryCalls.Add(1)
	return "📋 summary", f.summaryErr
}

func (f *fakeLogs) Tails(_ context.Context, n int) ([]domain.LogRecord, error) {
	f.tailCalls.Add(1)
	f.lastN.Store(int32(n))
	return f.records, f.tailsErr
}

// fakeShot optionally writes a real file so cleanup can be observed.
type fakeShot struct {
	calls    atomic.Int32
	dir      string
	write    bool
	err      error
	sessions domain.SessionInfo
	lastPath string
}

func (f *fakeShot) Capture(context.Context) (string, error) {
	f.calls.Add(1)
	if !f.write {
		return "", f.err
	}
	f.lastPath = filepath.Join(f.dir, fmt.Sprintf("shot_%d.png", f.calls.Load()))
	if err := os.WriteFile(f.lastPath, []byte("png"), 0o600); err != nil {
		return "", err
	}
	return f.lastPath, f.err
}

func (f *fakeShot) Sessions(context.Context) domain.SessionInfo { return f.sessions }

type fixture struct {
	router *Router
	sender *fakeSender
	status *fakeStatus
	logs   *fakeLogs
	shot   *fakeShot
	wsl    *fakeShot
	logBuf *syncBuffer
	events *bus.EventBus
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		sender: &fakeSender{},
		status: &fakeStatus{report: "🖥️ *SYSTEM STATUS*"},
		logs:   &fakeLogs{},
		shot:   &fakeShot{dir: t.TempDir()},
		wsl:    &fakeShot{dir: t.TempDir()},
		logBuf: &syncBuffer{},
	}
	logger := slog.New(slog.NewTextHandler(f.logBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f.events = bus.NewEventBus(logger)

	cfg := Config{
		AuthorizedChatID: chatID,
		MessageLimit:     4000,
		SendInterval:     0,
		LogTailLines:     15,
		Sender:           f.sender,
		Status:           f.status,
		Logs:             f.logs,
		Screenshot:       f.shot,
		WSL:              f.wsl,
		Events:           f.events,
		Logger:           logger,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	r, err := New(cfg)
	require.NoError(t, err)
	f.router = r
	return f
}

func (f *fixture) send(text string) {
	f.router.Handle(context.Background(), msgFrom(chatID, text))
}

func msgFrom(chat, text string) domain.InboundMessage {
	return domain.InboundMessage{
		Channel:    "test",
		ChatID:     chat,
		SenderID:   "7",
		SenderName: "Ana",
		Content:    text,
		Timestamp:  time.Now(),
	}
}

func (f *fixture) providerCalls() int32 {
	return f.status.calls.Load() + f.logs.summaryCalls.Load() + f.logs.tailCalls.Load() +
		f.shot.calls.Load() + f.wsl.calls.Load()
}

// --- authorization ---

func TestHandle_UnauthorizedChatIsDropped(t *testing.T) {
	for _, text := range []string{"/ping", "/status", "/screenshot", "/wsl_screenshot", "/logs", "status please"} {
		t.Run(text, func(t *testing.T) {
			f := newFixture(t, func(c *Config) {
				c.Triggers = []config.TriggerConfig{{Match: "status", Command: "status"}}
			})
			var unauthorized int
			f.events.On(bus.EventUnauthorized, func(bus.Event) { unauthorized++ })

			f.router.Handle(context.Background(), msgFrom("999", text))

			assert.Empty(t, f.sender.texts)
			assert.Empty(t, f.sender.photos)
			assert.Zero(t, f.providerCalls())
			assert.Equal(t, 1, unauthorized)
		})
	}
}

func TestHandle_UnauthorizedStatusLogsOneWarning(t *testing.T) {
	f := newFixture(t)

	f.router.Handle(context.Background(), msgFrom("-100123", "/status"))

	assert.Empty(t, f.sender.texts)
	assert.Equal(t, 1, strings.Count(f.logBuf.String(), "level=WARN"))
	assert.Contains(t, f.logBuf.String(), "chat_id=-100123")
}

// --- command resolution ---

func TestHandle_Ping(t *testing.T) {
	f := newFixture(t)

	f.send("/ping")

	require.Len(t, f.sender.texts, 1)
	assert.Equal(t, "Pong! 🏓", f.sender.texts[0].Content)
	assert.Equal(t, chatID, f.sender.texts[0].ChatID)
}

func TestHandle_EachCommandInvokesItsProviderOnce(t *testing.T) {
	tests := []struct {
		text  string
		calls func(f *fixture) []int32
	}{
		{"/status", func(f *fixture) []int32 { return []int32{f.status.calls.Load()} }},
		{"/logs", func(f *fixture) []int32 { return []int32{f.logs.summaryCalls.Load(), f.logs.tailCalls.Load()} }},
		{"/screenshot", func(f *fixture) []int32 { return []int32{f.shot.calls.Load()} }},
		{"/wsl_screenshot", func(f *fixture) []int32 { return []int32{f.wsl.calls.Load()} }},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			f := newFixture(t)
			f.send(tt.text)
			for _, n := range tt.calls(f) {
				assert.Equal(t, int32(1), n)
			}
			// Nothing else was touched.
			assert.Equal(t, int32(len(tt.calls(f))), f.providerCalls())
		})
	}
}

func TestHandle_CommandTokenVariants(t *testing.T) {
	f := newFixture(t)

	f.send("/ping@ops_bot")
	f.send("  /ping   with arguments")
	require.Equal(t, []string{PingReply, PingReply}, f.sender.contents())
}

func TestHandle_UnknownCommandsAreIgnored(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Triggers = []config.TriggerConfig{{Match: "help", Command: "ping"}}
	})

	for _, text := range []string{"/help", "/Ping", "/PING", "/", "/pingpong", "   "} {
		f.send(text)
	}

	assert.Empty(t, f.sender.texts)
	assert.Zero(t, f.providerCalls())
	assert.Contains(t, f.logBuf.String(), "unregistered command ignored")
}

// --- triggers ---

func TestHandle_TriggersAllFireInRegistrationOrder(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Triggers = []config.TriggerConfig{
			{Match: "Status", Command: "status"},
			{Match: "ping", Command: "/ping"},
			{Match: "logs", Command: "logs"},
		}
	})

	f.send("  could you PING me and show STATUS?  ")

	assert.Equal(t, []string{"🖥️ *SYSTEM STATUS*", PingReply}, f.sender.contents())
	assert.Zero(t, f.logs.summaryCalls.Load())
	assert.Contains(t, f.logBuf.String(), "[Ana]: could you PING me and show STATUS?")
	assert.Equal(t, 2, strings.Count(f.logBuf.String(), "trigger fired"))
}

func TestHandle_FreeTextWithoutMatchSendsNothing(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Triggers = []config.TriggerConfig{{Match: "status", Command: "status"}}
	})

	f.send("hello there")

	assert.Empty(t, f.sender.texts)
	assert.Zero(t, f.providerCalls())
}

func TestNew_RejectsBadTriggers(t *testing.T) {
	base := Config{
		AuthorizedChatID: chatID,
		Sender:           &fakeSender{},
		Status:           &fakeStatus{},
		Logs:             &fakeLogs{},
		Screenshot:       &fakeShot{},
		WSL:              &fakeShot{},
	}

	cfg := base
	cfg.Triggers = []config.TriggerConfig{{Match: "x", Command: "reboot"}}
	_, err := New(cfg)
	assert.ErrorContains(t, err, `unknown command "reboot"`)

	cfg.Triggers = []config.TriggerConfig{{Match: "  ", Command: "ping"}}
	_, err = New(cfg)
	assert.ErrorContains(t, err, "empty match")

	cfg = base
	cfg.AuthorizedChatID = ""
	_, err = New(cfg)
	assert.Error(t, err)

	cfg = base
	cfg.WSL = nil
	_, err = New(cfg)
	assert.Error(t, err)
}

// --- status ---

func TestHandle_StatusIsMarkdown(t *testing.T) {
	f := newFixture(t)
	f.send("/status")

	require.Len(t, f.sender.texts, 1)
	assert.Equal(t, domain.FormatMarkdown, f.sender.texts[0].Format)
}

func TestHandle_StatusFailure(t *testing.T) {
	f := newFixture(t)
	f.status.err = errors.New("gopsutil broke")

	f.send("/status")

	assert.Equal(t, []string{StatusFailure}, f.sender.contents())
	assert.NotContains(t, f.sender.contents()[0], "gopsutil")
}

// --- logs ---

func TestHandle_LogsWithNoRecords(t *testing.T) {
	f := newFixture(t)

	f.send("/logs")

	assert.Equal(t, []string{"📋 summary", logtail.NoLogsMessage}, f.sender.contents())
	assert.Equal(t, int32(15), f.logs.lastN.Load())
}

func TestHandle_LogsSendsOneMessagePerRecordPaced(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.SendInterval = 20 * time.Millisecond })
	f.logs.records = []domain.LogRecord{
		{Directory: "a", Status: domain.LogOK, FileName: "1.log", Tail: "one"},
		{Directory: "b", Status: domain.LogEmpty, Path: "/x/b/logs"},
		{Directory: "c", Status: domain.LogDirMissing, Path: "/x/c"},
	}

	start := time.Now()
	f.send("/logs")
	elapsed := time.Since(start)

	got := f.sender.contents()
	require.Len(t, got, 4)
	assert.Equal(t, "📋 summary", got[0])
	assert.True(t, strings.HasPrefix(got[1], "📄 a - 1.log"))
	assert.True(t, strings.HasPrefix(got[2], "⚠️ b"))
	assert.True(t, strings.HasPrefix(got[3], "⚠️ c"))
	for _, m := range f.sender.texts {
		assert.Equal(t, domain.FormatPlain, m.Format)
	}
	// Three gaps between four sends.
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

func TestHandle_LogsPauseAfterSlowSends(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.SendInterval = 40 * time.Millisecond })
	f.sender.delay = 60 * time.Millisecond
	f.logs.records = []domain.LogRecord{
		{Directory: "a", Status: domain.LogOK, FileName: "1.log", Tail: "one"},
		{Directory: "b", Status: domain.LogOK, FileName: "2.log", Tail: "two"},
		{Directory: "c", Status: domain.LogOK, FileName: "3.log", Tail: "three"},
	}

	f.send("/logs")

	spans := f.sender.spans
	require.Len(t, spans, 4)
	for i := 1; i < len(spans); i++ {
		gap := spans[i].start.Sub(spans[i-1].end)
		assert.GreaterOrEqual(t, gap, 40*time.Millisecond, "gap before send %d", i)
	}
}

func TestHandle_LogsFallbackOnSendFailure(t *testing.T) {
	f := newFixture(t)
	long := strings.Repeat("z", 3000)
	f.logs.records = []domain.LogRecord{
		{Directory: "a", Status: domain.LogOK, FileName: "1.log", Tail: "first"},
		{Directory: "b", Status: domain.LogOK, FileName: "2.log", Tail: long},
		{Directory: "c", Status: domain.LogOK, FileName: "3.log", Tail: "third"},
	}
	// Attempt #2 is the second record (summary is #0).
	f.sender.failText = func(n int, _ domain.OutboundMessage) error {
		if n == 2 {
			return errors.New("Bad Request: message is too long")
		}
		return nil
	}

	f.send("/logs")

	got := f.sender.contents()
	require.Len(t, got, 5)
	fallback := got[3]
	assert.True(t, strings.HasPrefix(fallback, "❌ Failed to send log: Bad Request: message is too long\n\n📄 b - 2.log"))
	assert.True(t, strings.HasSuffix(fallback, "..."))
	assert.Equal(t, logtail.Head(got[2], 500), strings.TrimSuffix(strings.SplitN(fallback, "\n\n", 2)[1], "..."))
	assert.True(t, strings.HasPrefix(got[4], "📄 c - 3.log"), "batch continues after a failure")
}

func TestHandle_LogsContinuesWhenFallbackAlsoFails(t *testing.T) {
	f := newFixture(t)
	f.logs.records = []domain.LogRecord{
		{Directory: "a", Status: domain.LogEmpty},
		{Directory: "b", Status: domain.LogEmpty},
	}
	f.sender.failText = func(n int, _ domain.OutboundMessage) error {
		if n == 1 || n == 2 {
			return errors.New("network down")
		}
		return nil
	}

	f.send("/logs")

	got := f.sender.contents()
	require.Len(t, got, 4)
	assert.True(t, strings.HasPrefix(got[3], "⚠️ b"))
}

func TestHandle_LogsProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.logs.tailsErr = errors.New("disk on fire")

	f.send("/logs")

	assert.Equal(t, []string{"📋 summary", LogsFailure}, f.sender.contents())
}

// --- screenshots ---

func TestHandle_ScreenshotNoPath(t *testing.T) {
	f := newFixture(t)

	f.send("/screenshot")

	got := f.sender.contents()
	require.Len(t, got, 2)
	assert.Equal(t, ScreenshotAck, got[0])
	assert.True(t, strings.HasPrefix(got[1], ScreenshotFailure))
	assert.Empty(t, f.sender.photos)
}

func TestHandle_ScreenshotFailureReasons(t *testing.T) {
	f := newFixture(t)
	f.shot.err = fmt.Errorf("scrot: %w", domain.ErrTimeout)

	f.send("/screenshot")

	got := f.sender.contents()
	require.Len(t, got, 2)
	assert.Equal(t, ScreenshotFailure+"\n\nReason: the capture tool timed out", got[1])
}

func TestHandle_ScreenshotSentAndRemoved(t *testing.T) {
	f := newFixture(t)
	f.shot.write = true

	f.send("/screenshot")

	require.Len(t, f.sender.photos, 1)
	photo := f.sender.photos[0]
	assert.Equal(t, ScreenshotCaption, photo.Caption)
	assert.Equal(t, f.shot.lastPath, photo.Path)
	assert.True(t, f.sender.photoSeen, "file exists while being sent")
	assert.NoFileExists(t, photo.Path)
	assert.Equal(t, []string{ScreenshotAck}, f.sender.contents())
}

func TestHandle_ScreenshotRemovedWhenSendFails(t *testing.T) {
	f := newFixture(t)
	f.shot.write = true
	f.sender.failPhoto = errors.New("upload failed")

	f.send("/screenshot")

	assert.NoFileExists(t, f.shot.lastPath)
	got := f.sender.contents()
	require.Len(t, got, 2)
	assert.Equal(t, "❌ Something went wrong while handling /screenshot. Please try again.", got[1])
}

func TestHandle_ScreenshotRemovedWhenProviderErrsWithFile(t *testing.T) {
	f := newFixture(t)
	f.shot.write = true
	f.shot.err = domain.ErrCaptureMissing

	f.send("/screenshot")

	assert.NoFileExists(t, f.shot.lastPath)
	assert.Empty(t, f.sender.photos)
}

func TestHandle_WSLScreenshot(t *testing.T) {
	f := newFixture(t)
	f.wsl.write = true

	f.send("/wsl_screenshot")

	require.Len(t, f.sender.photos, 1)
	assert.Equal(t, WSLCaption, f.sender.photos[0].Caption)
	assert.Equal(t, []string{WSLAck}, f.sender.contents())
	assert.NoFileExists(t, f.wsl.lastPath)
}

func TestHandle_WSLScreenshotSessionFallback(t *testing.T) {
	f := newFixture(t)
	f.wsl.err = domain.ErrNoCapture
	f.wsl.sessions = domain.SessionInfo{
		Sessions: "ops [Created 1h ago]",
		Layout:   strings.Repeat("L", 800),
	}

	f.send("/wsl_screenshot")

	got := f.sender.texts
	require.Len(t, got, 2)
	assert.Equal(t, domain.FormatMarkdown, got[1].Format)
	assert.Contains(t, got[1].Content, "ops [Created 1h ago]")
	assert.Contains(t, got[1].Content, strings.Repeat("L", 500)+"...")
	assert.NotContains(t, got[1].Content, strings.Repeat("L", 501))
}

func TestHandle_WSLScreenshotWithoutSessions(t *testing.T) {
	f := newFixture(t)
	f.wsl.err = domain.ErrNoCapture

	f.send("/wsl_screenshot")

	assert.Equal(t, []string{WSLAck, WSLFailure}, f.sender.contents())
}

// --- isolation ---

func TestHandle_PanicIsContained(t *testing.T) {
	f := newFixture(t)
	f.status.panics = true

	assert.NotPanics(t, func() { f.send("/status") })
	f.send("/ping")

	assert.Equal(t, []string{
		"❌ Something went wrong while handling /status. Please try again.",
		PingReply,
	}, f.sender.contents())
	assert.Contains(t, f.logBuf.String(), "command handler panicked")
}

func TestHandle_TransportFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	f.sender.failText = func(int, domain.OutboundMessage) error { return errors.New("unreachable") }

	assert.NotPanics(t, func() { f.send("/ping") })
	// Reply and apology were both attempted.
	assert.Len(t, f.sender.texts, 2)
	assert.Contains(t, f.logBuf.String(), "apology not delivered")
}

func TestHandle_EmitsEvents(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	seen := map[string]int{}
	f.events.On("*", func(e bus.Event) {
		mu.Lock()
		seen[e.Type]++
		mu.Unlock()
	})
	f.status.err = errors.New("x")

	f.send("/ping")
	f.send("/status")

	assert.Equal(t, 2, seen[bus.EventMessageReceived])
	assert.Equal(t, 2, seen[bus.EventCommandHandled])
	assert.Equal(t, 1, seen[bus.EventProviderFailed])
}

func TestCommandToken(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"/ping", "ping", true},
		{"/wsl_screenshot now", "wsl_screenshot", true},
		{"/logs@opsbot", "logs", true},
		{"/", "", true},
		{"ping", "", false},
		{"", "", false},
		{"hello /ping", "", false},
	}
	for _, tt := range tests {
		got, ok := commandToken(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.wantOK, ok, tt.in)
	}
}
