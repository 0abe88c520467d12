package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsbot/internal/bus"
)

func TestCollector_CounterIsShared(t *testing.T) {
	c := New()
	a := c.Counter("x_total", "x", "")
	b := c.Counter("x_total", "x", "")
	a.Inc()
	b.Inc()
	assert.Equal(t, int64(2), a.Value())

	labelled := c.Counter("x_total", "x", `command="ping"`)
	assert.Equal(t, int64(0), labelled.Value())
}

func TestCollector_Render(t *testing.T) {
	c := New()
	c.Counter("b_total", "b help", "").Inc()
	c.Counter("a_total", "a help", `command="logs"`).Inc()
	c.Gauge("g", "g help", "").Set(7)
	h := c.Histogram("lat_seconds", "latency", "", []float64{1, 0.5})
	h.Observe(0.2)
	h.Observe(0.7)
	h.Observe(3)

	out := c.Render()

	assert.Contains(t, out, "opsbot_uptime_seconds ")
	assert.Less(t, strings.Index(out, "a_total"), strings.Index(out, "b_total"), "counters sorted by name")
	assert.Contains(t, out, "# TYPE a_total counter\na_total{command=\"logs\"} 1\n")
	assert.Contains(t, out, "# TYPE g gauge\ng 7\n")
	assert.Contains(t, out, "lat_seconds_bucket{le=\"0.5\"} 1\n")
	assert.Contains(t, out, "lat_seconds_bucket{le=\"1\"} 2\n")
	assert.Contains(t, out, "lat_seconds_bucket{le=\"+Inf\"} 3\n")
	assert.Contains(t, out, "lat_seconds_count 3\n")
	assert.Contains(t, out, "lat_seconds_sum 3.900000\n")
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.Counter("opsbot_messages_total", "m", "").Inc()

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "opsbot_messages_total 1")
}

func TestCollector_Attach(t *testing.T) {
	c := New()
	eb := bus.NewEventBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.Attach(eb)

	now := time.Unix(1700000000, 0)
	eb.Emit(bus.Event{Type: bus.EventMessageReceived, Timestamp: now})
	eb.Emit(bus.Event{Type: bus.EventMessageReceived})
	eb.Emit(bus.Event{Type: bus.EventUnauthorized})
	eb.Emit(bus.Event{Type: bus.EventTriggerFired})
	eb.Emit(bus.Event{Type: bus.EventSendFailed})
	eb.Emit(bus.Event{Type: bus.EventCommandHandled, Payload: map[string]any{"command": "ping", "duration": 200 * time.Millisecond}})
	eb.Emit(bus.Event{Type: bus.EventCommandHandled, Payload: map[string]any{"command": "ping", "duration": time.Second}})
	eb.Emit(bus.Event{Type: bus.EventProviderFailed, Payload: map[string]any{"command": "screenshot"}})

	assert.Equal(t, int64(2), c.Counter("opsbot_messages_total", "", "").Value())
	assert.Equal(t, int64(1), c.Counter("opsbot_unauthorized_total", "", "").Value())
	assert.Equal(t, int64(1), c.Counter("opsbot_triggers_total", "", "").Value())
	assert.Equal(t, int64(1), c.Counter("opsbot_send_failures_total", "", "").Value())
	assert.Equal(t, int64(2), c.Counter("opsbot_commands_total", "", `command="ping"`).Value())
	assert.Equal(t, int64(1), c.Counter("opsbot_provider_failures_total", "", `command="screenshot"`).Value())
	require.Equal(t, int64(2), c.Histogram("opsbot_handle_seconds", "", "", nil).Count())

	g := c.Gauge("opsbot_last_message_timestamp_seconds", "", "")
	assert.GreaterOrEqual(t, g.Value(), now.Unix())
}
