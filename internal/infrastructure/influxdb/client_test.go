package influxdb

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/linkpulse/internal/infrastructure/config"
)

// testConfig matches the local development InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "linkpulse-dev-token",
		Org:           "linkpulse",
		Bucket:        "metrics",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// connectOrSkip connects to the local InfluxDB, skipping the test when it
// is not running. Set RUN_INTEGRATION to turn a failed connect into a
// test failure.
func connectOrSkip(t *testing.T) *Client {
	t.Helper()
	client, err := Connect(testConfig())
	if err != nil {
		if os.Getenv("RUN_INTEGRATION") != "" {
			t.Fatalf("Connect() error = %v", err)
		}
		t.Skip("InfluxDB not available, skipping integration test")
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // test cleanup
	return client
}

// fakeWriter captures points in line protocol.
type fakeWriter struct {
	mu      sync.Mutex
	lines   []string
	flushes int
}

func (f *fakeWriter) WritePoint(p *write.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, write.PointToLineProtocol(p, time.Nanosecond))
}

func (f *fakeWriter) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

func newFakeClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	c := newClient(w)
	c.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return c, w
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriteAuthEvent(t *testing.T) {
	c, w := newFakeClient()

	c.WriteAuthEvent("refresh", "success")

	if len(w.lines) != 1 {
		t.Fatalf("wrote %d points, want 1", len(w.lines))
	}
	line := w.lines[0]
	for _, want := range []string{"auth_events,", "event=refresh", "outcome=success", "count=1i"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestWriteClick(t *testing.T) {
	c, w := newFakeClient()
	at := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)

	c.WriteClick(ClickPoint{
		LinkID:     "link-1",
		OwnerID:    "user-1",
		Country:    "India",
		DeviceType: "Mobile",
		At:         at,
	})

	line := w.lines[0]
	for _, want := range []string{
		"link_clicks,",
		"link_id=link-1",
		"owner_id=user-1",
		"country=India",
		"device_type=Mobile",
		"browser=Unknown",
		"count=1i",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
	if !strings.HasSuffix(line, " 1772440200000000000\n") && !strings.HasSuffix(line, " 1772440200000000000") {
		t.Errorf("line %q not stamped with click time", line)
	}
}

func TestWriteClick_DefaultsToNow(t *testing.T) {
	c, w := newFakeClient()

	c.WriteClick(ClickPoint{LinkID: "link-1"})

	if !strings.Contains(w.lines[0], "country=Unknown") {
		t.Errorf("missing country fallback: %q", w.lines[0])
	}
	if !strings.Contains(w.lines[0], " 1772366400000000000") {
		t.Errorf("line %q not stamped with now", w.lines[0])
	}
}

func TestWritesDroppedAfterClose(t *testing.T) {
	c, w := newFakeClient()

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if w.flushes != 1 {
		t.Errorf("Close() flushed %d times, want 1", w.flushes)
	}

	c.WriteAuthEvent("login", "success")
	c.WritePoint("custom", nil, map[string]any{"v": 1})
	c.Flush()

	if len(w.lines) != 0 {
		t.Errorf("wrote %d points after Close()", len(w.lines))
	}
	if w.flushes != 1 {
		t.Errorf("Flush() after Close() reached the writer")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close() error = %v, want ErrNotConnected", err)
	}
}

func TestSetOnError(t *testing.T) {
	c, _ := newFakeClient()

	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	errs := make(chan error, 1)
	errs <- errors.New("write rejected")
	close(errs)
	c.handleWriteErrors(errs)

	select {
	case err := <-got:
		if err.Error() != "write rejected" {
			t.Errorf("callback error = %v", err)
		}
	default:
		t.Fatal("error callback not invoked")
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	if _, err := Connect(cfg); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose_Unconnected(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestConnectAndWrite(t *testing.T) {
	c := connectOrSkip(t)

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	c.WriteAuthEvent("login", "success")
	c.WriteClick(ClickPoint{LinkID: "integration-link", Country: "Testland"})
	c.Flush()
}
