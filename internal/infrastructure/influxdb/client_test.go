package influxdb

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/inputemu-core/internal/infrastructure/config"
)

func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "inputemu-dev-token",
		Org:           "inputemu",
		Bucket:        "telemetry",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

// connectOrSkip connects to a local InfluxDB, skipping when none is running
// unless RUN_INTEGRATION is set.
func connectOrSkip(t *testing.T) *Client {
	t.Helper()
	c, err := Connect(testConfig())
	if err != nil {
		if os.Getenv("RUN_INTEGRATION") != "" {
			t.Fatalf("Connect() error = %v", err)
		}
		t.Skip("InfluxDB not available, skipping integration test")
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestConnectDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	if _, err := Connect(cfg); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnectUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestDeviceEventPoint(t *testing.T) {
	at := time.Unix(1700000000, 0)
	line := write.PointToLineProtocol(deviceEventPoint("LHR-1234", "controller", "activated", 3, at), time.Second)

	want := "device_event,class=controller,event=activated,serial=LHR-1234 index=3i 1700000000"
	if line = strings.TrimSpace(line); line != want {
		t.Errorf("line protocol = %q, want %q", line, want)
	}
}

func TestHostFramePoint(t *testing.T) {
	line := write.PointToLineProtocol(hostFramePoint(900, 4, time.Unix(10, 0)), time.Second)
	if !strings.HasPrefix(line, "host_frame ") {
		t.Fatalf("line protocol = %q", line)
	}
	for _, field := range []string{"frame=900i", "devices=4i"} {
		if !strings.Contains(line, field) {
			t.Errorf("line protocol %q lacks %s", line, field)
		}
	}
}

func TestClosedClientDropsWrites(t *testing.T) {
	var c *Client
	if c.IsConnected() {
		t.Fatal("nil client reports connected")
	}
	// None of these may panic.
	c.WriteDeviceEvent("s", "hmd", "activated", 0)
	c.WriteHostFrame(1, 0)
	c.WritePointWithTime("m", nil, map[string]interface{}{"v": 1.0}, time.Now())
	c.Flush()
	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}

	zero := &Client{}
	if err := zero.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestWriteAndFlush(t *testing.T) {
	c := connectOrSkip(t)

	var writeErr error
	c.SetOnError(func(err error) { writeErr = err })

	c.WriteDeviceEvent("LHR-TEST", "hmd", "discovered", 0)
	c.WriteHostFrame(1, 1)
	c.WritePointWithTime("motion_compensation",
		map[string]string{"reference_index": "1", "mode": "kalman"},
		map[string]interface{}{"offset_m": 0.01},
		time.Now())
	c.Flush()

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if writeErr != nil {
		t.Errorf("write error = %v", writeErr)
	}
}

func TestCloseIdempotent(t *testing.T) {
	c := connectOrSkip(t)
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
	c.Flush()
}
