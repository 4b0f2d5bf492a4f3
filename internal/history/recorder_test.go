package history_test

import (
	"context"
	"errors"
	"testing"

	"github.com/imprisonedmind/olarmd/internal/alarm"
	"github.com/imprisonedmind/olarmd/internal/history"
	"github.com/imprisonedmind/olarmd/internal/infrastructure/config"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.HistoryConfig {
	return config.HistoryConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:8086",
		Token:   "olarmd-dev-token",
		Org:     "olarmd",
		Bucket:  "alarm",
	}
}

// skipIfNoInfluxDB skips the test if InfluxDB is not running.
func skipIfNoInfluxDB(t *testing.T) *history.Recorder {
	t.Helper()
	recorder, err := history.Connect(testConfig())
	if err != nil {
		t.Skip("InfluxDB not available, skipping integration test")
	}
	return recorder
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := history.Connect(cfg)
	if !errors.Is(err, history.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999" // Non-existent port

	_, err := history.Connect(cfg)
	if err == nil {
		t.Fatal("Connect() should fail for unreachable server")
	}
	if !errors.Is(err, history.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

// =============================================================================
// Recording Tests (integration)
// =============================================================================

func TestRecordChange(t *testing.T) {
	recorder := skipIfNoInfluxDB(t)
	defer recorder.Close()

	recorder.RecordChange(alarm.ChangeSet{
		DeviceID: "test-device",
		Changed:  true,
		Areas: []alarm.Area{
			{DeviceID: "test-device", Number: 1, Name: "Main", State: alarm.StateArmed},
		},
	})
	recorder.Flush()

	if err := recorder.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() after write error = %v", err)
	}
}

func TestRecordChange_UnchangedIgnored(t *testing.T) {
	recorder := skipIfNoInfluxDB(t)
	defer recorder.Close()

	// Must not panic or block; unchanged sets are dropped before any write.
	recorder.RecordChange(alarm.ChangeSet{DeviceID: "test-device", Changed: false})
}

func TestClose_Idempotent(t *testing.T) {
	recorder := skipIfNoInfluxDB(t)

	if err := recorder.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if recorder.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}

	// Flush after close is a no-op
	recorder.Flush()

	if err := recorder.HealthCheck(context.Background()); !errors.Is(err, history.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close() error = %v, want ErrNotConnected", err)
	}
}
