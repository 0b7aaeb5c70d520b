package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("failover")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "failover" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	path := filepath.Join(t.TempDir(), "sync.log")
	log := Logger()
	if err := log.Configure("debug", "json", path, 0); err != nil {
		t.Fatalf("configure: %v", err)
	}
	log.WithComponent("orchestrator").Info("unit done")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "unit done") {
		t.Fatalf("log line not written: %s", data)
	}
}

func TestWithEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestAlertMarksEntry(t *testing.T) {
	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)

	log.WithComponent("saga").Alert("saga_compensation", "compensation failed")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if line["alert"] != true || line["alert_kind"] != "saga_compensation" {
		t.Fatalf("alert fields missing: %v", line)
	}
	if line["level"] != "error" {
		t.Fatalf("alert should log at error level, got %v", line["level"])
	}
}

func TestLogPerformanceEntry(t *testing.T) {
	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)

	LogPerformanceEntry(log.WithComponent("x"), "invoker", "price_history", 1500*time.Microsecond, nil)

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["duration_ms"] != 1.5 {
		t.Fatalf("unexpected duration: %v", line["duration_ms"])
	}
	if line["component"] != "invoker" {
		t.Fatalf("component not overridden: %v", line["component"])
	}
}

func TestIncrementUnitCounters(t *testing.T) {
	before := reportFields()
	IncrementUnit("success", 10)
	IncrementUnit("failed", 0)
	IncrementSaga("rolled_back")
	after := reportFields()

	if after["units_succeeded"].(int64)-before["units_succeeded"].(int64) != 1 {
		t.Fatalf("units_succeeded not incremented")
	}
	if after["units_failed"].(int64)-before["units_failed"].(int64) != 1 {
		t.Fatalf("units_failed not incremented")
	}
	if after["records_written"].(int64)-before["records_written"].(int64) != 10 {
		t.Fatalf("records_written not incremented")
	}
	if after["saga_rollbacks"].(int64)-before["saga_rollbacks"].(int64) != 1 {
		t.Fatalf("saga_rollbacks not incremented")
	}
}
