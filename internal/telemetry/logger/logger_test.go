package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSONLogging(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.Info("snapshot triggered", "job_id", "svjb-x", "dir", "/tmp/sv")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["msg"] != "snapshot triggered" {
		t.Fatalf("msg = %v, want %q", entry["msg"], "snapshot triggered")
	}
	if entry["job_id"] != "svjb-x" {
		t.Fatalf("job_id = %v, want svjb-x", entry["job_id"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "warn", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.Debug("hidden")
	l.Info("hidden too")
	l.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug/info should be filtered, got %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Fatalf("warn should be emitted, got %q", out)
	}
}

func TestWithAttachesFields(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.With("component", "coordinator").Info("step")

	if !strings.Contains(buf.String(), `"component":"coordinator"`) {
		t.Fatalf("With field missing from output: %q", buf.String())
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "text", Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("text format output unexpected: %q", buf.String())
	}
}

func TestDefaultNotNil(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default() should never be nil")
	}
}
