package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/mieaa/config"
	"go.uber.org/zap"
)

func TestBuildRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := build(config.LoggingConfig{Level: "warn"}, &buf)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	l.Info("hidden")
	l.Warn("shown", zap.String("job_id", "abc"))
	_ = l.Sync()

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line leaked at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "abc") {
		t.Fatalf("warn line missing: %s", out)
	}
}

func TestBuildWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mieaa.log")
	var buf bytes.Buffer
	l, err := build(config.LoggingConfig{Level: "info", File: path, JSON: true}, &buf)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	l.Info("submitted", zap.String("job_id", "j-1"))
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, data)
	}
	if entry["message"] != "submitted" || entry["job_id"] != "j-1" || entry["level"] != "INFO" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestParseLevelRejectsUnknown(t *testing.T) {
	if _, err := parseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
