package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&Config{
		Level:       slog.LevelDebug,
		Format:      TEXT,
		Output:      &buf,
		DefaultTags: map[string]interface{}{"test": true},
	})

	logger.Debug("This is a debug message")
	if !strings.Contains(buf.String(), "level=DEBUG") || !strings.Contains(buf.String(), "This is a debug message") {
		t.Errorf("Expected debug message in log output, got: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "test=true") {
		t.Errorf("Expected default tag in log output, got: %s", buf.String())
	}

	buf.Reset()
	Component(logger, "syncer").Warn("This is a warning", "entry", 3)
	if !strings.Contains(buf.String(), "component=syncer") || !strings.Contains(buf.String(), "entry=3") {
		t.Errorf("Expected component and field in log output, got: %s", buf.String())
	}

	buf.Reset()
	jsonLogger := New(&Config{Level: slog.LevelInfo, Format: JSON, Output: &buf})
	jsonLogger.Info("JSON message")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("JSON output did not decode: %v (%s)", err, buf.String())
	}
	if rec["level"] != "INFO" || rec["msg"] != "JSON message" {
		t.Errorf("Expected JSON formatted log, got: %s", buf.String())
	}
}

func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer

	logger := FromSettings("info", "text", &buf)

	logger.Debug("Should not appear")
	if buf.Len() > 0 {
		t.Errorf("DEBUG message should not have been logged, got: %s", buf.String())
	}

	logger.Info("Should appear")
	if buf.Len() == 0 {
		t.Errorf("INFO message should have been logged")
	}

	buf.Reset()
	FromSettings("disabled", "text", &buf).Error("silent")
	if buf.Len() > 0 {
		t.Errorf("disabled logger wrote output: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"disabled", LevelDisabled},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if ParseFormat("JSON") != JSON || ParseFormat("text") != TEXT || ParseFormat("") != TEXT {
		t.Error("ParseFormat() returned unexpected format")
	}
}
