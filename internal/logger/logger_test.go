package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newBufferLogger(level zerolog.Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewWithWriter(&buf, level), &buf
}

func TestNew_Modes(t *testing.T) {
	for _, env := range []string{"development", "production", "staging"} {
		logger := New(env)
		if logger == nil {
			t.Fatalf("Expected logger to be created for %s", env)
		}
		if logger.GetZerolog() == nil {
			t.Errorf("Expected zerolog instance to be available for %s", env)
		}
	}
}

func TestResolveLevel(t *testing.T) {
	tests := []struct {
		env   string
		level string
		want  zerolog.Level
	}{
		{"development", "", zerolog.DebugLevel},
		{"production", "", zerolog.InfoLevel},
		{"production", "debug", zerolog.DebugLevel},
		{"development", "WARN", zerolog.WarnLevel},
		{"production", " error ", zerolog.ErrorLevel},
		{"production", "verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := resolveLevel(tt.env, tt.level); got != tt.want {
			t.Errorf("resolveLevel(%q, %q) = %v, want %v", tt.env, tt.level, got, tt.want)
		}
	}
}

func TestNewWithLevel_AppliesOverride(t *testing.T) {
	logger := NewWithLevel("production", "warn")
	if got := logger.GetZerolog().GetLevel(); got != zerolog.WarnLevel {
		t.Errorf("Expected warn level, got %v", got)
	}
}

func TestInfo(t *testing.T) {
	logger, buf := newBufferLogger(zerolog.DebugLevel)

	logger.Info("Cache hit", map[string]interface{}{
		"address_key":  "123-main-st",
		"scrape_count": 2,
	})

	output := buf.String()
	if !strings.Contains(output, "Cache hit") {
		t.Error("Expected log output to contain message")
	}
	if !strings.Contains(output, "123-main-st") {
		t.Error("Expected log output to contain field value")
	}
}

func TestWarn(t *testing.T) {
	logger, buf := newBufferLogger(zerolog.DebugLevel)

	logger.Warn("Persist queue full, dropping write", map[string]interface{}{
		"queue_size": 64,
	})

	output := buf.String()
	if !strings.Contains(output, "Persist queue full") {
		t.Error("Expected log output to contain message")
	}
	if !strings.Contains(output, `"level":"warn"`) {
		t.Error("Expected warn level in output")
	}
}

func TestError(t *testing.T) {
	logger, buf := newBufferLogger(zerolog.DebugLevel)

	logger.Error("Failed to save property", errors.New("deadline exceeded"), map[string]interface{}{
		"backend": "firestore",
	})

	output := buf.String()
	if !strings.Contains(output, "Failed to save property") {
		t.Error("Expected log output to contain message")
	}
	if !strings.Contains(output, "deadline exceeded") {
		t.Error("Expected log output to contain error message")
	}
	if !strings.Contains(output, "firestore") {
		t.Error("Expected log output to contain backend field")
	}
}

func TestWithAndRequestID(t *testing.T) {
	logger, buf := newBufferLogger(zerolog.DebugLevel)

	child := logger.With(map[string]interface{}{"component": "persister"}).WithRequestID("req-12345")
	child.Info("Property persisted", nil)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected valid JSON output, got error: %v", err)
	}
	if entry["request_id"] != "req-12345" {
		t.Errorf("Expected request_id field, got %v", entry["request_id"])
	}
	if entry["component"] != "persister" {
		t.Errorf("Expected component field, got %v", entry["component"])
	}
	if entry["message"] != "Property persisted" {
		t.Errorf("Expected message field, got %v", entry["message"])
	}
}

func TestLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(zerolog.InfoLevel)

	logger.Debug("debug message", nil)
	if buf.Len() != 0 {
		t.Error("Debug message should be filtered at info level")
	}

	logger.Info("info message", nil)
	if !strings.Contains(buf.String(), "info message") {
		t.Error("Info message should appear at info level")
	}
}

func TestNop(t *testing.T) {
	logger := Nop()
	// Should not panic and should produce nothing observable.
	logger.Info("ignored", map[string]interface{}{"key": "value"})
	logger.Error("ignored", errors.New("boom"), nil)
}
