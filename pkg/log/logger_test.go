// Structured logging tests
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func newTestLogger(buf *bytes.Buffer) *Logger {
	logger := New("test")
	logger.SetColorize(false)
	logger.SetWriter(buf)
	logger.SetLevel(DEBUG)
	return logger
}

func TestLoggerBasic(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	logger.Info("hello %s", "world")

	output := buf.String()
	if !strings.Contains(output, "[INFO ]") {
		t.Errorf("expected INFO level, got: %s", output)
	}
	if !strings.Contains(output, "test:") {
		t.Errorf("expected prefix 'test:', got: %s", output)
	}
	if !strings.Contains(output, "hello world") {
		t.Errorf("expected message 'hello world', got: %s", output)
	}
	if strings.Contains(output, "\x1b[") {
		t.Errorf("expected no color codes, got: %q", output)
	}
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	logger.SetLevel(INFO)

	logger.Debug("debug message")
	if buf.Len() != 0 {
		t.Errorf("expected DEBUG to be filtered, got: %s", buf.String())
	}

	for _, fn := range []func(string, ...interface{}){logger.Info, logger.Warn, logger.Error} {
		buf.Reset()
		fn("passes")
		if !strings.Contains(buf.String(), "passes") {
			t.Errorf("expected message to pass at INFO, got: %s", buf.String())
		}
	}

	if logger.GetLevel() != INFO {
		t.Errorf("GetLevel = %v, want INFO", logger.GetLevel())
	}
	if logger.Enabled(DEBUG) {
		t.Error("DEBUG should not be enabled at INFO")
	}
}

func TestLoggerSilenced(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	logger.SetLevel(ERROR + 1)

	logger.Error("nothing")
	if buf.Len() != 0 {
		t.Errorf("expected all levels filtered, got: %s", buf.String())
	}
}

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	logger.SetFormat(FormatJSON)

	logger.WithFields(Fields{"axis": "z", "height": 0.4}).Info("json test")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v, output: %s", err, buf.String())
	}
	if entry["level"] != "INFO" {
		t.Errorf("expected level INFO, got: %v", entry["level"])
	}
	if entry["logger"] != "test" {
		t.Errorf("expected logger 'test', got: %v", entry["logger"])
	}
	if entry["message"] != "json test" {
		t.Errorf("expected message 'json test', got: %v", entry["message"])
	}
	if entry["axis"] != "z" || entry["height"] != 0.4 {
		t.Errorf("expected fields in entry, got: %v", entry)
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("expected timestamp key")
	}
}

func TestLoggerWithFieldsText(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	logger.WithField("key", "value").WithError(errString("boom")).Warn("with field")

	output := buf.String()
	for _, want := range []string{"[WARN ]", "with field", `"key"`, `"value"`, `"error"`, `"boom"`} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in output, got: %s", want, output)
		}
	}
}

func TestEntryImmutability(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	base := logger.WithField("a", 1)
	_ = base.WithField("b", 2)

	if _, ok := base.fields["b"]; ok {
		t.Error("WithField must not mutate the receiver")
	}
}

func TestWithPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	child := logger.WithPrefix("firmware_retraction")
	child.Info("child")
	if !strings.Contains(buf.String(), "firmware_retraction:") {
		t.Errorf("expected child prefix, got: %s", buf.String())
	}

	child.SetLevel(ERROR)
	if logger.GetLevel() != DEBUG {
		t.Error("child level change leaked into parent")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{"Error", ERROR},
		{"bogus", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConfigureFromEnv(t *testing.T) {
	t.Setenv("KLIPPER_LOG_LEVEL", "warn")
	t.Setenv("KLIPPER_LOG_FORMAT", "json")

	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	ConfigureFromEnv(logger)

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected INFO filtered at WARN, got: %s", buf.String())
	}
	logger.Warn("kept")
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output: %v (%s)", err, buf.String())
	}
}

type errString string

func (e errString) Error() string { return string(e) }
