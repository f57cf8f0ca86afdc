package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{Level(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.level.String(); got != tt.expected {
				t.Errorf("Level.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestFieldMap(t *testing.T) {
	if m := fieldMap(nil, nil); m != nil {
		t.Errorf("fieldMap(nil, nil) = %v, want nil", m)
	}

	m := fieldMap([]Field{Format("arbor"), Count(1)}, []Field{Count(2)})
	if m["format"] != "arbor" || m["count"] != 2 {
		t.Errorf("fieldMap = %v, want call fields to override preset ones", m)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warning", WarnLevel},
		{"ERROR", ErrorLevel},
		{"Warn", WarnLevel},
		{" debug ", DebugLevel},
		{"loud", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestJSONLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, WarnLevel)

	logger.Debug("planter block")
	logger.Info("planted")
	logger.Warn("short tree")
	logger.Error("run failed")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != "WARN" || entries[1].Level != "ERROR" {
		t.Errorf("unexpected levels: %s, %s", entries[0].Level, entries[1].Level)
	}
}

func TestJSONLogger_DomainFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, DebugLevel)

	logger.Info("planted trees",
		Format("ctrees"),
		FileID(3),
		TreeUID(1234),
		Offset(98765),
		Bytes("size", 2048),
	)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	f := entries[0].Fields
	if f["format"] != "ctrees" {
		t.Errorf("format = %v", f["format"])
	}
	// JSON numbers decode as float64
	if f["file_id"] != float64(3) || f["tree_uid"] != float64(1234) || f["offset"] != float64(98765) {
		t.Errorf("unexpected numeric fields: %v", f)
	}
	if f["size"] != "2.0 kB" {
		t.Errorf("size = %v, want 2.0 kB", f["size"])
	}
}

func TestJSONLogger_WithSharesWriter(t *testing.T) {
	var buf bytes.Buffer
	parent := NewJSONLogger(&buf, InfoLevel)
	child := parent.With(Component("scheduler"))

	child.Info("run", Count(4))
	parent.Info("plain")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Fields["component"] != "scheduler" {
		t.Errorf("child missing component field: %v", entries[0].Fields)
	}
	if entries[1].Fields != nil {
		t.Errorf("parent should not inherit child fields: %v", entries[1].Fields)
	}
}

func TestTimedOperation_Done(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, InfoLevel)

	StartTimer(logger, "export", Path("/tmp/x")).Done(nil, Count(2))
	StartTimer(logger, "export", Path("/tmp/y")).Done(errors.New("disk full"))

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != "INFO" || entries[0].Fields["count"] != float64(2) {
		t.Errorf("unexpected success entry: %+v", entries[0])
	}
	if _, ok := entries[0].Fields["latency"]; !ok {
		t.Error("missing latency field")
	}
	if entries[1].Level != "ERROR" || entries[1].Fields["error"] != "disk full" {
		t.Errorf("unexpected failure entry: %+v", entries[1])
	}
}

func TestDurationField(t *testing.T) {
	f := Duration("wait", 1500*time.Millisecond)
	if f.Value != "1.5s" {
		t.Errorf("Duration() = %v, want 1.5s", f.Value)
	}
}

func TestOrDefault(t *testing.T) {
	nop := NewNopLogger()
	if OrDefault(nop) != nop {
		t.Error("OrDefault should return the given logger")
	}
	if OrDefault(nil) == nil {
		t.Error("OrDefault(nil) should return the default logger")
	}
}
