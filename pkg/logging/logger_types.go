package logging

import (
	"io"
	"strings"
	"sync"
	"time"
)

// Level orders log lines by severity.
type Level int

const (
	// DebugLevel covers per-run scheduler detail and block-level planter progress.
	DebugLevel Level = iota
	InfoLevel
	// WarnLevel marks records or headers that were skipped or repaired.
	WarnLevel
	// ErrorLevel marks failed loads, runs and exports.
	ErrorLevel
)

var levelNames = [...]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
}

var levelsByName = map[string]Level{
	"debug":   DebugLevel,
	"info":    InfoLevel,
	"warn":    WarnLevel,
	"warning": WarnLevel,
	"error":   ErrorLevel,
}

func (l Level) String() string {
	if l < DebugLevel || int(l) >= len(levelNames) {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel reads a level name in any case. Unknown names give InfoLevel;
// config validation rejects them before they get here.
func ParseLevel(s string) Level {
	if l, ok := levelsByName[strings.ToLower(strings.TrimSpace(s))]; ok {
		return l
	}
	return InfoLevel
}

// Field is one key of a structured log line.
type Field struct {
	Key   string
	Value any
}

// fieldMap flattens preset and call fields, later keys winning. It returns
// nil when there is nothing to attach.
func fieldMap(preset, fields []Field) map[string]any {
	if len(preset)+len(fields) == 0 {
		return nil
	}
	m := make(map[string]any, len(preset)+len(fields))
	for _, f := range preset {
		m[f.Key] = f.Value
	}
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	return m
}

// Logger is implemented by JSONLogger and NopLogger. Arbors, scheduler runs
// and exports each carry one, usually a With child naming the component.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
	SetLevel(level Level)
	GetLevel() Level
}

// JSONLogger writes one JSON object per line. Children made by With share
// the parent's writer and lock.
type JSONLogger struct {
	writer io.Writer
	level  Level
	fields []Field
	mu     *sync.Mutex
}

// LogEntry is the JSON shape of one line.
type LogEntry struct {
	Time    string         `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"msg"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// NopLogger discards everything. Tests pass it to keep output clean.
type NopLogger struct{}

func (NopLogger) Debug(string, ...Field) {}
func (NopLogger) Info(string, ...Field)  {}
func (NopLogger) Warn(string, ...Field)  {}
func (NopLogger) Error(string, ...Field) {}
func (n NopLogger) With(...Field) Logger { return n }
func (NopLogger) SetLevel(Level)         {}
func (NopLogger) GetLevel() Level        { return InfoLevel }

func NewNopLogger() Logger {
	return NopLogger{}
}

// TimedOperation logs a plant, run or export once it finishes, with its
// latency.
type TimedOperation struct {
	logger Logger
	msg    string
	start  time.Time
	fields []Field
}
