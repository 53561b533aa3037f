package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNilLoggerIsSafe(t *testing.T) {
	var l *DebugLogger
	l.Log("nothing %d", 1)
	if err := l.Close(); err != nil {
		t.Errorf("Close() on nil logger = %v", err)
	}
	if l.With("x") != nil {
		t.Error("With on nil logger should stay nil")
	}
}

func TestNewDebugLogger_EmptyPath(t *testing.T) {
	l, err := NewDebugLogger("")
	if err != nil {
		t.Fatalf("NewDebugLogger: %v", err)
	}
	l.Log("dropped")
}

func TestNewDebugLogger_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "debug.log")
	l, err := NewDebugLogger(path)
	if err != nil {
		t.Fatalf("NewDebugLogger: %v", err)
	}
	l.Log("hello %s", "world")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "hello world") {
		t.Errorf("log file missing message: %q", data)
	}
}

func TestWithAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf).With("scheduler")
	l.Log("tick")
	if !strings.Contains(buf.String(), "[scheduler] tick") {
		t.Errorf("unexpected output %q", buf.String())
	}
}
