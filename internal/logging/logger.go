// Package logging provides the file-backed debug logger shared by ensemble components.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DebugLogger writes timestamped debug lines to a file or writer.
// A nil *DebugLogger, or one created without a destination, discards everything.
type DebugLogger struct {
	mu     *sync.Mutex
	w      io.Writer
	closer io.Closer
	prefix string
}

// NewDebugLogger creates a logger writing to the specified path.
// If the path is empty, returns a no-op logger.
// Creates parent directories if they don't exist.
func NewDebugLogger(logPath string) (*DebugLogger, error) {
	if logPath == "" {
		return &DebugLogger{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logger := &DebugLogger{mu: &sync.Mutex{}, w: f, closer: f}
	logger.Log("=== ensemble debug log started at %s ===", time.Now().Format(time.RFC3339))
	return logger, nil
}

// NewWriterLogger creates a logger writing to w. Useful in tests and for stderr output.
func NewWriterLogger(w io.Writer) *DebugLogger {
	return &DebugLogger{mu: &sync.Mutex{}, w: w}
}

// NopLogger returns a no-op logger for testing or when logging is disabled.
func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

// With returns a logger sharing the destination whose lines carry a component tag.
func (l *DebugLogger) With(component string) *DebugLogger {
	if l == nil {
		return nil
	}
	return &DebugLogger{mu: l.mu, w: l.w, prefix: "[" + component + "] "}
}

// Log writes a timestamped message to the debug log.
func (l *DebugLogger) Log(format string, args ...interface{}) {
	if l == nil || l.w == nil {
		return
	}

	msg := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format("15:04:05.000")

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "[%s] %s%s\n", timestamp, l.prefix, msg)
	if f, ok := l.w.(*os.File); ok {
		f.Sync()
	}
}

// Close closes the log file. Safe to call on nil or writer-backed loggers.
func (l *DebugLogger) Close() error {
	if l == nil || l.closer == nil || l.mu == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closer.Close()
}
