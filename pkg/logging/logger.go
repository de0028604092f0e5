// Copyright (C) 2025 Cairn Care (maintainers@cairncare.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for Cairn components.
//
// The logging system is built on Go's standard library slog package, with
// extensions for multi-destination output:
//
//   - Default: stderr output (text when attached to a terminal, JSON
//     otherwise, detected via isatty)
//   - Optional: file logging with automatic directory creation
//   - Extensible: LogExporter hook for shipping entries elsewhere
//
// # Basic Usage
//
//	logger := logging.Default()
//	logger.Info("request started", "user_id", userID)
//
// # File Logging
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "~/.cairn/logs", // supports ~ expansion
//	    Service: "companion",
//	})
//	defer logger.Close() // flushes and closes the file
//
// This creates log files named {service}_{date}.log in JSON format.
//
// # Security Considerations
//
// This package does NOT automatically redact sensitive data. Callers must
// ensure message text, tokens, and secrets are not logged:
//
//	// BAD: logs message content
//	logger.Info("screen", "text", msg.Text)
//
//	// GOOD: log metadata only
//	logger.Info("screen", "text_bytes", len(msg.Text))
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug is for development troubleshooting.
	LevelDebug Level = iota

	// LevelInfo is for normal operational messages.
	LevelInfo

	// LevelWarn is for recoverable, unexpected situations.
	LevelWarn

	// LevelError is for failed operations the system survives.
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// slogLevel maps Level to the slog equivalent.
func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// Exporter Hook
// =============================================================================

// LogEntry is the portable form handed to exporters.
type LogEntry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Service string         `json:"service"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// LogExporter receives log entries for shipping to external systems.
// Implementations should buffer internally; Export is called on the
// logging hot path.
type LogExporter interface {
	Export(entry LogEntry)
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Config controls logger construction.
type Config struct {
	// Level is the minimum severity to emit. Default: LevelInfo.
	Level Level

	// LogDir enables file logging when set. Supports ~ expansion.
	LogDir string

	// Service names the component; used in file names and exported entries.
	Service string

	// Exporter, when set, receives every entry at or above Level.
	Exporter LogExporter
}

// =============================================================================
// Logger
// =============================================================================

// Logger is a multi-destination structured logger.
//
// # Thread Safety
//
// Logger is safe for concurrent use. Close is protected by a mutex and the
// embedded slog.Logger is thread-safe.
type Logger struct {
	*slog.Logger

	mu       sync.Mutex
	file     *os.File
	exporter LogExporter
}

// Default returns a stderr-only logger at Info level.
func Default() *Logger {
	return New(Config{Level: LevelInfo})
}

// New creates a logger with the given configuration.
//
// File logging failures degrade to stderr-only with a warning rather than
// failing construction: a companion that cannot log to disk must still run.
func New(cfg Config) *Logger {
	l := &Logger{exporter: cfg.Exporter}

	opts := &slog.HandlerOptions{Level: cfg.Level.slogLevel()}

	var stderrHandler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) {
		stderrHandler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		stderrHandler = slog.NewJSONHandler(os.Stderr, opts)
	}

	handlers := []slog.Handler{stderrHandler}

	if cfg.LogDir != "" {
		file, err := openLogFile(cfg.LogDir, cfg.Service)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: file output disabled: %v\n", err)
		} else {
			l.file = file
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		}
	}

	if cfg.Exporter != nil {
		handlers = append(handlers, &exportHandler{
			exporter: cfg.Exporter,
			service:  cfg.Service,
			level:    cfg.Level.slogLevel(),
		})
	}

	l.Logger = slog.New(&multiHandler{handlers: handlers})
	return l
}

// Slog returns the underlying slog.Logger, e.g. for slog.SetDefault.
func (l *Logger) Slog() *slog.Logger {
	return l.Logger
}

// Close flushes and closes the log file and the exporter, if any.
// Safe to call more than once.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	if l.file != nil {
		if err := l.file.Sync(); err != nil {
			firstErr = err
		}
		if err := l.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		l.file = nil
	}
	if l.exporter != nil {
		if err := l.exporter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		l.exporter = nil
	}
	return firstErr
}

// openLogFile creates the log directory and opens {service}_{date}.log.
func openLogFile(dir, service string) (*os.File, error) {
	if strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("expand log dir: %w", err)
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if service == "" {
		service = "cairn"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// =============================================================================
// Handlers
// =============================================================================

// multiHandler fans one record out to every destination.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}

// exportHandler adapts a LogExporter to the slog.Handler interface.
type exportHandler struct {
	exporter LogExporter
	service  string
	level    slog.Level
	attrs    []slog.Attr
}

func (e *exportHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= e.level
}

func (e *exportHandler) Handle(_ context.Context, record slog.Record) error {
	attrs := make(map[string]any, record.NumAttrs()+len(e.attrs))
	for _, a := range e.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	record.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})
	e.exporter.Export(LogEntry{
		Time:    record.Time,
		Level:   record.Level.String(),
		Message: record.Message,
		Service: e.service,
		Attrs:   attrs,
	})
	return nil
}

func (e *exportHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *e
	next.attrs = append(append([]slog.Attr{}, e.attrs...), attrs...)
	return &next
}

func (e *exportHandler) WithGroup(string) slog.Handler {
	// Groups are flattened for export; nesting adds nothing downstream.
	return e
}
