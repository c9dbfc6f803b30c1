// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for rhizomedb components.
//
// It is a thin wrapper over log/slog that picks a human-readable text
// handler when stderr is a terminal and a JSON handler otherwise, so the
// same binary reads well in a dev shell and machine-parses cleanly in a
// container log collector.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

// Level mirrors slog's severity ordering: Debug < Info < Warn < Error.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

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

// Config controls logger construction.
type Config struct {
	// Level is the minimum level emitted.
	Level Level

	// Service names the component emitting logs (e.g. "federation", "engine").
	Service string

	// Output overrides the destination. Defaults to os.Stderr.
	Output io.Writer

	// ForceJSON always uses the JSON handler, even on a terminal.
	ForceJSON bool
}

// Logger wraps *slog.Logger. Safe for concurrent use.
type Logger struct {
	mu   sync.Mutex
	slog *slog.Logger
}

var (
	defaultOnce   sync.Once
	defaultLogger *Logger
)

// Default returns the process-wide default logger, writing to stderr at
// Info level, auto-detecting terminal vs. non-terminal output.
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultLogger = New(Config{Level: LevelInfo})
	})
	return defaultLogger
}

// New constructs a Logger from cfg.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: cfg.Level.slogLevel()}

	var handler slog.Handler
	if !cfg.ForceJSON {
		if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			handler = slog.NewTextHandler(out, opts)
		}
	}
	if handler == nil {
		handler = slog.NewJSONHandler(out, opts)
	}

	l := slog.New(handler)
	if cfg.Service != "" {
		l = l.With(slog.String("service", cfg.Service))
	}
	return &Logger{slog: l}
}

// With returns a Logger that always includes the given attributes.
func (l *Logger) With(args ...any) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{slog: l.slog.With(args...)}
}

func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	l.mu.Lock()
	s := l.slog
	l.mu.Unlock()
	s.Log(context.Background(), level, msg, args...)
}

// Slog exposes the underlying *slog.Logger for callers that need the
// full slog API.
func (l *Logger) Slog() *slog.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.slog
}
