// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package log is a small leveled logger writing one line per event with
// trailing key=value pairs.
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is the minimum severity a Logger emits.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

// ParseLevel accepts the level names in any case.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToUpper(s)) {
	case LevelDebug:
		return LevelDebug, nil
	case LevelInfo, "":
		return LevelInfo, nil
	case LevelError:
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("log: unknown level %q", s)
}

// Logger writes leveled lines to an io.Writer.
type Logger struct {
	mu  sync.Mutex
	out *stdlog.Logger
	min Level
	now func() time.Time
}

// New returns a Logger writing to w that drops events below min.
func New(w io.Writer, min Level) *Logger {
	return &Logger{
		out: stdlog.New(w, "", 0),
		min: min,
		now: time.Now,
	}
}

var (
	std     *Logger
	stdOnce sync.Once
)

// Default returns the process-wide logger writing to stderr.
func Default() *Logger {
	stdOnce.Do(func() {
		std = New(os.Stderr, LevelInfo)
	})
	return std
}

// SetLevel changes the minimum level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.min = level
	l.mu.Unlock()
}

func (l *Logger) Debug(msg string, kv ...any) {
	l.log(LevelDebug, msg, kv...)
}

func (l *Logger) Info(msg string, kv ...any) {
	l.log(LevelInfo, msg, kv...)
}

// Error logs msg with err prepended to the key/value pairs.
func (l *Logger) Error(msg string, err error, kv ...any) {
	l.log(LevelError, msg, append([]any{"err", err}, kv...)...)
}

func (l *Logger) log(level Level, msg string, kv ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !enabled(l.min, level) {
		return
	}

	var b strings.Builder
	b.WriteString(l.now().Format(time.RFC3339Nano))
	b.WriteString(" [")
	b.WriteString(string(level))
	b.WriteString("] ")
	b.WriteString(msg)
	writeKVs(&b, kv)

	l.out.Println(b.String())
}

func enabled(min, level Level) bool {
	switch min {
	case LevelInfo:
		return level != LevelDebug
	case LevelError:
		return level == LevelError
	default:
		return true
	}
}

// writeKVs appends " key=value" for each pair. A trailing odd value is
// dropped, as are pairs whose key is not a string.
func writeKVs(b *strings.Builder, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(fmt.Sprint(kv[i+1]))
	}
}

// SetLevel changes the level of the default logger.
func SetLevel(level Level) {
	Default().SetLevel(level)
}

func Debug(msg string, kv ...any) {
	Default().Debug(msg, kv...)
}

func Info(msg string, kv ...any) {
	Default().Info(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	Default().Error(msg, err, kv...)
}
