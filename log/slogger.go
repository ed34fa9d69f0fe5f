// SPDX-FileCopyrightText: 2023-present Datadog, Inc.
// SPDX-License-Identifier: Apache-2.0

package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// NewSlogFactory builds a Factory backed by the standard library structured
// logger writing to the given writer.
func NewSlogFactory(w io.Writer) Factory {
	lvl := &slog.LevelVar{}
	lvl.Set(slog.LevelInfo)

	return &slogFactory{
		handler:  slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}),
		levelVar: lvl,
	}
}

// -----------------------------------------------------------------------------

type slogFactory struct {
	handler  slog.Handler
	levelVar *slog.LevelVar
}

var (
	_ Factory = (*slogFactory)(nil)
	_ Logger  = (*slogLogger)(nil)
)

func (f *slogFactory) New() Logger {
	return &slogLogger{handler: f.handler, level: InfoLevel}
}

func (f *slogFactory) Threshold(lvl LoggerLevel) {
	f.levelVar.Set(slogLevel(lvl))
}

type slogLogger struct {
	handler slog.Handler
	level   LoggerLevel
	attrs   []slog.Attr
	err     error
}

func (l *slogLogger) clone() *slogLogger {
	out := &slogLogger{handler: l.handler, level: l.level, err: l.err}
	out.attrs = append(out.attrs, l.attrs...)
	return out
}

func (l *slogLogger) Level(lvl LoggerLevel) Logger {
	out := l.clone()
	out.level = lvl
	return out
}

func (l *slogLogger) Field(k string, v any) Logger {
	out := l.clone()
	out.attrs = append(out.attrs, slog.Any(k, v))
	return out
}

func (l *slogLogger) Fields(data map[string]any) Logger {
	out := l.clone()
	for k, v := range data {
		out.attrs = append(out.attrs, slog.Any(k, v))
	}
	return out
}

func (l *slogLogger) Error(err error) Logger {
	out := l.clone()
	out.err = err
	out.level = ErrorLevel
	return out
}

func (l *slogLogger) Message(msg string) {
	if l.level == UnsetLevel {
		return
	}

	lvl := slogLevel(l.level)
	if !l.handler.Enabled(context.Background(), lvl) {
		return
	}

	r := slog.NewRecord(time.Now(), lvl, msg, 0)
	r.AddAttrs(l.attrs...)
	if l.err != nil {
		r.AddAttrs(slog.String("error", l.err.Error()))
	}

	//nolint:errcheck // Logging must not fail the caller
	l.handler.Handle(context.Background(), r)
}

func (l *slogLogger) Messagef(format string, v ...any) {
	l.Message(fmt.Sprintf(format, v...))
}

func slogLevel(lvl LoggerLevel) slog.Level {
	switch lvl {
	case DebugLevel:
		return slog.LevelDebug
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
