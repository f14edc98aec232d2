// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package progress provides line-oriented progress logs for goals and
// handler invocations.
package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/noldarim/goalbridge/internal/logger"
	"github.com/rs/zerolog"
)

// FinishTimeFormat is the timestamp layout of the footer written when a log
// is finished.
const FinishTimeFormat = "2006-01-02 15:04:05.000"

// Log receives progress lines. Write never blocks on the network; Flush and
// Close deliver buffered lines.
type Log interface {
	Name() string
	URL() string
	Write(line string)
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// WriteFooter appends the standard finish block to l.
func WriteFooter(l Log, finished time.Time) {
	l.Write("/--")
	l.Write("Finish: " + finished.Format(FinishTimeFormat))
	l.Write(`\--`)
}

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetGoalsLogger().With().Str("component", "progress").Logger()
		log = &l
	})
	return log
}

// LoggingLog writes every line to the application log.
type LoggingLog struct {
	name  string
	level zerolog.Level
	out   *zerolog.Logger
}

// NewLoggingLog creates a log writing at level.
func NewLoggingLog(name string, level zerolog.Level) *LoggingLog {
	return &LoggingLog{name: name, level: level}
}

// WithLogger redirects output to l instead of the package logger.
func (l *LoggingLog) WithLogger(out *zerolog.Logger) *LoggingLog {
	l.out = out
	return l
}

func (l *LoggingLog) Name() string { return l.name }
func (l *LoggingLog) URL() string  { return "" }

func (l *LoggingLog) Write(line string) {
	out := l.out
	if out == nil {
		out = getLog()
	}
	out.WithLevel(l.level).Str("progress_log", l.name).Msg(line)
}

func (l *LoggingLog) Flush(context.Context) error { return nil }
func (l *LoggingLog) Close(context.Context) error { return nil }

// WriteToAll fans lines out to several logs.
type WriteToAll struct {
	name string
	logs []Log
}

// NewWriteToAll combines logs. Nil entries are skipped.
func NewWriteToAll(name string, logs ...Log) *WriteToAll {
	w := &WriteToAll{name: name}
	for _, l := range logs {
		if l != nil {
			w.logs = append(w.logs, l)
		}
	}
	return w
}

func (w *WriteToAll) Name() string { return w.name }

// URL returns the first non-empty URL of the combined logs.
func (w *WriteToAll) URL() string {
	for _, l := range w.logs {
		if u := l.URL(); u != "" {
			return u
		}
	}
	return ""
}

func (w *WriteToAll) Write(line string) {
	for _, l := range w.logs {
		l.Write(line)
	}
}

func (w *WriteToAll) Flush(ctx context.Context) error {
	var errs []error
	for _, l := range w.logs {
		if err := l.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *WriteToAll) Close(ctx context.Context) error {
	var errs []error
	for _, l := range w.logs {
		if err := l.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
