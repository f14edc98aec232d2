// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"fmt"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/log"
)

// TemporalLogAdapter lets the Temporal client log through zerolog.
type TemporalLogAdapter struct {
	logger zerolog.Logger
}

// NewTemporalLogAdapter creates a new Temporal log adapter
func NewTemporalLogAdapter(logger zerolog.Logger) log.Logger {
	return &TemporalLogAdapter{logger: logger}
}

// GetTemporalLogAdapter returns a Temporal logger writing to the temporal package logger
func GetTemporalLogAdapter() log.Logger {
	return NewTemporalLogAdapter(GetTemporalLogger())
}

func (t *TemporalLogAdapter) Debug(msg string, keyvals ...interface{}) {
	withKeyvals(t.logger.Debug(), keyvals).Msg(msg)
}

func (t *TemporalLogAdapter) Info(msg string, keyvals ...interface{}) {
	withKeyvals(t.logger.Info(), keyvals).Msg(msg)
}

func (t *TemporalLogAdapter) Warn(msg string, keyvals ...interface{}) {
	withKeyvals(t.logger.Warn(), keyvals).Msg(msg)
}

func (t *TemporalLogAdapter) Error(msg string, keyvals ...interface{}) {
	withKeyvals(t.logger.Error(), keyvals).Msg(msg)
}

// With returns a new logger with additional fields
func (t *TemporalLogAdapter) With(keyvals ...interface{}) log.Logger {
	ctx := t.logger.With()
	for i := 0; i+1 < len(keyvals); i += 2 {
		ctx = ctx.Interface(fmt.Sprint(keyvals[i]), keyvals[i+1])
	}
	return &TemporalLogAdapter{logger: ctx.Logger()}
}

// withKeyvals adds alternating key/value pairs to a zerolog event. A dangling
// key without a value is ignored.
func withKeyvals(event *zerolog.Event, keyvals []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		switch v := keyvals[i+1].(type) {
		case string:
			event = event.Str(key, v)
		case int:
			event = event.Int(key, v)
		case int64:
			event = event.Int64(key, v)
		case bool:
			event = event.Bool(key, v)
		case error:
			event = event.AnErr(key, v)
		case fmt.Stringer:
			event = event.Str(key, v.String())
		default:
			event = event.Interface(key, v)
		}
	}
	return event
}
