// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	defaultSinkBacklog = 500
	sinkTimeFormat     = "2006-01-02 15:04:05.000"
)

// LineWriter receives complete log lines.
type LineWriter interface {
	Write(line string)
}

// InvocationSink routes JSON log events tagged with an invocation id (see
// WithInvocation) to the LineWriter opened for that invocation, formatted as
// plain text. Events logged before Open wait in a bounded backlog, oldest
// dropped first. Untagged events are never captured.
//
// Writers must not log tagged events themselves.
type InvocationSink struct {
	mu         sync.Mutex
	captures   map[string]*capture
	backlog    []pendingLine
	maxBacklog int
}

type capture struct {
	mu     sync.Mutex
	w      LineWriter
	closed bool
}

type pendingLine struct {
	id   string
	line string
}

// NewInvocationSink creates a sink keeping at most maxBacklog unopened lines.
func NewInvocationSink(maxBacklog int) *InvocationSink {
	return &InvocationSink{
		captures:   make(map[string]*capture),
		maxBacklog: maxBacklog,
	}
}

// Write implements io.Writer. p is one zerolog event.
func (s *InvocationSink) Write(p []byte) (int, error) {
	var tag struct {
		ID string `json:"invocation_id"`
	}
	if err := json.Unmarshal(p, &tag); err != nil || tag.ID == "" {
		return len(p), nil
	}
	line := formatLine(p)

	s.mu.Lock()
	c, open := s.captures[tag.ID]
	if !open {
		s.backlog = append(s.backlog, pendingLine{id: tag.ID, line: line})
		if over := len(s.backlog) - s.maxBacklog; over > 0 {
			s.backlog = append(s.backlog[:0], s.backlog[over:]...)
		}
	}
	s.mu.Unlock()

	if open {
		c.mu.Lock()
		if !c.closed {
			c.w.Write(line)
		}
		c.mu.Unlock()
	}
	return len(p), nil
}

// Open starts streaming the events of invocation id into w, beginning with
// its backlog as a single block.
func (s *InvocationSink) Open(id string, w LineWriter) {
	c := &capture{w: w}

	s.mu.Lock()
	var drained []string
	kept := s.backlog[:0]
	for _, pl := range s.backlog {
		if pl.id == id {
			drained = append(drained, pl.line)
			continue
		}
		kept = append(kept, pl)
	}
	s.backlog = kept
	s.captures[id] = c
	// Held until the backlog is written so live lines follow it.
	c.mu.Lock()
	s.mu.Unlock()

	if len(drained) > 0 {
		w.Write(strings.Join(drained, "\n"))
	}
	c.mu.Unlock()
}

// Close stops capturing invocation id, discards its backlog and returns the
// writer it was opened with, if any. Safe to call for ids never opened.
func (s *InvocationSink) Close(id string) LineWriter {
	s.mu.Lock()
	c := s.captures[id]
	delete(s.captures, id)
	kept := s.backlog[:0]
	for _, pl := range s.backlog {
		if pl.id != id {
			kept = append(kept, pl)
		}
	}
	s.backlog = kept
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.w
}

// Backlog returns the lines of invocation id waiting for Open.
func (s *InvocationSink) Backlog(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var lines []string
	for _, pl := range s.backlog {
		if pl.id == id {
			lines = append(lines, pl.line)
		}
	}
	return lines
}

func formatLine(event []byte) string {
	var buf bytes.Buffer
	w := zerolog.ConsoleWriter{
		Out:           &buf,
		NoColor:       true,
		TimeFormat:    sinkTimeFormat,
		FieldsExclude: []string{InvocationField},
	}
	if _, err := w.Write(event); err != nil {
		return strings.TrimSpace(string(event))
	}
	return strings.TrimRight(buf.String(), "\n")
}
