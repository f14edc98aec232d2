// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"io"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// RedactedValue replaces every registered secret in log output.
const RedactedValue = "[REDACTED]"

// DefaultRedactorCapacity bounds how many distinct secrets a redactor keeps.
const DefaultRedactorCapacity = 1024

// Redactor masks registered secret values in everything written through it.
// It keeps the most recently registered secrets up to its capacity.
type Redactor struct {
	mu       sync.RWMutex
	secrets  *lru.Cache[string, struct{}]
	replacer *strings.Replacer
}

// NewRedactor creates a redactor with no registered secrets.
func NewRedactor() *Redactor {
	return NewRedactorWithCapacity(DefaultRedactorCapacity)
}

// NewRedactorWithCapacity creates a redactor keeping at most capacity
// secrets. Non-positive capacities use DefaultRedactorCapacity.
func NewRedactorWithCapacity(capacity int) *Redactor {
	if capacity <= 0 {
		capacity = DefaultRedactorCapacity
	}
	secrets, _ := lru.New[string, struct{}](capacity)
	return &Redactor{secrets: secrets}
}

// Add registers secret values. Empty values are ignored. Re-adding a known
// secret marks it as recently used.
func (r *Redactor) Add(values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := r.secrets.Get(v); ok {
			continue
		}
		r.secrets.Add(v, struct{}{})
		changed = true
	}
	if changed {
		r.rebuild()
	}
}

// Len returns the number of secrets currently masked.
func (r *Redactor) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.secrets.Len()
}

// rebuild recreates the replacer. Longer secrets go first so a secret that
// contains another one is masked as a whole.
func (r *Redactor) rebuild() {
	values := r.secrets.Keys()
	sort.Slice(values, func(i, j int) bool { return len(values[i]) > len(values[j]) })

	pairs := make([]string, 0, len(values)*2)
	for _, v := range values {
		pairs = append(pairs, v, RedactedValue)
	}
	r.replacer = strings.NewReplacer(pairs...)
}

// Redact returns s with every registered secret masked.
func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.replacer == nil {
		return s
	}
	return r.replacer.Replace(s)
}

// Wrap returns a writer that redacts before forwarding to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{redactor: r, out: w}
}

type redactingWriter struct {
	redactor *Redactor
	out      io.Writer
}

func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(w.out, w.redactor.Redact(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
