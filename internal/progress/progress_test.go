// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryLog struct {
	name     string
	url      string
	lines    []string
	flushes  int
	closed   bool
	flushErr error
}

func (m *memoryLog) Name() string      { return m.name }
func (m *memoryLog) URL() string       { return m.url }
func (m *memoryLog) Write(line string) { m.lines = append(m.lines, line) }
func (m *memoryLog) Flush(context.Context) error {
	m.flushes++
	return m.flushErr
}
func (m *memoryLog) Close(context.Context) error {
	m.closed = true
	return nil
}

func TestWriteFooter(t *testing.T) {
	l := &memoryLog{}
	WriteFooter(l, time.Date(2026, 3, 4, 5, 6, 7, 890_000_000, time.UTC))

	assert.Equal(t, []string{"/--", "Finish: 2026-03-04 05:06:07.890", `\--`}, l.lines)
}

func TestWriteToAll(t *testing.T) {
	a := &memoryLog{name: "a"}
	b := &memoryLog{name: "b", url: "http://dash/b", flushErr: errors.New("unavailable")}
	all := NewWriteToAll("build", a, nil, b)

	all.Write("line 1")
	err := all.Flush(context.Background())
	require.NoError(t, all.Close(context.Background()))

	assert.Equal(t, "build", all.Name())
	assert.Equal(t, "http://dash/b", all.URL())
	assert.Equal(t, []string{"line 1"}, a.lines)
	assert.Equal(t, []string{"line 1"}, b.lines)
	assert.ErrorContains(t, err, "unavailable")
	assert.Equal(t, 1, a.flushes)
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestLoggingLog(t *testing.T) {
	var buf bytes.Buffer
	out := zerolog.New(&buf)

	l := NewLoggingLog("build", zerolog.DebugLevel).WithLogger(&out)
	l.Write("Step output")

	assert.Contains(t, buf.String(), `"progress_log":"build"`)
	assert.Contains(t, buf.String(), `"message":"Step output"`)
	assert.Empty(t, l.URL())
	assert.NoError(t, l.Close(context.Background()))
}

type capturedPost struct {
	path  string
	query string
	batch rolarBatch
}

func newRolarServer(t *testing.T) (*httptest.Server, *[]capturedPost, *sync.Mutex) {
	t.Helper()
	var mu sync.Mutex
	var posts []capturedPost
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var batch rolarBatch
		_ = json.Unmarshal(body, &batch)
		mu.Lock()
		posts = append(posts, capturedPost{path: r.URL.Path, query: r.URL.RawQuery, batch: batch})
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)
	return server, &posts, &mu
}

func TestRemoteLog(t *testing.T) {
	server, posts, _ := newRolarServer(t)
	logs := &RemoteLogs{Client: server.Client(), RolarURL: server.URL, DashboardURL: "https://app.example.com"}

	l := logs.New("build", Key{
		WorkspaceID: "T1",
		Owner:       "acme",
		Repo:        "api",
		Sha:         "abc123",
		UniqueName:  "build#cloudbuild",
		GoalSetID:   "gs-1",
	})
	assert.Equal(t, "https://app.example.com/workspace/T1/logs/acme/api/abc123/build%23cloudbuild/gs-1", l.URL())

	ctx := context.Background()
	require.NoError(t, l.Flush(ctx), "empty flush is a no-op")
	l.Write("first")
	l.Write("second")
	require.NoError(t, l.Flush(ctx))
	l.Write("third")
	require.NoError(t, l.Close(ctx))
	l.Write("ignored")
	require.NoError(t, l.Close(ctx))

	require.Len(t, *posts, 2)
	first := (*posts)[0]
	assert.Equal(t, "/api/logs/acme/api/abc123/build#cloudbuild/gs-1", first.path)
	assert.Empty(t, first.query)
	require.Len(t, first.batch.Content, 2)
	assert.Equal(t, "first", first.batch.Content[0].Message)

	last := (*posts)[1]
	assert.Equal(t, "closed=true", last.query)
	require.Len(t, last.batch.Content, 1)
	assert.Equal(t, "third", last.batch.Content[0].Message)
}

func TestRemoteLogServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	l := (&RemoteLogs{Client: server.Client(), RolarURL: server.URL}).New("build", Key{WorkspaceID: "T1", UniqueName: "build"})
	l.Write("line")

	err := l.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
