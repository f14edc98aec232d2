// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Key locates a remote log. Empty parts are omitted from the path.
type Key struct {
	WorkspaceID  string
	Owner        string
	Repo         string
	Sha          string
	Environment  string
	UniqueName   string
	GoalSetID    string
	InvocationID string
}

func (k Key) path() []string {
	parts := []string{k.Owner, k.Repo, k.Sha, k.Environment, k.UniqueName, k.GoalSetID, k.InvocationID}
	return lo.Map(lo.Compact(parts), func(p string, _ int) string {
		return url.PathEscape(p)
	})
}

// RemoteLogs creates remote logs backed by the rolar log service and shown on
// the dashboard.
type RemoteLogs struct {
	Client       *http.Client
	RolarURL     string
	DashboardURL string
}

// New creates a remote log for key.
func (r *RemoteLogs) New(name string, key Key) *RemoteLog {
	path := strings.Join(key.path(), "/")
	host, _ := os.Hostname()

	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	l := &RemoteLog{
		name:     name,
		client:   client,
		endpoint: strings.TrimRight(r.RolarURL, "/") + "/api/logs/" + path,
		url:      fmt.Sprintf("%s/workspace/%s/logs/%s", strings.TrimRight(r.DashboardURL, "/"), key.WorkspaceID, path),
		host:     host,
	}
	getLog().Info().Msgf("Execution log at '%s'", l.url)
	return l
}

type rolarLine struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type rolarBatch struct {
	Host    string      `json:"host"`
	Content []rolarLine `json:"content"`
}

// RemoteLog buffers lines and posts them to the log service on Flush.
type RemoteLog struct {
	name     string
	client   *http.Client
	endpoint string
	url      string
	host     string

	mu     sync.Mutex
	buffer []rolarLine
	closed bool
}

func (l *RemoteLog) Name() string { return l.name }
func (l *RemoteLog) URL() string  { return l.url }

func (l *RemoteLog) Write(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.buffer = append(l.buffer, rolarLine{
		Level:     "info",
		Message:   line,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (l *RemoteLog) Flush(ctx context.Context) error {
	return l.post(ctx, false)
}

// Close posts the remaining lines and marks the log closed. Later writes are
// discarded.
func (l *RemoteLog) Close(ctx context.Context) error {
	return l.post(ctx, true)
}

func (l *RemoteLog) post(ctx context.Context, closing bool) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	lines := l.buffer
	l.buffer = nil
	if closing {
		l.closed = true
	}
	l.mu.Unlock()

	if len(lines) == 0 && !closing {
		return nil
	}

	body, err := json.Marshal(rolarBatch{Host: l.host, Content: lines})
	if err != nil {
		return fmt.Errorf("failed to encode log lines: %w", err)
	}

	endpoint := l.endpoint
	if closing {
		endpoint += "?closed=true"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create log request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send log lines: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("log service returned %s", resp.Status)
	}
	return nil
}
