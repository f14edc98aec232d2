// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/noldarim/goalbridge/internal/config"
	"github.com/noldarim/goalbridge/internal/protocol"
	"github.com/noldarim/goalbridge/internal/publisher"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu        sync.Mutex
	envelopes []protocol.Envelope
	err       error
}

func (h *recordingHandler) Handle(_ context.Context, env protocol.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.envelopes = append(h.envelopes, env)
	return h.err
}

func testServerConfig() *config.ServerConfig {
	return &config.ServerConfig{Host: "127.0.0.1", Port: 0, MaxBodyBytes: 1 << 16}
}

func TestHandleMessage(t *testing.T) {
	envelope := protocol.EncodeEnvelope([]byte(`{"command":"Echo","team":{"id":"T1"}}`))
	valid, err := json.Marshal(map[string]interface{}{"message": envelope})
	require.NoError(t, err)

	tests := []struct {
		name       string
		body       string
		handlerErr error
		status     int
		handled    int
	}{
		{"valid", string(valid), nil, http.StatusNoContent, 1},
		{"missing_message", `{"subscription":"projects/p/subscriptions/s"}`, nil, http.StatusBadRequest, 0},
		{"null_message", `{"message":null}`, nil, http.StatusBadRequest, 0},
		{"not_json", `message=hello`, nil, http.StatusBadRequest, 0},
		{"empty_body", ``, nil, http.StatusBadRequest, 0},
		{"acquisition_failure", string(valid), errors.New("failed to acquire automation runtime"), http.StatusInternalServerError, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &recordingHandler{err: tt.handlerErr}
			srv := New(testServerConfig(), h, nil)

			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Len(t, h.envelopes, tt.handled)
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
			if tt.status == http.StatusBadRequest {
				assert.Equal(t, "Bad Request\n", rec.Body.String())
			}
		})
	}
}

func TestHandleMessagePassesEnvelope(t *testing.T) {
	h := &recordingHandler{}
	srv := New(testServerConfig(), h, nil)

	body := `{"message":{"data":"eyJ9","messageId":"m-1","attributes":{"k":"v"}}}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, h.envelopes, 1)
	assert.Equal(t, "eyJ9", h.envelopes[0].Data)
	assert.Equal(t, "m-1", h.envelopes[0].DeliveryID())
	assert.Equal(t, "v", h.envelopes[0].Attributes["k"])
}

func TestHandleMessageBodyLimit(t *testing.T) {
	cfg := testServerConfig()
	cfg.MaxBodyBytes = 16
	h := &recordingHandler{}
	srv := New(cfg, h, nil)

	body := `{"message":{"data":"` + strings.Repeat("A", 64) + `"}}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, h.envelopes)
}

// captureLog redirects the package logger into a buffer for one test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	previous := *getLog()
	*getLog() = zerolog.New(&buf)
	t.Cleanup(func() { *getLog() = previous })
	return &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestDeliveriesLogsPushFields(t *testing.T) {
	buf := captureLog(t)
	srv := New(testServerConfig(), &recordingHandler{}, nil)

	envelope := protocol.EncodeEnvelope([]byte(`{"command":"Echo","team":{"id":"T1"}}`))
	envelope.MessageID = "m-7"
	body, err := json.Marshal(map[string]interface{}{"message": envelope, "subscription": "projects/p/subscriptions/bridge"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("X-Cloud-Trace-Context", "105445aa7843bc8bf206b12000100000/1;o=1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "105445aa7843bc8bf206b12000100000", rec.Header().Get("X-Request-ID"))

	entry := lastEntry(t, buf)
	assert.Equal(t, "HTTP request", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "105445aa7843bc8bf206b12000100000", entry["request_id"])
	assert.Equal(t, "m-7", entry["message_id"])
	assert.Equal(t, "projects/p/subscriptions/bridge", entry["subscription"])
	assert.Equal(t, "command", entry["kind"])
	assert.Equal(t, float64(http.StatusNoContent), entry["status"])
}

func TestDeliveriesRequestID(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"caller_id", map[string]string{"X-Request-ID": "abc-123"}, "abc-123"},
		{"trace_wins", map[string]string{"X-Request-ID": "abc-123", "X-Cloud-Trace-Context": "t1/2"}, "t1"},
		{"injection_rejected", map[string]string{"X-Request-ID": "abc\n\"level\":\"error"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(testServerConfig(), &recordingHandler{}, nil)
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			got := rec.Header().Get("X-Request-ID")
			if tt.want == "" {
				_, err := uuid.Parse(got)
				assert.NoError(t, err, "invalid ids are replaced")
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

type panickingHandler struct{}

func (panickingHandler) Handle(context.Context, protocol.Envelope) error {
	panic("runtime exploded")
}

func TestRecoveryRedelivers(t *testing.T) {
	buf := captureLog(t)
	srv := New(testServerConfig(), panickingHandler{}, nil)

	body := `{"message":{"data":"e30=","messageId":"m-9"}}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
	assert.Contains(t, buf.String(), "Recovered from panic while handling delivery")

	entry := lastEntry(t, buf)
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "m-9", entry["message_id"])
	assert.Equal(t, float64(http.StatusInternalServerError), entry["status"])
}

func TestHealthz(t *testing.T) {
	srv := New(testServerConfig(), &recordingHandler{}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestWebSocketRouteOnlyWithBroadcaster(t *testing.T) {
	srv := New(testServerConfig(), &recordingHandler{}, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, r *ClientRegistry, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.Len() == n }, time.Second, 5*time.Millisecond)
}

func TestBroadcasterDeliversPublishedMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBroadcaster()
	go b.Run(ctx)

	srv := New(testServerConfig(), &recordingHandler{}, b)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	all := dial(t, ts)
	filtered := dial(t, ts)
	require.NoError(t, filtered.WriteJSON(wsMessage{Type: "subscribe", Filters: SubscriptionFilter{WorkspaceID: "T2"}}))
	waitForClients(t, b.Registry(), 2)
	// Let the subscription land before publishing.
	time.Sleep(20 * time.Millisecond)

	client := publisher.ForRequest(b, &protocol.CommandInvocation{Correlation: "c1", Command: "Echo", Team: protocol.Team{ID: "T1"}})
	require.NoError(t, client.Publish(ctx, json.RawMessage(`"hello"`)))

	require.NoError(t, all.SetReadDeadline(time.Now().Add(time.Second)))
	var out struct {
		Type    string `json:"type"`
		Payload struct {
			Data struct {
				Message protocol.Response `json:"message"`
			} `json:"data"`
		} `json:"payload"`
	}
	require.NoError(t, all.ReadJSON(&out))
	assert.Equal(t, "message", out.Type)
	assert.Equal(t, "c1", out.Payload.Data.Message.CorrelationID)
	assert.Equal(t, "T1", out.Payload.Data.Message.Team.ID)

	require.NoError(t, filtered.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := filtered.ReadMessage()
	assert.Error(t, err, "client filtered to another workspace receives nothing")
}

func TestBroadcasterQueueFull(t *testing.T) {
	b := NewBroadcaster()
	for i := 0; i < defaultQueueSize; i++ {
		require.NoError(t, b.Publish(context.Background(), []byte(`{}`)))
	}
	assert.ErrorIs(t, b.Publish(context.Background(), []byte(`{}`)), ErrBroadcasterFull)
}

func TestMatchesAny(t *testing.T) {
	c := &wsClient{}
	assert.True(t, c.matchesAny(routing{WorkspaceID: "T1"}))

	c.filters = []SubscriptionFilter{{WorkspaceID: "T1"}, {CorrelationID: "c9"}}
	assert.True(t, c.matchesAny(routing{WorkspaceID: "T1", CorrelationID: "c1"}))
	assert.True(t, c.matchesAny(routing{WorkspaceID: "T2", CorrelationID: "c9"}))
	assert.False(t, c.matchesAny(routing{WorkspaceID: "T2", CorrelationID: "c1"}))

	c.filters = removeFilter(c.filters, SubscriptionFilter{WorkspaceID: "T1"})
	assert.Equal(t, []SubscriptionFilter{{CorrelationID: "c9"}}, c.filters)
}

func TestExtractRouting(t *testing.T) {
	data, err := publisher.Encode(protocol.Response{CorrelationID: "c1", Team: protocol.Team{ID: "T1"}})
	require.NoError(t, err)

	assert.Equal(t, routing{WorkspaceID: "T1", CorrelationID: "c1"}, extractRouting(data))
	assert.Equal(t, routing{}, extractRouting([]byte("not json")))
}
