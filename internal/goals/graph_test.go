// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package goals

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type graphRequest struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

func TestGraphFinderFindGoal(t *testing.T) {
	var got graphRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/graphql/team/T1", r.URL.Path)
		assert.Equal(t, "Bearer k1", r.Header.Get("Authorization"))
		assert.Equal(t, "no-cache", r.Header.Get("Cache-Control"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = w.Write([]byte(`{"data":{"SdmGoal":[{
			"name":"build","uniqueName":"build#cloudbuild","goalSetId":"gs-1","state":"in_process",
			"version":3,"repo":{"name":"api","owner":"acme"},
			"descriptions":{"completed":"Build finished"},
			"provenance":[{"name":"FulfillGoalOnRequested","correlationId":"c1","ts":1}]
		}]}}`))
	}))
	defer server.Close()

	f := NewGraphFinder(server.Client(), server.URL+"/graphql/team/", time.Second)
	goal, err := f.FindGoal(context.Background(), Session{WorkspaceID: "T1", APIKey: "k1"}, "gs-1", "build#cloudbuild")
	require.NoError(t, err)
	require.NotNil(t, goal)

	assert.Equal(t, goalsOperation, got.OperationName)
	assert.Contains(t, got.Query, "query "+goalsOperation)
	assert.Equal(t, []interface{}{"gs-1"}, got.Variables["goalSetId"])
	assert.Equal(t, []interface{}{"build#cloudbuild"}, got.Variables["uniqueName"])

	assert.Equal(t, "build#cloudbuild", goal.UniqueName)
	assert.Equal(t, 3, goal.Version)
	assert.Equal(t, "Build finished", goal.Descriptions.Completed)
	assert.Equal(t, "acme", goal.Repo.Owner)
}

func TestGraphFinderMiss(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":{"SdmGoal":[]}}`))
	}))
	defer server.Close()

	goal, err := NewGraphFinder(server.Client(), server.URL, time.Second).
		FindGoal(context.Background(), Session{WorkspaceID: "T1"}, "gs-1", "build")
	require.NoError(t, err)
	assert.Nil(t, goal)
}

func TestGraphFinderErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		errorMsg string
	}{
		{"http_error", http.StatusUnauthorized, `unauthorized`, "goal query failed"},
		{"graphql_error", http.StatusOK, `{"errors":[{"message":"field not found"}]}`, "field not found"},
		{"bad_json", http.StatusOK, `{`, "goal query failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewGraphFinder(server.Client(), server.URL, time.Second).
				FindGoal(context.Background(), Session{WorkspaceID: "T1", APIKey: "k1"}, "gs-1", "build")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestGraphFinderTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	tests := []struct {
		name   string
		client *http.Client
	}{
		{"default_client", nil},
		{"client_without_timeout", &http.Client{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewGraphFinder(tt.client, server.URL, 50*time.Millisecond)
			assert.Equal(t, 50*time.Millisecond, f.Timeout())

			start := time.Now()
			_, err := f.FindGoal(context.Background(), Session{WorkspaceID: "T1", APIKey: "k1"}, "gs-1", "build")
			require.Error(t, err)
			assert.Less(t, time.Since(start), 5*time.Second)
		})
	}

	assert.Equal(t, 10*time.Second, NewGraphFinder(&http.Client{Timeout: 10 * time.Second}, server.URL, time.Second).Timeout())
}
