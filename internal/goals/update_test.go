// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package goals

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/noldarim/goalbridge/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTopic struct {
	messages [][]byte
	err      error
}

func (r *recordingTopic) Publish(_ context.Context, data []byte) error {
	r.messages = append(r.messages, data)
	return r.err
}

type publishedGoal struct {
	Data struct {
		Message protocol.Response `json:"message"`
	} `json:"data"`
}

func TestPublishingUpdater(t *testing.T) {
	topic := &recordingTopic{}
	u := NewPublishingUpdater(topic)
	u.now = func() time.Time { return time.UnixMilli(1700000000000) }

	goal := &Goal{
		Name:       "build",
		UniqueName: "build#cloudbuild",
		State:      StateInProcess,
		Version:    3,
		Provenance: []Provenance{{Name: FulfillOnRequested, CorrelationID: "c1"}},
	}
	gc := Context{CorrelationID: "c1", WorkspaceID: "T1", Operation: Operation, Name: "@atomist/sdm", Version: "1.0.0", NotificationID: "b-1"}

	require.NoError(t, u.UpdateGoal(context.Background(), gc, goal, Update{State: StateSuccess, Description: "Build finished"}))
	require.Len(t, topic.messages, 1)

	var msg publishedGoal
	require.NoError(t, json.Unmarshal(topic.messages[0], &msg))
	resp := msg.Data.Message
	assert.Equal(t, "b-1", resp.CorrelationID)
	assert.Equal(t, "T1", resp.Team.ID)
	assert.Equal(t, []protocol.Destination{protocol.CustomEventDestination(GoalRootType)}, resp.Destinations)

	var updated Goal
	require.NoError(t, json.Unmarshal(resp.Content, &updated))
	assert.Equal(t, StateSuccess, updated.State)
	assert.Equal(t, "Build finished", updated.Description)
	assert.Equal(t, 4, updated.Version)
	assert.Equal(t, int64(1700000000000), updated.Ts)
	require.Len(t, updated.Provenance, 2)
	assert.Equal(t, Operation, updated.Provenance[0].Name)
	assert.Equal(t, "@atomist/sdm", updated.Provenance[0].Registration)
	assert.Equal(t, "c1", updated.Provenance[0].CorrelationID)

	assert.Equal(t, StateInProcess, goal.State, "input goal is not modified")
	assert.Len(t, goal.Provenance, 1)
}

func TestPublishingUpdaterTransportFailureIsContained(t *testing.T) {
	topic := &recordingTopic{err: errors.New("unavailable")}
	u := NewPublishingUpdater(topic)

	err := u.UpdateGoal(context.Background(), Context{WorkspaceID: "T1", NotificationID: "b-1"}, &Goal{UniqueName: "build"}, Update{State: StateFailure})
	assert.NoError(t, err)
	assert.Len(t, topic.messages, 1)
}
