// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package goals

import (
	"testing"

	"github.com/noldarim/goalbridge/internal/protocol"
	"github.com/stretchr/testify/assert"
)

func TestStateFor(t *testing.T) {
	tests := []struct {
		status   protocol.BuildStatus
		expected State
		terminal bool
	}{
		{protocol.BuildQueued, StateInProcess, false},
		{protocol.BuildWorking, StateInProcess, false},
		{protocol.BuildSuccess, StateSuccess, true},
		{protocol.BuildCancelled, StateCanceled, true},
		{protocol.BuildFailure, StateFailure, true},
		{protocol.BuildTimeout, StateFailure, true},
		{"INTERNAL_ERROR", StateFailure, true},
		{"", StateFailure, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			state := StateFor(tt.status)
			assert.Equal(t, tt.expected, state)
			assert.Equal(t, tt.terminal, state.Terminal())
		})
	}
}

func TestDescriptionsFor(t *testing.T) {
	d := &Descriptions{InProcess: "Building", Completed: "Build finished", Canceled: "Build canceled", Failed: "Build failed"}

	assert.Equal(t, "Building", d.For(StateInProcess))
	assert.Equal(t, "Build finished", d.For(StateSuccess))
	assert.Equal(t, "Build canceled", d.For(StateCanceled))
	assert.Equal(t, "Build failed", d.For(StateFailure))

	var missing *Descriptions
	assert.Empty(t, missing.For(StateSuccess))
}

func TestRequestCorrelationID(t *testing.T) {
	g := &Goal{Provenance: []Provenance{
		{Name: "SetGoalsOnPush", CorrelationID: "c0"},
		{Name: FulfillOnRequested, CorrelationID: "c1"},
	}}
	id, err := g.RequestCorrelationID()
	assert.NoError(t, err)
	assert.Equal(t, "c1", id)

	_, err = (&Goal{}).RequestCorrelationID()
	assert.ErrorIs(t, err, ErrNoRequestProvenance)
}
