// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		secrets []string
		keep    []string
	}{
		{
			name:    "command_secrets",
			payload: commandPayload,
			secrets: []string{`"k1"`},
			keep:    []string{"atomist://api-key", "echo"},
		},
		{
			name:    "event_secrets",
			payload: eventPayload,
			secrets: []string{`"k2"`},
			keep:    []string{"OnPush"},
		},
		{
			name:    "status_api_key",
			payload: statusPayload,
			secrets: []string{`"k3"`},
			keep:    []string{"gs-1", "build#goals.ts:12"},
		},
		{
			name:    "nested_token",
			payload: `{"data":{"repo":{"token":"ghp_123","name":"r"}}}`,
			secrets: []string{"ghp_123"},
			keep:    []string{`"r"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Redact([]byte(tt.payload))
			for _, s := range tt.secrets {
				assert.NotContains(t, out, s)
			}
			for _, k := range tt.keep {
				assert.Contains(t, out, k)
			}
			assert.Contains(t, out, redacted)
		})
	}
}

func TestRedactNeverEchoesInvalidPayload(t *testing.T) {
	out := Redact([]byte(`not json k1`))
	assert.NotContains(t, out, "k1")
}
