// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package goals

import "github.com/noldarim/goalbridge/internal/protocol"

// State is the lifecycle state of a goal.
type State string

const (
	StateInProcess State = "in_process"
	StateSuccess   State = "success"
	StateCanceled  State = "canceled"
	StateFailure   State = "failure"
)

// Terminal reports whether no further transitions are expected.
func (s State) Terminal() bool {
	return s != StateInProcess
}

// StateFor maps a build status to a goal state. Unknown statuses are failures.
func StateFor(status protocol.BuildStatus) State {
	switch status {
	case protocol.BuildQueued, protocol.BuildWorking:
		return StateInProcess
	case protocol.BuildSuccess:
		return StateSuccess
	case protocol.BuildCancelled:
		return StateCanceled
	default:
		return StateFailure
	}
}

// Descriptions are the human-readable texts a goal shows per state.
type Descriptions struct {
	Planned            string `json:"planned,omitempty"`
	Requested          string `json:"requested,omitempty"`
	InProcess          string `json:"inProcess,omitempty"`
	Completed          string `json:"completed,omitempty"`
	Failed             string `json:"failed,omitempty"`
	Canceled           string `json:"canceled,omitempty"`
	WaitingForApproval string `json:"waitingForApproval,omitempty"`
	Stopped            string `json:"stopped,omitempty"`
}

// For returns the description for state. Missing descriptions are empty.
func (d *Descriptions) For(state State) string {
	if d == nil {
		return ""
	}
	switch state {
	case StateInProcess:
		return d.InProcess
	case StateSuccess:
		return d.Completed
	case StateCanceled:
		return d.Canceled
	default:
		return d.Failed
	}
}
