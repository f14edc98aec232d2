// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package goals

import (
	"context"
	"errors"

	"github.com/samber/lo"
)

// FulfillOnRequested names the provenance entry written when a goal was
// requested for fulfillment.
const FulfillOnRequested = "FulfillGoalOnRequested"

// ErrNoRequestProvenance is returned when a goal was never requested.
var ErrNoRequestProvenance = errors.New("goal has no " + FulfillOnRequested + " provenance")

// Repo identifies the repository a goal belongs to.
type Repo struct {
	Name       string `json:"name"`
	Owner      string `json:"owner"`
	ProviderID string `json:"providerId,omitempty"`
}

// Provenance records who or what changed a goal.
type Provenance struct {
	Name          string `json:"name"`
	Registration  string `json:"registration"`
	Version       string `json:"version"`
	CorrelationID string `json:"correlationId"`
	Ts            int64  `json:"ts"`
	UserID        string `json:"userId,omitempty"`
	ChannelID     string `json:"channelId,omitempty"`
}

// Goal is a goal record as stored by the graph.
type Goal struct {
	Name          string        `json:"name"`
	UniqueName    string        `json:"uniqueName"`
	GoalSetID     string        `json:"goalSetId"`
	Environment   string        `json:"environment"`
	State         State         `json:"state"`
	Description   string        `json:"description"`
	Descriptions  *Descriptions `json:"descriptions,omitempty"`
	Phase         string        `json:"phase,omitempty"`
	URL           string        `json:"url,omitempty"`
	ExternalKey   string        `json:"externalKey,omitempty"`
	Sha           string        `json:"sha"`
	Branch        string        `json:"branch"`
	Repo          Repo          `json:"repo"`
	Version       int           `json:"version"`
	Ts            int64         `json:"ts"`
	RetryFeasible bool          `json:"retryFeasible,omitempty"`
	Data          string        `json:"data,omitempty"`
	Provenance    []Provenance  `json:"provenance"`
	PreConditions []GoalRef     `json:"preConditions,omitempty"`
	Fulfillment   *Fulfillment  `json:"fulfillment,omitempty"`
	Registration  string        `json:"registration,omitempty"`
}

// GoalRef points at another goal of the same set.
type GoalRef struct {
	Environment string `json:"environment"`
	Name        string `json:"name"`
	UniqueName  string `json:"uniqueName,omitempty"`
}

// Fulfillment describes how a goal is executed.
type Fulfillment struct {
	Method       string `json:"method"`
	Name         string `json:"name"`
	Registration string `json:"registration,omitempty"`
}

// RequestCorrelationID returns the correlation id of the request that
// started fulfillment of the goal.
func (g *Goal) RequestCorrelationID() (string, error) {
	p, ok := lo.Find(g.Provenance, func(p Provenance) bool {
		return p.Name == FulfillOnRequested
	})
	if !ok {
		return "", ErrNoRequestProvenance
	}
	return p.CorrelationID, nil
}

// Session carries the workspace and credentials of one notification.
type Session struct {
	WorkspaceID string
	APIKey      string
}

// Update is the state change applied to a goal.
type Update struct {
	State       State
	Description string
}

// Context describes the invocation performing an update.
type Context struct {
	InvocationID  string
	CorrelationID string
	WorkspaceID   string
	Operation     string
	Name          string
	Version       string
	// NotificationID is the id of the build notification being reconciled.
	NotificationID string
}

// Finder looks up goals by goal set and unique name.
type Finder interface {
	// FindGoal returns nil, nil when no goal matches.
	FindGoal(ctx context.Context, s Session, goalSetID, uniqueName string) (*Goal, error)
}

// Updater persists goal transitions.
type Updater interface {
	UpdateGoal(ctx context.Context, gc Context, goal *Goal, u Update) error
}
