// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Here lies the definition of the requests the bridge can receive from the transport.
//
// A transport message decodes into exactly one Request variant:
//   - CommandInvocation: a named command issued by a user, replied to on its source
//   - EventInvocation: a subscription match, fire-and-forget from the caller's perspective
//   - StatusNotification: a third-party build status callback, handled without the runtime
package protocol

import (
	"encoding/json"

	"github.com/samber/lo"
)

// APIKeySecretURI identifies the secret carrying the workspace API key.
const APIKeySecretURI = "atomist://api-key"

// Kind tags the Request variant.
type Kind int

const (
	KindUnroutable Kind = iota
	KindCommand
	KindEvent
	KindStatus
)

// String returns the lower-case variant name used in log messages.
func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindEvent:
		return "event"
	case KindStatus:
		return "status"
	default:
		return "unroutable"
	}
}

// Request is the decoded form of a transport message.
type Request interface {
	Kind() Kind
	CorrelationID() string
	WorkspaceID() string
	SecretValues() []Secret
}

// Secret is a named secret value delivered with an invocation.
type Secret struct {
	URI   string `json:"uri"`
	Value string `json:"value"`
}

// Team identifies a workspace.
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Arg is a name/value command parameter.
type Arg struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// APIKey returns the value of the API key secret, or empty when absent.
func APIKey(req Request) string {
	secret, ok := lo.Find(req.SecretValues(), func(s Secret) bool {
		return s.URI == APIKeySecretURI
	})
	if !ok {
		return ""
	}
	return secret.Value
}

// CommandInvocation invokes a named command handler.
type CommandInvocation struct {
	APIVersion       string          `json:"api_version,omitempty"`
	Correlation      string          `json:"correlation_id"`
	Command          string          `json:"command"`
	Team             Team            `json:"team"`
	Source           *Source         `json:"source,omitempty"`
	Parameters       []Arg           `json:"parameters,omitempty"`
	MappedParameters []Arg           `json:"mapped_parameters,omitempty"`
	Secrets          []Secret        `json:"secrets,omitempty"`
	Raw              json.RawMessage `json:"-"`
}

func (c *CommandInvocation) Kind() Kind             { return KindCommand }
func (c *CommandInvocation) CorrelationID() string  { return c.Correlation }
func (c *CommandInvocation) WorkspaceID() string    { return c.Team.ID }
func (c *CommandInvocation) SecretValues() []Secret { return c.Secrets }

// EventExtensions carries routing data of an event invocation.
type EventExtensions struct {
	OperationName string `json:"operationName"`
	TeamID        string `json:"team_id"`
	TeamName      string `json:"team_name,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// EventInvocation delivers subscription data to an event handler.
type EventInvocation struct {
	Data       json.RawMessage `json:"data,omitempty"`
	Extensions EventExtensions `json:"extensions"`
	Secrets    []Secret        `json:"secrets,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

func (e *EventInvocation) Kind() Kind             { return KindEvent }
func (e *EventInvocation) CorrelationID() string  { return e.Extensions.CorrelationID }
func (e *EventInvocation) WorkspaceID() string    { return e.Extensions.TeamID }
func (e *EventInvocation) SecretValues() []Secret { return e.Secrets }

// BuildStatus is the status reported by the external build system.
type BuildStatus string

const (
	BuildQueued    BuildStatus = "QUEUED"
	BuildWorking   BuildStatus = "WORKING"
	BuildSuccess   BuildStatus = "SUCCESS"
	BuildCancelled BuildStatus = "CANCELLED"
	BuildFailure   BuildStatus = "FAILURE"
	BuildTimeout   BuildStatus = "TIMEOUT"
)

// Substitutions are the build substitutions that tie a build to a goal.
type Substitutions struct {
	APIKey      string `json:"_ATOMIST_API_KEY"`
	GoalName    string `json:"_ATOMIST_GOAL_NAME"`
	GoalSetID   string `json:"_ATOMIST_GOAL_SET_ID"`
	WorkspaceID string `json:"_ATOMIST_WORKSPACE_ID"`
}

// StatusNotification is a build-system status callback.
type StatusNotification struct {
	ID            string            `json:"id"`
	Status        BuildStatus       `json:"status"`
	Steps         []json.RawMessage `json:"steps"`
	Substitutions Substitutions     `json:"substitutions"`
	LogURL        string            `json:"logUrl,omitempty"`
}

func (n *StatusNotification) Kind() Kind            { return KindStatus }
func (n *StatusNotification) CorrelationID() string { return n.ID }
func (n *StatusNotification) WorkspaceID() string   { return n.Substitutions.WorkspaceID }

// SecretValues exposes the API key substitution so it is redacted like any other secret.
func (n *StatusNotification) SecretValues() []Secret {
	if n.Substitutions.APIKey == "" {
		return nil
	}
	return []Secret{{URI: APIKeySecretURI, Value: n.Substitutions.APIKey}}
}
