// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import "encoding/json"

// Source describes where a command came from. Command responses without
// explicit destinations are delivered back here.
type Source struct {
	UserAgent  string          `json:"user_agent"`
	Slack      *SlackSource    `json:"slack,omitempty"`
	Identities json.RawMessage `json:"identities,omitempty"`
}

// SlackSource is the chat location a command was issued from.
type SlackSource struct {
	Team    Team         `json:"team"`
	Channel *SlackTarget `json:"channel,omitempty"`
	User    *SlackTarget `json:"user,omitempty"`
}

// SlackTarget names a channel or user.
type SlackTarget struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Destination addresses an outbound message.
type Destination struct {
	UserAgent string       `json:"user_agent"`
	RootType  string       `json:"root_type,omitempty"` // custom ingestion events
	Slack     *SlackSource `json:"slack,omitempty"`
}

const (
	UserAgentSlack    = "slack"
	UserAgentIngester = "ingester"
)

// CustomEventDestination addresses an ingestion message of the given root type.
func CustomEventDestination(rootType string) Destination {
	return Destination{UserAgent: UserAgentIngester, RootType: rootType}
}

// OutboundMessage is a message a handler wants delivered.
type OutboundMessage struct {
	Body         json.RawMessage `json:"body"`
	Destinations []Destination   `json:"destinations,omitempty"`
	ID           string          `json:"id,omitempty"`
}

// HandlerResult is what a command or event handler returns.
type HandlerResult struct {
	Code     int               `json:"code"`
	Message  string            `json:"message,omitempty"`
	Messages []OutboundMessage `json:"messages,omitempty"`
}

// Status reports the outcome of a command back to its source.
type Status struct {
	Code       int    `json:"code"`
	Reason     string `json:"reason,omitempty"`
	Visibility string `json:"visibility,omitempty"`
}

// VisibilityHidden keeps a status out of chat.
const VisibilityHidden = "hidden"

// Response is the message body put on the transport for every outbound message.
type Response struct {
	APIVersion    string          `json:"api_version"`
	CorrelationID string          `json:"correlation_id"`
	Team          Team            `json:"team"`
	Command       string          `json:"command,omitempty"`
	Source        *Source         `json:"source,omitempty"`
	Destinations  []Destination   `json:"destinations"`
	ID            string          `json:"id,omitempty"`
	Content       json.RawMessage `json:"content,omitempty"`
	Status        *Status         `json:"status,omitempty"`
}

// ResponseAPIVersion is the response schema version.
const ResponseAPIVersion = "1"
