// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package publisher puts handler output back on the transport.
//
// Every request gets its own Client. The client enforces the destination
// rule of the request kind before anything is serialized: command responses
// may omit destinations and go back to the command's source, event messages
// must be addressed explicitly.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/noldarim/goalbridge/internal/logger"
	"github.com/noldarim/goalbridge/internal/protocol"
	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetPublisherLogger()
		log = &l
	})
	return log
}

// ErrNoDestinations is returned when an event handler publishes without addressing the message.
var ErrNoDestinations = errors.New("response messages are not supported for event handlers")

// Topic is the transport's fire-and-forget publish primitive.
type Topic interface {
	Publish(ctx context.Context, data []byte) error
}

// MessageClient publishes handler messages for one request.
type MessageClient interface {
	Publish(ctx context.Context, message interface{}, destinations ...protocol.Destination) error
	SendStatus(ctx context.Context, status protocol.Status) error
}

// DestinationRule validates the destinations of a message before it is published.
type DestinationRule func(destinations []protocol.Destination) error

// CommandDestinations accepts any destinations. An empty list replies to the command's source.
func CommandDestinations(_ []protocol.Destination) error {
	return nil
}

// EventDestinations requires at least one destination; events have no sender to reply to.
func EventDestinations(destinations []protocol.Destination) error {
	if len(destinations) == 0 {
		return ErrNoDestinations
	}
	return nil
}

// RuleFor selects the destination rule for a request kind.
func RuleFor(kind protocol.Kind) DestinationRule {
	if kind == protocol.KindCommand {
		return CommandDestinations
	}
	return EventDestinations
}

// Client is the MessageClient bound to a single request.
type Client struct {
	topic         Topic
	rule          DestinationRule
	correlationID string
	team          protocol.Team
	command       string
	source        *protocol.Source
}

var _ MessageClient = (*Client)(nil)

// ForRequest builds the message client for a command or event request.
func ForRequest(topic Topic, req protocol.Request) *Client {
	c := &Client{
		topic:         topic,
		rule:          RuleFor(req.Kind()),
		correlationID: req.CorrelationID(),
		team:          protocol.Team{ID: req.WorkspaceID()},
	}
	switch r := req.(type) {
	case *protocol.CommandInvocation:
		c.team = r.Team
		c.command = r.Command
		c.source = r.Source
	case *protocol.EventInvocation:
		c.team.Name = r.Extensions.TeamName
	}
	return c
}

// Publish addresses message to destinations and puts it on the topic.
// Destination rule violations are returned; transport failures are logged only.
func (c *Client) Publish(ctx context.Context, message interface{}, destinations ...protocol.Destination) error {
	if err := c.rule(destinations); err != nil {
		return err
	}

	content, err := toRaw(message)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	resp := c.response()
	resp.Destinations = append(resp.Destinations, destinations...)
	resp.Content = content
	if m, ok := message.(protocol.OutboundMessage); ok {
		resp.ID = m.ID
	}

	return c.send(ctx, resp)
}

// SendStatus reports a command's outcome. Statuses default to hidden visibility.
func (c *Client) SendStatus(ctx context.Context, status protocol.Status) error {
	if status.Visibility == "" {
		status.Visibility = protocol.VisibilityHidden
	}
	resp := c.response()
	resp.Status = &status
	return c.send(ctx, resp)
}

func (c *Client) response() protocol.Response {
	return protocol.Response{
		APIVersion:    protocol.ResponseAPIVersion,
		CorrelationID: c.correlationID,
		Team:          c.team,
		Command:       c.command,
		Source:        c.source,
		Destinations:  []protocol.Destination{},
	}
}

// transportMessage is the wire shape: { data: { message } }.
type transportMessage struct {
	Data struct {
		Message interface{} `json:"message"`
	} `json:"data"`
}

// Encode serializes a message into the bytes handed to the topic.
func Encode(message interface{}) ([]byte, error) {
	var m transportMessage
	m.Data.Message = message
	return json.Marshal(m)
}

func (c *Client) send(ctx context.Context, resp protocol.Response) error {
	data, err := Encode(resp)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}

	if err := c.topic.Publish(ctx, data); err != nil {
		logger.Ctx(ctx, getLog()).Error().Err(err).Str("correlation_id", c.correlationID).Msgf("Error occurred sending message: %s", err.Error())
		return nil
	}

	logger.Ctx(ctx, getLog()).Debug().Str("correlation_id", c.correlationID).Int("destinations", len(resp.Destinations)).Msg("Published message")
	return nil
}

func toRaw(message interface{}) (json.RawMessage, error) {
	switch m := message.(type) {
	case json.RawMessage:
		return m, nil
	case protocol.OutboundMessage:
		return m.Body, nil
	default:
		return json.Marshal(m)
	}
}
