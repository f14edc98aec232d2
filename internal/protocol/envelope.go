// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrMalformed is returned for envelopes whose payload is not base64 encoded UTF-8 JSON.
	ErrMalformed = errors.New("malformed envelope")
	// ErrUnroutable is returned for well-formed payloads matching no known request shape.
	ErrUnroutable = errors.New("unroutable message")
)

// Envelope is a transport message as delivered by the pub/sub push subscription.
type Envelope struct {
	Data        string            `json:"data"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	MessageID   string            `json:"messageId,omitempty"`
	PublishTime string            `json:"publishTime,omitempty"`
}

// DeliveryID returns the transport's message id, falling back to the
// delivery attribute some publishers set.
func (e Envelope) DeliveryID() string {
	if e.MessageID != "" {
		return e.MessageID
	}
	return e.Attributes["deliveryId"]
}

// Payload base64-decodes the envelope data and checks it is UTF-8 JSON.
func (e Envelope) Payload() ([]byte, error) {
	if e.Data == "" {
		return nil, fmt.Errorf("%w: empty data", ErrMalformed)
	}
	payload, err := base64.StdEncoding.DecodeString(e.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !utf8.Valid(payload) || !json.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not UTF-8 JSON", ErrMalformed)
	}
	return payload, nil
}

// EncodeEnvelope wraps a JSON payload the way the transport would deliver it.
func EncodeEnvelope(payload []byte) Envelope {
	return Envelope{Data: base64.StdEncoding.EncodeToString(payload)}
}

// Classify determines the request variant of a decoded payload. Markers are
// checked in order: command, event, status.
func Classify(payload []byte) Kind {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return KindUnroutable
	}

	if present(fields, "command") && present(fields, "team") {
		return KindCommand
	}

	if raw, ok := fields["extensions"]; ok {
		var ext map[string]json.RawMessage
		if json.Unmarshal(raw, &ext) == nil && present(ext, "operationName") && present(ext, "team_id") {
			return KindEvent
		}
	}

	if present(fields, "steps") && present(fields, "substitutions") && present(fields, "id") {
		return KindStatus
	}

	return KindUnroutable
}

// present reports whether key holds a value other than null, false, or an empty string.
func present(fields map[string]json.RawMessage, key string) bool {
	raw, ok := fields[key]
	if !ok {
		return false
	}
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", "false", `""`:
		return false
	}
	return true
}

// Decode classifies a payload and parses it into the matching Request.
func Decode(payload []byte) (Request, error) {
	var req Request
	switch Classify(payload) {
	case KindCommand:
		req = &CommandInvocation{Raw: payload}
	case KindEvent:
		req = &EventInvocation{Raw: payload}
	case KindStatus:
		req = &StatusNotification{}
	default:
		return nil, ErrUnroutable
	}

	if err := json.Unmarshal(payload, req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return req, nil
}
