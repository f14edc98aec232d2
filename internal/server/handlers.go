// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/noldarim/goalbridge/internal/protocol"
)

// EnvelopeHandler processes one transport envelope.
type EnvelopeHandler interface {
	Handle(ctx context.Context, env protocol.Envelope) error
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	handler EnvelopeHandler
}

// NewHandlers creates the handler set.
func NewHandlers(handler EnvelopeHandler) *Handlers {
	return &Handlers{handler: handler}
}

// pushRequest is the body of a push subscription delivery.
type pushRequest struct {
	Message      *protocol.Envelope `json:"message"`
	Subscription string             `json:"subscription,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		getLog().Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// HandleMessage handles POST / with a {"message": <envelope>} body. The
// envelope is processed before responding; a 204 means it was handed off.
// Bodies over the configured limit get a 413.
func (h *Handlers) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var body pushRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Message == nil {
		if tooLarge(err) {
			http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	noteDelivery(r.Context(), body.Message, body.Subscription)

	if err := h.handler.Handle(r.Context(), *body.Message); err != nil {
		getLog().Error().
			Err(err).
			Str("request_id", RequestID(r.Context())).
			Str("message_id", body.Message.DeliveryID()).
			Msg("Failed to handle message")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to handle message", "context": err.Error()})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Healthz handles GET /healthz.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
