// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP entry point of the bridge. Messages
// published through the WebSocket transport are fanned out to connected
// clients on /ws.
package server

import (
	"context"
	"errors"
	"sync"

	"github.com/noldarim/goalbridge/internal/logger"
	"github.com/noldarim/goalbridge/internal/publisher"

	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetAPILogger()
		log = &l
	})
	return log
}

// ErrBroadcasterFull is returned when the publish queue is saturated.
var ErrBroadcasterFull = errors.New("websocket publish queue is full")

const defaultQueueSize = 256

// Broadcaster is a publisher.Topic that fans published messages out to all
// connected WebSocket clients.
type Broadcaster struct {
	queue   chan []byte
	clients *ClientRegistry
}

var _ publisher.Topic = (*Broadcaster)(nil)

// NewBroadcaster creates a broadcaster with its own client registry.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		queue:   make(chan []byte, defaultQueueSize),
		clients: NewClientRegistry(),
	}
}

// Registry returns the clients served by this broadcaster.
func (b *Broadcaster) Registry() *ClientRegistry {
	return b.clients
}

// Publish queues data for delivery. It never blocks.
func (b *Broadcaster) Publish(_ context.Context, data []byte) error {
	select {
	case b.queue <- data:
		return nil
	default:
		return ErrBroadcasterFull
	}
}

// Run delivers queued messages until the context is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case data := <-b.queue:
			b.clients.Broadcast(data)
		case <-ctx.Done():
			getLog().Info().Msg("Message broadcaster stopped (context cancelled)")
			return
		}
	}
}
