// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/noldarim/goalbridge/internal/config"

	"github.com/go-chi/chi/v5"
)

// Server is the HTTP entry point of the bridge plus the WebSocket feed of
// published messages.
type Server struct {
	httpServer  *http.Server
	broadcaster *Broadcaster
}

// New creates and wires up the server. It does NOT start listening; call
// Run() for that. broadcaster may be nil when the WebSocket transport is off.
func New(cfg *config.ServerConfig, handler EnvelopeHandler, broadcaster *Broadcaster) *Server {
	handlers := NewHandlers(handler)

	r := chi.NewRouter()

	r.Use(Deliveries)
	r.Use(Recovery)
	r.Use(MaxBodySize(cfg.MaxBodyBytes))

	r.Post("/", handlers.HandleMessage)
	r.Get("/healthz", handlers.Healthz)

	if broadcaster != nil {
		r.Get("/ws", HandleWebSocket(broadcaster.Registry(), cfg.AllowedOrigins))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Terminal goal updates wait for build logs.
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		broadcaster: broadcaster,
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the broadcaster goroutine and the HTTP server.
// Blocks until the server is shut down.
func (s *Server) Run(ctx context.Context) error {
	if s.broadcaster != nil {
		go s.runBroadcaster(ctx)
	}

	getLog().Info().Str("addr", s.httpServer.Addr).Msg("Bridge server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) runBroadcaster(ctx context.Context) {
	const maxRetries = 3
	for attempt := 1; attempt <= maxRetries; attempt++ {
		func() {
			defer func() {
				if r := recover(); r != nil {
					getLog().Error().Interface("panic", r).Int("attempt", attempt).Msg("Message broadcaster panic")
				}
			}()
			s.broadcaster.Run(ctx)
		}()

		// Normal return (context cancelled); exit without retry.
		if ctx.Err() != nil {
			return
		}

		if attempt < maxRetries {
			getLog().Warn().Int("attempt", attempt).Msg("Restarting message broadcaster after panic")
			time.Sleep(1 * time.Second)
		}
	}
	getLog().Error().Msg("Message broadcaster exhausted retries - messages will no longer reach WebSocket clients")
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
