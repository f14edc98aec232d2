// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package runtime

import (
	"context"
	"sync/atomic"

	"github.com/noldarim/goalbridge/internal/logger"
	"github.com/noldarim/goalbridge/internal/protocol"
)

// Listener observes invocations processed by an Instance.
type Listener interface {
	Name() string
	InvocationStarting(ctx context.Context, req protocol.Request)
	InvocationCompleted(ctx context.Context, req protocol.Request, err error)
}

// DefaultListeners returns the listener set of a long-running runtime. Only
// the first entry survives in this deployment mode; see Manager.instanceFor.
// Processes that report totals attach their own counter with WithListeners.
func DefaultListeners() []Listener {
	return []Listener{
		&InvocationLogListener{},
		&InvocationCounter{},
	}
}

// InvocationLogListener logs invocation boundaries.
type InvocationLogListener struct{}

func (*InvocationLogListener) Name() string { return "invocation-log" }

func (*InvocationLogListener) InvocationStarting(ctx context.Context, req protocol.Request) {
	logger.Ctx(ctx, getLog()).Debug().
		Str("kind", req.Kind().String()).
		Str("correlation_id", req.CorrelationID()).
		Str("workspace_id", req.WorkspaceID()).
		Msg("Invocation starting")
}

func (*InvocationLogListener) InvocationCompleted(ctx context.Context, req protocol.Request, err error) {
	log := logger.Ctx(ctx, getLog())
	event := log.Debug()
	if err != nil {
		event = log.Warn().Err(err)
	}
	event.
		Str("kind", req.Kind().String()).
		Str("correlation_id", req.CorrelationID()).
		Msg("Invocation completed")
}

// InvocationCounter tracks invocation totals for long-running processes that
// report them on shutdown.
type InvocationCounter struct {
	started   atomic.Int64
	failed    atomic.Int64
	succeeded atomic.Int64
}

func (*InvocationCounter) Name() string { return "invocation-counter" }

func (c *InvocationCounter) InvocationStarting(context.Context, protocol.Request) {
	c.started.Add(1)
}

func (c *InvocationCounter) InvocationCompleted(_ context.Context, _ protocol.Request, err error) {
	if err != nil {
		c.failed.Add(1)
		return
	}
	c.succeeded.Add(1)
}

// Totals returns started, succeeded and failed counts.
func (c *InvocationCounter) Totals() (started, succeeded, failed int64) {
	return c.started.Load(), c.succeeded.Load(), c.failed.Load()
}
