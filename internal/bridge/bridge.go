// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package bridge routes transport envelopes: commands and events to the
// automation runtime, build status notifications to goal reconciliation.
package bridge

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/noldarim/goalbridge/internal/logger"
	"github.com/noldarim/goalbridge/internal/protocol"
	"github.com/noldarim/goalbridge/internal/runtime"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Runtimes hands out leases on the automation runtime.
type Runtimes interface {
	Acquire(ctx context.Context, workspaceID, apiKey string) (*runtime.Lease, error)
}

// Dispatcher runs a request on a leased runtime.
type Dispatcher interface {
	Dispatch(ctx context.Context, lease *runtime.Lease, req protocol.Request) error
}

// Reconciler applies build status notifications to goals.
type Reconciler interface {
	Reconcile(ctx context.Context, n *protocol.StatusNotification) error
}

// Bridge is the per-message entry point.
type Bridge struct {
	runtimes   Runtimes
	dispatcher Dispatcher
	reconciler Reconciler
	secrets    *logger.Redactor
	sink       *logger.InvocationSink
	log        *zerolog.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithSecrets sets the redactor secrets are registered with.
func WithSecrets(r *logger.Redactor) Option {
	return func(b *Bridge) { b.secrets = r }
}

// WithSink sets the sink whose per-invocation backlog is discarded once an
// envelope is handled.
func WithSink(s *logger.InvocationSink) Option {
	return func(b *Bridge) { b.sink = s }
}

// WithLogger overrides the bridge logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// New creates a Bridge.
func New(runtimes Runtimes, dispatcher Dispatcher, reconciler Reconciler, opts ...Option) *Bridge {
	b := &Bridge{runtimes: runtimes, dispatcher: dispatcher, reconciler: reconciler}
	for _, opt := range opts {
		opt(b)
	}
	if b.secrets == nil {
		b.secrets = logger.Secrets()
	}
	if b.sink == nil {
		b.sink = logger.Invocations()
	}
	if b.log == nil {
		l := logger.GetBridgeLogger()
		b.log = &l
	}
	return b
}

// Handle processes one envelope. Malformed and unroutable envelopes are
// dropped with a warning. The only error returned is a failure to acquire
// the runtime, which the transport may retry.
//
// Every envelope is its own invocation: events logged through its context
// carry a fresh invocation id.
func (b *Bridge) Handle(ctx context.Context, env protocol.Envelope) (err error) {
	id := uuid.NewString()
	ctx = logger.WithInvocation(ctx, id)
	defer b.sink.Close(id)
	log := logger.Ctx(ctx, b.log)

	ctx, span := otel.Tracer("goalbridge/bridge").Start(ctx, "bridge.Handle")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(
		attribute.String("message.id", env.DeliveryID()),
		attribute.String("invocation.id", id),
	)

	payload, err := env.Payload()
	if err != nil {
		log.Warn().Err(err).Str("message_id", env.DeliveryID()).Msg("Dropping malformed message")
		return nil
	}

	req, err := protocol.Decode(payload)
	if err != nil {
		if errors.Is(err, protocol.ErrUnroutable) {
			log.Warn().Str("message_id", env.DeliveryID()).Msg("Dropping message with unknown payload")
		} else {
			log.Warn().Err(err).Str("message_id", env.DeliveryID()).Msg("Dropping malformed message")
		}
		return nil
	}

	b.secrets.Add(lo.Map(req.SecretValues(), func(s protocol.Secret, _ int) string { return s.Value })...)
	log.Info().Msgf("Incoming pub/sub message: %s", protocol.Redact(payload))

	span.SetAttributes(
		attribute.String("request.kind", req.Kind().String()),
		attribute.String("request.workspace_id", req.WorkspaceID()),
	)

	if n, ok := req.(*protocol.StatusNotification); ok {
		if err := b.reconciler.Reconcile(ctx, n); err != nil {
			log.Error().Str("build_id", n.ID).Msgf("Processing status failed: %s", err.Error())
		}
		return nil
	}

	lease, err := b.runtimes.Acquire(ctx, req.WorkspaceID(), protocol.APIKey(req))
	if err != nil {
		return err
	}
	defer lease.Release()

	return b.dispatcher.Dispatch(ctx, lease, req)
}
