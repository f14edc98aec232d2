// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dispatch hands command and event invocations to a leased runtime
// and waits for their single completion.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/noldarim/goalbridge/internal/logger"
	"github.com/noldarim/goalbridge/internal/progress"
	"github.com/noldarim/goalbridge/internal/protocol"
	"github.com/noldarim/goalbridge/internal/publisher"
	"github.com/noldarim/goalbridge/internal/runtime"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrUnsupportedKind is returned for requests that are neither commands nor events.
var ErrUnsupportedKind = errors.New("unsupported request kind")

// ExecutionLogs opens the execution log of one invocation.
type ExecutionLogs func(req protocol.Request, invocationID string) progress.Log

// NewExecutionLogs returns ExecutionLogs backed by remote dashboard logs. The
// runtime name, in "owner/repo" form, and version locate the log.
func NewExecutionLogs(remote *progress.RemoteLogs, name, version string) ExecutionLogs {
	owner, repo, _ := strings.Cut(name, "/")
	return func(req protocol.Request, invocationID string) progress.Log {
		operation := ""
		switch r := req.(type) {
		case *protocol.CommandInvocation:
			operation = r.Command
		case *protocol.EventInvocation:
			operation = r.Extensions.OperationName
		}
		return remote.New(operation, progress.Key{
			WorkspaceID:  req.WorkspaceID(),
			Owner:        owner,
			Repo:         repo,
			Sha:          version,
			Environment:  req.Kind().String(),
			UniqueName:   operation,
			GoalSetID:    req.CorrelationID(),
			InvocationID: invocationID,
		})
	}
}

// Dispatcher runs requests on a leased runtime.
type Dispatcher struct {
	topic publisher.Topic
	logs  ExecutionLogs
	sink  *logger.InvocationSink
	log   *zerolog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithExecutionLogs streams application logs into a per-invocation log.
func WithExecutionLogs(logs ExecutionLogs) Option {
	return func(d *Dispatcher) { d.logs = logs }
}

// WithSink overrides the invocation sink used with WithExecutionLogs.
func WithSink(sink *logger.InvocationSink) Option {
	return func(d *Dispatcher) { d.sink = sink }
}

// WithLogger overrides the dispatcher's logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// NewDispatcher creates a dispatcher publishing responses to topic.
func NewDispatcher(topic publisher.Topic, opts ...Option) *Dispatcher {
	d := &Dispatcher{topic: topic}
	for _, opt := range opts {
		opt(d)
	}
	if d.sink == nil {
		d.sink = logger.Invocations()
	}
	if d.log == nil {
		l := logger.GetRuntimeLogger().With().Str("component", "dispatch").Logger()
		d.log = &l
	}
	return d
}

// Dispatch processes req on the leased runtime and waits for it to finish.
// Handler failures are logged and reported as handled; only unsupported
// request kinds return an error. Events logged under ctx's invocation id
// stream into the execution log; an id is assigned when ctx has none.
func (d *Dispatcher) Dispatch(ctx context.Context, lease *runtime.Lease, req protocol.Request) error {
	kind := req.Kind()
	if kind != protocol.KindCommand && kind != protocol.KindEvent {
		return fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}

	ctx, span := otel.Tracer("goalbridge/dispatch").Start(ctx, "dispatch.Dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.kind", kind.String()),
		attribute.String("request.correlation_id", req.CorrelationID()),
		attribute.String("request.workspace_id", req.WorkspaceID()),
	)

	id := logger.InvocationID(ctx)
	if id == "" {
		id = uuid.NewString()
		ctx = logger.WithInvocation(ctx, id)
	}
	log := logger.Ctx(ctx, d.log)

	if d.logs != nil {
		execLog := d.logs(req, id)
		d.sink.Open(id, execLog)
		defer func() {
			d.sink.Close(id)
			if err := execLog.Close(ctx); err != nil {
				d.log.Warn().Err(err).Msg("Failed to close execution log")
			}
		}()
	}

	messages := publisher.ForRequest(d.topic, req)
	err := d.await(ctx, lease, req, messages)
	lease.Complete(ctx, req, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().
			Str("correlation_id", req.CorrelationID()).
			Msgf("Processing %s failed: %s", kind, err.Error())
	}
	return nil
}

// await bridges the runtime's callback into a single result.
func (d *Dispatcher) await(ctx context.Context, lease *runtime.Lease, req protocol.Request, messages publisher.MessageClient) error {
	done := make(chan error, 1)
	var once sync.Once
	resolve := func(err error) {
		once.Do(func() { done <- err })
	}

	callback := func(f runtime.Future) {
		defer recoverInto(resolve)
		_, err := f.Await(ctx)
		resolve(err)
	}

	func() {
		defer recoverInto(resolve)
		if err := lease.Process(ctx, req, messages, callback); err != nil {
			resolve(err)
		}
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func recoverInto(resolve func(error)) {
	if r := recover(); r != nil {
		resolve(fmt.Errorf("panic: %v", r))
	}
}
