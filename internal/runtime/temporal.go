// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/noldarim/goalbridge/internal/logger"
	"github.com/noldarim/goalbridge/internal/protocol"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// WorkflowClient is the part of the Temporal client the runtime uses.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	Close()
}

// HandlerInput is the workflow argument of every handler execution.
type HandlerInput struct {
	Kind          string          `json:"kind"`
	Name          string          `json:"name"`
	CorrelationID string          `json:"correlation_id"`
	WorkspaceID   string          `json:"workspace_id"`
	APIKey        string          `json:"api_key"`
	Payload       json.RawMessage `json:"payload"`
	Runtime       string          `json:"runtime"`
	Version       string          `json:"version"`
}

// TemporalRuntime runs each command or event as a workflow named after the
// command or operation. The workflow result is a protocol.HandlerResult.
type TemporalRuntime struct {
	client   WorkflowClient
	settings *Settings
}

// NewTemporalFactory returns a Factory that dials Temporal on cold start.
func NewTemporalFactory() Factory {
	return func(ctx context.Context, settings *Settings) (Runtime, error) {
		c, err := client.DialContext(ctx, client.Options{
			HostPort:  settings.Temporal.HostPort,
			Namespace: settings.Temporal.Namespace,
			Logger:    logger.GetTemporalLogAdapter(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Temporal client: %w", err)
		}

		getLog().Info().Msgf("Connected to Temporal at %s, namespace: %s",
			settings.Temporal.HostPort, settings.Temporal.Namespace)

		return NewTemporalRuntime(c, settings), nil
	}
}

// NewTemporalRuntime wraps an existing workflow client.
func NewTemporalRuntime(c WorkflowClient, settings *Settings) *TemporalRuntime {
	return &TemporalRuntime{client: c, settings: settings}
}

func (r *TemporalRuntime) ProcessCommand(ctx context.Context, cmd *protocol.CommandInvocation, inv Invocation, cb Callback) {
	run, err := r.start(ctx, protocol.KindCommand, cmd.Command, cmd.Correlation, cmd.Raw, inv)
	if err != nil {
		cb(failedFuture{err: err})
		return
	}
	cb(&workflowFuture{run: run, inv: inv, kind: protocol.KindCommand})
}

func (r *TemporalRuntime) ProcessEvent(ctx context.Context, evt *protocol.EventInvocation, inv Invocation, cb Callback) {
	run, err := r.start(ctx, protocol.KindEvent, evt.Extensions.OperationName, evt.Extensions.CorrelationID, evt.Raw, inv)
	if err != nil {
		cb(failedFuture{err: err})
		return
	}
	cb(&workflowFuture{run: run, inv: inv, kind: protocol.KindEvent})
}

func (r *TemporalRuntime) start(ctx context.Context, kind protocol.Kind, name, correlationID string, payload json.RawMessage, inv Invocation) (client.WorkflowRun, error) {
	if name == "" {
		return nil, fmt.Errorf("%s has no handler name", kind)
	}

	options := client.StartWorkflowOptions{
		ID:                       fmt.Sprintf("%s-%s-%s", kind, name, correlationID),
		TaskQueue:                r.settings.Temporal.TaskQueue,
		WorkflowExecutionTimeout: r.settings.SDM.Goal.Timeout,
		WorkflowIDReusePolicy:    enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
		Memo: map[string]interface{}{
			"workspace_id": inv.WorkspaceID,
		},
	}

	input := HandlerInput{
		Kind:          kind.String(),
		Name:          name,
		CorrelationID: correlationID,
		WorkspaceID:   inv.WorkspaceID,
		APIKey:        inv.Credentials.APIKey,
		Payload:       payload,
		Runtime:       r.settings.Name,
		Version:       r.settings.Version,
	}

	run, err := r.client.ExecuteWorkflow(ctx, options, name, input)
	if err != nil {
		return nil, fmt.Errorf("failed to start workflow %s: %w", name, err)
	}

	logger.Ctx(ctx, getLog()).Debug().
		Str("workflow_id", run.GetID()).
		Str("run_id", run.GetRunID()).
		Msgf("Started %s handler %s", kind, name)
	return run, nil
}

func (r *TemporalRuntime) Close() error {
	r.client.Close()
	return nil
}

type failedFuture struct {
	err error
}

func (f failedFuture) Await(context.Context) (*protocol.HandlerResult, error) {
	return nil, f.err
}

// workflowFuture waits for the workflow result and publishes the messages the
// handler produced. Commands also get a status response.
type workflowFuture struct {
	run  client.WorkflowRun
	inv  Invocation
	kind protocol.Kind
}

func (f *workflowFuture) Await(ctx context.Context) (*protocol.HandlerResult, error) {
	var result protocol.HandlerResult
	if err := f.run.Get(ctx, &result); err != nil {
		if f.kind == protocol.KindCommand {
			f.sendStatus(ctx, protocol.Status{Code: 1, Reason: err.Error()})
		}
		return nil, err
	}

	for _, m := range result.Messages {
		if err := f.inv.Messages.Publish(ctx, m, m.Destinations...); err != nil {
			return &result, err
		}
	}

	if f.kind == protocol.KindCommand {
		f.sendStatus(ctx, protocol.Status{Code: result.Code, Reason: result.Message})
	}

	if result.Code != 0 {
		return &result, fmt.Errorf("handler returned code %d: %s", result.Code, result.Message)
	}
	return &result, nil
}

func (f *workflowFuture) sendStatus(ctx context.Context, status protocol.Status) {
	if err := f.inv.Messages.SendStatus(ctx, status); err != nil {
		logger.Ctx(ctx, getLog()).Warn().Err(err).Msg("Failed to send status response")
	}
}
