// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package runtime

import (
	"context"
	"sync"

	"github.com/noldarim/goalbridge/internal/protocol"
	"github.com/stretchr/testify/mock"
	"go.temporal.io/sdk/client"
)

// MockWorkflowClient implements WorkflowClient for testing.
type MockWorkflowClient struct {
	mock.Mock
}

func (m *MockWorkflowClient) ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error) {
	callArgs := m.Called(ctx, options, workflow, args)
	if callArgs.Get(0) == nil {
		return nil, callArgs.Error(1)
	}
	return callArgs.Get(0).(client.WorkflowRun), callArgs.Error(1)
}

func (m *MockWorkflowClient) Close() {
	m.Called()
}

// MockWorkflowRun implements client.WorkflowRun for testing.
type MockWorkflowRun struct {
	mock.Mock
}

func (m *MockWorkflowRun) GetID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockWorkflowRun) GetRunID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockWorkflowRun) Get(ctx context.Context, valuePtr interface{}) error {
	args := m.Called(ctx, valuePtr)
	return args.Error(0)
}

func (m *MockWorkflowRun) GetWithOptions(ctx context.Context, valuePtr interface{}, options client.WorkflowRunGetOptions) error {
	args := m.Called(ctx, valuePtr, options)
	return args.Error(0)
}

// MockMessageClient implements publisher.MessageClient for testing.
type MockMessageClient struct {
	mock.Mock
}

func (m *MockMessageClient) Publish(ctx context.Context, message interface{}, destinations ...protocol.Destination) error {
	args := m.Called(ctx, message, destinations)
	return args.Error(0)
}

func (m *MockMessageClient) SendStatus(ctx context.Context, status protocol.Status) error {
	args := m.Called(ctx, status)
	return args.Error(0)
}

// stubRuntime records what it was asked to process and resolves immediately.
type stubRuntime struct {
	mu          sync.Mutex
	invocations []Invocation
	closed      bool
}

func (s *stubRuntime) ProcessCommand(_ context.Context, _ *protocol.CommandInvocation, inv Invocation, cb Callback) {
	s.record(inv)
	cb(failedFuture{})
}

func (s *stubRuntime) ProcessEvent(_ context.Context, _ *protocol.EventInvocation, inv Invocation, cb Callback) {
	s.record(inv)
	cb(failedFuture{})
}

func (s *stubRuntime) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *stubRuntime) record(inv Invocation) {
	s.mu.Lock()
	s.invocations = append(s.invocations, inv)
	s.mu.Unlock()
}
