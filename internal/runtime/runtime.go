// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package runtime owns the automation runtime that executes command and event
// handlers.
//
// A Manager builds the runtime on first use (cold start) and hands the same
// Instance to every later invocation (warm reuse). An Instance processes one
// request at a time: Acquire returns a Lease holding the instance until
// Release, and the lease carries the credentials of its own request so a
// later overwrite cannot leak into in-flight processing.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/noldarim/goalbridge/internal/logger"
	"github.com/noldarim/goalbridge/internal/protocol"
	"github.com/noldarim/goalbridge/internal/publisher"
	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetRuntimeLogger()
		log = &l
	})
	return log
}

// ErrAcquire wraps cold-start failures. These fail the invocation.
var ErrAcquire = errors.New("failed to acquire automation runtime")

// Credentials are the request-scoped credentials handed to the runtime.
type Credentials struct {
	APIKey string
}

// Invocation is everything the runtime needs besides the request itself.
type Invocation struct {
	Credentials Credentials
	WorkspaceID string
	Messages    publisher.MessageClient
}

// Future resolves to the result of one handler invocation.
type Future interface {
	Await(ctx context.Context) (*protocol.HandlerResult, error)
}

// Callback receives the future of a processing call.
type Callback func(Future)

// Runtime is the automation runtime's processing surface. Processing calls
// return immediately and report through cb exactly once.
type Runtime interface {
	ProcessCommand(ctx context.Context, cmd *protocol.CommandInvocation, inv Invocation, cb Callback)
	ProcessEvent(ctx context.Context, evt *protocol.EventInvocation, inv Invocation, cb Callback)
	Close() error
}

// Factory constructs a runtime from cold-start settings.
type Factory func(ctx context.Context, settings *Settings) (Runtime, error)

// SettingsLoader builds cold-start settings for a workspace.
type SettingsLoader func(workspaceID, apiKey string) (*Settings, error)

// Instance is the process-wide runtime plus its mutable credentials.
type Instance struct {
	runtime   Runtime
	settings  *Settings
	listeners []Listener

	flight chan struct{} // one slot, held by the active Lease

	mu     sync.RWMutex
	apiKey string
}

func newInstance(rt Runtime, settings *Settings, listeners []Listener) *Instance {
	return &Instance{
		runtime:   rt,
		settings:  settings,
		listeners: listeners,
		flight:    make(chan struct{}, 1),
		apiKey:    settings.APIKey,
	}
}

// APIKey returns the credentials most recently written to the instance.
func (i *Instance) APIKey() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.apiKey
}

func (i *Instance) setAPIKey(key string) {
	i.mu.Lock()
	i.apiKey = key
	i.mu.Unlock()
}

// Settings returns the cold-start settings the instance was built with.
func (i *Instance) Settings() *Settings {
	return i.settings
}

// Listeners returns the active listeners.
func (i *Instance) Listeners() []Listener {
	return i.listeners
}

// trimListeners keeps only the first n listeners.
func (i *Instance) trimListeners(n int) {
	if len(i.listeners) > n {
		i.listeners = i.listeners[:n]
	}
}

// Manager creates the runtime once and reuses it afterwards.
type Manager struct {
	mu        sync.Mutex
	instance  *Instance
	factory   Factory
	load      SettingsLoader
	listeners []Listener
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithListeners adds process-level listeners. They are attached after the
// default set is trimmed.
func WithListeners(listeners ...Listener) ManagerOption {
	return func(m *Manager) { m.listeners = append(m.listeners, listeners...) }
}

// NewManager creates a manager with no runtime yet.
func NewManager(factory Factory, load SettingsLoader, opts ...ManagerOption) *Manager {
	m := &Manager{factory: factory, load: load}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire returns a lease on the runtime, building it on first use. It
// blocks while another lease on the instance is active, or until ctx is done.
func (m *Manager) Acquire(ctx context.Context, workspaceID, apiKey string) (*Lease, error) {
	inst, err := m.instanceFor(ctx, workspaceID, apiKey)
	if err != nil {
		return nil, err
	}

	select {
	case inst.flight <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for automation runtime: %w", ctx.Err())
	}
	inst.setAPIKey(apiKey)

	return &Lease{
		instance:    inst,
		workspaceID: workspaceID,
		credentials: Credentials{APIKey: apiKey},
	}, nil
}

func (m *Manager) instanceFor(ctx context.Context, workspaceID, apiKey string) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.instance != nil {
		logger.Ctx(ctx, getLog()).Info().Msg("Re-using hot automation client")
		return m.instance, nil
	}

	logger.Ctx(ctx, getLog()).Info().Str("workspace_id", workspaceID).Msg("Starting new cold automation client")

	settings, err := m.load(workspaceID, apiKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAcquire, err)
	}

	rt, err := m.factory(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAcquire, err)
	}

	inst := newInstance(rt, settings, DefaultListeners())
	inst.trimListeners(1)
	inst.listeners = append(inst.listeners, m.listeners...)
	m.instance = inst

	return inst, nil
}

// Instance returns the current instance, or nil before the first Acquire.
func (m *Manager) Instance() *Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instance
}

// Close shuts the runtime down if it was started.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.instance == nil {
		return nil
	}
	err := m.instance.runtime.Close()
	m.instance = nil
	return err
}

// Lease grants exclusive use of an Instance for one request.
type Lease struct {
	instance    *Instance
	workspaceID string
	credentials Credentials
	release     sync.Once
}

// Instance returns the leased instance.
func (l *Lease) Instance() *Instance {
	return l.instance
}

// Credentials returns the credentials captured when the lease was acquired.
func (l *Lease) Credentials() Credentials {
	return l.credentials
}

// Process hands req to the runtime. Requests other than commands and events
// are rejected.
func (l *Lease) Process(ctx context.Context, req protocol.Request, messages publisher.MessageClient, cb Callback) error {
	inv := Invocation{
		Credentials: l.credentials,
		WorkspaceID: l.workspaceID,
		Messages:    messages,
	}

	for _, listener := range l.instance.listeners {
		listener.InvocationStarting(ctx, req)
	}

	switch r := req.(type) {
	case *protocol.CommandInvocation:
		l.instance.runtime.ProcessCommand(ctx, r, inv, cb)
	case *protocol.EventInvocation:
		l.instance.runtime.ProcessEvent(ctx, r, inv, cb)
	default:
		return fmt.Errorf("runtime cannot process %s requests", req.Kind())
	}
	return nil
}

// Complete notifies listeners that req finished with err.
func (l *Lease) Complete(ctx context.Context, req protocol.Request, err error) {
	for _, listener := range l.instance.listeners {
		listener.InvocationCompleted(ctx, req, err)
	}
}

// Release frees the instance for the next request. Safe to call more than once.
func (l *Lease) Release() {
	l.release.Do(func() { <-l.instance.flight })
}
