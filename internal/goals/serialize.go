// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package goals

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Locker serializes work on one goal.
type Locker interface {
	// Lock blocks until key is free or ctx is done. The returned func
	// releases the lock.
	Lock(ctx context.Context, key string) (func(), error)
}

// KeyedMutex is an in-process Locker.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			k.release(key, l)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// History remembers the last state applied per build.
type History interface {
	LastState(ctx context.Context, buildID string) (State, bool, error)
	RecordState(ctx context.Context, buildID, goalKey string, state State) error
}

// Defaults for the in-process history of a long-running process.
const (
	DefaultHistorySize = 10000
	DefaultHistoryTTL  = 24 * time.Hour
)

// MemoryHistory is an in-process History. It forgets builds once size newer
// builds were recorded or ttl passed since their last update.
type MemoryHistory struct {
	states *expirable.LRU[string, State]
}

// NewMemoryHistory creates an empty MemoryHistory. A zero size or ttl
// disables that bound.
func NewMemoryHistory(size int, ttl time.Duration) *MemoryHistory {
	return &MemoryHistory{states: expirable.NewLRU[string, State](size, nil, ttl)}
}

func (h *MemoryHistory) LastState(_ context.Context, buildID string) (State, bool, error) {
	s, ok := h.states.Get(buildID)
	return s, ok, nil
}

func (h *MemoryHistory) RecordState(_ context.Context, buildID, _ string, state State) error {
	h.states.Add(buildID, state)
	return nil
}

// Len returns the number of builds remembered.
func (h *MemoryHistory) Len() int {
	return h.states.Len()
}
