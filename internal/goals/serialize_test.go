// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package goals

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	k := NewKeyedMutex()
	var active, maxActive atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(context.Background(), "gs-1/build")
			if err != nil {
				return
			}
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Empty(t, k.locks, "idle keys are released")
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	k := NewKeyedMutex()
	unlockA, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := k.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
	unlockB()
}

func TestKeyedMutexContextCancel(t *testing.T) {
	k := NewKeyedMutex()
	unlock, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.Empty(t, k.locks)
}

func TestMemoryHistory(t *testing.T) {
	h := NewMemoryHistory(10, time.Hour)
	ctx := context.Background()

	_, ok, err := h.LastState(ctx, "b-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, h.RecordState(ctx, "b-1", "gs-1/build", StateSuccess))
	state, ok, err := h.LastState(ctx, "b-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StateSuccess, state)
}

func TestMemoryHistoryIsBounded(t *testing.T) {
	ctx := context.Background()

	t.Run("size", func(t *testing.T) {
		h := NewMemoryHistory(2, 0)
		for _, id := range []string{"b-1", "b-2", "b-3"} {
			require.NoError(t, h.RecordState(ctx, id, "gs-1/build", StateInProcess))
		}

		assert.Equal(t, 2, h.Len())
		_, ok, _ := h.LastState(ctx, "b-1")
		assert.False(t, ok, "oldest build is forgotten")
		_, ok, _ = h.LastState(ctx, "b-3")
		assert.True(t, ok)
	})

	t.Run("ttl", func(t *testing.T) {
		h := NewMemoryHistory(0, 20*time.Millisecond)
		require.NoError(t, h.RecordState(ctx, "b-1", "gs-1/build", StateSuccess))

		assert.Eventually(t, func() bool {
			_, ok, _ := h.LastState(ctx, "b-1")
			return !ok
		}, time.Second, 5*time.Millisecond)
	})
}
