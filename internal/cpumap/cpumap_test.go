// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

package cpumap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hostshaper-ebpf/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvailability(t *testing.T) {
	a := NewAvailability()

	_, ok := a.Physical(3)
	assert.False(t, ok, "absence is valid")

	require.NoError(t, a.Set(3, 7))
	p, ok := a.Physical(3)
	require.True(t, ok)
	assert.Equal(t, uint32(7), p)

	require.NoError(t, a.Set(4, 0))
	p, ok = a.Physical(4)
	require.True(t, ok, "physical core 0 is a valid mapping")
	assert.Zero(t, p)

	require.NoError(t, a.Unset(3))
	_, ok = a.Physical(3)
	assert.False(t, ok)

	_, ok = a.Physical(types.MaxCPUs + 5)
	assert.False(t, ok)
	assert.ErrorIs(t, a.Set(types.MaxCPUs, 0), ErrCoreOutOfRange)
	assert.ErrorIs(t, a.Set(0, types.MaxCPUs), ErrCoreOutOfRange)
}

func TestMarkAvailable(t *testing.T) {
	a := NewAvailability()
	require.NoError(t, a.MarkAvailable(4))

	var got [][2]uint32
	a.Range(func(l, p uint32) bool {
		got = append(got, [2]uint32{l, p})
		return true
	})
	assert.Equal(t, [][2]uint32{{0, 0}, {1, 1}, {2, 2}, {3, 3}}, got)
	assert.ErrorIs(t, a.MarkAvailable(types.MaxCPUs+1), ErrCoreOutOfRange)
}

func TestQueueMap(t *testing.T) {
	q := NewQueueMap()
	_, ok := q.Queue(2)
	assert.False(t, ok)

	require.NoError(t, q.Set(2, types.TxqConfig{QueueMapping: 3, HTBMajor: 0x13}))
	c, ok := q.Queue(2)
	require.True(t, ok)
	assert.Equal(t, types.TxqConfig{QueueMapping: 3, HTBMajor: 0x13}, c)

	require.NoError(t, q.Set(5, types.TxqConfig{}))
	c, ok = q.Queue(5)
	assert.True(t, ok, "present with zero queue")
	assert.Zero(t, c.QueueMapping)

	require.NoError(t, q.Delete(2))
	_, ok = q.Queue(2)
	assert.False(t, ok)
	assert.ErrorIs(t, q.Delete(types.MaxCPUs), ErrCoreOutOfRange)
}

func TestMapIdentity(t *testing.T) {
	q := NewQueueMap()
	require.NoError(t, q.MapIdentity(2))
	c, ok := q.Queue(1)
	require.True(t, ok)
	assert.Equal(t, uint16(2), c.QueueMapping)
	_, ok = q.Queue(2)
	assert.False(t, ok)
}

func TestQueuesDeliverToOwningCore(t *testing.T) {
	var (
		mu  sync.Mutex
		got = map[uint32][]int{}
		wg  sync.WaitGroup
	)
	q := NewQueues(2, 8, func(core uint32, item int) {
		mu.Lock()
		got[core] = append(got[core], item)
		mu.Unlock()
		wg.Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	wg.Add(3)
	assert.True(t, q.Redirect(0, 1))
	assert.True(t, q.Redirect(1, 2))
	assert.True(t, q.Redirect(1, 3))
	wg.Wait()

	mu.Lock()
	assert.Equal(t, []int{1}, got[0])
	assert.Equal(t, []int{2, 3}, got[1])
	mu.Unlock()

	cancel()
	q.Wait()
}

func TestRedirectFailsWhenFullOrUnknown(t *testing.T) {
	q := NewQueues(1, 2, func(uint32, int) {})
	// workers not started, so the queue only fills
	assert.True(t, q.Redirect(0, 1))
	assert.True(t, q.Redirect(0, 2))
	assert.False(t, q.Redirect(0, 3))
	assert.Equal(t, 2, q.Pending(0))
	assert.False(t, q.Redirect(4, 1))
}

func TestWorkersStopOnCancel(t *testing.T) {
	q := NewQueues(3, 4, func(uint32, int) {})
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		q.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestLookupsAllocationFree(t *testing.T) {
	a := NewAvailability()
	q := NewQueueMap()
	require.NoError(t, a.Set(1, 1))
	require.NoError(t, q.Set(1, types.TxqConfig{QueueMapping: 2}))
	r := NewQueues(2, 4, func(uint32, *int) {})
	item := new(int)

	allocs := testing.AllocsPerRun(100, func() {
		_, _ = a.Physical(1)
		_, _ = q.Queue(1)
		if r.Redirect(0, item) {
			<-r.queues[0]
		}
	})
	assert.Zero(t, allocs)
}
