// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

package cpumap

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hostshaper-ebpf/internal/types"
)

// Queues is the in-memory redirect primitive: one bounded hand-off queue per
// physical core, each drained by its own worker.
type Queues[T any] struct {
	queues  []chan T
	handler func(core uint32, item T)
	wg      sync.WaitGroup
}

// NewQueues creates cores queues of size items. handler runs on the worker
// of the core the item was redirected to.
func NewQueues[T any](cores, size int, handler func(core uint32, item T)) *Queues[T] {
	if cores <= 0 {
		cores = 1
	}
	if size <= 0 {
		size = types.DefaultCPUQueueSize
	}
	q := &Queues[T]{queues: make([]chan T, cores), handler: handler}
	for i := range q.queues {
		q.queues[i] = make(chan T, size)
	}
	return q
}

// Redirect hands item to core without blocking. It reports false when core
// has no queue or its queue is full; the caller keeps ownership then.
func (q *Queues[T]) Redirect(core uint32, item T) bool {
	if int(core) >= len(q.queues) {
		return false
	}
	select {
	case q.queues[core] <- item:
		return true
	default:
		return false
	}
}

// Start launches one worker per core. Workers exit when ctx is done; items
// still queued at that point are discarded.
func (q *Queues[T]) Start(ctx context.Context) {
	for i := range q.queues {
		q.wg.Add(1)
		go q.worker(ctx, uint32(i))
	}
	slog.Debug("redirect workers started", "cores", len(q.queues), "queue_size", cap(q.queues[0]))
}

func (q *Queues[T]) worker(ctx context.Context, core uint32) {
	defer q.wg.Done()
	ch := q.queues[core]
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-ch:
			q.handler(core, item)
		}
	}
}

// Wait blocks until every worker has exited.
func (q *Queues[T]) Wait() {
	q.wg.Wait()
}

// Pending returns the number of items queued for core.
func (q *Queues[T]) Pending(core uint32) int {
	if int(core) >= len(q.queues) {
		return 0
	}
	return len(q.queues[core])
}
