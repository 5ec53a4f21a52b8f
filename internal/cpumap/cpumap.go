// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

// Package cpumap holds the CPU availability and transmit-queue tables and
// the in-memory redirect primitive.
package cpumap

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/hostshaper-ebpf/internal/types"
)

var ErrCoreOutOfRange = errors.New("core out of range")

func checkCore(core uint32) error {
	if core >= types.MaxCPUs {
		return fmt.Errorf("%w: %d (max %d)", ErrCoreOutOfRange, core, types.MaxCPUs-1)
	}
	return nil
}

// Availability maps logical CPUs to physical cores. Slots store phys+1 so
// the zero value means unmapped.
type Availability struct {
	phys [types.MaxCPUs]atomic.Uint32
}

func NewAvailability() *Availability {
	return &Availability{}
}

// Physical returns the physical core for logical, if mapped.
func (a *Availability) Physical(logical uint32) (uint32, bool) {
	if logical >= types.MaxCPUs {
		return 0, false
	}
	v := a.phys[logical].Load()
	if v == 0 {
		return 0, false
	}
	return v - 1, true
}

func (a *Availability) Set(logical, physical uint32) error {
	if err := checkCore(logical); err != nil {
		return err
	}
	if err := checkCore(physical); err != nil {
		return err
	}
	a.phys[logical].Store(physical + 1)
	return nil
}

func (a *Availability) Unset(logical uint32) error {
	if err := checkCore(logical); err != nil {
		return err
	}
	a.phys[logical].Store(0)
	return nil
}

// MarkAvailable maps logical CPUs 0..n-1 to themselves.
func (a *Availability) MarkAvailable(n int) error {
	if n < 0 || n > types.MaxCPUs {
		return fmt.Errorf("%w: %d cpus", ErrCoreOutOfRange, n)
	}
	for i := 0; i < n; i++ {
		a.phys[i].Store(uint32(i) + 1)
	}
	return nil
}

// Range calls fn for every mapped logical CPU in order.
func (a *Availability) Range(fn func(logical, physical uint32) bool) {
	for i := range a.phys {
		if v := a.phys[i].Load(); v != 0 && !fn(uint32(i), v-1) {
			return
		}
	}
}

const queuePresent = 1 << 32

// QueueMap maps physical cores to transmit queue configuration.
type QueueMap struct {
	cfg [types.MaxCPUs]atomic.Uint64
}

func NewQueueMap() *QueueMap {
	return &QueueMap{}
}

// Queue returns the transmit queue configuration for core, if present.
func (q *QueueMap) Queue(core uint32) (types.TxqConfig, bool) {
	if core >= types.MaxCPUs {
		return types.TxqConfig{}, false
	}
	v := q.cfg[core].Load()
	if v&queuePresent == 0 {
		return types.TxqConfig{}, false
	}
	return types.TxqConfig{QueueMapping: uint16(v >> 16), HTBMajor: uint16(v)}, true
}

func (q *QueueMap) Set(core uint32, c types.TxqConfig) error {
	if err := checkCore(core); err != nil {
		return err
	}
	q.cfg[core].Store(queuePresent | uint64(c.QueueMapping)<<16 | uint64(c.HTBMajor))
	return nil
}

func (q *QueueMap) Delete(core uint32) error {
	if err := checkCore(core); err != nil {
		return err
	}
	q.cfg[core].Store(0)
	return nil
}

// MapIdentity gives cores 0..n-1 transmit queue core+1 and HTB major
// core+1, the layout produced when one HTB tree is built per queue.
func (q *QueueMap) MapIdentity(n int) error {
	if n < 0 || n > types.MaxCPUs {
		return fmt.Errorf("%w: %d cpus", ErrCoreOutOfRange, n)
	}
	for i := 0; i < n; i++ {
		if err := q.Set(uint32(i), types.TxqConfig{QueueMapping: uint16(i + 1), HTBMajor: uint16(i + 1)}); err != nil {
			return err
		}
	}
	return nil
}
