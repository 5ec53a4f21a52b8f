// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

// Package accounting keeps per-host traffic counters sharded by core.
//
// Each shard is a fixed-capacity open-addressing table written only by the
// core that owns it. Counters are monotonic and never cleared; readers
// aggregate across shards.
package accounting

import (
	"encoding/binary"
	"math/bits"
	"sync/atomic"

	"github.com/hostshaper-ebpf/internal/types"
)

type slot struct {
	used atomic.Bool // set once, after key is written
	key  types.HostAddress

	downBytes   atomic.Uint64
	upBytes     atomic.Uint64
	downPackets atomic.Uint64
	upPackets   atomic.Uint64
	handle      atomic.Uint32
}

// shard fields are written by one core. The atomics give concurrent readers
// a well-defined view; the writer never contends with another writer.
type shard struct {
	slots []slot
	mask  uint64
	n     atomic.Int64
}

// Accountant is the in-memory traffic accountant.
type Accountant struct {
	shards   []*shard
	capacity int
}

// New allocates cores shards of capacity hosts each. capacity <= 0 selects
// types.MaxTrackedHosts.
func New(cores, capacity int) *Accountant {
	if cores <= 0 {
		cores = 1
	}
	if capacity <= 0 {
		capacity = types.MaxTrackedHosts
	}
	// keep the load factor at or below 0.8 so lookups stay short
	size := uint64(1) << bits.Len64(uint64(capacity+capacity/4))
	a := &Accountant{shards: make([]*shard, cores), capacity: capacity}
	for i := range a.shards {
		a.shards[i] = &shard{slots: make([]slot, size), mask: size - 1}
	}
	return a
}

// Cores returns the number of shards.
func (a *Accountant) Cores() int { return len(a.shards) }

// Capacity returns the per-shard host limit.
func (a *Accountant) Capacity() int { return a.capacity }

func hash(h *types.HostAddress) uint64 {
	x := binary.LittleEndian.Uint64(h[:8]) ^ bits.RotateLeft64(binary.LittleEndian.Uint64(h[8:]), 29)
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// Record adds one packet of length bytes for host in direction dir to the
// shard of core. A non-zero handle replaces the host's stored handle.
// It reports false when the host could not be tracked: the shard is full,
// core has no shard, or dir is neither download nor upload.
func (a *Accountant) Record(core uint32, host types.HostAddress, dir types.Direction, length uint64, handle types.TCHandle) bool {
	if int(core) >= len(a.shards) {
		return false
	}
	if dir != types.DirectionDownload && dir != types.DirectionUpload {
		return false
	}
	s := a.shards[core]
	sl := s.find(&host, a.capacity)
	if sl == nil {
		return false
	}
	if dir == types.DirectionDownload {
		sl.downBytes.Store(sl.downBytes.Load() + length)
		sl.downPackets.Store(sl.downPackets.Load() + 1)
	} else {
		sl.upBytes.Store(sl.upBytes.Load() + length)
		sl.upPackets.Store(sl.upPackets.Load() + 1)
	}
	if handle != 0 {
		sl.handle.Store(uint32(handle))
	}
	return true
}

// find returns the slot for host, claiming a free one when host is new and
// the shard has room. Probing terminates because at least one slot is
// always empty.
func (s *shard) find(host *types.HostAddress, capacity int) *slot {
	i := hash(host) & s.mask
	for step := uint64(0); step <= s.mask; step++ {
		sl := &s.slots[(i+step)&s.mask]
		if !sl.used.Load() {
			if int(s.n.Load()) >= capacity {
				return nil
			}
			sl.key = *host
			sl.used.Store(true)
			s.n.Store(s.n.Load() + 1)
			return sl
		}
		if sl.key == *host {
			return sl
		}
	}
	return nil
}

func (sl *slot) counter() types.HostCounter {
	return types.HostCounter{
		DownloadBytes:   sl.downBytes.Load(),
		UploadBytes:     sl.upBytes.Load(),
		DownloadPackets: sl.downPackets.Load(),
		UploadPackets:   sl.upPackets.Load(),
		TCHandle:        types.TCHandle(sl.handle.Load()),
	}
}

// Len returns the number of hosts tracked by core.
func (a *Accountant) Len(core int) int {
	if core < 0 || core >= len(a.shards) {
		return 0
	}
	return int(a.shards[core].n.Load())
}

// RangeShard calls fn for every host tracked by core until fn returns false.
func (a *Accountant) RangeShard(core int, fn func(types.HostAddress, types.HostCounter) bool) {
	if core < 0 || core >= len(a.shards) {
		return
	}
	s := a.shards[core]
	for i := range s.slots {
		sl := &s.slots[i]
		if !sl.used.Load() {
			continue
		}
		if !fn(sl.key, sl.counter()) {
			return
		}
	}
}

// Host sums the counters for host across all shards.
func (a *Accountant) Host(host types.HostAddress) (types.HostCounter, bool) {
	var (
		total types.HostCounter
		found bool
	)
	for _, s := range a.shards {
		i := hash(&host) & s.mask
		for step := uint64(0); step <= s.mask; step++ {
			sl := &s.slots[(i+step)&s.mask]
			if !sl.used.Load() {
				break
			}
			if sl.key == host {
				total.Add(sl.counter())
				found = true
				break
			}
		}
	}
	return total, found
}

// Hosts calls fn once per tracked host with its counters summed across
// shards.
func (a *Accountant) Hosts(fn func(types.HostAddress, types.HostCounter)) error {
	totals := make(map[types.HostAddress]types.HostCounter)
	for core := range a.shards {
		a.RangeShard(core, func(h types.HostAddress, c types.HostCounter) bool {
			t := totals[h]
			t.Add(c)
			totals[h] = t
			return true
		})
	}
	for h, c := range totals {
		fn(h, c)
	}
	return nil
}
