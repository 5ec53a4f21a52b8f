// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

package bpf

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/cilium/ebpf"
	"github.com/hostshaper-ebpf/internal/types"
)

// Physical returns the physical core cpus_available maps logical to.
func (m *Maps) Physical(logical uint32) (uint32, bool) {
	if m.cpusAvailable == nil || logical >= types.MaxCPUs {
		return 0, false
	}
	var phys uint32
	if err := m.cpusAvailable.Lookup(&logical, &phys); err != nil {
		return 0, false
	}
	if phys == types.CPUUnmapped {
		return 0, false
	}
	return phys, true
}

// MarkAvailable maps logical CPUs 0..n-1 to themselves and gives each cpumap
// entry queueSize slots. Entries from n up to the array size are reset to
// unmapped.
func (m *Maps) MarkAvailable(n int, queueSize uint32) error {
	if m.cpusAvailable == nil {
		return fmt.Errorf("%s: %w", MapCPUsAvailable, ErrMapNotPinned)
	}
	limit := int(m.cpusAvailable.MaxEntries())
	if n < 0 || n > limit {
		return fmt.Errorf("%d cpus outside 0..%d", n, limit)
	}
	if queueSize == 0 {
		queueSize = types.DefaultCPUQueueSize
	}
	for i := uint32(0); i < uint32(limit); i++ {
		var phys uint32 = types.CPUUnmapped
		if i < uint32(n) {
			phys = i
		}
		if err := m.cpusAvailable.Update(&i, &phys, ebpf.UpdateAny); err != nil {
			return fmt.Errorf("set cpus_available[%d]: %w", i, err)
		}
		if m.cpuMap == nil || i >= uint32(n) {
			continue
		}
		if err := m.cpuMap.Update(&i, &queueSize, ebpf.UpdateAny); err != nil {
			return fmt.Errorf("set cpu_map[%d]: %w", i, err)
		}
	}
	slog.Info("cpus marked available", "cpus", n, "queue_size", queueSize)
	return nil
}

// Queue returns the transmit queue configured for core. A zero entry is
// reported as present.
func (m *Maps) Queue(core uint32) (types.TxqConfig, bool) {
	if m.txq == nil {
		return types.TxqConfig{}, false
	}
	var q types.TxqConfig
	if err := m.txq.Lookup(&core, &q); err != nil {
		return types.TxqConfig{}, false
	}
	return q, true
}

func (m *Maps) SetQueue(core uint32, q types.TxqConfig) error {
	if m.txq == nil {
		return fmt.Errorf("%s: %w", MapTxqConfig, ErrMapNotPinned)
	}
	if err := m.txq.Update(&core, &q, ebpf.UpdateAny); err != nil {
		if errors.Is(err, ebpf.ErrKeyNotExist) {
			return fmt.Errorf("core %d outside %s", core, MapTxqConfig)
		}
		return fmt.Errorf("set %s[%d]: %w", MapTxqConfig, core, err)
	}
	return nil
}
