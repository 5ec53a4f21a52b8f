// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

package bpf

import (
	"fmt"

	"github.com/hostshaper-ebpf/internal/types"
)

// Hosts iterates map_traffic and sums each host's per-CPU counters.
func (m *Maps) Hosts(fn func(types.HostAddress, types.HostCounter)) error {
	var (
		key    types.HostAddress
		values []types.HostCounter
	)
	it := m.traffic.Iterate()
	for it.Next(&key, &values) {
		fn(key, sumCounters(values))
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", MapTraffic, err)
	}
	return nil
}

func sumCounters(values []types.HostCounter) types.HostCounter {
	var total types.HostCounter
	for _, v := range values {
		total.Add(v)
	}
	return total
}

// HasDiagnostics reports whether the diagnostics map is pinned.
func (m *Maps) HasDiagnostics() bool { return m.diagnostics != nil }

// Stats sums every diagnostic slot across CPUs.
func (m *Maps) Stats() ([types.NumStats]uint64, error) {
	var sums [types.NumStats]uint64
	if m.diagnostics == nil {
		return sums, fmt.Errorf("%s: %w", MapDiagnostics, ErrMapNotPinned)
	}
	var values []uint64
	for i := uint32(0); i < types.NumStats; i++ {
		if err := m.diagnostics.Lookup(&i, &values); err != nil {
			return sums, fmt.Errorf("lookup %s[%s]: %w", MapDiagnostics, types.StatNames[i], err)
		}
		for _, v := range values {
			sums[i] += v
		}
	}
	return sums, nil
}
