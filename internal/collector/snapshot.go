// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

package collector

import (
	"time"

	"github.com/hostshaper-ebpf/internal/types"
)

// Snapshot is the aggregate view served at /hosts and printed by the CLI.
type Snapshot struct {
	Time             string            `json:"time,omitempty"`
	Hosts            int               `json:"hosts"`
	UnknownHosts     int               `json:"unknown_hosts"`
	BitsPerSecond    Rate              `json:"bits_per_second"`
	PacketsPerSecond Rate              `json:"packets_per_second"`
	Top              []HostStats       `json:"top"`
	Diagnostics      map[string]uint64 `json:"diagnostics,omitempty"`
}

// Snapshot reports the state after the last Poll.
func (c *Collector) Snapshot() Snapshot {
	s := BuildSnapshot(c.tracker, c.cfg.TopN)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.lastPoll.IsZero() {
		s.Time = c.lastPoll.UTC().Format(time.RFC3339)
	}
	if c.stats != nil {
		s.Diagnostics = DiagnosticsMap(c.prevStats)
	}
	return s
}

// BuildSnapshot summarizes t without diagnostics.
func BuildSnapshot(t *Tracker, topN int) Snapshot {
	return Snapshot{
		Hosts:            t.Len(),
		UnknownHosts:     len(t.UnknownHosts()),
		BitsPerSecond:    t.BitsPerSecond(),
		PacketsPerSecond: t.PacketsPerSecond(),
		Top:              t.TopN(topN),
	}
}

// DiagnosticsMap labels diagnostic slots by name.
func DiagnosticsMap(stats [types.NumStats]uint64) map[string]uint64 {
	m := make(map[string]uint64, types.NumStats)
	for i, v := range stats {
		m[types.StatNames[i]] = v
	}
	return m
}
