// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

package collector

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/hostshaper-ebpf/internal/types"
)

// Rate is a download/upload pair.
type Rate struct {
	Download uint64 `json:"download"`
	Upload   uint64 `json:"upload"`
}

// HostStats is one host's view in a Snapshot.
type HostStats struct {
	Address          string `json:"address"`
	Class            string `json:"class"`
	Bytes            Rate   `json:"bytes"`
	Packets          Rate   `json:"packets"`
	BitsPerSecond    Rate   `json:"bits_per_second"`
	PacketsPerSecond Rate   `json:"packets_per_second"`
}

// Delta is the traffic of one host since the previous tick.
type Delta struct {
	Host    types.HostAddress
	Counter types.HostCounter
}

type trackedHost struct {
	total     types.HostCounter
	bps       Rate // bytes per second
	pps       Rate
	firstTick uint64
	lastTick  uint64
}

// Tracker turns monotonic per-host totals into per-tick deltas and rates.
type Tracker struct {
	mu    sync.RWMutex
	tick  uint64
	last  time.Time
	hosts map[types.HostAddress]*trackedHost
	bps   Rate
	pps   Rate
}

func NewTracker() *Tracker {
	return &Tracker{hosts: make(map[types.HostAddress]*trackedHost)}
}

func since(cur, prev uint64) uint64 {
	if cur >= prev {
		return cur - prev
	}
	// counter reset, e.g. the map was recreated
	return cur
}

func perSecond(v uint64, elapsed time.Duration) uint64 {
	if elapsed <= 0 {
		return 0
	}
	return uint64(float64(v) * float64(time.Second) / float64(elapsed))
}

// Update records the totals read at now and returns the deltas since the
// previous call. Hosts missing from current are forgotten. Rates are only
// computed for hosts already present on the previous tick.
func (t *Tracker) Update(now time.Time, current map[types.HostAddress]types.HostCounter) []Delta {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tick++
	elapsed := time.Duration(0)
	if !t.last.IsZero() {
		elapsed = now.Sub(t.last)
	}
	t.last = now
	t.bps, t.pps = Rate{}, Rate{}

	deltas := make([]Delta, 0, len(current))
	for host, cur := range current {
		h, had := t.hosts[host]
		if !had {
			h = &trackedHost{firstTick: t.tick}
			t.hosts[host] = h
		}
		d := types.HostCounter{
			DownloadBytes:   since(cur.DownloadBytes, h.total.DownloadBytes),
			UploadBytes:     since(cur.UploadBytes, h.total.UploadBytes),
			DownloadPackets: since(cur.DownloadPackets, h.total.DownloadPackets),
			UploadPackets:   since(cur.UploadPackets, h.total.UploadPackets),
			TCHandle:        cur.TCHandle,
		}
		h.total = cur
		h.lastTick = t.tick
		if had {
			h.bps = Rate{perSecond(d.DownloadBytes, elapsed), perSecond(d.UploadBytes, elapsed)}
			h.pps = Rate{perSecond(d.DownloadPackets, elapsed), perSecond(d.UploadPackets, elapsed)}
			t.bps.Download += h.bps.Download
			t.bps.Upload += h.bps.Upload
			t.pps.Download += h.pps.Download
			t.pps.Upload += h.pps.Upload
		}
		deltas = append(deltas, Delta{Host: host, Counter: d})
	}
	for host, h := range t.hosts {
		if h.lastTick != t.tick {
			delete(t.hosts, host)
		}
	}
	return deltas
}

// BitsPerSecond returns the aggregate rate of the last tick.
func (t *Tracker) BitsPerSecond() Rate {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Rate{t.bps.Download * 8, t.bps.Upload * 8}
}

func (t *Tracker) PacketsPerSecond() Rate {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pps
}

// Len returns the number of tracked hosts.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.hosts)
}

// UnknownHosts returns hosts that have never carried a traffic-class handle.
func (t *Tracker) UnknownHosts() []HostStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []HostStats
	for host, h := range t.hosts {
		if h.total.TCHandle == 0 {
			out = append(out, h.stats(host))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bytes.Download > out[j].Bytes.Download })
	return out
}

// TopN returns the n hosts with the highest download rate.
func (t *Tracker) TopN(n int) []HostStats {
	t.mu.RLock()
	all := make([]HostStats, 0, len(t.hosts))
	for host, h := range t.hosts {
		all = append(all, h.stats(host))
	}
	t.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].BitsPerSecond.Download != all[j].BitsPerSecond.Download {
			return all[i].BitsPerSecond.Download > all[j].BitsPerSecond.Download
		}
		return all[i].Bytes.Download > all[j].Bytes.Download
	})
	if n >= 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

func (h *trackedHost) stats(host types.HostAddress) HostStats {
	return HostStats{
		Address:          host.String(),
		Class:            className(h.total.TCHandle),
		Bytes:            Rate{h.total.DownloadBytes, h.total.UploadBytes},
		Packets:          Rate{h.total.DownloadPackets, h.total.UploadPackets},
		BitsPerSecond:    Rate{h.bps.Download * 8, h.bps.Upload * 8},
		PacketsPerSecond: h.pps,
	}
}

func className(h types.TCHandle) string {
	if h == 0 {
		return "unclassified"
	}
	return h.String()
}

// classMajor labels h by its qdisc major only, as in "1:".
func classMajor(h types.TCHandle) string {
	if h == 0 {
		return "unclassified"
	}
	return strconv.FormatUint(uint64(h.Major()), 16) + ":"
}
