// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

// Package egress decides the outgoing classification and transmit queue of
// a packet leaving through the egress hook.
package egress

import "github.com/hostshaper-ebpf/internal/types"

// QueueLookup resolves the transmit queue configuration of a core.
type QueueLookup interface {
	Queue(core uint32) (types.TxqConfig, bool)
}

// Decision is what the egress hook should apply to the packet.
type Decision struct {
	Priority    uint32
	SetPriority bool

	QueueMapping uint16
	SetQueue     bool

	// QueueUnmapped is set when core has no queue mapping entry.
	QueueUnmapped bool
	// Block is set when the entry is missing and a mapping is required.
	Block bool
}

// Classify builds the egress decision for a packet with the given handle
// processed on core. A zero handle leaves the priority untouched; a present
// but zero queue leaves the queue untouched.
func Classify(handle types.TCHandle, core uint32, queues QueueLookup, requireMapping bool) Decision {
	var d Decision
	if handle != 0 {
		d.Priority, d.SetPriority = uint32(handle), true
	}
	cfg, ok := queues.Queue(core)
	switch {
	case !ok:
		d.QueueUnmapped = true
		d.Block = requireMapping
	case cfg.QueueMapping != 0:
		d.QueueMapping, d.SetQueue = cfg.QueueMapping, true
	}
	return d
}
