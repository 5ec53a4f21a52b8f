// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

package egress

import (
	"testing"

	"github.com/hostshaper-ebpf/internal/cpumap"
	"github.com/hostshaper-ebpf/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	q := cpumap.NewQueueMap()
	require.NoError(t, q.Set(1, types.TxqConfig{QueueMapping: 4, HTBMajor: 4}))
	require.NoError(t, q.Set(2, types.TxqConfig{}))
	handle := types.NewTCHandle(1, 0x20)

	tests := []struct {
		name    string
		handle  types.TCHandle
		core    uint32
		require bool
		want    Decision
	}{
		{"handle and queue", handle, 1, false, Decision{Priority: uint32(handle), SetPriority: true, QueueMapping: 4, SetQueue: true}},
		{"no handle keeps priority", 0, 1, false, Decision{QueueMapping: 4, SetQueue: true}},
		{"zero queue left alone", handle, 2, false, Decision{Priority: uint32(handle), SetPriority: true}},
		{"missing mapping", handle, 3, false, Decision{Priority: uint32(handle), SetPriority: true, QueueUnmapped: true}},
		{"missing mapping required", 0, 3, true, Decision{QueueUnmapped: true, Block: true}},
		{"required but present", 0, 1, true, Decision{QueueMapping: 4, SetQueue: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.handle, tt.core, q, tt.require))
		})
	}
}

func TestClassifyAllocationFree(t *testing.T) {
	q := cpumap.NewQueueMap()
	require.NoError(t, q.Set(0, types.TxqConfig{QueueMapping: 1}))
	allocs := testing.AllocsPerRun(100, func() {
		_ = Classify(7, 0, q, false)
	})
	assert.Zero(t, allocs)
}
