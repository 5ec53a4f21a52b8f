// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

package replay

import (
	"bytes"
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/hostshaper-ebpf/internal/direction"
	"github.com/hostshaper-ebpf/internal/pipeline"
	"github.com/hostshaper-ebpf/internal/route"
	"github.com/hostshaper-ebpf/internal/testutil"
	"github.com/hostshaper-ebpf/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var internetFacing = pipeline.Config{Direction: direction.Config{Role: types.RoleInternet}}

func frames() [][]byte {
	return [][]byte{
		testutil.Build(testutil.Frame{Src: "198.51.100.9", Dst: "203.0.113.5", Len: 1500}),
		testutil.Build(testutil.Frame{Src: "198.51.100.9", Dst: "203.0.113.5", Len: 1500}),
		testutil.Build(testutil.Frame{Src: "198.51.100.9", Dst: "198.51.100.77", Len: 100}),
	}
}

func pcapFile(t *testing.T, data [][]byte) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	ts := time.Unix(1700000000, 0)
	for i, d := range data {
		ci := gopacket.CaptureInfo{Timestamp: ts.Add(time.Duration(i) * time.Millisecond), CaptureLength: len(d), Length: len(d)}
		require.NoError(t, w.WritePacket(ci, d))
	}
	return &buf
}

func pcapngFile(t *testing.T, data [][]byte) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w, err := pcapgo.NewNgWriter(&buf, layers.LinkTypeEthernet)
	require.NoError(t, err)
	for _, d := range data {
		ci := gopacket.CaptureInfo{Timestamp: time.Unix(1700000000, 0), CaptureLength: len(d), Length: len(d), InterfaceIndex: 0}
		require.NoError(t, w.WritePacket(ci, d))
	}
	require.NoError(t, w.Flush())
	return &buf
}

func routes(t *testing.T, cpu uint32) []route.Route {
	t.Helper()
	r, err := route.ParseRoute("203.0.113.5/32", "1:1", cpu, "primary")
	require.NoError(t, err)
	return []route.Route{r}
}

func host(s string) types.HostAddress {
	return types.HostAddressFrom(netip.MustParseAddr(s))
}

func TestParseHook(t *testing.T) {
	for in, want := range map[string]Hook{"": HookIngress, "ingress": HookIngress, "EGRESS": HookEgress, "both": HookBoth} {
		got, err := ParseHook(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseHook("xdp")
	assert.ErrorIs(t, err, ErrUnknownHook)
	assert.Equal(t, "both", HookBoth.String())
}

func TestIngressRedirectsToRouteCore(t *testing.T) {
	r, err := New(Config{Pipeline: internetFacing, Cores: 4}, routes(t, 3))
	require.NoError(t, err)

	res, err := r.Run(context.Background(), pcapFile(t, frames()))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.Frames)
	assert.Equal(t, uint64(2), res.Redirected)
	assert.Equal(t, uint64(1), res.Passed)
	assert.Equal(t, uint64(2), res.Delivered)
	assert.Equal(t, map[uint32]uint64{3: 2}, res.PerCore)
	assert.Zero(t, res.EgressOK, "ingress only")

	c, ok := r.Accountant().Host(host("203.0.113.5"))
	require.True(t, ok)
	assert.Equal(t, uint64(3000), c.DownloadBytes)
	assert.Equal(t, types.NewTCHandle(1, 1), c.TCHandle)

	stats, err := r.Pipeline().Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stats[types.StatPacketsSeen])
	assert.Equal(t, uint64(1), stats[types.StatNoRoute])
}

func TestSameCoreDeliveryIsInline(t *testing.T) {
	r, err := New(Config{Pipeline: internetFacing, Cores: 2, Core: 1}, routes(t, 1))
	require.NoError(t, err)

	res, err := r.Run(context.Background(), pcapFile(t, frames()))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Redirected)
	assert.Equal(t, map[uint32]uint64{1: 2}, res.PerCore)
}

func TestBothHooksRunEgressOnTargetCore(t *testing.T) {
	r, err := New(Config{Pipeline: internetFacing, Hook: HookBoth, Cores: 4, IdentityQueues: true}, routes(t, 3))
	require.NoError(t, err)

	res, err := r.Run(context.Background(), pcapngFile(t, frames()))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.Frames)
	assert.Equal(t, uint64(3), res.EgressOK)
	assert.Zero(t, res.Blocked)
	assert.Equal(t, uint64(3), res.RTTSamples)
	assert.Zero(t, res.RTTDropped)

	stats := r.Pipeline().CoreStats(3)
	assert.Equal(t, uint64(2), stats[types.StatPacketsSeen], "two egress passes on the target core")
	assert.Zero(t, stats[types.StatQueueUnmapped])
}

func TestEgressBlocksWithoutQueueMapping(t *testing.T) {
	cfg := internetFacing
	cfg.RequireQueueMapping = true
	r, err := New(Config{Pipeline: cfg, Hook: HookEgress, Cores: 2}, routes(t, 1))
	require.NoError(t, err)

	res, err := r.Run(context.Background(), pcapFile(t, frames()))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.Blocked)
	assert.Zero(t, res.EgressOK)
	assert.Zero(t, res.Redirected)
}

func TestUnsetRolePassesEverything(t *testing.T) {
	r, err := New(Config{Cores: 2}, routes(t, 1))
	require.NoError(t, err)

	res, err := r.Run(context.Background(), pcapFile(t, frames()))
	require.NoError(t, err)
	assert.True(t, res.ConfigError)
	assert.Equal(t, uint64(3), res.Passed)
	assert.Zero(t, r.Accountant().Len(0))
}

func TestRunRejectsGarbage(t *testing.T) {
	r, err := New(Config{Pipeline: internetFacing}, nil)
	require.NoError(t, err)
	_, err = r.Run(context.Background(), bytes.NewBufferString("not a capture file"))
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	r, err := New(Config{Pipeline: internetFacing, Cores: 4}, routes(t, 3))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Run(ctx, pcapFile(t, frames()))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{Cores: 2, Core: 2}, nil)
	assert.Error(t, err)
	_, err = New(Config{Cores: types.MaxCPUs + 1}, nil)
	assert.Error(t, err)

	bad := []route.Route{{Table: types.TablePrimary, Key: types.RouteKey{PrefixLen: 129}}}
	_, err = New(Config{}, bad)
	assert.Error(t, err)
}
