// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/hostshaper-ebpf/internal/route"
	"github.com/hostshaper-ebpf/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugawarayuuta/sonnet"
)

const routesYAML = `routes:
  - prefix: 203.0.113.0/24
    handle: "1:10"
    cpu: 2
  - prefix: 100.64.0.0/10
    handle: "1:20"
    cpu: 1
    table: reciprocal
`

func writeCapture(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "capture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for _, fr := range []testutil.Frame{
		{Src: "198.51.100.9", Dst: "203.0.113.5", Len: 1000},
		{Src: "198.51.100.9", Dst: "203.0.113.6", Len: 500},
		{Src: "198.51.100.9", Dst: "192.0.2.1", Len: 200},
	} {
		data := testutil.Build(fr)
		ci := gopacket.CaptureInfo{Timestamp: time.Unix(1700000000, 0), CaptureLength: len(data), Length: len(data)}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOSTSHAPER_LOG_LEVEL", "error")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestReplayCommand(t *testing.T) {
	dir := t.TempDir()
	routesPath := filepath.Join(dir, "routes.yaml")
	require.NoError(t, os.WriteFile(routesPath, []byte(routesYAML), 0o600))
	capture := writeCapture(t, dir)

	out, err := execute(t, "replay", capture, "--routes", routesPath, "--role", "internet", "--cores", "4", "--top", "5")
	require.NoError(t, err)

	var report replayReport
	require.NoError(t, sonnet.Unmarshal([]byte(out), &report))
	assert.Equal(t, "ingress", report.Hook)
	assert.Equal(t, 2, report.Routes)
	assert.Equal(t, uint64(3), report.Result.Frames)
	assert.Equal(t, uint64(2), report.Result.Redirected)
	assert.Equal(t, uint64(1), report.Result.Passed)
	assert.Equal(t, uint64(2), report.Result.PerCore[2])
	assert.Equal(t, uint64(1), report.Diagnostics["no_route"])

	assert.Equal(t, 3, report.Hosts.Hosts)
	assert.Equal(t, 1, report.Hosts.UnknownHosts)
	require.NotEmpty(t, report.Hosts.Top)
	assert.Equal(t, "203.0.113.5", report.Hosts.Top[0].Address)
	assert.Equal(t, "1:10", report.Hosts.Top[0].Class)
}

func TestReplayCommandRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	capture := writeCapture(t, dir)

	_, err := execute(t, "replay", capture, "--hook", "xdp")
	assert.Error(t, err)
	_, err = execute(t, "replay", capture, "--role", "router")
	assert.Error(t, err)
	_, err = execute(t, "replay", filepath.Join(dir, "missing.pcap"))
	assert.Error(t, err)
	_, err = execute(t, "replay")
	assert.Error(t, err, "capture path is required")
}

func TestRouteArgumentsParsedBeforeMapsOpen(t *testing.T) {
	_, err := execute(t, "route", "add", "10.0.0.0/8", "not-a-handle")
	assert.ErrorIs(t, err, route.ErrInvalidHandle)
	_, err = execute(t, "route", "del", "10.0.0.0/33")
	assert.Error(t, err)
	_, err = execute(t, "cpus", "many")
	assert.Error(t, err)
}

func TestInvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("collector:\n  top_n: -1\n"), 0o600))
	_, err := execute(t, "--config", path, "stats")
	assert.Error(t, err)
}
