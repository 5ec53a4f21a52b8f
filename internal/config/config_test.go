// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hostshaper-ebpf/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hostshaper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "", cfg.Interface.Role)
	assert.Equal(t, types.RoleUnset, cfg.Direction().Role)
	assert.Equal(t, types.MaxTrackedHosts, cfg.Accounting.MaxTrackedHosts)
	assert.Equal(t, types.DefaultCPUQueueSize, cfg.Redirect.QueueSize)
	assert.Equal(t, "/sys/fs/bpf", cfg.BPF.PinPath)
	assert.Equal(t, time.Second, cfg.Collector.PollInterval)
	assert.Equal(t, ":9100", cfg.Collector.ListenAddress)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Egress.RequireQueueMapping)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
interface:
  role: vlan-combined
  internet_vlan: 100
  isp_vlan: 200
egress:
  require_queue_mapping: true
accounting:
  cores: 4
  max_tracked_hosts: 5000
collector:
  poll_interval: 250ms
  listen_address: "127.0.0.1:9200"
  top_n: 5
log:
  level: debug
  file: /var/log/hostshaper.log
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	d := cfg.Direction()
	assert.Equal(t, types.RoleVLANCombined, d.Role)
	assert.Equal(t, uint16(100), d.InternetVLAN)
	assert.Equal(t, uint16(200), d.ISPVLAN)
	assert.True(t, cfg.Egress.RequireQueueMapping)
	assert.Equal(t, 4, cfg.Accounting.Cores)
	assert.Equal(t, 5000, cfg.Accounting.MaxTrackedHosts)
	assert.Equal(t, 250*time.Millisecond, cfg.Collector.PollInterval)
	assert.Equal(t, 5, cfg.Collector.TopN)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/var/log/hostshaper.log", cfg.Log.File)
	assert.Equal(t, 100, cfg.Log.MaxSizeMB, "defaults fill unset keys")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOSTSHAPER_INTERFACE_ROLE", "lan")
	t.Setenv("HOSTSHAPER_COLLECTOR_TOP_N", "3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, types.RoleLAN, cfg.Direction().Role)
	assert.Equal(t, 3, cfg.Collector.TopN)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return *cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown role", func(c *Config) { c.Interface.Role = "sideways" }},
		{"combined without internet vlan", func(c *Config) { c.Interface.Role = "vlan-combined" }},
		{"combined same vlans", func(c *Config) {
			c.Interface.Role = "vlan-combined"
			c.Interface.InternetVLAN, c.Interface.ISPVLAN = 10, 10
		}},
		{"vlan out of range", func(c *Config) {
			c.Interface.Role = "vlan-combined"
			c.Interface.InternetVLAN = 4095
		}},
		{"too many cores", func(c *Config) { c.Accounting.Cores = types.MaxCPUs + 1 }},
		{"zero hosts", func(c *Config) { c.Accounting.MaxTrackedHosts = 0 }},
		{"zero queue", func(c *Config) { c.Redirect.QueueSize = 0 }},
		{"empty pin path", func(c *Config) { c.BPF.PinPath = "" }},
		{"zero poll", func(c *Config) { c.Collector.PollInterval = 0 }},
		{"bad listen", func(c *Config) { c.Collector.ListenAddress = "nowhere" }},
		{"bad metrics path", func(c *Config) { c.Collector.MetricsPath = "metrics" }},
		{"negative top", func(c *Config) { c.Collector.TopN = -1 }},
		{"bad log level", func(c *Config) { c.Log.Level = "chatty" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestUnsetRoleIsNotAnError(t *testing.T) {
	cfg, err := Load(writeConfig(t, "interface:\n  role: \"\"\n"))
	require.NoError(t, err)
	assert.Equal(t, types.RoleUnset, cfg.Direction().Role)
}
