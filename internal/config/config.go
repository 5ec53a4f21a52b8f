// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

// Package config loads hostshaper configuration using viper.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hostshaper-ebpf/internal/direction"
	"github.com/hostshaper-ebpf/internal/log"
	"github.com/hostshaper-ebpf/internal/types"
	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Interface  InterfaceConfig  `mapstructure:"interface"`
	Egress     EgressConfig     `mapstructure:"egress"`
	Accounting AccountingConfig `mapstructure:"accounting"`
	Redirect   RedirectConfig   `mapstructure:"redirect"`
	BPF        BPFConfig        `mapstructure:"bpf"`
	Collector  CollectorConfig  `mapstructure:"collector"`
	Log        log.Options      `mapstructure:"log"`
}

// InterfaceConfig is the load-time direction configuration. An empty role
// is accepted and leaves the pipeline in pass-everything mode.
type InterfaceConfig struct {
	Role         string `mapstructure:"role"`
	InternetVLAN uint16 `mapstructure:"internet_vlan"`
	ISPVLAN      uint16 `mapstructure:"isp_vlan"`
}

type EgressConfig struct {
	RequireQueueMapping bool `mapstructure:"require_queue_mapping"`
}

type AccountingConfig struct {
	Cores           int `mapstructure:"cores"` // 0 = all CPUs
	MaxTrackedHosts int `mapstructure:"max_tracked_hosts"`
}

type RedirectConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

type BPFConfig struct {
	PinPath string `mapstructure:"pin_path"`
}

type CollectorConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	ListenAddress  string        `mapstructure:"listen_address"`
	MetricsPath    string        `mapstructure:"metrics_path"`
	TopN           int           `mapstructure:"top_n"`
	GeoIPDB        string        `mapstructure:"geoip_db"`
	GeoIPCacheSize int           `mapstructure:"geoip_cache_size"`
}

// Load reads path (optional), HOSTSHAPER_* environment variables and
// defaults, then validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HOSTSHAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interface.role", "")
	v.SetDefault("interface.internet_vlan", 0)
	v.SetDefault("interface.isp_vlan", 0)

	v.SetDefault("egress.require_queue_mapping", false)

	v.SetDefault("accounting.cores", 0)
	v.SetDefault("accounting.max_tracked_hosts", types.MaxTrackedHosts)

	v.SetDefault("redirect.queue_size", types.DefaultCPUQueueSize)

	v.SetDefault("bpf.pin_path", "/sys/fs/bpf")

	v.SetDefault("collector.poll_interval", "1s")
	v.SetDefault("collector.listen_address", ":9100")
	v.SetDefault("collector.metrics_path", "/metrics")
	v.SetDefault("collector.top_n", 10)
	v.SetDefault("collector.geoip_db", "")
	v.SetDefault("collector.geoip_cache_size", 10000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate rejects malformed values.
func (c *Config) Validate() error {
	role, err := types.ParseRole(c.Interface.Role)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if role == types.RoleVLANCombined {
		if c.Interface.InternetVLAN == 0 || c.Interface.InternetVLAN > 4094 {
			return invalid("interface.internet_vlan must be 1-4094 in vlan-combined mode, got %d", c.Interface.InternetVLAN)
		}
		if c.Interface.ISPVLAN > 4094 {
			return invalid("interface.isp_vlan must be 0-4094, got %d", c.Interface.ISPVLAN)
		}
		if c.Interface.ISPVLAN == c.Interface.InternetVLAN {
			return invalid("interface.isp_vlan must differ from interface.internet_vlan")
		}
	}
	if c.Accounting.Cores < 0 || c.Accounting.Cores > types.MaxCPUs {
		return invalid("accounting.cores must be 0-%d, got %d", types.MaxCPUs, c.Accounting.Cores)
	}
	if c.Accounting.MaxTrackedHosts <= 0 {
		return invalid("accounting.max_tracked_hosts must be positive, got %d", c.Accounting.MaxTrackedHosts)
	}
	if c.Redirect.QueueSize <= 0 {
		return invalid("redirect.queue_size must be positive, got %d", c.Redirect.QueueSize)
	}
	if c.BPF.PinPath == "" {
		return invalid("bpf.pin_path is required")
	}
	if c.Collector.PollInterval <= 0 {
		return invalid("collector.poll_interval must be positive, got %s", c.Collector.PollInterval)
	}
	if _, _, err := net.SplitHostPort(c.Collector.ListenAddress); err != nil {
		return invalid("collector.listen_address %q: %v", c.Collector.ListenAddress, err)
	}
	if !strings.HasPrefix(c.Collector.MetricsPath, "/") {
		return invalid("collector.metrics_path must start with /, got %q", c.Collector.MetricsPath)
	}
	if c.Collector.TopN < 0 {
		return invalid("collector.top_n must not be negative, got %d", c.Collector.TopN)
	}
	if c.Collector.GeoIPCacheSize <= 0 {
		return invalid("collector.geoip_cache_size must be positive, got %d", c.Collector.GeoIPCacheSize)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Direction returns the resolver configuration. Validate must have passed.
func (c *Config) Direction() direction.Config {
	role, _ := types.ParseRole(c.Interface.Role)
	return direction.Config{
		Role:         role,
		InternetVLAN: c.Interface.InternetVLAN,
		ISPVLAN:      c.Interface.ISPVLAN,
	}
}
