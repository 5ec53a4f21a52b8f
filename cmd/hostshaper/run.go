// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hostshaper-ebpf/internal/collector"
	"github.com/hostshaper-ebpf/internal/geoip"
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Export the pinned traffic table as prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context())
		},
	}
}

func (a *app) run(ctx context.Context) error {
	cc := a.cfg.Collector
	slog.Info("starting hostshaper collector",
		"pin_path", a.cfg.BPF.PinPath,
		"listen", cc.ListenAddress,
		"poll_interval", cc.PollInterval,
	)

	maps, err := a.openMaps()
	if err != nil {
		return err
	}
	defer maps.Close()
	slog.Info("pinned maps loaded", "diagnostics", maps.HasDiagnostics())

	var geo *geoip.Lookup
	if cc.GeoIPDB != "" {
		geo, err = geoip.Open(cc.GeoIPDB, cc.GeoIPCacheSize)
		if err != nil {
			slog.Warn("geoip db open failed, country metrics disabled", "path", cc.GeoIPDB, "err", err)
			geo = nil
		} else {
			defer geo.Close()
			slog.Info("geoip database loaded", "path", cc.GeoIPDB)
		}
	}

	var stats collector.StatSource
	if maps.HasDiagnostics() {
		stats = maps
	}
	c, err := collector.New(collector.Config{
		PollInterval:  cc.PollInterval,
		ListenAddress: cc.ListenAddress,
		MetricsPath:   cc.MetricsPath,
		TopN:          cc.TopN,
	}, maps, stats, geo, nil)
	if err != nil {
		return err
	}
	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("shutdown complete")
	return nil
}
