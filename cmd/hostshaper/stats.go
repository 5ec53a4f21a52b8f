// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

package main

import (
	"time"

	"github.com/hostshaper-ebpf/internal/collector"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func newStatsCmd(a *app) *cobra.Command {
	var (
		interval time.Duration
		top      int
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print one aggregate snapshot of the pinned traffic table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			maps, err := a.openMaps()
			if err != nil {
				return err
			}
			defer maps.Close()

			if top <= 0 {
				top = a.cfg.Collector.TopN
			}
			var stats collector.StatSource
			if maps.HasDiagnostics() {
				stats = maps
			}
			c, err := collector.New(collector.Config{PollInterval: interval, TopN: top}, maps, stats, nil, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			// two reads give rates
			ctx := cmd.Context()
			if err := c.Poll(ctx); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
			if err := c.Poll(ctx); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), c.Snapshot())
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Time between the two reads used for rates")
	cmd.Flags().IntVar(&top, "top", 0, "Hosts in the top list (default collector.top_n)")
	return cmd
}
