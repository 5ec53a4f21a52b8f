// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/hostshaper-ebpf/internal/collector"
	"github.com/hostshaper-ebpf/internal/pipeline"
	"github.com/hostshaper-ebpf/internal/replay"
	"github.com/hostshaper-ebpf/internal/route"
	"github.com/spf13/cobra"
)

type replayFlags struct {
	routes         string
	hook           string
	role           string
	core           uint32
	cores          int
	identityQueues bool
	top            int
}

// replayReport is printed after a replay.
type replayReport struct {
	File        string             `json:"file"`
	Hook        string             `json:"hook"`
	Routes      int                `json:"routes"`
	Elapsed     string             `json:"elapsed"`
	Result      replay.Result      `json:"result"`
	Diagnostics map[string]uint64  `json:"diagnostics"`
	Hosts       collector.Snapshot `json:"hosts"`
}

func newReplayCmd(a *app) *cobra.Command {
	f := &replayFlags{}
	cmd := &cobra.Command{
		Use:   "replay <capture.pcap>",
		Short: "Feed a capture file through the pipeline using in-memory tables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.replay(cmd, args[0], f)
		},
	}
	cmd.Flags().StringVarP(&f.routes, "routes", "r", "", "YAML route file loaded into the in-memory tables")
	cmd.Flags().StringVar(&f.hook, "hook", "ingress", "Hooks to run: ingress, egress or both")
	cmd.Flags().StringVar(&f.role, "role", "", "Override interface.role")
	cmd.Flags().Uint32Var(&f.core, "core", 0, "Core every frame arrives on")
	cmd.Flags().IntVar(&f.cores, "cores", 0, "Number of cores (default accounting.cores, else all CPUs)")
	cmd.Flags().BoolVar(&f.identityQueues, "identity-queues", false, "Map every core to transmit queue core+1")
	cmd.Flags().IntVar(&f.top, "top", 0, "Hosts in the report (default collector.top_n)")
	return cmd
}

func (a *app) replay(cmd *cobra.Command, path string, f *replayFlags) error {
	hook, err := replay.ParseHook(f.hook)
	if err != nil {
		return err
	}
	if f.role != "" {
		a.cfg.Interface.Role = f.role
		if err := a.cfg.Validate(); err != nil {
			return err
		}
	}
	cores := f.cores
	if cores <= 0 {
		cores = a.cfg.Accounting.Cores
	}
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	top := f.top
	if top <= 0 {
		top = a.cfg.Collector.TopN
	}

	var routes []route.Route
	if f.routes != "" {
		if routes, err = route.LoadFile(f.routes); err != nil {
			return fmt.Errorf("load routes %s: %w", f.routes, err)
		}
	}

	r, err := replay.New(replay.Config{
		Pipeline: pipeline.Config{
			Direction:           a.cfg.Direction(),
			RequireQueueMapping: a.cfg.Egress.RequireQueueMapping,
		},
		Hook:           hook,
		Core:           f.core,
		Cores:          cores,
		MaxHosts:       a.cfg.Accounting.MaxTrackedHosts,
		QueueSize:      a.cfg.Redirect.QueueSize,
		IdentityQueues: f.identityQueues,
	}, routes)
	if err != nil {
		return err
	}
	if r.Pipeline().ConfigError() {
		slog.Warn("interface role not set, every packet passes unclassified")
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	start := time.Now()
	res, err := r.Run(cmd.Context(), file)
	if err != nil {
		return fmt.Errorf("replay %s: %w", path, err)
	}
	elapsed := time.Since(start)

	current, err := collector.Collect(r.Accountant())
	if err != nil {
		return err
	}
	tracker := collector.NewTracker()
	tracker.Update(start, current)
	stats, err := r.Pipeline().Stats()
	if err != nil {
		return err
	}
	slog.Info("replay finished", "file", path, "frames", res.Frames, "hosts", len(current), "elapsed", elapsed)

	return writeJSON(cmd.OutOrStdout(), replayReport{
		File:        path,
		Hook:        hook.String(),
		Routes:      len(routes),
		Elapsed:     elapsed.Round(time.Microsecond).String(),
		Result:      res,
		Diagnostics: collector.DiagnosticsMap(stats),
		Hosts:       collector.BuildSnapshot(tracker, top),
	})
}
