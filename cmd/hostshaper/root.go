// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/hostshaper-ebpf/bpf"
	"github.com/hostshaper-ebpf/internal/config"
	"github.com/hostshaper-ebpf/internal/log"
	"github.com/spf13/cobra"
	"github.com/sugawarayuuta/sonnet"
)

// app carries state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "hostshaper",
		Short:         "Per-host traffic steering and accounting",
		Long:          "hostshaper - steer packets to per-host shaping classes, account traffic per host and export it as metrics",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to the YAML config file (optional)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override log.level: "+log.SupportedLevels)

	root.AddCommand(
		newRunCmd(a),
		newReplayCmd(a),
		newRouteCmd(a),
		newCPUsCmd(a),
		newStatsCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := log.Configure(cfg.Log); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	slog.Debug("config loaded", "path", a.configPath, "role", cfg.Interface.Role, "pin_path", cfg.BPF.PinPath)
	a.cfg = cfg
	return nil
}

func (a *app) openMaps() (*bpf.Maps, error) {
	if err := bpf.CheckKernelVersion(); err != nil {
		slog.Error("kernel version check failed", "err", err)
		return nil, err
	}
	return bpf.Open(a.cfg.BPF.PinPath)
}

func writeJSON(w io.Writer, v any) error {
	body, err := sonnet.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(body))
	return err
}
