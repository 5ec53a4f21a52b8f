// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

package main

import (
	"fmt"
	"log/slog"
	"runtime"
	"strconv"

	"github.com/hostshaper-ebpf/internal/types"
	"github.com/spf13/cobra"
)

func newCPUsCmd(a *app) *cobra.Command {
	var identityQueues bool
	cmd := &cobra.Command{
		Use:   "cpus [count]",
		Short: "Mark logical CPUs 0..count-1 available for redirects",
		Long:  "Maps every logical CPU below count to itself in cpus_available and sizes its cpumap queue from redirect.queue_size. count defaults to the number of CPUs.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n := runtime.NumCPU()
			if len(args) == 1 {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("cpu count %q: %w", args[0], err)
				}
				n = v
			}
			maps, err := a.openMaps()
			if err != nil {
				return err
			}
			defer maps.Close()

			if err := maps.MarkAvailable(n, uint32(a.cfg.Redirect.QueueSize)); err != nil {
				return err
			}
			if !identityQueues {
				return nil
			}
			for i := 0; i < n; i++ {
				q := types.TxqConfig{QueueMapping: uint16(i + 1), HTBMajor: uint16(i + 1)}
				if err := maps.SetQueue(uint32(i), q); err != nil {
					return err
				}
			}
			slog.Info("transmit queues mapped", "cpus", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&identityQueues, "identity-queues", false, "Also map CPU i to transmit queue i+1 and htb major i+1")
	return cmd
}
