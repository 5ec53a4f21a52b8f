// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

package main

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/hostshaper-ebpf/internal/route"
	"github.com/spf13/cobra"
)

func newRouteCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Manage the pinned route tables",
	}
	cmd.AddCommand(
		newRouteAddCmd(a),
		newRouteDelCmd(a),
		newRouteListCmd(a),
		newRouteClearCmd(a),
		newRouteLoadCmd(a),
	)
	return cmd
}

// withStore opens the pinned maps for the duration of fn.
func (a *app) withStore(fn func(route.Store) error) error {
	maps, err := a.openMaps()
	if err != nil {
		return err
	}
	defer maps.Close()
	return fn(maps)
}

func newRouteAddCmd(a *app) *cobra.Command {
	var (
		cpu   uint32
		table string
	)
	cmd := &cobra.Command{
		Use:     "add <prefix> <major:minor>",
		Short:   "Add or replace a route",
		Example: "  hostshaper route add 100.64.0.0/24 1:10 --cpu 2\n  hostshaper route add 2001:db8::/64 1:11 --table reciprocal",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := route.ParseRoute(args[0], args[1], cpu, table)
			if err != nil {
				return err
			}
			return a.withStore(func(s route.Store) error {
				if err := s.Update(r.Table, r.Key, r.Entry); err != nil {
					return err
				}
				slog.Info("route added", "route", r.String())
				return nil
			})
		},
	}
	cmd.Flags().Uint32Var(&cpu, "cpu", 0, "Logical CPU the prefix is steered to")
	cmd.Flags().StringVar(&table, "table", "primary", "Route table: primary or reciprocal")
	return cmd
}

func newRouteDelCmd(a *app) *cobra.Command {
	var table string
	cmd := &cobra.Command{
		Use:   "del <prefix>",
		Short: "Delete a route",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := route.ParsePrefix(args[0])
			if err != nil {
				return err
			}
			sel, err := route.ParseTable(table)
			if err != nil {
				return err
			}
			return a.withStore(func(s route.Store) error {
				if err := s.Delete(sel, key); err != nil {
					return fmt.Errorf("%s %s: %w", sel, route.FormatPrefix(key), err)
				}
				slog.Info("route deleted", "table", sel, "prefix", route.FormatPrefix(key))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&table, "table", "primary", "Route table: primary or reciprocal")
	return cmd
}

// routeRow is the JSON form of a route.
type routeRow struct {
	Table  string `json:"table"`
	Prefix string `json:"prefix"`
	CPU    uint32 `json:"cpu"`
	Handle string `json:"handle"`
}

func newRouteListCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the routes of both tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s route.Store) error {
				var rows []routeRow
				err := s.Range(func(r route.Route) bool {
					rows = append(rows, routeRow{
						Table:  r.Table.String(),
						Prefix: route.FormatPrefix(r.Key),
						CPU:    r.Entry.CPU,
						Handle: r.Entry.TCHandle.String(),
					})
					return true
				})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), rows)
				}
				return printRoutes(cmd.OutOrStdout(), rows)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func printRoutes(w io.Writer, rows []routeRow) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tPREFIX\tCPU\tHANDLE")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.Table, r.Prefix, r.CPU, r.Handle)
	}
	return tw.Flush()
}

func newRouteClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every route from both tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s route.Store) error { return s.Clear() })
		},
	}
}

func newRouteLoadCmd(a *app) *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "load <routes.yaml>",
		Short: "Apply a route file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			routes, err := route.LoadFile(args[0])
			if err != nil {
				return fmt.Errorf("load routes %s: %w", args[0], err)
			}
			return a.withStore(func(s route.Store) error {
				if replace {
					if err := s.Clear(); err != nil {
						return err
					}
				}
				if err := route.Apply(s, routes); err != nil {
					return err
				}
				slog.Info("routes loaded", "file", args[0], "routes", len(routes), "replace", replace)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "Clear both tables before applying")
	return cmd
}
