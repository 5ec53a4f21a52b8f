// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

// Package bpf gives the control plane and the collector access to the maps
// pinned by the hook programs.
package bpf

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cilium/ebpf"
	"github.com/hostshaper-ebpf/internal/route"
	"github.com/hostshaper-ebpf/internal/types"
	"golang.org/x/sys/unix"
)

// Pinned map names.
const (
	MapRoutes           = "map_ip_to_cpu_and_tc"
	MapRoutesReciprocal = "map_ip_to_cpu_and_tc_recip"
	MapCPUsAvailable    = "cpus_available"
	MapCPUMap           = "cpu_map"
	MapTxqConfig        = "map_txq_config"
	MapTraffic          = "map_traffic"
	MapDiagnostics      = "map_diagnostics"
)

// Maps holds the pinned maps. Optional maps that are not pinned are nil
// and the methods using them return ErrMapNotPinned.
type Maps struct {
	pinPath       string
	routes        [2]*ebpf.Map
	cpusAvailable *ebpf.Map
	cpuMap        *ebpf.Map
	txq           *ebpf.Map
	traffic       *ebpf.Map
	diagnostics   *ebpf.Map
}

var ErrMapNotPinned = errors.New("map not pinned")

// Open loads every pinned map under pinPath. The primary route table and
// the traffic map are required.
func Open(pinPath string) (*Maps, error) {
	m := &Maps{pinPath: pinPath}
	targets := []struct {
		name     string
		dst      **ebpf.Map
		required bool
	}{
		{MapRoutes, &m.routes[types.TablePrimary], true},
		{MapRoutesReciprocal, &m.routes[types.TableReciprocal], false},
		{MapCPUsAvailable, &m.cpusAvailable, false},
		{MapCPUMap, &m.cpuMap, false},
		{MapTxqConfig, &m.txq, false},
		{MapTraffic, &m.traffic, true},
		{MapDiagnostics, &m.diagnostics, false},
	}
	for _, t := range targets {
		path := filepath.Join(pinPath, t.name)
		mp, err := ebpf.LoadPinnedMap(path, nil)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && !t.required {
				slog.Debug("optional map not pinned", "map", t.name, "path", path)
				continue
			}
			m.Close()
			return nil, fmt.Errorf("load pinned map %s: %w", path, err)
		}
		*t.dst = mp
		slog.Debug("pinned map loaded", "map", t.name, "type", mp.Type(), "max_entries", mp.MaxEntries())
	}
	return m, nil
}

// Close releases every loaded map. Pins are left in place.
func (m *Maps) Close() error {
	var errs []error
	for _, mp := range []*ebpf.Map{m.routes[0], m.routes[1], m.cpusAvailable, m.cpuMap, m.txq, m.traffic, m.diagnostics} {
		if mp != nil {
			errs = append(errs, mp.Close())
		}
	}
	return errors.Join(errs...)
}

func (m *Maps) routeMap(sel types.TableSelector) (*ebpf.Map, error) {
	mp := m.routes[sel&1]
	if mp == nil {
		name := MapRoutes
		if sel == types.TableReciprocal {
			name = MapRoutesReciprocal
		}
		return nil, fmt.Errorf("%s: %w", name, ErrMapNotPinned)
	}
	return mp, nil
}

// Lookup asks the kernel for the longest prefix covering addr.
func (m *Maps) Lookup(sel types.TableSelector, addr types.HostAddress) (types.RouteEntry, bool) {
	mp, err := m.routeMap(sel)
	if err != nil {
		return types.RouteEntry{}, false
	}
	key := types.RouteKey{PrefixLen: 128, Address: addr}
	var e types.RouteEntry
	if err := mp.Lookup(&key, &e); err != nil {
		return types.RouteEntry{}, false
	}
	return e, true
}

// Update replaces the entry for key as a whole record.
func (m *Maps) Update(sel types.TableSelector, key types.RouteKey, e types.RouteEntry) error {
	mp, err := m.routeMap(sel)
	if err != nil {
		return err
	}
	if key.PrefixLen > 128 {
		return route.ErrInvalidPrefix
	}
	if err := mp.Update(&key, &e, ebpf.UpdateAny); err != nil {
		// the kernel answers E2BIG when an LPM trie is at max_entries
		if errors.Is(err, unix.E2BIG) || errors.Is(err, unix.ENOSPC) {
			return fmt.Errorf("%s: %w", route.FormatPrefix(key), route.ErrTableFull)
		}
		return fmt.Errorf("update %s: %w", route.FormatPrefix(key), err)
	}
	return nil
}

// PinPath is the directory the maps were loaded from.
func (m *Maps) PinPath() string { return m.pinPath }

func (m *Maps) Delete(sel types.TableSelector, key types.RouteKey) error {
	mp, err := m.routeMap(sel)
	if err != nil {
		return err
	}
	if err := mp.Delete(&key); err != nil {
		if errors.Is(err, ebpf.ErrKeyNotExist) {
			return route.ErrNotFound
		}
		return err
	}
	return nil
}

// Range visits every route of both tables, primary first.
func (m *Maps) Range(fn func(route.Route) bool) error {
	for _, sel := range []types.TableSelector{types.TablePrimary, types.TableReciprocal} {
		mp := m.routes[sel]
		if mp == nil {
			continue
		}
		var (
			key types.RouteKey
			e   types.RouteEntry
		)
		it := mp.Iterate()
		for it.Next(&key, &e) {
			if !fn(route.Route{Table: sel, Key: key, Entry: e}) {
				return nil
			}
		}
		if err := it.Err(); err != nil {
			return fmt.Errorf("iterate %s routes: %w", sel, err)
		}
	}
	return nil
}

// Clear deletes every route from both tables.
func (m *Maps) Clear() error {
	for _, sel := range []types.TableSelector{types.TablePrimary, types.TableReciprocal} {
		mp := m.routes[sel]
		if mp == nil {
			continue
		}
		var (
			keys []types.RouteKey
			key  types.RouteKey
			e    types.RouteEntry
		)
		it := mp.Iterate()
		for it.Next(&key, &e) {
			keys = append(keys, key)
		}
		if err := it.Err(); err != nil {
			return fmt.Errorf("iterate %s routes: %w", sel, err)
		}
		for i := range keys {
			if err := mp.Delete(&keys[i]); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
				return fmt.Errorf("delete %s: %w", route.FormatPrefix(keys[i]), err)
			}
		}
		slog.Info("route table cleared", "table", sel, "deleted", len(keys))
	}
	return nil
}
