// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

package route

import (
	"fmt"

	"github.com/hostshaper-ebpf/internal/types"
)

// Tables holds the primary and reciprocal route tables. The reciprocal table
// is consulted for upload lookups in combined mode.
type Tables struct {
	tables [2]*Trie
}

// NewTables returns two empty tables of the given capacity each.
func NewTables(max int) *Tables {
	return &Tables{tables: [2]*Trie{NewTrie(max), NewTrie(max)}}
}

// Table returns the trie selected by sel.
func (t *Tables) Table(sel types.TableSelector) *Trie {
	return t.tables[sel&1]
}

// Lookup performs a longest-prefix match in the selected table.
func (t *Tables) Lookup(sel types.TableSelector, addr types.HostAddress) (types.RouteEntry, bool) {
	return t.tables[sel&1].Lookup(addr)
}

func (t *Tables) Update(sel types.TableSelector, key types.RouteKey, e types.RouteEntry) error {
	return t.tables[sel&1].Update(key, e)
}

func (t *Tables) Delete(sel types.TableSelector, key types.RouteKey) error {
	return t.tables[sel&1].Delete(key)
}

// Clear empties both tables.
func (t *Tables) Clear() error {
	for _, tbl := range t.tables {
		tbl.Clear()
	}
	return nil
}

// Range visits every route of both tables, primary first.
func (t *Tables) Range(fn func(Route) bool) error {
	for i, tbl := range t.tables {
		sel := types.TableSelector(i)
		stop := false
		tbl.Range(func(k types.RouteKey, e types.RouteEntry) bool {
			if !fn(Route{Table: sel, Key: k, Entry: e}) {
				stop = true
			}
			return !stop
		})
		if stop {
			break
		}
	}
	return nil
}

// Store is the control-plane view of a pair of route tables. It is
// implemented by Tables and by the pinned kernel maps.
type Store interface {
	Update(sel types.TableSelector, key types.RouteKey, e types.RouteEntry) error
	Delete(sel types.TableSelector, key types.RouteKey) error
	Clear() error
	Range(fn func(Route) bool) error
}

// Apply writes routes into s in order, stopping at the first failure.
func Apply(s Store, routes []Route) error {
	for i, r := range routes {
		if err := s.Update(r.Table, r.Key, r.Entry); err != nil {
			return fmt.Errorf("route %d (%s): %w", i, r, err)
		}
	}
	return nil
}
