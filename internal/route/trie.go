// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

// Package route implements the longest-prefix-match tables that map a host
// address to its processing core and traffic-class handle.
package route

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/hostshaper-ebpf/internal/types"
)

var (
	ErrTableFull     = errors.New("route table full")
	ErrInvalidPrefix = errors.New("invalid prefix")
	ErrInvalidHandle = errors.New("invalid tc handle")
	ErrNotFound      = errors.New("route not found")
)

const maxPrefixLen = 128

type node struct {
	child [2]*node
	entry types.RouteEntry
	set   bool
}

// Trie is a binary LPM trie over the 128-bit host address space.
//
// Writers are serialized and never modify a published node: every change
// copies the path from the root and publishes the new root atomically, so
// Lookup needs no lock and observes either the old or the new record.
type Trie struct {
	mu    sync.Mutex // serializes writers
	root  atomic.Pointer[node]
	count atomic.Int64
	max   int
}

// NewTrie returns an empty trie holding at most max prefixes. max <= 0
// selects types.MaxRouteEntries.
func NewTrie(max int) *Trie {
	if max <= 0 {
		max = types.MaxRouteEntries
	}
	return &Trie{max: max}
}

func bit(a *types.HostAddress, i int) int {
	return int(a[i>>3]>>(7-uint(i&7))) & 1
}

// Lookup returns the entry with the longest prefix covering addr. The walk
// is bounded by the address width.
func (t *Trie) Lookup(addr types.HostAddress) (types.RouteEntry, bool) {
	var (
		best  types.RouteEntry
		found bool
	)
	n := t.root.Load()
	for depth := 0; n != nil; depth++ {
		if n.set {
			best, found = n.entry, true
		}
		if depth == maxPrefixLen {
			break
		}
		n = n.child[bit(&addr, depth)]
	}
	return best, found
}

// Get returns the entry stored for exactly key.
func (t *Trie) Get(key types.RouteKey) (types.RouteEntry, bool) {
	if key.PrefixLen > maxPrefixLen {
		return types.RouteEntry{}, false
	}
	addr := maskAddress(key.Address, int(key.PrefixLen))
	n := t.root.Load()
	for depth := 0; n != nil; depth++ {
		if depth == int(key.PrefixLen) {
			return n.entry, n.set
		}
		n = n.child[bit(&addr, depth)]
	}
	return types.RouteEntry{}, false
}

// Update inserts or replaces the entry for key as a whole record.
func (t *Trie) Update(key types.RouteKey, e types.RouteEntry) error {
	if key.PrefixLen > maxPrefixLen {
		return ErrInvalidPrefix
	}
	plen := int(key.PrefixLen)
	addr := maskAddress(key.Address, plen)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.Get(types.RouteKey{PrefixLen: key.PrefixLen, Address: addr}); !exists && int(t.count.Load()) >= t.max {
		return ErrTableFull
	}
	root, added := insert(t.root.Load(), &addr, 0, plen, e)
	t.root.Store(root)
	if added {
		t.count.Add(1)
	}
	return nil
}

// Delete removes the entry for exactly key.
func (t *Trie) Delete(key types.RouteKey) error {
	if key.PrefixLen > maxPrefixLen {
		return ErrInvalidPrefix
	}
	plen := int(key.PrefixLen)
	addr := maskAddress(key.Address, plen)

	t.mu.Lock()
	defer t.mu.Unlock()
	root, removed := remove(t.root.Load(), &addr, 0, plen)
	if !removed {
		return ErrNotFound
	}
	t.root.Store(root)
	t.count.Add(-1)
	return nil
}

// Clear drops every entry.
func (t *Trie) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root.Store(nil)
	t.count.Store(0)
}

// Len returns the number of stored prefixes.
func (t *Trie) Len() int {
	return int(t.count.Load())
}

// Range calls fn for every stored prefix in address order until fn returns
// false. It walks a consistent snapshot.
func (t *Trie) Range(fn func(types.RouteKey, types.RouteEntry) bool) {
	var addr types.HostAddress
	walk(t.root.Load(), &addr, 0, fn)
}

func walk(n *node, addr *types.HostAddress, depth int, fn func(types.RouteKey, types.RouteEntry) bool) bool {
	if n == nil {
		return true
	}
	if n.set && !fn(types.RouteKey{PrefixLen: uint32(depth), Address: *addr}, n.entry) {
		return false
	}
	if depth == maxPrefixLen {
		return true
	}
	byteIdx, mask := depth>>3, byte(0x80>>uint(depth&7))
	if !walk(n.child[0], addr, depth+1, fn) {
		return false
	}
	addr[byteIdx] |= mask
	ok := walk(n.child[1], addr, depth+1, fn)
	addr[byteIdx] &^= mask
	return ok
}

func insert(n *node, addr *types.HostAddress, depth, plen int, e types.RouteEntry) (*node, bool) {
	c := &node{}
	if n != nil {
		*c = *n
	}
	if depth == plen {
		added := !c.set
		c.entry, c.set = e, true
		return c, added
	}
	b := bit(addr, depth)
	child, added := insert(c.child[b], addr, depth+1, plen, e)
	c.child[b] = child
	return c, added
}

func remove(n *node, addr *types.HostAddress, depth, plen int) (*node, bool) {
	if n == nil {
		return nil, false
	}
	c := *n
	if depth == plen {
		if !c.set {
			return n, false
		}
		c.entry, c.set = types.RouteEntry{}, false
	} else {
		b := bit(addr, depth)
		child, removed := remove(c.child[b], addr, depth+1, plen)
		if !removed {
			return n, false
		}
		c.child[b] = child
	}
	if !c.set && c.child[0] == nil && c.child[1] == nil {
		return nil, true
	}
	return &c, true
}

func maskAddress(a types.HostAddress, plen int) types.HostAddress {
	for i := range a {
		switch bits := plen - i*8; {
		case bits >= 8:
		case bits <= 0:
			a[i] = 0
		default:
			a[i] &= byte(0xFF << uint(8-bits))
		}
	}
	return a
}
