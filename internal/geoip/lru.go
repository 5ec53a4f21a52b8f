// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

package geoip

import (
	"container/list"
	"sync"

	"github.com/hostshaper-ebpf/internal/types"
)

type lruCache struct {
	mu    sync.Mutex
	cap   int
	list  *list.List
	items map[types.HostAddress]*list.Element
}

type entry struct {
	key types.HostAddress
	val string
}

func newLRUCache(cap int) *lruCache {
	return &lruCache{
		cap:   cap,
		list:  list.New(),
		items: make(map[types.HostAddress]*list.Element, cap),
	}
}

func (c *lruCache) get(k types.HostAddress) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[k]; ok {
		c.list.MoveToFront(e)
		return e.Value.(*entry).val, true
	}
	return "", false
}

func (c *lruCache) put(k types.HostAddress, v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[k]; ok {
		e.Value.(*entry).val = v
		c.list.MoveToFront(e)
		return
	}
	if c.list.Len() >= c.cap {
		if old := c.list.Back(); old != nil {
			c.list.Remove(old)
			delete(c.items, old.Value.(*entry).key)
		}
	}
	c.items[k] = c.list.PushFront(&entry{key: k, val: v})
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}
