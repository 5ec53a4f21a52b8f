// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

// Package geoip resolves host countries for the per-country aggregate.
package geoip

import (
	"log/slog"
	"net"
	"sync"

	"github.com/hostshaper-ebpf/internal/types"
	"github.com/oschwald/geoip2-golang"
)

const (
	defaultCacheSize = 65536
	Unknown          = "UNKNOWN"
)

type countryReader interface {
	Country(ip net.IP) (*geoip2.Country, error)
	Close() error
}

// Lookup provides GeoIP country lookup with LRU cache.
// Uses MaxMind GeoLite2-Country; unknown/private → "UNKNOWN".
// A nil *Lookup is valid and answers Unknown.
type Lookup struct {
	mu    sync.RWMutex
	db    countryReader
	cache *lruCache
}

// Open opens the MaxMind GeoLite2-Country database at path.
// If cacheSize <= 0, defaultCacheSize (65536) is used.
func Open(path string, cacheSize int) (*Lookup, error) {
	slog.Debug("opening GeoIP database", "path", path, "cache_size", cacheSize)
	db, err := geoip2.Open(path)
	if err != nil {
		slog.Error("GeoIP database open failed", "path", path, "err", err)
		return nil, err
	}
	slog.Info("GeoIP database opened", "path", path)
	return newLookup(db, cacheSize), nil
}

func newLookup(db countryReader, cacheSize int) *Lookup {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	return &Lookup{db: db, cache: newLRUCache(cacheSize)}
}

func (l *Lookup) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	if err != nil {
		slog.Error("GeoIP database close failed", "err", err)
		return err
	}
	slog.Info("GeoIP database closed")
	return nil
}

// Country returns the ISO country code of host, or Unknown.
func (l *Lookup) Country(host types.HostAddress) string {
	if l == nil {
		return Unknown
	}
	if cc, ok := l.cache.get(host); ok {
		return cc
	}
	l.mu.RLock()
	db := l.db
	l.mu.RUnlock()
	if db == nil {
		slog.Warn("GeoIP lookup on closed database", "host", host)
		return Unknown
	}
	record, err := db.Country(net.IP(host.Addr().AsSlice()))
	if err != nil {
		slog.Warn("GeoIP country lookup failed", "host", host, "err", err)
		l.cache.put(host, Unknown)
		return Unknown
	}
	cc := Unknown
	if record.Country.IsoCode != "" {
		cc = record.Country.IsoCode
	}
	l.cache.put(host, cc)
	return cc
}
