// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

package geoip

import (
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/hostshaper-ebpf/internal/types"
	"github.com/oschwald/geoip2-golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDB struct {
	countries map[string]string
	calls     int
	closed    bool
}

func (f *fakeDB) Country(ip net.IP) (*geoip2.Country, error) {
	f.calls++
	cc, ok := f.countries[ip.String()]
	if !ok {
		return nil, errors.New("not found")
	}
	rec := &geoip2.Country{}
	rec.Country.IsoCode = cc
	return rec, nil
}

func (f *fakeDB) Close() error {
	f.closed = true
	return nil
}

func host(s string) types.HostAddress {
	return types.HostAddressFrom(netip.MustParseAddr(s))
}

func TestCountryCachesResults(t *testing.T) {
	db := &fakeDB{countries: map[string]string{"81.2.69.142": "GB", "2a02:ff0::1": "DE"}}
	l := newLookup(db, 8)

	assert.Equal(t, "GB", l.Country(host("81.2.69.142")))
	assert.Equal(t, "GB", l.Country(host("81.2.69.142")))
	assert.Equal(t, "DE", l.Country(host("2a02:ff0::1")))
	assert.Equal(t, 2, db.calls)
}

func TestCountryUnknown(t *testing.T) {
	db := &fakeDB{countries: map[string]string{}}
	l := newLookup(db, 8)
	assert.Equal(t, Unknown, l.Country(host("10.0.0.1")))
	assert.Equal(t, Unknown, l.Country(host("10.0.0.1")))
	assert.Equal(t, 1, db.calls, "failures are cached too")

	var nilLookup *Lookup
	assert.Equal(t, Unknown, nilLookup.Country(host("10.0.0.1")))
	assert.NoError(t, nilLookup.Close())
}

func TestClose(t *testing.T) {
	db := &fakeDB{countries: map[string]string{"81.2.69.142": "GB"}}
	l := newLookup(db, 8)
	require.NoError(t, l.Close())
	assert.True(t, db.closed)
	assert.Equal(t, Unknown, l.Country(host("81.2.69.142")))
	require.NoError(t, l.Close())
}

func TestLRUEvictsOldest(t *testing.T) {
	c := newLRUCache(2)
	a, b, d := host("10.0.0.1"), host("10.0.0.2"), host("2001:db8::1")
	c.put(a, "A")
	c.put(b, "B")
	_, _ = c.get(a) // a is now most recent
	c.put(d, "D")

	_, ok := c.get(b)
	assert.False(t, ok, "b should be evicted")
	v, ok := c.get(a)
	assert.True(t, ok)
	assert.Equal(t, "A", v)
	assert.Equal(t, 2, c.len())

	c.put(a, "A2")
	v, _ = c.get(a)
	assert.Equal(t, "A2", v)
	assert.Equal(t, 2, c.len())
}
