// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

package route

import (
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/hostshaper-ebpf/internal/types"
	"gopkg.in/yaml.v3"
)

// Route is one control-plane route table entry.
type Route struct {
	Table types.TableSelector
	Key   types.RouteKey
	Entry types.RouteEntry
}

func (r Route) String() string {
	return fmt.Sprintf("%s %s cpu=%d handle=%s", r.Table, FormatPrefix(r.Key), r.Entry.CPU, r.Entry.TCHandle)
}

// ParsePrefix parses "addr" or "addr/len". IPv4 prefix lengths are shifted
// into the mapped range; a bare address is a host route.
func ParsePrefix(s string) (types.RouteKey, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "/") {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return types.RouteKey{}, fmt.Errorf("%w: %v", ErrInvalidPrefix, err)
		}
		return types.RouteKey{PrefixLen: 128, Address: types.HostAddressFrom(addr)}, nil
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return types.RouteKey{}, fmt.Errorf("%w: %v", ErrInvalidPrefix, err)
	}
	// Masking a short mapped prefix clears the ::ffff marker, so check first.
	if p.Addr().Is4In6() && p.Bits() < 96 {
		return types.RouteKey{}, fmt.Errorf("%w: mapped prefix %s shorter than /96", ErrInvalidPrefix, s)
	}
	p = p.Masked()
	bits := p.Bits()
	if p.Addr().Is4() {
		bits += 96
	}
	return types.RouteKey{PrefixLen: uint32(bits), Address: types.HostAddressFrom(p.Addr())}, nil
}

// FormatPrefix renders k the way ParsePrefix accepts it.
func FormatPrefix(k types.RouteKey) string {
	if k.Address.IsV4() && k.PrefixLen >= 96 {
		return fmt.Sprintf("%s/%d", k.Address, k.PrefixLen-96)
	}
	return fmt.Sprintf("%s/%d", k.Address, k.PrefixLen)
}

// ParseTable accepts "primary"/"download" and "reciprocal"/"upload".
func ParseTable(s string) (types.TableSelector, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "primary", "download":
		return types.TablePrimary, nil
	case "reciprocal", "upload":
		return types.TableReciprocal, nil
	}
	return 0, fmt.Errorf("unknown route table %q", s)
}

// ParseRoute builds a route from its textual parts.
func ParseRoute(prefix, handle string, cpu uint32, table string) (Route, error) {
	key, err := ParsePrefix(prefix)
	if err != nil {
		return Route{}, err
	}
	h, err := types.ParseTCHandle(handle)
	if err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrInvalidHandle, err)
	}
	sel, err := ParseTable(table)
	if err != nil {
		return Route{}, err
	}
	if cpu >= types.MaxCPUs {
		return Route{}, fmt.Errorf("cpu %d out of range", cpu)
	}
	return Route{Table: sel, Key: key, Entry: types.RouteEntry{CPU: cpu, TCHandle: h}}, nil
}

type fileRoute struct {
	Prefix string `yaml:"prefix"`
	Handle string `yaml:"handle"`
	CPU    uint32 `yaml:"cpu"`
	Table  string `yaml:"table"`
}

type file struct {
	Routes []fileRoute `yaml:"routes"`
}

// Decode parses a YAML route list:
//
//	routes:
//	  - prefix: 100.64.0.0/24
//	    handle: "1:10"
//	    cpu: 2
//	    table: primary
func Decode(data []byte) ([]Route, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode routes: %w", err)
	}
	routes := make([]Route, 0, len(f.Routes))
	for i, fr := range f.Routes {
		r, err := ParseRoute(fr.Prefix, fr.Handle, fr.CPU, fr.Table)
		if err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}
		routes = append(routes, r)
	}
	return routes, nil
}

// LoadFile reads and decodes a route file.
func LoadFile(path string) ([]Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
