// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

package types

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Limits shared with the hook programs.
const (
	// MaxTrackedHosts is the per-shard capacity of the traffic table.
	MaxTrackedHosts = 128000
	// MaxRouteEntries is the per-instance capacity of a route table.
	MaxRouteEntries = 65534
	// MaxCPUs bounds logical and physical core indices.
	MaxCPUs = 1024
	// DefaultCPUQueueSize is the per-core hand-off queue depth.
	DefaultCPUQueueSize = 2048
	// CPUUnmapped marks a cpus_available slot with no physical core.
	CPUUnmapped = 0xFFFFFFFF
)

// HostAddress is a 128-bit normalized address. IPv4 is stored as twelve
// 0xFF bytes followed by the four address bytes; IPv6 is stored as-is.
type HostAddress [16]byte

var v4Prefix = [12]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// HostAddressFromV4 embeds four IPv4 bytes (network order).
func HostAddressFromV4(b0, b1, b2, b3 byte) HostAddress {
	var h HostAddress
	copy(h[:12], v4Prefix[:])
	h[12], h[13], h[14], h[15] = b0, b1, b2, b3
	return h
}

// HostAddressFrom converts a netip.Addr. 4in6 addresses are unmapped first.
func HostAddressFrom(addr netip.Addr) HostAddress {
	addr = addr.Unmap()
	if addr.Is4() {
		b := addr.As4()
		return HostAddressFromV4(b[0], b[1], b[2], b[3])
	}
	return HostAddress(addr.As16())
}

// IsV4 reports whether h carries an embedded IPv4 address.
func (h HostAddress) IsV4() bool {
	return [12]byte(h[:12]) == v4Prefix
}

// Addr returns the netip form of h.
func (h HostAddress) Addr() netip.Addr {
	if h.IsV4() {
		return netip.AddrFrom4([4]byte(h[12:]))
	}
	return netip.AddrFrom16(h)
}

func (h HostAddress) String() string {
	return h.Addr().String()
}

// Direction is the logical direction of a packet relative to the subscriber.
type Direction uint32

const (
	DirectionNone     Direction = 0
	DirectionDownload Direction = 1
	DirectionUpload   Direction = 2
)

func (d Direction) String() string {
	switch d {
	case DirectionDownload:
		return "download"
	case DirectionUpload:
		return "upload"
	default:
		return "none"
	}
}

// Role is the load-time interface role. RoleUnset is the configuration
// error state in which every packet is passed through.
type Role uint32

const (
	RoleInternet     Role = 1
	RoleLAN          Role = 2
	RoleVLANCombined Role = 3
	RoleUnset        Role = 255
)

func (r Role) String() string {
	switch r {
	case RoleInternet:
		return "internet"
	case RoleLAN:
		return "lan"
	case RoleVLANCombined:
		return "vlan-combined"
	default:
		return "unset"
	}
}

// ParseRole accepts the config spellings of a role. An empty string is the
// unset role, not an error.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return RoleUnset, nil
	case "internet", "internet-facing":
		return RoleInternet, nil
	case "lan", "isp", "lan-facing":
		return RoleLAN, nil
	case "vlan-combined", "combined", "on-a-stick", "stick":
		return RoleVLANCombined, nil
	default:
		return RoleUnset, fmt.Errorf("unknown interface role %q: must be one of internet, lan, vlan-combined", s)
	}
}

// TableSelector picks the route table instance to consult.
type TableSelector uint8

const (
	TablePrimary    TableSelector = 0
	TableReciprocal TableSelector = 1
)

func (s TableSelector) String() string {
	if s == TableReciprocal {
		return "reciprocal"
	}
	return "primary"
}

// TCHandle is a traffic-class handle, major in the high 16 bits.
type TCHandle uint32

// NewTCHandle composes a handle from its major and minor parts.
func NewTCHandle(major, minor uint16) TCHandle {
	return TCHandle(uint32(major)<<16 | uint32(minor))
}

func (h TCHandle) Major() uint16 { return uint16(h >> 16) }
func (h TCHandle) Minor() uint16 { return uint16(h) }

// String formats the handle the way tc prints it (hex major:minor).
func (h TCHandle) String() string {
	return strconv.FormatUint(uint64(h.Major()), 16) + ":" + strconv.FormatUint(uint64(h.Minor()), 16)
}

// ParseTCHandle parses "major:minor" with hex parts, as tc accepts them.
func ParseTCHandle(s string) (TCHandle, error) {
	major, minor, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("tc handle %q: expected major:minor", s)
	}
	ma, err := strconv.ParseUint(strings.TrimPrefix(major, "0x"), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("tc handle %q: major: %w", s, err)
	}
	var mi uint64
	if minor != "" {
		mi, err = strconv.ParseUint(strings.TrimPrefix(minor, "0x"), 16, 16)
		if err != nil {
			return 0, fmt.Errorf("tc handle %q: minor: %w", s, err)
		}
	}
	return NewTCHandle(uint16(ma), uint16(mi)), nil
}

// RouteEntry is the value stored for a prefix in a route table.
// Matches struct ip_hash_info in the hook programs.
type RouteEntry struct {
	CPU      uint32
	TCHandle TCHandle
}

// RouteKey matches struct ip_hash_key: prefix length in bits and the
// normalized address.
type RouteKey struct {
	PrefixLen uint32
	Address   HostAddress
}

// HostCounter matches struct host_counter in the per-CPU traffic map.
type HostCounter struct {
	DownloadBytes   uint64
	UploadBytes     uint64
	DownloadPackets uint64
	UploadPackets   uint64
	TCHandle        TCHandle
	_               [4]byte
}

// Add sums o into c. The handle keeps the last non-zero value.
func (c *HostCounter) Add(o HostCounter) {
	c.DownloadBytes += o.DownloadBytes
	c.UploadBytes += o.UploadBytes
	c.DownloadPackets += o.DownloadPackets
	c.UploadPackets += o.UploadPackets
	if o.TCHandle != 0 {
		c.TCHandle = o.TCHandle
	}
}

// TxqConfig matches struct txq_config in map_txq_config.
type TxqConfig struct {
	QueueMapping uint16
	HTBMajor     uint16
}

// Per-core diagnostic slots.
const (
	StatPacketsSeen    = 0
	StatUnparseable    = 1
	StatNoRoute        = 2
	StatCPUUnmapped    = 3
	StatRedirectFailed = 4
	StatAccountingFull = 5
	StatQueueUnmapped  = 6
	StatEgressBlocked  = 7
	StatConfigError    = 8
	StatSamplerPanics  = 9
	NumStats           = 10
)

// StatNames labels the diagnostic slots for metrics and reports.
var StatNames = [NumStats]string{
	"packets_seen",
	"unparseable",
	"no_route",
	"cpu_unmapped",
	"redirect_failed",
	"accounting_full",
	"queue_unmapped",
	"egress_blocked",
	"config_error",
	"rtt_sampler_panics",
}
