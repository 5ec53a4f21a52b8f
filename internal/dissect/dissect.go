// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

// Package dissect turns a raw Ethernet frame into the bounded view the
// classifier works on. It never allocates and never writes to the frame.
package dissect

import (
	"encoding/binary"

	"github.com/google/gopacket/layers"
	"github.com/hostshaper-ebpf/internal/types"
)

const (
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4
	pppoeHeaderLen    = 8 // 6 bytes PPPoE session + 2 bytes PPP protocol
	ipv4HeaderMinLen  = 20
	ipv6HeaderLen     = 40

	// maxEncapsulation bounds the L2 header walk (VLAN, QinQ, PPPoE).
	maxEncapsulation = 4

	pppProtoIPv4 = 0x0021
	pppProtoIPv6 = 0x0057
)

// Address families reported in View.Family.
const (
	FamilyIPv4 uint8 = 4
	FamilyIPv6 uint8 = 6
)

// View is the logical description of one parsed frame.
type View struct {
	L3Offset    uint32
	IPHeaderLen uint32
	Family      uint8
	Protocol    uint8
	// VLAN is the innermost 802.1Q/802.1ad tag; valid only when HasVLAN.
	VLAN    uint16
	HasVLAN bool
	Src     types.HostAddress
	Dst     types.HostAddress
}

// IPHeader returns the IP header bytes referenced by v inside frame.
func (v *View) IPHeader(frame []byte) []byte {
	end := v.L3Offset + v.IPHeaderLen
	if uint32(len(frame)) < end {
		return nil
	}
	return frame[v.L3Offset:end]
}

// Dissect parses frame. ok is false for truncated frames, unsupported
// ethertypes and malformed IP headers; callers must then pass the packet
// through untouched.
func Dissect(frame []byte) (v View, ok bool) {
	if len(frame) < ethernetHeaderLen {
		return v, false
	}
	etherType := layers.EthernetType(binary.BigEndian.Uint16(frame[12:14]))
	offset := ethernetHeaderLen

	for i := 0; i <= maxEncapsulation; i++ {
		switch etherType {
		case layers.EthernetTypeDot1Q, layers.EthernetTypeQinQ:
			if len(frame) < offset+vlanHeaderLen {
				return v, false
			}
			v.VLAN = binary.BigEndian.Uint16(frame[offset:offset+2]) & 0x0FFF
			v.HasVLAN = true
			etherType = layers.EthernetType(binary.BigEndian.Uint16(frame[offset+2 : offset+4]))
			offset += vlanHeaderLen
		case layers.EthernetTypePPPoESession:
			if len(frame) < offset+pppoeHeaderLen {
				return v, false
			}
			switch binary.BigEndian.Uint16(frame[offset+6 : offset+8]) {
			case pppProtoIPv4:
				etherType = layers.EthernetTypeIPv4
			case pppProtoIPv6:
				etherType = layers.EthernetTypeIPv6
			default:
				return v, false
			}
			offset += pppoeHeaderLen
		case layers.EthernetTypeIPv4:
			return dissectIPv4(frame, offset, v)
		case layers.EthernetTypeIPv6:
			return dissectIPv6(frame, offset, v)
		default:
			return v, false
		}
	}
	// Too many stacked headers.
	return v, false
}

func dissectIPv4(frame []byte, offset int, v View) (View, bool) {
	if len(frame) < offset+ipv4HeaderMinLen {
		return v, false
	}
	ip := frame[offset:]
	if ip[0]>>4 != 4 {
		return v, false
	}
	headerLen := int(ip[0]&0x0F) * 4
	if headerLen < ipv4HeaderMinLen || len(ip) < headerLen {
		return v, false
	}
	if int(binary.BigEndian.Uint16(ip[2:4])) < headerLen {
		return v, false
	}
	v.L3Offset = uint32(offset)
	v.IPHeaderLen = uint32(headerLen)
	v.Family = FamilyIPv4
	v.Protocol = ip[9]
	v.Src = types.HostAddressFromV4(ip[12], ip[13], ip[14], ip[15])
	v.Dst = types.HostAddressFromV4(ip[16], ip[17], ip[18], ip[19])
	return v, true
}

func dissectIPv6(frame []byte, offset int, v View) (View, bool) {
	if len(frame) < offset+ipv6HeaderLen {
		return v, false
	}
	ip := frame[offset:]
	if ip[0]>>4 != 6 {
		return v, false
	}
	v.L3Offset = uint32(offset)
	v.IPHeaderLen = ipv6HeaderLen
	v.Family = FamilyIPv6
	v.Protocol = ip[6]
	copy(v.Src[:], ip[8:24])
	copy(v.Dst[:], ip[24:40])
	return v, true
}
