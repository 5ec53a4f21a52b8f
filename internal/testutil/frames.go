// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

// Package testutil builds wire-format frames for tests and replay fixtures.
package testutil

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Frame describes a synthetic Ethernet frame.
type Frame struct {
	Src      string
	Dst      string
	VLANs    []uint16 // outermost first
	PPPoE    bool
	Protocol layers.IPProtocol
	// Len is the total frame length. Zero means headers plus 16 payload bytes.
	Len int
}

var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// Build serializes f. It panics on invalid input; it is meant for tests.
func Build(f Frame) []byte {
	src := netip.MustParseAddr(f.Src)
	dst := netip.MustParseAddr(f.Dst)
	if src.Is4() != dst.Is4() {
		panic(fmt.Sprintf("mixed address families %s -> %s", f.Src, f.Dst))
	}
	proto := f.Protocol
	if proto == 0 {
		proto = layers.IPProtocolTCP
	}

	ipType := layers.EthernetTypeIPv4
	pppType := layers.PPPTypeIPv4
	ipLen := 20
	if src.Is6() {
		ipType = layers.EthernetTypeIPv6
		pppType = layers.PPPTypeIPv6
		ipLen = 40
	}

	headerLen := 14 + 4*len(f.VLANs) + ipLen
	if f.PPPoE {
		headerLen += 8
	}
	payloadLen := 16
	if f.Len > 0 {
		payloadLen = f.Len - headerLen
		if payloadLen < 0 {
			panic(fmt.Sprintf("frame length %d shorter than headers (%d)", f.Len, headerLen))
		}
	}

	afterL2 := ipType
	if f.PPPoE {
		afterL2 = layers.EthernetTypePPPoESession
	}

	var stack []gopacket.SerializableLayer
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: afterL2}
	if len(f.VLANs) > 0 {
		eth.EthernetType = layers.EthernetTypeDot1Q
	}
	stack = append(stack, eth)
	for i, id := range f.VLANs {
		next := afterL2
		if i < len(f.VLANs)-1 {
			next = layers.EthernetTypeDot1Q
		}
		stack = append(stack, &layers.Dot1Q{VLANIdentifier: id, Type: next})
	}
	if f.PPPoE {
		stack = append(stack,
			&layers.PPPoE{Version: 1, Type: 1, Code: layers.PPPoECodeSession, SessionId: 7},
			&layers.PPP{PPPType: pppType},
		)
	}
	if src.Is4() {
		stack = append(stack, &layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Protocol: proto,
			SrcIP:    src.AsSlice(),
			DstIP:    dst.AsSlice(),
		})
	} else {
		stack = append(stack, &layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: proto,
			SrcIP:      src.AsSlice(),
			DstIP:      dst.AsSlice(),
		})
	}
	stack = append(stack, gopacket.Payload(make([]byte, payloadLen)))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, stack...); err != nil {
		panic(fmt.Sprintf("serialize frame: %v", err))
	}
	return buf.Bytes()
}
