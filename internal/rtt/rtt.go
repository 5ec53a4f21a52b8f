// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

// Package rtt defines the context handed to round-trip-time samplers at
// egress and two samplers: one that discards and one that queues copies.
package rtt

import (
	"sync/atomic"

	"github.com/hostshaper-ebpf/internal/types"
)

// MaxHeaderLen is the longest IP header a Sample keeps.
const MaxHeaderLen = 60

// Context describes one egress packet. IPHeader aliases the frame and is
// only valid for the duration of the Sample call.
type Context struct {
	Timestamp    int64 // nanoseconds
	PacketLength uint32
	IPHeader     []byte
	L3Offset     uint32
	Protocol     uint8
	Address      types.HostAddress
	Handle       types.TCHandle
}

// Sampler receives egress contexts. Implementations must not block and
// must not retain Context.IPHeader.
type Sampler interface {
	Sample(ctx *Context)
}

// NopSampler discards every context.
type NopSampler struct{}

func (NopSampler) Sample(*Context) {}

// Sample is a self-contained copy of a Context.
type Sample struct {
	Timestamp    int64
	PacketLength uint32
	L3Offset     uint32
	Protocol     uint8
	HeaderLen    uint8
	Header       [MaxHeaderLen]byte
	Address      types.HostAddress
	Handle       types.TCHandle
}

// IPHeader returns the copied header bytes.
func (s *Sample) IPHeader() []byte {
	return s.Header[:s.HeaderLen]
}

// ChannelSampler copies contexts into a bounded channel. When the consumer
// falls behind, samples are dropped and counted.
type ChannelSampler struct {
	ch      chan Sample
	dropped atomic.Uint64
}

func NewChannelSampler(size int) *ChannelSampler {
	if size <= 0 {
		size = 1024
	}
	return &ChannelSampler{ch: make(chan Sample, size)}
}

func (c *ChannelSampler) Sample(ctx *Context) {
	s := Sample{
		Timestamp:    ctx.Timestamp,
		PacketLength: ctx.PacketLength,
		L3Offset:     ctx.L3Offset,
		Protocol:     ctx.Protocol,
		Address:      ctx.Address,
		Handle:       ctx.Handle,
	}
	s.HeaderLen = uint8(copy(s.Header[:], ctx.IPHeader))
	select {
	case c.ch <- s:
	default:
		c.dropped.Add(1)
	}
}

// Samples returns the receive side of the queue.
func (c *ChannelSampler) Samples() <-chan Sample {
	return c.ch
}

// Dropped returns how many samples were discarded because the queue was full.
func (c *ChannelSampler) Dropped() uint64 {
	return c.dropped.Load()
}
