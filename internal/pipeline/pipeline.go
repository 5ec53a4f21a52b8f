// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

// Package pipeline runs the per-packet ingress and egress hooks over the
// shared route, CPU and queue tables.
//
// Hooks are run-to-completion and allocation-free. They never fail: every
// anomaly degrades to PASS or OK and bumps a per-core diagnostic slot.
package pipeline

import (
	"errors"
	"sync/atomic"

	"github.com/hostshaper-ebpf/internal/cpumap"
	"github.com/hostshaper-ebpf/internal/direction"
	"github.com/hostshaper-ebpf/internal/dissect"
	"github.com/hostshaper-ebpf/internal/egress"
	"github.com/hostshaper-ebpf/internal/rtt"
	"github.com/hostshaper-ebpf/internal/types"
)

// RouteLookup resolves a host in the selected route table.
type RouteLookup interface {
	Lookup(sel types.TableSelector, addr types.HostAddress) (types.RouteEntry, bool)
}

// CounterSink records traffic for a host on the calling core.
type CounterSink interface {
	Record(core uint32, host types.HostAddress, dir types.Direction, length uint64, handle types.TCHandle) bool
}

// CPUAvailability maps a logical CPU to a physical core.
type CPUAvailability interface {
	Physical(logical uint32) (uint32, bool)
}

// QueueMapping resolves the transmit queue of a physical core.
type QueueMapping = egress.QueueLookup

// Redirector hands a packet to another core. On success the receiver owns
// pkt.
type Redirector interface {
	Redirect(core uint32, pkt *Packet) bool
}

// Packet is one frame seen by a hook. Priority and QueueMapping are the
// egress annotations.
type Packet struct {
	Data      []byte
	WireLen   uint32 // zero means len(Data)
	Core      uint32
	Timestamp int64

	Priority     uint32
	QueueMapping uint16
}

func (p *Packet) length() uint64 {
	if p.WireLen != 0 {
		return uint64(p.WireLen)
	}
	return uint64(len(p.Data))
}

type IngressAction uint8

const (
	Pass IngressAction = iota
	Redirect
)

func (a IngressAction) String() string {
	if a == Redirect {
		return "redirect"
	}
	return "pass"
}

// IngressVerdict is the ingress outcome. Core is set for Redirect.
type IngressVerdict struct {
	Action IngressAction
	Core   uint32
}

type EgressVerdict uint8

const (
	OK EgressVerdict = iota
	Block
)

func (v EgressVerdict) String() string {
	if v == Block {
		return "block"
	}
	return "ok"
}

// Config is fixed for the lifetime of a Pipeline.
type Config struct {
	Direction           direction.Config
	RequireQueueMapping bool
}

// Deps are the shared tables and collaborators of a Pipeline.
type Deps struct {
	Routes RouteLookup // required
	// Counters may be nil to disable accounting.
	Counters CounterSink
	CPUs     CPUAvailability
	Queues   QueueMapping
	// Redirector may be nil; Ingress then only reports the target core and
	// the caller performs the hand-off.
	Redirector Redirector
	Sampler    rtt.Sampler
}

var ErrNoRoutes = errors.New("pipeline: route lookup is required")

// coreSlot is written only by the core it belongs to, except the overflow
// slot which every core at or above MaxCPUs shares.
type coreSlot struct {
	stats  [types.NumStats]atomic.Uint64
	rtt    rtt.Context
	shared bool
	_      [64]byte
}

func (s *coreSlot) inc(i int) {
	if s.shared {
		s.stats[i].Add(1)
		return
	}
	s.stats[i].Store(s.stats[i].Load() + 1)
}

// context returns the sampler context for this slot. The shared slot hands
// out a fresh one per packet.
func (s *coreSlot) context() *rtt.Context {
	if s.shared {
		return &rtt.Context{}
	}
	return &s.rtt
}

type Pipeline struct {
	cfg         Config
	configError bool

	routes     RouteLookup
	counters   CounterSink
	cpus       CPUAvailability
	queues     QueueMapping
	redirector Redirector
	sampler    rtt.Sampler

	cores []coreSlot
}

// New builds a pipeline. An unset or unknown role is not an error: the
// pipeline then passes every packet and counts config_error.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Routes == nil {
		return nil, ErrNoRoutes
	}
	p := &Pipeline{
		cfg:        cfg,
		routes:     deps.Routes,
		counters:   deps.Counters,
		cpus:       deps.CPUs,
		queues:     deps.Queues,
		redirector: deps.Redirector,
		sampler:    deps.Sampler,
		cores:      make([]coreSlot, types.MaxCPUs+1),
	}
	p.cores[types.MaxCPUs].shared = true
	switch cfg.Direction.Role {
	case types.RoleInternet, types.RoleLAN, types.RoleVLANCombined:
	default:
		p.configError = true
	}
	if p.cpus == nil {
		p.cpus = cpumap.NewAvailability()
	}
	if p.queues == nil {
		p.queues = cpumap.NewQueueMap()
	}
	if p.sampler == nil {
		p.sampler = rtt.NopSampler{}
	}
	return p, nil
}

// ConfigError reports whether the pipeline runs in pass-everything mode.
func (p *Pipeline) ConfigError() bool { return p.configError }

func (p *Pipeline) slot(core uint32) *coreSlot {
	if core >= types.MaxCPUs {
		return &p.cores[types.MaxCPUs]
	}
	return &p.cores[core]
}

// Ingress classifies pkt at the ingress hook on pkt.Core.
func (p *Pipeline) Ingress(pkt *Packet) IngressVerdict {
	core := pkt.Core
	s := p.slot(core)
	s.inc(types.StatPacketsSeen)
	if p.configError {
		s.inc(types.StatConfigError)
		return IngressVerdict{Action: Pass}
	}
	v, ok := dissect.Dissect(pkt.Data)
	if !ok {
		s.inc(types.StatUnparseable)
		return IngressVerdict{Action: Pass}
	}
	res, ok := direction.Resolve(p.cfg.Direction, &v, direction.Ingress)
	if !ok {
		return IngressVerdict{Action: Pass}
	}
	entry, found := p.routes.Lookup(res.Table, res.Address)
	if !found {
		s.inc(types.StatNoRoute)
	}
	if p.counters != nil && !p.counters.Record(core, res.Address, res.Direction, pkt.length(), entry.TCHandle) {
		s.inc(types.StatAccountingFull)
	}
	if entry.TCHandle == 0 {
		return IngressVerdict{Action: Pass}
	}
	phys, ok := p.cpus.Physical(entry.CPU)
	if !ok {
		s.inc(types.StatCPUUnmapped)
		return IngressVerdict{Action: Pass}
	}
	// pkt belongs to the target core once the hand-off succeeds
	if p.redirector != nil && !p.redirector.Redirect(phys, pkt) {
		s.inc(types.StatRedirectFailed)
		return IngressVerdict{Action: Pass}
	}
	return IngressVerdict{Action: Redirect, Core: phys}
}

// Egress classifies pkt at the egress hook on pkt.Core and annotates its
// priority and transmit queue.
func (p *Pipeline) Egress(pkt *Packet) EgressVerdict {
	core := pkt.Core
	s := p.slot(core)
	s.inc(types.StatPacketsSeen)
	if p.configError {
		s.inc(types.StatConfigError)
		return OK
	}
	v, ok := dissect.Dissect(pkt.Data)
	if !ok {
		s.inc(types.StatUnparseable)
		return OK
	}
	res, ok := direction.Resolve(p.cfg.Direction, &v, direction.Egress)
	if !ok {
		return OK
	}
	entry, found := p.routes.Lookup(res.Table, res.Address)
	if !found {
		s.inc(types.StatNoRoute)
	}

	ctx := s.context()
	*ctx = rtt.Context{
		Timestamp:    pkt.Timestamp,
		PacketLength: uint32(pkt.length()),
		IPHeader:     v.IPHeader(pkt.Data),
		L3Offset:     v.L3Offset,
		Protocol:     v.Protocol,
		Address:      res.Address,
		Handle:       entry.TCHandle,
	}
	if !p.sample(ctx) {
		s.inc(types.StatSamplerPanics)
	}
	ctx.IPHeader = nil

	if p.counters != nil && !p.counters.Record(core, res.Address, res.Direction, pkt.length(), entry.TCHandle) {
		s.inc(types.StatAccountingFull)
	}

	d := egress.Classify(entry.TCHandle, core, p.queues, p.cfg.RequireQueueMapping)
	if d.SetPriority {
		pkt.Priority = d.Priority
	}
	if d.SetQueue {
		pkt.QueueMapping = d.QueueMapping
	}
	if d.QueueUnmapped {
		s.inc(types.StatQueueUnmapped)
	}
	if d.Block {
		s.inc(types.StatEgressBlocked)
		return Block
	}
	return OK
}

// sample calls the sampler and swallows its panics.
func (p *Pipeline) sample(ctx *rtt.Context) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	p.sampler.Sample(ctx)
	return true
}

// CoreStats returns the diagnostic counters of one core. Cores at or above
// MaxCPUs all report the shared overflow slot.
func (p *Pipeline) CoreStats(core uint32) [types.NumStats]uint64 {
	var out [types.NumStats]uint64
	s := p.slot(core)
	for i := range out {
		out[i] = s.stats[i].Load()
	}
	return out
}

// Stats sums the diagnostic counters of every core.
func (p *Pipeline) Stats() ([types.NumStats]uint64, error) {
	var out [types.NumStats]uint64
	for c := range p.cores {
		s := &p.cores[c]
		for i := range out {
			out[i] += s.stats[i].Load()
		}
	}
	return out, nil
}
