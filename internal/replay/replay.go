// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

// Package replay drives the pipeline from a capture file using the
// in-memory tables.
package replay

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
	"github.com/hostshaper-ebpf/internal/accounting"
	"github.com/hostshaper-ebpf/internal/cpumap"
	"github.com/hostshaper-ebpf/internal/pipeline"
	"github.com/hostshaper-ebpf/internal/route"
	"github.com/hostshaper-ebpf/internal/rtt"
	"github.com/hostshaper-ebpf/internal/types"
)

// Hook selects which pipeline hooks see the replayed frames.
type Hook uint8

const (
	HookIngress Hook = iota + 1
	HookEgress
	// HookBoth runs ingress, then egress on the core the frame ended on.
	HookBoth
)

var ErrUnknownHook = errors.New("unknown hook")

func ParseHook(s string) (Hook, error) {
	switch strings.ToLower(s) {
	case "ingress", "":
		return HookIngress, nil
	case "egress":
		return HookEgress, nil
	case "both":
		return HookBoth, nil
	}
	return 0, fmt.Errorf("%w %q (want ingress, egress or both)", ErrUnknownHook, s)
}

func (h Hook) String() string {
	switch h {
	case HookIngress:
		return "ingress"
	case HookEgress:
		return "egress"
	case HookBoth:
		return "both"
	}
	return fmt.Sprintf("hook(%d)", uint8(h))
}

type Config struct {
	Pipeline pipeline.Config
	Hook     Hook
	// Core is the core every frame arrives on.
	Core uint32
	// Cores is the number of redirect targets and accounting shards.
	Cores     int
	MaxHosts  int
	QueueSize int
	// IdentityQueues maps every core to transmit queue core+1.
	IdentityQueues bool
}

// Result totals one replay.
type Result struct {
	Frames      uint64            `json:"frames"`
	Passed      uint64            `json:"passed"`
	Redirected  uint64            `json:"redirected"`
	Delivered   uint64            `json:"delivered"`
	EgressOK    uint64            `json:"egress_ok"`
	Blocked     uint64            `json:"blocked"`
	RTTSamples  uint64            `json:"rtt_samples"`
	RTTDropped  uint64            `json:"rtt_dropped"`
	PerCore     map[uint32]uint64 `json:"delivered_per_core,omitempty"`
	ConfigError bool              `json:"config_error,omitempty"`
}

// Replayer owns a pipeline wired to in-memory tables.
type Replayer struct {
	cfg      Config
	tables   *route.Tables
	acct     *accounting.Accountant
	cpus     *cpumap.Availability
	queues   *cpumap.QueueMap
	redirect *cpumap.Queues[*pipeline.Packet]
	sampler  *rtt.ChannelSampler
	pipe     *pipeline.Pipeline

	inflight  sync.WaitGroup
	delivered []atomic.Uint64
	egressOK  atomic.Uint64
	blocked   atomic.Uint64
}

// New loads routes into fresh tables and marks Cores CPUs available.
func New(cfg Config, routes []route.Route) (*Replayer, error) {
	if cfg.Hook == 0 {
		cfg.Hook = HookIngress
	}
	if cfg.Cores <= 0 {
		cfg.Cores = 1
	}
	if cfg.Cores > types.MaxCPUs {
		return nil, fmt.Errorf("%w: %d cores", cpumap.ErrCoreOutOfRange, cfg.Cores)
	}
	if cfg.MaxHosts <= 0 {
		cfg.MaxHosts = types.MaxTrackedHosts
	}
	if int(cfg.Core) >= cfg.Cores {
		return nil, fmt.Errorf("%w: core %d with %d cores", cpumap.ErrCoreOutOfRange, cfg.Core, cfg.Cores)
	}

	r := &Replayer{
		cfg:       cfg,
		tables:    route.NewTables(types.MaxRouteEntries),
		acct:      accounting.New(cfg.Cores, cfg.MaxHosts),
		cpus:      cpumap.NewAvailability(),
		queues:    cpumap.NewQueueMap(),
		sampler:   rtt.NewChannelSampler(cfg.QueueSize),
		delivered: make([]atomic.Uint64, cfg.Cores),
	}
	if err := route.Apply(r.tables, routes); err != nil {
		return nil, err
	}
	if err := r.cpus.MarkAvailable(cfg.Cores); err != nil {
		return nil, err
	}
	if cfg.IdentityQueues {
		if err := r.queues.MapIdentity(cfg.Cores); err != nil {
			return nil, err
		}
	}
	r.redirect = cpumap.NewQueues(cfg.Cores, cfg.QueueSize, r.deliver)

	p, err := pipeline.New(cfg.Pipeline, pipeline.Deps{
		Routes:     r.tables,
		Counters:   r.acct,
		CPUs:       r.cpus,
		Queues:     r.queues,
		Redirector: redirector{r},
		Sampler:    r.sampler,
	})
	if err != nil {
		return nil, err
	}
	r.pipe = p
	return r, nil
}

func (r *Replayer) Accountant() *accounting.Accountant { return r.acct }
func (r *Replayer) Pipeline() *pipeline.Pipeline      { return r.pipe }

// redirector runs same-core hand-offs inline so each core slot keeps a
// single writer.
type redirector struct{ r *Replayer }

func (d redirector) Redirect(core uint32, pkt *pipeline.Packet) bool {
	if core == d.r.cfg.Core {
		d.r.deliver(core, pkt)
		return true
	}
	d.r.inflight.Add(1)
	if !d.r.redirect.Redirect(core, pkt) {
		d.r.inflight.Done()
		return false
	}
	return true
}

// deliver is the receive side of a redirect.
func (r *Replayer) deliver(core uint32, pkt *pipeline.Packet) {
	if core != r.cfg.Core {
		defer r.inflight.Done()
	}
	if int(core) < len(r.delivered) {
		r.delivered[core].Add(1)
	}
	if r.cfg.Hook == HookBoth {
		pkt.Core = core
		r.egress(pkt)
	}
}

func (r *Replayer) egress(pkt *pipeline.Packet) {
	if r.pipe.Egress(pkt) == pipeline.Block {
		r.blocked.Add(1)
		return
	}
	r.egressOK.Add(1)
}

// packetSource reads pcap or pcapng, chosen by the file magic.
func packetSource(src io.Reader) (gopacket.PacketDataSource, error) {
	br := bufio.NewReader(src)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}
	if binary.BigEndian.Uint32(magic) == 0x0A0D0D0A {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("open pcapng: %w", err)
		}
		return ng, nil
	}
	rd, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("open pcap: %w", err)
	}
	return rd, nil
}

// Run feeds every frame of src through the configured hooks and returns the
// totals once all redirected frames have been delivered.
func (r *Replayer) Run(ctx context.Context, src io.Reader) (Result, error) {
	source, err := packetSource(src)
	if err != nil {
		return Result{}, err
	}

	workerCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		r.redirect.Wait()
	}()
	r.redirect.Start(workerCtx)

	var samples atomic.Uint64
	stop := make(chan struct{})
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			select {
			case <-r.sampler.Samples():
				samples.Add(1)
			case <-stop:
				for {
					select {
					case <-r.sampler.Samples():
						samples.Add(1)
					default:
						return
					}
				}
			}
		}
	}()
	stopSampler := sync.OnceFunc(func() {
		close(stop)
		<-drained
	})
	defer stopSampler()

	res := Result{ConfigError: r.pipe.ConfigError()}
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		data, ci, err := source.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("frame %d: %w", res.Frames+1, err)
		}
		res.Frames++
		pkt := &pipeline.Packet{
			Data:      data,
			WireLen:   uint32(ci.Length),
			Core:      r.cfg.Core,
			Timestamp: ci.Timestamp.UnixNano(),
		}
		if r.cfg.Hook == HookEgress {
			r.egress(pkt)
			continue
		}
		v := r.pipe.Ingress(pkt)
		if v.Action == pipeline.Redirect {
			res.Redirected++
			continue
		}
		res.Passed++
		if r.cfg.Hook == HookBoth {
			r.egress(pkt)
		}
	}

	// every sampling call has returned once in-flight frames are delivered
	r.inflight.Wait()
	stopSampler()

	res.RTTSamples = samples.Load()
	res.RTTDropped = r.sampler.Dropped()
	res.EgressOK = r.egressOK.Load()
	res.Blocked = r.blocked.Load()
	res.PerCore = make(map[uint32]uint64)
	for i := range r.delivered {
		if n := r.delivered[i].Load(); n > 0 {
			res.PerCore[uint32(i)] = n
			res.Delivered += n
		}
	}
	slog.Debug("replay done", "frames", res.Frames, "redirected", res.Redirected, "delivered", res.Delivered)
	return res, nil
}
