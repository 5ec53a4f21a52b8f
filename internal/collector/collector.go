// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

// Package collector aggregates the per-core traffic table into prometheus
// metrics and a throughput view.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hostshaper-ebpf/internal/geoip"
	"github.com/hostshaper-ebpf/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sugawarayuuta/sonnet"
)

// Config is read-only after New.
type Config struct {
	PollInterval  time.Duration
	ListenAddress string // empty disables the HTTP server
	MetricsPath   string
	TopN          int
}

// HostSource yields every tracked host with its counters summed over cores.
// Implemented by the in-memory accountant and the pinned traffic map.
type HostSource interface {
	Hosts(fn func(types.HostAddress, types.HostCounter)) error
}

// StatSource yields the diagnostic slots summed over cores.
type StatSource interface {
	Stats() ([types.NumStats]uint64, error)
}

// warnStats are the diagnostics worth a log line when they increase.
var warnStats = []int{
	types.StatCPUUnmapped,
	types.StatRedirectFailed,
	types.StatAccountingFull,
	types.StatQueueUnmapped,
	types.StatEgressBlocked,
	types.StatConfigError,
	types.StatSamplerPanics,
}

type Collector struct {
	cfg      Config
	hosts    HostSource
	stats    StatSource // may be nil
	geo      *geoip.Lookup
	metrics  *metrics
	tracker  *Tracker
	gatherer prometheus.Gatherer

	mu        sync.Mutex // protects prevStats, lastPoll
	prevStats [types.NumStats]uint64
	lastPoll  time.Time
}

// New builds a collector and registers its metrics with reg. A nil reg
// selects the prometheus default registry. stats and geo may be nil.
func New(cfg Config, hosts HostSource, stats StatSource, geo *geoip.Lookup, reg *prometheus.Registry) (*Collector, error) {
	if hosts == nil {
		return nil, errors.New("collector: host source is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be > 0, got %v", cfg.PollInterval)
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	c := &Collector{
		cfg:      cfg,
		hosts:    hosts,
		stats:    stats,
		geo:      geo,
		metrics:  newMetrics(),
		tracker:  NewTracker(),
		gatherer: gatherer,
	}
	if err := c.metrics.register(registerer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	c.metrics.configPollInterval.Set(cfg.PollInterval.Seconds())
	c.metrics.configTopN.Set(float64(cfg.TopN))
	return c, nil
}

// Tracker exposes the throughput tracker fed by Poll.
func (c *Collector) Tracker() *Tracker { return c.tracker }

// Run serves metrics and polls until ctx is done.
func (c *Collector) Run(ctx context.Context) error {
	if c.cfg.ListenAddress != "" {
		srv := &http.Server{Addr: c.cfg.ListenAddress, Handler: c.Handler()}
		slog.Debug("HTTP server starting", "listen", c.cfg.ListenAddress, "metrics_path", c.cfg.MetricsPath)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("http server", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	slog.Debug("poll loop started", "interval", c.cfg.PollInterval)
	for {
		select {
		case <-ctx.Done():
			slog.Debug("context canceled, exiting poll loop")
			return ctx.Err()
		case <-ticker.C:
			if err := c.Poll(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				slog.Error("poll", "err", err)
			}
		}
	}
}

// Handler serves the metrics path and a JSON snapshot at /hosts.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(c.cfg.MetricsPath, promhttp.HandlerFor(
		c.gatherer,
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))
	mux.HandleFunc("/hosts", func(w http.ResponseWriter, r *http.Request) {
		body, err := sonnet.Marshal(c.Snapshot())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	})
	return mux
}

// Poll reads the traffic table once and updates metrics and the tracker.
func (c *Collector) Poll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	current, err := Collect(c.hosts)
	if err != nil {
		return err
	}
	readDuration := time.Since(start).Seconds()
	c.metrics.pollDurationSeconds.Set(readDuration)

	deltas := c.tracker.Update(start, current)
	for _, d := range deltas {
		c.observe(d)
	}

	unknown := 0
	for _, hc := range current {
		if hc.TCHandle == 0 {
			unknown++
		}
	}
	bps := c.tracker.BitsPerSecond()
	c.metrics.hostsTracked.Set(float64(len(current)))
	c.metrics.unknownHosts.Set(float64(unknown))
	c.metrics.throughputBits.WithLabelValues("download").Set(float64(bps.Download))
	c.metrics.throughputBits.WithLabelValues("upload").Set(float64(bps.Upload))

	if c.stats != nil {
		if err := c.readStats(); err != nil {
			slog.Warn("read diagnostics", "err", err)
		}
	}
	c.mu.Lock()
	c.lastPoll = start
	c.mu.Unlock()
	slog.Debug("poll done", "hosts", len(current), "unknown", unknown, "duration_sec", readDuration)
	return nil
}

// Collect reads src once into a map keyed by host.
func Collect(src HostSource) (map[types.HostAddress]types.HostCounter, error) {
	current := make(map[types.HostAddress]types.HostCounter)
	if err := src.Hosts(func(h types.HostAddress, hc types.HostCounter) {
		cur := current[h]
		cur.Add(hc)
		current[h] = cur
	}); err != nil {
		return nil, fmt.Errorf("read traffic table: %w", err)
	}
	return current, nil
}

func (c *Collector) observe(d Delta) {
	class := classMajor(d.Counter.TCHandle)
	down, up := float64(d.Counter.DownloadBytes), float64(d.Counter.UploadBytes)

	c.metrics.bytesTotal.WithLabelValues("download").Add(down)
	c.metrics.bytesTotal.WithLabelValues("upload").Add(up)
	c.metrics.packetsTotal.WithLabelValues("download").Add(float64(d.Counter.DownloadPackets))
	c.metrics.packetsTotal.WithLabelValues("upload").Add(float64(d.Counter.UploadPackets))
	c.metrics.classBytesTotal.WithLabelValues(class, "download").Add(down)
	c.metrics.classBytesTotal.WithLabelValues(class, "upload").Add(up)
	if c.geo != nil && (down > 0 || up > 0) {
		country := c.geo.Country(d.Host)
		c.metrics.countryBytesTotal.WithLabelValues(country, "download").Add(down)
		c.metrics.countryBytesTotal.WithLabelValues(country, "upload").Add(up)
	}
}

func (c *Collector) readStats() error {
	sums, err := c.stats.Stats()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var deltas [types.NumStats]uint64
	for i := 0; i < types.NumStats; i++ {
		deltas[i] = since(sums[i], c.prevStats[i])
		if deltas[i] > 0 {
			c.metrics.diagnosticsTotal.WithLabelValues(types.StatNames[i]).Add(float64(deltas[i]))
		}
		c.prevStats[i] = sums[i]
	}
	for _, i := range warnStats {
		if deltas[i] > 0 {
			slog.Warn("diagnostic counter increased", "kind", types.StatNames[i], "delta", deltas[i], "total", sums[i])
		}
	}
	return nil
}
