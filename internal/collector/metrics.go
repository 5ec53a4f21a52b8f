// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

package collector

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	bytesTotal          *prometheus.CounterVec
	packetsTotal        *prometheus.CounterVec
	classBytesTotal     *prometheus.CounterVec
	countryBytesTotal   *prometheus.CounterVec
	diagnosticsTotal    *prometheus.CounterVec
	throughputBits      *prometheus.GaugeVec
	hostsTracked        prometheus.Gauge
	unknownHosts        prometheus.Gauge
	pollDurationSeconds prometheus.Gauge
	configPollInterval  prometheus.Gauge
	configTopN          prometheus.Gauge
}

func newMetrics() *metrics {
	return &metrics{
		bytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hostshaper_bytes_total",
				Help: "Total bytes accounted (monotonic), by direction.",
			},
			[]string{"direction"},
		),
		packetsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hostshaper_packets_total",
				Help: "Total packets accounted (monotonic), by direction.",
			},
			[]string{"direction"},
		),
		classBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hostshaper_class_bytes_total",
				Help: "Bytes accounted by traffic class major handle (\"1:\") and direction. Hosts without a handle are \"unclassified\".",
			},
			[]string{"class", "direction"},
		),
		countryBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hostshaper_country_bytes_total",
				Help: "Bytes accounted by host country and direction. Only exported when a GeoIP database is configured.",
			},
			[]string{"country", "direction"},
		),
		diagnosticsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hostshaper_diagnostics_total",
				Help: "Per-packet diagnostic events summed over cores, by kind.",
			},
			[]string{"kind"},
		),
		throughputBits: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hostshaper_throughput_bits_per_second",
				Help: "Aggregate throughput measured over the last poll, by direction.",
			},
			[]string{"direction"},
		),
		hostsTracked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hostshaper_hosts_tracked",
				Help: "Hosts present in the traffic table at the last poll.",
			},
		),
		unknownHosts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hostshaper_unknown_hosts",
				Help: "Tracked hosts that never matched a route with a traffic class handle.",
			},
		),
		pollDurationSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hostshaper_poll_duration_seconds",
				Help: "Time in seconds spent reading the traffic table in the last poll.",
			},
		),
		configPollInterval: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hostshaper_config_poll_interval_seconds",
				Help: "Configured poll interval in seconds.",
			},
		),
		configTopN: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hostshaper_config_top_n",
				Help: "Configured number of hosts kept in the top list.",
			},
		),
	}
}

func (m *metrics) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.bytesTotal,
		m.packetsTotal,
		m.classBytesTotal,
		m.countryBytesTotal,
		m.diagnosticsTotal,
		m.throughputBits,
		m.hostsTracked,
		m.unknownHosts,
		m.pollDurationSeconds,
		m.configPollInterval,
		m.configTopN,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	slog.Info("Prometheus metrics registered")
	return nil
}
