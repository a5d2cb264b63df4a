/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

package publisher

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aschilling-nv/dynamo/pkg/metrics"
	"github.com/aschilling-nv/dynamo/pkg/protocol"
)

// Prometheus publishes KV transfer stats as prometheus metrics.
type Prometheus struct {
	registry *prometheus.Registry
	started  atomic.Bool
	errs     errorQueue

	lastTransferLatency prometheus.Gauge
	publishedTotal      prometheus.Counter
}

// NewPrometheus creates a prometheus-backed publisher registering onto the
// given registry.
func NewPrometheus(registry *prometheus.Registry) *Prometheus {
	return &Prometheus{
		registry: registry,
		errs:     newErrorQueue(),
		lastTransferLatency: prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: metrics.WorkerSubsystem,
			Name:      "kv_transfer_last_latency_seconds",
			Help:      "Latency of the most recent KV cache transfer; -1 when no transfer occurred.",
		}),
		publishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: metrics.WorkerSubsystem,
			Name:      "kv_perf_published_total",
			Help:      "Total number of KV transfer records published.",
		}),
	}
}

// Start implements Publisher. Safe to call more than once.
func (p *Prometheus) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return nil
	}
	for _, c := range []prometheus.Collector{p.lastTransferLatency, p.publishedTotal} {
		if err := p.registry.Register(c); err != nil {
			p.errs.put(err)
		}
	}
	return nil
}

// CheckErrorQueue implements Publisher.
func (p *Prometheus) CheckErrorQueue() error { return p.errs.take() }

// PublishKvPerf implements Publisher.
func (p *Prometheus) PublishKvPerf(stats protocol.KvPerfStats) {
	p.lastTransferLatency.Set(stats.TransferLatency)
	p.publishedTotal.Inc()
}
