/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

// Package metrics defines the worker's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// WorkerSubsystem is the metrics subsystem for the worker handlers.
	WorkerSubsystem = "dynamo_worker"
)

var (
	// RequestCount counts requests handled by the worker, by serving mode
	// and result.
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: WorkerSubsystem,
			Name:      "requests_total",
			Help:      "Total number of generation requests processed by the worker.",
		},
		[]string{"mode", "result"},
	)

	// KvTransferLatency observes KV cache transfer latency in seconds.
	KvTransferLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Subsystem: WorkerSubsystem,
			Name:      "kv_transfer_latency_seconds",
			Help:      "Latency of KV cache transfers between prefill and decode workers.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	// KvTransferThroughput observes KV cache transfer throughput in bytes
	// per second.
	KvTransferThroughput = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Subsystem: WorkerSubsystem,
			Name:      "kv_transfer_throughput_bytes_per_second",
			Help:      "Throughput of KV cache transfers between prefill and decode workers.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 12),
		},
	)
)

// GetCollectors returns all custom collectors for the worker.
func GetCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		RequestCount,
		KvTransferLatency,
		KvTransferThroughput,
	}
}
