/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

package worker

import (
	"fmt"

	"github.com/go-logr/logr"
	logutil "sigs.k8s.io/gateway-api-inference-extension/pkg/epp/util/logging"

	"github.com/aschilling-nv/dynamo/pkg/engine"
	"github.com/aschilling-nv/dynamo/pkg/metrics"
	"github.com/aschilling-nv/dynamo/pkg/protocol"
)

// computeKvPerfMetrics derives transfer latency and throughput from the
// timing sample the engine attaches to a finished request. When no bytes
// were transferred both values are the -1 sentinel. Start and end come from
// the engine's own clock; start >= end with a non-zero size is an engine
// contract violation, not a user error.
func computeKvPerfMetrics(sizeBytes int64, start, end float64) (latency, bytesPerSecond float64) {
	if sizeBytes == 0 {
		return -1, -1
	}
	if start >= end {
		panic(fmt.Sprintf("kv cache transfer start time %f is not before end time %f", start, end))
	}
	latency = end - start
	return latency, float64(sizeBytes) / latency
}

// publishKvPerf computes and hands the transfer stats to the publisher, and
// records them on the worker's own collectors.
func (h *handlerBase) publishKvPerf(logger logr.Logger, pm *engine.RequestPerfMetrics) {
	latency, bytesPerSecond := computeKvPerfMetrics(pm.KvCacheSize, pm.KvTransferStart, pm.KvTransferEnd)

	if h.publisher != nil {
		h.publisher.PublishKvPerf(protocol.KvPerfStats{TransferLatency: latency})
	}
	if latency >= 0 {
		metrics.KvTransferLatency.Observe(latency)
		metrics.KvTransferThroughput.Observe(bytesPerSecond)
	}

	logger.V(logutil.DEFAULT).Info("kv transfer completed",
		"latency", latency,
		"bytesPerSecond", bytesPerSecond,
		"firstTokenTime", pm.FirstTokenTime)
}
