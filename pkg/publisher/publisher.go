/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

// Package publisher is the boundary to the telemetry plane. Handlers start
// the publisher lazily on the first generated token, surface its queued
// errors as request failures, and hand it the derived KV transfer stats.
package publisher

import "github.com/aschilling-nv/dynamo/pkg/protocol"

// Publisher is the telemetry publisher boundary.
type Publisher interface {
	// Start begins emitting. Called lazily once the first token has been
	// produced; engine-side statistics do not exist before that point.
	// Must be idempotent: a benign double-start race is tolerated.
	Start() error

	// CheckErrorQueue drains one queued publisher error, or returns nil.
	CheckErrorQueue() error

	// PublishKvPerf hands one KV transfer record to the publisher.
	// Best-effort; failures surface later through CheckErrorQueue.
	PublishKvPerf(stats protocol.KvPerfStats)
}

// Nop is a Publisher that discards everything.
type Nop struct{}

// Start implements Publisher.
func (Nop) Start() error { return nil }

// CheckErrorQueue implements Publisher.
func (Nop) CheckErrorQueue() error { return nil }

// PublishKvPerf implements Publisher.
func (Nop) PublishKvPerf(protocol.KvPerfStats) {}

// errorQueue is the non-blocking error mailbox shared by implementations.
type errorQueue struct {
	ch chan error
}

func newErrorQueue() errorQueue {
	return errorQueue{ch: make(chan error, 16)}
}

// put queues an error, dropping it if the queue is full.
func (q errorQueue) put(err error) {
	select {
	case q.ch <- err:
	default:
	}
}

// take drains one queued error, or returns nil.
func (q errorQueue) take() error {
	select {
	case err := <-q.ch:
		return err
	default:
		return nil
	}
}
