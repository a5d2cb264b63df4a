/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

package mock

import (
	"sync"
	"sync/atomic"

	"github.com/aschilling-nv/dynamo/pkg/protocol"
	"github.com/aschilling-nv/dynamo/pkg/publisher"
)

var _ publisher.Publisher = (*Publisher)(nil)

// Publisher records every interaction with the publisher interface.
type Publisher struct {
	mu         sync.Mutex
	kvPerf     []protocol.KvPerfStats
	starts     atomic.Int32
	StartErr   error
	QueuedErrs []error
}

func (p *Publisher) Start() error {
	p.starts.Add(1)
	return p.StartErr
}

func (p *Publisher) CheckErrorQueue() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.QueuedErrs) == 0 {
		return nil
	}
	err := p.QueuedErrs[0]
	p.QueuedErrs = p.QueuedErrs[1:]
	return err
}

func (p *Publisher) PublishKvPerf(stats protocol.KvPerfStats) {
	p.mu.Lock()
	p.kvPerf = append(p.kvPerf, stats)
	p.mu.Unlock()
}

// Starts returns the number of Start calls observed.
func (p *Publisher) Starts() int {
	return int(p.starts.Load())
}

// KvPerf returns a copy of every published stats record.
func (p *Publisher) KvPerf() []protocol.KvPerfStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.KvPerfStats(nil), p.kvPerf...)
}
