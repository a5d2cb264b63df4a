/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

package worker

import (
	"context"
	"io"
	"sync"

	"github.com/aschilling-nv/dynamo/pkg/engine"
	"github.com/aschilling-nv/dynamo/pkg/protocol"
)

// fakeEngine replays scripted snapshots and records every interaction.
type fakeEngine struct {
	mu          sync.Mutex
	requests    []*engine.GenerateRequest
	aborted     []string
	snapshots   []*engine.Snapshot
	generateErr error
	abortErr    error
}

func (e *fakeEngine) Generate(_ context.Context, req *engine.GenerateRequest) (engine.ResultStream, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()
	if e.generateErr != nil {
		return nil, e.generateErr
	}
	return &fakeStream{snaps: e.snapshots}, nil
}

func (e *fakeEngine) Abort(_ context.Context, requestID string) error {
	e.mu.Lock()
	e.aborted = append(e.aborted, requestID)
	e.mu.Unlock()
	return e.abortErr
}

func (e *fakeEngine) lastRequest() *engine.GenerateRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.requests) == 0 {
		return nil
	}
	return e.requests[len(e.requests)-1]
}

func (e *fakeEngine) abortedIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.aborted...)
}

type fakeStream struct {
	snaps []*engine.Snapshot
	next  int
}

func (s *fakeStream) Recv(ctx context.Context) (*engine.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.snaps) {
		return nil, io.EOF
	}
	snap := s.snaps[s.next]
	s.next++
	return snap, nil
}

// fakePublisher records starts and published stats.
type fakePublisher struct {
	mu        sync.Mutex
	starts    int
	kvPerf    []protocol.KvPerfStats
	queuedErr error
}

func (p *fakePublisher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	return nil
}

func (p *fakePublisher) CheckErrorQueue() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.queuedErr
	p.queuedErr = nil
	return err
}

func (p *fakePublisher) PublishKvPerf(stats protocol.KvPerfStats) {
	p.mu.Lock()
	p.kvPerf = append(p.kvPerf, stats)
	p.mu.Unlock()
}

func (p *fakePublisher) startCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts
}

func (p *fakePublisher) published() []protocol.KvPerfStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.KvPerfStats(nil), p.kvPerf...)
}

// fakePrefillClient hands back a scripted bootstrap descriptor.
type fakePrefillClient struct {
	mu       sync.Mutex
	requests []*protocol.DisaggRequest
	info     *protocol.BootstrapInfo
	err      error
}

func (c *fakePrefillClient) Generate(_ context.Context, req *protocol.DisaggRequest, _ Context) (*protocol.BootstrapInfo, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return c.info, nil
}

func (c *fakePrefillClient) lastRequest() *protocol.DisaggRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		return nil
	}
	return c.requests[len(c.requests)-1]
}

// drain consumes a stream to completion, returning every chunk and the
// terminating error (nil when the stream ended with io.EOF).
func drain(stream ResponseStream) ([]*protocol.ResponseChunk, error) {
	var chunks []*protocol.ResponseChunk
	for {
		chunk, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				return chunks, nil
			}
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
}
