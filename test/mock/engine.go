/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

package mock

import (
	"context"
	"io"
	"sync"

	"github.com/aschilling-nv/dynamo/pkg/engine"
)

// Engine is a scripted engine double. By default every Generate call
// replays Snapshots in order; set Stream to hand out a custom stream
// (e.g. a ChannelStream) instead.
type Engine struct {
	mu          sync.Mutex
	requests    []*engine.GenerateRequest
	aborted     []string
	Snapshots   []*engine.Snapshot
	Stream      engine.ResultStream
	GenerateErr error
	AbortErr    error
}

func (e *Engine) Generate(_ context.Context, req *engine.GenerateRequest) (engine.ResultStream, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()
	if e.GenerateErr != nil {
		return nil, e.GenerateErr
	}
	if e.Stream != nil {
		return e.Stream, nil
	}
	return NewSnapshotStream(e.Snapshots...), nil
}

func (e *Engine) Abort(_ context.Context, requestID string) error {
	e.mu.Lock()
	e.aborted = append(e.aborted, requestID)
	e.mu.Unlock()
	return e.AbortErr
}

// Requests returns a copy of every request passed to Generate.
func (e *Engine) Requests() []*engine.GenerateRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*engine.GenerateRequest(nil), e.requests...)
}

// LastRequest returns the most recent Generate request, or nil.
func (e *Engine) LastRequest() *engine.GenerateRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.requests) == 0 {
		return nil
	}
	return e.requests[len(e.requests)-1]
}

// Aborted returns a copy of every request id passed to Abort.
func (e *Engine) Aborted() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.aborted...)
}

// SnapshotStream replays a fixed snapshot sequence, then io.EOF.
type SnapshotStream struct {
	mu    sync.Mutex
	snaps []*engine.Snapshot
	next  int
}

func NewSnapshotStream(snaps ...*engine.Snapshot) *SnapshotStream {
	return &SnapshotStream{snaps: snaps}
}

func (s *SnapshotStream) Recv(ctx context.Context) (*engine.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.snaps) {
		return nil, io.EOF
	}
	snap := s.snaps[s.next]
	s.next++
	return snap, nil
}

// ChannelStream yields snapshots as the test sends them; closing Ch
// ends the stream with io.EOF. Useful for pinning the consumer between
// snapshots.
type ChannelStream struct {
	Ch chan *engine.Snapshot
}

func NewChannelStream() *ChannelStream {
	return &ChannelStream{Ch: make(chan *engine.Snapshot)}
}

func (s *ChannelStream) Recv(ctx context.Context) (*engine.Snapshot, error) {
	select {
	case snap, ok := <-s.Ch:
		if !ok {
			return nil, io.EOF
		}
		return snap, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
