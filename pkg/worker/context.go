/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

package worker

import (
	"context"
	"sync"
)

// Context is the cancellation and identity handle the transport layer passes
// in with each request. The handler references it but does not own its
// lifecycle. A stop asks generation to wind down; a kill indicates the
// caller is gone. Both wake the cancellation monitor.
type Context interface {
	// ID returns the stable transport-level request id.
	ID() string

	IsStopped() bool
	IsKilled() bool

	// StoppedOrKilled returns a channel closed once either signal fires.
	StoppedOrKilled() <-chan struct{}
}

// CancelContext is a Context whose signals are raised explicitly.
type CancelContext struct {
	id string

	mu      sync.Mutex
	stopped bool
	killed  bool
	ch      chan struct{}
}

// NewContext returns a CancelContext with no signal raised.
func NewContext(id string) *CancelContext {
	return &CancelContext{id: id, ch: make(chan struct{})}
}

// ID implements Context.
func (c *CancelContext) ID() string { return c.id }

// Stop raises the stop signal. Idempotent.
func (c *CancelContext) Stop() { c.signal(false) }

// Kill raises the kill signal. Idempotent.
func (c *CancelContext) Kill() { c.signal(true) }

func (c *CancelContext) signal(kill bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fired := c.stopped || c.killed
	if kill {
		c.killed = true
	} else {
		c.stopped = true
	}
	if !fired {
		close(c.ch)
	}
}

// IsStopped implements Context.
func (c *CancelContext) IsStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// IsKilled implements Context.
func (c *CancelContext) IsKilled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.killed
}

// StoppedOrKilled implements Context.
func (c *CancelContext) StoppedOrKilled() <-chan struct{} { return c.ch }

// FromContext adapts a transport context.Context into a worker Context. The
// parent's cancellation is treated as a kill.
func FromContext(ctx context.Context, id string) Context {
	return &ctxContext{id: id, ctx: ctx}
}

type ctxContext struct {
	id  string
	ctx context.Context
}

func (c *ctxContext) ID() string                       { return c.id }
func (c *ctxContext) IsStopped() bool                  { return false }
func (c *ctxContext) IsKilled() bool                   { return c.ctx.Err() != nil }
func (c *ctxContext) StoppedOrKilled() <-chan struct{} { return c.ctx.Done() }
