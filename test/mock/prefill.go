/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

package mock

import (
	"context"
	"sync"

	"github.com/aschilling-nv/dynamo/pkg/protocol"
	"github.com/aschilling-nv/dynamo/pkg/worker"
)

// PrefillClient hands back a scripted bootstrap handle and records the
// requests it dispatched.
type PrefillClient struct {
	mu       sync.Mutex
	requests []*protocol.DisaggRequest
	Info     *protocol.BootstrapInfo
	Err      error
}

var _ worker.PrefillClient = (*PrefillClient)(nil)

func (c *PrefillClient) Generate(_ context.Context, req *protocol.DisaggRequest, _ worker.Context) (*protocol.BootstrapInfo, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Info, nil
}

// Requests returns a copy of every dispatched request.
func (c *PrefillClient) Requests() []*protocol.DisaggRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*protocol.DisaggRequest(nil), c.requests...)
}
