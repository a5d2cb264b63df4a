/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

package publisher

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aschilling-nv/dynamo/pkg/protocol"
)

const redisPublishTimeout = 5 * time.Second

// Redis appends KV transfer records to a redis stream, one XADD per record.
// Publishing is fire-and-forget; failures queue on the error mailbox and
// fail the next request that checks it.
type Redis struct {
	client  *redis.Client
	stream  string
	started atomic.Bool
	errs    errorQueue
}

// NewRedis creates a redis-backed publisher for the given address and
// stream key.
func NewRedis(addr, stream string) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		stream: stream,
		errs:   newErrorQueue(),
	}
}

// Start implements Publisher. Verifies connectivity once.
func (r *Redis) Start() error {
	if !r.started.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

// CheckErrorQueue implements Publisher.
func (r *Redis) CheckErrorQueue() error { return r.errs.take() }

// PublishKvPerf implements Publisher.
func (r *Redis) PublishKvPerf(stats protocol.KvPerfStats) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
		defer cancel()
		err := r.client.XAdd(ctx, &redis.XAddArgs{
			Stream: r.stream,
			Values: map[string]any{"transfer_latency": stats.TransferLatency},
		}).Err()
		if err != nil {
			r.errs.put(err)
		}
	}()
}

// Close releases the redis connection.
func (r *Redis) Close() error { return r.client.Close() }
