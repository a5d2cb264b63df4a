/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

package worker

import (
	"context"

	"sigs.k8s.io/controller-runtime/pkg/log"
	logutil "sigs.k8s.io/gateway-api-inference-extension/pkg/epp/util/logging"

	"github.com/aschilling-nv/dynamo/pkg/engine"
)

// cancellationMonitor bridges an external stop/kill signal to the engine's
// abort-by-id primitive for exactly one in-flight call. It cannot start
// until the engine-internal request id is known, which only happens after
// the first streamed snapshot; the generation loop starts it lazily at that
// point. Whichever way the loop exits, the monitor must be stopped and
// awaited so no watcher outlives its request.
type cancellationMonitor struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// startCancellationMonitor spawns the watcher task for the given engine
// request id. The watcher blocks until the context signals stop or kill,
// then delivers the abort. Abort failures are logged and swallowed: they
// must not corrupt the caller's in-flight stream.
func startCancellationMonitor(ctx context.Context, eng engine.Engine, engineRequestID string, rc Context) *cancellationMonitor {
	logger := log.FromContext(ctx).WithValues("engineRequestID", engineRequestID, "contextID", rc.ID())

	// The monitor's lifetime is bound to stop(), not to the request ctx,
	// so an abort issued during stream teardown can still go out.
	mctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m := &cancellationMonitor{cancel: cancel, done: make(chan struct{})}

	abort := func() {
		logger.V(logutil.DEFAULT).Info("cancellation signal received, aborting engine request")
		// Deliver the abort even if stop() races in during teardown.
		if err := eng.Abort(context.WithoutCancel(mctx), engineRequestID); err != nil {
			logger.Error(err, "failed to abort engine request")
			return
		}
		logger.V(logutil.DEBUG).Info("aborted engine request")
	}

	go func() {
		defer close(m.done)
		logger.V(logutil.DEBUG).Info("cancellation monitor started")

		// A signal raised before the engine id was known must win over
		// teardown, or the engine call would be orphaned.
		select {
		case <-rc.StoppedOrKilled():
			abort()
			return
		default:
		}

		select {
		case <-rc.StoppedOrKilled():
			abort()
		case <-mctx.Done():
			logger.V(logutil.DEBUG).Info("cancellation monitor cancelled")
		}
	}()

	return m
}

// stop tears the watcher down and waits for it to exit.
func (m *cancellationMonitor) stop() {
	m.cancel()
	<-m.done
}
