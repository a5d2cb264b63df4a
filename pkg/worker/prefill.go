/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

package worker

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/controller-runtime/pkg/log"
	logutil "sigs.k8s.io/gateway-api-inference-extension/pkg/epp/util/logging"

	"github.com/aschilling-nv/dynamo/pkg/engine"
	"github.com/aschilling-nv/dynamo/pkg/protocol"
)

// PrefillHandler serves the context-producing stage of a disaggregated
// pairing. Its stream yields the bootstrap rendezvous descriptor as its
// first and only observable item; the cache-producing engine call runs to
// completion as a detached background task, observed by the caller only
// through cancellation.
type PrefillHandler struct {
	*handlerBase

	bootstrapHost string
	bootstrapPort int

	background errgroup.Group

	roomFn func() int64 // test override
}

// NewPrefillHandler builds a handler for prefill serving.
func NewPrefillHandler(cfg Config) (*PrefillHandler, error) {
	if cfg.Mode != ModePrefill {
		return nil, fmt.Errorf("unsupported serving mode for prefill handler: %q", cfg.Mode)
	}
	base, err := newHandlerBase(cfg)
	if err != nil {
		return nil, err
	}
	return &PrefillHandler{
		handlerBase:   base,
		bootstrapHost: cfg.BootstrapHost,
		bootstrapPort: cfg.BootstrapPort,
		// The room only needs process-wide uniqueness; 63 random bits make
		// collisions negligible under concurrently starting handlers.
		roomFn: rand.Int64,
	}, nil
}

// Generate validates the paired-handler request and returns a stream whose
// single item carries the BootstrapInfo for the decode worker.
func (h *PrefillHandler) Generate(ctx context.Context, dreq *protocol.DisaggRequest, rc Context) (ResponseStream, error) {
	if dreq == nil || dreq.Request == nil {
		return nil, fmt.Errorf("%w: missing request payload", ErrInvalidRequest)
	}
	req := dreq.Request

	logger := log.FromContext(ctx).WithValues("requestID", req.RequestID())
	if rc != nil {
		logger = logger.WithValues("contextID", rc.ID())
	}
	ctx = log.IntoContext(ctx, logger)
	logger.V(logutil.DEBUG).Info("new prefill request")

	if err := h.checkPublisher(); err != nil {
		recordResult(h.mode, err)
		return nil, err
	}
	dparams, err := h.deriveDisagg(req)
	if err != nil {
		recordResult(h.mode, err)
		return nil, err
	}

	params := h.mergeWireSampling(dreq.SamplingParams)
	// Prefill never generates beyond the first token.
	params.MaxTokens = 1

	genReq := h.engineRequest(req, params, dparams)
	info := &protocol.BootstrapInfo{
		Host: h.bootstrapHost,
		Port: h.bootstrapPort,
		Room: h.roomFn(),
	}
	genReq.BootstrapHost = info.Host
	genReq.BootstrapPort = info.Port
	genReq.BootstrapRoom = info.Room

	stream := newChunkStream(1)
	stream.send(&protocol.ResponseChunk{Bootstrap: info})
	stream.close(nil)

	// The caller returns as soon as it has the bootstrap info; the engine
	// call must not die with the transport request.
	bctx := log.IntoContext(context.WithoutCancel(ctx), logger)
	h.background.Go(func() error {
		h.consume(bctx, genReq, rc)
		return nil
	})

	return stream, nil
}

// consume drains the cache-producing engine call, keeping the cancellation
// monitor wired so an external stop can still abort the prefill.
func (h *PrefillHandler) consume(ctx context.Context, genReq *engine.GenerateRequest, rc Context) {
	logger := log.FromContext(ctx)

	results, err := h.engine.Generate(ctx, genReq)
	if err != nil {
		logger.Error(err, "prefill engine call failed")
		recordResult(h.mode, err)
		return
	}

	discard := func(*protocol.ResponseChunk) {}
	if err := h.streamEngineOutput(ctx, results, rc, h.newChunker(), discard); err != nil {
		logger.Error(err, "prefill generation failed")
		recordResult(h.mode, err)
		return
	}
	logger.V(logutil.TRACE).Info("prefill generation complete")
	recordResult(h.mode, nil)
}

// mergeWireSampling merges the decode side's pre-derived sampling parameters
// onto this handler's defaults. Values arrive as JSON-decoded wire types.
func (h *PrefillHandler) mergeWireSampling(m map[string]any) *engine.SamplingParams {
	params := h.defaults.Clone()
	if v, ok := wireFloat(m["temperature"]); ok {
		params.Temperature = v
	}
	if v, ok := wireFloat(m["top_p"]); ok {
		params.TopP = v
	}
	if v, ok := wireInt(m["top_k"]); ok {
		params.TopK = v
	}
	if v, ok := wireInt(m["max_tokens"]); ok {
		params.MaxTokens = v
	}
	if v, ok := wireInt(m["min_tokens"]); ok {
		params.MinTokens = v
	}
	if v, ok := m["ignore_eos"].(bool); ok {
		params.IgnoreEOS = v
	}
	if v, ok := wireStrings(m["stop"]); ok {
		params.Stop = v
	}
	return params
}

func wireFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// wireStrings accepts both an in-process []string and the []any a JSON
// decode produces for the same value.
func wireStrings(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			str, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}

func wireInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

// Close waits for any detached prefill generation to finish and releases the
// engine if the handler owns a closable one.
func (h *PrefillHandler) Close() error {
	_ = h.background.Wait()
	if c, ok := h.engine.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
