/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"sigs.k8s.io/controller-runtime/pkg/log"
	logutil "sigs.k8s.io/gateway-api-inference-extension/pkg/epp/util/logging"

	"github.com/aschilling-nv/dynamo/pkg/engine"
	"github.com/aschilling-nv/dynamo/pkg/protocol"
)

// PrefillClient reaches a paired prefill worker. Generate returns the
// bootstrap rendezvous descriptor read from the first item of the prefill
// handler's stream, or nil when the stream ended without producing one.
type PrefillClient interface {
	Generate(ctx context.Context, req *protocol.DisaggRequest, rc Context) (*protocol.BootstrapInfo, error)
}

// DecodeHandler serves aggregated and decode-stage requests. In decode mode
// it first rendezvouses with a paired prefill worker for the bootstrap
// descriptor, then issues exactly one local engine call.
type DecodeHandler struct {
	*handlerBase
	prefill PrefillClient
}

// NewDecodeHandler builds a handler for aggregated or decode serving.
func NewDecodeHandler(cfg Config) (*DecodeHandler, error) {
	switch cfg.Mode {
	case ModeAggregated, ModeDecode:
	default:
		return nil, fmt.Errorf("unsupported serving mode for decode handler: %q", cfg.Mode)
	}
	if cfg.Mode == ModeDecode && cfg.PrefillClient == nil {
		return nil, errors.New("prefill client must be provided when serving mode is decode")
	}
	base, err := newHandlerBase(cfg)
	if err != nil {
		return nil, err
	}
	return &DecodeHandler{handlerBase: base, prefill: cfg.PrefillClient}, nil
}

// Generate validates the request, derives engine parameters and returns the
// chunk stream. Validation failures are returned directly, before any engine
// call is issued; failures past dispatch terminate the stream.
func (h *DecodeHandler) Generate(ctx context.Context, req *protocol.Request, rc Context) (ResponseStream, error) {
	logger := log.FromContext(ctx).WithValues("requestID", req.RequestID())
	if rc != nil {
		logger = logger.WithValues("contextID", rc.ID())
	}
	ctx = log.IntoContext(ctx, logger)
	logger.V(logutil.DEBUG).Info("new request", "mode", h.mode)

	if err := h.checkPublisher(); err != nil {
		recordResult(h.mode, err)
		return nil, err
	}

	dparams, err := h.deriveDisagg(req)
	if err != nil {
		recordResult(h.mode, err)
		return nil, err
	}
	params := h.deriveSamplingParams(req)
	genReq := h.engineRequest(req, params, dparams)

	stream := newChunkStream(16)
	go func() {
		runErr := h.run(ctx, req, rc, params, genReq, stream)
		if runErr != nil {
			logger.Error(runErr, "generation failed")
		}
		recordResult(h.mode, runErr)
		stream.close(runErr)
	}()
	return stream, nil
}

func (h *DecodeHandler) run(
	ctx context.Context,
	req *protocol.Request,
	rc Context,
	params *engine.SamplingParams,
	genReq *engine.GenerateRequest,
	stream *chunkStream,
) error {
	logger := log.FromContext(ctx)

	if h.mode == ModeDecode {
		info, err := h.prefill.Generate(ctx, &protocol.DisaggRequest{
			Request:        req,
			SamplingParams: params.ToMap(),
		}, rc)
		if err != nil {
			return fmt.Errorf("prefill rendezvous failed: %w", err)
		}
		if info == nil {
			return ErrMissingBootstrapInfo
		}

		if cancelled(rc) {
			logger.V(logutil.DEBUG).Info("aborted request before engine dispatch")
			return nil
		}

		genReq.BootstrapHost = info.Host
		genReq.BootstrapPort = info.Port
		genReq.BootstrapRoom = info.Room
	}

	results, err := h.engine.Generate(ctx, genReq)
	if err != nil {
		return fmt.Errorf("engine call failed: %w", err)
	}
	return h.streamEngineOutput(ctx, results, rc, h.newChunker(), stream.emitter(rc))
}

// Close releases the handler's engine if it owns a closable one.
func (h *DecodeHandler) Close() error {
	if c, ok := h.engine.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
