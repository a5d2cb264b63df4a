/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

// Package worker implements the request-handoff and streaming-coordination
// layer of a disaggregated inference worker: the handlers that validate and
// dispatch generation requests, the chunkers that turn cumulative engine
// output into incremental protocol chunks, the per-request cancellation
// monitor, and the KV transfer metric derivation.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"sigs.k8s.io/controller-runtime/pkg/log"
	logutil "sigs.k8s.io/gateway-api-inference-extension/pkg/epp/util/logging"

	"github.com/aschilling-nv/dynamo/pkg/disagg"
	"github.com/aschilling-nv/dynamo/pkg/engine"
	"github.com/aschilling-nv/dynamo/pkg/logitsproc"
	"github.com/aschilling-nv/dynamo/pkg/metrics"
	"github.com/aschilling-nv/dynamo/pkg/protocol"
	"github.com/aschilling-nv/dynamo/pkg/publisher"
)

// DisaggregationMode selects the serving role of a worker process.
type DisaggregationMode string

// Serving modes.
const (
	ModeAggregated DisaggregationMode = "prefill_and_decode"
	ModePrefill    DisaggregationMode = "prefill"
	ModeDecode     DisaggregationMode = "decode"
	ModeEncode     DisaggregationMode = "encode"
)

// DisaggregationStrategy selects which stage drives the rendezvous.
type DisaggregationStrategy string

// Rendezvous strategies.
const (
	StrategyPrefillFirst DisaggregationStrategy = "prefill_first"
	StrategyDecodeFirst  DisaggregationStrategy = "decode_first"
)

// EnableTestLogitsProcessorEnvVar attaches the deterministic test logits
// processor to every request's sampling parameters when set to "1".
// Test-only; not part of the production contract.
const EnableTestLogitsProcessorEnvVar = "DYNAMO_ENABLE_TEST_LOGITS_PROCESSOR"

// Config wires a handler's collaborators.
type Config struct {
	Engine                engine.Engine
	DefaultSamplingParams *engine.SamplingParams
	Publisher             publisher.Publisher
	Mode                  DisaggregationMode
	Strategy              DisaggregationStrategy

	// PrefillClient reaches the paired prefill worker. Required in decode
	// mode.
	PrefillClient PrefillClient

	// ServedModelName is stamped onto text-mode chunk envelopes.
	ServedModelName string

	// BootstrapHost and BootstrapPort advertise the KV transfer endpoint a
	// paired decode worker must connect to. Prefill mode only.
	BootstrapHost string
	BootstrapPort int

	// SkipTokenizerInit selects raw token-id output instead of chat
	// completion deltas.
	SkipTokenizerInit bool
}

// handlerBase holds the state and logic shared by the handler variants.
type handlerBase struct {
	engine            engine.Engine
	defaults          *engine.SamplingParams
	publisher         publisher.Publisher
	mode              DisaggregationMode
	strategy          DisaggregationStrategy
	servedModelName   string
	skipTokenizerInit bool

	// publisherStarted guards the lazy publisher start. Engine statistics
	// only exist once the first token has been produced, so the publisher
	// starts on the first generation. A benign double-start race is
	// tolerated; Start is idempotent.
	publisherStarted atomic.Bool
}

func newHandlerBase(cfg Config) (*handlerBase, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}
	switch cfg.Strategy {
	case "", StrategyPrefillFirst, StrategyDecodeFirst:
	default:
		return nil, fmt.Errorf("unsupported disaggregation strategy: %q", cfg.Strategy)
	}
	defaults := cfg.DefaultSamplingParams
	if defaults == nil {
		defaults = &engine.SamplingParams{}
	}
	return &handlerBase{
		engine:            cfg.Engine,
		defaults:          defaults,
		publisher:         cfg.Publisher,
		mode:              cfg.Mode,
		strategy:          cfg.Strategy,
		servedModelName:   cfg.ServedModelName,
		skipTokenizerInit: cfg.SkipTokenizerInit,
	}, nil
}

// checkPublisher surfaces a queued publisher error as a request failure
// before any engine call is issued.
func (h *handlerBase) checkPublisher() error {
	if h.publisher == nil {
		return nil
	}
	if err := h.publisher.CheckErrorQueue(); err != nil {
		return fmt.Errorf("publisher reported an error: %w", err)
	}
	return nil
}

// deriveDisagg validates and derives the disaggregated parameters for the
// handler's mode. Prefill synthesizes context_only params and rejects
// caller-supplied ones; decode requires them and overwrites the type to
// generation_only.
func (h *handlerBase) deriveDisagg(req *protocol.Request) (*disagg.Params, error) {
	var params *disagg.Params

	if h.mode == ModePrefill {
		if req.Disagg != nil {
			return nil, fmt.Errorf("%w: cannot provide disaggregated_params in prefill mode", ErrInvalidRequest)
		}
		params = &disagg.Params{RequestType: protocol.RequestTypeContextOnly}
	}

	if req.Disagg != nil {
		decoded, err := disagg.Decode(req.Disagg)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, err)
		}
		decoded.RequestType = protocol.RequestTypeGenerationOnly
		params = decoded
	}

	if h.mode == ModeDecode && params == nil {
		return nil, fmt.Errorf("%w: disaggregated_params are required for decode mode", ErrInvalidRequest)
	}
	return params, nil
}

// deriveSamplingParams merges caller-supplied options onto the handler's
// defaults. Only present fields override; stop conditions apply last.
func (h *handlerBase) deriveSamplingParams(req *protocol.Request) *engine.SamplingParams {
	params := h.defaults.Clone()

	if v := req.SamplingOptions.Temperature; v != nil {
		params.Temperature = *v
	}
	if v := req.SamplingOptions.TopP; v != nil {
		params.TopP = *v
	}
	if v := req.SamplingOptions.TopK; v != nil {
		params.TopK = *v
	}

	if v := req.StopConditions.MaxTokens; v != nil {
		params.MaxTokens = *v
	}
	if v := req.StopConditions.MinTokens; v != nil {
		params.MinTokens = *v
	}
	if v := req.StopConditions.IgnoreEOS; v != nil {
		params.IgnoreEOS = *v
	}
	if len(req.StopConditions.Stop) > 0 {
		params.Stop = append([]string(nil), req.StopConditions.Stop...)
	}

	if os.Getenv(EnableTestLogitsProcessorEnvVar) == "1" {
		params.LogitsProcessors = append(params.LogitsProcessors, logitsproc.TestProcessor())
	}
	return params
}

// engineRequest builds the finalized engine input for one call.
func (h *handlerBase) engineRequest(req *protocol.Request, params *engine.SamplingParams, dparams *disagg.Params) *engine.GenerateRequest {
	out := &engine.GenerateRequest{
		SamplingParams: params,
		Disagg:         dparams,
		// Prefill produces a single token; nothing to stream.
		Streaming: h.mode != ModePrefill,
	}
	if h.skipTokenizerInit {
		out.TokenIDs = req.TokenIDs
	} else if req.Prompt != "" {
		out.Prompt = req.Prompt
	} else {
		out.Messages = req.Messages
	}
	return out
}

// newChunker selects the output shape for one request.
func (h *handlerBase) newChunker() chunker {
	if h.skipTokenizerInit {
		return &tokenChunker{includeDisagg: h.mode == ModePrefill}
	}
	return newTextChunker(h.servedModelName)
}

// ensurePublisherStarted lazily starts the publisher on the first generated
// token.
func (h *handlerBase) ensurePublisherStarted(ctx context.Context) {
	if h.publisher == nil {
		return
	}
	if h.publisherStarted.CompareAndSwap(false, true) {
		if err := h.publisher.Start(); err != nil {
			log.FromContext(ctx).Error(err, "failed to start publisher")
		}
	}
}

func cancelled(rc Context) bool {
	return rc != nil && (rc.IsStopped() || rc.IsKilled())
}

// streamEngineOutput drives one engine call to completion: it lazily starts
// the cancellation monitor once the engine request id is known, checks for
// cancellation before every emitted chunk, converts snapshots through the
// chunker and emits the terminal chunk. The monitor is joined on every exit
// path.
func (h *handlerBase) streamEngineOutput(
	ctx context.Context,
	results engine.ResultStream,
	rc Context,
	ck chunker,
	emit func(*protocol.ResponseChunk),
) (err error) {
	logger := log.FromContext(ctx)

	var monitor *cancellationMonitor
	defer func() {
		if monitor != nil {
			monitor.stop()
		}
	}()

	for {
		snap, recvErr := results.Recv(ctx)
		if recvErr != nil {
			if errors.Is(recvErr, io.EOF) {
				return nil
			}
			return recvErr
		}

		if monitor == nil && rc != nil && snap.RequestID != "" {
			monitor = startCancellationMonitor(ctx, h.engine, snap.RequestID, rc)
		}

		if cancelled(rc) {
			logger.V(logutil.DEBUG).Info("aborted request", "contextID", rc.ID())
			return nil
		}

		h.ensurePublisherStarted(ctx)

		// Completion: a final chunk with finish_reason=stop closes the
		// stream. Prefill streams carry no terminal chunk; the background
		// consumer just drains.
		if snap.Finished && h.mode != ModePrefill {
			if pending, ok := ck.flush(snap); ok {
				emit(pending)
			}
			final := ck.final(snap, protocol.FinishReasonStop)
			if len(snap.Outputs) > 0 {
				out := snap.Outputs[0]
				if out.PerfMetrics != nil {
					h.publishKvPerf(logger, out.PerfMetrics)
				}
				if out.Disagg != nil {
					final.CtxRequestID = out.Disagg.CtxRequestID
				}
			}
			emit(final)
			return nil
		}

		// A snapshot with no candidates at all is the engine's only way of
		// signaling an internal failure to this layer.
		if len(snap.Outputs) == 0 {
			emit(ck.final(snap, protocol.FinishReasonError))
			return nil
		}

		chunk, chunkErr := ck.chunk(snap)
		if chunkErr != nil {
			return chunkErr
		}
		emit(chunk)
	}
}

func recordResult(mode DisaggregationMode, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.RequestCount.WithLabelValues(string(mode), result).Inc()
}
