/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

// Package engine defines the boundary to the underlying inference engine.
// The engine itself is an external collaborator: it tokenizes, samples and
// runs the model. This package only shapes its asynchronous output into a
// common snapshot form, with backend-specific decoders for the payload
// formats the supported engines produce.
package engine

import (
	"context"

	"github.com/aschilling-nv/dynamo/pkg/disagg"
	"github.com/aschilling-nv/dynamo/pkg/protocol"
)

// LogitsProcessor biases token logits in place before sampling. Only used by
// the test-only injection path.
type LogitsProcessor func(tokenIDs []int, logits []float32)

// SamplingParams is the engine-facing parameter set for one call. A handler
// owns a default set and merges caller-supplied options on top per request.
type SamplingParams struct {
	Temperature float64
	TopP        float64
	TopK        int
	MaxTokens   int
	MinTokens   int
	Stop        []string
	IgnoreEOS   bool

	LogitsProcessors []LogitsProcessor
}

// Clone returns a copy the caller may mutate without affecting the defaults.
func (p *SamplingParams) Clone() *SamplingParams {
	out := *p
	out.Stop = append([]string(nil), p.Stop...)
	out.LogitsProcessors = append([]LogitsProcessor(nil), p.LogitsProcessors...)
	return &out
}

// ToMap renders the parameters in the wire form sent to a paired worker.
func (p *SamplingParams) ToMap() map[string]any {
	m := map[string]any{
		"temperature": p.Temperature,
		"top_p":       p.TopP,
		"top_k":       p.TopK,
		"max_tokens":  p.MaxTokens,
	}
	if p.MinTokens > 0 {
		m["min_tokens"] = p.MinTokens
	}
	if p.IgnoreEOS {
		m["ignore_eos"] = true
	}
	if len(p.Stop) > 0 {
		m["stop"] = p.Stop
	}
	return m
}

// GenerateRequest is the finalized input for one engine call.
type GenerateRequest struct {
	// Exactly one of TokenIDs, Prompt or Messages is set.
	TokenIDs []int
	Prompt   string
	Messages []protocol.Message

	SamplingParams *SamplingParams
	Disagg         *disagg.Params
	Streaming      bool

	// Rendezvous descriptor for disaggregated KV transfer, zero-valued when
	// serving aggregated.
	BootstrapHost string
	BootstrapPort int
	BootstrapRoom int64
}

// RequestPerfMetrics carries KV transfer timing attached by the engine to a
// finished request. Times are seconds since an engine-internal epoch.
type RequestPerfMetrics struct {
	KvCacheSize     int64
	KvTransferStart float64
	KvTransferEnd   float64
	FirstTokenTime  float64
}

// Output is one candidate of a snapshot. TokenIDs and Text are cumulative:
// the engine repeats everything produced so far on every iteration.
type Output struct {
	TokenIDs     []int
	Text         string
	FinishReason string
	StopReason   string
	Disagg       *disagg.Params
	PerfMetrics  *RequestPerfMetrics
}

// Snapshot is one cumulative result the engine streams while a request is in
// flight. RequestID is the engine-internal id, usable with Abort.
type Snapshot struct {
	RequestID string
	Finished  bool
	Outputs   []Output
}

// ResultStream yields snapshots for one engine call. Recv returns io.EOF
// once the engine has delivered its last snapshot. Streams are not
// restartable and not safe for concurrent Recv.
type ResultStream interface {
	Recv(ctx context.Context) (*Snapshot, error)
}

// Engine is the single generate contract all backends satisfy.
type Engine interface {
	// Generate issues one inference call. Exactly one live call may exist
	// per logical request and stage.
	Generate(ctx context.Context, req *GenerateRequest) (ResultStream, error)

	// Abort requests best-effort cancellation of the in-flight call
	// identified by the engine-internal request id.
	Abort(ctx context.Context, requestID string) error
}
